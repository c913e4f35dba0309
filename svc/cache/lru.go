package cache

import (
	"context"
	"errors"
	"hastebin/pkg/domain"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRU keeps paste bodies in process. Views are not cached.
type LRU struct {
	c   *lru.Cache[int64, item]
	ttl time.Duration
	mu  sync.Mutex
}
type item struct {
	paste *domain.Paste
	exp   time.Time
}

func NewLRU(size int, ttl time.Duration) (*LRU, error) {
	if size <= 0 {
		return nil, errors.New("cache size must be positive")
	}
	if size > 100000 {
		return nil, errors.New("cache size too large")
	}
	if ttl <= 0 {
		return nil, errors.New("cache ttl must be positive")
	}
	c, err := lru.New[int64, item](size)
	if err != nil {
		return nil, err
	}
	return &LRU{c: c, ttl: ttl}, nil
}
func (l *LRU) Get(ctx context.Context, id int64) *domain.Paste {
	select {
	case <-ctx.Done():
		return nil
	default:
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	it, ok := l.c.Get(id)
	if !ok {
		return nil
	}
	if time.Now().After(it.exp) {
		l.c.Remove(id)
		return nil
	}
	return it.paste.Body()
}
func (l *LRU) Set(p *domain.Paste) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.c.Add(p.ID, item{
		paste: p.Body(),
		exp:   time.Now().Add(l.ttl),
	})
}
func (l *LRU) Len() int {
	return l.c.Len()
}
