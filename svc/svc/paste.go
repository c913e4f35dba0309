package svc

import (
	"context"
	"hastebin/cfg"
	"hastebin/metrics"
	"hastebin/pkg/domain"
	"hastebin/svc/cache"
	"hastebin/svc/db"
	"hastebin/svc/util"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

var ErrShuttingDown = errors.New("service shutting down")

// Store is the persistence the paste service needs. db.SQL implements it.
type Store interface {
	IDs(ctx context.Context) (util.IDSet, error)
	Create(ctx context.Context, p *domain.Paste) error
	Get(ctx context.Context, id int64) (*domain.Paste, error)
	IncrViews(ctx context.Context, id int64) (int64, error)
}

type Paste struct {
	store    Store
	lru      *cache.LRU
	rdb      *db.Redis
	alloc    *util.Allocator
	cfg      *cfg.Cfg
	now      func() time.Time
	group    singleflight.Group
	shutdown atomic.Bool
	opMu     sync.RWMutex
	opWg     sync.WaitGroup
}

// NewPaste wires the service. lru and rdb are optional.
func NewPaste(store Store, lru *cache.LRU, rdb *db.Redis, alloc *util.Allocator, c *cfg.Cfg) *Paste {
	if store == nil || alloc == nil || c == nil {
		panic("paste service: nil dependency (store, allocator, or cfg)")
	}
	return &Paste{
		store: store,
		lru:   lru,
		rdb:   rdb,
		alloc: alloc,
		cfg:   c,
		now:   time.Now,
	}
}

// SetClock replaces the creation time source.
func (p *Paste) SetClock(now func() time.Time) {
	p.now = now
}
func (p *Paste) Shutdown() {
	p.opMu.Lock()
	p.shutdown.Store(true)
	p.opMu.Unlock()
	done := make(chan struct{})
	go func() {
		p.opWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		util.Warn().Msg("paste operations didn't finish in time")
	}
	util.Debug().Msg("paste service shutdown complete")
}

// begin registers an operation unless shutdown has started.
func (p *Paste) begin() error {
	p.opMu.RLock()
	defer p.opMu.RUnlock()
	if p.shutdown.Load() {
		return ErrShuttingDown
	}
	p.opWg.Add(1)
	return nil
}

// Create stores a new paste under a freshly allocated id and returns it. A duplicate id
// at insert time is retried up to CreateRetries times with a new snapshot.
func (p *Paste) Create(ctx context.Context, params domain.CreateParams) (*domain.Paste, error) {
	if err := p.begin(); err != nil {
		return nil, err
	}
	defer p.opWg.Done()
	if params.Content == nil {
		params.Content = domain.Content{}
	}
	var err error
	for attempt := 0; attempt <= p.cfg.CreateRetries; attempt++ {
		var paste *domain.Paste
		paste, err = p.create(ctx, params)
		if err == nil {
			metrics.PasteCreated.Inc()
			return paste, nil
		}
		if !errors.Is(err, domain.ErrDuplicateID) {
			return nil, err
		}
		metrics.DuplicateInserts.Inc()
		util.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_retries", p.cfg.CreateRetries).
			Msg("id taken between snapshot and insert")
	}
	return nil, err
}
func (p *Paste) create(ctx context.Context, params domain.CreateParams) (*domain.Paste, error) {
	ids, err := p.store.IDs(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "read existing ids")
	}
	allocCtx := ctx
	if p.cfg.AllocTimeout > 0 {
		var cancel context.CancelFunc
		allocCtx, cancel = context.WithTimeout(ctx, p.cfg.AllocTimeout)
		defer cancel()
	}
	id, err := p.alloc.Allocate(allocCtx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "allocate id")
	}
	paste := &domain.Paste{
		ID:        id,
		Content:   params.Content,
		Signature: params.Signature,
		Views:     0,
		Timestamp: p.now().Unix(),
	}
	if err := p.store.Create(ctx, paste); err != nil {
		return nil, errors.Wrap(err, "create paste")
	}
	if p.lru != nil {
		p.lru.Set(paste)
	}
	if p.rdb != nil {
		if err := p.rdb.CachePaste(ctx, paste); err != nil {
			util.Warn().Err(err).Int64("id", id).Msg("failed to cache in Redis")
		}
	}
	return paste, nil
}

// Fetch returns the paste with its view count already incremented, or nil when no
// paste has that id. A missing id changes nothing.
func (p *Paste) Fetch(ctx context.Context, id int64) (*domain.Paste, error) {
	if err := p.begin(); err != nil {
		return nil, err
	}
	defer p.opWg.Done()
	body, err := p.body(ctx, id)
	if errors.Is(err, domain.ErrPasteNotFound) {
		metrics.PasteNotFound.Inc()
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get paste")
	}
	views, err := p.store.IncrViews(ctx, id)
	if errors.Is(err, domain.ErrPasteNotFound) {
		metrics.PasteNotFound.Inc()
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "incr views")
	}
	out := body.Body()
	out.Views = views
	metrics.PasteFetched.Inc()
	return out, nil
}

// body resolves the immutable part of a paste: LRU, then Redis, then the store.
func (p *Paste) body(ctx context.Context, id int64) (*domain.Paste, error) {
	if p.lru != nil {
		if b := p.lru.Get(ctx, id); b != nil {
			metrics.CacheHits.WithLabelValues("lru").Inc()
			return b, nil
		}
		metrics.CacheMisses.WithLabelValues("lru").Inc()
	}
	// The fill is shared by every caller waiting on id and runs detached from any one
	// of them. Store and Redis calls carry their own timeouts.
	fillCtx := context.WithoutCancel(ctx)
	ch := p.group.DoChan(strconv.FormatInt(id, 10), func() (interface{}, error) {
		if p.rdb != nil {
			b, err := p.rdb.GetPaste(fillCtx, id)
			switch {
			case err != nil:
				util.Warn().Err(err).Int64("id", id).Msg("redis lookup failed, falling back to database")
			case b != nil:
				metrics.CacheHits.WithLabelValues("redis").Inc()
				if p.lru != nil {
					p.lru.Set(b)
				}
				return b, nil
			default:
				metrics.CacheMisses.WithLabelValues("redis").Inc()
			}
		}
		stored, err := p.store.Get(fillCtx, id)
		if err != nil {
			return nil, err
		}
		b := stored.Body()
		if p.lru != nil {
			p.lru.Set(b)
		}
		if p.rdb != nil {
			if err := p.rdb.CachePaste(fillCtx, b); err != nil {
				util.Warn().Err(err).Int64("id", id).Msg("failed to cache in Redis")
			}
		}
		return b, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.Paste), nil
	}
}
