package util

import (
	"context"
	"hastebin/metrics"
	"math/rand/v2"
	"sync"

	"github.com/pkg/errors"
)

const (
	DefaultKeyLength = 4
	MaxKeyLength     = 7
	ctxCheckEvery    = 1024
)

type IDSet map[int64]struct{}

func NewIDSet(ids ...int64) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}
func (s IDSet) Has(id int64) bool {
	_, ok := s[id]
	return ok
}
func (s IDSet) Add(id int64) {
	s[id] = struct{}{}
}

// Source draws uniformly from [0, n).
type Source interface {
	Int64N(n int64) int64
}

type globalSource struct{}

func (globalSource) Int64N(n int64) int64 { return rand.Int64N(n) }

type lockedSource struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (s *lockedSource) Int64N(n int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Int64N(n)
}

func NewSeededSource(seed uint64) Source {
	return &lockedSource{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

type Allocator struct {
	src      Source
	keyLen   int
	primary  int64
	fallback int64
}

func NewAllocator(keyLen int, src Source) (*Allocator, error) {
	if keyLen < 1 || keyLen > MaxKeyLength {
		return nil, errors.Errorf("key length must be between 1 and %d, got %d", MaxKeyLength, keyLen)
	}
	if src == nil {
		src = globalSource{}
	}
	primary := pow16(keyLen)
	return &Allocator{
		src:      src,
		keyLen:   keyLen,
		primary:  primary,
		fallback: primary * primary,
	}, nil
}
func pow16(n int) int64 {
	v := int64(1)
	for i := 0; i < n; i++ {
		v *= 16
	}
	return v
}
func (a *Allocator) KeyLength() int       { return a.keyLen }
func (a *Allocator) PrimarySpace() int64  { return a.primary }
func (a *Allocator) FallbackSpace() int64 { return a.fallback }

// Allocate returns an id absent from existing. It makes PrimarySpace draws from the
// primary space and then draws from the fallback space until one misses, checking ctx
// between batches of draws.
func (a *Allocator) Allocate(ctx context.Context, existing IDSet) (int64, error) {
	var collisions int64
	defer func() {
		if collisions > 0 {
			metrics.IDCollisions.Add(float64(collisions))
		}
	}()
	for i := int64(0); i < a.primary; i++ {
		candidate := a.src.Int64N(a.primary)
		if !existing.Has(candidate) {
			return candidate, nil
		}
		collisions++
	}
	metrics.IDFallbacks.Inc()
	Warn().
		Int("key_length", a.keyLen).
		Int("existing", len(existing)).
		Msg("primary key space exhausted, drawing from fallback space")
	for i := 0; ; i++ {
		if i%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return 0, errors.Wrap(err, "fallback allocation")
			}
		}
		candidate := a.src.Int64N(a.fallback)
		if !existing.Has(candidate) {
			return candidate, nil
		}
		collisions++
	}
}
