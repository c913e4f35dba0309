package svc

import (
	"context"
	"hastebin/cfg"
	"hastebin/pkg/domain"
	"hastebin/svc/cache"
	"hastebin/svc/db"
	"hastebin/svc/util"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func testCfg() *cfg.Cfg {
	return &cfg.Cfg{
		KeyLength:    util.DefaultKeyLength,
		AllocTimeout: 5 * time.Second,
		CacheTTL:     time.Minute,
	}
}
func newTestStore(t *testing.T) *db.SQL {
	t.Helper()
	s, err := db.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}
func newTestService(t *testing.T, store Store, keyLen int, c *cfg.Cfg) *Paste {
	t.Helper()
	alloc, err := util.NewAllocator(keyLen, util.NewSeededSource(42))
	require.NoError(t, err)
	lru, err := cache.NewLRU(100, time.Minute)
	require.NoError(t, err)
	p := NewPaste(store, lru, nil, alloc, c)
	t.Cleanup(p.Shutdown)
	return p
}
func sampleParams() domain.CreateParams {
	return domain.CreateParams{
		Content:   domain.Content{domain.NewPair("a", "1"), domain.NewPair("b", "2")},
		Signature: "sig1",
	}
}

func TestCreateFetchScenario(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store, util.DefaultKeyLength, testCfg())
	svc.SetClock(func() time.Time { return time.Unix(1700000000, 0) })
	ctx := context.Background()

	created, err := svc.Create(ctx, sampleParams())
	require.NoError(t, err)
	require.GreaterOrEqual(t, created.ID, int64(0))
	require.Less(t, created.ID, int64(65536))
	require.Equal(t, int64(0), created.Views)

	first, err := svc.Fetch(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Equal(t, int64(1), first.Views)
	require.Equal(t, "sig1", first.Signature)
	require.Equal(t, int64(1700000000), first.Timestamp)
	require.True(t, sampleParams().Content.Equal(first.Content))

	second, err := svc.Fetch(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), second.Views)

	missing, err := svc.Fetch(ctx, 999999)
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestCreateUniqueIDs(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store, 2, testCfg())
	ctx := context.Background()
	seen := map[int64]bool{}
	for i := 0; i < 200; i++ {
		p, err := svc.Create(ctx, sampleParams())
		require.NoError(t, err)
		require.False(t, seen[p.ID], "id %d handed out twice", p.ID)
		seen[p.ID] = true
	}
	ids, err := store.IDs(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 200)
}

func TestContentRoundTripThroughService(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store, util.DefaultKeyLength, testCfg())
	ctx := context.Background()
	for _, content := range []domain.Content{
		{},
		{domain.NewPair("only", "one")},
		{domain.NewPair("k", "1"), domain.NewPair("k", "2"), domain.NewPair("k", "1")},
	} {
		p, err := svc.Create(ctx, domain.CreateParams{Content: content, Signature: ""})
		require.NoError(t, err)
		got, err := svc.Fetch(ctx, p.ID)
		require.NoError(t, err)
		require.True(t, content.Equal(got.Content), "got %v, want %v", got.Content, content)
	}
}

func TestCreateNilContentStoresEmpty(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store, util.DefaultKeyLength, testCfg())
	p, err := svc.Create(context.Background(), domain.CreateParams{Signature: "s"})
	require.NoError(t, err)
	got, err := svc.Fetch(context.Background(), p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Content)
	require.Empty(t, got.Content)
}

func TestViewsMonotonic(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store, util.DefaultKeyLength, testCfg())
	ctx := context.Background()
	p, err := svc.Create(ctx, sampleParams())
	require.NoError(t, err)
	for want := int64(1); want <= 10; want++ {
		got, err := svc.Fetch(ctx, p.ID)
		require.NoError(t, err)
		require.Equal(t, want, got.Views)
	}
}

func TestConcurrentFetchCountsEveryView(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store, util.DefaultKeyLength, testCfg())
	ctx := context.Background()
	p, err := svc.Create(ctx, sampleParams())
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	views := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := svc.Fetch(ctx, p.ID)
			if err == nil && got != nil {
				views <- got.Views
			}
		}()
	}
	wg.Wait()
	close(views)
	seen := map[int64]bool{}
	for v := range views {
		require.False(t, seen[v], "view count %d returned twice", v)
		seen[v] = true
	}
	require.Len(t, seen, n)
	stored, err := store.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, int64(n), stored.Views)
}

func TestFetchMissingChangesNothing(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store, util.DefaultKeyLength, testCfg())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		got, err := svc.Fetch(ctx, 999999)
		require.NoError(t, err)
		require.Nil(t, got)
	}
	ids, err := store.IDs(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestCreateFallsBackWhenKeySpaceFull(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for id := int64(0); id < 16; id++ {
		require.NoError(t, store.Create(ctx, &domain.Paste{ID: id, Content: domain.Content{}}))
	}
	svc := newTestService(t, store, 1, testCfg())
	p, err := svc.Create(ctx, sampleParams())
	require.NoError(t, err)
	require.GreaterOrEqual(t, p.ID, int64(16))
	require.Less(t, p.ID, int64(256))
}

// racingStore inserts a competing paste under the allocated id right before the
// first n inserts, as a concurrent writer would.
type racingStore struct {
	*db.SQL
	races int32
}

func (s *racingStore) Create(ctx context.Context, p *domain.Paste) error {
	if atomic.AddInt32(&s.races, -1) >= 0 {
		if err := s.SQL.Create(ctx, &domain.Paste{ID: p.ID, Content: domain.Content{}}); err != nil {
			return err
		}
	}
	return s.SQL.Create(ctx, p)
}

func TestDuplicateIDFailsFastByDefault(t *testing.T) {
	store := &racingStore{SQL: newTestStore(t), races: 1}
	svc := newTestService(t, store, util.DefaultKeyLength, testCfg())
	_, err := svc.Create(context.Background(), sampleParams())
	require.Error(t, err)
	require.True(t, errors.Is(err, domain.ErrDuplicateID))
}

func TestDuplicateIDRetried(t *testing.T) {
	store := &racingStore{SQL: newTestStore(t), races: 2}
	c := testCfg()
	c.CreateRetries = 2
	svc := newTestService(t, store, util.DefaultKeyLength, c)
	p, err := svc.Create(context.Background(), sampleParams())
	require.NoError(t, err)
	got, err := svc.Fetch(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, "sig1", got.Signature)
}

type failingStore struct {
	*db.SQL
	idsErr  error
	incrErr error
}

func (s *failingStore) IDs(ctx context.Context) (util.IDSet, error) {
	if s.idsErr != nil {
		return nil, s.idsErr
	}
	return s.SQL.IDs(ctx)
}
func (s *failingStore) IncrViews(ctx context.Context, id int64) (int64, error) {
	if s.incrErr != nil {
		return 0, s.incrErr
	}
	return s.SQL.IncrViews(ctx, id)
}

func TestCreatePropagatesStoreErrors(t *testing.T) {
	boom := errors.New("connection reset")
	store := &failingStore{SQL: newTestStore(t), idsErr: boom}
	svc := newTestService(t, store, util.DefaultKeyLength, testCfg())
	_, err := svc.Create(context.Background(), sampleParams())
	require.Error(t, err)
	require.Equal(t, boom, errors.Cause(err))
}

func TestFetchIncrementFailureReturnsNoRecord(t *testing.T) {
	store := &failingStore{SQL: newTestStore(t)}
	svc := newTestService(t, store, util.DefaultKeyLength, testCfg())
	p, err := svc.Create(context.Background(), sampleParams())
	require.NoError(t, err)

	store.incrErr = errors.New("disk I/O error")
	got, err := svc.Fetch(context.Background(), p.ID)
	require.Error(t, err)
	require.Nil(t, got)
}

// countingStore counts reads of full records.
type countingStore struct {
	*db.SQL
	gets int32
}

func (s *countingStore) Get(ctx context.Context, id int64) (*domain.Paste, error) {
	atomic.AddInt32(&s.gets, 1)
	return s.SQL.Get(ctx, id)
}

func TestFetchReadsBodyFromRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := db.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Second, time.Minute)
	t.Cleanup(func() { rdb.Close() })
	store := &countingStore{SQL: newTestStore(t)}
	alloc, err := util.NewAllocator(util.DefaultKeyLength, nil)
	require.NoError(t, err)
	ctx := context.Background()

	writer := NewPaste(store, nil, rdb, alloc, testCfg())
	p, err := writer.Create(ctx, sampleParams())
	require.NoError(t, err)
	require.True(t, mr.Exists("paste:"+strconv.FormatInt(p.ID, 10)))

	reader := NewPaste(store, nil, rdb, alloc, testCfg())
	for want := int64(1); want <= 3; want++ {
		got, err := reader.Fetch(ctx, p.ID)
		require.NoError(t, err)
		require.Equal(t, want, got.Views)
		require.Equal(t, "sig1", got.Signature)
	}
	require.Equal(t, int32(0), atomic.LoadInt32(&store.gets))
}

func TestFetchSurvivesRedisOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := db.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}), 200*time.Millisecond, time.Minute)
	t.Cleanup(func() { rdb.Close() })
	store := newTestStore(t)
	alloc, err := util.NewAllocator(util.DefaultKeyLength, nil)
	require.NoError(t, err)
	svc := NewPaste(store, nil, rdb, alloc, testCfg())
	ctx := context.Background()

	p, err := svc.Create(ctx, sampleParams())
	require.NoError(t, err)
	mr.Close()
	got, err := svc.Fetch(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), got.Views)
}

func TestShutdownRejectsNewOperations(t *testing.T) {
	svc := newTestService(t, newTestStore(t), util.DefaultKeyLength, testCfg())
	svc.Shutdown()
	_, err := svc.Create(context.Background(), sampleParams())
	require.ErrorIs(t, err, ErrShuttingDown)
	_, err = svc.Fetch(context.Background(), 1)
	require.ErrorIs(t, err, ErrShuttingDown)
}

// gatedStore holds every Get until release is closed or the caller's ctx ends.
type gatedStore struct {
	*db.SQL
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) Get(ctx context.Context, id int64) (*domain.Paste, error) {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.SQL.Get(ctx, id)
}

func TestFetchSharedFillSurvivesFirstCallerCancel(t *testing.T) {
	store := &gatedStore{
		SQL:     newTestStore(t),
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	ctx := context.Background()
	p := &domain.Paste{ID: 77, Content: domain.Content{domain.NewPair("a", "1")}, Signature: "sig1"}
	require.NoError(t, store.SQL.Create(ctx, p))
	alloc, err := util.NewAllocator(util.DefaultKeyLength, nil)
	require.NoError(t, err)
	svc := NewPaste(store, nil, nil, alloc, testCfg())

	ctxA, cancelA := context.WithCancel(ctx)
	errA := make(chan error, 1)
	go func() {
		_, err := svc.Fetch(ctxA, 77)
		errA <- err
	}()
	<-store.entered

	type result struct {
		paste *domain.Paste
		err   error
	}
	resB := make(chan result, 1)
	go func() {
		got, err := svc.Fetch(ctx, 77)
		resB <- result{got, err}
	}()
	time.Sleep(50 * time.Millisecond)
	cancelA()
	require.ErrorIs(t, <-errA, context.Canceled)

	close(store.release)
	b := <-resB
	require.NoError(t, b.err)
	require.NotNil(t, b.paste)
	require.Equal(t, "sig1", b.paste.Signature)
	require.Equal(t, int64(1), b.paste.Views)
}

func TestFetchedContentIsNotShared(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store, util.DefaultKeyLength, testCfg())
	ctx := context.Background()
	p, err := svc.Create(ctx, sampleParams())
	require.NoError(t, err)
	p.Content[0] = domain.NewPair("created", "mutated")

	for i := 0; i < 2; i++ {
		got, err := svc.Fetch(ctx, p.ID)
		require.NoError(t, err)
		require.True(t, sampleParams().Content.Equal(got.Content), "got %v", got.Content)
		got.Content[0] = domain.NewPair("fetched", "mutated")
	}
}

func TestShutdownDuringFetches(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store, util.DefaultKeyLength, testCfg())
	ctx := context.Background()
	p, err := svc.Create(ctx, sampleParams())
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 400)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := svc.Fetch(ctx, p.ID); err != nil {
					errs <- err
				}
			}
		}()
	}
	time.Sleep(5 * time.Millisecond)
	svc.Shutdown()
	wg.Wait()
	close(errs)
	for err := range errs {
		require.ErrorIs(t, err, ErrShuttingDown)
	}
	_, err = svc.Fetch(ctx, p.ID)
	require.ErrorIs(t, err, ErrShuttingDown)
}
