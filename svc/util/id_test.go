package util

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// scriptedSource replays draws and then repeats the last one.
type scriptedSource struct {
	draws []int64
	calls int
	sizes []int64
}

func (s *scriptedSource) Int64N(n int64) int64 {
	s.sizes = append(s.sizes, n)
	i := s.calls
	if i >= len(s.draws) {
		i = len(s.draws) - 1
	}
	s.calls++
	return s.draws[i]
}

func TestNewAllocatorKeyLength(t *testing.T) {
	for _, l := range []int{0, -1, 8} {
		_, err := NewAllocator(l, nil)
		require.Error(t, err, "key length %d", l)
	}
	a, err := NewAllocator(DefaultKeyLength, nil)
	require.NoError(t, err)
	require.Equal(t, int64(65536), a.PrimarySpace())
	require.Equal(t, int64(65536*65536), a.FallbackSpace())

	a, err = NewAllocator(MaxKeyLength, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1)<<56, a.FallbackSpace())
}

func TestAllocateSkipsCollisions(t *testing.T) {
	src := &scriptedSource{draws: []int64{3, 7, 3, 9}}
	a, err := NewAllocator(1, src)
	require.NoError(t, err)

	id, err := a.Allocate(context.Background(), NewIDSet(3, 7))
	require.NoError(t, err)
	require.Equal(t, int64(9), id)
	require.Equal(t, 4, src.calls)
	for _, n := range src.sizes {
		require.Equal(t, int64(16), n)
	}
}

func TestAllocateEmptySetTakesFirstDraw(t *testing.T) {
	src := &scriptedSource{draws: []int64{12}}
	a, err := NewAllocator(2, src)
	require.NoError(t, err)
	id, err := a.Allocate(context.Background(), NewIDSet())
	require.NoError(t, err)
	require.Equal(t, int64(12), id)
	require.Equal(t, []int64{256}, src.sizes)
}

func TestAllocateFallbackWhenPrimaryExhausted(t *testing.T) {
	a, err := NewAllocator(1, NewSeededSource(7))
	require.NoError(t, err)
	full := NewIDSet()
	for i := int64(0); i < 16; i++ {
		full.Add(i)
	}
	for i := 0; i < 50; i++ {
		id, err := a.Allocate(context.Background(), full)
		require.NoError(t, err)
		require.False(t, full.Has(id))
		require.GreaterOrEqual(t, id, int64(16))
		require.Less(t, id, int64(256))
	}
}

func TestAllocateFallbackDrawsFromWiderSpace(t *testing.T) {
	draws := make([]int64, 0, 17)
	for i := 0; i < 16; i++ {
		draws = append(draws, 5)
	}
	draws = append(draws, 5, 200)
	src := &scriptedSource{draws: draws}
	a, err := NewAllocator(1, src)
	require.NoError(t, err)

	id, err := a.Allocate(context.Background(), NewIDSet(5))
	require.NoError(t, err)
	require.Equal(t, int64(200), id)
	require.Len(t, src.sizes, 18)
	require.Equal(t, int64(16), src.sizes[15])
	require.Equal(t, int64(256), src.sizes[16])
	require.Equal(t, int64(256), src.sizes[17])
}

func TestAllocateFallbackHonoursCancellation(t *testing.T) {
	src := &scriptedSource{draws: []int64{0}}
	a, err := NewAllocator(1, src)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = a.Allocate(ctx, NewIDSet(0))
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 16, src.calls)
}

func TestAllocateSequentialUniqueness(t *testing.T) {
	a, err := NewAllocator(2, NewSeededSource(1))
	require.NoError(t, err)
	taken := NewIDSet()
	for i := 0; i < 400; i++ {
		id, err := a.Allocate(context.Background(), taken)
		require.NoError(t, err)
		require.False(t, taken.Has(id), "id %d allocated twice", id)
		taken.Add(id)
	}
	require.Len(t, taken, 400)
}

func TestSeededSourceDeterministic(t *testing.T) {
	a, b := NewSeededSource(99), NewSeededSource(99)
	for i := 0; i < 100; i++ {
		require.Equal(t, a.Int64N(1000), b.Int64N(1000))
	}
}
