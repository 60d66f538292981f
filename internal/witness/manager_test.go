package witness

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"anonpay/internal/accumulator"
	"anonpay/internal/commitment"
	"anonpay/internal/errs"
	"anonpay/internal/params"
)

func fill(t *testing.T, acc *accumulator.Accumulator, n int, seed string) []commitment.Commitment {
	t.Helper()
	rng := commitment.NewSeededReader([]byte(seed))
	cs := make([]commitment.Commitment, n)
	for i := range cs {
		c, _, err := commitment.New(uint64(i+1), rng)
		require.NoError(t, err)
		cs[i] = c
	}
	_, err := acc.AddBatch(cs)
	require.NoError(t, err)
	return cs
}

// countingSource wraps an accumulator and counts decoy samplings; gate, when set,
// blocks the first sampling until closed.
type countingSource struct {
	*accumulator.Accumulator
	samplings atomic.Int32
	gate      chan struct{}
}

func (s *countingSource) Decoys(snap accumulator.Snapshot, n int, pos uint64, rng io.Reader) (*accumulator.DecoySet, int, error) {
	s.samplings.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	return s.Accumulator.Decoys(snap, n, pos, rng)
}

func TestGenerateBindsSnapshotAndDecoys(t *testing.T) {
	acc := accumulator.New()
	cs := fill(t, acc, 100, "generate")
	mgr, err := NewManager(acc, WithRand(commitment.NewSeededReader([]byte("decoys"))))
	require.NoError(t, err)

	snap := acc.Snapshot()
	for _, level := range []params.PrivacyLevel{params.Standard, params.Enhanced, params.Maximum} {
		w, err := mgr.Generate(context.Background(), snap, cs[42], level)
		require.NoError(t, err)
		require.Equal(t, snap, w.Snapshot())
		require.Equal(t, level.DecoyCount(), w.Decoys().Len())
		require.True(t, w.Decoys().Members[w.Index()].Equal(cs[42]))
		require.Equal(t, uint64(42), w.Position())
		require.True(t, accumulator.VerifyMembership(snap.Digest, w.Decoys()))
	}

	t.Run("cache hit returns the same witness", func(t *testing.T) {
		a, err := mgr.Generate(context.Background(), snap, cs[7], params.Standard)
		require.NoError(t, err)
		b, err := mgr.Generate(context.Background(), snap, cs[7], params.Standard)
		require.NoError(t, err)
		require.Same(t, a, b)
		require.GreaterOrEqual(t, mgr.Stats().Hits, uint64(1))
	})

	t.Run("unknown commitment", func(t *testing.T) {
		stranger, _, err := commitment.New(5, nil)
		require.NoError(t, err)
		_, err = mgr.Generate(context.Background(), snap, stranger, params.Standard)
		require.ErrorIs(t, err, errs.ErrWitnessUnavailable)
	})

	t.Run("invalid level", func(t *testing.T) {
		_, err := mgr.Generate(context.Background(), snap, cs[0], params.PrivacyLevel(7))
		require.ErrorIs(t, err, errs.ErrInvalidParameters)
	})

	t.Run("set too small for level", func(t *testing.T) {
		small := accumulator.New()
		few := fill(t, small, 20, "few")
		m2, err := NewManager(small)
		require.NoError(t, err)
		_, err = m2.Generate(context.Background(), small.Snapshot(), few[0], params.Enhanced)
		require.ErrorIs(t, err, errs.ErrWitnessUnavailable)
	})
}

func TestSingleFlightCollapsesConcurrentRequests(t *testing.T) {
	acc := accumulator.New()
	cs := fill(t, acc, 64, "flight")
	src := &countingSource{Accumulator: acc, gate: make(chan struct{})}
	mgr, err := NewManager(src)
	require.NoError(t, err)
	snap := acc.Snapshot()

	const callers = 32
	results := make([]*Witness, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, err := mgr.Generate(context.Background(), snap, cs[10], params.Maximum)
			if err == nil {
				results[i] = w
			}
		}(i)
	}
	// Give every caller time to join the in-flight generation, then release it.
	time.Sleep(50 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	require.Equal(t, int32(1), src.samplings.Load(), "identical concurrent requests must trigger one generation")
	for i := 1; i < callers; i++ {
		require.NotNil(t, results[i])
		require.Same(t, results[0], results[i], "all callers observe the same witness")
	}
	require.Equal(t, uint64(1), mgr.Stats().Generations)
}

func TestAbandonedRequestStillPopulatesCache(t *testing.T) {
	acc := accumulator.New()
	cs := fill(t, acc, 32, "abandon")
	src := &countingSource{Accumulator: acc, gate: make(chan struct{})}
	mgr, err := NewManager(src)
	require.NoError(t, err)
	snap := acc.Snapshot()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := mgr.Generate(ctx, snap, cs[3], params.Standard)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	close(src.gate)
	require.Eventually(t, func() bool { return mgr.Stats().Entries == 1 }, time.Second, 5*time.Millisecond)

	w, err := mgr.Generate(context.Background(), snap, cs[3], params.Standard)
	require.NoError(t, err)
	require.Equal(t, snap.Epoch, w.Epoch())
	require.Equal(t, int32(1), src.samplings.Load())
}

func TestStaleWitnessAndRefresh(t *testing.T) {
	acc := accumulator.New()
	cs := fill(t, acc, 40, "stale")
	src := &countingSource{Accumulator: acc}
	mgr, err := NewManager(src, WithRefreshDelta(8))
	require.NoError(t, err)

	w, err := mgr.Generate(context.Background(), acc.Snapshot(), cs[5], params.Standard)
	require.NoError(t, err)
	require.False(t, mgr.IsStale(w))

	same, err := mgr.Refresh(context.Background(), w)
	require.NoError(t, err)
	require.Same(t, w, same, "refreshing a current witness is a no-op")

	t.Run("incremental", func(t *testing.T) {
		fill(t, acc, 3, "stale-small")
		require.True(t, mgr.IsStale(w))

		before := src.samplings.Load()
		fresh, err := mgr.Refresh(context.Background(), w)
		require.NoError(t, err)
		require.Equal(t, before, src.samplings.Load(), "small growth must not resample decoys")
		require.Equal(t, w.Decoys().Positions, fresh.Decoys().Positions)
		require.Equal(t, acc.Epoch(), fresh.Epoch())
		require.True(t, accumulator.VerifyMembership(acc.Snapshot().Digest, fresh.Decoys()))

		// The old witness is untouched and still valid for its own epoch.
		require.True(t, accumulator.VerifyMembership(w.Snapshot().Digest, w.Decoys()))
		require.NotEqual(t, w.Epoch(), fresh.Epoch())
	})

	t.Run("full regeneration", func(t *testing.T) {
		fill(t, acc, 20, "stale-large")
		before := src.samplings.Load()
		fresh, err := mgr.Refresh(context.Background(), w)
		require.NoError(t, err)
		require.Equal(t, before+1, src.samplings.Load(), "large growth must resample decoys")
		require.Equal(t, acc.Epoch(), fresh.Epoch())
		require.True(t, fresh.Decoys().Members[fresh.Index()].Equal(cs[5]))
	})

	t.Run("pruned commitment", func(t *testing.T) {
		other := accumulator.New()
		fill(t, other, 40, "elsewhere")
		fill(t, other, 1, "elsewhere-more")
		m2, err := NewManager(other)
		require.NoError(t, err)
		_, err = m2.Refresh(context.Background(), w)
		require.ErrorIs(t, err, errs.ErrWitnessUnavailable)
	})
}

func TestCacheIsBounded(t *testing.T) {
	acc := accumulator.New()
	cs := fill(t, acc, 200, "bounded")
	snap := acc.Snapshot()

	for _, capacity := range []int{1, 5, 16, 17, 40} {
		mgr, err := NewManager(acc, WithCapacity(capacity))
		require.NoError(t, err)
		for _, c := range cs {
			_, err := mgr.Generate(context.Background(), snap, c, params.Standard)
			require.NoError(t, err)
		}
		require.LessOrEqual(t, mgr.Stats().Entries, capacity, "capacity %d", capacity)
		mgr.Purge()
		require.Equal(t, 0, mgr.Stats().Entries)
	}

	_, err := NewManager(acc, WithCapacity(0))
	require.ErrorIs(t, err, errs.ErrInvalidParameters)
}

func TestShardSizes(t *testing.T) {
	for _, capacity := range []int{1, 7, 16, 17, 31, 33, 1000} {
		sizes := shardSizes(capacity)
		require.Len(t, sizes, min(capacity, shardCount))
		total := 0
		for _, n := range sizes {
			require.GreaterOrEqual(t, n, 1)
			require.LessOrEqual(t, n, capacity/len(sizes)+1)
			total += n
		}
		require.Equal(t, capacity, total, "capacity %d", capacity)
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	acc := accumulator.New()
	cs := fill(t, acc, 100, "lru")
	snap := acc.Snapshot()

	// 16 shards of two entries each; pick three coins sharing a shard.
	mgr, err := NewManager(acc, WithCapacity(2*shardCount))
	require.NoError(t, err)
	byShard := make(map[int][]commitment.Commitment)
	var same []commitment.Commitment
	for _, c := range cs {
		k := Key{ID: c.ID(), Epoch: snap.Epoch, Level: params.Standard}.shard(shardCount)
		byShard[k] = append(byShard[k], c)
		if len(byShard[k]) == 3 {
			same = byShard[k]
			break
		}
	}
	require.Len(t, same, 3)

	gen := func(c commitment.Commitment) {
		t.Helper()
		_, err := mgr.Generate(context.Background(), snap, c, params.Standard)
		require.NoError(t, err)
	}
	gen(same[0])
	gen(same[1])
	gen(same[0]) // promote same[0]
	gen(same[2]) // evicts same[1]
	require.Equal(t, uint64(1), mgr.Stats().Hits)

	gen(same[0])
	require.Equal(t, uint64(2), mgr.Stats().Hits, "recently used entry survives")
	gen(same[1])
	require.Equal(t, uint64(2), mgr.Stats().Hits, "least recently used entry was evicted")
	require.Equal(t, uint64(4), mgr.Stats().Generations)
}
