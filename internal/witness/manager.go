package witness

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"anonpay/internal/accumulator"
	"anonpay/internal/commitment"
	"anonpay/internal/errs"
	"anonpay/internal/params"
)

const (
	// shardCount splits the cache so eviction in one shard never blocks readers of another.
	shardCount = 16

	// DefaultRefreshDelta is the largest accumulator growth served by an incremental refresh.
	DefaultRefreshDelta = 256
)

// Source is the read side of the accumulator that witnesses are built from.
type Source interface {
	Snapshot() accumulator.Snapshot
	Position(id commitment.ID) (uint64, bool)
	Decoys(snap accumulator.Snapshot, n int, realPos uint64, rng io.Reader) (*accumulator.DecoySet, int, error)
	Rebind(set *accumulator.DecoySet, snap accumulator.Snapshot) (*accumulator.DecoySet, error)
}

// Key identifies a cached witness.
type Key struct {
	ID    commitment.ID
	Epoch uint64
	Level params.PrivacyLevel
}

func (k Key) flightKey() string {
	return string(k.ID[:]) + "/" + strconv.FormatUint(k.Epoch, 10) + "/" + strconv.Itoa(int(k.Level))
}

func (k Key) shard(n int) int {
	return int((binary.BigEndian.Uint64(k.ID[commitment.Size-8:]) ^ k.Epoch) % uint64(n))
}

// Stats reports cache activity.
type Stats struct {
	Hits        uint64
	Misses      uint64
	Generations uint64
	Refreshes   uint64
	Entries     int
}

// Manager builds witnesses from a Source and caches them by (commitment, epoch, level).
// It is safe for concurrent use.
type Manager struct {
	src          Source
	shards       []*lru.Cache[Key, *Witness]
	flight       singleflight.Group
	rng          io.Reader
	refreshDelta uint64
	capacity     int
	log          zerolog.Logger

	hits, misses, generations, refreshes atomic.Uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithCapacity bounds the total number of cached witnesses.
func WithCapacity(n int) Option {
	return func(m *Manager) { m.capacity = n }
}

// WithRand sets the entropy source for decoy sampling. Reads are serialised, so r
// need not be safe for concurrent use.
func WithRand(r io.Reader) Option {
	return func(m *Manager) { m.rng = &lockedReader{r: r} }
}

type lockedReader struct {
	mu sync.Mutex
	r  io.Reader
}

func (l *lockedReader) Read(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Read(p)
}

// WithRefreshDelta sets the largest growth (in commitments) that Refresh serves incrementally.
func WithRefreshDelta(d uint64) Option {
	return func(m *Manager) { m.refreshDelta = d }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// NewManager returns a manager reading from src.
func NewManager(src Source, opts ...Option) (*Manager, error) {
	m := &Manager{
		src:          src,
		rng:          commitment.DefaultReader,
		refreshDelta: DefaultRefreshDelta,
		capacity:     params.DefaultCacheCapacity,
		log:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.capacity < 1 {
		return nil, fmt.Errorf("%w: witness cache capacity must be positive", errs.ErrInvalidParameters)
	}
	sizes := shardSizes(m.capacity)
	m.shards = make([]*lru.Cache[Key, *Witness], len(sizes))
	for i, n := range sizes {
		c, err := lru.New[Key, *Witness](n)
		if err != nil {
			return nil, fmt.Errorf("witness cache shard %d: %w", i, err)
		}
		m.shards[i] = c
	}
	return m, nil
}

// shardSizes splits capacity over at most shardCount shards. The sizes sum to capacity
// exactly and differ by at most one.
func shardSizes(capacity int) []int {
	n := min(capacity, shardCount)
	sizes := make([]int, n)
	for i := range sizes {
		sizes[i] = capacity / n
		if i < capacity%n {
			sizes[i]++
		}
	}
	return sizes
}

// Generate returns the witness of c against snap at the given privacy level.
// Concurrent calls for the same key share one generation. If ctx ends first the caller
// gets ctx.Err(); the shared generation still completes into the cache.
func (m *Manager) Generate(ctx context.Context, snap accumulator.Snapshot, c commitment.Commitment, level params.PrivacyLevel) (*Witness, error) {
	if !level.Valid() {
		return nil, fmt.Errorf("%w: privacy level %d", errs.ErrInvalidParameters, level)
	}
	key := Key{ID: c.ID(), Epoch: snap.Epoch, Level: level}
	return m.load(ctx, key, func() (*Witness, error) {
		return m.build(snap, c, level)
	})
}

// Refresh returns a witness for the same commitment and level bound to the current
// epoch. When the accumulator grew by at most the refresh delta the old decoy positions
// are kept and only their paths are recomputed; otherwise a new set is sampled.
// It fails with ErrWitnessUnavailable when the commitment is no longer accumulated.
func (m *Manager) Refresh(ctx context.Context, old *Witness) (*Witness, error) {
	cur := m.src.Snapshot()
	if old.snapshot.Epoch == cur.Epoch {
		return old, nil
	}
	pos, ok := m.src.Position(old.ID())
	if !ok || pos != old.position {
		return nil, fmt.Errorf("refresh %s: %w: commitment no longer accumulated", old.ID(), errs.ErrWitnessUnavailable)
	}

	key := Key{ID: old.ID(), Epoch: cur.Epoch, Level: old.level}
	return m.load(ctx, key, func() (*Witness, error) {
		m.refreshes.Add(1)
		if cur.Size-old.snapshot.Size <= m.refreshDelta {
			set, err := m.src.Rebind(old.decoys, cur)
			if err == nil {
				m.log.Debug().Uint64("from_epoch", old.Epoch()).Uint64("to_epoch", cur.Epoch).Msg("witness refreshed incrementally")
				return &Witness{
					commitment: old.commitment,
					position:   old.position,
					snapshot:   cur,
					level:      old.level,
					decoys:     set,
					index:      old.index,
				}, nil
			}
			m.log.Debug().Err(err).Msg("incremental refresh failed, regenerating")
		}
		return m.build(cur, old.commitment, old.level)
	})
}

// IsStale reports whether w is bound to an epoch behind the accumulator's current one.
// A stale witness may still prove against its own epoch while that epoch is retained.
func (m *Manager) IsStale(w *Witness) bool {
	return w.snapshot.Epoch < m.src.Snapshot().Epoch
}

// Purge empties the cache.
func (m *Manager) Purge() {
	for _, s := range m.shards {
		s.Purge()
	}
}

// Stats returns a snapshot of the cache counters.
func (m *Manager) Stats() Stats {
	st := Stats{
		Hits:        m.hits.Load(),
		Misses:      m.misses.Load(),
		Generations: m.generations.Load(),
		Refreshes:   m.refreshes.Load(),
	}
	for _, s := range m.shards {
		st.Entries += s.Len()
	}
	return st
}

// load serves key from the cache or runs fn once for all concurrent callers.
func (m *Manager) load(ctx context.Context, key Key, fn func() (*Witness, error)) (*Witness, error) {
	shard := m.shards[key.shard(len(m.shards))]
	if w, ok := shard.Get(key); ok {
		m.hits.Add(1)
		return w, nil
	}
	m.misses.Add(1)

	ch := m.flight.DoChan(key.flightKey(), func() (any, error) {
		if w, ok := shard.Peek(key); ok {
			return w, nil
		}
		w, err := fn()
		if err != nil {
			return nil, err
		}
		shard.Add(key, w)
		return w, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Witness), nil
	}
}

func (m *Manager) build(snap accumulator.Snapshot, c commitment.Commitment, level params.PrivacyLevel) (*Witness, error) {
	id := c.ID()
	pos, ok := m.src.Position(id)
	if !ok {
		return nil, fmt.Errorf("witness %s: %w: commitment not accumulated", id, errs.ErrWitnessUnavailable)
	}
	if pos >= snap.Size {
		return nil, fmt.Errorf("witness %s: %w: commitment not in snapshot %d", id, errs.ErrWitnessUnavailable, snap.Epoch)
	}
	set, index, err := m.src.Decoys(snap, level.DecoyCount(), pos, m.rng)
	if err != nil {
		if errors.Is(err, errs.ErrEpochUnavailable) || errors.Is(err, errs.ErrInsufficientRandomness) {
			return nil, fmt.Errorf("witness %s: %w", id, err)
		}
		return nil, fmt.Errorf("witness %s: %w: %w", id, errs.ErrWitnessUnavailable, err)
	}
	m.generations.Add(1)
	m.log.Debug().Uint64("epoch", snap.Epoch).Str("level", level.String()).Int("decoys", set.Len()).Msg("witness generated")
	return &Witness{
		commitment: c,
		position:   pos,
		snapshot:   snap,
		level:      level,
		decoys:     set,
		index:      index,
	}, nil
}
