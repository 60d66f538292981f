// accumulator.go - Append-only accumulator over issued commitments.
//
// The accumulator keeps the ordered sequence of every commitment ever issued and a digest
// that is a pure function of that sequence. Each mutating call (Add or AddBatch) advances
// the epoch by exactly one and publishes a new immutable Snapshot. The last `retention`
// snapshots stay queryable so that spends referencing a slightly older epoch still verify.
//
// Concurrency: a single writer at a time (appends are serialised by mu), any number of
// readers. The current snapshot is published through an atomic pointer, so readers never
// observe a digest that is being recomputed.

package accumulator

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"

	"anonpay/internal/commitment"
	"anonpay/internal/errs"
	"anonpay/internal/params"
)

var digestTag = []byte(params.DomainTag + "/accumulator")

// Snapshot is an immutable reference point of the accumulator.
// Digest covers (Size, Root); Epoch orders snapshots in time.
type Snapshot struct {
	Digest Hash   `json:"digest"`
	Epoch  uint64 `json:"epoch"`
	Size   uint64 `json:"size"`
	Root   Hash   `json:"root"`
}

// ComputeDigest binds a tree size and root into the accumulator digest.
func ComputeDigest(size uint64, root Hash) Hash {
	h := blake3.New()
	_, _ = h.Write(digestTag)
	var sz [8]byte
	binary.BigEndian.PutUint64(sz[:], size)
	_, _ = h.Write(sz[:])
	_, _ = h.Write(root[:])
	var out Hash
	h.Sum(out[:0])
	return out
}

// Accumulator is the authoritative set of issued commitments. It is owned by the ledger
// and handed to readers by reference.
type Accumulator struct {
	mu        sync.RWMutex
	tree      tree
	items     []commitment.Commitment
	index     map[commitment.ID]uint64
	epoch     uint64
	window    []Snapshot // contiguous epochs, oldest first, current last
	retention int
	current   atomic.Pointer[Snapshot]
	log       zerolog.Logger
}

// Option configures an Accumulator.
type Option func(*Accumulator)

// WithRetention sets how many snapshots (including the current one) stay queryable.
func WithRetention(n int) Option {
	return func(a *Accumulator) {
		if n > 0 {
			a.retention = n
		}
	}
}

// WithLogger sets the logger used for append and eviction events.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Accumulator) {
		a.log = l
	}
}

// New returns an empty accumulator at epoch 0.
func New(opts ...Option) *Accumulator {
	a := &Accumulator{
		index:     make(map[commitment.ID]uint64),
		retention: params.DefaultRetention,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	snap := Snapshot{Root: emptyRoot, Digest: ComputeDigest(0, emptyRoot)}
	a.window = append(a.window, snap)
	a.current.Store(&snap)
	return a
}

// Add appends one commitment and returns the new epoch.
func (a *Accumulator) Add(c commitment.Commitment) (uint64, error) {
	return a.AddBatch([]commitment.Commitment{c})
}

// AddBatch appends commitments in order with a single digest recomputation and returns
// the new epoch. A duplicate anywhere in the batch rejects the whole batch unchanged.
func (a *Accumulator) AddBatch(cs []commitment.Commitment) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(cs) == 0 {
		return a.epoch, nil
	}

	// Step 1: reject duplicates before touching any state
	ids := make([]commitment.ID, len(cs))
	seen := make(map[commitment.ID]struct{}, len(cs))
	for i, c := range cs {
		id := c.ID()
		if _, ok := a.index[id]; ok {
			return a.epoch, fmt.Errorf("add commitment %d: %w", i, errs.ErrDuplicate)
		}
		if _, ok := seen[id]; ok {
			return a.epoch, fmt.Errorf("add commitment %d: %w within batch", i, errs.ErrDuplicate)
		}
		seen[id] = struct{}{}
		ids[i] = id
	}

	// Step 2: append leaves
	for i, c := range cs {
		a.index[ids[i]] = uint64(len(a.items))
		a.items = append(a.items, c)
		a.tree.append(LeafHash(ids[i][:]))
	}

	// Step 3: one digest for the whole batch, then publish
	a.epoch++
	size := a.tree.size()
	root := a.tree.root(size)
	snap := Snapshot{Digest: ComputeDigest(size, root), Epoch: a.epoch, Size: size, Root: root}
	a.window = append(a.window, snap)
	if evict := len(a.window) - a.retention; evict > 0 {
		a.log.Debug().Uint64("oldest_epoch", a.window[evict].Epoch).Int("evicted", evict).Msg("snapshot window advanced")
		a.window = append(a.window[:0:0], a.window[evict:]...)
	}
	a.current.Store(&snap)

	a.log.Debug().Uint64("epoch", a.epoch).Uint64("size", size).Int("added", len(cs)).Msg("accumulator appended")
	return a.epoch, nil
}

// Snapshot returns the current snapshot.
func (a *Accumulator) Snapshot() Snapshot {
	return *a.current.Load()
}

// Epoch returns the current epoch.
func (a *Accumulator) Epoch() uint64 {
	return a.current.Load().Epoch
}

// SnapshotAt returns the retained snapshot for epoch, or ErrEpochUnavailable.
func (a *Accumulator) SnapshotAt(epoch uint64) (Snapshot, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshotAtLocked(epoch)
}

func (a *Accumulator) snapshotAtLocked(epoch uint64) (Snapshot, error) {
	oldest := a.window[0].Epoch
	if epoch < oldest || epoch > a.epoch {
		return Snapshot{}, fmt.Errorf("snapshot at epoch %d (retained %d..%d): %w", epoch, oldest, a.epoch, errs.ErrEpochUnavailable)
	}
	return a.window[epoch-oldest], nil
}

// Retained reports whether snap is one of the retained snapshots.
func (a *Accumulator) Retained(snap Snapshot) bool {
	got, err := a.SnapshotAt(snap.Epoch)
	return err == nil && got == snap
}

// Size returns the number of accumulated commitments.
func (a *Accumulator) Size() uint64 {
	return a.current.Load().Size
}

// Position returns the index of a commitment in the accumulated sequence.
func (a *Accumulator) Position(id commitment.ID) (uint64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	pos, ok := a.index[id]
	return pos, ok
}

// CommitmentAt returns the commitment at pos.
func (a *Accumulator) CommitmentAt(pos uint64) (commitment.Commitment, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if pos >= uint64(len(a.items)) {
		return commitment.Commitment{}, fmt.Errorf("%w: position %d beyond size %d", errs.ErrAccumulator, pos, len(a.items))
	}
	return a.items[pos], nil
}

// Commitments returns a copy of the first n accumulated commitments.
func (a *Accumulator) Commitments(n uint64) []commitment.Commitment {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if n > uint64(len(a.items)) {
		n = uint64(len(a.items))
	}
	out := make([]commitment.Commitment, n)
	copy(out, a.items[:n])
	return out
}

// Path returns the Merkle audit path of pos against snap.
func (a *Accumulator) Path(snap Snapshot, pos uint64) ([]Hash, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if _, err := a.checkSnapshotLocked(snap); err != nil {
		return nil, err
	}
	if pos >= snap.Size {
		return nil, fmt.Errorf("%w: position %d not in snapshot of size %d", errs.ErrAccumulator, pos, snap.Size)
	}
	return a.tree.path(pos, snap.Size), nil
}

func (a *Accumulator) checkSnapshotLocked(snap Snapshot) (Snapshot, error) {
	got, err := a.snapshotAtLocked(snap.Epoch)
	if err != nil {
		return Snapshot{}, err
	}
	if got != snap {
		return Snapshot{}, fmt.Errorf("snapshot at epoch %d does not match: %w", snap.Epoch, errs.ErrEpochUnavailable)
	}
	return got, nil
}
