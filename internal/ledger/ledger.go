// ledger.go - Persistent, append-only ledger of issued coins and spent serials.
//
// The Ledger owns the authoritative accumulator and the spent-serial set. It is the
// collaborator that turns a verified JoinSplit's Effects into durable state: serials,
// output commitments and the encoded transaction are written in one Pebble batch, and
// only then applied to the in-memory accumulator.
//
// On Open the commitments are replayed epoch by epoch, so digests and epochs after a
// restart are identical to those before it.

package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/rs/zerolog"

	"anonpay/internal/accumulator"
	"anonpay/internal/commitment"
	"anonpay/internal/errs"
	"anonpay/internal/joinsplit"
	"anonpay/internal/params"
	"anonpay/internal/proof"
)

// Ledger is safe for concurrent use. Issue and Submit are serialised.
type Ledger struct {
	mu    sync.RWMutex
	acc   *accumulator.Accumulator
	spent joinsplit.Serials
	db    *store
	log   zerolog.Logger
	stats Stats
}

// Stats counts ledger activity since Open.
type Stats struct {
	Issued       uint64
	Submitted    uint64
	DoubleSpends uint64
	Rejected     uint64
}

type options struct {
	fs        vfs.FS
	retention int
	log       zerolog.Logger
}

// Option configures Open.
type Option func(*options)

// WithFS sets the filesystem Pebble runs on, e.g. vfs.NewMem() in tests.
func WithFS(fs vfs.FS) Option {
	return func(o *options) { o.fs = fs }
}

// WithRetention sets the number of accumulator snapshots kept verifiable.
func WithRetention(n int) Option {
	return func(o *options) { o.retention = n }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// Open opens (or creates) the ledger at path and rebuilds its in-memory state.
func Open(path string, opts ...Option) (*Ledger, error) {
	o := options{retention: params.DefaultRetention, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.retention < 1 {
		return nil, fmt.Errorf("open ledger: %w: retention %d", errs.ErrInvalidParameters, o.retention)
	}
	db, err := openStore(path, o.fs)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	l := &Ledger{
		acc:   accumulator.New(accumulator.WithRetention(o.retention), accumulator.WithLogger(o.log)),
		spent: joinsplit.Serials{},
		db:    db,
		log:   o.log,
	}
	if err := l.replay(); err != nil {
		_ = db.close()
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	snap := l.acc.Snapshot()
	l.log.Info().
		Str("path", path).
		Uint64("epoch", snap.Epoch).
		Uint64("size", snap.Size).
		Int("serials", len(l.spent)).
		Msg("ledger opened")
	return l, nil
}

func (l *Ledger) replay() error {
	var cs []commitment.Commitment
	err := l.db.scan(prefixCommitment, func(k, v []byte) error {
		pos := binary.BigEndian.Uint64(k[len(prefixCommitment):])
		if pos != uint64(len(cs)) {
			return fmt.Errorf("commitment at position %d, expected %d", pos, len(cs))
		}
		c, err := commitment.Decode(v)
		if err != nil {
			return fmt.Errorf("commitment %d: %w", pos, err)
		}
		cs = append(cs, c)
		return nil
	})
	if err != nil {
		return err
	}

	var done uint64
	err = l.db.scan(prefixEpoch, func(_, v []byte) error {
		if len(v) != 8 {
			return fmt.Errorf("%w: epoch record of %d bytes", errs.ErrFormat, len(v))
		}
		size := binary.BigEndian.Uint64(v)
		if size < done || size > uint64(len(cs)) {
			return fmt.Errorf("epoch record size %d outside [%d, %d]", size, done, len(cs))
		}
		if _, err := l.acc.AddBatch(cs[done:size]); err != nil {
			return err
		}
		done = size
		return nil
	})
	if err != nil {
		return err
	}
	if done != uint64(len(cs)) {
		return fmt.Errorf("%d commitments without an epoch record", uint64(len(cs))-done)
	}

	return l.db.scan(prefixSerial, func(k, _ []byte) error {
		var sn proof.SerialNumber
		if len(k) != len(prefixSerial)+len(sn) {
			return fmt.Errorf("%w: serial key of %d bytes", errs.ErrFormat, len(k))
		}
		copy(sn[:], k[len(prefixSerial):])
		l.spent.Add(sn)
		return nil
	})
}

// Accumulator returns the ledger's accumulator. Callers must not mutate it directly.
func (l *Ledger) Accumulator() *accumulator.Accumulator {
	return l.acc
}

// Snapshot returns the current accumulator snapshot.
func (l *Ledger) Snapshot() accumulator.Snapshot {
	return l.acc.Snapshot()
}

// SnapshotAt implements joinsplit.SnapshotSource.
func (l *Ledger) SnapshotAt(epoch uint64) (accumulator.Snapshot, error) {
	return l.acc.SnapshotAt(epoch)
}

// HasSerial implements joinsplit.SerialSet.
func (l *Ledger) HasSerial(sn proof.SerialNumber) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.spent.HasSerial(sn)
}

// Stats returns activity counters.
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stats
}

// Issue mints new coins: the commitments are persisted and accumulated as one epoch.
func (l *Ledger) Issue(cs ...commitment.Commitment) (accumulator.Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.appendLocked(cs, nil); err != nil {
		return accumulator.Snapshot{}, fmt.Errorf("issue: %w", err)
	}
	l.stats.Issued += uint64(len(cs))
	return l.acc.Snapshot(), nil
}

// Submit verifies js against the ledger and, on success, atomically records its serials,
// its outputs and the transaction itself. Resubmitting a transaction fails with
// errs.ErrDoubleSpend.
func (l *Ledger) Submit(js *joinsplit.JoinSplit) (*joinsplit.Effects, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fx, err := joinsplit.Verify(js, l.acc, l.spent)
	if err != nil {
		l.stats.Rejected++
		if errors.Is(err, errs.ErrDoubleSpend) {
			l.stats.DoubleSpends++
			l.log.Warn().Str("tx", js.ID().String()).Msg("double spend rejected")
		}
		return nil, fmt.Errorf("submit: %w", err)
	}

	id := js.ID()
	extra := []kv{{key: key(prefixTx, id[:]), value: js.Encode()}}
	for _, sn := range fx.Serials {
		extra = append(extra, kv{key: key(prefixSerial, sn[:]), value: id[:]})
	}
	if err := l.appendLocked(fx.Outputs, extra); err != nil {
		l.stats.Rejected++
		return nil, fmt.Errorf("submit: %w", err)
	}
	l.spent.Add(fx.Serials...)
	l.stats.Submitted++
	l.log.Info().
		Str("tx", id.String()).
		Int("serials", len(fx.Serials)).
		Int("outputs", len(fx.Outputs)).
		Uint64("epoch", l.acc.Epoch()).
		Msg("joinsplit recorded")
	return fx, nil
}

// appendLocked persists cs (plus extra writes) as one epoch, then accumulates cs.
// Nothing is written when cs would be rejected by the accumulator.
func (l *Ledger) appendLocked(cs []commitment.Commitment, extra []kv) error {
	if len(cs) == 0 {
		return fmt.Errorf("%w: empty batch", errs.ErrAccumulator)
	}
	seen := make(map[commitment.ID]struct{}, len(cs))
	for _, c := range cs {
		id := c.ID()
		if _, ok := l.acc.Position(id); ok {
			return fmt.Errorf("commitment %s: %w", id, errs.ErrDuplicate)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("commitment %s: %w", id, errs.ErrDuplicate)
		}
		seen[id] = struct{}{}
	}

	snap := l.acc.Snapshot()
	pairs := make([]kv, 0, len(cs)+1+len(extra))
	for i, c := range cs {
		b := c.Bytes()
		pairs = append(pairs, kv{key: uintKey(prefixCommitment, snap.Size+uint64(i)), value: b[:]})
	}
	pairs = append(pairs, kv{
		key:   uintKey(prefixEpoch, snap.Epoch+1),
		value: binary.BigEndian.AppendUint64(nil, snap.Size+uint64(len(cs))),
	})
	pairs = append(pairs, extra...)
	if err := l.db.apply(pairs); err != nil {
		return err
	}
	if _, err := l.acc.AddBatch(cs); err != nil {
		return err
	}
	return nil
}

// Transaction returns a recorded JoinSplit by id.
func (l *Ledger) Transaction(id joinsplit.ID) (*joinsplit.JoinSplit, error) {
	b, err := l.db.get(key(prefixTx, id[:]))
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("transaction %s: not found", id)
	}
	return joinsplit.Decode(b)
}

// Close flushes and closes the store.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.close()
}
