package ledger

import (
	"encoding/binary"
	"errors"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// Key prefixes.
var (
	prefixSerial     = []byte("s/") // s/<serial> -> joinsplit id
	prefixCommitment = []byte("c/") // c/<position, big endian> -> commitment
	prefixTx         = []byte("t/") // t/<joinsplit id> -> encoded joinsplit
	prefixEpoch      = []byte("e/") // e/<epoch, big endian> -> accumulator size after the epoch
)

func key(prefix, suffix []byte) []byte {
	k := make([]byte, 0, len(prefix)+len(suffix))
	return append(append(k, prefix...), suffix...)
}

func uintKey(prefix []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte{}, prefix...), v)
}

// kv is one pending write.
type kv struct {
	key, value []byte
}

// store is a thin key-value layer over Pebble.
type store struct {
	db *pebble.DB
}

func openStore(path string, fs vfs.FS) (*store, error) {
	opts := &pebble.Options{
		Cache:                       pebble.NewCache(8 << 20),
		MemTableSize:                4 << 20,
		MemTableStopWritesThreshold: 2,
	}
	if fs != nil {
		opts.FS = fs
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, err
	}
	return &store{db: db}, nil
}

// get returns a copy of the value under k, or nil when absent.
func (s *store) get(k []byte) ([]byte, error) {
	value, closer, err := s.db.Get(k)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// apply writes every pair atomically and syncs the WAL.
func (s *store) apply(pairs []kv) error {
	b := s.db.NewBatch()
	defer b.Close()
	for _, p := range pairs {
		if err := b.Set(p.key, p.value, nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

// scan calls fn for every pair under prefix, in key order. Keys and values are only
// valid during the call.
func (s *store) scan(prefix []byte, fn func(k, v []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		v, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		if err := fn(iter.Key(), v); err != nil {
			return err
		}
	}
	return iter.Error()
}

// prefixUpperBound is the exclusive upper bound of a prefix scan; nil when prefix is all 0xFF.
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte{}, prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}
	return nil
}

func (s *store) close() error {
	return s.db.Close()
}
