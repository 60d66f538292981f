// merkle.go - Append-only Merkle tree over blake3 in the RFC 6962 shape.
//
// The tree stores every perfect subtree hash it has ever completed, level by level.
// Because the tree is append-only, those hashes never change, so the root and the
// audit path of any historical size can be computed in O(log^2 n) without replaying
// leaves.

package accumulator

import (
	"encoding/hex"
	"fmt"
	"math/bits"

	"github.com/zeebo/blake3"
)

// HashSize is the size of every node hash.
const HashSize = 32

// Hash is a Merkle node value.
type Hash [HashSize]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// MarshalText encodes the hash as hex.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText decodes a hex hash.
func (h *Hash) UnmarshalText(b []byte) error {
	if hex.DecodedLen(len(b)) != HashSize {
		return fmt.Errorf("hash: want %d hex bytes, got %d", 2*HashSize, len(b))
	}
	_, err := hex.Decode(h[:], b)
	return err
}

const (
	leafPrefix = 0x00
	nodePrefix = 0x01
)

// LeafHash hashes an encoded leaf.
func LeafHash(data []byte) Hash {
	h := blake3.New()
	_, _ = h.Write([]byte{leafPrefix})
	_, _ = h.Write(data)
	var out Hash
	h.Sum(out[:0])
	return out
}

// NodeHash hashes two children.
func NodeHash(left, right Hash) Hash {
	var buf [1 + 2*HashSize]byte
	buf[0] = nodePrefix
	copy(buf[1:], left[:])
	copy(buf[1+HashSize:], right[:])
	return blake3.Sum256(buf[:])
}

// emptyRoot is the root of the tree with no leaves.
var emptyRoot = blake3.Sum256(nil)

// tree keeps levels[k][i] = hash of leaves [i·2^k, (i+1)·2^k).
type tree struct {
	levels [][]Hash
}

func (t *tree) size() uint64 {
	if len(t.levels) == 0 {
		return 0
	}
	return uint64(len(t.levels[0]))
}

// append adds a leaf hash and completes every perfect subtree that it closes.
func (t *tree) append(leaf Hash) {
	if len(t.levels) == 0 {
		t.levels = append(t.levels, nil)
	}
	t.levels[0] = append(t.levels[0], leaf)
	for k := 0; len(t.levels[k])%2 == 0; k++ {
		n := len(t.levels[k])
		parent := NodeHash(t.levels[k][n-2], t.levels[k][n-1])
		if k+1 == len(t.levels) {
			t.levels = append(t.levels, nil)
		}
		t.levels[k+1] = append(t.levels[k+1], parent)
	}
}

// subtree returns the hash of leaves [lo, hi). Ranges produced by the RFC 6962 split
// are either aligned perfect subtrees, served from levels, or split again.
func (t *tree) subtree(lo, hi uint64) Hash {
	n := hi - lo
	if n&(n-1) == 0 {
		k := bits.TrailingZeros64(n)
		return t.levels[k][lo>>k]
	}
	k := splitPoint(n)
	return NodeHash(t.subtree(lo, lo+k), t.subtree(lo+k, hi))
}

// root returns the root of the first size leaves.
func (t *tree) root(size uint64) Hash {
	if size == 0 {
		return emptyRoot
	}
	return t.subtree(0, size)
}

// path returns the audit path of leaf index in the tree of the first size leaves,
// ordered from the leaf upwards.
func (t *tree) path(index, size uint64) []Hash {
	var out []Hash
	lo, hi := uint64(0), size
	for hi-lo > 1 {
		k := splitPoint(hi - lo)
		if index < lo+k {
			out = append(out, t.subtree(lo+k, hi))
			hi = lo + k
		} else {
			out = append(out, t.subtree(lo, lo+k))
			lo += k
		}
	}
	// Collected top-down; verification consumes bottom-up.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// splitPoint returns the largest power of two strictly less than n (n >= 2).
func splitPoint(n uint64) uint64 {
	return uint64(1) << (63 - bits.LeadingZeros64(n-1))
}

// RootFromPath recomputes the root of a tree of the given size from a leaf hash and its
// audit path. It returns false when the path has the wrong length for (index, size).
func RootFromPath(leaf Hash, index, size uint64, path []Hash) (Hash, bool) {
	if index >= size {
		return Hash{}, false
	}
	// RFC 9162 section 2.1.3.2.
	fn, sn := index, size-1
	r := leaf
	for _, p := range path {
		if sn == 0 {
			return Hash{}, false
		}
		if fn&1 == 1 || fn == sn {
			r = NodeHash(p, r)
			if fn&1 == 0 {
				for fn&1 == 0 && fn != 0 {
					fn >>= 1
					sn >>= 1
				}
			}
		} else {
			r = NodeHash(r, p)
		}
		fn >>= 1
		sn >>= 1
	}
	if sn != 0 {
		return Hash{}, false
	}
	return r, true
}

// PathLength returns the audit path length of index in a tree of size leaves.
func PathLength(index, size uint64) int {
	n := 0
	lo, hi := uint64(0), size
	for hi-lo > 1 {
		k := splitPoint(hi - lo)
		if index < lo+k {
			hi = lo + k
		} else {
			lo += k
		}
		n++
	}
	return n
}
