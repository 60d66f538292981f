// decoys.go - Decoy-set sampling and digest-only membership verification.

package accumulator

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"
	"slices"

	"anonpay/internal/commitment"
	"anonpay/internal/errs"
)

// DecoySet is an anonymity set drawn from one snapshot: members in ascending position
// order, each with its audit path against the snapshot root. It is public data; which
// member is real is known only to the witness holder.
type DecoySet struct {
	Size      uint64
	Positions []uint64
	Members   []commitment.Commitment
	Paths     [][]Hash
}

// Len returns the number of members.
func (d *DecoySet) Len() int {
	return len(d.Members)
}

// Decoys samples an anonymity set of n distinct positions from snap that contains
// realPos. The other n-1 positions are uniform over the snapshot without realPos.
// It returns the set and the secret index of realPos within it.
func (a *Accumulator) Decoys(snap Snapshot, n int, realPos uint64, rng io.Reader) (*DecoySet, int, error) {
	if rng == nil {
		rng = commitment.DefaultReader
	}
	if n < 1 || uint64(n) > snap.Size {
		return nil, 0, fmt.Errorf("%w: snapshot holds %d commitments, %d decoys requested", errs.ErrAccumulator, snap.Size, n)
	}
	if realPos >= snap.Size {
		return nil, 0, fmt.Errorf("%w: position %d not in snapshot of size %d", errs.ErrAccumulator, realPos, snap.Size)
	}

	others, err := sampleDistinct(rng, snap.Size-1, n-1)
	if err != nil {
		return nil, 0, err
	}
	positions := make([]uint64, 0, n)
	for _, p := range others {
		if p >= realPos {
			p++
		}
		positions = append(positions, p)
	}
	positions = append(positions, realPos)
	slices.Sort(positions)
	secret, _ := slices.BinarySearch(positions, realPos)

	set, err := a.collect(snap, positions)
	if err != nil {
		return nil, 0, err
	}
	return set, secret, nil
}

// Rebind recomputes the members and paths of an existing position set against a newer
// snapshot. Positions stay valid because the sequence is append-only.
func (a *Accumulator) Rebind(set *DecoySet, snap Snapshot) (*DecoySet, error) {
	if len(set.Positions) == 0 || set.Positions[len(set.Positions)-1] >= snap.Size {
		return nil, fmt.Errorf("%w: decoy positions exceed snapshot of size %d", errs.ErrAccumulator, snap.Size)
	}
	return a.collect(snap, slices.Clone(set.Positions))
}

func (a *Accumulator) collect(snap Snapshot, positions []uint64) (*DecoySet, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if _, err := a.checkSnapshotLocked(snap); err != nil {
		return nil, err
	}
	set := &DecoySet{
		Size:      snap.Size,
		Positions: positions,
		Members:   make([]commitment.Commitment, len(positions)),
		Paths:     make([][]Hash, len(positions)),
	}
	for i, p := range positions {
		set.Members[i] = a.items[p]
		set.Paths[i] = a.tree.path(p, snap.Size)
	}
	return set, nil
}

// sampleDistinct returns k distinct integers drawn uniformly from [0, m) using
// Floyd's algorithm, in sampling order.
func sampleDistinct(rng io.Reader, m uint64, k int) ([]uint64, error) {
	out := make([]uint64, 0, k)
	chosen := make(map[uint64]struct{}, k)
	for j := m - uint64(k); j < m; j++ {
		t, err := uniform(rng, j+1)
		if err != nil {
			return nil, err
		}
		if _, dup := chosen[t]; dup {
			t = j
		}
		chosen[t] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}

// uniform returns an unbiased integer in [0, bound) by rejection sampling.
func uniform(rng io.Reader, bound uint64) (uint64, error) {
	if bound <= 1 {
		return 0, nil
	}
	mask := uint64(1)<<bits.Len64(bound-1) - 1
	var buf [8]byte
	for {
		if _, err := io.ReadFull(rng, buf[:]); err != nil {
			return 0, fmt.Errorf("%w: decoy sampling: %v", errs.ErrInsufficientRandomness, err)
		}
		v := binary.BigEndian.Uint64(buf[:]) & mask
		if v < bound {
			return v, nil
		}
	}
}

// VerifyMembership checks that every member of set is accumulated under digest at the
// claimed positions. Only the digest is needed; the cost is O(N log n).
// All members are checked regardless of earlier failures.
func VerifyMembership(digest Hash, set *DecoySet) bool {
	n := len(set.Members)
	ok := n > 0 && len(set.Positions) == n && len(set.Paths) == n
	if !ok {
		return false
	}
	var root Hash
	for i := 0; i < n; i++ {
		if i > 0 {
			ok = ok && set.Positions[i] > set.Positions[i-1]
		}
		id := set.Members[i].ID()
		r, valid := RootFromPath(LeafHash(id[:]), set.Positions[i], set.Size, set.Paths[i])
		ok = valid && ok
		if i == 0 {
			root = r
		} else {
			ok = ok && r == root
		}
	}
	return ComputeDigest(set.Size, root) == digest && ok
}
