package joinsplit

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"

	"anonpay/internal/accumulator"
	"anonpay/internal/commitment"
	"anonpay/internal/params"
	"anonpay/internal/proof"
	"anonpay/internal/wire"
)

// ID identifies a JoinSplit: the blake3 hash of its canonical encoding.
type ID [32]byte

func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// ID returns the transaction identifier.
func (js *JoinSplit) ID() ID {
	return blake3.Sum256(js.Encode())
}

// maxPathLength bounds audit paths in a decoded decoy set.
const maxPathLength = 64

// Encode returns the canonical encoding:
//
//	level(1) | epoch(8) | size(8) | digest(32) | fee(8)
//	inputs(1) | per input: serial(32) | per member: position(8) | commitment(48) | path
//	outputs(1) | commitment(48)...
//	proof body
//
// The decoy count follows from the level and each path length from (position, size).
func (js *JoinSplit) Encode() []byte {
	st := &js.statement
	var w wire.Writer
	w.U8(uint8(st.Level))
	w.U64(st.Epoch)
	w.U64(st.Size)
	w.Raw(st.Digest[:])
	w.U64(st.Fee)
	w.U8(uint8(len(st.Inputs)))
	for i := range st.Inputs {
		in := &st.Inputs[i]
		w.Raw(in.Serial[:])
		for k, pos := range in.Decoys.Positions {
			w.U64(pos)
			w.Commitment(in.Decoys.Members[k])
			for _, h := range in.Decoys.Paths[k] {
				w.Raw(h[:])
			}
		}
	}
	w.U8(uint8(len(st.Outputs)))
	for _, c := range st.Outputs {
		w.Commitment(c)
	}
	js.proof.EncodeTo(&w)
	return wire.Seal(wire.KindJoinSplit, w.Bytes())
}

// Decode parses a canonical JoinSplit. Malformed input fails with errs.ErrFormat,
// or errs.ErrCurve for a point outside the subgroup.
func Decode(b []byte) (*JoinSplit, error) {
	body, err := wire.Open(b, wire.KindJoinSplit)
	if err != nil {
		return nil, err
	}
	r := wire.NewReader(body)
	js, err := decodeBody(r)
	if err != nil {
		return nil, fmt.Errorf("decode joinsplit: %w", err)
	}
	if err := r.Finish(); err != nil {
		return nil, fmt.Errorf("decode joinsplit: %w", err)
	}
	return js, nil
}

func decodeBody(r *wire.Reader) (*JoinSplit, error) {
	var st proof.Statement
	st.Level = params.PrivacyLevel(r.U8())
	if r.Err() == nil && !st.Level.Valid() {
		r.Failf("privacy level %d", st.Level)
	}
	st.Epoch = r.U64()
	st.Size = r.U64()
	copy(st.Digest[:], r.Raw(accumulator.HashSize))
	st.Fee = r.U64()
	if r.Err() != nil {
		return nil, r.Err()
	}

	n := st.Level.DecoyCount()
	perInput := proof.SerialSize + n*(8+commitment.Size)
	nin := r.Count(1, params.MaxInputs, perInput, "inputs")
	st.Inputs = make([]proof.InputStatement, nin)
	for i := range st.Inputs {
		in := &st.Inputs[i]
		copy(in.Serial[:], r.Raw(proof.SerialSize))
		set := &accumulator.DecoySet{
			Size:      st.Size,
			Positions: make([]uint64, n),
			Members:   make([]commitment.Commitment, n),
			Paths:     make([][]accumulator.Hash, n),
		}
		for k := 0; k < n; k++ {
			set.Positions[k] = r.U64()
			set.Members[k] = r.Commitment()
			if r.Err() != nil {
				return nil, r.Err()
			}
			if set.Positions[k] >= st.Size {
				r.Failf("decoy position %d beyond size %d", set.Positions[k], st.Size)
				return nil, r.Err()
			}
			plen := accumulator.PathLength(set.Positions[k], st.Size)
			if plen > maxPathLength {
				r.Failf("path length %d", plen)
				return nil, r.Err()
			}
			set.Paths[k] = make([]accumulator.Hash, plen)
			for d := range set.Paths[k] {
				copy(set.Paths[k][d][:], r.Raw(accumulator.HashSize))
			}
		}
		in.Decoys = set
	}
	if r.Err() != nil {
		return nil, r.Err()
	}

	nout := r.Count(1, params.MaxOutputs, commitment.Size, "outputs")
	st.Outputs = make([]commitment.Commitment, nout)
	for j := range st.Outputs {
		st.Outputs[j] = r.Commitment()
	}
	if r.Err() != nil {
		return nil, r.Err()
	}

	p := proof.DecodeFrom(r)
	if r.Err() != nil {
		return nil, r.Err()
	}
	return &JoinSplit{statement: st, proof: p}, nil
}
