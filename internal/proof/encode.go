package proof

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"

	"anonpay/internal/commitment"
	"anonpay/internal/params"
	"anonpay/internal/wire"
)

// Bounds on decoded dimensions.
const (
	maxDepth  = 6
	maxRounds = 10
)

// EncodeTo appends the canonical body of p to w.
func (p *Proof) EncodeTo(w *wire.Writer) {
	depth := 0
	if len(p.Membership) > 0 {
		depth = len(p.Membership[0].F)
	}
	w.U8(uint8(len(p.Membership)))
	w.U8(uint8(depth))
	for i := range p.Membership {
		mp := &p.Membership[i]
		w.Commitment(mp.PseudoInput)
		w.Points(mp.CL)
		w.Points(mp.CA)
		w.Points(mp.CB)
		w.Points(mp.GD)
		w.Scalars(mp.F)
		w.Scalars(mp.ZA)
		w.Scalars(mp.ZB)
		w.Scalar(&mp.ZD)
	}
	rp := &p.Range
	w.Point(&rp.A)
	w.Point(&rp.S)
	w.Point(&rp.T1)
	w.Point(&rp.T2)
	w.Scalar(&rp.TauX)
	w.Scalar(&rp.Mu)
	w.Scalar(&rp.THat)
	w.U8(uint8(len(rp.L)))
	w.Points(rp.L)
	w.Points(rp.R)
	w.Scalar(&rp.A1)
	w.Scalar(&rp.B1)
}

// Encode returns the canonical enveloped encoding of p.
func (p *Proof) Encode() []byte {
	var w wire.Writer
	p.EncodeTo(&w)
	return wire.Seal(wire.KindProof, w.Bytes())
}

// DecodeFrom reads a proof body from r.
func DecodeFrom(r *wire.Reader) *Proof {
	perInput := func(depth int) int {
		return commitment.Size*(1+4*depth) + fr.Bytes*(3*depth+1)
	}
	n := r.Count(1, params.MaxInputs, perInput(1), "inputs")
	depth := int(r.U8())
	if r.Err() == nil && (depth < 1 || depth > maxDepth) {
		r.Failf("membership depth %d", depth)
	}
	if r.Err() != nil {
		return nil
	}

	p := &Proof{Membership: make([]MembershipProof, n)}
	for i := range p.Membership {
		mp := &p.Membership[i]
		mp.PseudoInput = r.Commitment()
		mp.CL = r.Points(depth)
		mp.CA = r.Points(depth)
		mp.CB = r.Points(depth)
		mp.GD = r.Points(depth)
		mp.F = r.Scalars(depth)
		mp.ZA = r.Scalars(depth)
		mp.ZB = r.Scalars(depth)
		mp.ZD = r.Scalar()
		if r.Err() != nil {
			return nil
		}
	}
	rp := &p.Range
	rp.A = r.Point()
	rp.S = r.Point()
	rp.T1 = r.Point()
	rp.T2 = r.Point()
	rp.TauX = r.Scalar()
	rp.Mu = r.Scalar()
	rp.THat = r.Scalar()
	k := r.Count(1, maxRounds, 2*commitment.Size, "rounds")
	if r.Err() != nil {
		return nil
	}
	rp.L = r.Points(k)
	rp.R = r.Points(k)
	rp.A1 = r.Scalar()
	rp.B1 = r.Scalar()
	if r.Err() != nil {
		return nil
	}
	return p
}

// Decode parses an enveloped proof. Any malformed, non-canonical or trailing input
// fails with errs.ErrFormat (or errs.ErrCurve for points off the subgroup).
func Decode(b []byte) (*Proof, error) {
	body, err := wire.Open(b, wire.KindProof)
	if err != nil {
		return nil, err
	}
	r := wire.NewReader(body)
	p := DecodeFrom(r)
	if err := r.Finish(); err != nil {
		return nil, fmt.Errorf("decode proof: %w", err)
	}
	return p, nil
}
