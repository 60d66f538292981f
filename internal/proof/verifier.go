package proof

import (
	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"golang.org/x/sync/errgroup"

	"anonpay/internal/accumulator"
	"anonpay/internal/errs"
	"anonpay/internal/params"
)

// Verify checks p against st. Every check is evaluated even after one fails, and any
// failure is reported as errs.ErrProofVerification with no further detail.
func Verify(p *Proof, st *Statement) error {
	if p == nil || st == nil || !shapeOK(p, st) {
		return errs.ErrProofVerification
	}

	_, rounds := rangeRounds(len(st.Outputs))
	tr := newTranscript(rounds)
	x, err := membershipChallenge(tr, st, p)
	if err != nil {
		return errs.ErrProofVerification
	}

	// Per-input checks are independent once x is known.
	results := make([]bool, len(st.Inputs))
	var g errgroup.Group
	for i := range st.Inputs {
		g.Go(func() error {
			set := st.Inputs[i].Decoys
			paths := set.Size == st.Size && accumulator.VerifyMembership(st.Digest, set)
			results[i] = verifyMembership(&p.Membership[i], set, &x) && paths
			return nil
		})
	}

	padded, _ := rangeRounds(len(st.Outputs))
	v := make([]bls12377.G1Affine, padded)
	for j := range st.Outputs {
		v[j] = st.Outputs[j].Point()
	}
	rangeOK, rangeErr := verifyRange(tr, &p.Range, v)
	balanceOK := verifyBalance(p, st)
	_ = g.Wait()

	ok := rangeErr == nil && rangeOK && balanceOK
	for _, r := range results {
		ok = r && ok
	}
	if !ok {
		return errs.ErrProofVerification
	}
	return nil
}

// shapeOK checks the structural agreement of p and st.
func shapeOK(p *Proof, st *Statement) bool {
	if !st.Level.Valid() {
		return false
	}
	if n := len(st.Inputs); n < 1 || n > params.MaxInputs || len(p.Membership) != n {
		return false
	}
	if n := len(st.Outputs); n < 1 || n > params.MaxOutputs {
		return false
	}
	depth := st.Level.Depth()
	for i := range st.Inputs {
		set := st.Inputs[i].Decoys
		if set == nil || set.Len() != st.Level.DecoyCount() {
			return false
		}
		if !p.Membership[i].shapeOK(depth) {
			return false
		}
	}
	return true
}

// verifyBalance checks sum(outputs) + fee·G - sum(pseudo-inputs) == 0.
func verifyBalance(p *Proof, st *Statement) bool {
	pts := make([]bls12377.G1Affine, 0, len(st.Outputs)+len(p.Membership)+1)
	sc := make([]fr.Element, 0, cap(pts))
	one, minusOne := scalarUint64(1), negate(scalarUint64(1))
	for _, c := range st.Outputs {
		pts = append(pts, c.Point())
		sc = append(sc, one)
	}
	for i := range p.Membership {
		pts = append(pts, p.Membership[i].PseudoInput.Point())
		sc = append(sc, minusOne)
	}
	pts = append(pts, params.G())
	sc = append(sc, scalarUint64(st.Fee))
	return isIdentity(msm(pts, sc))
}
