// membership.go - One-of-many proof over a decoy set.
//
// For a set C_0..C_{N-1} (N = 2^m) and a pseudo-input C', the prover shows it knows an
// index l and a scalar rho with C_l - C' = rho·H. The index is committed bit by bit
// (CL, CA, CB) and the polynomial coefficients of the selector are masked into GD.
// Every position is processed with the same sequence of operations; the secret index
// only ever appears as the scalar value of its bits.

package proof

import (
	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"

	"anonpay/internal/accumulator"
	"anonpay/internal/commitment"
	"anonpay/internal/params"
)

// membershipSecrets holds the prover-side scalars of one membership proof.
type membershipSecrets struct {
	bits []fr.Element // index bits, least significant first, each 0 or 1
	rho  fr.Element   // blinding difference between the real member and the pseudo-input

	a, r, s, t []fr.Element
	rhoD       []fr.Element
}

func newMembershipSecrets(depth int) *membershipSecrets {
	return &membershipSecrets{
		bits: make([]fr.Element, depth),
		a:    make([]fr.Element, depth),
		r:    make([]fr.Element, depth),
		s:    make([]fr.Element, depth),
		t:    make([]fr.Element, depth),
		rhoD: make([]fr.Element, depth),
	}
}

// setIndex encodes index as scalar bits.
func (ms *membershipSecrets) setIndex(index int) {
	for j := range ms.bits {
		ms.bits[j].SetUint64(uint64(index>>j) & 1)
	}
}

// nonces returns the nonce vectors in draw order.
func (ms *membershipSecrets) nonces() [][]fr.Element {
	return [][]fr.Element{ms.a, ms.r, ms.s, ms.t, ms.rhoD}
}

func (ms *membershipSecrets) wipe() {
	commitment.WipeSlice(ms.bits)
	for _, v := range ms.nonces() {
		commitment.WipeSlice(v)
	}
	ms.rho.SetZero()
}

// selectorCoefficients returns, for every position k, the coefficients (degree 0..m)
// of p_k(X) = prod_j f_{j,k_j}(X), with f_{j,1} = l_j·X + a_j and f_{j,0} = X - f_{j,1}.
func selectorCoefficients(bits, a []fr.Element) [][]fr.Element {
	m := len(bits)
	coeffs := [][]fr.Element{make([]fr.Element, m+1)}
	coeffs[0][0].SetOne()

	var one fr.Element
	one.SetOne()
	for j := 0; j < m; j++ {
		var lo0, lo1, hi0, hi1 fr.Element
		lo0.Neg(&a[j])          // bit 0: -a_j
		lo1.Sub(&one, &bits[j]) //        (1 - l_j)·X
		hi0.Set(&a[j])          // bit 1: a_j
		hi1.Set(&bits[j])       //        l_j·X

		half := len(coeffs)
		next := make([][]fr.Element, 2*half)
		for k := 0; k < half; k++ {
			next[k] = mulLinear(coeffs[k], &lo0, &lo1)
			next[k+half] = mulLinear(coeffs[k], &hi0, &hi1)
		}
		for k := range coeffs {
			commitment.WipeSlice(coeffs[k])
		}
		coeffs = next
	}
	return coeffs
}

// mulLinear returns p(X)·(c0 + c1·X), keeping the length of p.
func mulLinear(p []fr.Element, c0, c1 *fr.Element) []fr.Element {
	out := make([]fr.Element, len(p))
	var t fr.Element
	for d := range p {
		out[d].Mul(&p[d], c0)
		if d > 0 {
			t.Mul(&p[d-1], c1)
			out[d].Add(&out[d], &t)
		}
	}
	return out
}

// commitMembership computes the first-round messages of one membership proof.
func commitMembership(set *accumulator.DecoySet, pseudo commitment.Commitment, ms *membershipSecrets) (*MembershipProof, error) {
	m := len(ms.bits)
	mp := &MembershipProof{
		PseudoInput: pseudo,
		CL:          make([]bls12377.G1Affine, m),
		CA:          make([]bls12377.G1Affine, m),
		CB:          make([]bls12377.G1Affine, m),
		GD:          make([]bls12377.G1Affine, m),
	}
	var err error
	var la fr.Element
	defer la.SetZero()
	for j := 0; j < m; j++ {
		if mp.CL[j], err = pedersen(&ms.bits[j], &ms.r[j]); err != nil {
			return nil, err
		}
		if mp.CA[j], err = pedersen(&ms.a[j], &ms.s[j]); err != nil {
			return nil, err
		}
		la.Mul(&ms.bits[j], &ms.a[j])
		if mp.CB[j], err = pedersen(&la, &ms.t[j]); err != nil {
			return nil, err
		}
	}

	coeffs := selectorCoefficients(ms.bits, ms.a)
	defer func() {
		for k := range coeffs {
			commitment.WipeSlice(coeffs[k])
		}
	}()

	n := set.Len()
	points := make([]bls12377.G1Affine, n+1)
	for k := 0; k < n; k++ {
		points[k] = set.Members[k].Point()
	}
	points[n] = params.H()
	scalars := make([]fr.Element, n+1)
	defer commitment.WipeSlice(scalars)
	for d := 0; d < m; d++ {
		for k := 0; k < n; k++ {
			scalars[k] = coeffs[k][d]
		}
		scalars[n] = ms.rhoD[d]
		if mp.GD[d], err = msmAffine(points, scalars); err != nil {
			return nil, err
		}
	}
	return mp, nil
}

// respondMembership fills in the responses for challenge x.
func respondMembership(mp *MembershipProof, ms *membershipSecrets, x *fr.Element) {
	m := len(ms.bits)
	mp.F = make([]fr.Element, m)
	mp.ZA = make([]fr.Element, m)
	mp.ZB = make([]fr.Element, m)

	var t fr.Element
	for j := 0; j < m; j++ {
		// f = l·x + a
		mp.F[j].Mul(&ms.bits[j], x).Add(&mp.F[j], &ms.a[j])
		// za = r·x + s
		mp.ZA[j].Mul(&ms.r[j], x).Add(&mp.ZA[j], &ms.s[j])
		// zb = r·(x - f) + t
		t.Sub(x, &mp.F[j])
		mp.ZB[j].Mul(&ms.r[j], &t).Add(&mp.ZB[j], &ms.t[j])
	}

	// zd = rho·x^m - sum_d rhoD_d·x^d
	xs := powers(x, m+1)
	mp.ZD.Mul(&ms.rho, &xs[m])
	for d := 0; d < m; d++ {
		t.Mul(&ms.rhoD[d], &xs[d])
		mp.ZD.Sub(&mp.ZD, &t)
	}
	t.SetZero()
}

// selectorEvaluations returns e_k = prod_j (k_j ? f_j : x - f_j) for every k < 2^len(f).
func selectorEvaluations(f []fr.Element, x *fr.Element) []fr.Element {
	e := make([]fr.Element, 1, 1<<len(f))
	e[0].SetOne()
	var f0 fr.Element
	for j := range f {
		f0.Sub(x, &f[j])
		half := len(e)
		e = e[:2*half]
		for k := 0; k < half; k++ {
			e[k+half].Mul(&e[k], &f[j])
			e[k].Mul(&e[k], &f0)
		}
	}
	return e
}

// shapeOK reports whether mp has the dimensions of a proof of the given depth.
func (mp *MembershipProof) shapeOK(depth int) bool {
	return len(mp.CL) == depth && len(mp.CA) == depth && len(mp.CB) == depth && len(mp.GD) == depth &&
		len(mp.F) == depth && len(mp.ZA) == depth && len(mp.ZB) == depth
}

// verifyMembership checks one membership proof against its decoy set for challenge x.
// Every equation is evaluated.
func verifyMembership(mp *MembershipProof, set *accumulator.DecoySet, x *fr.Element) bool {
	m := len(mp.F)
	if set.Len() != 1<<m {
		return false
	}
	g, h := params.G(), params.H()
	ok := true
	var t fr.Element
	for j := 0; j < m; j++ {
		// x·CL + CA - f·G - za·H == 0
		ok = isIdentity(msm(
			[]bls12377.G1Affine{mp.CL[j], mp.CA[j], g, h},
			[]fr.Element{*x, scalarUint64(1), negate(mp.F[j]), negate(mp.ZA[j])},
		)) && ok
		// (x - f)·CL + CB - zb·H == 0
		t.Sub(x, &mp.F[j])
		ok = isIdentity(msm(
			[]bls12377.G1Affine{mp.CL[j], mp.CB[j], h},
			[]fr.Element{t, scalarUint64(1), negate(mp.ZB[j])},
		)) && ok
	}

	// sum_k e_k·C_k - x^m·C' - sum_d x^d·GD_d - zd·H == 0
	e := selectorEvaluations(mp.F, x)
	xs := powers(x, m+1)
	n := set.Len()
	points := make([]bls12377.G1Affine, 0, n+m+2)
	scalars := make([]fr.Element, 0, n+m+2)
	for k := 0; k < n; k++ {
		points = append(points, set.Members[k].Point())
		scalars = append(scalars, e[k])
	}
	points = append(points, mp.PseudoInput.Point())
	scalars = append(scalars, negate(xs[m]))
	for d := 0; d < m; d++ {
		points = append(points, mp.GD[d])
		scalars = append(scalars, negate(xs[d]))
	}
	points = append(points, h)
	scalars = append(scalars, negate(mp.ZD))
	return isIdentity(msm(points, scalars)) && ok
}
