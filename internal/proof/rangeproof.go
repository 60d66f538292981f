// rangeproof.go - Aggregated Bulletproofs range proof with a logarithmic inner-product argument.
//
// For value commitments V_j = v_j·G + gamma_j·H (j < M', M' a power of two) the proof shows
// every v_j lies in [0, 2^64). Vectors have length n·M' with n = 64; the inner-product
// argument runs log2(n·M') rounds. Verification is one linear check for t̂ and one
// multi-scalar multiplication for the inner product.

package proof

import (
	"math/bits"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"

	"anonpay/internal/commitment"
	"anonpay/internal/params"
)

// rangeRounds returns the padded output count and the number of inner-product rounds.
func rangeRounds(outputs int) (padded, rounds int) {
	padded = nextPow2(outputs)
	rounds = bits.Len(uint(params.AmountBits*padded)) - 1
	return padded, rounds
}

// rangeSecrets holds the prover-side scalars of one range proof. amounts and gammas
// are padded with zeros.
type rangeSecrets struct {
	amounts []uint64
	gammas  []fr.Element

	alpha, rho, tau1, tau2 fr.Element
	sL, sR                 []fr.Element
}

func newRangeSecrets(outputs []commitment.Opening) *rangeSecrets {
	padded, _ := rangeRounds(len(outputs))
	nm := params.AmountBits * padded
	rs := &rangeSecrets{
		amounts: make([]uint64, padded),
		gammas:  make([]fr.Element, padded),
		sL:      make([]fr.Element, nm),
		sR:      make([]fr.Element, nm),
	}
	for j := range outputs {
		rs.amounts[j] = outputs[j].Amount
		rs.gammas[j] = outputs[j].Blinding
	}
	return rs
}

// nonces returns the nonce scalars in draw order.
func (rs *rangeSecrets) nonces() []*fr.Element {
	out := []*fr.Element{&rs.alpha, &rs.rho}
	for i := range rs.sL {
		out = append(out, &rs.sL[i])
	}
	for i := range rs.sR {
		out = append(out, &rs.sR[i])
	}
	return append(out, &rs.tau1, &rs.tau2)
}

func (rs *rangeSecrets) wipe() {
	clear(rs.amounts)
	commitment.WipeSlice(rs.gammas)
	commitment.WipeSlice(rs.sL)
	commitment.WipeSlice(rs.sR)
	commitment.Wipe(&rs.alpha, &rs.rho, &rs.tau1, &rs.tau2)
}

// rangeCoefficients are the challenge-derived vectors shared by prover and verifier.
type rangeCoefficients struct {
	y, z   fr.Element
	yn     []fr.Element // y^i
	zp     []fr.Element // z^i for i < padded+3
	zpow2  []fr.Element // z^(2+j)·2^i at position j·n+i
	padded int
}

func newRangeCoefficients(y, z *fr.Element, padded int) *rangeCoefficients {
	n := params.AmountBits
	rc := &rangeCoefficients{
		y:      *y,
		z:      *z,
		yn:     powers(y, n*padded),
		zp:     powers(z, padded+3),
		zpow2:  make([]fr.Element, n*padded),
		padded: padded,
	}
	two := scalarUint64(2)
	twos := powers(&two, n)
	for j := 0; j < padded; j++ {
		for i := 0; i < n; i++ {
			rc.zpow2[j*n+i].Mul(&rc.zp[2+j], &twos[i])
		}
	}
	return rc
}

// delta is (z - z^2)·<1, y^nm> - sum_j z^(3+j)·(2^n - 1).
func (rc *rangeCoefficients) delta() fr.Element {
	var sumY, zz, d, t fr.Element
	for i := range rc.yn {
		sumY.Add(&sumY, &rc.yn[i])
	}
	zz.Sub(&rc.z, &rc.zp[2])
	d.Mul(&zz, &sumY)

	var ones fr.Element
	ones.SetUint64(^uint64(0))
	for j := 0; j < rc.padded; j++ {
		t.Mul(&rc.zp[3+j], &ones)
		d.Sub(&d, &t)
	}
	return d
}

// proveRange produces the range proof, continuing tr after the membership challenge.
func proveRange(tr *transcript, rs *rangeSecrets) (*RangeProof, error) {
	n := params.AmountBits
	padded, rounds := rangeRounds(len(rs.amounts))
	nm := n * padded
	gs, hs := params.VectorGenerators(nm)

	// aL holds the bits of every amount, aR = aL - 1.
	aL := make([]fr.Element, nm)
	aR := make([]fr.Element, nm)
	defer commitment.WipeSlice(aL)
	defer commitment.WipeSlice(aR)
	var one fr.Element
	one.SetOne()
	for j := 0; j < padded; j++ {
		for i := 0; i < n; i++ {
			aL[j*n+i].SetUint64((rs.amounts[j] >> i) & 1)
			aR[j*n+i].Sub(&aL[j*n+i], &one)
		}
	}

	basis := make([]bls12377.G1Affine, 0, 1+2*nm)
	basis = append(basis, params.H())
	basis = append(basis, gs...)
	basis = append(basis, hs...)

	scalars := make([]fr.Element, 0, 1+2*nm)
	defer func() { commitment.WipeSlice(scalars[:cap(scalars)]) }()

	rp := &RangeProof{}
	var err error
	scalars = append(append(append(scalars, rs.alpha), aL...), aR...)
	if rp.A, err = msmAffine(basis, scalars); err != nil {
		return nil, err
	}
	scalars = append(append(append(scalars[:0], rs.rho), rs.sL...), rs.sR...)
	if rp.S, err = msmAffine(basis, scalars); err != nil {
		return nil, err
	}

	if err := tr.bindPoints(challengeY, &rp.A, &rp.S); err != nil {
		return nil, err
	}
	y, err := tr.challenge(challengeY)
	if err != nil {
		return nil, err
	}
	z, err := tr.challenge(challengeZ)
	if err != nil {
		return nil, err
	}
	rc := newRangeCoefficients(&y, &z, padded)

	// l(X) = (aL - z) + sL·X
	// r(X) = y^n ∘ (aR + z + sR·X) + zpow2
	l0 := make([]fr.Element, nm)
	r0 := make([]fr.Element, nm)
	r1 := make([]fr.Element, nm)
	defer commitment.WipeSlice(l0)
	defer commitment.WipeSlice(r0)
	defer commitment.WipeSlice(r1)
	for i := 0; i < nm; i++ {
		l0[i].Sub(&aL[i], &z)
		r0[i].Add(&aR[i], &z).Mul(&r0[i], &rc.yn[i]).Add(&r0[i], &rc.zpow2[i])
		r1[i].Mul(&rs.sR[i], &rc.yn[i])
	}

	var t1, t2, tmp fr.Element
	defer commitment.Wipe(&t1, &t2, &tmp)
	t1 = innerProduct(l0, r1)
	tmp = innerProduct(rs.sL, r0)
	t1.Add(&t1, &tmp)
	t2 = innerProduct(rs.sL, r1)

	if rp.T1, err = pedersen(&t1, &rs.tau1); err != nil {
		return nil, err
	}
	if rp.T2, err = pedersen(&t2, &rs.tau2); err != nil {
		return nil, err
	}
	if err := tr.bindPoints(challengeX, &rp.T1, &rp.T2); err != nil {
		return nil, err
	}
	x, err := tr.challenge(challengeX)
	if err != nil {
		return nil, err
	}

	// tauX = tau2·x^2 + tau1·x + sum_j z^(2+j)·gamma_j
	var x2 fr.Element
	x2.Square(&x)
	rp.TauX.Mul(&rs.tau2, &x2)
	tmp.Mul(&rs.tau1, &x)
	rp.TauX.Add(&rp.TauX, &tmp)
	for j := 0; j < padded; j++ {
		tmp.Mul(&rc.zp[2+j], &rs.gammas[j])
		rp.TauX.Add(&rp.TauX, &tmp)
	}
	// mu = alpha + rho·x
	rp.Mu.Mul(&rs.rho, &x).Add(&rp.Mu, &rs.alpha)

	lv := make([]fr.Element, nm)
	rv := make([]fr.Element, nm)
	defer commitment.WipeSlice(lv)
	defer commitment.WipeSlice(rv)
	for i := 0; i < nm; i++ {
		lv[i].Mul(&rs.sL[i], &x).Add(&lv[i], &l0[i])
		rv[i].Mul(&r1[i], &x).Add(&rv[i], &r0[i])
	}
	rp.THat = innerProduct(lv, rv)

	if err := tr.bindScalars(challengeW, &rp.TauX, &rp.Mu, &rp.THat); err != nil {
		return nil, err
	}
	w, err := tr.challenge(challengeW)
	if err != nil {
		return nil, err
	}
	q := mul(params.U(), &w)

	var yInv fr.Element
	yInv.Inverse(&y)
	hPrime := scale(hs, powers(&yInv, nm))

	if err := proveInnerProduct(tr, rp, rounds, gs, hPrime, q, lv, rv); err != nil {
		return nil, err
	}
	return rp, nil
}

// proveInnerProduct runs the folding rounds on (a, b) and records L, R and the final scalars.
// a and b are overwritten.
func proveInnerProduct(tr *transcript, rp *RangeProof, rounds int, g, h []bls12377.G1Affine, q bls12377.G1Affine, a, b []fr.Element) error {
	rp.L = make([]bls12377.G1Affine, rounds)
	rp.R = make([]bls12377.G1Affine, rounds)
	var cL, cR, u, uInv, t fr.Element
	defer commitment.Wipe(&cL, &cR, &t)

	for j := 0; j < rounds; j++ {
		half := len(a) / 2
		aLo, aHi := a[:half], a[half:]
		bLo, bHi := b[:half], b[half:]
		gLo, gHi := g[:half], g[half:]
		hLo, hHi := h[:half], h[half:]

		cL = innerProduct(aLo, bHi)
		cR = innerProduct(aHi, bLo)

		var err error
		pts := make([]bls12377.G1Affine, 0, 2*half+1)
		sc := make([]fr.Element, 0, 2*half+1)
		pts = append(append(append(pts, gHi...), hLo...), q)
		sc = append(append(append(sc, aLo...), bHi...), cL)
		if rp.L[j], err = msmAffine(pts, sc); err != nil {
			commitment.WipeSlice(sc)
			return err
		}
		pts = append(append(append(pts[:0], gLo...), hHi...), q)
		sc = append(append(append(sc[:0], aHi...), bLo...), cR)
		if rp.R[j], err = msmAffine(pts, sc); err != nil {
			commitment.WipeSlice(sc)
			return err
		}
		commitment.WipeSlice(sc)

		id := roundID(j)
		if err := tr.bindPoints(id, &rp.L[j], &rp.R[j]); err != nil {
			return err
		}
		if u, err = tr.challenge(id); err != nil {
			return err
		}
		uInv.Inverse(&u)

		// a' = u·aLo + u⁻¹·aHi, b' = u⁻¹·bLo + u·bHi
		for i := 0; i < half; i++ {
			t.Mul(&aHi[i], &uInv)
			aLo[i].Mul(&aLo[i], &u).Add(&aLo[i], &t)
			t.Mul(&bHi[i], &u)
			bLo[i].Mul(&bLo[i], &uInv).Add(&bLo[i], &t)
		}
		commitment.WipeSlice(aHi)
		commitment.WipeSlice(bHi)
		a, b = aLo, bLo
		g = fold(gLo, gHi, &uInv, &u)
		h = fold(hLo, hHi, &u, &uInv)
	}
	rp.A1, rp.B1 = a[0], b[0]
	return nil
}

// verifyRange recomputes the range challenges from tr and checks rp against the padded
// value commitments v. A transcript failure is reported as an error.
func verifyRange(tr *transcript, rp *RangeProof, v []bls12377.G1Affine) (bool, error) {
	n := params.AmountBits
	padded, rounds := rangeRounds(len(v))
	if padded != len(v) || len(rp.L) != rounds || len(rp.R) != rounds {
		return false, nil
	}
	nm := n * padded

	if err := tr.bindPoints(challengeY, &rp.A, &rp.S); err != nil {
		return false, err
	}
	y, err := tr.challenge(challengeY)
	if err != nil {
		return false, err
	}
	z, err := tr.challenge(challengeZ)
	if err != nil {
		return false, err
	}
	if err := tr.bindPoints(challengeX, &rp.T1, &rp.T2); err != nil {
		return false, err
	}
	x, err := tr.challenge(challengeX)
	if err != nil {
		return false, err
	}
	if err := tr.bindScalars(challengeW, &rp.TauX, &rp.Mu, &rp.THat); err != nil {
		return false, err
	}
	w, err := tr.challenge(challengeW)
	if err != nil {
		return false, err
	}
	u := make([]fr.Element, rounds)
	for j := 0; j < rounds; j++ {
		id := roundID(j)
		if err := tr.bindPoints(id, &rp.L[j], &rp.R[j]); err != nil {
			return false, err
		}
		if u[j], err = tr.challenge(id); err != nil {
			return false, err
		}
	}
	rc := newRangeCoefficients(&y, &z, padded)

	// t̂·G + tauX·H - sum_j z^(2+j)·V_j - delta·G - x·T1 - x^2·T2 == 0
	var x2, tg fr.Element
	x2.Square(&x)
	d := rc.delta()
	tg.Sub(&rp.THat, &d)
	pts := []bls12377.G1Affine{params.G(), params.H(), rp.T1, rp.T2}
	sc := []fr.Element{tg, rp.TauX, negate(x), negate(x2)}
	for j := range v {
		pts = append(pts, v[j])
		sc = append(sc, negate(rc.zp[2+j]))
	}
	ok := isIdentity(msm(pts, sc))

	// Inner-product check folded into one multi-scalar multiplication:
	//   sum_i (a·s_i + z)·Gs_i + sum_i (y^-i·(b·s_i^-1 - zpow2_i) - z)·Hs_i
	//   + w·(ab - t̂)·U + mu·H - A - x·S - sum_j (u_j^2·L_j + u_j^-2·R_j) == 0
	uInv := fr.BatchInvert(u)
	uSq := make([]fr.Element, rounds)
	uInvSq := make([]fr.Element, rounds)
	for j := range u {
		uSq[j].Square(&u[j])
		uInvSq[j].Square(&uInv[j])
	}
	s := make([]fr.Element, nm)
	sInv := make([]fr.Element, nm)
	s[0].SetOne()
	sInv[0].SetOne()
	for j := 0; j < rounds; j++ {
		s[0].Mul(&s[0], &uInv[j])
		sInv[0].Mul(&sInv[0], &u[j])
	}
	for i := 1; i < nm; i++ {
		p := bits.Len(uint(i)) - 1
		s[i].Mul(&s[i-(1<<p)], &uSq[rounds-1-p])
		sInv[i].Mul(&sInv[i-(1<<p)], &uInvSq[rounds-1-p])
	}

	var yInv fr.Element
	yInv.Inverse(&y)
	yInvN := powers(&yInv, nm)

	gs, hs := params.VectorGenerators(nm)
	size := 2*nm + 4 + 2*rounds
	pts = make([]bls12377.G1Affine, 0, size)
	sc = make([]fr.Element, 0, size)
	var t fr.Element
	for i := 0; i < nm; i++ {
		t.Mul(&rp.A1, &s[i]).Add(&t, &z)
		sc = append(sc, t)
	}
	pts = append(pts, gs...)
	for i := 0; i < nm; i++ {
		t.Mul(&rp.B1, &sInv[i]).Sub(&t, &rc.zpow2[i]).Mul(&t, &yInvN[i]).Sub(&t, &z)
		sc = append(sc, t)
	}
	pts = append(pts, hs...)

	var ab fr.Element
	ab.Mul(&rp.A1, &rp.B1).Sub(&ab, &rp.THat).Mul(&ab, &w)
	pts = append(pts, params.U(), params.H(), rp.A, rp.S)
	sc = append(sc, ab, rp.Mu, negate(scalarUint64(1)), negate(x))
	for j := 0; j < rounds; j++ {
		pts = append(pts, rp.L[j], rp.R[j])
		sc = append(sc, negate(uSq[j]), negate(uInvSq[j]))
	}
	ok = isIdentity(msm(pts, sc)) && ok
	return ok, nil
}
