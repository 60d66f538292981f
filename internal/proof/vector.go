package proof

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"

	"anonpay/internal/params"
)

// powers returns [1, x, x^2, ..., x^(n-1)].
func powers(x *fr.Element, n int) []fr.Element {
	out := make([]fr.Element, n)
	if n == 0 {
		return out
	}
	out[0].SetOne()
	for i := 1; i < n; i++ {
		out[i].Mul(&out[i-1], x)
	}
	return out
}

func innerProduct(a, b []fr.Element) fr.Element {
	var acc, t fr.Element
	for i := range a {
		t.Mul(&a[i], &b[i])
		acc.Add(&acc, &t)
	}
	return acc
}

// msm computes sum(scalars[i]·points[i]).
func msm(points []bls12377.G1Affine, scalars []fr.Element) (bls12377.G1Jac, error) {
	var res bls12377.G1Jac
	if len(points) != len(scalars) {
		return res, fmt.Errorf("msm: %d points, %d scalars", len(points), len(scalars))
	}
	if len(points) == 0 {
		return infinity(), nil
	}
	if _, err := res.MultiExp(points, scalars, ecc.MultiExpConfig{}); err != nil {
		return res, fmt.Errorf("msm: %w", err)
	}
	return res, nil
}

// msmAffine is msm with an affine result.
func msmAffine(points []bls12377.G1Affine, scalars []fr.Element) (bls12377.G1Affine, error) {
	var out bls12377.G1Affine
	j, err := msm(points, scalars)
	if err != nil {
		return out, err
	}
	out.FromJacobian(&j)
	return out, nil
}

// isIdentity reports whether an msm result is the identity, treating errors as failure.
func isIdentity(p bls12377.G1Jac, err error) bool {
	if err != nil {
		return false
	}
	return p.Z.IsZero()
}

func infinity() bls12377.G1Jac {
	var p bls12377.G1Jac
	p.X.SetOne()
	p.Y.SetOne()
	return p
}

// fold returns x·lo[i] + y·hi[i] for every i.
func fold(lo, hi []bls12377.G1Affine, x, y *fr.Element) []bls12377.G1Affine {
	xb, yb := x.BigInt(new(big.Int)), y.BigInt(new(big.Int))
	jac := make([]bls12377.G1Jac, len(lo))
	var t bls12377.G1Jac
	for i := range lo {
		jac[i].FromAffine(&lo[i])
		jac[i].ScalarMultiplication(&jac[i], xb)
		t.FromAffine(&hi[i])
		t.ScalarMultiplication(&t, yb)
		jac[i].AddAssign(&t)
	}
	return bls12377.BatchJacobianToAffineG1(jac)
}

func scalarUint64(v uint64) fr.Element {
	var s fr.Element
	s.SetUint64(v)
	return s
}

func negate(s fr.Element) fr.Element {
	var n fr.Element
	n.Neg(&s)
	return n
}

// scale returns s[i]·p[i] for every i.
func scale(p []bls12377.G1Affine, s []fr.Element) []bls12377.G1Affine {
	jac := make([]bls12377.G1Jac, len(p))
	k := new(big.Int)
	for i := range p {
		s[i].BigInt(k)
		jac[i].FromAffine(&p[i])
		jac[i].ScalarMultiplication(&jac[i], k)
	}
	return bls12377.BatchJacobianToAffineG1(jac)
}

// pedersen returns v·G + r·H as an affine point.
func pedersen(v, r *fr.Element) (bls12377.G1Affine, error) {
	return msmAffine(baseGH(), []fr.Element{*v, *r})
}

func baseGH() []bls12377.G1Affine {
	return []bls12377.G1Affine{params.G(), params.H()}
}

// nextPow2 returns the smallest power of two >= n, for n >= 1.
func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// mul returns s·p.
func mul(p bls12377.G1Affine, s *fr.Element) bls12377.G1Affine {
	var j bls12377.G1Jac
	j.FromAffine(&p)
	j.ScalarMultiplication(&j, s.BigInt(new(big.Int)))
	var out bls12377.G1Affine
	out.FromJacobian(&j)
	return out
}
