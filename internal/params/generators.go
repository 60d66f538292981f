package params

import (
	"fmt"
	"sync"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
)

// VectorSize is the number of vector generators needed by the largest aggregated range proof.
const VectorSize = AmountBits * MaxOutputs

var generatorDST = []byte(DomainTag + "/generators")

var (
	baseOnce sync.Once
	g, h, u  bls12377.G1Affine

	vectorOnce sync.Once
	gs, hs     []bls12377.G1Affine
)

// hashToPoint derives a generator from a label. Hash-to-curve output has no known
// discrete-log relation to any other label's output.
func hashToPoint(label string) bls12377.G1Affine {
	p, err := bls12377.HashToG1([]byte(label), generatorDST)
	if err != nil {
		// HashToG1 only fails on an oversized DST, which is a constant here.
		panic(fmt.Sprintf("params: deriving generator %q: %v", label, err))
	}
	return p
}

func initBase() {
	g = hashToPoint("G")
	h = hashToPoint("H")
	u = hashToPoint("U")
}

// G returns the value generator.
func G() bls12377.G1Affine {
	baseOnce.Do(initBase)
	return g
}

// H returns the blinding generator.
func H() bls12377.G1Affine {
	baseOnce.Do(initBase)
	return h
}

// U returns the inner-product generator of the range proof.
func U() bls12377.G1Affine {
	baseOnce.Do(initBase)
	return u
}

// VectorGenerators returns the first n range-proof vector generators (Gs, Hs).
// The returned slices are shared and must not be modified.
func VectorGenerators(n int) (gv, hv []bls12377.G1Affine) {
	if n < 0 || n > VectorSize {
		panic(fmt.Sprintf("params: vector generator count %d out of range", n))
	}
	vectorOnce.Do(func() {
		gs = make([]bls12377.G1Affine, VectorSize)
		hs = make([]bls12377.G1Affine, VectorSize)
		for i := 0; i < VectorSize; i++ {
			gs[i] = hashToPoint(fmt.Sprintf("Gs/%d", i))
			hs[i] = hashToPoint(fmt.Sprintf("Hs/%d", i))
		}
	})
	return gs[:n:n], hs[:n:n]
}
