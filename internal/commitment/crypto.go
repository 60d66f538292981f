// crypto.go - Scalar sampling, secret wiping, and small group helpers.
//
// Every secret scalar in the core is drawn through RandomScalar from a caller-supplied
// io.Reader (crypto/rand in production, a seeded stream in reproducibility tests) and
// cleared with Wipe once the value is no longer needed.

package commitment

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/zeebo/blake3"

	"anonpay/internal/errs"
)

// scalarSampleBytes is twice the field size so the reduction bias is negligible.
const scalarSampleBytes = 2 * fr.Bytes

// DefaultReader is the entropy source used when a caller passes a nil reader.
var DefaultReader io.Reader = rand.Reader

// RandomScalar draws a uniformly distributed scalar from rng.
// A nil rng means DefaultReader.
func RandomScalar(rng io.Reader) (fr.Element, error) {
	if rng == nil {
		rng = DefaultReader
	}
	var buf [scalarSampleBytes]byte
	defer clear(buf[:])
	if _, err := io.ReadFull(rng, buf[:]); err != nil {
		return fr.Element{}, fmt.Errorf("%w: %v", errs.ErrInsufficientRandomness, err)
	}
	var s fr.Element
	s.SetBytes(buf[:])
	return s, nil
}

// RandomScalars fills dst with independent random scalars, in order.
func RandomScalars(rng io.Reader, dst []fr.Element) error {
	for i := range dst {
		s, err := RandomScalar(rng)
		if err != nil {
			WipeSlice(dst[:i])
			return err
		}
		dst[i] = s
	}
	return nil
}

// WipeSlice overwrites every scalar of s with zero.
func WipeSlice(s []fr.Element) {
	for i := range s {
		s[i].SetZero()
	}
}

// Wipe overwrites the pointed-to scalars with zero.
func Wipe(scalars ...*fr.Element) {
	for _, s := range scalars {
		if s != nil {
			s.SetZero()
		}
	}
}

// NewSeededReader returns a deterministic byte stream derived from seed.
// Two readers with the same seed yield the same bytes; used to reproduce proofs bit for bit.
func NewSeededReader(seed []byte) io.Reader {
	h := blake3.NewDeriveKey(seededReaderContext)
	_, _ = h.Write(seed)
	return h.Digest()
}

const seededReaderContext = "anonpay/v1 seeded reader"

// mulJac sets p = s·base, clearing the temporary integer afterwards.
func mulJac(p *bls12377.G1Jac, base *bls12377.G1Affine, s *fr.Element) {
	k := s.BigInt(new(big.Int))
	p.FromAffine(base)
	p.ScalarMultiplication(p, k)
	clearBig(k)
}

func clearBig(k *big.Int) {
	words := k.Bits()
	for i := range words {
		words[i] = 0
	}
	k.SetInt64(0)
}
