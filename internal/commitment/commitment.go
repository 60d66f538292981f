// commitment.go - Pedersen commitments over BLS12-377 G1.
//
// A commitment to amount v with blinding r is C = v·G + r·H, where G and H are
// hash-derived generators with no known discrete-log relation. Commitments are
// perfectly hiding, computationally binding, and additively homomorphic:
//
//	Commit(a1, r1) + Commit(a2, r2) == Commit(a1+a2, r1+r2)
//
// which is what the transaction balance check relies on.

package commitment

import (
	"encoding/hex"
	"fmt"
	"io"
	"math/big"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fp"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"

	"anonpay/internal/errs"
	"anonpay/internal/params"
)

// Size is the length of the canonical (compressed) encoding.
const Size = bls12377.SizeOfG1AffineCompressed

// ID is the canonical encoding of a commitment, usable as a map key.
type ID [Size]byte

func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Commitment is a Pedersen commitment. The zero value is the identity (a commitment to 0 with blinding 0).
type Commitment struct {
	point bls12377.G1Affine
}

// Opening is the secret behind a commitment.
type Opening struct {
	Amount   uint64
	Blinding fr.Element
}

// Wipe clears the opening.
func (o *Opening) Wipe() {
	o.Amount = 0
	o.Blinding.SetZero()
}

// FromPoint wraps a subgroup point. The caller is responsible for the point being valid.
func FromPoint(p bls12377.G1Affine) Commitment {
	return Commitment{point: p}
}

// Point returns the underlying group element.
func (c Commitment) Point() bls12377.G1Affine {
	return c.point
}

// Commit computes amount·G + blinding·H.
func Commit(amount uint64, blinding *fr.Element) Commitment {
	var a fr.Element
	a.SetUint64(amount)
	c := commitScalar(&a, blinding)
	a.SetZero()
	return c
}

// CommitScalar is Commit for an amount given as a scalar. It fails with ErrRange
// if the amount does not fit in AmountBits bits.
func CommitScalar(amount, blinding *fr.Element) (Commitment, error) {
	if !InRange(amount) {
		return Commitment{}, fmt.Errorf("commit: %w", errs.ErrRange)
	}
	return commitScalar(amount, blinding), nil
}

// InRange reports whether a scalar amount lies in [0, 2^AmountBits).
func InRange(amount *fr.Element) bool {
	k := amount.BigInt(new(big.Int))
	ok := k.BitLen() <= params.AmountBits
	clearBig(k)
	return ok
}

func commitScalar(amount, blinding *fr.Element) Commitment {
	gp, hp := params.G(), params.H()
	var vg, rh bls12377.G1Jac
	mulJac(&vg, &gp, amount)
	mulJac(&rh, &hp, blinding)
	vg.AddAssign(&rh)
	var c Commitment
	c.point.FromJacobian(&vg)
	return c
}

// New commits to amount under a fresh blinding drawn from rng (crypto/rand when nil).
// This is the production entry point: blindings are never reused.
func New(amount uint64, rng io.Reader) (Commitment, Opening, error) {
	r, err := RandomScalar(rng)
	if err != nil {
		return Commitment{}, Opening{}, err
	}
	return Commit(amount, &r), Opening{Amount: amount, Blinding: r}, nil
}

// Open reports whether c commits to (amount, blinding). Test and debug use only;
// verification always goes through proofs.
func Open(c Commitment, amount uint64, blinding *fr.Element) bool {
	expected := Commit(amount, blinding)
	return expected.Equal(c)
}

// Add returns c + d.
func (c Commitment) Add(d Commitment) Commitment {
	var out Commitment
	out.point.Add(&c.point, &d.point)
	return out
}

// Sub returns c - d.
func (c Commitment) Sub(d Commitment) Commitment {
	var out Commitment
	out.point.Sub(&c.point, &d.point)
	return out
}

// Equal reports whether both commitments are the same point.
func (c Commitment) Equal(d Commitment) bool {
	return c.point.Equal(&d.point)
}

// IsIdentity reports whether c is the group identity.
func (c Commitment) IsIdentity() bool {
	return c.point.IsInfinity()
}

// Bytes returns the canonical 48-byte encoding.
func (c Commitment) Bytes() [Size]byte {
	return c.point.Bytes()
}

// ID returns the canonical encoding as a map key.
func (c Commitment) ID() ID {
	return ID(c.point.Bytes())
}

func (c Commitment) String() string {
	b := c.Bytes()
	return hex.EncodeToString(b[:])
}

// Decode parses a canonical encoding.
// It fails with ErrFormat on a wrong length, an invalid flag, or a non-canonical coordinate,
// and with ErrCurve when the bytes do not name a point of the prime-order subgroup.
func Decode(b []byte) (Commitment, error) {
	p, err := DecodePoint(b)
	if err != nil {
		return Commitment{}, err
	}
	return Commitment{point: p}, nil
}

// DecodePoint parses a canonical compressed G1 point with the same rules as Decode.
func DecodePoint(b []byte) (bls12377.G1Affine, error) {
	var p bls12377.G1Affine
	if len(b) != Size {
		return p, fmt.Errorf("decode point: %w: length %d, want %d", errs.ErrFormat, len(b), Size)
	}
	switch b[0] & flagMask {
	case flagCompressedSmallest, flagCompressedLargest:
		var x [fp.Bytes]byte
		copy(x[:], b)
		x[0] &^= flagMask
		var xe fp.Element
		if err := xe.SetBytesCanonical(x[:]); err != nil {
			return p, fmt.Errorf("decode point: %w: non-canonical coordinate", errs.ErrFormat)
		}
	case flagCompressedInfinity:
	default:
		return p, fmt.Errorf("decode point: %w: invalid flags", errs.ErrFormat)
	}
	if _, err := p.SetBytes(b); err != nil {
		if b[0]&flagMask == flagCompressedInfinity {
			return p, fmt.Errorf("decode point: %w: %v", errs.ErrFormat, err)
		}
		return p, fmt.Errorf("decode point: %w: %v", errs.ErrCurve, err)
	}
	if enc := p.Bytes(); string(enc[:]) != string(b) {
		return p, fmt.Errorf("decode point: %w: non-canonical encoding", errs.ErrFormat)
	}
	return p, nil
}

// Compressed-encoding flags carried in the top three bits of the first byte.
const (
	flagMask               byte = 0b111 << 5
	flagCompressedSmallest byte = 0b100 << 5
	flagCompressedLargest  byte = 0b101 << 5
	flagCompressedInfinity byte = 0b110 << 5
)
