package commitment

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"

	"anonpay/internal/errs"
)

func mustScalar(t *testing.T, rng io.Reader) fr.Element {
	t.Helper()
	s, err := RandomScalar(rng)
	if err != nil {
		t.Fatalf("RandomScalar failed: %v", err)
	}
	return s
}

func TestCommitOpen(t *testing.T) {
	r := mustScalar(t, nil)
	c := Commit(42, &r)
	if !Open(c, 42, &r) {
		t.Fatalf("commitment should open to its own amount and blinding")
	}
	if Open(c, 43, &r) {
		t.Errorf("commitment must not open to a different amount")
	}
	other := mustScalar(t, nil)
	if Open(c, 42, &other) {
		t.Errorf("commitment must not open under a different blinding")
	}
}

func TestNewSamplesFreshBlinding(t *testing.T) {
	c1, o1, err := New(7, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	c2, o2, err := New(7, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if o1.Blinding.Equal(&o2.Blinding) || c1.Equal(c2) {
		t.Fatalf("two commitments to the same amount must use different blindings")
	}
	if !Open(c1, o1.Amount, &o1.Blinding) {
		t.Errorf("opening returned by New must open the commitment")
	}
	o1.Wipe()
	if o1.Amount != 0 || !o1.Blinding.IsZero() {
		t.Errorf("Wipe must clear the opening")
	}
}

func TestHomomorphism(t *testing.T) {
	rng := NewSeededReader([]byte("homomorphism"))
	for i := 0; i < 8; i++ {
		r1, r2 := mustScalar(t, rng), mustScalar(t, rng)
		a1, a2 := uint64(1000*i+3), uint64(1<<40+uint64(i))
		var rSum fr.Element
		rSum.Add(&r1, &r2)

		lhs := Commit(a1, &r1).Add(Commit(a2, &r2))
		rhs := Commit(a1+a2, &rSum)
		if !lhs.Equal(rhs) {
			t.Fatalf("iteration %d: Commit(a1,r1)+Commit(a2,r2) != Commit(a1+a2,r1+r2)", i)
		}
		if !lhs.Sub(Commit(a2, &r2)).Equal(Commit(a1, &r1)) {
			t.Fatalf("iteration %d: subtraction does not invert addition", i)
		}
	}
	var zero fr.Element
	if !Commit(0, &zero).IsIdentity() {
		t.Errorf("Commit(0,0) must be the identity")
	}
}

func TestCommitScalarRange(t *testing.T) {
	r := mustScalar(t, nil)

	var max fr.Element
	max.SetUint64(^uint64(0))
	c, err := CommitScalar(&max, &r)
	if err != nil {
		t.Fatalf("2^64-1 must be accepted: %v", err)
	}
	if !c.Equal(Commit(^uint64(0), &r)) {
		t.Errorf("CommitScalar and Commit disagree")
	}

	var over fr.Element
	over.SetUint64(1)
	for i := 0; i < 64; i++ {
		over.Double(&over)
	}
	if _, err := CommitScalar(&over, &r); !errors.Is(err, errs.ErrRange) {
		t.Errorf("2^64 must be rejected with ErrRange, got %v", err)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rng := NewSeededReader([]byte("roundtrip"))
	for i := 0; i < 16; i++ {
		c, _, err := New(uint64(i)*977, rng)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		b := c.Bytes()
		d, err := Decode(b[:])
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if !d.Equal(c) {
			t.Fatalf("decode(encode(c)) != c")
		}
	}

	var zero fr.Element
	id := Commit(0, &zero).Bytes()
	d, err := Decode(id[:])
	if err != nil || !d.IsIdentity() {
		t.Errorf("identity must round-trip, err=%v", err)
	}
}

func TestDecodeRejectsBitFlips(t *testing.T) {
	c, _, err := New(123456, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	orig := c.Bytes()

	accepted := 0
	for i := 0; i < Size*8; i++ {
		b := orig
		b[i/8] ^= 1 << (i % 8)
		d, err := Decode(b[:])
		if err == nil {
			// A flip may land on another valid point; it must then be a different commitment.
			if d.Equal(c) {
				t.Fatalf("bit %d: flipped encoding decoded to the original commitment", i)
			}
			accepted++
			continue
		}
		if !errors.Is(err, errs.ErrFormat) && !errors.Is(err, errs.ErrCurve) {
			t.Fatalf("bit %d: unexpected error class %v", i, err)
		}
	}
	// Roughly half of all x-coordinates lie on the curve but almost none of them in the subgroup.
	if accepted > 2 {
		t.Errorf("%d of %d bit flips decoded to valid points", accepted, Size*8)
	}
}

func TestDecodeMalformed(t *testing.T) {
	c, _, err := New(1, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	good := c.Bytes()

	tests := []struct {
		name string
		in   []byte
		want error
	}{
		{"empty", nil, errs.ErrFormat},
		{"short", good[:Size-1], errs.ErrFormat},
		{"long", append(good[:], 0), errs.ErrFormat},
		{"uncompressed flag", func() []byte { b := good; b[0] &^= 0b111 << 5; return b[:] }(), errs.ErrFormat},
		{"dirty infinity", func() []byte { var b [Size]byte; b[0] = 0b110 << 5; b[Size-1] = 1; return b[:] }(), errs.ErrFormat},
		{"coordinate above modulus", bytes.Repeat([]byte{0x9f}, Size), errs.ErrFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.in); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestCommitmentJSON(t *testing.T) {
	c, _, err := New(99, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	raw, err := json.Marshal(struct{ C Commitment }{c})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back struct{ C Commitment }
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.C.Equal(c) {
		t.Errorf("JSON round-trip changed the commitment")
	}
	if err := json.Unmarshal([]byte(`{"C":"AAAA"}`), &back); !errors.Is(err, errs.ErrFormat) {
		t.Errorf("short payload must fail with ErrFormat, got %v", err)
	}
}

func TestRandomScalarFailures(t *testing.T) {
	_, err := RandomScalar(bytes.NewReader(make([]byte, 10)))
	if !errors.Is(err, errs.ErrInsufficientRandomness) {
		t.Fatalf("short entropy must fail with ErrInsufficientRandomness, got %v", err)
	}

	a := NewSeededReader([]byte("seed"))
	b := NewSeededReader([]byte("seed"))
	sa, sb := mustScalar(t, a), mustScalar(t, b)
	if !sa.Equal(&sb) {
		t.Errorf("seeded readers with the same seed must agree")
	}

	dst := make([]fr.Element, 4)
	if err := RandomScalars(NewSeededReader([]byte("x")), dst); err != nil {
		t.Fatalf("RandomScalars: %v", err)
	}
	WipeSlice(dst)
	for i := range dst {
		if !dst[i].IsZero() {
			t.Fatalf("WipeSlice left scalar %d non-zero", i)
		}
	}
}
