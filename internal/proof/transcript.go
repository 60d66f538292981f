package proof

import (
	"encoding/binary"
	"fmt"
	"strconv"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	fiatshamir "github.com/consensys/gnark-crypto/fiat-shamir"
	"github.com/zeebo/blake3"

	"anonpay/internal/errs"
	"anonpay/internal/params"
)

// Challenge identifiers, in transcript order. The range-proof folding challenges follow
// as "u0", "u1", ...
const (
	challengeMembership = "membership"
	challengeY          = "y"
	challengeZ          = "z"
	challengeX          = "x"
	challengeW          = "w"
)

var challengeDST = []byte(params.DomainTag + "/challenge")

// transcript is the single Fiat-Shamir transcript shared by all sub-proofs of one JoinSplit.
// Prover and verifier drive it through the same sequence of binds and challenges.
type transcript struct {
	fs *fiatshamir.Transcript
}

func roundID(j int) string {
	return "u" + strconv.Itoa(j)
}

// newTranscript declares every challenge up front; rounds is the number of inner-product rounds.
func newTranscript(rounds int) *transcript {
	ids := []string{challengeMembership, challengeY, challengeZ, challengeX, challengeW}
	for j := 0; j < rounds; j++ {
		ids = append(ids, roundID(j))
	}
	return &transcript{fs: fiatshamir.NewTranscript(blake3.New(), ids...)}
}

func (t *transcript) bind(id string, data []byte) error {
	if err := t.fs.Bind(id, data); err != nil {
		return fmt.Errorf("transcript bind %s: %w", id, err)
	}
	return nil
}

func (t *transcript) bindUint64(id string, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return t.bind(id, b[:])
}

func (t *transcript) bindPoints(id string, pts ...*bls12377.G1Affine) error {
	for _, p := range pts {
		b := p.Bytes()
		if err := t.bind(id, b[:]); err != nil {
			return err
		}
	}
	return nil
}

func (t *transcript) bindScalars(id string, ss ...*fr.Element) error {
	for _, s := range ss {
		b := s.Bytes()
		if err := t.bind(id, b[:]); err != nil {
			return err
		}
	}
	return nil
}

// challenge computes the challenge id and maps it to a non-zero scalar.
func (t *transcript) challenge(id string) (fr.Element, error) {
	raw, err := t.fs.ComputeChallenge(id)
	if err != nil {
		return fr.Element{}, fmt.Errorf("transcript challenge %s: %w", id, err)
	}
	out, err := fr.Hash(raw, challengeDST, 1)
	if err != nil {
		return fr.Element{}, fmt.Errorf("transcript challenge %s: %w", id, err)
	}
	if out[0].IsZero() {
		return fr.Element{}, fmt.Errorf("transcript challenge %s: %w: zero challenge", id, errs.ErrProofVerification)
	}
	return out[0], nil
}

// bindStatement seeds the first challenge with the full public context.
func (t *transcript) bindStatement(st *Statement) error {
	id := challengeMembership
	if err := t.bind(id, []byte(params.DomainTag)); err != nil {
		return err
	}
	if err := t.bind(id, []byte{params.Version, byte(st.Level)}); err != nil {
		return err
	}
	if err := t.bind(id, st.Digest[:]); err != nil {
		return err
	}
	for _, v := range []uint64{st.Epoch, st.Size, st.Fee, uint64(len(st.Inputs)), uint64(len(st.Outputs))} {
		if err := t.bindUint64(id, v); err != nil {
			return err
		}
	}
	for i := range st.Inputs {
		in := &st.Inputs[i]
		if err := t.bind(id, in.Serial[:]); err != nil {
			return err
		}
		if err := t.bindUint64(id, uint64(in.Decoys.Len())); err != nil {
			return err
		}
		for k, pos := range in.Decoys.Positions {
			if err := t.bindUint64(id, pos); err != nil {
				return err
			}
			b := in.Decoys.Members[k].Bytes()
			if err := t.bind(id, b[:]); err != nil {
				return err
			}
		}
	}
	for _, c := range st.Outputs {
		b := c.Bytes()
		if err := t.bind(id, b[:]); err != nil {
			return err
		}
	}
	return nil
}

// bindMembership binds one input's first-round membership messages.
func (t *transcript) bindMembership(mp *MembershipProof) error {
	id := challengeMembership
	pi := mp.PseudoInput.Point()
	if err := t.bindPoints(id, &pi); err != nil {
		return err
	}
	for j := range mp.CL {
		if err := t.bindPoints(id, &mp.CL[j], &mp.CA[j], &mp.CB[j], &mp.GD[j]); err != nil {
			return err
		}
	}
	return nil
}
