package proof

import (
	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"

	"anonpay/internal/accumulator"
	"anonpay/internal/commitment"
	"anonpay/internal/params"
	"anonpay/internal/witness"
)

// InputStatement is the public part of one spent input.
type InputStatement struct {
	Serial SerialNumber
	Decoys *accumulator.DecoySet
}

// Statement is everything a verifier needs besides the proof.
type Statement struct {
	Digest  accumulator.Hash
	Epoch   uint64
	Size    uint64
	Fee     uint64
	Level   params.PrivacyLevel
	Inputs  []InputStatement
	Outputs []commitment.Commitment
}

// MembershipProof is a one-of-many proof that PseudoInput commits to the same amount as
// one member of the input's decoy set. Every slice has one entry per index bit.
type MembershipProof struct {
	PseudoInput commitment.Commitment

	CL []bls12377.G1Affine
	CA []bls12377.G1Affine
	CB []bls12377.G1Affine
	GD []bls12377.G1Affine

	F  []fr.Element
	ZA []fr.Element
	ZB []fr.Element
	ZD fr.Element
}

// RangeProof is an aggregated Bulletproofs range proof over all outputs.
type RangeProof struct {
	A, S, T1, T2   bls12377.G1Affine
	TauX, Mu, THat fr.Element

	// inner-product argument
	L, R []bls12377.G1Affine
	A1   fr.Element
	B1   fr.Element
}

// Proof binds membership of every input, the range of every output and the balance
// of the transaction under one transcript.
type Proof struct {
	Membership []MembershipProof
	Range      RangeProof
}

// PseudoInputs returns the pseudo-input commitments in input order.
func (p *Proof) PseudoInputs() []commitment.Commitment {
	out := make([]commitment.Commitment, len(p.Membership))
	for i := range p.Membership {
		out[i] = p.Membership[i].PseudoInput
	}
	return out
}

// Input is one coin to spend.
type Input struct {
	Witness  *witness.Witness
	SpendKey fr.Element
	Opening  commitment.Opening
}

// Request collects the secret and public material for one proof.
type Request struct {
	Inputs  []Input
	Outputs []commitment.Opening
	Fee     uint64
	Level   params.PrivacyLevel

	// Snapshot, when set, is the snapshot every witness must be bound to.
	Snapshot *accumulator.Snapshot
}
