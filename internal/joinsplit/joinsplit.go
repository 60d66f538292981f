// Package joinsplit assembles spends and outputs into one verifiable transaction.
//
// A JoinSplit carries, for every input, a serial number and the decoy set it was proven
// against; the output commitments; the cleartext fee; the privacy level; the accumulator
// snapshot it references; and one proof covering all of them. It is immutable once built.
//
// Verification is side-effect free. On success it returns the Effects (new serials and
// new outputs) that the caller must persist atomically.
package joinsplit

import (
	"context"
	"fmt"
	"io"
	"math/bits"
	"slices"

	"github.com/rs/zerolog"

	"anonpay/internal/accumulator"
	"anonpay/internal/commitment"
	"anonpay/internal/errs"
	"anonpay/internal/params"
	"anonpay/internal/proof"
)

// JoinSplit is a constructed transaction.
type JoinSplit struct {
	statement proof.Statement
	proof     *proof.Proof
}

// Epoch returns the accumulator epoch the transaction references.
func (js *JoinSplit) Epoch() uint64 { return js.statement.Epoch }

// Digest returns the referenced accumulator digest.
func (js *JoinSplit) Digest() accumulator.Hash { return js.statement.Digest }

// Fee returns the cleartext fee.
func (js *JoinSplit) Fee() uint64 { return js.statement.Fee }

// Level returns the privacy level every input was proven at.
func (js *JoinSplit) Level() params.PrivacyLevel { return js.statement.Level }

// Serials returns the serial numbers of the spent inputs, in input order.
func (js *JoinSplit) Serials() []proof.SerialNumber {
	out := make([]proof.SerialNumber, len(js.statement.Inputs))
	for i := range js.statement.Inputs {
		out[i] = js.statement.Inputs[i].Serial
	}
	return out
}

// Outputs returns the new output commitments, in order.
func (js *JoinSplit) Outputs() []commitment.Commitment {
	return slices.Clone(js.statement.Outputs)
}

// NumInputs returns the number of spent inputs.
func (js *JoinSplit) NumInputs() int { return len(js.statement.Inputs) }

// NumOutputs returns the number of outputs.
func (js *JoinSplit) NumOutputs() int { return len(js.statement.Outputs) }

// Effects are the ledger mutations implied by a verified JoinSplit.
type Effects struct {
	Serials []proof.SerialNumber
	Outputs []commitment.Commitment
}

// SnapshotSource resolves an epoch to its retained snapshot. *accumulator.Accumulator
// satisfies it.
type SnapshotSource interface {
	SnapshotAt(epoch uint64) (accumulator.Snapshot, error)
}

// SerialSet answers whether a serial number has already been spent.
type SerialSet interface {
	HasSerial(sn proof.SerialNumber) bool
}

// Serials is an in-memory SerialSet.
type Serials map[proof.SerialNumber]struct{}

// HasSerial implements SerialSet.
func (s Serials) HasSerial(sn proof.SerialNumber) bool {
	_, ok := s[sn]
	return ok
}

// Add records serials as spent.
func (s Serials) Add(sns ...proof.SerialNumber) {
	for _, sn := range sns {
		s[sn] = struct{}{}
	}
}

type options struct {
	rng      io.Reader
	log      zerolog.Logger
	snapshot *accumulator.Snapshot
}

// Option configures Construct.
type Option func(*options)

// WithRand sets the entropy source for the proof.
func WithRand(r io.Reader) Option {
	return func(o *options) { o.rng = r }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithSnapshot requires every input witness to be bound to snap.
func WithSnapshot(snap accumulator.Snapshot) Option {
	return func(o *options) { o.snapshot = &snap }
}

// Construct builds a JoinSplit spending inputs into outputs. Counts, cleartext balance,
// snapshot agreement and duplicate inputs are checked before the proof system is invoked.
func Construct(ctx context.Context, inputs []proof.Input, outputs []commitment.Opening, fee uint64, level params.PrivacyLevel, opts ...Option) (*JoinSplit, error) {
	o := options{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	if err := checkCounts(len(inputs), len(outputs)); err != nil {
		return nil, fmt.Errorf("construct: %w", err)
	}
	if !balanced(inputs, outputs, fee) {
		return nil, fmt.Errorf("construct: %w", errs.ErrBalanceMismatch)
	}

	seen := make(map[commitment.ID]struct{}, len(inputs))
	for i := range inputs {
		w := inputs[i].Witness
		if w == nil {
			return nil, fmt.Errorf("construct: input %d: %w", i, errs.ErrWitnessUnavailable)
		}
		if o.snapshot == nil && w.Snapshot() != inputs[0].Witness.Snapshot() {
			return nil, fmt.Errorf("construct: input %d: %w", i, errs.ErrMixedSnapshot)
		}
		if _, dup := seen[w.ID()]; dup {
			return nil, fmt.Errorf("construct: input %d spends %s twice: %w", i, w.ID(), errs.ErrDoubleSpend)
		}
		seen[w.ID()] = struct{}{}
	}

	req := &proof.Request{
		Inputs:   inputs,
		Outputs:  outputs,
		Fee:      fee,
		Level:    level,
		Snapshot: o.snapshot,
	}
	popts := []proof.Option{proof.WithLogger(o.log)}
	if o.rng != nil {
		popts = append(popts, proof.WithRand(o.rng))
	}
	p, st, err := proof.Generate(ctx, req, popts...)
	if err != nil {
		return nil, fmt.Errorf("construct: %w", err)
	}

	js := &JoinSplit{statement: *st, proof: p}
	o.log.Info().
		Str("id", js.ID().String()).
		Int("inputs", len(inputs)).
		Int("outputs", len(outputs)).
		Uint64("fee", fee).
		Uint64("epoch", st.Epoch).
		Msg("joinsplit constructed")
	return js, nil
}

// Verify checks js against the retained snapshots and the spent serials, cheapest
// checks first. It has no side effects.
//
// An unseen serial does not prove the coin is unspent: serials are keyed by a spend key
// that nothing ties to the coin (see proof.DeriveSerial). Ledgers must not treat serial
// uniqueness alone as double-spend protection against the coin's owner.
func Verify(js *JoinSplit, snapshots SnapshotSource, spent SerialSet) (*Effects, error) {
	st := &js.statement

	snap, err := snapshots.SnapshotAt(st.Epoch)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	if snap.Digest != st.Digest || snap.Size != st.Size {
		return nil, errs.ErrProofVerification
	}
	if err := checkCounts(len(st.Inputs), len(st.Outputs)); err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}

	serials := js.Serials()
	seen := make(map[proof.SerialNumber]struct{}, len(serials))
	for _, sn := range serials {
		if _, dup := seen[sn]; dup || spent.HasSerial(sn) {
			return nil, fmt.Errorf("verify: serial %s: %w", sn, errs.ErrDoubleSpend)
		}
		seen[sn] = struct{}{}
	}

	if err := proof.Verify(js.proof, st); err != nil {
		return nil, err
	}
	return &Effects{Serials: serials, Outputs: js.Outputs()}, nil
}

func checkCounts(in, out int) error {
	if in < 1 || in > params.MaxInputs {
		return fmt.Errorf("%d inputs: %w", in, errs.ErrInvalidInputCount)
	}
	if out < 1 || out > params.MaxOutputs {
		return fmt.Errorf("%d outputs: %w", out, errs.ErrInvalidOutputCount)
	}
	return nil
}

// balanced reports sum(inputs) == sum(outputs) + fee without overflow.
func balanced(inputs []proof.Input, outputs []commitment.Opening, fee uint64) bool {
	var inHi, inLo, outHi, c uint64
	for i := range inputs {
		inLo, c = bits.Add64(inLo, inputs[i].Opening.Amount, 0)
		inHi += c
	}
	outLo := fee
	for j := range outputs {
		outLo, c = bits.Add64(outLo, outputs[j].Amount, 0)
		outHi += c
	}
	return inHi == outHi && inLo == outLo
}
