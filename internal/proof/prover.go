package proof

import (
	"context"
	"fmt"
	"io"
	"math/bits"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"anonpay/internal/accumulator"
	"anonpay/internal/commitment"
	"anonpay/internal/errs"
	"anonpay/internal/params"
)

type options struct {
	rng io.Reader
	log zerolog.Logger
}

// Option configures Generate.
type Option func(*options)

// WithRand sets the entropy source for every nonce. Identical streams give byte-identical proofs.
func WithRand(r io.Reader) Option {
	return func(o *options) { o.rng = r }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// Generate proves req. Cheap cleartext checks run before any group operation; on success
// it returns the proof and the public statement it proves.
func Generate(ctx context.Context, req *Request, opts ...Option) (*Proof, *Statement, error) {
	o := options{rng: commitment.DefaultReader, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rng == nil {
		o.rng = commitment.DefaultReader
	}
	start := time.Now()

	snap, err := checkRequest(req)
	if err != nil {
		return nil, nil, err
	}

	st := &Statement{
		Digest:  snap.Digest,
		Epoch:   snap.Epoch,
		Size:    snap.Size,
		Fee:     req.Fee,
		Level:   req.Level,
		Inputs:  make([]InputStatement, len(req.Inputs)),
		Outputs: make([]commitment.Commitment, len(req.Outputs)),
	}
	seen := make(map[SerialNumber]struct{}, len(req.Inputs))
	for i := range req.Inputs {
		in := &req.Inputs[i]
		sn, err := DeriveSerial(&in.SpendKey, in.Witness.Commitment())
		if err != nil {
			return nil, nil, err
		}
		if _, dup := seen[sn]; dup {
			return nil, nil, fmt.Errorf("generate: input %d: %w", i, errs.ErrDoubleSpend)
		}
		seen[sn] = struct{}{}
		st.Inputs[i] = InputStatement{Serial: sn, Decoys: in.Witness.Decoys()}
	}
	for j := range req.Outputs {
		st.Outputs[j] = commitment.Commit(req.Outputs[j].Amount, &req.Outputs[j].Blinding)
	}

	// Every nonce is drawn here, sequentially and in a fixed order, before any parallel work.
	depth := req.Level.Depth()
	pseudo := make([]fr.Element, len(req.Inputs))
	members := make([]*membershipSecrets, len(req.Inputs))
	for i := range members {
		members[i] = newMembershipSecrets(depth)
	}
	rs := newRangeSecrets(req.Outputs)
	defer func() {
		commitment.WipeSlice(pseudo)
		for _, ms := range members {
			ms.wipe()
		}
		rs.wipe()
	}()
	if err := drawNonces(o.rng, req, pseudo, members, rs); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	// First round: one membership commitment per input, in parallel.
	p := &Proof{Membership: make([]MembershipProof, len(req.Inputs))}
	g, gctx := errgroup.WithContext(ctx)
	for i := range req.Inputs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			in := &req.Inputs[i]
			ms := members[i]
			ms.setIndex(in.Witness.Index())
			ms.rho.Sub(&in.Opening.Blinding, &pseudo[i])
			pc := commitment.Commit(in.Opening.Amount, &pseudo[i])
			mp, err := commitMembership(in.Witness.Decoys(), pc, ms)
			if err != nil {
				return fmt.Errorf("input %d: %w", i, err)
			}
			p.Membership[i] = *mp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("generate: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	_, rounds := rangeRounds(len(req.Outputs))
	tr := newTranscript(rounds)
	x, err := membershipChallenge(tr, st, p)
	if err != nil {
		return nil, nil, fmt.Errorf("generate: %w", err)
	}
	for i := range p.Membership {
		respondMembership(&p.Membership[i], members[i], &x)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	rp, err := proveRange(tr, rs)
	if err != nil {
		return nil, nil, fmt.Errorf("generate: %w", err)
	}
	p.Range = *rp
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	o.log.Debug().
		Int("inputs", len(req.Inputs)).
		Int("outputs", len(req.Outputs)).
		Str("level", req.Level.String()).
		Uint64("epoch", st.Epoch).
		Dur("elapsed", time.Since(start)).
		Msg("proof generated")
	return p, st, nil
}

// checkRequest runs the cleartext checks and returns the snapshot every input is bound to.
func checkRequest(req *Request) (accumulator.Snapshot, error) {
	var snap accumulator.Snapshot
	if n := len(req.Inputs); n < 1 || n > params.MaxInputs {
		return snap, fmt.Errorf("generate: %d inputs: %w", n, errs.ErrInvalidInputCount)
	}
	if n := len(req.Outputs); n < 1 || n > params.MaxOutputs {
		return snap, fmt.Errorf("generate: %d outputs: %w", n, errs.ErrInvalidOutputCount)
	}
	if !req.Level.Valid() {
		return snap, fmt.Errorf("generate: %w: privacy level %d", errs.ErrInvalidParameters, req.Level)
	}

	// sum(inputs) == sum(outputs) + fee, in 128 bits.
	var inHi, inLo, outHi, outLo, c uint64
	for i := range req.Inputs {
		inLo, c = bits.Add64(inLo, req.Inputs[i].Opening.Amount, 0)
		inHi += c
	}
	outLo = req.Fee
	for j := range req.Outputs {
		outLo, c = bits.Add64(outLo, req.Outputs[j].Amount, 0)
		outHi += c
	}
	if inHi != outHi || inLo != outLo {
		return snap, fmt.Errorf("generate: %w", errs.ErrBalanceMismatch)
	}

	for i := range req.Inputs {
		in := &req.Inputs[i]
		w := in.Witness
		if w == nil {
			return snap, fmt.Errorf("generate: input %d: %w: no witness", i, errs.ErrWitnessUnavailable)
		}
		switch {
		case req.Snapshot != nil && w.Snapshot() != *req.Snapshot:
			return snap, fmt.Errorf("generate: input %d: %w: witness epoch %d, target epoch %d",
				i, errs.ErrStaleWitness, w.Epoch(), req.Snapshot.Epoch)
		case req.Snapshot == nil && i > 0 && w.Snapshot() != snap:
			return snap, fmt.Errorf("generate: input %d: %w", i, errs.ErrMixedSnapshot)
		}
		snap = w.Snapshot()
		if w.Level() != req.Level || w.Decoys().Len() != req.Level.DecoyCount() {
			return snap, fmt.Errorf("generate: input %d: %w: witness is for level %s", i, errs.ErrWitnessUnavailable, w.Level())
		}
		if !commitment.Open(w.Commitment(), in.Opening.Amount, &in.Opening.Blinding) {
			return snap, fmt.Errorf("generate: input %d: %w: opening does not match commitment", i, errs.ErrWitnessUnavailable)
		}
	}
	return snap, nil
}

// drawNonces reads every random scalar in a fixed order: pseudo-input blindings (all but the
// last, which is fixed by the balance), then each input's membership nonces, then the range nonces.
func drawNonces(rng io.Reader, req *Request, pseudo []fr.Element, members []*membershipSecrets, rs *rangeSecrets) error {
	last := len(pseudo) - 1
	if err := commitment.RandomScalars(rng, pseudo[:last]); err != nil {
		return err
	}
	// sum(pseudo) == sum(output blindings)
	var acc fr.Element
	for j := range req.Outputs {
		acc.Add(&acc, &req.Outputs[j].Blinding)
	}
	for i := 0; i < last; i++ {
		acc.Sub(&acc, &pseudo[i])
	}
	pseudo[last] = acc
	acc.SetZero()

	for _, ms := range members {
		for _, v := range ms.nonces() {
			if err := commitment.RandomScalars(rng, v); err != nil {
				return err
			}
		}
	}
	for _, s := range rs.nonces() {
		v, err := commitment.RandomScalar(rng)
		if err != nil {
			return err
		}
		*s = v
	}
	return nil
}

// membershipChallenge seeds tr with the statement and every first-round membership message.
func membershipChallenge(tr *transcript, st *Statement, p *Proof) (fr.Element, error) {
	if err := tr.bindStatement(st); err != nil {
		return fr.Element{}, err
	}
	for i := range p.Membership {
		if err := tr.bindMembership(&p.Membership[i]); err != nil {
			return fr.Element{}, err
		}
	}
	return tr.challenge(challengeMembership)
}
