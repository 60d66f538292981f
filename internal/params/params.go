// params.go - Static protocol parameters for the anonymous-payment core.
//
// Everything here is configuration consumed by the other packages: the curve identifier,
// amount bit width, structural limits, snapshot retention, and the privacy-level table.
// Nothing in this package holds mutable state besides the lazily derived generators.

package params

import (
	"fmt"
	"strings"

	"anonpay/internal/errs"
)

const (
	// Version is the protocol version bound into every transcript and encoding header.
	Version = 1

	// Curve identifies the group used for commitments and proofs.
	Curve = "bls12-377"

	// AmountBits is the bit width of every committed amount.
	AmountBits = 64

	// MaxInputs is the largest number of spends a single JoinSplit may carry.
	MaxInputs = 16

	// MaxOutputs is the largest number of outputs a single JoinSplit may carry.
	MaxOutputs = 16

	// DefaultRetention is the default number of accumulator snapshots kept queryable.
	DefaultRetention = 64

	// DefaultCacheCapacity is the default number of witnesses kept by the witness cache.
	DefaultCacheCapacity = 1000

	// DomainTag separates transcripts and hashes of this protocol from any other use of the same primitives.
	DomainTag = "anonpay/v1"
)

// Params groups the tunable parameters of a deployment.
// The zero value is not valid; start from Default.
type Params struct {
	Curve         string `json:"curve"`
	AmountBits    int    `json:"amount_bits"`
	MaxInputs     int    `json:"max_inputs"`
	MaxOutputs    int    `json:"max_outputs"`
	Retention     int    `json:"retention"`
	CacheCapacity int    `json:"cache_capacity"`
}

// Default returns the protocol defaults.
func Default() Params {
	return Params{
		Curve:         Curve,
		AmountBits:    AmountBits,
		MaxInputs:     MaxInputs,
		MaxOutputs:    MaxOutputs,
		Retention:     DefaultRetention,
		CacheCapacity: DefaultCacheCapacity,
	}
}

// Validate checks that p can be served by this implementation.
func (p Params) Validate() error {
	if !strings.EqualFold(p.Curve, Curve) {
		return fmt.Errorf("%w: unsupported curve %q", errs.ErrInvalidParameters, p.Curve)
	}
	if p.AmountBits != AmountBits {
		return fmt.Errorf("%w: amount_bits must be %d", errs.ErrInvalidParameters, AmountBits)
	}
	if p.MaxInputs < 1 || p.MaxInputs > MaxInputs {
		return fmt.Errorf("%w: max_inputs must be in 1..%d", errs.ErrInvalidParameters, MaxInputs)
	}
	if p.MaxOutputs < 1 || p.MaxOutputs > MaxOutputs {
		return fmt.Errorf("%w: max_outputs must be in 1..%d", errs.ErrInvalidParameters, MaxOutputs)
	}
	if p.Retention < 1 {
		return fmt.Errorf("%w: retention must be positive", errs.ErrInvalidParameters)
	}
	if p.CacheCapacity < 1 {
		return fmt.Errorf("%w: cache_capacity must be positive", errs.ErrInvalidParameters)
	}
	return nil
}
