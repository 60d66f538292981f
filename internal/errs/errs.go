// errs.go - Error taxonomy shared by every layer of the payment core.
//
// Callers match with errors.Is. Lower layers wrap these sentinels with
// fmt.Errorf("context: %w", err) so the message keeps its origin.

package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrFormat reports malformed bytes (wrong length, bad header, non-canonical value).
	ErrFormat = errors.New("format error")

	// ErrCurve reports bytes that do not decode to a point of the prime-order subgroup.
	ErrCurve = errors.New("curve error")

	// ErrRange reports an amount outside [0, 2^64).
	ErrRange = errors.New("amount out of range")

	// ErrAccumulator is the parent of all accumulator failures.
	ErrAccumulator = errors.New("accumulator error")

	// ErrDuplicate is returned when a commitment is already accumulated.
	ErrDuplicate = fmt.Errorf("%w: duplicate commitment", ErrAccumulator)

	// ErrEpochUnavailable is returned for an epoch outside the retained window.
	ErrEpochUnavailable = fmt.Errorf("%w: epoch unavailable", ErrAccumulator)

	// ErrWitnessUnavailable is returned when no witness can be built for a commitment.
	ErrWitnessUnavailable = errors.New("witness unavailable")

	// ErrStaleWitness is returned when a witness is bound to another epoch than the one requested.
	ErrStaleWitness = errors.New("stale witness")

	// ErrBalanceMismatch is returned when cleartext inputs do not equal outputs plus fee.
	ErrBalanceMismatch = errors.New("balance mismatch")

	// ErrProofVerification is the single, uniform failure of every cryptographic check.
	ErrProofVerification = errors.New("proof verification failed")

	// ErrDoubleSpend is returned when a serial number was already spent.
	ErrDoubleSpend = errors.New("double-spend detected")

	// ErrInsufficientRandomness is returned when the entropy source fails.
	ErrInsufficientRandomness = errors.New("insufficient randomness")

	// ErrInvalidInputCount is returned for an input count outside 1..MaxInputs.
	ErrInvalidInputCount = errors.New("invalid input count")

	// ErrInvalidOutputCount is returned for an output count outside 1..MaxOutputs.
	ErrInvalidOutputCount = errors.New("invalid output count")

	// ErrMixedSnapshot is returned when inputs of one transaction reference different snapshots.
	ErrMixedSnapshot = errors.New("inputs reference different accumulator snapshots")

	// ErrInvalidParameters is returned by parameter validation.
	ErrInvalidParameters = errors.New("invalid parameters")
)
