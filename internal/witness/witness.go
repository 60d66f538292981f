// Package witness produces, caches, and refreshes membership witnesses.
//
// A Witness binds one accumulated commitment to one accumulator snapshot and to an
// anonymity set drawn from that snapshot. Witnesses are immutable values: refreshing
// creates a new witness for the new epoch and leaves the old one untouched, so any
// number of goroutines may hold and read the same *Witness.
package witness

import (
	"anonpay/internal/accumulator"
	"anonpay/internal/commitment"
	"anonpay/internal/params"
)

// Witness is the proof-enabling data for one commitment at one snapshot.
type Witness struct {
	commitment commitment.Commitment
	position   uint64
	snapshot   accumulator.Snapshot
	level      params.PrivacyLevel
	decoys     *accumulator.DecoySet
	index      int
}

// ID returns the witnessed commitment's identifier.
func (w *Witness) ID() commitment.ID { return w.commitment.ID() }

// Commitment returns the witnessed commitment.
func (w *Witness) Commitment() commitment.Commitment { return w.commitment }

// Position returns the commitment's position in the accumulated sequence.
func (w *Witness) Position() uint64 { return w.position }

// Snapshot returns the snapshot the witness is bound to.
func (w *Witness) Snapshot() accumulator.Snapshot { return w.snapshot }

// Epoch returns the epoch the witness is bound to.
func (w *Witness) Epoch() uint64 { return w.snapshot.Epoch }

// Level returns the privacy level, which fixes the decoy-set size.
func (w *Witness) Level() params.PrivacyLevel { return w.level }

// Decoys returns the public anonymity set. The returned value must not be modified.
func (w *Witness) Decoys() *accumulator.DecoySet { return w.decoys }

// Index returns the secret position of the real commitment inside Decoys.
// It must never be published.
func (w *Witness) Index() int { return w.index }
