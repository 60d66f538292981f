// wallet.go - Reference keystore for notes and their spend keys.
//
// A Wallet stores the notes its owner can spend: the commitment, its opening and the
// spend key that derives its serial number. It is persisted as a JSON file. The core
// never stores keys itself; this package is the caller-side collaborator that feeds
// witnesses and openings into JoinSplit construction.
//
// NOTE: a wallet file holds secrets in clear. Protect it at the filesystem level.

package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"

	"anonpay/internal/accumulator"
	"anonpay/internal/commitment"
	"anonpay/internal/joinsplit"
	"anonpay/internal/params"
	"anonpay/internal/proof"
	"anonpay/internal/witness"
)

// Note is a spendable coin.
type Note struct {
	Commitment commitment.Commitment `json:"commitment"`
	Amount     uint64                `json:"amount"`
	Blinding   fr.Element            `json:"blinding"`
	SpendKey   fr.Element            `json:"spend_key"`
	Spent      bool                  `json:"spent"`
}

// NewNote creates a note for amount with a fresh blinding and spend key drawn from rng.
func NewNote(amount uint64, rng io.Reader) (*Note, error) {
	c, o, err := commitment.New(amount, rng)
	if err != nil {
		return nil, err
	}
	k, err := commitment.RandomScalar(rng)
	if err != nil {
		o.Wipe()
		return nil, err
	}
	return &Note{Commitment: c, Amount: amount, Blinding: o.Blinding, SpendKey: k}, nil
}

// Opening returns the note's commitment opening.
func (n *Note) Opening() commitment.Opening {
	return commitment.Opening{Amount: n.Amount, Blinding: n.Blinding}
}

// Serial derives the serial number revealed when the note is spent.
func (n *Note) Serial() (proof.SerialNumber, error) {
	return proof.DeriveSerial(&n.SpendKey, n.Commitment)
}

// Wallet holds one owner's notes.
type Wallet struct {
	mu    sync.Mutex
	Name  string  `json:"name"`
	Notes []*Note `json:"notes"`
}

// New returns an empty wallet.
func New(name string) *Wallet {
	return &Wallet{Name: name}
}

// Load reads a wallet from a JSON file.
func Load(path string) (*Wallet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var w Wallet
	if err := json.NewDecoder(f).Decode(&w); err != nil {
		return nil, fmt.Errorf("load wallet %s: %w", path, err)
	}
	return &w, nil
}

// Save writes the wallet to a JSON file, readable only by the owner.
func (w *Wallet) Save(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(w)
}

// AddNote records a note as owned.
func (w *Wallet) AddNote(n *Note) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Notes = append(w.Notes, n)
}

// MarkSpent marks the note at index i as spent.
func (w *Wallet) MarkSpent(i int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if i < 0 || i >= len(w.Notes) {
		return fmt.Errorf("invalid note index: %d", i)
	}
	w.Notes[i].Spent = true
	return nil
}

// Unspent returns the notes not yet spent.
func (w *Wallet) Unspent() []*Note {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []*Note
	for _, n := range w.Notes {
		if !n.Spent {
			out = append(out, n)
		}
	}
	return out
}

// Balance returns the total amount of unspent notes.
func (w *Wallet) Balance() uint64 {
	var sum uint64
	for _, n := range w.Unspent() {
		sum += n.Amount
	}
	return sum
}

// SyncWithLedger marks every note whose serial appears in spent and returns how many
// notes changed state.
func (w *Wallet) SyncWithLedger(spent joinsplit.SerialSet) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	changed := 0
	for _, n := range w.Notes {
		if n.Spent {
			continue
		}
		sn, err := n.Serial()
		if err != nil {
			return changed, err
		}
		if spent.HasSerial(sn) {
			n.Spent = true
			changed++
		}
	}
	return changed, nil
}

// Inputs builds JoinSplit inputs for notes, with witnesses bound to snap.
func Inputs(ctx context.Context, mgr *witness.Manager, snap accumulator.Snapshot, level params.PrivacyLevel, notes []*Note) ([]proof.Input, error) {
	ins := make([]proof.Input, len(notes))
	for i, n := range notes {
		wit, err := mgr.Generate(ctx, snap, n.Commitment, level)
		if err != nil {
			return nil, fmt.Errorf("note %s: %w", n.Commitment.ID(), err)
		}
		ins[i] = proof.Input{Witness: wit, SpendKey: n.SpendKey, Opening: n.Opening()}
	}
	return ins, nil
}

// Pay spends notes into fresh notes of the given amounts and returns the JoinSplit
// together with the new notes. The new notes are not added to any wallet.
func Pay(ctx context.Context, mgr *witness.Manager, snap accumulator.Snapshot, level params.PrivacyLevel,
	notes []*Note, amounts []uint64, fee uint64, rng io.Reader) (*joinsplit.JoinSplit, []*Note, error) {
	ins, err := Inputs(ctx, mgr, snap, level, notes)
	if err != nil {
		return nil, nil, err
	}
	outs := make([]*Note, len(amounts))
	openings := make([]commitment.Opening, len(amounts))
	for j, a := range amounts {
		if outs[j], err = NewNote(a, rng); err != nil {
			return nil, nil, err
		}
		openings[j] = outs[j].Opening()
	}
	js, err := joinsplit.Construct(ctx, ins, openings, fee, level, joinsplit.WithRand(rng), joinsplit.WithSnapshot(snap))
	if err != nil {
		return nil, nil, err
	}
	return js, outs, nil
}
