// simulate.go - End-to-end payment scenario between N participants.
//
// The scenario mirrors a small deployment:
//   - every participant receives freshly issued notes in one ledger epoch
//   - each participant pays the next one in a ring, taking change back
//   - every JoinSplit is verified and recorded by the ledger
//   - the first JoinSplit is submitted a second time and must be rejected
//   - wallets are synchronised against the spent-serial set and saved

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"anonpay/internal/commitment"
	"anonpay/internal/errs"
	"anonpay/internal/joinsplit"
	"anonpay/internal/ledger"
	"anonpay/internal/wallet"
	"anonpay/internal/witness"
)

// SimulationResult summarises one run.
type SimulationResult struct {
	Transactions        []joinsplit.ID
	DoubleSpendRejected bool
	Epoch               uint64
	Size                uint64
	Balances            map[string]uint64
}

func runSimulation(ctx context.Context, cfg *Config, log *Logger, mc *MetricsCollector) (*SimulationResult, error) {
	var rng io.Reader = commitment.DefaultReader
	if cfg.Seed != "" {
		rng = commitment.NewSeededReader([]byte(cfg.Seed))
	}

	l, err := ledger.Open(cfg.LedgerPath,
		ledger.WithRetention(cfg.Protocol.Retention),
		ledger.WithLogger(log.Zerolog()))
	if err != nil {
		return nil, err
	}
	defer l.Close()

	// 1. Wallets and issuance.
	wallets, err := openWallets(cfg)
	if err != nil {
		return nil, err
	}
	var issued []commitment.Commitment
	for _, w := range wallets {
		for i := 0; i < cfg.NotesPerWallet; i++ {
			n, err := wallet.NewNote(cfg.NoteAmount, rng)
			if err != nil {
				return nil, fmt.Errorf("mint for %s: %w", w.Name, err)
			}
			w.AddNote(n)
			issued = append(issued, n.Commitment)
		}
	}
	snap, err := l.Issue(issued...)
	if err != nil {
		return nil, err
	}
	log.Info("Issued %d notes of %d to %d participants (epoch %d, size %d)",
		len(issued), cfg.NoteAmount, len(wallets), snap.Epoch, snap.Size)
	log.Audit("issue", map[string]any{"notes": len(issued), "amount": cfg.NoteAmount, "epoch": snap.Epoch})

	mgr, err := witness.NewManager(l.Accumulator(),
		witness.WithCapacity(cfg.Protocol.CacheCapacity),
		witness.WithRand(rng),
		witness.WithLogger(log.Zerolog()))
	if err != nil {
		return nil, err
	}

	// 2. Payment ring.
	res := &SimulationResult{Balances: make(map[string]uint64, len(wallets))}
	var first *joinsplit.JoinSplit
	for i, sender := range wallets {
		receiver := wallets[(i+1)%len(wallets)]
		js, err := pay(ctx, cfg, log, mc, l, mgr, sender, receiver, rng)
		if err != nil {
			mc.RecordError("payment")
			return nil, fmt.Errorf("%s pays %s: %w", sender.Name, receiver.Name, err)
		}
		if first == nil {
			first = js
		}
		res.Transactions = append(res.Transactions, js.ID())
	}

	// 3. Replay of an already recorded transaction.
	if first != nil {
		_, err := l.Submit(first)
		switch {
		case errors.Is(err, errs.ErrDoubleSpend):
			res.DoubleSpendRejected = true
			log.Warn("Replay of %s rejected: %v", first.ID(), err)
			log.Audit("double_spend", map[string]any{"tx": first.ID().String()})
		case err == nil:
			return nil, fmt.Errorf("replay of %s was accepted", first.ID())
		default:
			return nil, fmt.Errorf("replay of %s: %w", first.ID(), err)
		}
	}

	// 4. Sync and persist wallets.
	for _, w := range wallets {
		if _, err := w.SyncWithLedger(l); err != nil {
			return nil, err
		}
		if cfg.WalletDir != "" {
			if err := w.Save(walletPath(cfg, w.Name)); err != nil {
				return nil, fmt.Errorf("save wallet %s: %w", w.Name, err)
			}
		}
		res.Balances[w.Name] = w.Balance()
	}

	mc.ObserveWitnessCache(mgr.Stats())
	mc.ObserveLedger(l)
	final := l.Snapshot()
	res.Epoch, res.Size = final.Epoch, final.Size
	return res, nil
}

// pay spends up to two of sender's live notes: half goes to receiver, the rest minus the
// fee comes back as change.
func pay(ctx context.Context, cfg *Config, log *Logger, mc *MetricsCollector, l *ledger.Ledger,
	mgr *witness.Manager, sender, receiver *wallet.Wallet, rng io.Reader) (*joinsplit.JoinSplit, error) {
	notes := liveNotes(l, sender, 2)
	if len(notes) == 0 {
		return nil, fmt.Errorf("no spendable notes")
	}
	var total uint64
	for _, n := range notes {
		total += n.Amount
	}
	amount := total / 2
	if total-amount < cfg.Fee {
		return nil, fmt.Errorf("notes worth %d cannot cover fee %d", total, cfg.Fee)
	}
	change := total - amount - cfg.Fee

	start := time.Now()
	js, outs, err := wallet.Pay(ctx, mgr, l.Snapshot(), cfg.PrivacyLevel, notes, []uint64{amount, change}, cfg.Fee, rng)
	if err != nil {
		return nil, err
	}
	mc.RecordProofGeneration(cfg.PrivacyLevel.String(), time.Since(start))

	start = time.Now()
	fx, err := l.Submit(js)
	if err != nil {
		if errors.Is(err, errs.ErrDoubleSpend) {
			mc.RecordError("double_spend")
		}
		return nil, err
	}
	mc.RecordProofVerification(cfg.PrivacyLevel.String(), time.Since(start))
	mc.RecordJoinSplit(js.NumInputs(), js.NumOutputs())

	receiver.AddNote(outs[0])
	sender.AddNote(outs[1])
	if _, err := sender.SyncWithLedger(l); err != nil {
		return nil, err
	}

	if cfg.ExportDir != "" {
		path := filepath.Join(cfg.ExportDir, js.ID().String()+".apay")
		if err := os.WriteFile(path, js.Encode(), 0o644); err != nil {
			return nil, fmt.Errorf("export %s: %w", js.ID(), err)
		}
	}
	log.Info("%s paid %d to %s (fee %d, %d serials, epoch %d)",
		sender.Name, amount, receiver.Name, cfg.Fee, len(fx.Serials), l.Snapshot().Epoch)
	log.Audit("joinsplit", map[string]any{
		"tx":      js.ID().String(),
		"inputs":  js.NumInputs(),
		"outputs": js.NumOutputs(),
		"fee":     js.Fee(),
	})
	return js, nil
}

// liveNotes returns up to limit unspent notes of w that the ledger has accumulated.
func liveNotes(l *ledger.Ledger, w *wallet.Wallet, limit int) []*wallet.Note {
	var out []*wallet.Note
	for _, n := range w.Unspent() {
		if _, ok := l.Accumulator().Position(n.Commitment.ID()); !ok {
			continue
		}
		out = append(out, n)
		if len(out) == limit {
			break
		}
	}
	return out
}

func openWallets(cfg *Config) ([]*wallet.Wallet, error) {
	if cfg.WalletDir != "" {
		if err := os.MkdirAll(cfg.WalletDir, 0o700); err != nil {
			return nil, err
		}
	}
	if cfg.ExportDir != "" {
		if err := os.MkdirAll(cfg.ExportDir, 0o755); err != nil {
			return nil, err
		}
	}
	ws := make([]*wallet.Wallet, cfg.NumParticipants)
	for i := range ws {
		name := fmt.Sprintf("participant%d", i+1)
		if cfg.WalletDir != "" {
			w, err := wallet.Load(walletPath(cfg, name))
			if err == nil {
				ws[i] = w
				continue
			}
			if !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		}
		ws[i] = wallet.New(name)
	}
	return ws, nil
}

func walletPath(cfg *Config, name string) string {
	return filepath.Join(cfg.WalletDir, name+"_wallet.json")
}
