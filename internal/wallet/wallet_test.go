package wallet

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"anonpay/internal/accumulator"
	"anonpay/internal/commitment"
	"anonpay/internal/joinsplit"
	"anonpay/internal/params"
	"anonpay/internal/witness"
)

func funded(t *testing.T, n int, amount uint64) (*Wallet, *accumulator.Accumulator) {
	t.Helper()
	rng := commitment.NewSeededReader([]byte(t.Name()))
	w := New("alice")
	acc := accumulator.New()
	var cs []commitment.Commitment
	for i := 0; i < n; i++ {
		note, err := NewNote(amount, rng)
		require.NoError(t, err)
		w.AddNote(note)
		cs = append(cs, note.Commitment)
	}
	_, err := acc.AddBatch(cs)
	require.NoError(t, err)
	return w, acc
}

func TestPayAndSync(t *testing.T) {
	w, acc := funded(t, 24, 10)
	require.Equal(t, uint64(240), w.Balance())

	rng := commitment.NewSeededReader([]byte("pay"))
	mgr, err := witness.NewManager(acc, witness.WithRand(rng))
	require.NoError(t, err)

	spending := w.Unspent()[:2]
	js, outs, err := Pay(context.Background(), mgr, acc.Snapshot(), params.Standard, spending, []uint64{12, 7}, 1, rng)
	require.NoError(t, err)
	require.Len(t, outs, 2)
	for j, c := range js.Outputs() {
		require.True(t, c.Equal(outs[j].Commitment))
	}

	spent := joinsplit.Serials{}
	fx, err := joinsplit.Verify(js, acc, spent)
	require.NoError(t, err)
	spent.Add(fx.Serials...)

	changed, err := w.SyncWithLedger(spent)
	require.NoError(t, err)
	require.Equal(t, 2, changed)
	require.Equal(t, uint64(220), w.Balance())
	require.Len(t, w.Unspent(), 22)

	changed, err = w.SyncWithLedger(spent)
	require.NoError(t, err)
	require.Zero(t, changed, "sync is idempotent")
}

func TestSaveLoad(t *testing.T) {
	w, _ := funded(t, 3, 5)
	require.NoError(t, w.MarkSpent(1))
	require.Error(t, w.MarkSpent(7))

	path := filepath.Join(t.TempDir(), "alice_wallet.json")
	require.NoError(t, w.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "alice", got.Name)
	require.Len(t, got.Notes, 3)
	for i := range w.Notes {
		require.True(t, w.Notes[i].Commitment.Equal(got.Notes[i].Commitment))
		require.Equal(t, w.Notes[i].Blinding, got.Notes[i].Blinding)
		require.Equal(t, w.Notes[i].SpendKey, got.Notes[i].SpendKey)
		require.Equal(t, w.Notes[i].Spent, got.Notes[i].Spent)
	}

	a, err := w.Notes[0].Serial()
	require.NoError(t, err)
	b, err := got.Notes[0].Serial()
	require.NoError(t, err)
	require.Equal(t, a, b)
}
