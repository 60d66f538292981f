package ledger

import (
	"context"
	"testing"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/stretchr/testify/require"

	"anonpay/internal/commitment"
	"anonpay/internal/errs"
	"anonpay/internal/joinsplit"
	"anonpay/internal/params"
	"anonpay/internal/proof"
	"anonpay/internal/witness"
)

func mint(t *testing.T, l *Ledger, n int, amount uint64, seed string) ([]commitment.Commitment, []commitment.Opening, []fr.Element) {
	t.Helper()
	rng := commitment.NewSeededReader([]byte(seed))
	cs := make([]commitment.Commitment, n)
	ops := make([]commitment.Opening, n)
	keys := make([]fr.Element, n)
	for i := range cs {
		c, o, err := commitment.New(amount, rng)
		require.NoError(t, err)
		k, err := commitment.RandomScalar(rng)
		require.NoError(t, err)
		cs[i], ops[i], keys[i] = c, o, k
	}
	_, err := l.Issue(cs...)
	require.NoError(t, err)
	return cs, ops, keys
}

func spend(t *testing.T, l *Ledger, c commitment.Commitment, o commitment.Opening, key fr.Element, amounts ...uint64) *joinsplit.JoinSplit {
	t.Helper()
	rng := commitment.NewSeededReader([]byte("spend" + c.String()))
	mgr, err := witness.NewManager(l.Accumulator(), witness.WithRand(rng))
	require.NoError(t, err)
	w, err := mgr.Generate(context.Background(), l.Snapshot(), c, params.Standard)
	require.NoError(t, err)

	outs := make([]commitment.Opening, len(amounts))
	for j, a := range amounts {
		r, err := commitment.RandomScalar(rng)
		require.NoError(t, err)
		outs[j] = commitment.Opening{Amount: a, Blinding: r}
	}
	js, err := joinsplit.Construct(context.Background(),
		[]proof.Input{{Witness: w, SpendKey: key, Opening: o}}, outs, 0, params.Standard, joinsplit.WithRand(rng))
	require.NoError(t, err)
	return js
}

func TestSubmitAndDoubleSpend(t *testing.T) {
	l, err := Open("ledger", WithFS(vfs.NewMem()))
	require.NoError(t, err)
	defer l.Close()

	cs, ops, keys := mint(t, l, 50, 10, "submit")
	js := spend(t, l, cs[12], ops[12], keys[12], 6, 4)

	before := l.Snapshot()
	fx, err := l.Submit(js)
	require.NoError(t, err)
	require.Len(t, fx.Serials, 1)
	require.True(t, l.HasSerial(fx.Serials[0]))
	require.Equal(t, before.Epoch+1, l.Snapshot().Epoch)
	require.Equal(t, uint64(52), l.Snapshot().Size)

	_, err = l.Submit(js)
	require.ErrorIs(t, err, errs.ErrDoubleSpend)

	st := l.Stats()
	require.Equal(t, uint64(50), st.Issued)
	require.Equal(t, uint64(1), st.Submitted)
	require.Equal(t, uint64(1), st.DoubleSpends)

	got, err := l.Transaction(js.ID())
	require.NoError(t, err)
	require.Equal(t, js.Encode(), got.Encode())
}

func TestIssueRejectsDuplicates(t *testing.T) {
	l, err := Open("ledger", WithFS(vfs.NewMem()))
	require.NoError(t, err)
	defer l.Close()

	cs, _, _ := mint(t, l, 4, 1, "dup")
	before := l.Snapshot()

	_, err = l.Issue(cs[2])
	require.ErrorIs(t, err, errs.ErrDuplicate)
	_, err = l.Issue()
	require.ErrorIs(t, err, errs.ErrAccumulator)
	require.Equal(t, before, l.Snapshot())
}

func TestReopenReplaysState(t *testing.T) {
	fs := vfs.NewMem()
	l, err := Open("ledger", WithFS(fs))
	require.NoError(t, err)

	// Step 1: several epochs of issuance and one spend.
	cs, ops, keys := mint(t, l, 20, 10, "reopen-a")
	mint(t, l, 5, 3, "reopen-b")
	js := spend(t, l, cs[3], ops[3], keys[3], 10)
	_, err = l.Submit(js)
	require.NoError(t, err)
	want := l.Snapshot()
	require.NoError(t, l.Close())

	// Step 2: reopen and compare.
	l, err = Open("ledger", WithFS(fs))
	require.NoError(t, err)
	defer l.Close()
	require.Equal(t, want, l.Snapshot())
	require.True(t, l.HasSerial(js.Serials()[0]))
	for e := uint64(1); e <= want.Epoch; e++ {
		_, err := l.SnapshotAt(e)
		require.NoError(t, err, "epoch %d", e)
	}

	// Step 3: the spent coin stays spent.
	_, err = l.Submit(js)
	require.ErrorIs(t, err, errs.ErrDoubleSpend)
}

func TestOpenRejectsBadRetention(t *testing.T) {
	_, err := Open("ledger", WithFS(vfs.NewMem()), WithRetention(0))
	require.ErrorIs(t, err, errs.ErrInvalidParameters)
}
