package witness

import (
	"context"
	"fmt"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"

	"anonpay/internal/accumulator"
	"anonpay/internal/commitment"
	"anonpay/internal/params"
)

// BenchmarkGenerate measures uncached witness generation. A one-entry cache and
// alternating coins make every call a miss.
func BenchmarkGenerate(b *testing.B) {
	for _, size := range []int{1 << 8, 1 << 14} {
		acc := accumulator.New()
		cs := make([]commitment.Commitment, size)
		var zero fr.Element
		step := commitment.Commit(1, &zero)
		c := step
		for i := range cs {
			cs[i] = c
			c = c.Add(step)
		}
		if _, err := acc.AddBatch(cs); err != nil {
			b.Fatal(err)
		}
		snap := acc.Snapshot()

		for _, level := range []params.PrivacyLevel{params.Standard, params.Enhanced, params.Maximum} {
			b.Run(fmt.Sprintf("size=%d/%s", size, level), func(b *testing.B) {
				mgr, err := NewManager(acc, WithCapacity(1), WithRand(commitment.NewSeededReader([]byte("bench"))))
				if err != nil {
					b.Fatal(err)
				}
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					if _, err := mgr.Generate(context.Background(), snap, cs[i%len(cs)], level); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}

func BenchmarkGenerateCached(b *testing.B) {
	acc := accumulator.New()
	rng := commitment.NewSeededReader([]byte("bench-cached"))
	cs := make([]commitment.Commitment, 64)
	for i := range cs {
		c, _, err := commitment.New(uint64(i), rng)
		if err != nil {
			b.Fatal(err)
		}
		cs[i] = c
	}
	if _, err := acc.AddBatch(cs); err != nil {
		b.Fatal(err)
	}
	mgr, err := NewManager(acc)
	if err != nil {
		b.Fatal(err)
	}
	snap := acc.Snapshot()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := mgr.Generate(context.Background(), snap, cs[i%len(cs)], params.Standard); err != nil {
			b.Fatal(err)
		}
	}
}
