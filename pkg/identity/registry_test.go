package identity

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenproof/core/pkg/anomaly"
	"github.com/greenproof/core/pkg/hashing"
	"github.com/greenproof/core/pkg/ledger"
	"github.com/greenproof/core/pkg/receipt"
)

func newRegistry(t *testing.T) (*Registry, *ledger.Emitter) {
	t.Helper()
	store, err := ledger.NewFileStore(filepath.Join(t.TempDir(), "receipts.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	e := ledger.NewEmitter(store)
	return NewRegistry(NewMemoryStore(), e), e
}

func TestDeriveIdentityIsStable(t *testing.T) {
	c := Claim{ProjectID: "P1", VintageYear: 2023, Quantity: 100, Country: "BR"}
	assert.Equal(t, DeriveIdentity(c), DeriveIdentity(c))
	assert.True(t, DeriveIdentity(c).Valid())

	// Any identity field changing changes the identity.
	assert.NotEqual(t, DeriveIdentity(c), DeriveIdentity(Claim{ProjectID: "P2", VintageYear: 2023, Quantity: 100, Country: "BR"}))
	assert.NotEqual(t, DeriveIdentity(c), DeriveIdentity(Claim{ProjectID: "P1", VintageYear: 2024, Quantity: 100, Country: "BR"}))
	assert.NotEqual(t, DeriveIdentity(c), DeriveIdentity(Claim{ProjectID: "P1", VintageYear: 2023, Quantity: 101, Country: "BR"}))
	assert.NotEqual(t, DeriveIdentity(c), DeriveIdentity(Claim{ProjectID: "P1", VintageYear: 2023, Quantity: 100, Country: "AR"}))
}

func TestDeriveIdentitySeparatorKeepsFieldsApart(t *testing.T) {
	a := Claim{ProjectID: "P1|2023", VintageYear: 100, Country: "BR"}
	b := Claim{ProjectID: "P1", VintageYear: 2023, Quantity: 100, Country: "BR"}
	assert.NotEqual(t, DeriveIdentity(a), DeriveIdentity(b))
}

func TestRegisterFirstClaimIsUnique(t *testing.T) {
	reg, e := newRegistry(t)
	ctx := context.Background()

	c := Claim{ProjectID: "P1", VintageYear: 2023, Quantity: 100, Country: "BR"}
	res, err := reg.Register(ctx, c, "verra", "owner-x")
	require.NoError(t, err)
	assert.True(t, res.IsUnique)
	assert.Equal(t, 1, res.Occurrences)
	assert.Equal(t, DeriveIdentity(c), res.IdentityHash)

	receipts, err := e.List(ctx)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, receipt.TypeDoubleCount, receipts[0].Type())
	assert.Equal(t, true, receipts[0]["is_unique"])
}

func TestRegisterSameSourceOwnerIsNotDuplicate(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()
	c := Claim{ProjectID: "P1", VintageYear: 2023, Quantity: 100, Country: "BR"}

	_, err := reg.Register(ctx, c, "verra", "owner-x")
	require.NoError(t, err)
	res, err := reg.Register(ctx, c, "verra", "owner-x")
	require.NoError(t, err)
	assert.True(t, res.IsUnique)
	assert.Equal(t, 2, res.Occurrences)
}

func TestRegisterCrossSourceHalts(t *testing.T) {
	reg, e := newRegistry(t)
	ctx := context.Background()
	c := Claim{ProjectID: "P1", VintageYear: 2023, Quantity: 100, Country: "BR"}

	_, err := reg.Register(ctx, c, "source-a", "owner-x")
	require.NoError(t, err)

	res, err := reg.Register(ctx, c, "source-b", "owner-y")
	require.Error(t, err)

	var halt *anomaly.HaltError
	require.ErrorAs(t, err, &halt)
	assert.Equal(t, anomaly.ClassCritical, halt.Classification())
	assert.Contains(t, halt.Error(), "duplicate")

	// The registration still happened and carries the evidence.
	assert.False(t, res.IsUnique)
	assert.Equal(t, 2, res.Occurrences)

	// Ledger: two double_count receipts plus exactly one critical anomaly.
	receipts, lerr := e.List(ctx)
	require.NoError(t, lerr)
	var anomalies []receipt.Receipt
	for _, r := range receipts {
		if r.Type() == receipt.TypeAnomaly {
			anomalies = append(anomalies, r)
		}
	}
	require.Len(t, anomalies, 1)
	assert.Equal(t, "critical", anomalies[0]["classification"])
	assert.Equal(t, "halt", anomalies[0]["action"])
}

func TestRegisterSameOwnerDifferentSourceStillHalts(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()
	c := Claim{ProjectID: "P9", VintageYear: 2022, Quantity: 50, Country: "KE"}

	_, err := reg.Register(ctx, c, "verra", "owner-x")
	require.NoError(t, err)
	_, err = reg.Register(ctx, c, "gold_standard", "owner-x")
	assert.True(t, anomaly.IsHalt(err))
}

func TestCheckReportsHistory(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()
	c := Claim{ProjectID: "P1", VintageYear: 2023, Quantity: 100, Country: "BR"}
	id := DeriveIdentity(c)

	res, err := reg.Check(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, res.OccurrenceCount)
	assert.False(t, res.IsDoubleCounted)

	_, err = reg.Register(ctx, c, "source-a", "owner-x")
	require.NoError(t, err)
	_, _ = reg.Register(ctx, c, "source-b", "owner-y")

	res, err = reg.Check(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, res.OccurrenceCount)
	assert.Equal(t, 2, res.UniqueSources)
	assert.Equal(t, 2, res.UniqueOwners)
	assert.True(t, res.IsDoubleCounted)
}

func TestResetClearsHistory(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()
	c := Claim{ProjectID: "P1", VintageYear: 2023, Quantity: 100, Country: "BR"}

	_, err := reg.Register(ctx, c, "verra", "owner-x")
	require.NoError(t, err)
	require.NoError(t, reg.Reset(ctx))

	res, err := reg.Check(ctx, DeriveIdentity(c))
	require.NoError(t, err)
	assert.Zero(t, res.OccurrenceCount)
}

func TestRegisterReceiptsAreContentAddressed(t *testing.T) {
	reg, e := newRegistry(t)
	ctx := context.Background()

	_, err := reg.Register(ctx, Claim{ProjectID: "P1", VintageYear: 2023, Quantity: 100, Country: "BR"}, "verra", "owner-x")
	require.NoError(t, err)
	_, err = reg.Register(ctx, Claim{ProjectID: "P2", VintageYear: 2024, Quantity: 55, Country: "DE"}, "verra", "owner-x")
	require.NoError(t, err)

	receipts, err := e.List(ctx)
	require.NoError(t, err)
	require.Len(t, receipts, 2)

	h1, h2 := receipts[0].PayloadHash(), receipts[1].PayloadHash()
	require.NotEqual(t, hashing.Empty(), h1)
	require.NotEqual(t, hashing.Empty(), h2)
	assert.NotEqual(t, h1, h2)
}

func TestConcurrentRegistrationsSeeEachOther(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()
	c := Claim{ProjectID: "P1", VintageYear: 2023, Quantity: 100, Country: "BR"}

	const workers = 8
	var wg sync.WaitGroup
	halts := make([]bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := reg.Register(ctx, c, "source", "owner-"+string(rune('a'+i)))
			halts[i] = anomaly.IsHalt(err)
		}(i)
	}
	wg.Wait()

	// Exactly one registration can have seen an empty history.
	haltCount := 0
	for _, h := range halts {
		if h {
			haltCount++
		}
	}
	assert.Equal(t, workers-1, haltCount)

	res, err := reg.Check(ctx, DeriveIdentity(c))
	require.NoError(t, err)
	assert.Equal(t, workers, res.OccurrenceCount)
}

func TestConcurrentRegistrationLedgerOrder(t *testing.T) {
	reg, e := newRegistry(t)
	ctx := context.Background()
	c := Claim{ProjectID: "P1", VintageYear: 2023, Quantity: 100, Country: "BR"}

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = reg.Register(ctx, c, "source", "owner-"+string(rune('a'+i)))
		}(i)
	}
	wg.Wait()

	// The double_count receipts land on the ledger in the same order as
	// the store's records, so the occurrence counts read back 1..N.
	receipts, err := e.List(ctx)
	require.NoError(t, err)
	var occurrences []any
	for _, r := range receipts {
		if r.Type() == receipt.TypeDoubleCount {
			occurrences = append(occurrences, r["occurrences"])
		}
	}
	require.Len(t, occurrences, workers)
	for i, n := range occurrences {
		assert.EqualValues(t, i+1, n, "ledger position %d", i)
	}
}
