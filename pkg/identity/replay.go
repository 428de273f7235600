package identity

import (
	"context"

	"github.com/greenproof/core/pkg/hashing"
	"github.com/greenproof/core/pkg/ledger"
	"github.com/greenproof/core/pkg/receipt"
)

// Replay rebuilds an identity store from the ledger's double_count
// receipts, so a fresh process sees every registration that was ever
// recorded. Returns the number of records replayed.
//
// Receipts missing the identity fields are skipped; the ledger is
// append-only, so a malformed historical receipt must not block replay.
func Replay(ctx context.Context, store Store, emitter *ledger.Emitter) (int, error) {
	receipts, err := emitter.List(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, r := range receipts {
		if r.Type() != receipt.TypeDoubleCount {
			continue
		}
		id, _ := r["identity_hash"].(string)
		source, _ := r["source"].(string)
		owner, _ := r["owner"].(string)
		if !hashing.ContentHash(id).Valid() || source == "" || owner == "" {
			continue
		}
		ts, _ := r[receipt.FieldTimestamp].(string)
		if err := store.Append(ctx, hashing.ContentHash(id), Record{
			Source: source,
			Owner:  owner,
			TS:     ts,
		}); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
