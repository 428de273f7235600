// Package identity derives stable claim identities and tracks them across
// sources. Two claims with the same project, vintage, quantity, and country
// are the same underlying credit no matter which registry reported them;
// registering that identity under a second source or owner is double
// counting and halts the pipeline.
package identity

import (
	"strconv"
	"strings"

	"github.com/greenproof/core/pkg/hashing"
)

// Claim is the stable identity subset of a carbon claim. Everything else a
// registry attaches (claim ids, prices, status) is deliberately excluded:
// identity must survive re-submission and cross-registry normalization.
type Claim struct {
	ProjectID   string
	VintageYear int
	Quantity    float64
	Country     string
}

// DeriveIdentity hashes the identity fields joined with "|". The separator
// keeps ("ab","c") and ("a","bc") distinct.
func DeriveIdentity(c Claim) hashing.ContentHash {
	parts := []string{
		c.ProjectID,
		strconv.Itoa(c.VintageYear),
		strconv.FormatFloat(c.Quantity, 'g', -1, 64),
		c.Country,
	}
	return hashing.HashString(strings.Join(parts, "|"))
}
