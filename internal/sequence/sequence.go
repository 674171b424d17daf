// Package sequence allocates prefixed, zero-padded record identifiers by
// scanning the identifiers already in use.
package sequence

import (
	"fmt"
	"strconv"
	"strings"
)

// Sequence names one identifier series, e.g. INS-0001.
type Sequence struct {
	Prefix string
	Width  int
}

// Identifier series used by the CRM collections.
var (
	InsuranceEntry    = Sequence{Prefix: "INS-", Width: 4}
	InsuranceCustomer = Sequence{Prefix: "INSC-", Width: 5}
	Lead              = Sequence{Prefix: "LEAD-", Width: 4}
	CreditsFinEntry   = Sequence{Prefix: "CF-", Width: 5}
	Bid               = Sequence{Prefix: "BID-", Width: 5}
	ReliantBestEntry  = Sequence{Prefix: "RBE-", Width: 6}
	ReliantBest       = Sequence{Prefix: "RB-", Width: 5}
	GoldLoan          = Sequence{Prefix: "GL-", Width: 5}
	PersonalLoan      = Sequence{Prefix: "PL-", Width: 5}
)

// Generate returns prefix followed by max(existing suffix)+1 padded to width.
// Values without the prefix or with a non-numeric suffix are skipped. Gaps are
// kept: the result is always above the highest suffix seen.
//
// Generate is not safe against concurrent callers on its own; allocate inside
// the same atomic store update that appends the new record.
func Generate(prefix string, width int, values []string) string {
	var max int64
	for _, v := range values {
		if !strings.HasPrefix(v, prefix) {
			continue
		}
		n, err := strconv.ParseInt(v[len(prefix):], 10, 64)
		if err != nil || n < 0 {
			continue
		}
		if n > max {
			max = n
		}
	}
	return fmt.Sprintf("%s%0*d", prefix, width, max+1)
}

// Next is Generate for the series s over one field of items.
func Next[T any](s Sequence, items []T, field func(T) string) string {
	values := make([]string, 0, len(items))
	for _, it := range items {
		values = append(values, field(it))
	}
	return Generate(s.Prefix, s.Width, values)
}
