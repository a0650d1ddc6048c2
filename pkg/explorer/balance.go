package explorer

import (
	"context"
	"strconv"
	"strings"
)

const (
	// MicrocreditsPerCredit is the fixed-point scale of on-chain balances.
	MicrocreditsPerCredit = 1_000_000

	creditsProgram = "credits.aleo"
)

// ParseCredits converts an on-chain fixed-point value with an integer type
// suffix (e.g. "5770000u64") into display credits. Unparseable values are
// worth zero: balance reads are best-effort by design.
func ParseCredits(value string) float64 {
	trimmed := strings.TrimSpace(strings.Trim(value, `"`))
	for _, suffix := range []string{"u64", "u128", "u32"} {
		trimmed = strings.TrimSuffix(trimmed, suffix)
	}
	micro, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0
	}
	return micro / MicrocreditsPerCredit
}

// PublicBalance fetches the public credits balance of an address from the
// credits program's account mapping. Any failure, including both mirrors
// being down or an address without a mapping entry, reads as zero; the
// indexer is flaky enough that surfacing those errors would only produce
// noise.
func (c *Client) PublicBalance(ctx context.Context, address string) float64 {
	var value string
	if err := c.getJSON(ctx, "/program/"+creditsProgram+"/mapping/account/"+address, &value); err != nil {
		return 0
	}
	return ParseCredits(value)
}
