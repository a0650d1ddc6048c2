package wallet

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/decision-zk/decisiond/pkg/explorer"
)

// CreditsProgram is the asset program whose records back the private balance.
const CreditsProgram = "credits.aleo"

// microcreditsPattern matches the embedded amount in a record plaintext,
// e.g. "microcredits: 1500000u64.private".
var microcreditsPattern = regexp.MustCompile(`microcredits:\s*(\d+)u64`)

// RecordMicrocredits extracts the microcredit amount from a record,
// whichever of the three known shapes it arrives in: an amount embedded in
// the plaintext, a numeric data property, or a numeric string property with
// the integer type suffix. Unreadable records are worth zero.
func RecordMicrocredits(r Record) uint64 {
	if r.Plaintext != "" {
		if m := microcreditsPattern.FindStringSubmatch(r.Plaintext); m != nil {
			if n, err := strconv.ParseUint(m[1], 10, 64); err == nil {
				return n
			}
		}
	}
	switch v := r.Data["microcredits"].(type) {
	case float64:
		return uint64(v)
	case uint64:
		return v
	case string:
		trimmed := strings.TrimSuffix(strings.TrimSpace(v), "u64")
		if n, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// PrivateBalance sums the unspent credits records held by the wallet and
// converts to display credits. Errors read as zero: the private balance is
// advisory and refreshed often.
func PrivateBalance(ctx context.Context, w Wallet) float64 {
	records, err := w.RequestRecords(ctx, CreditsProgram)
	if err != nil {
		return 0
	}
	var micro uint64
	for _, r := range records {
		if r.Spent {
			continue
		}
		micro += RecordMicrocredits(r)
	}
	return float64(micro) / explorer.MicrocreditsPerCredit
}
