// Package fingerprint provides stable SHA-256 digests used as record
// identities and cheap change-detection keys.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// TradeFields is the fixed set of semantically-identifying fields hashed
// into a trade fingerprint. Two parses of the same real-world filing must
// agree on every one of these values.
var TradeFields = []string{
	"filing_date",
	"trade_date",
	"ticker",
	"insider_name",
	"title",
	"trade_type",
	"price",
	"quantity",
	"value",
}

// missingSentinel stands in for absent values so a fingerprint can always
// be computed over partial rows.
const missingSentinel = "none"

// Trade computes the identity digest for a trade record. Fields are taken
// from values by name, normalized (trimmed, lowercased) and joined in
// sorted field order, so insertion order of the map never matters.
func Trade(values map[string]string) string {
	fields := append([]string(nil), TradeFields...)
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, normalize(values[field]))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// Content computes the digest of a raw fetched payload. It is a change
// detection key, not a business identity.
func Content(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func normalize(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return missingSentinel
	}
	return v
}
