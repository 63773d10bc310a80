package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleValues() map[string]string {
	return map[string]string{
		"filing_date":  "2024-03-01",
		"trade_date":   "2024-02-28",
		"ticker":       "ACME",
		"insider_name": "Jordan Blake",
		"title":        "CFO",
		"trade_type":   "P",
		"price":        "12.5",
		"quantity":     "1000",
		"value":        "12500",
	}
}

func TestTradeDeterministic(t *testing.T) {
	t.Parallel()

	first := Trade(sampleValues())
	second := Trade(sampleValues())
	require.Equal(t, first, second)
	require.Len(t, first, 64)
}

func TestTradeSensitivity(t *testing.T) {
	t.Parallel()

	base := Trade(sampleValues())
	for _, field := range TradeFields {
		mutated := sampleValues()
		mutated[field] = mutated[field] + "x"
		require.NotEqual(t, base, Trade(mutated), "changing %q must change the digest", field)
	}
}

func TestTradeMissingAndEmptyNormalizeIdentically(t *testing.T) {
	t.Parallel()

	missing := sampleValues()
	delete(missing, "title")

	empty := sampleValues()
	empty["title"] = "   "

	require.Equal(t, Trade(missing), Trade(empty))
}

func TestTradeIgnoresCaseAndPadding(t *testing.T) {
	t.Parallel()

	padded := sampleValues()
	padded["ticker"] = "  acme "
	require.Equal(t, Trade(sampleValues()), Trade(padded))
}

func TestContent(t *testing.T) {
	t.Parallel()

	require.Equal(t, Content([]byte("body")), Content([]byte("body")))
	require.NotEqual(t, Content([]byte("body")), Content([]byte("body2")))
}
