package trade

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRow() map[string]string {
	return map[string]string{
		"filing_date":  "2024-03-01",
		"trade_date":   "2024-02-28",
		"ticker":       "ACME Acme Corp",
		"insider_name": "Jordan Blake",
		"title":        "CFO",
		"trade_type":   "P - Purchase",
		"price":        "$12.50",
		"quantity":     "1,000",
		"owned":        "5,000",
		"delta_own":    "+25%",
		"value":        "$12,500",
		"form_url":     "https://www.sec.gov/Archives/edgar/data/1/form4.xml",
	}
}

func TestFromRowValid(t *testing.T) {
	t.Parallel()

	got, err := FromRow(validRow(), "latest_filings")
	require.NoError(t, err)

	assert.Equal(t, "ACME", got.Ticker)
	assert.Equal(t, "Acme Corp", got.CompanyName)
	assert.Equal(t, "Jordan Blake", got.InsiderName)
	assert.Equal(t, TypePurchase, got.TradeType)
	assert.Equal(t, "latest_filings", got.Source)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), got.FilingDate)
	assert.Equal(t, time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC), got.TradeDate)
	require.NotNil(t, got.Price)
	assert.InDelta(t, 12.5, *got.Price, 1e-9)
	require.NotNil(t, got.Quantity)
	assert.EqualValues(t, 1000, *got.Quantity)
	require.NotNil(t, got.DeltaOwn)
	assert.InDelta(t, 0.25, *got.DeltaOwn, 1e-9)
	require.NotNil(t, got.Value)
	assert.InDelta(t, 12500, *got.Value, 1e-9)
	assert.Len(t, got.HashID, 64)
}

func TestFromRowStableFingerprint(t *testing.T) {
	t.Parallel()

	first, err := FromRow(validRow(), "latest_filings")
	require.NoError(t, err)
	second, err := FromRow(validRow(), "latest_filings")
	require.NoError(t, err)
	assert.Equal(t, first.HashID, second.HashID)

	changed := validRow()
	changed["price"] = "$13.00"
	third, err := FromRow(changed, "latest_filings")
	require.NoError(t, err)
	assert.NotEqual(t, first.HashID, third.HashID)
}

func TestFromRowComputesValueFromPriceAndQuantity(t *testing.T) {
	t.Parallel()

	row := validRow()
	delete(row, "value")
	got, err := FromRow(row, "latest_filings")
	require.NoError(t, err)
	require.NotNil(t, got.Value)
	assert.InDelta(t, 12500, *got.Value, 1e-9)
}

func TestFromRowRejections(t *testing.T) {
	t.Parallel()

	cases := map[string]func(map[string]string){
		"missing ticker":       func(r map[string]string) { delete(r, "ticker") },
		"missing insider name": func(r map[string]string) { r["insider_name"] = "  " },
		"bad filing date":      func(r map[string]string) { r["filing_date"] = "soon" },
		"missing trade type":   func(r map[string]string) { delete(r, "trade_type") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			row := validRow()
			mutate(row)
			_, err := FromRow(row, "latest_filings")
			require.Error(t, err)
		})
	}
}

func TestNormalizeTradeType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in       string
		code     string
		contains string
	}{
		{"P - Purchase", TypePurchase, "Purchase"},
		{"S - Sale", TypeSale, "Sale"},
		{"S+ - Sale+OE", TypeSaleExercise, "Sale"},
		{"G - Gift", TypeGift, "Gift"},
		{"a - Grant/Award", TypeAward, "Award"},
		{"p", TypePurchase, ""},
		{"Automatic Sale", TypeSale, "Sale"},
		{"???", TypeUnknown, "?"},
		{"", "", ""},
	}
	for _, tc := range cases {
		code, desc := NormalizeTradeType(tc.in)
		assert.Equal(t, tc.code, code, "input %q", tc.in)
		if tc.contains != "" {
			assert.Contains(t, desc, tc.contains, "input %q", tc.in)
		}
	}
}

func TestParseFieldHelpers(t *testing.T) {
	t.Parallel()

	assert.Nil(t, parseFloatField("-"))
	assert.Nil(t, parseFloatField(""))
	assert.Nil(t, parseFloatField("n/a%%"))
	require.NotNil(t, parseFloatField("-3.5%"))
	assert.InDelta(t, -0.035, *parseFloatField("-3.5%"), 1e-9)

	assert.Nil(t, parseIntField(""))
	require.NotNil(t, parseIntField("2,500.75"))
	assert.EqualValues(t, 2500, *parseIntField("2,500.75"))

	_, err := parseDateFlexible("02/28/2024")
	assert.NoError(t, err)
	_, err = parseDateFlexible("Feb 28, 2024")
	assert.NoError(t, err)
	_, err = parseDateFlexible("whenever")
	assert.Error(t, err)
}
