// Package trade defines the typed insider-trade record and the validation
// boundary that converts loosely-typed parser rows into it. Untyped rows do
// not travel past this package.
package trade

import (
	"fmt"
	"strconv"
	"time"

	"github.com/finsight/insider-scraper/internal/fingerprint"
)

// Normalized trade-type codes.
const (
	TypePurchase     = "P"
	TypeSale         = "S"
	TypeSaleExercise = "S+"
	TypeGift         = "G"
	TypeAward        = "A"
	TypeOther        = "O"
	TypeUnknown      = "UNK"
)

// Trade is the validated, immutable unit of persisted data. Optional
// numeric fields are pointers so absence survives the round trip to the
// store as NULL.
type Trade struct {
	HashID      string
	FilingDate  time.Time
	TradeDate   time.Time
	Ticker      string
	CompanyName string
	InsiderName string
	Title       string
	TradeType   string
	Price       *float64
	Quantity    *int64
	Owned       *int64
	DeltaOwn    *float64
	Value       *float64
	FormURL     string
	Source      string
}

// FromRow validates a raw parser row, normalizes its fields and stamps the
// record with its source and identity fingerprint. A rejection is returned
// as an error; callers drop rejected rows without failing the batch.
func FromRow(row map[string]string, source string) (Trade, error) {
	if source == "" {
		return Trade{}, fmt.Errorf("source name is required")
	}

	ticker, company := splitTickerCompany(row["ticker"])
	if ticker == "" {
		return Trade{}, fmt.Errorf("missing ticker")
	}

	filingDate, err := parseDateFlexible(row["filing_date"])
	if err != nil {
		return Trade{}, fmt.Errorf("filing date: %w", err)
	}
	tradeDate, err := parseDateFlexible(row["trade_date"])
	if err != nil {
		return Trade{}, fmt.Errorf("trade date: %w", err)
	}

	insider := cleanText(row["insider_name"])
	if insider == "" {
		return Trade{}, fmt.Errorf("missing insider name")
	}

	tradeType, _ := NormalizeTradeType(row["trade_type"])
	if tradeType == "" {
		return Trade{}, fmt.Errorf("missing trade type")
	}

	if c := cleanText(row["company_name"]); c != "" {
		company = c
	}

	t := Trade{
		FilingDate:  filingDate,
		TradeDate:   tradeDate,
		Ticker:      ticker,
		CompanyName: company,
		InsiderName: insider,
		Title:       cleanText(row["title"]),
		TradeType:   tradeType,
		Price:       parseFloatField(row["price"]),
		Quantity:    parseIntField(row["quantity"]),
		Owned:       parseIntField(row["owned"]),
		DeltaOwn:    parseFloatField(row["delta_own"]),
		Value:       parseFloatField(row["value"]),
		FormURL:     cleanText(row["form_url"]),
		Source:      source,
	}
	if t.Value == nil && t.Price != nil && t.Quantity != nil {
		v := *t.Price * float64(*t.Quantity)
		t.Value = &v
	}
	t.HashID = fingerprint.Trade(t.hashValues())
	return t, nil
}

// hashValues renders the identity fields in their canonical string forms so
// repeated parses of the same filing always hash identically.
func (t Trade) hashValues() map[string]string {
	return map[string]string{
		"filing_date":  t.FilingDate.Format("2006-01-02"),
		"trade_date":   t.TradeDate.Format("2006-01-02"),
		"ticker":       t.Ticker,
		"insider_name": t.InsiderName,
		"title":        t.Title,
		"trade_type":   t.TradeType,
		"price":        formatFloat(t.Price),
		"quantity":     formatInt(t.Quantity),
		"value":        formatFloat(t.Value),
	}
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatInt(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}
