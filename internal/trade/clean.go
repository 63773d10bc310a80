package trade

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	spaceRun      = regexp.MustCompile(`\s+`)
	tradeTypeExpr = regexp.MustCompile(`(?i)^([A-Z][+-]?)\s*-\s*(.*)$`)
)

// cleanText trims, collapses internal whitespace and returns "" for
// effectively empty input.
func cleanText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return spaceRun.ReplaceAllString(s, " ")
}

// parseFloatField converts listing-page numerics ("$1,234.50", "-3.2%",
// "-") into a float, returning nil when the cell carries no value.
// Percentages are stored as decimals.
func parseFloatField(s string) *float64 {
	s = cleanText(s)
	if s == "" {
		return nil
	}
	percent := strings.HasSuffix(s, "%")
	s = strings.TrimSuffix(s, "%")
	replacer := strings.NewReplacer(",", "", "$", "", "£", "", "€", "", "+", "")
	s = strings.TrimSpace(replacer.Replace(s))
	if s == "" || s == "-" || strings.EqualFold(s, "nan") {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	if percent {
		v /= 100
	}
	return &v
}

// parseIntField converts a share count like "1,000" into an int64,
// discarding any decimal part; nil when empty or malformed.
func parseIntField(s string) *int64 {
	s = cleanText(s)
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimPrefix(s, "+")
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	if s == "" || s == "-" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"01/02/2006",
	"1/2/2006",
	"Jan 2, 2006",
	"2 Jan 2006",
}

// parseDateFlexible accepts the date shapes seen on listing pages and
// returns the date truncated to midnight UTC.
func parseDateFlexible(s string) (time.Time, error) {
	s = cleanText(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// NormalizeTradeType splits a raw cell like "P - Purchase" or
// "S + Sale following option exercise" into a normalized code and its
// description. Unmatched input yields TypeUnknown with the cleaned text as
// description.
func NormalizeTradeType(raw string) (code, description string) {
	s := cleanText(raw)
	if s == "" {
		return "", ""
	}
	if m := tradeTypeExpr.FindStringSubmatch(s); m != nil {
		c := strings.ToUpper(m[1])
		if known(c) {
			return c, cleanText(m[2])
		}
	}
	upper := strings.ToUpper(s)
	switch {
	case known(upper):
		return upper, ""
	case strings.Contains(upper, "PURCHASE"):
		return TypePurchase, s
	case strings.Contains(upper, "SALE") && strings.Contains(upper, "+"):
		return TypeSaleExercise, s
	case strings.Contains(upper, "SALE"):
		return TypeSale, s
	case strings.Contains(upper, "GIFT"):
		return TypeGift, s
	case strings.Contains(upper, "AWARD"), strings.Contains(upper, "GRANT"):
		return TypeAward, s
	}
	return TypeUnknown, s
}

func known(code string) bool {
	switch code {
	case TypePurchase, TypeSale, TypeSaleExercise, TypeGift, TypeAward, TypeOther:
		return true
	}
	return false
}

// splitTickerCompany separates a combined "ACME Acme Corp" ticker cell into
// its ticker symbol and trailing company name.
func splitTickerCompany(s string) (ticker, company string) {
	s = cleanText(s)
	if s == "" {
		return "", ""
	}
	parts := strings.SplitN(s, " ", 2)
	ticker = strings.ToUpper(parts[0])
	if len(parts) > 1 {
		company = cleanText(parts[1])
	}
	return ticker, company
}
