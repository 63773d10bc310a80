// Package parser extracts loosely-typed trade rows from listing-page
// markup. Rows are string-keyed maps; typing and validation happen at the
// trade package boundary.
package parser

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// ErrNoTable reports an unrecoverable structural mismatch: the page holds
// no table at all.
var ErrNoTable = errors.New("no trade table found")

// tableID is the id of the listing table on the source pages.
const tableID = "insidertrades"

// Row is one loosely-typed parsed table row.
type Row map[string]string

// columnMap translates header text (lowercased) into canonical field names.
// Headers not listed here are carried through under their cleaned text.
var columnMap = map[string]string{
	"x":            "",
	"filing date":  "filing_date",
	"trade date":   "trade_date",
	"ticker":       "ticker",
	"company name": "company_name",
	"insider name": "insider_name",
	"title":        "title",
	"trade type":   "trade_type",
	"price":        "price",
	"qty":          "quantity",
	"owned":        "owned",
	"δown":         "delta_own",
	"value":        "value",
}

// Parser turns raw markup into ordered Row slices.
type Parser struct {
	baseURL string
	logger  *zap.Logger
}

// New builds a Parser. baseURL is used to absolutize form links.
func New(baseURL string, logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// Parse extracts trade rows from html for the named source. An empty page
// section yields an empty slice, not an error; only the complete absence of
// tabular structure is an error.
func (p *Parser) Parse(html string, source string) ([]Row, error) {
	if strings.TrimSpace(html) == "" {
		return nil, fmt.Errorf("parse %s: empty document", source)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", source, err)
	}

	table := p.findTable(doc)
	if table == nil {
		return nil, fmt.Errorf("parse %s: %w", source, ErrNoTable)
	}

	headers := extractHeaders(table)
	if len(headers) == 0 {
		return nil, fmt.Errorf("parse %s: table has no headers: %w", source, ErrNoTable)
	}

	var rows []Row
	table.Find("tbody tr").Each(func(_ int, tr *goquery.Selection) {
		row := p.extractRow(tr, headers)
		if row != nil {
			rows = append(rows, row)
		}
	})
	p.logger.Debug("parsed trade table",
		zap.String("source", source),
		zap.Int("rows", len(rows)))
	return rows, nil
}

// findTable prefers the table with the well-known id and falls back to the
// table with the most rows.
func (p *Parser) findTable(doc *goquery.Document) *goquery.Selection {
	if t := doc.Find("table#" + tableID); t.Length() > 0 {
		return t.First()
	}
	var best *goquery.Selection
	bestRows := 0
	doc.Find("table").Each(func(_ int, t *goquery.Selection) {
		n := t.Find("tr").Length()
		if n > bestRows {
			best = t
			bestRows = n
		}
	})
	if best != nil {
		p.logger.Warn("trade table id missing, using largest table",
			zap.Int("rows", bestRows))
	}
	return best
}

func extractHeaders(table *goquery.Selection) []string {
	headerRow := table.Find("thead tr").First()
	if headerRow.Length() == 0 {
		headerRow = table.Find("tr").First()
	}
	var headers []string
	headerRow.Find("th").Each(func(_ int, th *goquery.Selection) {
		text := strings.ToLower(collapseSpace(th.Text()))
		if mapped, ok := columnMap[text]; ok {
			headers = append(headers, mapped)
			return
		}
		headers = append(headers, strings.ReplaceAll(text, " ", "_"))
	})
	return headers
}

func (p *Parser) extractRow(tr *goquery.Selection, headers []string) Row {
	cells := tr.Find("td")
	if cells.Length() == 0 || cells.Length() < len(headers) {
		return nil
	}
	row := Row{}
	cells.Each(func(i int, td *goquery.Selection) {
		if i >= len(headers) || headers[i] == "" {
			return
		}
		row[headers[i]] = collapseSpace(td.Text())
	})
	if len(row) == 0 {
		return nil
	}
	if href := p.formLink(cells); href != "" {
		row["form_url"] = href
	}
	return row
}

// formLink pulls the filing link out of the first anchored cell.
func (p *Parser) formLink(cells *goquery.Selection) string {
	href, ok := cells.Find("a[href]").First().Attr("href")
	if !ok || href == "" {
		return ""
	}
	if u, err := url.Parse(href); err == nil && !u.IsAbs() && p.baseURL != "" {
		return p.baseURL + "/" + strings.TrimLeft(href, "/")
	}
	return href
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
