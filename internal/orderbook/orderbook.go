// internal/orderbook/orderbook.go
package orderbook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/tms-executor/api/schemas"
)

const (
	tableSelector       = "table"
	kendoHeaderSelector = ".k-grid-header"
	tableWait           = 20 * time.Second
	noRecordsMarker     = "No records"
)

// Order is one row of the daily order book. Fields is keyed by column header
// when the row lines up with the header; otherwise Cells keeps the raw
// values in column order.
type Order struct {
	Fields map[string]string `json:"fields,omitempty"`
	Cells  []string          `json:"cells,omitempty"`
}

// Get returns the value under header, or "" when the row is positional.
func (o Order) Get(header string) string {
	return o.Fields[header]
}

// Extract opens the order book at url and returns today's orders.
func Extract(ctx context.Context, page schemas.Page, url string, logger *zap.Logger) ([]Order, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("orderbook")

	log.Info("Opening order book.", zap.String("url", url))
	if err := page.Goto(ctx, url, schemas.NavigateOptions{}); err != nil {
		return nil, fmt.Errorf("navigating to order book: %w", err)
	}
	if err := page.WaitForSelector(ctx, tableSelector, tableWait); err != nil {
		return nil, fmt.Errorf("order book table did not render: %w", err)
	}

	tableHTML, err := page.Content(ctx, tableSelector)
	if err != nil {
		return nil, fmt.Errorf("reading order book table: %w", err)
	}

	// Kendo grids render the header in a separate table.
	var headerHTML string
	if n, err := page.Locator(kendoHeaderSelector).Count(ctx); err == nil && n > 0 {
		headerHTML, _ = page.Content(ctx, kendoHeaderSelector)
	}

	orders, headers, err := Parse(tableHTML, headerHTML)
	if err != nil {
		return nil, err
	}
	log.Info("Order book extracted.", zap.Strings("headers", headers), zap.Int("orders", len(orders)))
	return orders, nil
}

// Parse reads the rows of an order book table. Headers come from the table's
// own thead and fall back to headerHTML when it has none.
func Parse(tableHTML, headerHTML string) ([]Order, []string, error) {
	doc, err := htmlquery.Parse(strings.NewReader(tableHTML))
	if err != nil {
		return nil, nil, fmt.Errorf("parsing order book table: %w", err)
	}

	headers := cellTexts(htmlquery.Find(doc, "//thead//th"))
	if len(headers) == 0 && headerHTML != "" {
		hdoc, err := htmlquery.Parse(strings.NewReader(headerHTML))
		if err != nil {
			return nil, nil, fmt.Errorf("parsing order book header: %w", err)
		}
		headers = cellTexts(htmlquery.Find(hdoc, "//th"))
	}

	var orders []Order
	for _, row := range htmlquery.Find(doc, "//tbody/tr") {
		cells := cellTexts(htmlquery.Find(row, "./td"))
		if len(cells) <= 1 || strings.Contains(cells[0], noRecordsMarker) {
			continue
		}
		if len(cells) != len(headers) {
			orders = append(orders, Order{Cells: cells})
			continue
		}
		fields := make(map[string]string, len(cells))
		for i, h := range headers {
			fields[h] = cells[i]
		}
		orders = append(orders, Order{Fields: fields})
	}
	return orders, headers, nil
}

func cellTexts(nodes []*html.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, strings.Join(strings.Fields(htmlquery.InnerText(n)), " "))
	}
	return out
}
