// internal/dashboard/dashboard.go
package dashboard

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
	bodySelector   = "body"
	figureSelector = ".figure"
	figureWait     = 15 * time.Second
)

// Figures is a used/free split of one account resource. Values keep the
// terminal's own formatting ("1,20,000.00").
type Figures struct {
	Amount    string `json:"amount,omitempty"`
	Utilized  string `json:"utilized,omitempty"`
	Available string `json:"available,omitempty"`
}

// Item is a labelled number from the summary strip.
type Item struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Summary is what the client dashboard shows about the account.
type Summary struct {
	Collateral Figures `json:"collateral"`
	Limits     Figures `json:"limits"`
	Items      []Item  `json:"summary_items,omitempty"`
}

// Extract opens the dashboard at url and reads the account summary. A
// dashboard whose widgets never render yields an empty Summary, not an error.
func Extract(ctx context.Context, page schemas.Page, url string, logger *zap.Logger) (*Summary, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("dashboard")

	log.Info("Opening dashboard.", zap.String("url", url))
	if err := page.Goto(ctx, url, schemas.NavigateOptions{}); err != nil {
		return nil, fmt.Errorf("navigating to dashboard: %w", err)
	}
	if err := page.WaitForSelector(ctx, figureSelector, figureWait); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("Dashboard figures did not render.", zap.Error(err))
	}

	body, err := page.Content(ctx, bodySelector)
	if err != nil {
		return nil, fmt.Errorf("reading dashboard: %w", err)
	}
	summary, err := Parse(body)
	if err != nil {
		return nil, err
	}
	log.Info("Dashboard extracted.",
		zap.String("collateral_available", summary.Collateral.Available),
		zap.String("limit_available", summary.Limits.Available),
		zap.Int("summary_items", len(summary.Items)))
	return summary, nil
}

// Parse reads collateral figures, trading limits and summary items out of
// dashboard markup. Missing widgets leave their fields empty.
func Parse(markup string) (*Summary, error) {
	doc, err := htmlquery.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parsing dashboard: %w", err)
	}

	s := &Summary{}
	for _, fig := range htmlquery.Find(doc, `//*[`+hasClass("figure")+`]`) {
		label := htmlquery.FindOne(fig, `.//*[`+hasClass("figure-label")+`]`)
		value := htmlquery.FindOne(fig, `.//*[`+hasClass("figure-value")+`]`)
		if label == nil || value == nil {
			continue
		}
		l, v := text(label), text(value)
		switch {
		case strings.Contains(l, "Collateral Amount"):
			s.Collateral.Amount = v
		case strings.Contains(l, "Collateral Utilized"):
			s.Collateral.Utilized = v
		case strings.Contains(l, "Collateral Available"):
			s.Collateral.Available = v
		}
	}

	for _, tip := range htmlquery.Find(doc, `//*[`+hasClass("tooltiptext")+`]`) {
		t := text(tip)
		switch {
		case strings.Contains(t, "Utilized Trading Limit"):
			s.Limits.Utilized = afterColon(t)
		case strings.Contains(t, "Available Trading Limit"):
			s.Limits.Available = afterColon(t)
		case strings.Contains(t, "Total Trading Limit"):
			s.Limits.Amount = afterColon(t)
		}
	}

	for _, item := range htmlquery.Find(doc, `//*[`+hasClass("data__summary--item")+`]`) {
		num := htmlquery.FindOne(item, `.//*[`+hasClass("data__summary--num")+`]`)
		if num == nil {
			continue
		}
		var label string
		for _, span := range htmlquery.Find(item, ".//span") {
			if span != num {
				label = text(span)
			}
		}
		s.Items = append(s.Items, Item{Label: label, Value: text(num)})
	}
	return s, nil
}

// hasClass matches one token of a space separated class attribute.
func hasClass(name string) string {
	return `contains(concat(" ", normalize-space(@class), " "), " ` + name + ` ")`
}

func text(n *html.Node) string {
	return strings.Join(strings.Fields(htmlquery.InnerText(n)), " ")
}

func afterColon(s string) string {
	if i := strings.LastIndex(s, ":"); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
