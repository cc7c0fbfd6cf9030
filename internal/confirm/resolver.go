// internal/confirm/resolver.go
package confirm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tms-executor/api/schemas"
)

const buttonSelector = "button"

// Resolution records which confirmation control was activated.
type Resolution struct {
	Candidate schemas.ConfirmationCandidate `json:"candidate"`
	Checked   []string                      `json:"checked"`
}

// Resolver finds and clicks the confirmation control that appears after an
// order is submitted.
type Resolver struct {
	logger *zap.Logger
}

// NewResolver creates a resolver.
func NewResolver(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{logger: logger.Named("confirm")}
}

// Candidates lists the labels tried for action, highest priority first.
//
// The order is a policy, not something the terminal guarantees: the dialog
// has shipped with the action word in either case, a generic "Confirm" and a
// "Yes" prompt. Matching is by button text, so a redesign can break it; when
// nothing matches the caller gets ErrConfirmationNotFound instead of an
// assumed success.
func Candidates(action schemas.Action) []schemas.ConfirmationCandidate {
	labels := []string{action.Upper(), action.Title(), "Confirm", "Yes"}
	out := make([]schemas.ConfirmationCandidate, len(labels))
	for i, label := range labels {
		out[i] = schemas.ConfirmationCandidate{Label: label, Priority: i}
	}
	return out
}

// Resolve clicks the first visible candidate. Among same-labelled buttons
// the last in document order is used, since modal layers are appended on top
// of the form.
func (r *Resolver) Resolve(ctx context.Context, page schemas.Page, action schemas.Action) (Resolution, error) {
	var res Resolution
	for _, c := range Candidates(action) {
		res.Checked = append(res.Checked, c.Label)

		btn := page.Locator(buttonSelector).WithText(c.Label).Last()
		count, err := btn.Count(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			r.logger.Debug("Candidate lookup failed.", zap.String("label", c.Label), zap.Error(err))
			continue
		}
		if count == 0 {
			continue
		}
		visible, err := btn.IsVisible(ctx)
		if err != nil || !visible {
			continue
		}

		r.logger.Info("Found confirmation button.", zap.String("label", c.Label), zap.Int("priority", c.Priority))
		if err := btn.Click(ctx, schemas.ClickOptions{}); err != nil {
			return res, fmt.Errorf("clicking confirmation %q: %w", c.Label, err)
		}
		res.Candidate = c
		return res, nil
	}

	r.logger.Warn("No confirmation button found.", zap.Strings("checked", res.Checked))
	return res, schemas.ErrConfirmationNotFound
}
