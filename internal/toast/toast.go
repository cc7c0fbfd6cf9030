// internal/toast/toast.go
package toast

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tms-executor/api/schemas"
)

// Kind classifies the notifications shown after an order.
type Kind string

const (
	KindNone    Kind = "NONE"
	KindSuccess Kind = "SUCCESS"
	KindError   Kind = "ERROR"
	KindUnknown Kind = "UNKNOWN"
)

const (
	appearSelector = ".toast, .toast-error, .toast-success, .ngx-toastr"
	appearTimeout  = 5 * time.Second
	renderSettle   = 500 * time.Millisecond
)

// popupSelectors covers ngx-toastr, SweetAlert and bootstrap alerts.
var popupSelectors = []string{
	"#toast-container .toast",
	".toast-error",
	".toast-success",
	".toast-warning",
	".toast-info",
	".ngx-toastr",
	".swal2-title",
	".swal2-html-container",
	".toast-container .toast-message",
	".toast-message",
	".toast-body",
	".alert-danger",
	".alert-success",
}

var (
	errorKeywords   = []string{"error", "failed", "invalid", "rejected", "fail", "exception"}
	successKeywords = []string{"success", "submitted", "completed", "accepted", "placed"}
)

// Report is the set of messages seen and their overall verdict.
type Report struct {
	Kind     Kind     `json:"kind"`
	Messages []string `json:"messages"`
}

// Capture waits briefly for a notification and collects every visible popup
// text. It never fails: a page without notifications yields KindNone.
func Capture(ctx context.Context, page schemas.Page, logger *zap.Logger) Report {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("toast")

	if err := page.WaitForSelector(ctx, appearSelector, appearTimeout); err == nil {
		_ = page.Sleep(ctx, renderSettle)
	} else {
		log.Debug("No notification appeared.", zap.Error(err))
	}

	messages := Collect(ctx, page)
	report := Report{Kind: Classify(messages), Messages: messages}
	for _, m := range messages {
		log.Info("Notification", zap.String("text", strings.ReplaceAll(m, "\n", " - ")))
	}
	return report
}

// Collect returns the trimmed, de-duplicated text of every visible popup in
// selector order.
func Collect(ctx context.Context, page schemas.Page) []string {
	seen := make(map[string]struct{})
	var messages []string
	for _, sel := range popupSelectors {
		loc := page.Locator(sel)
		n, err := loc.Count(ctx)
		if err != nil {
			continue
		}
		for i := 0; i < n; i++ {
			el := loc.Nth(i)
			if visible, err := el.IsVisible(ctx); err != nil || !visible {
				continue
			}
			text, err := el.Text(ctx)
			if err != nil {
				continue
			}
			text = strings.TrimSpace(text)
			if text == "" {
				continue
			}
			if _, dup := seen[text]; dup {
				continue
			}
			seen[text] = struct{}{}
			messages = append(messages, text)
		}
	}
	return messages
}

// Classify gives errors precedence over success messages.
func Classify(messages []string) Kind {
	if len(messages) == 0 {
		return KindNone
	}
	joined := strings.ToLower(strings.Join(messages, " "))
	if containsAny(joined, errorKeywords) {
		return KindError
	}
	if containsAny(joined, successKeywords) {
		return KindSuccess
	}
	return KindUnknown
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
