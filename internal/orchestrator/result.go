// internal/orchestrator/result.go
package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/xkilldash9x/tms-executor/api/schemas"
	"github.com/xkilldash9x/tms-executor/internal/dashboard"
	"github.com/xkilldash9x/tms-executor/internal/orderbook"
	"github.com/xkilldash9x/tms-executor/internal/toast"
)

// Status is the overall outcome of a run.
type Status string

const (
	StatusSuccess     Status = "SUCCESS"
	StatusUnconfirmed Status = "UNCONFIRMED"
	StatusLoginFailed Status = "LOGIN_FAILED"
	StatusFormFailed  Status = "FORM_FAILED"
	StatusFailed      Status = "FAILED"
)

// Labels for runs that only read from the terminal.
const (
	ActionCheckOrders = "CHECK_ORDERS"
	ActionDashboard   = "DASHBOARD"
)

// Result is the run report written at the end of every command.
type Result struct {
	RunID         uuid.UUID           `json:"run_id"`
	Action        string              `json:"action"`
	Status        Status              `json:"status"`
	Order         *schemas.TradeOrder `json:"order,omitempty"`
	LoginAttempts int                 `json:"login_attempts"`
	FastPath      bool                `json:"session_reused"`
	ToggleClicks  int                 `json:"toggle_clicks"`
	ActionSet     bool                `json:"action_set"`
	Confirmation  string              `json:"confirmation,omitempty"`
	Toasts        *toast.Report       `json:"toasts,omitempty"`
	Orders        []orderbook.Order   `json:"todaysOrderPage,omitempty"`
	Dashboard     *dashboard.Summary  `json:"dashboard,omitempty"`
	Screenshot    string              `json:"screenshot,omitempty"`
	Errors        []string            `json:"errors,omitempty"`
	StartedAt     time.Time           `json:"started_at"`
	FinishedAt    time.Time           `json:"finished_at"`
}

func newResult(action string, startedAt time.Time) *Result {
	return &Result{
		RunID:     uuid.New(),
		Action:    action,
		Status:    StatusSuccess,
		StartedAt: startedAt,
	}
}

// fail records err and moves the result to status.
func (r *Result) fail(status Status, err error) {
	r.Status = status
	r.note(err)
}

func (r *Result) note(err error) {
	if err != nil {
		r.Errors = append(r.Errors, err.Error())
	}
}

// OK reports whether the run achieved what it set out to do.
func (r *Result) OK() bool {
	return r.Status == StatusSuccess
}

// ToJSON serializes the result with indentation.
func (r *Result) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "    ")
}

// Filename is the report name for the day the run started.
func (r *Result) Filename() string {
	return fmt.Sprintf("tms-output-%s.json", r.StartedAt.Local().Format("2006-01-02"))
}

// WriteJSON writes the report into dir and returns the path written.
func (r *Result) WriteJSON(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	data, err := r.ToJSON()
	if err != nil {
		return "", fmt.Errorf("encoding result: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, r.Filename())
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to create output file %s: %w", path, err)
	}
	return path, nil
}
