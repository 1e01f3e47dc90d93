// Package reportimport reconciles courier-issued settlement reports
// (semicolon-delimited CSV files) against the tenant's orders. Each import
// runs asynchronously: an upload creates a pending run, a background worker
// claims it, streams the file row by row, and records progress checkpoints
// so the UI can follow along.
package reportimport

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrRunNotFound is returned when an import run does not exist or
	// belongs to another tenant.
	ErrRunNotFound = errors.New("import run not found")

	// ErrRunFinished is returned when cancelling a run that already
	// reached a terminal state.
	ErrRunFinished = errors.New("import run already finished")

	// ErrEmptyFile is returned when the uploaded file has no header row.
	ErrEmptyFile = errors.New("report file is empty")
)

// State is the lifecycle state of an import run.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether the run can no longer change state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Run is a single courier report import.
type Run struct {
	ID              uuid.UUID  `json:"id"`
	TenantID        uuid.UUID  `json:"tenant_id"`
	CourierCode     string     `json:"courier_code"`
	FileName        string     `json:"file_name"`
	FilePath        string     `json:"-"`
	State           State      `json:"state"`
	Progress        Progress   `json:"progress"`
	Summary         *Summary   `json:"summary,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CancelRequested bool       `json:"cancel_requested"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// Progress is the running counter set, checkpointed periodically while a
// run is processing. Processed always equals Matched+Unmatched; rows that
// blow up before they can be classified count only in Failed.
type Progress struct {
	Processed     int `json:"processed"`
	Matched       int `json:"matched"`
	Unmatched     int `json:"unmatched"`
	PriceMismatch int `json:"price_mismatch"`
	Successful    int `json:"successful"`
	Failed        int `json:"failed"`
}

// RowIssue records a single problematic row for operator review. Data holds
// the raw CSV fields so the operator can see exactly what the courier sent.
type RowIssue struct {
	Row     int      `json:"row"`
	Message string   `json:"message"`
	Data    []string `json:"data,omitempty"`
}

// Summary is the final outcome of a completed (or cancelled) run.
type Summary struct {
	TotalRows         int        `json:"total_rows"`
	MatchedRows       int        `json:"matched_rows"`
	UnmatchedRows     int        `json:"unmatched_rows"`
	PriceMismatchRows int        `json:"price_mismatch_rows"`
	SuccessfulRows    int        `json:"successful_rows"`
	FailedRows        int        `json:"failed_rows"`
	MatchRate         float64    `json:"match_rate"`
	PriceMatchRate    float64    `json:"price_match_rate"`
	Errors            []RowIssue `json:"errors,omitempty"`
	Warnings          []RowIssue `json:"warnings,omitempty"`
}
