package reportimport

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shipmark-io/shipmark/internal/platform/database"
	"github.com/shipmark-io/shipmark/internal/platform/metrics"
	"github.com/shipmark-io/shipmark/internal/shipment"
)

// ErrRunCancelled is returned by Import when a cancel request was observed
// mid-run. The partial summary accompanying it is still valid.
var ErrRunCancelled = errors.New("import run cancelled")

// OrderMatcher resolves a tracking number to the tenant's order.
type OrderMatcher interface {
	FindOrderByTracking(ctx context.Context, q database.Querier, trackingNumber string) (*shipment.Order, error)
}

// ProgressStore persists checkpoints and exposes the cancel flag.
type ProgressStore interface {
	SaveProgress(ctx context.Context, q database.Querier, runID uuid.UUID, p Progress) error
	IsCancelRequested(ctx context.Context, q database.Querier, runID uuid.UUID) (bool, error)
}

// ReconcilerConfig bounds a reconciliation run.
type ReconcilerConfig struct {
	// CheckpointRows is how many rows are processed between progress
	// checkpoints. Defaults to 10.
	CheckpointRows int
	// PriceTolerance is the absolute difference below which a report
	// price and an order total count as equal. Defaults to 0.01.
	PriceTolerance float64
}

// Reconciler streams a courier settlement report and classifies every row
// against the tenant's orders. One bad row never aborts the run; only a
// file-level failure (unreadable header) does.
type Reconciler struct {
	matcher OrderMatcher
	store   ProgressStore
	cfg     ReconcilerConfig
}

func NewReconciler(matcher OrderMatcher, store ProgressStore, cfg ReconcilerConfig) *Reconciler {
	if cfg.CheckpointRows <= 0 {
		cfg.CheckpointRows = 10
	}
	if cfg.PriceTolerance <= 0 {
		cfg.PriceTolerance = 0.01
	}
	return &Reconciler{matcher: matcher, store: store, cfg: cfg}
}

// Import reads the report row by row and returns the final summary. The
// cancel flag is re-read between rows, so a cancel lands after the current
// row at the latest; in that case Import returns the partial summary
// together with ErrRunCancelled.
func (r *Reconciler) Import(ctx context.Context, q database.Querier, runID uuid.UUID, file io.Reader) (*Summary, error) {
	reader := csv.NewReader(file)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyFile
		}
		return nil, fmt.Errorf("reading report header: %w", err)
	}
	mapping := MapColumns(header)

	var (
		progress  Progress
		errs      []RowIssue
		warnings  []RowIssue
		cancelled bool
		rowNum    int
	)

	for {
		if ctx.Err() != nil {
			return r.summarize(progress, errs, warnings), ctx.Err()
		}
		if stop, checkErr := r.store.IsCancelRequested(ctx, q, runID); checkErr != nil {
			slog.Warn("cancel flag check failed", "run_id", runID, "error", checkErr)
		} else if stop {
			cancelled = true
			break
		}

		record, readErr := reader.Read()
		if errors.Is(readErr, io.EOF) {
			break
		}
		rowNum++
		if readErr != nil {
			progress.Failed++
			errs = append(errs, RowIssue{Row: rowNum, Message: "malformed row: " + readErr.Error()})
			metrics.ImportRowsTotal.WithLabelValues("failed").Inc()
			continue
		}

		r.reconcileRow(ctx, q, rowNum, record, mapping, &progress, &errs, &warnings)

		if (progress.Processed+progress.Failed)%r.cfg.CheckpointRows == 0 {
			if saveErr := r.store.SaveProgress(ctx, q, runID, progress); saveErr != nil {
				slog.Warn("progress checkpoint failed", "run_id", runID, "error", saveErr)
			}
		}
	}

	if saveErr := r.store.SaveProgress(ctx, q, runID, progress); saveErr != nil {
		slog.Warn("final progress save failed", "run_id", runID, "error", saveErr)
	}

	summary := r.summarize(progress, errs, warnings)
	if cancelled {
		return summary, ErrRunCancelled
	}
	return summary, nil
}

// reconcileRow classifies a single report row. A row is either matched or
// unmatched; rows that cannot even be classified (store errors) count as
// failed and keep the matched/unmatched identity intact.
func (r *Reconciler) reconcileRow(ctx context.Context, q database.Querier, rowNum int, record []string, mapping ColumnMapping, progress *Progress, errs, warnings *[]RowIssue) {
	tracking := fieldAt(record, mapping.Tracking)

	order, err := r.matcher.FindOrderByTracking(ctx, q, tracking)
	switch {
	case err == nil:
		progress.Processed++
		progress.Matched++
	case errors.Is(err, shipment.ErrOrderNotFound), errors.Is(err, shipment.ErrTrackingEmpty):
		progress.Processed++
		progress.Unmatched++
		*warnings = append(*warnings, RowIssue{Row: rowNum, Message: "no matching order for tracking number " + strconv.Quote(tracking), Data: record})
		metrics.ImportRowsTotal.WithLabelValues("unmatched").Inc()
		return
	default:
		progress.Failed++
		*errs = append(*errs, RowIssue{Row: rowNum, Message: "order lookup failed: " + err.Error(), Data: record})
		metrics.ImportRowsTotal.WithLabelValues("failed").Inc()
		return
	}

	price, priceErr := parsePrice(fieldAt(record, mapping.Price))
	if priceErr != nil {
		progress.PriceMismatch++
		*warnings = append(*warnings, RowIssue{Row: rowNum, Message: "unparseable price for tracking number " + strconv.Quote(tracking), Data: record})
		metrics.ImportRowsTotal.WithLabelValues("price_mismatch").Inc()
		return
	}

	if priceDiffers(price, order.TotalAmount, r.cfg.PriceTolerance) {
		progress.PriceMismatch++
		*warnings = append(*warnings, RowIssue{
			Row:     rowNum,
			Message: fmt.Sprintf("price mismatch for order %s: report %.2f vs order %.2f", order.ExternalID, price, order.TotalAmount),
			Data:    record,
		})
		metrics.ImportRowsTotal.WithLabelValues("price_mismatch").Inc()
		return
	}

	progress.Successful++
	metrics.ImportRowsTotal.WithLabelValues("successful").Inc()
}

func (r *Reconciler) summarize(p Progress, errs, warnings []RowIssue) *Summary {
	s := &Summary{
		TotalRows:         p.Processed + p.Failed,
		MatchedRows:       p.Matched,
		UnmatchedRows:     p.Unmatched,
		PriceMismatchRows: p.PriceMismatch,
		SuccessfulRows:    p.Successful,
		FailedRows:        p.Failed,
		Errors:            errs,
		Warnings:          warnings,
	}
	if p.Processed > 0 {
		s.MatchRate = round2(float64(p.Matched) / float64(p.Processed) * 100)
	}
	if p.Matched > 0 {
		s.PriceMatchRate = round2(float64(p.Successful) / float64(p.Matched) * 100)
	}
	return s
}

// fieldAt returns the cleaned field at idx, or "" when the row is short or
// the column was never mapped.
func fieldAt(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return cleanValue(record[idx])
}

// parsePrice accepts both dot and comma decimal separators; ACS and Geniki
// exports use the Greek locale comma.
func parsePrice(s string) (float64, error) {
	if s == "" {
		return 0, errors.New("empty price")
	}
	if strings.Contains(s, ",") && !strings.Contains(s, ".") {
		s = strings.ReplaceAll(s, ",", ".")
	}
	return strconv.ParseFloat(s, 64)
}

// priceDiffers compares amounts in integer cents so the tolerance boundary
// is exact; a float subtraction puts 10.01 - 10.00 just under 0.01.
func priceDiffers(price, total, tolerance float64) bool {
	diff := toCents(price) - toCents(total)
	if diff < 0 {
		diff = -diff
	}
	return diff >= toCents(tolerance)
}

func toCents(x float64) int64 {
	return int64(math.Round(x * 100))
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
