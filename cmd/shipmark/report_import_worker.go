package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/shipmark-io/shipmark/internal/platform/config"
	"github.com/shipmark-io/shipmark/internal/platform/database"
	"github.com/shipmark-io/shipmark/internal/reportimport"
	"github.com/shipmark-io/shipmark/internal/shipment"
)

const defaultImportPollInterval = 5 * time.Second

// reportImportWorker claims pending import runs and drives them to a
// terminal state. Runs of one tenant are processed sequentially; the
// claim-with-lock keeps multiple worker instances from racing on a run.
type reportImportWorker struct {
	pool       *database.Pool
	runs       *reportimport.Store
	reconciler *reportimport.Reconciler
	interval   time.Duration
	pageSize   int
}

func buildReportImportWorker(pool *database.Pool, cfg config.ImporterConfig) *reportImportWorker {
	if pool == nil || !cfg.Enabled {
		return nil
	}

	interval := time.Duration(cfg.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = defaultImportPollInterval
	}

	pageSize := cfg.TenantScanPageSize
	if pageSize <= 0 {
		pageSize = defaultTenantScanPageSize
	}

	runs := reportimport.NewStore()
	return &reportImportWorker{
		pool:       pool,
		runs:       runs,
		reconciler: reportimport.NewReconciler(shipment.NewStore(), runs, reportimport.ReconcilerConfig{
			CheckpointRows: cfg.CheckpointRows,
		}),
		interval: interval,
		pageSize: pageSize,
	}
}

func (w *reportImportWorker) Run(ctx context.Context) error {
	if w == nil || w.pool == nil {
		return nil
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *reportImportWorker) sweep(ctx context.Context) {
	tenantIDs, err := listTenantIDs(ctx, w.pool, w.pageSize)
	if err != nil {
		slog.Error("report import worker failed to list tenants", "error", err)
		return
	}

	for _, tenantID := range tenantIDs {
		if ctx.Err() != nil {
			return
		}

		tenantErr := database.WithTenantConnection(ctx, w.pool, tenantID, func(ctx context.Context, q database.Querier) error {
			for {
				run, claimErr := w.runs.ClaimPending(ctx, q)
				if claimErr != nil {
					return claimErr
				}
				if run == nil {
					return nil
				}
				w.process(ctx, q, run)
				if ctx.Err() != nil {
					return nil
				}
			}
		})
		if tenantErr != nil {
			slog.Error("report import worker tenant sweep failed",
				"tenant_id", tenantID,
				"error", tenantErr,
			)
		}
	}
}

func (w *reportImportWorker) process(ctx context.Context, q database.Querier, run *reportimport.Run) {
	logger := slog.With("run_id", run.ID, "tenant_id", run.TenantID, "file", run.FileName)

	file, err := os.Open(run.FilePath)
	if err != nil {
		logger.Error("opening report file failed", "error", err)
		w.finishFailed(ctx, q, run, "report file unavailable")
		return
	}
	defer file.Close()

	summary, err := w.reconciler.Import(ctx, q, run.ID, file)
	switch {
	case errors.Is(err, reportimport.ErrRunCancelled):
		if _, cancelErr := w.runs.Cancel(ctx, q, run.ID, summary); cancelErr != nil {
			logger.Error("recording cancelled run failed", "error", cancelErr)
			return
		}
		logger.Info("import run cancelled", "processed", summary.TotalRows)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Shutdown mid-run: put the run back so the next sweep retries it.
		if requeueErr := w.runs.Requeue(context.WithoutCancel(ctx), q, run.ID); requeueErr != nil {
			logger.Error("requeueing interrupted run failed", "error", requeueErr)
		}
	case err != nil:
		logger.Error("import run failed", "error", err)
		w.finishFailed(ctx, q, run, err.Error())
	default:
		if _, completeErr := w.runs.Complete(ctx, q, run.ID, summary); completeErr != nil {
			logger.Error("recording completed run failed", "error", completeErr)
			return
		}
		logger.Info("import run completed",
			"total_rows", summary.TotalRows,
			"matched", summary.MatchedRows,
			"unmatched", summary.UnmatchedRows,
			"price_mismatches", summary.PriceMismatchRows,
			"match_rate", summary.MatchRate,
		)
	}
}

func (w *reportImportWorker) finishFailed(ctx context.Context, q database.Querier, run *reportimport.Run, message string) {
	if _, err := w.runs.Fail(ctx, q, run.ID, message); err != nil {
		slog.Error("recording failed run failed", "run_id", run.ID, "error", err)
	}
}
