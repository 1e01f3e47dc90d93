package reportimport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shipmark-io/shipmark/internal/platform/database"
)

// Store handles import run database operations.
// Methods accept database.Querier so they can run inside WithTenantConnection.
type Store struct{}

// NewStore creates a new import run store.
func NewStore() *Store {
	return &Store{}
}

const runColumns = `id, tenant_id, courier_code, file_name, file_path, state, progress,
	summary, COALESCE(error_message, ''), cancel_requested, created_at, started_at, finished_at`

func scanRun(row pgx.Row) (*Run, error) {
	var (
		run          Run
		progressJSON []byte
		summaryJSON  []byte
	)
	err := row.Scan(&run.ID, &run.TenantID, &run.CourierCode, &run.FileName, &run.FilePath,
		&run.State, &progressJSON, &summaryJSON, &run.ErrorMessage, &run.CancelRequested,
		&run.CreatedAt, &run.StartedAt, &run.FinishedAt)
	if err != nil {
		return nil, err
	}
	if len(progressJSON) > 0 {
		if err := json.Unmarshal(progressJSON, &run.Progress); err != nil {
			return nil, fmt.Errorf("decoding progress: %w", err)
		}
	}
	if len(summaryJSON) > 0 {
		var s Summary
		if err := json.Unmarshal(summaryJSON, &s); err != nil {
			return nil, fmt.Errorf("decoding summary: %w", err)
		}
		run.Summary = &s
	}
	return &run, nil
}

// Create records a pending run for the current tenant. The worker picks it
// up on its next scan.
func (s *Store) Create(ctx context.Context, q database.Querier, courierCode, fileName, filePath string) (*Run, error) {
	row := q.QueryRow(ctx,
		`INSERT INTO import_runs (tenant_id, courier_code, file_name, file_path, state, progress)
		 VALUES (current_setting('app.current_tenant_id', true)::UUID, $1, $2, $3, 'pending', '{}'::jsonb)
		 RETURNING `+runColumns,
		courierCode, fileName, filePath)
	run, err := scanRun(row)
	if err != nil {
		return nil, fmt.Errorf("creating import run: %w", err)
	}
	return run, nil
}

// GetByID returns a run belonging to the current tenant.
func (s *Store) GetByID(ctx context.Context, q database.Querier, id uuid.UUID) (*Run, error) {
	row := q.QueryRow(ctx,
		`SELECT `+runColumns+`
		 FROM import_runs
		 WHERE id = $1 AND tenant_id = current_setting('app.current_tenant_id', true)::UUID`,
		id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("getting import run: %w", err)
	}
	return run, nil
}

// List returns the tenant's runs, newest first.
func (s *Store) List(ctx context.Context, q database.Querier, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.Query(ctx,
		`SELECT `+runColumns+`
		 FROM import_runs
		 WHERE tenant_id = current_setting('app.current_tenant_id', true)::UUID
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("listing import runs: %w", err)
	}
	defer rows.Close()

	var result []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning import run: %w", err)
		}
		result = append(result, *run)
	}
	return result, rows.Err()
}

// ClaimPending atomically flips the oldest pending run to processing and
// returns it. Returns nil when the tenant has no pending runs. The
// FOR UPDATE SKIP LOCKED guard keeps two workers from claiming the same
// run.
func (s *Store) ClaimPending(ctx context.Context, q database.Querier) (*Run, error) {
	row := q.QueryRow(ctx,
		`UPDATE import_runs
		 SET state = 'processing', started_at = NOW()
		 WHERE id = (
		 	SELECT id FROM import_runs
		 	WHERE tenant_id = current_setting('app.current_tenant_id', true)::UUID
		 	  AND state = 'pending'
		 	ORDER BY created_at
		 	FOR UPDATE SKIP LOCKED
		 	LIMIT 1
		 )
		 RETURNING `+runColumns)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claiming import run: %w", err)
	}
	return run, nil
}

// SaveProgress checkpoints the running counters. One atomic UPDATE per
// checkpoint; readers always see a consistent counter set.
func (s *Store) SaveProgress(ctx context.Context, q database.Querier, runID uuid.UUID, p Progress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding progress: %w", err)
	}
	_, err = q.Exec(ctx,
		`UPDATE import_runs SET progress = $2
		 WHERE id = $1 AND tenant_id = current_setting('app.current_tenant_id', true)::UUID`,
		runID, data)
	if err != nil {
		return fmt.Errorf("saving import progress: %w", err)
	}
	return nil
}

// IsCancelRequested reads the cancel flag.
func (s *Store) IsCancelRequested(ctx context.Context, q database.Querier, runID uuid.UUID) (bool, error) {
	var cancel bool
	err := q.QueryRow(ctx,
		`SELECT cancel_requested FROM import_runs
		 WHERE id = $1 AND tenant_id = current_setting('app.current_tenant_id', true)::UUID`,
		runID).Scan(&cancel)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrRunNotFound
		}
		return false, fmt.Errorf("reading cancel flag: %w", err)
	}
	return cancel, nil
}

// RequestCancel marks a pending or processing run for cancellation. A
// pending run is cancelled immediately; a processing run stops after the
// row in flight.
func (s *Store) RequestCancel(ctx context.Context, q database.Querier, runID uuid.UUID) (*Run, error) {
	run, err := s.GetByID(ctx, q, runID)
	if err != nil {
		return nil, err
	}
	if run.State.Terminal() {
		return nil, ErrRunFinished
	}

	if run.State == StatePending {
		return s.finish(ctx, q, runID, StateCancelled, nil, "")
	}

	_, err = q.Exec(ctx,
		`UPDATE import_runs SET cancel_requested = TRUE
		 WHERE id = $1 AND tenant_id = current_setting('app.current_tenant_id', true)::UUID`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("requesting cancel: %w", err)
	}
	run.CancelRequested = true
	return run, nil
}

// Requeue puts an interrupted processing run back in the pending queue.
func (s *Store) Requeue(ctx context.Context, q database.Querier, runID uuid.UUID) error {
	_, err := q.Exec(ctx,
		`UPDATE import_runs
		 SET state = 'pending', started_at = NULL, progress = '{}'::jsonb
		 WHERE id = $1 AND state = 'processing'
		   AND tenant_id = current_setting('app.current_tenant_id', true)::UUID`,
		runID)
	if err != nil {
		return fmt.Errorf("requeueing import run: %w", err)
	}
	return nil
}

// Complete records a successful run and its summary.
func (s *Store) Complete(ctx context.Context, q database.Querier, runID uuid.UUID, summary *Summary) (*Run, error) {
	return s.finish(ctx, q, runID, StateCompleted, summary, "")
}

// Cancel records a cancelled run, keeping the partial summary.
func (s *Store) Cancel(ctx context.Context, q database.Querier, runID uuid.UUID, summary *Summary) (*Run, error) {
	return s.finish(ctx, q, runID, StateCancelled, summary, "")
}

// Fail records a file-level failure.
func (s *Store) Fail(ctx context.Context, q database.Querier, runID uuid.UUID, message string) (*Run, error) {
	return s.finish(ctx, q, runID, StateFailed, nil, message)
}

func (s *Store) finish(ctx context.Context, q database.Querier, runID uuid.UUID, state State, summary *Summary, message string) (*Run, error) {
	var summaryJSON []byte
	if summary != nil {
		var err error
		summaryJSON, err = json.Marshal(summary)
		if err != nil {
			return nil, fmt.Errorf("encoding summary: %w", err)
		}
	}
	row := q.QueryRow(ctx,
		`UPDATE import_runs
		 SET state = $2, summary = $3, error_message = NULLIF($4, ''), finished_at = NOW()
		 WHERE id = $1 AND tenant_id = current_setting('app.current_tenant_id', true)::UUID
		 RETURNING `+runColumns,
		runID, state, summaryJSON, message)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("finishing import run: %w", err)
	}
	return run, nil
}
