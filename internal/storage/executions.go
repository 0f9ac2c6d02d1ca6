package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/plumelit/plume/internal/model"
)

const executionColumns = `id, agent_id, owner_id, type, model, status, result_id, error_message, credits_used, parse_fallback, created_at, updated_at`

// CreateExecution inserts a new execution in the running state.
func (db *DB) CreateExecution(ctx context.Context, e model.AgentExecution) (model.AgentExecution, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = model.ExecutionRunning
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = e.CreatedAt

	_, err := db.pool.Exec(ctx, `
		INSERT INTO agent_executions (id, agent_id, owner_id, type, model, status, result_id, error_message, credits_used, parse_fallback, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.AgentID, e.OwnerID, e.Type, e.Model, e.Status, e.ResultID,
		e.ErrorMessage, e.CreditsUsed, e.ParseFallback, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return model.AgentExecution{}, fmt.Errorf("storage: create execution: %w", err)
	}
	return e, nil
}

// GetExecution returns an execution by ID.
func (db *DB) GetExecution(ctx context.Context, id uuid.UUID) (model.AgentExecution, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+executionColumns+` FROM agent_executions WHERE id = $1`, id)
	e, err := scanExecution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.AgentExecution{}, fmt.Errorf("storage: execution %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.AgentExecution{}, fmt.Errorf("storage: get execution: %w", err)
	}
	return e, nil
}

// ListExecutions returns executions newest first. A nil ownerID lists all
// (admin surface); otherwise only the owner's history.
func (db *DB) ListExecutions(ctx context.Context, ownerID *uuid.UUID, limit, offset int) ([]model.AgentExecution, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}

	var rows pgx.Rows
	var err error
	if ownerID != nil {
		rows, err = db.pool.Query(ctx,
			`SELECT `+executionColumns+` FROM agent_executions WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
			*ownerID, limit, offset,
		)
	} else {
		rows, err = db.pool.Query(ctx,
			`SELECT `+executionColumns+` FROM agent_executions ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
			limit, offset,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: list executions: %w", err)
	}
	defer rows.Close()

	var execs []model.AgentExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan execution: %w", err)
		}
		execs = append(execs, e)
	}
	return execs, rows.Err()
}

// CompleteExecution settles a running execution as completed. Terminal rows
// never change: if the row is no longer running (for example the watchdog
// expired it), this returns ErrNotFound.
func (db *DB) CompleteExecution(ctx context.Context, id uuid.UUID, resultID *uuid.UUID, creditsUsed int64, parseFallback bool) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE agent_executions
		SET status = 'completed', result_id = $2, credits_used = $3, parse_fallback = $4, updated_at = $5
		WHERE id = $1 AND status = 'running'`,
		id, resultID, creditsUsed, parseFallback, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage: complete execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: running execution %s: %w", id, ErrNotFound)
	}
	return nil
}

// FailExecution settles a running execution as failed. CreditsUsed stays at
// whatever was settled before the failure; pre-deduction failures pass 0.
func (db *DB) FailExecution(ctx context.Context, id uuid.UUID, errMsg string, creditsUsed int64) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE agent_executions
		SET status = 'failed', error_message = $2, credits_used = $3, updated_at = $4
		WHERE id = $1 AND status = 'running'`,
		id, errMsg, creditsUsed, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage: fail execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: running execution %s: %w", id, ErrNotFound)
	}
	return nil
}

// StaleRunningExecutions returns executions still running that were created
// before the cutoff. The watchdog sweeps these.
func (db *DB) StaleRunningExecutions(ctx context.Context, cutoff time.Time) ([]model.AgentExecution, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+executionColumns+` FROM agent_executions WHERE status = 'running' AND created_at < $1 ORDER BY created_at`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: stale executions: %w", err)
	}
	defer rows.Close()

	var execs []model.AgentExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan execution: %w", err)
		}
		execs = append(execs, e)
	}
	return execs, rows.Err()
}

// ExpireExecution marks a stale running execution failed and, when
// consumption ledger rows reference it, appends a compensating refund and
// restores the balance, all in one transaction. Expiring an already-terminal
// execution is a no-op. The refund covers exactly the outstanding amount
// (consumed minus already refunded), so a retried sweep cannot double-refund.
func (db *DB) ExpireExecution(ctx context.Context, id uuid.UUID, errMsg string) (bool, error) {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("storage: begin expire: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var ownerID *uuid.UUID
	err = tx.QueryRow(ctx, `
		UPDATE agent_executions
		SET status = 'failed', error_message = $2, updated_at = $3
		WHERE id = $1 AND status = 'running'
		RETURNING owner_id`,
		id, errMsg, time.Now().UTC(),
	).Scan(&ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil // already terminal
	}
	if err != nil {
		return false, fmt.Errorf("storage: expire execution: %w", err)
	}

	// Outstanding settled credits: consumed minus already refunded.
	// Consumptions are negative and refunds positive, so the outstanding
	// amount is the negated sum.
	var outstanding int64
	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(-SUM(amount), 0)
		FROM credit_transactions
		WHERE execution_id = $1 AND kind IN ('consumption', 'refund')`,
		id,
	).Scan(&outstanding); err != nil {
		return false, fmt.Errorf("storage: expire outstanding: %w", err)
	}

	if outstanding > 0 && ownerID != nil {
		if _, err := tx.Exec(ctx,
			`UPDATE users SET credits = credits + $2, updated_at = $3 WHERE id = $1`,
			*ownerID, outstanding, time.Now().UTC(),
		); err != nil {
			return false, fmt.Errorf("storage: expire refund balance: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO credit_transactions (id, user_id, amount, kind, description, execution_id, created_at)
			VALUES ($1, $2, $3, 'refund', $4, $5, $6)`,
			uuid.New(), *ownerID, outstanding, "stale execution expired by watchdog", id, time.Now().UTC(),
		); err != nil {
			return false, fmt.Errorf("storage: expire refund row: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("storage: commit expire: %w", err)
	}
	return true, nil
}

func scanExecution(row pgx.Row) (model.AgentExecution, error) {
	var e model.AgentExecution
	err := row.Scan(
		&e.ID, &e.AgentID, &e.OwnerID, &e.Type, &e.Model, &e.Status,
		&e.ResultID, &e.ErrorMessage, &e.CreditsUsed, &e.ParseFallback,
		&e.CreatedAt, &e.UpdatedAt,
	)
	return e, err
}
