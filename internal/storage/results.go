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

// RankedResult carries the computed standing for one submission. Ranking is
// nil for submissions that scored no points; they stay unranked.
type RankedResult struct {
	ContestTextID uuid.UUID
	TotalPoints   int
	Ranking       *int
}

// CloseContestWithResults writes the computed standings and moves the
// contest from evaluation to closed, all in one transaction. The contest row
// is locked first so concurrent threshold triggers serialize: the loser
// finds the contest already closed and returns false without touching
// anything. Closing from any state other than evaluation returns
// ErrInvalidState.
func (db *DB) CloseContestWithResults(ctx context.Context, contestID uuid.UUID, results []RankedResult) (bool, error) {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("storage: begin close contest: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status model.ContestStatus
	err = tx.QueryRow(ctx,
		`SELECT status FROM contests WHERE id = $1 FOR UPDATE`, contestID,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("storage: contest %s: %w", contestID, ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("storage: lock contest: %w", err)
	}

	switch status {
	case model.ContestClosed:
		return false, nil // a concurrent close won
	case model.ContestEvaluation:
	default:
		return false, fmt.Errorf("storage: contest %s cannot close from %s: %w", contestID, status, ErrInvalidState)
	}

	for _, r := range results {
		if _, err := tx.Exec(ctx,
			`UPDATE contest_texts SET ranking = $2, total_points = $3 WHERE id = $1 AND contest_id = $4`,
			r.ContestTextID, r.Ranking, r.TotalPoints, contestID,
		); err != nil {
			return false, fmt.Errorf("storage: write standing: %w", err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE contests SET status = 'closed', updated_at = $2 WHERE id = $1`,
		contestID, time.Now().UTC(),
	); err != nil {
		return false, fmt.Errorf("storage: close contest: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("storage: commit close contest: %w", err)
	}
	return true, nil
}
