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

const contestColumns = `id, creator_id, title, description, status, password_protected, password_hash,
	publicly_listed, judge_restrictions, author_restrictions, min_votes_required, end_date, created_at, updated_at`

// CreateContest inserts a new contest in the open state.
func (db *DB) CreateContest(ctx context.Context, c model.Contest) (model.Contest, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = model.ContestOpen
	}
	if c.MinVotesRequired < 1 {
		c.MinVotesRequired = 1
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = c.CreatedAt

	_, err := db.pool.Exec(ctx, `
		INSERT INTO contests (id, creator_id, title, description, status, password_protected, password_hash,
			publicly_listed, judge_restrictions, author_restrictions, min_votes_required, end_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		c.ID, c.CreatorID, c.Title, c.Description, c.Status, c.PasswordProtected, c.PasswordHash,
		c.PubliclyListed, c.JudgeRestrictions, c.AuthorRestrictions, c.MinVotesRequired, c.EndDate, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return model.Contest{}, fmt.Errorf("storage: create contest: %w", err)
	}
	return c, nil
}

// GetContest returns a contest by ID, password hash included.
func (db *DB) GetContest(ctx context.Context, id uuid.UUID) (model.Contest, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+contestColumns+` FROM contests WHERE id = $1`, id)
	c, err := scanContest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Contest{}, fmt.Errorf("storage: contest %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Contest{}, fmt.Errorf("storage: get contest: %w", err)
	}
	return c, nil
}

// ListContests returns contests visible to the viewer: publicly listed ones
// plus their own. Admins see everything. An optional status filter narrows
// the result.
func (db *DB) ListContests(ctx context.Context, viewerID uuid.UUID, isAdmin bool, status *model.ContestStatus) ([]model.Contest, error) {
	query := `SELECT ` + contestColumns + ` FROM contests`
	var conditions []string
	var args []any

	if !isAdmin {
		conditions = append(conditions, fmt.Sprintf("(publicly_listed OR creator_id = $%d)", len(args)+1))
		args = append(args, viewerID)
	}
	if status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *status)
	}
	for i, c := range conditions {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY created_at DESC"

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list contests: %w", err)
	}
	defer rows.Close()

	var contests []model.Contest
	for rows.Next() {
		c, err := scanContest(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan contest: %w", err)
		}
		contests = append(contests, c)
	}
	return contests, rows.Err()
}

// UpdateContest writes the mutable fields of a contest. Status moves through
// UpdateContestStatus or CloseContestWithResults, never here.
func (db *DB) UpdateContest(ctx context.Context, c model.Contest) (model.Contest, error) {
	c.UpdatedAt = time.Now().UTC()
	tag, err := db.pool.Exec(ctx, `
		UPDATE contests
		SET title = $2, description = $3, password_protected = $4, password_hash = $5,
			publicly_listed = $6, judge_restrictions = $7, author_restrictions = $8,
			min_votes_required = $9, end_date = $10, updated_at = $11
		WHERE id = $1`,
		c.ID, c.Title, c.Description, c.PasswordProtected, c.PasswordHash,
		c.PubliclyListed, c.JudgeRestrictions, c.AuthorRestrictions,
		c.MinVotesRequired, c.EndDate, c.UpdatedAt,
	)
	if err != nil {
		return model.Contest{}, fmt.Errorf("storage: update contest: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.Contest{}, fmt.Errorf("storage: contest %s: %w", c.ID, ErrNotFound)
	}
	return c, nil
}

// UpdateContestStatus moves a contest to a new lifecycle state, guarded by
// the state it is expected to be in. A zero row count means the contest is
// missing or was concurrently moved; callers distinguish via GetContest.
func (db *DB) UpdateContestStatus(ctx context.Context, id uuid.UUID, from, to model.ContestStatus) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE contests SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`,
		id, from, to, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage: update contest status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: contest %s in state %s: %w", id, from, ErrNotFound)
	}
	return nil
}

// DeleteContest removes a contest and everything hanging off it.
func (db *DB) DeleteContest(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM contests WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete contest: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: contest %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanContest(row pgx.Row) (model.Contest, error) {
	var c model.Contest
	err := row.Scan(
		&c.ID, &c.CreatorID, &c.Title, &c.Description, &c.Status,
		&c.PasswordProtected, &c.PasswordHash, &c.PubliclyListed,
		&c.JudgeRestrictions, &c.AuthorRestrictions, &c.MinVotesRequired,
		&c.EndDate, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}
