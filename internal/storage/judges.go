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

const contestJudgeColumns = `id, contest_id, user_id, agent_id, has_voted, assignment_date`

// AssignJudge seats a judge on a contest. The schema enforces that exactly
// one of UserID/AgentID is set; seating the same judge twice returns
// ErrDuplicate.
func (db *DB) AssignJudge(ctx context.Context, cj model.ContestJudge) (model.ContestJudge, error) {
	if cj.ID == uuid.Nil {
		cj.ID = uuid.New()
	}
	if cj.AssignmentDate.IsZero() {
		cj.AssignmentDate = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx, `
		INSERT INTO contest_judges (id, contest_id, user_id, agent_id, has_voted, assignment_date)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		cj.ID, cj.ContestID, cj.UserID, cj.AgentID, cj.HasVoted, cj.AssignmentDate,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ContestJudge{}, fmt.Errorf("storage: judge already assigned to contest %s: %w", cj.ContestID, ErrDuplicate)
		}
		return model.ContestJudge{}, fmt.Errorf("storage: assign judge: %w", err)
	}
	return cj, nil
}

// GetContestJudge returns a judge seat by its ID.
func (db *DB) GetContestJudge(ctx context.Context, id uuid.UUID) (model.ContestJudge, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+contestJudgeColumns+` FROM contest_judges WHERE id = $1`, id)
	cj, err := scanContestJudge(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ContestJudge{}, fmt.Errorf("storage: contest judge %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.ContestJudge{}, fmt.Errorf("storage: get contest judge: %w", err)
	}
	return cj, nil
}

// GetContestJudgeByUser returns the seat a human judge holds in a contest.
func (db *DB) GetContestJudgeByUser(ctx context.Context, contestID, userID uuid.UUID) (model.ContestJudge, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+contestJudgeColumns+` FROM contest_judges WHERE contest_id = $1 AND user_id = $2`,
		contestID, userID,
	)
	cj, err := scanContestJudge(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ContestJudge{}, fmt.Errorf("storage: user %s is not a judge in contest %s: %w", userID, contestID, ErrNotFound)
	}
	if err != nil {
		return model.ContestJudge{}, fmt.Errorf("storage: get contest judge by user: %w", err)
	}
	return cj, nil
}

// GetContestJudgeByAgent returns the seat an AI judge holds in a contest.
func (db *DB) GetContestJudgeByAgent(ctx context.Context, contestID, agentID uuid.UUID) (model.ContestJudge, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+contestJudgeColumns+` FROM contest_judges WHERE contest_id = $1 AND agent_id = $2`,
		contestID, agentID,
	)
	cj, err := scanContestJudge(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ContestJudge{}, fmt.Errorf("storage: agent %s is not a judge in contest %s: %w", agentID, contestID, ErrNotFound)
	}
	if err != nil {
		return model.ContestJudge{}, fmt.Errorf("storage: get contest judge by agent: %w", err)
	}
	return cj, nil
}

// ListContestJudges returns all judge seats of a contest in assignment order.
func (db *DB) ListContestJudges(ctx context.Context, contestID uuid.UUID) ([]model.ContestJudge, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+contestJudgeColumns+` FROM contest_judges WHERE contest_id = $1 ORDER BY assignment_date, id`,
		contestID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list contest judges: %w", err)
	}
	defer rows.Close()

	var judges []model.ContestJudge
	for rows.Next() {
		cj, err := scanContestJudge(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan contest judge: %w", err)
		}
		judges = append(judges, cj)
	}
	return judges, rows.Err()
}

// RemoveJudge unseats a judge. Their votes cascade away.
func (db *DB) RemoveJudge(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM contest_judges WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: remove judge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: contest judge %s: %w", id, ErrNotFound)
	}
	return nil
}

// CountVotedJudges returns how many of a contest's judges have met the
// podium threshold. The close-on-threshold check compares this against
// min_votes_required.
func (db *DB) CountVotedJudges(ctx context.Context, contestID uuid.UUID) (int, error) {
	var n int
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM contest_judges WHERE contest_id = $1 AND has_voted`, contestID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count voted judges: %w", err)
	}
	return n, nil
}

func scanContestJudge(row pgx.Row) (model.ContestJudge, error) {
	var cj model.ContestJudge
	err := row.Scan(&cj.ID, &cj.ContestID, &cj.UserID, &cj.AgentID, &cj.HasVoted, &cj.AssignmentDate)
	return cj, err
}
