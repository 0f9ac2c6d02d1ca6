package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/plumelit/plume/internal/model"
)

const voteColumns = `id, contest_id, contest_judge_id, contest_text_id, text_place, comment, is_ai, model, agent_execution_id, created_at`

// ReplaceJudgeVotes runs one voting session atomically: it takes a
// transaction-scoped advisory lock on the judge seat, deletes the judge's
// prior votes (scoped to one model for AI judges), inserts the replacement
// set, and recomputes has_voted from the new set's podium count. A reader
// never observes a partially replaced set.
//
// aiModel is nil for human judges. submissionCount caps the podium
// threshold: has_voted is set iff the new set places at least
// min(3, submissionCount) texts.
func (db *DB) ReplaceJudgeVotes(ctx context.Context, judgeID uuid.UUID, votes []model.Vote, aiModel *string, submissionCount int) (bool, error) {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("storage: begin vote session: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Serialize concurrent sessions for the same judge seat. The lock is
	// transaction-scoped and released on commit or rollback.
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, judgeID,
	); err != nil {
		return false, fmt.Errorf("storage: lock judge session: %w", err)
	}

	if aiModel != nil {
		_, err = tx.Exec(ctx,
			`DELETE FROM votes WHERE contest_judge_id = $1 AND model = $2`, judgeID, *aiModel)
	} else {
		_, err = tx.Exec(ctx,
			`DELETE FROM votes WHERE contest_judge_id = $1`, judgeID)
	}
	if err != nil {
		return false, fmt.Errorf("storage: delete prior votes: %w", err)
	}

	now := time.Now().UTC()
	podium := 0
	for i := range votes {
		v := &votes[i]
		if v.ID == uuid.Nil {
			v.ID = uuid.New()
		}
		if v.CreatedAt.IsZero() {
			v.CreatedAt = now
		}
		if v.TextPlace != nil {
			podium++
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO votes (id, contest_id, contest_judge_id, contest_text_id, text_place, comment, is_ai, model, agent_execution_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			v.ID, v.ContestID, v.ContestJudgeID, v.ContestTextID, v.TextPlace,
			v.Comment, v.IsAI, v.Model, v.AgentExecutionID, v.CreatedAt,
		); err != nil {
			if isUniqueViolation(err) {
				return false, fmt.Errorf("storage: vote for text %s: %w", v.ContestTextID, ErrDuplicate)
			}
			return false, fmt.Errorf("storage: insert vote: %w", err)
		}
	}

	required := 3
	if submissionCount < required {
		required = submissionCount
	}
	hasVoted := podium >= required && required > 0

	if _, err := tx.Exec(ctx,
		`UPDATE contest_judges SET has_voted = $2 WHERE id = $1`, judgeID, hasVoted,
	); err != nil {
		return false, fmt.Errorf("storage: update has_voted: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("storage: commit vote session: %w", err)
	}
	return hasVoted, nil
}

// ListVotesForContest returns every vote in a contest. The results
// calculator consumes this.
func (db *DB) ListVotesForContest(ctx context.Context, contestID uuid.UUID) ([]model.Vote, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+voteColumns+` FROM votes WHERE contest_id = $1 ORDER BY created_at, id`,
		contestID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list votes: %w", err)
	}
	defer rows.Close()
	return scanVotes(rows)
}

// ListVotesForJudge returns one judge seat's votes, all models included.
func (db *DB) ListVotesForJudge(ctx context.Context, judgeID uuid.UUID) ([]model.Vote, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+voteColumns+` FROM votes WHERE contest_judge_id = $1 ORDER BY created_at, id`,
		judgeID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list judge votes: %w", err)
	}
	defer rows.Close()
	return scanVotes(rows)
}

func scanVotes(rows pgx.Rows) ([]model.Vote, error) {
	var votes []model.Vote
	for rows.Next() {
		var v model.Vote
		if err := rows.Scan(
			&v.ID, &v.ContestID, &v.ContestJudgeID, &v.ContestTextID, &v.TextPlace,
			&v.Comment, &v.IsAI, &v.Model, &v.AgentExecutionID, &v.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan vote: %w", err)
		}
		votes = append(votes, v)
	}
	return votes, rows.Err()
}
