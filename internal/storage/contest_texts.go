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

const contestTextColumns = `id, contest_id, text_id, submission_date, ranking, total_points`

// Entry is a contest submission joined with its text. Judge sessions,
// contest detail views, and the results endpoint all consume this shape.
type Entry struct {
	ContestTextID  uuid.UUID `json:"contest_text_id"`
	TextID         uuid.UUID `json:"text_id"`
	OwnerID        uuid.UUID `json:"owner_id"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	Author         string    `json:"author"`
	SubmissionDate time.Time `json:"submission_date"`
	Ranking        *int      `json:"ranking,omitempty"`
	TotalPoints    *int      `json:"total_points,omitempty"`
}

// SubmitText enters a text into a contest. Submitting the same text twice
// returns ErrDuplicate.
func (db *DB) SubmitText(ctx context.Context, ct model.ContestText) (model.ContestText, error) {
	if ct.ID == uuid.Nil {
		ct.ID = uuid.New()
	}
	if ct.SubmissionDate.IsZero() {
		ct.SubmissionDate = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx, `
		INSERT INTO contest_texts (id, contest_id, text_id, submission_date)
		VALUES ($1, $2, $3, $4)`,
		ct.ID, ct.ContestID, ct.TextID, ct.SubmissionDate,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ContestText{}, fmt.Errorf("storage: text %s already in contest %s: %w", ct.TextID, ct.ContestID, ErrDuplicate)
		}
		return model.ContestText{}, fmt.Errorf("storage: submit text: %w", err)
	}
	return ct, nil
}

// GetContestTextByText resolves the submission row for a text within a
// contest. Vote writes go through this to pin votes to the join row.
func (db *DB) GetContestTextByText(ctx context.Context, contestID, textID uuid.UUID) (model.ContestText, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+contestTextColumns+` FROM contest_texts WHERE contest_id = $1 AND text_id = $2`,
		contestID, textID,
	)
	ct, err := scanContestText(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ContestText{}, fmt.Errorf("storage: text %s in contest %s: %w", textID, contestID, ErrNotFound)
	}
	if err != nil {
		return model.ContestText{}, fmt.Errorf("storage: get contest text: %w", err)
	}
	return ct, nil
}

// ListContestTexts returns the submission rows of a contest in submission order.
func (db *DB) ListContestTexts(ctx context.Context, contestID uuid.UUID) ([]model.ContestText, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+contestTextColumns+` FROM contest_texts WHERE contest_id = $1 ORDER BY submission_date, id`,
		contestID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list contest texts: %w", err)
	}
	defer rows.Close()

	var cts []model.ContestText
	for rows.Next() {
		ct, err := scanContestText(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan contest text: %w", err)
		}
		cts = append(cts, ct)
	}
	return cts, rows.Err()
}

// ListContestEntries returns a contest's submissions joined with their texts,
// in submission order.
func (db *DB) ListContestEntries(ctx context.Context, contestID uuid.UUID) ([]Entry, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT ct.id, ct.text_id, t.owner_id, t.title, t.content, t.author,
			ct.submission_date, ct.ranking, ct.total_points
		FROM contest_texts ct
		JOIN texts t ON t.id = ct.text_id
		WHERE ct.contest_id = $1
		ORDER BY ct.submission_date, ct.id`,
		contestID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list contest entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.ContestTextID, &e.TextID, &e.OwnerID, &e.Title, &e.Content,
			&e.Author, &e.SubmissionDate, &e.Ranking, &e.TotalPoints,
		); err != nil {
			return nil, fmt.Errorf("storage: scan contest entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountContestTexts returns the number of submissions in a contest.
func (db *DB) CountContestTexts(ctx context.Context, contestID uuid.UUID) (int, error) {
	var n int
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM contest_texts WHERE contest_id = $1`, contestID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count contest texts: %w", err)
	}
	return n, nil
}

// HasSubmissionByAuthor reports whether a user already has a text entered in
// the contest. Backs both the one-entry-per-author rule and the
// judges-cannot-be-authors rule.
func (db *DB) HasSubmissionByAuthor(ctx context.Context, contestID, ownerID uuid.UUID) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM contest_texts ct
			JOIN texts t ON t.id = ct.text_id
			WHERE ct.contest_id = $1 AND t.owner_id = $2
		)`,
		contestID, ownerID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("storage: has submission by author: %w", err)
	}
	return exists, nil
}

// DeleteContestText withdraws a submission. Its votes cascade away.
func (db *DB) DeleteContestText(ctx context.Context, contestID, textID uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM contest_texts WHERE contest_id = $1 AND text_id = $2`,
		contestID, textID,
	)
	if err != nil {
		return fmt.Errorf("storage: delete contest text: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: text %s in contest %s: %w", textID, contestID, ErrNotFound)
	}
	return nil
}

func scanContestText(row pgx.Row) (model.ContestText, error) {
	var ct model.ContestText
	err := row.Scan(&ct.ID, &ct.ContestID, &ct.TextID, &ct.SubmissionDate, &ct.Ranking, &ct.TotalPoints)
	return ct, err
}
