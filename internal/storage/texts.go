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

const textColumns = `id, owner_id, title, content, author, created_at`

// CreateText inserts a new text.
func (db *DB) CreateText(ctx context.Context, t model.Text) (model.Text, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx, `
		INSERT INTO texts (id, owner_id, title, content, author, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.OwnerID, t.Title, t.Content, t.Author, t.CreatedAt,
	)
	if err != nil {
		return model.Text{}, fmt.Errorf("storage: create text: %w", err)
	}
	return t, nil
}

// GetText returns a text by ID.
func (db *DB) GetText(ctx context.Context, id uuid.UUID) (model.Text, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+textColumns+` FROM texts WHERE id = $1`, id)
	t, err := scanText(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Text{}, fmt.Errorf("storage: text %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Text{}, fmt.Errorf("storage: get text: %w", err)
	}
	return t, nil
}

// ListTextsByOwner returns a user's texts, newest first.
func (db *DB) ListTextsByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]model.Text, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}

	rows, err := db.pool.Query(ctx,
		`SELECT `+textColumns+` FROM texts WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		ownerID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list texts: %w", err)
	}
	defer rows.Close()

	var texts []model.Text
	for rows.Next() {
		t, err := scanText(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan text: %w", err)
		}
		texts = append(texts, t)
	}
	return texts, rows.Err()
}

// UpdateText writes the mutable fields of a text.
func (db *DB) UpdateText(ctx context.Context, t model.Text) (model.Text, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE texts SET title = $2, content = $3, author = $4 WHERE id = $1`,
		t.ID, t.Title, t.Content, t.Author,
	)
	if err != nil {
		return model.Text{}, fmt.Errorf("storage: update text: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.Text{}, fmt.Errorf("storage: text %s: %w", t.ID, ErrNotFound)
	}
	return t, nil
}

// DeleteText removes a text along with any contest submissions of it.
func (db *DB) DeleteText(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM texts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete text: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: text %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanText(row pgx.Row) (model.Text, error) {
	var t model.Text
	err := row.Scan(&t.ID, &t.OwnerID, &t.Title, &t.Content, &t.Author, &t.CreatedAt)
	return t, err
}
