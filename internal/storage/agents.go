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

const agentColumns = `id, owner_id, type, name, description, prompt, is_public, version, created_at, updated_at`

// CreateAgent inserts a new agent.
func (db *DB) CreateAgent(ctx context.Context, a model.Agent) (model.Agent, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Version == "" {
		a.Version = "v1"
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = a.CreatedAt

	_, err := db.pool.Exec(ctx, `
		INSERT INTO agents (id, owner_id, type, name, description, prompt, is_public, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.OwnerID, a.Type, a.Name, a.Description, a.Prompt, a.IsPublic, a.Version, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return model.Agent{}, fmt.Errorf("storage: create agent: %w", err)
	}
	return a, nil
}

// GetAgent returns an agent by ID, prompt included. Callers are responsible
// for stripping the prompt before handing the agent to non-owners.
func (db *DB) GetAgent(ctx context.Context, id uuid.UUID) (model.Agent, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	a, err := scanAgent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Agent{}, fmt.Errorf("storage: agent %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Agent{}, fmt.Errorf("storage: get agent: %w", err)
	}
	return a, nil
}

// ListVisibleAgents returns agents the viewer may see: public agents plus
// their own. Admins see everything. An optional type filter narrows to
// writers or judges.
func (db *DB) ListVisibleAgents(ctx context.Context, viewerID uuid.UUID, isAdmin bool, agentType *model.AgentType) ([]model.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents`
	var conditions []string
	var args []any

	if !isAdmin {
		conditions = append(conditions, fmt.Sprintf("(is_public OR owner_id = $%d)", len(args)+1))
		args = append(args, viewerID)
	}
	if agentType != nil {
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)+1))
		args = append(args, *agentType)
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
		return nil, fmt.Errorf("storage: list agents: %w", err)
	}
	defer rows.Close()

	var agents []model.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// UpdateAgent writes the mutable fields of an agent: name, description,
// prompt, visibility, and version.
func (db *DB) UpdateAgent(ctx context.Context, a model.Agent) (model.Agent, error) {
	a.UpdatedAt = time.Now().UTC()
	tag, err := db.pool.Exec(ctx, `
		UPDATE agents
		SET name = $2, description = $3, prompt = $4, is_public = $5, version = $6, updated_at = $7
		WHERE id = $1`,
		a.ID, a.Name, a.Description, a.Prompt, a.IsPublic, a.Version, a.UpdatedAt,
	)
	if err != nil {
		return model.Agent{}, fmt.Errorf("storage: update agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.Agent{}, fmt.Errorf("storage: agent %s: %w", a.ID, ErrNotFound)
	}
	return a, nil
}

// DeleteAgent removes an agent. Its contest judge seats cascade away;
// execution records survive with agent_id set to NULL.
func (db *DB) DeleteAgent(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: agent %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanAgent(row pgx.Row) (model.Agent, error) {
	var a model.Agent
	err := row.Scan(
		&a.ID, &a.OwnerID, &a.Type, &a.Name, &a.Description,
		&a.Prompt, &a.IsPublic, &a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	return a, err
}
