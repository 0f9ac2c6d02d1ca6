package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/plumelit/plume/internal/model"
)

const ledgerColumns = `id, user_id, amount, kind, description, model, tokens, real_cost_usd, execution_id, created_at`

// DeductArgs describes one consumption deduction. Credits is the positive
// number of credits to take; the ledger row is written with the negated
// amount. AllowOverdraft skips the balance check for forced executions.
type DeductArgs struct {
	UserID         uuid.UUID
	Credits        int64
	Description    string
	Model          *string
	Tokens         *int64
	RealCostUSD    *float64
	ExecutionID    *uuid.UUID
	AllowOverdraft bool
}

// CreditArgs describes a non-consumption ledger append: purchases, refunds,
// and admin adjustments. Amount is signed; only adjustments may be negative.
type CreditArgs struct {
	UserID      uuid.UUID
	Amount      int64
	Kind        model.TransactionKind
	Description string
	ExecutionID *uuid.UUID
}

// Deduct atomically takes credits from a user and appends the matching
// consumption row. The user row is locked FOR UPDATE so concurrent
// settlements serialize; without AllowOverdraft a balance short of the
// amount returns ErrInsufficientCredits and nothing changes.
func (db *DB) Deduct(ctx context.Context, args DeductArgs) (model.CreditTransaction, int64, error) {
	if args.Credits < 0 {
		return model.CreditTransaction{}, 0, fmt.Errorf("storage: deduct negative amount %d", args.Credits)
	}

	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.CreditTransaction{}, 0, fmt.Errorf("storage: begin deduct: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var balance int64
	err = tx.QueryRow(ctx,
		`SELECT credits FROM users WHERE id = $1 FOR UPDATE`, args.UserID,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.CreditTransaction{}, 0, fmt.Errorf("storage: user %s: %w", args.UserID, ErrNotFound)
	}
	if err != nil {
		return model.CreditTransaction{}, 0, fmt.Errorf("storage: lock balance: %w", err)
	}

	if !args.AllowOverdraft && balance < args.Credits {
		return model.CreditTransaction{}, 0, fmt.Errorf("storage: balance %d short of %d: %w", balance, args.Credits, ErrInsufficientCredits)
	}

	newBalance := balance - args.Credits
	if _, err := tx.Exec(ctx,
		`UPDATE users SET credits = $2, updated_at = $3 WHERE id = $1`,
		args.UserID, newBalance, time.Now().UTC(),
	); err != nil {
		return model.CreditTransaction{}, 0, fmt.Errorf("storage: update balance: %w", err)
	}

	row := model.CreditTransaction{
		ID:          uuid.New(),
		UserID:      &args.UserID,
		Amount:      -args.Credits,
		Kind:        model.TxConsumption,
		Description: args.Description,
		Model:       args.Model,
		Tokens:      args.Tokens,
		RealCostUSD: args.RealCostUSD,
		ExecutionID: args.ExecutionID,
		CreatedAt:   time.Now().UTC(),
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO credit_transactions (id, user_id, amount, kind, description, model, tokens, real_cost_usd, execution_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		row.ID, row.UserID, row.Amount, row.Kind, row.Description,
		row.Model, row.Tokens, row.RealCostUSD, row.ExecutionID, row.CreatedAt,
	); err != nil {
		return model.CreditTransaction{}, 0, fmt.Errorf("storage: insert consumption: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.CreditTransaction{}, 0, fmt.Errorf("storage: commit deduct: %w", err)
	}
	return row, newBalance, nil
}

// Credit atomically applies a signed non-consumption ledger entry to a
// user's balance. Negative amounts are only valid for adjustments and may
// not push the balance below zero.
func (db *DB) Credit(ctx context.Context, args CreditArgs) (model.CreditTransaction, int64, error) {
	if !args.Kind.Valid() || args.Kind == model.TxConsumption {
		return model.CreditTransaction{}, 0, fmt.Errorf("storage: credit kind %q", args.Kind)
	}
	if args.Amount == 0 {
		return model.CreditTransaction{}, 0, fmt.Errorf("storage: credit amount must be non-zero")
	}
	if args.Amount < 0 && args.Kind != model.TxAdjustment {
		return model.CreditTransaction{}, 0, fmt.Errorf("storage: negative %s", args.Kind)
	}

	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.CreditTransaction{}, 0, fmt.Errorf("storage: begin credit: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var balance int64
	err = tx.QueryRow(ctx,
		`SELECT credits FROM users WHERE id = $1 FOR UPDATE`, args.UserID,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.CreditTransaction{}, 0, fmt.Errorf("storage: user %s: %w", args.UserID, ErrNotFound)
	}
	if err != nil {
		return model.CreditTransaction{}, 0, fmt.Errorf("storage: lock balance: %w", err)
	}

	newBalance := balance + args.Amount
	if args.Amount < 0 && newBalance < 0 {
		return model.CreditTransaction{}, 0, fmt.Errorf("storage: balance %d short of %d: %w", balance, -args.Amount, ErrInsufficientCredits)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE users SET credits = $2, updated_at = $3 WHERE id = $1`,
		args.UserID, newBalance, time.Now().UTC(),
	); err != nil {
		return model.CreditTransaction{}, 0, fmt.Errorf("storage: update balance: %w", err)
	}

	row := model.CreditTransaction{
		ID:          uuid.New(),
		UserID:      &args.UserID,
		Amount:      args.Amount,
		Kind:        args.Kind,
		Description: args.Description,
		ExecutionID: args.ExecutionID,
		CreatedAt:   time.Now().UTC(),
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO credit_transactions (id, user_id, amount, kind, description, execution_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		row.ID, row.UserID, row.Amount, row.Kind, row.Description, row.ExecutionID, row.CreatedAt,
	); err != nil {
		return model.CreditTransaction{}, 0, fmt.Errorf("storage: insert %s: %w", args.Kind, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.CreditTransaction{}, 0, fmt.Errorf("storage: commit credit: %w", err)
	}
	return row, newBalance, nil
}

// HasCredits reports whether a user's balance covers the required amount.
// This is a snapshot read; the Deduct lock is the authority.
func (db *DB) HasCredits(ctx context.Context, userID uuid.UUID, required int64) (bool, error) {
	var balance int64
	err := db.pool.QueryRow(ctx, `SELECT credits FROM users WHERE id = $1`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("storage: user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("storage: read balance: %w", err)
	}
	return balance >= required, nil
}

// ListTransactions returns ledger rows matching the filter, newest first,
// plus the total match count for pagination.
func (db *DB) ListTransactions(ctx context.Context, f model.LedgerFilter) ([]model.CreditTransaction, int, error) {
	where, args := buildLedgerWhereClause(f)

	var total int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM credit_transactions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count transactions: %w", err)
	}

	limit := clampLimit(f.Limit)
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(
		`SELECT %s FROM credit_transactions%s ORDER BY created_at DESC, id LIMIT %d OFFSET %d`,
		ledgerColumns, where, limit, offset,
	)
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list transactions: %w", err)
	}
	defer rows.Close()

	var txs []model.CreditTransaction
	for rows.Next() {
		var t model.CreditTransaction
		if err := rows.Scan(
			&t.ID, &t.UserID, &t.Amount, &t.Kind, &t.Description,
			&t.Model, &t.Tokens, &t.RealCostUSD, &t.ExecutionID, &t.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("storage: scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, total, rows.Err()
}

// LedgerBalance sums a user's ledger rows. Matches users.credits for every
// live user (the conservation invariant); exposed for audits and tests.
func (db *DB) LedgerBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var sum int64
	if err := db.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE user_id = $1`, userID,
	).Scan(&sum); err != nil {
		return 0, fmt.Errorf("storage: ledger balance: %w", err)
	}
	return sum, nil
}

// UsageSummary aggregates consumption rows into the admin roll-up, optionally
// bounded by a time window.
func (db *DB) UsageSummary(ctx context.Context, from, to *time.Time) (model.UsageSummary, error) {
	where, args := usageWindowClause("", from, to)

	var s model.UsageSummary
	if err := db.pool.QueryRow(ctx, `
		SELECT COALESCE(-SUM(amount), 0), COALESCE(SUM(tokens), 0), COALESCE(SUM(real_cost_usd), 0)
		FROM credit_transactions`+where, args...,
	).Scan(&s.TotalCreditsUsed, &s.TotalTokens, &s.TotalRealCostUSD); err != nil {
		return model.UsageSummary{}, fmt.Errorf("storage: usage totals: %w", err)
	}

	modelRows, err := db.pool.Query(ctx, `
		SELECT COALESCE(model, ''), -SUM(amount), COALESCE(SUM(tokens), 0), COALESCE(SUM(real_cost_usd), 0), COUNT(DISTINCT execution_id)
		FROM credit_transactions`+where+`
		GROUP BY model ORDER BY -SUM(amount) DESC`, args...,
	)
	if err != nil {
		return model.UsageSummary{}, fmt.Errorf("storage: usage by model: %w", err)
	}
	defer modelRows.Close()
	for modelRows.Next() {
		var m model.ModelUsage
		if err := modelRows.Scan(&m.Model, &m.CreditsUsed, &m.Tokens, &m.RealCostUSD, &m.Executions); err != nil {
			return model.UsageSummary{}, fmt.Errorf("storage: scan model usage: %w", err)
		}
		s.ByModel = append(s.ByModel, m)
	}
	if err := modelRows.Err(); err != nil {
		return model.UsageSummary{}, err
	}

	// created_at exists on both tables, so the join variant qualifies it.
	joinWhere, joinArgs := usageWindowClause("ct.", from, to)
	userRows, err := db.pool.Query(ctx, `
		SELECT ct.user_id, COALESCE(u.username, '(deleted)'), -SUM(ct.amount), COALESCE(SUM(ct.tokens), 0), COALESCE(SUM(ct.real_cost_usd), 0)
		FROM credit_transactions ct
		LEFT JOIN users u ON u.id = ct.user_id`+joinWhere+`
		GROUP BY ct.user_id, u.username ORDER BY -SUM(ct.amount) DESC`, joinArgs...,
	)
	if err != nil {
		return model.UsageSummary{}, fmt.Errorf("storage: usage by user: %w", err)
	}
	defer userRows.Close()
	for userRows.Next() {
		var u model.UserUsage
		var userID *uuid.UUID
		if err := userRows.Scan(&userID, &u.Username, &u.CreditsUsed, &u.Tokens, &u.RealCostUSD); err != nil {
			return model.UsageSummary{}, fmt.Errorf("storage: scan user usage: %w", err)
		}
		if userID != nil {
			u.UserID = *userID
		}
		s.ByUser = append(s.ByUser, u)
	}
	return s, userRows.Err()
}

// usageWindowClause builds the consumption filter with an optional column
// prefix for joined queries.
func usageWindowClause(prefix string, from, to *time.Time) (string, []any) {
	where := fmt.Sprintf(" WHERE %skind = 'consumption'", prefix)
	var args []any
	if from != nil {
		args = append(args, *from)
		where += fmt.Sprintf(" AND %screated_at >= $%d", prefix, len(args))
	}
	if to != nil {
		args = append(args, *to)
		where += fmt.Sprintf(" AND %screated_at <= $%d", prefix, len(args))
	}
	return where, args
}

func buildLedgerWhereClause(f model.LedgerFilter) (string, []any) {
	var conditions []string
	var args []any

	if f.UserID != nil {
		args = append(args, *f.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Kind != nil {
		args = append(args, *f.Kind)
		conditions = append(conditions, fmt.Sprintf("kind = $%d", len(args)))
	}
	if f.Model != nil {
		args = append(args, *f.Model)
		conditions = append(conditions, fmt.Sprintf("model = $%d", len(args)))
	}
	if f.From != nil {
		args = append(args, *f.From)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
