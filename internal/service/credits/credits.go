// Package credits provides the shared business logic for credit accounting.
//
// Both the HTTP API and MCP server delegate here, so balance reads, admin
// adjustments, and ledger queries behave identically across interfaces.
package credits

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/plumelit/plume/internal/authz"
	"github.com/plumelit/plume/internal/model"
	"github.com/plumelit/plume/internal/storage"
)

// Service encapsulates credit accounting shared by HTTP and MCP handlers.
type Service struct {
	db     *storage.DB
	logger *slog.Logger
}

// New creates a credits Service.
func New(db *storage.DB, logger *slog.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Balance returns a user's current balance. Users read their own; admins
// read anyone's.
func (s *Service) Balance(ctx context.Context, p authz.Principal, userID uuid.UUID) (model.BalanceResponse, error) {
	if !p.IsAdmin && p.UserID != userID {
		return model.BalanceResponse{}, model.E(model.KindForbidden, "cannot read another user's balance")
	}

	u, err := s.db.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.BalanceResponse{}, model.E(model.KindNotFound, "user %s not found", userID)
	}
	if err != nil {
		return model.BalanceResponse{}, err
	}
	return model.BalanceResponse{UserID: u.ID, Username: u.Username, Credits: u.Credits}, nil
}

// Adjust applies a signed admin credit adjustment. The balance update and
// the ledger row commit together, preserving the conservation invariant.
func (s *Service) Adjust(ctx context.Context, p authz.Principal, userID uuid.UUID, amount int64, description string) (model.CreditTransaction, int64, error) {
	if err := authz.AdminOnly(p); err != nil {
		return model.CreditTransaction{}, 0, err
	}
	if amount == 0 {
		return model.CreditTransaction{}, 0, model.E(model.KindInvalidInput, "amount must be non-zero")
	}
	if description == "" {
		description = "admin adjustment"
	}

	row, balance, err := s.db.Credit(ctx, storage.CreditArgs{
		UserID:      userID,
		Amount:      amount,
		Kind:        model.TxAdjustment,
		Description: description,
	})
	if errors.Is(err, storage.ErrNotFound) {
		return model.CreditTransaction{}, 0, model.E(model.KindNotFound, "user %s not found", userID)
	}
	if errors.Is(err, storage.ErrInsufficientCredits) {
		return model.CreditTransaction{}, 0, model.E(model.KindInsufficientCredits, "adjustment would push balance below zero")
	}
	if err != nil {
		return model.CreditTransaction{}, 0, err
	}

	s.logger.Info("credits adjusted",
		"admin", p.Username,
		"user_id", userID,
		"amount", amount,
		"balance", balance)
	return row, balance, nil
}

// Grant credits a user with a purchase row. Used by top-up flows and the
// bootstrap admin seed.
func (s *Service) Grant(ctx context.Context, userID uuid.UUID, amount int64, description string) (int64, error) {
	if amount <= 0 {
		return 0, model.E(model.KindInvalidInput, "grant amount must be positive")
	}
	_, balance, err := s.db.Credit(ctx, storage.CreditArgs{
		UserID:      userID,
		Amount:      amount,
		Kind:        model.TxPurchase,
		Description: description,
	})
	if errors.Is(err, storage.ErrNotFound) {
		return 0, model.E(model.KindNotFound, "user %s not found", userID)
	}
	return balance, err
}

// Transactions returns ledger history. Non-admins only see their own rows
// regardless of the requested filter.
func (s *Service) Transactions(ctx context.Context, p authz.Principal, f model.LedgerFilter) ([]model.CreditTransaction, int, error) {
	if !p.IsAdmin {
		f.UserID = &p.UserID
	}
	return s.db.ListTransactions(ctx, f)
}

// Usage returns the admin consumption roll-up.
func (s *Service) Usage(ctx context.Context, p authz.Principal, from, to *time.Time) (model.UsageSummary, error) {
	if err := authz.AdminOnly(p); err != nil {
		return model.UsageSummary{}, err
	}
	return s.db.UsageSummary(ctx, from, to)
}
