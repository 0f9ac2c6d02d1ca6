package model

import (
	"time"

	"github.com/google/uuid"
)

// TransactionKind classifies a credit movement.
type TransactionKind string

const (
	TxPurchase    TransactionKind = "purchase"
	TxConsumption TransactionKind = "consumption"
	TxRefund      TransactionKind = "refund"
	TxAdjustment  TransactionKind = "adjustment"
)

// Valid reports whether k is a known transaction kind.
func (k TransactionKind) Valid() bool {
	switch k {
	case TxPurchase, TxConsumption, TxRefund, TxAdjustment:
		return true
	}
	return false
}

// CreditTransaction is one append-only ledger row. Amount is signed:
// consumptions are negative, everything else positive. UserID and ExecutionID
// are nullable so rows survive the deletion of what they reference.
// Conservation invariant: for every live user,
// sum(amount) over their rows equals users.credits.
type CreditTransaction struct {
	ID          uuid.UUID       `json:"id"`
	UserID      *uuid.UUID      `json:"user_id,omitempty"`
	Amount      int64           `json:"amount"`
	Kind        TransactionKind `json:"kind"`
	Description string          `json:"description"`
	Model       *string         `json:"model,omitempty"`
	Tokens      *int64          `json:"tokens,omitempty"`
	RealCostUSD *float64        `json:"real_cost_usd,omitempty"`
	ExecutionID *uuid.UUID      `json:"execution_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// LedgerFilter narrows admin ledger queries. Zero-value fields are ignored.
type LedgerFilter struct {
	UserID *uuid.UUID
	Kind   *TransactionKind
	Model  *string
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

// ModelUsage aggregates ledger consumption for one model.
type ModelUsage struct {
	Model       string  `json:"model"`
	CreditsUsed int64   `json:"credits_used"`
	Tokens      int64   `json:"tokens"`
	RealCostUSD float64 `json:"real_cost_usd"`
	Executions  int64   `json:"executions"`
}

// UserUsage aggregates ledger consumption for one user.
type UserUsage struct {
	UserID      uuid.UUID `json:"user_id"`
	Username    string    `json:"username"`
	CreditsUsed int64     `json:"credits_used"`
	Tokens      int64     `json:"tokens"`
	RealCostUSD float64   `json:"real_cost_usd"`
}

// UsageSummary is the admin roll-up of all LLM consumption.
type UsageSummary struct {
	TotalCreditsUsed int64        `json:"total_credits_used"`
	TotalTokens      int64        `json:"total_tokens"`
	TotalRealCostUSD float64      `json:"total_real_cost_usd"`
	ByModel          []ModelUsage `json:"by_model"`
	ByUser           []UserUsage  `json:"by_user"`
}
