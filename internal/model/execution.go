package model

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus is the lifecycle of an agent invocation. Completed and
// failed are terminal; terminal rows never change.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Terminal reports whether s is a terminal execution status.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed
}

// AgentExecution is the durable record of one agent invocation. AgentID is
// nullable so the record survives agent deletion. ResultID points at the
// produced text for writers; judge artifacts are votes, which link back here
// via Vote.AgentExecutionID. CreditsUsed is the settled actual; a failed
// execution keeps its settled credits when the failure happened after
// deduction (the compensation is a separate refund ledger row).
type AgentExecution struct {
	ID            uuid.UUID       `json:"id"`
	AgentID       *uuid.UUID      `json:"agent_id,omitempty"`
	OwnerID       *uuid.UUID      `json:"owner_id,omitempty"`
	Type          AgentType       `json:"type"`
	Model         string          `json:"model"`
	Status        ExecutionStatus `json:"status"`
	ResultID      *uuid.UUID      `json:"result_id,omitempty"`
	ErrorMessage  *string         `json:"error_message,omitempty"`
	CreditsUsed   int64           `json:"credits_used"`
	ParseFallback bool            `json:"parse_fallback"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
