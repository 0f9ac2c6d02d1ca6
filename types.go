package plume

import (
	"time"

	"github.com/google/uuid"
)

// GenerationRequest is one prompt sent to an external Provider.
// Mirrors the internal request shape with no internal imports so
// external providers can be implemented outside the module.
type GenerationRequest struct {
	Model       string
	Prompt      string
	System      string
	Temperature float64
	MaxTokens   int64
}

// Generation is a provider's completed response. Token counts feed
// credit settlement, so providers should report the real usage the
// API returned rather than re-estimating.
type Generation struct {
	Text             string
	PromptTokens     int64
	CompletionTokens int64
}

// ExecutionEvent is the public view of a settled agent execution,
// delivered to ExecutionHook implementations after the terminal
// transition commits.
type ExecutionEvent struct {
	ID      uuid.UUID
	AgentID *uuid.UUID
	OwnerID *uuid.UUID
	// Type is "writer" or "judge".
	Type  string
	Model string
	// Status is "completed" or "failed".
	Status string
	// ResultID points at the produced library text for writer runs.
	ResultID      *uuid.UUID
	ErrorMessage  *string
	CreditsUsed   int64
	ParseFallback bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
