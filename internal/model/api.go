package model

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Field length limits shared by the HTTP layer and the writer strategy.
// They keep a single oversized field from filling Postgres TEXT columns or
// blowing up a judge prompt with caller-controlled garbage.
const (
	MaxTitleLen       = 200
	MaxUsernameLen    = 64
	MaxAgentNameLen   = 120
	MaxPromptLen      = 16 * 1024  // 16 KB personality prompt
	MaxContentLen     = 256 * 1024 // 256 KB text body
	MinContentLen     = 10
	MaxDescriptionLen = 8 * 1024
	MinPasswordLen    = 8
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for paginated list endpoints.
type ListResponse struct {
	Data    any          `json:"data"`
	Total   *int         `json:"total,omitempty"`
	HasMore bool         `json:"has_more"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	Meta    ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error. Kind is the machine-readable
// classification from the error taxonomy.
type ErrorDetail struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// SignupRequest is the request body for POST /auth/signup.
type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate checks signup field shapes.
func (r SignupRequest) Validate() error {
	if r.Username == "" || len(r.Username) > MaxUsernameLen {
		return E(KindInvalidInput, "username must be 1-%d characters", MaxUsernameLen)
	}
	if strings.ContainsAny(r.Username, " \t\n") {
		return E(KindInvalidInput, "username must not contain whitespace")
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return E(KindInvalidInput, "invalid email address")
	}
	if len(r.Password) < MinPasswordLen {
		return E(KindInvalidInput, "password must be at least %d characters", MinPasswordLen)
	}
	return nil
}

// LoginRequest is the request body for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthTokenResponse is the response for signup and login.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}

// CreateAgentRequest is the request body for POST /v1/agents.
// IsPublic is silently demoted to false for non-admin callers.
type CreateAgentRequest struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Prompt      string    `json:"prompt"`
	Type        AgentType `json:"type"`
	IsPublic    bool      `json:"is_public"`
}

// Validate checks agent creation field shapes.
func (r CreateAgentRequest) Validate() error {
	if r.Name == "" || len(r.Name) > MaxAgentNameLen {
		return E(KindInvalidInput, "name must be 1-%d characters", MaxAgentNameLen)
	}
	if !r.Type.Valid() {
		return E(KindInvalidInput, "type must be %q or %q", AgentWriter, AgentJudge)
	}
	if len(r.Prompt) > MaxPromptLen {
		return E(KindInvalidInput, "prompt exceeds %d bytes", MaxPromptLen)
	}
	if len(r.Description) > MaxDescriptionLen {
		return E(KindInvalidInput, "description exceeds %d bytes", MaxDescriptionLen)
	}
	return nil
}

// UpdateAgentRequest is the request body for PATCH /v1/agents/{id}.
// Nil fields are left unchanged.
type UpdateAgentRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Prompt      *string `json:"prompt,omitempty"`
	IsPublic    *bool   `json:"is_public,omitempty"`
	Version     *string `json:"version,omitempty"`
}

// CreateTextRequest is the request body for POST /v1/texts.
type CreateTextRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Validate checks text field shapes.
func (r CreateTextRequest) Validate() error {
	if r.Title == "" || len(r.Title) > MaxTitleLen {
		return E(KindInvalidInput, "title must be 1-%d characters", MaxTitleLen)
	}
	if len(r.Content) < MinContentLen {
		return E(KindInvalidInput, "content must be at least %d characters", MinContentLen)
	}
	if len(r.Content) > MaxContentLen {
		return E(KindInvalidInput, "content exceeds %d bytes", MaxContentLen)
	}
	return nil
}

// UpdateTextRequest is the request body for PATCH /v1/texts/{id}.
// Nil fields are left unchanged.
type UpdateTextRequest struct {
	Title   *string `json:"title,omitempty"`
	Content *string `json:"content,omitempty"`
}

// CreateContestRequest is the request body for POST /v1/contests.
// A non-nil Password makes the contest password-protected.
type CreateContestRequest struct {
	Title              string     `json:"title"`
	Description        string     `json:"description"`
	Password           *string    `json:"password,omitempty"`
	PubliclyListed     *bool      `json:"publicly_listed,omitempty"`
	JudgeRestrictions  bool       `json:"judge_restrictions"`
	AuthorRestrictions bool       `json:"author_restrictions"`
	MinVotesRequired   int        `json:"min_votes_required"`
	EndDate            *time.Time `json:"end_date,omitempty"`
}

// Validate checks contest creation field shapes.
func (r CreateContestRequest) Validate() error {
	if r.Title == "" || len(r.Title) > MaxTitleLen {
		return E(KindInvalidInput, "title must be 1-%d characters", MaxTitleLen)
	}
	if len(r.Description) > MaxDescriptionLen {
		return E(KindInvalidInput, "description exceeds %d bytes", MaxDescriptionLen)
	}
	if r.Password != nil && len(*r.Password) < MinPasswordLen {
		return E(KindInvalidInput, "contest password must be at least %d characters", MinPasswordLen)
	}
	if r.MinVotesRequired < 0 {
		return E(KindInvalidInput, "min_votes_required must be positive")
	}
	return nil
}

// UpdateContestRequest is the request body for PATCH /v1/contests/{id}.
// Nil fields are left unchanged. Status may only move forward
// (open → evaluation → closed); closing by hand is allowed only for
// contests with no pending result computation.
type UpdateContestRequest struct {
	Title            *string        `json:"title,omitempty"`
	Description      *string        `json:"description,omitempty"`
	Status           *ContestStatus `json:"status,omitempty"`
	PubliclyListed   *bool          `json:"publicly_listed,omitempty"`
	MinVotesRequired *int           `json:"min_votes_required,omitempty"`
	EndDate          *time.Time     `json:"end_date,omitempty"`
}

// SubmitTextRequest is the request body for POST /v1/contests/{id}/texts.
type SubmitTextRequest struct {
	TextID uuid.UUID `json:"text_id"`
}

// AssignJudgeRequest is the request body for POST /v1/contests/{id}/judges.
// Exactly one of UserID/AgentID must be set.
type AssignJudgeRequest struct {
	UserID  *uuid.UUID `json:"user_id,omitempty"`
	AgentID *uuid.UUID `json:"agent_id,omitempty"`
}

// Validate enforces the judge XOR.
func (r AssignJudgeRequest) Validate() error {
	if (r.UserID == nil) == (r.AgentID == nil) {
		return E(KindInvalidInput, "exactly one of user_id or agent_id is required")
	}
	return nil
}

// VoteCreate is one entry in the replace-all body of POST /v1/contests/{id}/votes.
// TextID names the submitted text (texts.id), not the join row.
type VoteCreate struct {
	TextID    uuid.UUID `json:"text_id"`
	TextPlace *int      `json:"text_place,omitempty"`
	Comment   string    `json:"comment"`
	IsAIVote  bool      `json:"is_ai_vote"`
}

// ExecuteWriterRequest is the request body for POST /v1/agents/execute/writer.
// Variants above 1 generate drafts in one provider batch and keep the first
// parseable one; settlement covers every draft's observed tokens.
// Force skips the pre-check and allows the settlement to overdraft.
type ExecuteWriterRequest struct {
	AgentID            uuid.UUID `json:"agent_id"`
	Model              string    `json:"model"`
	Title              *string   `json:"title,omitempty"`
	Description        *string   `json:"description,omitempty"`
	ContestDescription *string   `json:"contest_description,omitempty"`
	Variants           int       `json:"variants,omitempty"`
	Force              bool      `json:"force,omitempty"`
}

// ExecuteJudgeRequest is the request body for POST /v1/agents/execute/judge.
// Each model runs its own session and settles its own execution, so one
// agent can hold a distinct vote set per model.
type ExecuteJudgeRequest struct {
	AgentID   uuid.UUID `json:"agent_id"`
	ContestID uuid.UUID `json:"contest_id"`
	Models    []string  `json:"models"`
	Force     bool      `json:"force,omitempty"`
}

// ExecutionResponse is the API view of a settled execution.
type ExecutionResponse struct {
	ID            uuid.UUID       `json:"id"`
	Status        ExecutionStatus `json:"status"`
	Model         string          `json:"model"`
	ResultID      *uuid.UUID      `json:"result_id,omitempty"`
	CreditsUsed   int64           `json:"credits_used"`
	ParseFallback bool            `json:"parse_fallback"`
	ErrorMessage  *string         `json:"error_message,omitempty"`
}

// ExecutionResponseFrom projects a stored execution into the API shape.
func ExecutionResponseFrom(e AgentExecution) ExecutionResponse {
	return ExecutionResponse{
		ID:            e.ID,
		Status:        e.Status,
		Model:         e.Model,
		ResultID:      e.ResultID,
		CreditsUsed:   e.CreditsUsed,
		ParseFallback: e.ParseFallback,
		ErrorMessage:  e.ErrorMessage,
	}
}

// AdjustCreditsRequest is the request body for PATCH /v1/admin/users/{id}/credits.
// Amount is signed.
type AdjustCreditsRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description,omitempty"`
}

// EstimateRequest is the request body for POST /v1/agents/estimate.
// MaxTokens is the assumed completion budget; zero uses the default.
type EstimateRequest struct {
	Model     string `json:"model"`
	Text      string `json:"text"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// EstimateResponse is the response for POST /v1/agents/estimate.
type EstimateResponse struct {
	Model            string  `json:"model"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	Credits          int64   `json:"credits"`
	USD              float64 `json:"usd"`
}

// BalanceResponse is the response for GET /v1/credits/balance.
type BalanceResponse struct {
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
	Credits  int64     `json:"credits"`
}

// ContestResultEntry is one row of GET /v1/contests/{id}/results.
type ContestResultEntry struct {
	ContestTextID uuid.UUID `json:"contest_text_id"`
	TextID        uuid.UUID `json:"text_id"`
	Title         string    `json:"title"`
	Author        string    `json:"author"`
	TotalPoints   int       `json:"total_points"`
	Ranking       *int      `json:"ranking,omitempty"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Postgres string `json:"postgres"`
	Uptime   int64  `json:"uptime_seconds"`
}

// ValidateVoteSet checks the shape of a replace-all vote body before any
// storage work: places in range, no duplicate texts, no duplicate podium
// places (the per-session uniqueness the vote writer enforces).
func ValidateVoteSet(votes []VoteCreate) error {
	if len(votes) == 0 {
		return E(KindInvalidInput, "vote list must not be empty")
	}
	seenText := make(map[uuid.UUID]bool, len(votes))
	seenPlace := make(map[int]bool, 3)
	for i, v := range votes {
		if v.TextID == uuid.Nil {
			return E(KindInvalidInput, "votes[%d]: text_id is required", i)
		}
		if seenText[v.TextID] {
			return E(KindInvalidInput, "votes[%d]: duplicate text %s", i, v.TextID)
		}
		seenText[v.TextID] = true
		if v.TextPlace != nil {
			p := *v.TextPlace
			if p < 1 || p > 3 {
				return E(KindInvalidInput, "votes[%d]: text_place must be 1-3 or null", i)
			}
			if seenPlace[p] {
				return E(KindInvalidInput, "votes[%d]: duplicate podium place %d", i, p)
			}
			seenPlace[p] = true
		}
		if len(v.Comment) > MaxDescriptionLen {
			return E(KindInvalidInput, "votes[%d]: comment exceeds %d bytes", i, MaxDescriptionLen)
		}
	}
	return nil
}

// FormatAIAuthor renders the display attribution for an AI-written text.
func FormatAIAuthor(username, agentName, model string) string {
	return fmt.Sprintf("%s (via AI Agent: %s | Model: %s)", username, agentName, model)
}
