package model

import (
	"time"

	"github.com/google/uuid"
)

// AgentType selects the execution strategy for an agent.
type AgentType string

const (
	AgentWriter AgentType = "writer"
	AgentJudge  AgentType = "judge"
)

// Valid reports whether t is a known agent type.
func (t AgentType) Valid() bool {
	return t == AgentWriter || t == AgentJudge
}

// Provider tags the upstream LLM service a catalog model belongs to.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	return p == ProviderOpenAI || p == ProviderAnthropic
}

// Agent is a named, owned personality that can be invoked as a writer or a
// judge. Prompt is the personality layer injected between the strategy's base
// prompt and the call-site inputs; it is visible only to the owner and admins.
// Version is an opaque marker tying downstream votes to a prompt generation.
type Agent struct {
	ID          uuid.UUID `json:"id"`
	OwnerID     uuid.UUID `json:"owner_id"`
	Type        AgentType `json:"type"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Prompt      string    `json:"prompt,omitempty"`
	IsPublic    bool      `json:"is_public"`
	Version     string    `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Sanitized returns a copy with the personality prompt removed, for callers
// that may execute a public agent but not read its prompt.
func (a Agent) Sanitized() Agent {
	a.Prompt = ""
	return a
}
