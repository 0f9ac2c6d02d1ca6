package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/plumelit/plume/internal/model"
)

func TestAgentTypeValid(t *testing.T) {
	assert.True(t, model.AgentWriter.Valid())
	assert.True(t, model.AgentJudge.Valid())
	assert.False(t, model.AgentType("editor").Valid())
	assert.False(t, model.AgentType("").Valid())
}

func TestProviderValid(t *testing.T) {
	assert.True(t, model.ProviderOpenAI.Valid())
	assert.True(t, model.ProviderAnthropic.Valid())
	assert.False(t, model.Provider("acme").Valid())
	assert.False(t, model.Provider("").Valid())
}

func TestAgentSanitized_StripsPrompt(t *testing.T) {
	a := model.Agent{Name: "haiku-bot", Prompt: "write only haiku"}
	got := a.Sanitized()
	assert.Empty(t, got.Prompt)
	assert.Equal(t, "haiku-bot", got.Name)
	assert.Equal(t, "write only haiku", a.Prompt)
}
