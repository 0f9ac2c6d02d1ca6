package model_test

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plumelit/plume/internal/model"
)

// ptr is a convenience helper for pointer literals in test cases.
func ptr[T any](v T) *T { return &v }

// ---- SignupRequest ---------------------------------------------------------

func TestSignupValidate_HappyPath(t *testing.T) {
	r := model.SignupRequest{Username: "ada", Email: "ada@example.com", Password: "correcthorse"}
	assert.NoError(t, r.Validate())
}

func TestSignupValidate_RejectsBadEmail(t *testing.T) {
	r := model.SignupRequest{Username: "ada", Email: "not-an-email", Password: "correcthorse"}
	err := r.Validate()
	require.Error(t, err)
	assert.Equal(t, model.KindInvalidInput, model.KindOf(err))
}

func TestSignupValidate_RejectsShortPassword(t *testing.T) {
	r := model.SignupRequest{Username: "ada", Email: "ada@example.com", Password: "short"}
	require.Error(t, r.Validate())
}

func TestSignupValidate_RejectsWhitespaceUsername(t *testing.T) {
	r := model.SignupRequest{Username: "ada lovelace", Email: "ada@example.com", Password: "correcthorse"}
	require.Error(t, r.Validate())
}

// ---- CreateAgentRequest ----------------------------------------------------

func TestCreateAgentValidate_RejectsUnknownType(t *testing.T) {
	r := model.CreateAgentRequest{Name: "critic", Type: "editor"}
	err := r.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "type")
}

func TestCreateAgentValidate_PromptAtLimit(t *testing.T) {
	r := model.CreateAgentRequest{Name: "critic", Type: model.AgentJudge, Prompt: strings.Repeat("x", model.MaxPromptLen)}
	assert.NoError(t, r.Validate(), "at the limit should pass")
}

// ---- CreateTextRequest -----------------------------------------------------

func TestCreateTextValidate_ContentTooShort(t *testing.T) {
	r := model.CreateTextRequest{Title: "Dragons", Content: "tiny"}
	require.Error(t, r.Validate())
}

func TestCreateTextValidate_TitleOverMax(t *testing.T) {
	r := model.CreateTextRequest{Title: strings.Repeat("x", model.MaxTitleLen+1), Content: strings.Repeat("y", 20)}
	require.Error(t, r.Validate())
}

// ---- AssignJudgeRequest ----------------------------------------------------

func TestAssignJudgeValidate_XOR(t *testing.T) {
	u := uuid.New()
	a := uuid.New()

	assert.NoError(t, model.AssignJudgeRequest{UserID: &u}.Validate())
	assert.NoError(t, model.AssignJudgeRequest{AgentID: &a}.Validate())
	assert.Error(t, model.AssignJudgeRequest{}.Validate(), "neither set")
	assert.Error(t, model.AssignJudgeRequest{UserID: &u, AgentID: &a}.Validate(), "both set")
}

// ---- ValidateVoteSet -------------------------------------------------------

func TestValidateVoteSet_HappyPath(t *testing.T) {
	votes := []model.VoteCreate{
		{TextID: uuid.New(), TextPlace: ptr(1), Comment: "a"},
		{TextID: uuid.New(), TextPlace: ptr(2), Comment: "b"},
		{TextID: uuid.New(), TextPlace: ptr(3), Comment: "c"},
		{TextID: uuid.New(), Comment: "honourable mention"},
	}
	assert.NoError(t, model.ValidateVoteSet(votes))
}

func TestValidateVoteSet_RejectsDuplicatePlace(t *testing.T) {
	votes := []model.VoteCreate{
		{TextID: uuid.New(), TextPlace: ptr(1)},
		{TextID: uuid.New(), TextPlace: ptr(1)},
	}
	err := model.ValidateVoteSet(votes)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate podium place")
}

func TestValidateVoteSet_RejectsDuplicateText(t *testing.T) {
	id := uuid.New()
	votes := []model.VoteCreate{
		{TextID: id, TextPlace: ptr(1)},
		{TextID: id, TextPlace: ptr(2)},
	}
	require.Error(t, model.ValidateVoteSet(votes))
}

func TestValidateVoteSet_RejectsPlaceOutOfRange(t *testing.T) {
	votes := []model.VoteCreate{{TextID: uuid.New(), TextPlace: ptr(4)}}
	require.Error(t, model.ValidateVoteSet(votes))
}

func TestValidateVoteSet_RejectsEmpty(t *testing.T) {
	require.Error(t, model.ValidateVoteSet(nil))
}

// ---- PodiumPoints ----------------------------------------------------------

func TestPodiumPoints(t *testing.T) {
	assert.Equal(t, 3, model.PodiumPoints(ptr(1)))
	assert.Equal(t, 2, model.PodiumPoints(ptr(2)))
	assert.Equal(t, 1, model.PodiumPoints(ptr(3)))
	assert.Equal(t, 0, model.PodiumPoints(ptr(7)))
	assert.Equal(t, 0, model.PodiumPoints(nil))
}
