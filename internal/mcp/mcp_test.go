package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/plumelit/plume/internal/auth"
	"github.com/plumelit/plume/internal/catalog"
	"github.com/plumelit/plume/internal/ctxutil"
	"github.com/plumelit/plume/internal/llm"
	"github.com/plumelit/plume/internal/model"
	"github.com/plumelit/plume/internal/service/credits"
	"github.com/plumelit/plume/internal/service/execution"
	"github.com/plumelit/plume/internal/service/judging"
	"github.com/plumelit/plume/internal/service/results"
	"github.com/plumelit/plume/internal/storage"
	"github.com/plumelit/plume/internal/strategy"
	"github.com/plumelit/plume/internal/testutil"
	"github.com/plumelit/plume/internal/tokenizer"
)

const testCatalogJSON = `[
	{"id": "stub-small", "provider": "openai", "display_name": "Stub Small",
	 "context_window_k": 128, "input_usd_per_1k": 1.0, "output_usd_per_1k": 2.0, "available": true}
]`

var (
	testDB         *storage.DB
	testCreditsSvc *credits.Service
	testServer     *Server
)

// stubProvider returns a fixed writer-format generation for every call.
type stubProvider struct{}

func (stubProvider) Name() model.Provider                          { return model.ProviderOpenAI }
func (stubProvider) ValidateCredentials(ctx context.Context) error { return nil }

func (stubProvider) Generate(ctx context.Context, req llm.GenerateRequest) (llm.Generation, error) {
	return llm.Generation{
		Text:             "Title: The Lighthouse\nText: The keeper climbed the spiral stair one last time before dawn.",
		PromptTokens:     120,
		CompletionTokens: 40,
	}, nil
}

func (s stubProvider) GenerateBatch(ctx context.Context, reqs []llm.GenerateRequest) ([]llm.Generation, error) {
	out := make([]llm.Generation, len(reqs))
	for i, req := range reqs {
		out[i], _ = s.Generate(ctx, req)
	}
	return out, nil
}

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	code := setupAndRun(m, tc)
	tc.Terminate()
	os.Exit(code)
}

func setupAndRun(m *testing.M, tc *testutil.TestContainer) int {
	ctx := context.Background()
	logger := testutil.TestLogger()

	var err error
	testDB, err = tc.NewTestDB(ctx, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcp test: create DB: %v\n", err)
		return 1
	}
	defer testDB.Close()

	cat, err := catalog.Parse([]byte(testCatalogJSON))
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcp test: parse fixture catalog: %v\n", err)
		return 1
	}

	reg := llm.NewRegistry(stubProvider{})
	judgingSvc := judging.New(testDB, results.New(testDB, logger), logger)
	execSvc := execution.New(
		testDB,
		cat,
		tokenizer.New(),
		strategy.NewWriter(reg, 500, logger),
		strategy.NewJudge(reg, 500, logger),
		judgingSvc,
		logger,
		nil,
	)
	testCreditsSvc = credits.New(testDB, logger)
	testServer = New(testDB, execSvc, testCreditsSvc, cat, logger, "test")

	return m.Run()
}

func newUser(t *testing.T, creditGrant int64) model.User {
	t.Helper()
	ctx := context.Background()
	u, err := testDB.CreateUser(ctx, model.User{
		Username:     "mcp-" + uuid.NewString()[:8],
		Email:        uuid.NewString()[:8] + "@plume.test",
		PasswordHash: "$argon2id$fake",
	})
	require.NoError(t, err)
	if creditGrant > 0 {
		_, err = testCreditsSvc.Grant(ctx, u.ID, creditGrant, "test grant")
		require.NoError(t, err)
	}
	return u
}

// userCtx returns a context carrying the user's claims, the way the HTTP
// auth middleware populates it before the MCP transport runs.
func userCtx(u model.User) context.Context {
	return ctxutil.WithClaims(context.Background(), &auth.Claims{
		UserID:   u.ID,
		Username: u.Username,
		IsAdmin:  u.IsAdmin,
	})
}

func toolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	}
}

// resultJSON unmarshals the first text content of a tool result into out.
func resultJSON(t *testing.T, result *mcplib.CallToolResult, out any) {
	t.Helper()
	require.False(t, result.IsError, "tool returned error: %v", result.Content)
	for _, content := range result.Content {
		if tc, ok := content.(mcplib.TextContent); ok {
			require.NoError(t, json.Unmarshal([]byte(tc.Text), out))
			return
		}
	}
	t.Fatal("tool result has no text content")
}

func TestCreditBalanceTool(t *testing.T) {
	u := newUser(t, 5000)

	result, err := testServer.handleCreditBalance(userCtx(u), toolRequest("plume_credit_balance", nil))
	require.NoError(t, err)

	var balance model.BalanceResponse
	resultJSON(t, result, &balance)
	assert.Equal(t, u.ID, balance.UserID)
	assert.Equal(t, int64(5000), balance.Credits)
}

func TestCreditBalanceToolOtherUserForbidden(t *testing.T) {
	u := newUser(t, 0)
	other := newUser(t, 0)

	result, err := testServer.handleCreditBalance(userCtx(u), toolRequest("plume_credit_balance", map[string]any{
		"user_id": other.ID.String(),
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError, "non-admin should not read another user's balance")
}

func TestToolsRequireAuthentication(t *testing.T) {
	result, err := testServer.handleCreditBalance(context.Background(), toolRequest("plume_credit_balance", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = testServer.handleExecuteWriter(context.Background(), toolRequest("plume_execute_writer", map[string]any{
		"agent_id": uuid.NewString(), "model": "stub-small",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestListContestsTool(t *testing.T) {
	u := newUser(t, 0)
	ctx := context.Background()

	contest, err := testDB.CreateContest(ctx, model.Contest{
		CreatorID:      u.ID,
		Title:          "MCP Visible Contest",
		Description:    "listed via the MCP tool",
		PubliclyListed: true,
	})
	require.NoError(t, err)

	result, err := testServer.handleListContests(userCtx(u), toolRequest("plume_list_contests", map[string]any{
		"status": "open",
	}))
	require.NoError(t, err)

	var out struct {
		Contests []model.Contest `json:"contests"`
		Total    int             `json:"total"`
	}
	resultJSON(t, result, &out)
	assert.Greater(t, out.Total, 0)

	found := false
	for _, c := range out.Contests {
		if c.ID == contest.ID {
			found = true
		}
	}
	assert.True(t, found, "created contest should appear in the listing")
}

func TestListContestsToolRejectsUnknownStatus(t *testing.T) {
	u := newUser(t, 0)

	result, err := testServer.handleListContests(userCtx(u), toolRequest("plume_list_contests", map[string]any{
		"status": "archived",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestEstimateCostTool(t *testing.T) {
	u := newUser(t, 0)

	result, err := testServer.handleEstimateCost(userCtx(u), toolRequest("plume_estimate_cost", map[string]any{
		"model":      "stub-small",
		"text":       "Write a short story about a lighthouse keeper.",
		"max_tokens": 500,
	}))
	require.NoError(t, err)

	var estimate model.EstimateResponse
	resultJSON(t, result, &estimate)
	assert.Equal(t, "stub-small", estimate.Model)
	assert.Greater(t, estimate.Credits, int64(0))
	assert.Greater(t, estimate.PromptTokens, 0)
}

func TestEstimateCostToolUnknownModel(t *testing.T) {
	u := newUser(t, 0)

	result, err := testServer.handleEstimateCost(userCtx(u), toolRequest("plume_estimate_cost", map[string]any{
		"model": "no-such-model",
		"text":  "anything",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestExecuteWriterTool(t *testing.T) {
	u := newUser(t, 100_000)
	ctx := context.Background()

	agent, err := testDB.CreateAgent(ctx, model.Agent{
		OwnerID: u.ID,
		Type:    model.AgentWriter,
		Name:    "MCP Writer",
		Prompt:  "You write terse maritime fiction.",
	})
	require.NoError(t, err)

	result, err := testServer.handleExecuteWriter(userCtx(u), toolRequest("plume_execute_writer", map[string]any{
		"agent_id": agent.ID.String(),
		"model":    "stub-small",
	}))
	require.NoError(t, err)

	var out struct {
		Execution model.ExecutionResponse `json:"execution"`
		Text      model.Text              `json:"text"`
	}
	resultJSON(t, result, &out)
	assert.Equal(t, model.ExecutionCompleted, out.Execution.Status)
	assert.Greater(t, out.Execution.CreditsUsed, int64(0))
	assert.Equal(t, "The Lighthouse", out.Text.Title)
	assert.Equal(t, u.ID, out.Text.OwnerID)
}

func TestExecuteWriterToolBadArguments(t *testing.T) {
	u := newUser(t, 0)

	result, err := testServer.handleExecuteWriter(userCtx(u), toolRequest("plume_execute_writer", map[string]any{
		"agent_id": "not-a-uuid",
		"model":    "stub-small",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = testServer.handleExecuteWriter(userCtx(u), toolRequest("plume_execute_writer", map[string]any{
		"agent_id": uuid.NewString(),
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError, "missing model should be rejected")
}

func TestExecuteJudgeToolBadArguments(t *testing.T) {
	u := newUser(t, 0)

	result, err := testServer.handleExecuteJudge(userCtx(u), toolRequest("plume_execute_judge", map[string]any{
		"agent_id":   uuid.NewString(),
		"contest_id": uuid.NewString(),
		"models":     " , ",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError, "blank model list should be rejected")
}

func TestModelsResource(t *testing.T) {
	contents, err := testServer.handleModelsResource(context.Background(), mcplib.ReadResourceRequest{
		Params: mcplib.ReadResourceParams{URI: "plume://models"},
	})
	require.NoError(t, err)
	require.Len(t, contents, 1)

	text, ok := contents[0].(mcplib.TextResourceContents)
	require.True(t, ok)

	var models []catalog.Model
	require.NoError(t, json.Unmarshal([]byte(text.Text), &models))
	require.Len(t, models, 1)
	assert.Equal(t, "stub-small", models[0].ID)
}

func TestOpenContestsResource(t *testing.T) {
	u := newUser(t, 0)
	ctx := context.Background()

	_, err := testDB.CreateContest(ctx, model.Contest{
		CreatorID:      u.ID,
		Title:          "Resource Contest",
		Description:    "shows up in plume://contests/open",
		PubliclyListed: true,
	})
	require.NoError(t, err)

	contents, err := testServer.handleOpenContestsResource(userCtx(u), mcplib.ReadResourceRequest{
		Params: mcplib.ReadResourceParams{URI: "plume://contests/open"},
	})
	require.NoError(t, err)
	require.Len(t, contents, 1)

	text, ok := contents[0].(mcplib.TextResourceContents)
	require.True(t, ok)

	var contests []model.Contest
	require.NoError(t, json.Unmarshal([]byte(text.Text), &contests))
	assert.NotEmpty(t, contests)
	for _, c := range contests {
		assert.Equal(t, model.ContestOpen, c.Status)
	}
}
