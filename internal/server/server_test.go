package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/uuid"

	"github.com/plumelit/plume/api"
	"github.com/plumelit/plume/internal/auth"
	"github.com/plumelit/plume/internal/catalog"
	"github.com/plumelit/plume/internal/llm"
	"github.com/plumelit/plume/internal/mcp"
	"github.com/plumelit/plume/internal/model"
	"github.com/plumelit/plume/internal/server"
	"github.com/plumelit/plume/internal/service/credits"
	"github.com/plumelit/plume/internal/service/execution"
	"github.com/plumelit/plume/internal/service/judging"
	"github.com/plumelit/plume/internal/service/results"
	"github.com/plumelit/plume/internal/storage"
	"github.com/plumelit/plume/internal/strategy"
	"github.com/plumelit/plume/internal/testutil"
	"github.com/plumelit/plume/internal/tokenizer"
)

const (
	testPassword      = "correct-horse-battery"
	testAdminPassword = "admin-horse-battery"
)

const testCatalogJSON = `[
	{"id": "stub-small", "provider": "openai", "display_name": "Stub Small",
	 "context_window_k": 128, "input_usd_per_1k": 1.0, "output_usd_per_1k": 2.0, "available": true}
]`

var (
	testSrv        *httptest.Server
	testDB         *storage.DB
	testCreditsSvc *credits.Service
	adminToken     string
	adminUser      model.User
)

// judgeTitleRe pulls the submission titles back out of a judge prompt so
// the stub can echo them in its ranking.
var judgeTitleRe = regexp.MustCompile(`(?m)^Text: (.+)$`)

// stubProvider answers writer prompts with a fixed parseable text and
// judge prompts with a ranking over the titles found in the prompt.
type stubProvider struct{}

func (stubProvider) Name() model.Provider                          { return model.ProviderOpenAI }
func (stubProvider) ValidateCredentials(ctx context.Context) error { return nil }

func (stubProvider) Generate(ctx context.Context, req llm.GenerateRequest) (llm.Generation, error) {
	if strings.Contains(req.Prompt, "literary judge") {
		var sb strings.Builder
		for i, m := range judgeTitleRe.FindAllStringSubmatch(req.Prompt, -1) {
			fmt.Fprintf(&sb, "%d. %s\n   Commentary: Placed on craft and fit.\n", i+1, m[1])
		}
		return llm.Generation{Text: sb.String(), PromptTokens: 200, CompletionTokens: 60}, nil
	}
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
		fmt.Fprintf(os.Stderr, "server test: create DB: %v\n", err)
		return 1
	}
	defer testDB.Close()

	cat, err := catalog.Parse([]byte(testCatalogJSON))
	if err != nil {
		fmt.Fprintf(os.Stderr, "server test: parse fixture catalog: %v\n", err)
		return 1
	}

	jwtMgr, err := auth.NewJWTManager("", "", 24*time.Hour)
	if err != nil {
		fmt.Fprintf(os.Stderr, "server test: jwt manager: %v\n", err)
		return 1
	}

	reg := llm.NewRegistry(stubProvider{})
	resultsSvc := results.New(testDB, logger)
	judgingSvc := judging.New(testDB, resultsSvc, logger)
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
	mcpSrv := mcp.New(testDB, execSvc, testCreditsSvc, cat, logger, "test")

	srv := server.New(server.ServerConfig{
		DB:                  testDB,
		JWTMgr:              jwtMgr,
		Catalog:             cat,
		CreditsSvc:          testCreditsSvc,
		JudgingSvc:          judgingSvc,
		ResultsSvc:          resultsSvc,
		ExecutionSvc:        execSvc,
		Logger:              logger,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                0,
		ReadTimeout:         30 * time.Second,
		WriteTimeout:        30 * time.Second,
		Version:             "test",
		MaxRequestBodyBytes: 1 * 1024 * 1024,
		OpenAPISpec:         api.OpenAPISpec,
	})

	// Seed the bootstrap admin.
	hash, err := auth.HashPassword(testAdminPassword)
	if err != nil {
		fmt.Fprintf(os.Stderr, "server test: hash password: %v\n", err)
		return 1
	}
	adminUser, err = testDB.CreateUser(ctx, model.User{
		Username:     "admin",
		Email:        "admin@plume.test",
		PasswordHash: hash,
		IsAdmin:      true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "server test: seed admin: %v\n", err)
		return 1
	}

	testSrv = httptest.NewServer(srv.Handler())
	defer testSrv.Close()

	adminToken = mustLogin("admin", testAdminPassword)

	return m.Run()
}

func mustLogin(username, password string) string {
	body, _ := json.Marshal(model.LoginRequest{Username: username, Password: password})
	resp, err := http.Post(testSrv.URL+"/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		panic(fmt.Sprintf("login: request failed: %v", err))
	}
	defer func() { _ = resp.Body.Close() }()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		panic(fmt.Sprintf("login: status %d, body: %s", resp.StatusCode, string(data)))
	}
	var result struct {
		Data model.AuthTokenResponse `json:"data"`
	}
	if err := json.Unmarshal(data, &result); err != nil || result.Data.Token == "" {
		panic(fmt.Sprintf("login: bad body: %s", string(data)))
	}
	return result.Data.Token
}

// signup registers a fresh user and returns their token and profile.
func signup(t *testing.T, prefix string) (string, model.User) {
	t.Helper()
	username := prefix + "-" + uuid.NewString()[:8]
	body, _ := json.Marshal(model.SignupRequest{
		Username: username,
		Email:    username + "@plume.test",
		Password: testPassword,
	})
	resp, err := http.Post(testSrv.URL+"/auth/signup", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result model.AuthTokenResponse
	decodeData(t, resp, &result)
	require.NotEmpty(t, result.Token)
	return result.Token, result.User
}

func authedRequest(method, url, token string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return http.DefaultClient.Do(req)
}

// decodeData unwraps the {data: ...} envelope into out.
func decodeData(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var wrapper struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &wrapper), "body: %s", string(raw))
	require.NoError(t, json.Unmarshal(wrapper.Data, out), "body: %s", string(raw))
}

// decodeList unwraps a paginated envelope into out and returns its paging fields.
func decodeList(t *testing.T, resp *http.Response, out any) (hasMore bool, total *int) {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var wrapper struct {
		Data    json.RawMessage `json:"data"`
		Total   *int            `json:"total"`
		HasMore bool            `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(raw, &wrapper), "body: %s", string(raw))
	require.NoError(t, json.Unmarshal(wrapper.Data, out), "body: %s", string(raw))
	return wrapper.HasMore, wrapper.Total
}

// errorKind reads the error envelope and returns its taxonomy kind.
func errorKind(t *testing.T, resp *http.Response) model.Kind {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var e model.APIError
	require.NoError(t, json.Unmarshal(raw, &e), "body: %s", string(raw))
	return e.Error.Kind
}

func grantCredits(t *testing.T, userID uuid.UUID, amount int64) {
	t.Helper()
	_, err := testCreditsSvc.Grant(context.Background(), userID, amount, "test grant")
	require.NoError(t, err)
}

func createText(t *testing.T, token, title, content string) model.Text {
	t.Helper()
	resp, err := authedRequest("POST", testSrv.URL+"/v1/texts", token,
		model.CreateTextRequest{Title: title, Content: content})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var text model.Text
	decodeData(t, resp, &text)
	return text
}

func createContest(t *testing.T, token string, req model.CreateContestRequest) model.Contest {
	t.Helper()
	resp, err := authedRequest("POST", testSrv.URL+"/v1/contests", token, req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var contest model.Contest
	decodeData(t, resp, &contest)
	return contest
}

func submitText(t *testing.T, token string, contestID, textID uuid.UUID) {
	t.Helper()
	resp, err := authedRequest("POST", testSrv.URL+"/v1/contests/"+contestID.String()+"/texts", token,
		model.SubmitTextRequest{TextID: textID})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func ptrInt(v int) *int { return &v }

func ptrStr(v string) *string { return &v }

func TestHealthEndpoint(t *testing.T) {
	resp, err := http.Get(testSrv.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health model.HealthResponse
	decodeData(t, resp, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "connected", health.Postgres)
	assert.Equal(t, "test", health.Version)
}

func TestVersionEndpoint(t *testing.T) {
	resp, err := http.Get(testSrv.URL + "/version")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var version map[string]string
	decodeData(t, resp, &version)
	assert.Equal(t, "test", version["version"])
}

func TestOpenAPISpecEndpoint(t *testing.T) {
	resp, err := http.Get(testSrv.URL + "/openapi.yaml")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/yaml", resp.Header.Get("Content-Type"))

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "openapi:")
}

func TestRequestIDPropagation(t *testing.T) {
	req, _ := http.NewRequest("GET", testSrv.URL+"/health", nil)
	req.Header.Set("X-Request-ID", "test-req-42")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, "test-req-42", resp.Header.Get("X-Request-ID"))

	// Error envelopes carry the same ID in meta.
	req2, _ := http.NewRequest("GET", testSrv.URL+"/v1/contests", nil)
	req2.Header.Set("X-Request-ID", "test-req-43")
	resp2, err := http.DefaultClient.Do(req2)
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)

	raw, _ := io.ReadAll(resp2.Body)
	var e model.APIError
	require.NoError(t, json.Unmarshal(raw, &e))
	assert.Equal(t, "test-req-43", e.Meta.RequestID)
}

func TestSignupAndLogin(t *testing.T) {
	token, user := signup(t, "auth")
	assert.NotEmpty(t, token)
	assert.Zero(t, user.Credits, "new accounts start with zero credits")
	assert.False(t, user.IsAdmin)

	t.Run("duplicate username rejected", func(t *testing.T) {
		body, _ := json.Marshal(model.SignupRequest{
			Username: user.Username,
			Email:    "other-" + user.Email,
			Password: testPassword,
		})
		resp, err := http.Post(testSrv.URL+"/auth/signup", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, model.KindConflict, errorKind(t, resp))
	})

	t.Run("short password rejected", func(t *testing.T) {
		body, _ := json.Marshal(model.SignupRequest{
			Username: "short-pwd-user",
			Email:    "short@plume.test",
			Password: "short",
		})
		resp, err := http.Post(testSrv.URL+"/auth/signup", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("login with valid credentials", func(t *testing.T) {
		got := mustLogin(user.Username, testPassword)
		assert.NotEmpty(t, got)
	})

	t.Run("login with wrong password", func(t *testing.T) {
		body, _ := json.Marshal(model.LoginRequest{Username: user.Username, Password: "wrong-password-x"})
		resp, err := http.Post(testSrv.URL+"/auth/login", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("login with unknown username", func(t *testing.T) {
		body, _ := json.Marshal(model.LoginRequest{Username: "nobody-here", Password: testPassword})
		resp, err := http.Post(testSrv.URL+"/auth/login", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestUnauthenticatedAccess(t *testing.T) {
	resp, err := http.Get(testSrv.URL + "/v1/contests")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest("GET", testSrv.URL+"/v1/contests", nil)
	req.Header.Set("Authorization", "Bearer not-a-real-token")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}

func TestMalformedRequestBody(t *testing.T) {
	token, _ := signup(t, "badjson")

	req, _ := http.NewRequest("POST", testSrv.URL+"/v1/texts", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, model.KindInvalidInput, errorKind(t, resp))

	// Unknown fields are rejected, not silently dropped.
	resp2, err := authedRequest("POST", testSrv.URL+"/v1/texts", token,
		map[string]any{"title": "x", "content": "some long enough content", "bogus": true})
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestAgentVisibility(t *testing.T) {
	ownerToken, _ := signup(t, "agent-owner")
	otherToken, _ := signup(t, "agent-other")

	// is_public is silently demoted for non-admin creators.
	resp, err := authedRequest("POST", testSrv.URL+"/v1/agents", ownerToken,
		model.CreateAgentRequest{
			Name:     "Ghostwriter",
			Type:     model.AgentWriter,
			Prompt:   "You write gothic flash fiction.",
			IsPublic: true,
		})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var agent model.Agent
	decodeData(t, resp, &agent)
	assert.False(t, agent.IsPublic, "non-admin cannot publish at creation")
	assert.Equal(t, "v1", agent.Version)

	agentURL := testSrv.URL + "/v1/agents/" + agent.ID.String()

	t.Run("owner sees own agent with prompt", func(t *testing.T) {
		resp, err := authedRequest("GET", agentURL, ownerToken, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var got model.Agent
		decodeData(t, resp, &got)
		assert.NotEmpty(t, got.Prompt)
	})

	t.Run("private agent is unenumerable to others", func(t *testing.T) {
		resp, err := authedRequest("GET", agentURL, otherToken, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("owner cannot publish own agent", func(t *testing.T) {
		resp, err := authedRequest("PATCH", agentURL, ownerToken,
			model.UpdateAgentRequest{IsPublic: ptrBool(true)})
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("admin publishes the agent", func(t *testing.T) {
		resp, err := authedRequest("PATCH", agentURL, adminToken,
			model.UpdateAgentRequest{IsPublic: ptrBool(true)})
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var got model.Agent
		decodeData(t, resp, &got)
		assert.True(t, got.IsPublic)
	})

	t.Run("public agent readable but prompt hidden", func(t *testing.T) {
		resp, err := authedRequest("GET", agentURL, otherToken, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var got model.Agent
		decodeData(t, resp, &got)
		assert.Empty(t, got.Prompt, "prompt is the owner's IP")
		assert.Equal(t, "Ghostwriter", got.Name)
	})

	t.Run("listing includes the public agent", func(t *testing.T) {
		resp, err := authedRequest("GET", testSrv.URL+"/v1/agents?type=writer", otherToken, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var agents []model.Agent
		decodeData(t, resp, &agents)
		found := false
		for _, a := range agents {
			if a.ID == agent.ID {
				found = true
				assert.Empty(t, a.Prompt)
			}
		}
		assert.True(t, found)
	})

	t.Run("owner deletes the agent", func(t *testing.T) {
		resp, err := authedRequest("DELETE", agentURL, ownerToken, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp2, err := authedRequest("GET", agentURL, ownerToken, nil)
		require.NoError(t, err)
		defer func() { _ = resp2.Body.Close() }()
		assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
	})
}

func TestTextLifecycle(t *testing.T) {
	token, user := signup(t, "texts")

	text := createText(t, token, "Morning Fog", "The harbor disappeared before the bell rang twice.")
	assert.Equal(t, user.Username, text.Author)

	textURL := testSrv.URL + "/v1/texts/" + text.ID.String()

	t.Run("patch title", func(t *testing.T) {
		resp, err := authedRequest("PATCH", textURL, token,
			model.UpdateTextRequest{Title: ptrStr("Evening Fog")})
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var got model.Text
		decodeData(t, resp, &got)
		assert.Equal(t, "Evening Fog", got.Title)
	})

	t.Run("list own texts", func(t *testing.T) {
		resp, err := authedRequest("GET", testSrv.URL+"/v1/texts", token, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var texts []model.Text
		hasMore, _ := decodeList(t, resp, &texts)
		assert.False(t, hasMore)
		require.Len(t, texts, 1)
		assert.Equal(t, text.ID, texts[0].ID)
	})

	t.Run("texts are unenumerable to other users", func(t *testing.T) {
		otherToken, _ := signup(t, "texts-other")
		resp, err := authedRequest("GET", textURL, otherToken, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("delete", func(t *testing.T) {
		resp, err := authedRequest("DELETE", textURL, token, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp2, err := authedRequest("GET", textURL, token, nil)
		require.NoError(t, err)
		defer func() { _ = resp2.Body.Close() }()
		assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
	})
}

// TestContestFlowToResults walks the whole human path: create, submit,
// assign judges, evaluate, vote to threshold, read final rankings.
func TestContestFlowToResults(t *testing.T) {
	creatorToken, _ := signup(t, "flow-creator")
	author1Token, _ := signup(t, "flow-author1")
	author2Token, _ := signup(t, "flow-author2")
	judge1Token, judge1 := signup(t, "flow-judge1")
	judge2Token, judge2 := signup(t, "flow-judge2")

	contest := createContest(t, creatorToken, model.CreateContestRequest{
		Title:            "Autumn Flash Fiction",
		Description:      "Under 100 words about a turning season.",
		MinVotesRequired: 2,
	})
	contestURL := testSrv.URL + "/v1/contests/" + contest.ID.String()

	textA := createText(t, author1Token, "Red Leaves", "The maple let go of summer one leaf at a time.")
	textB := createText(t, author2Token, "First Frost", "Ice wrote its name on every window in the street.")

	submitText(t, author1Token, contest.ID, textA.ID)
	submitText(t, author2Token, contest.ID, textB.ID)

	t.Run("double submission conflicts", func(t *testing.T) {
		resp, err := authedRequest("POST", contestURL+"/texts", author1Token,
			model.SubmitTextRequest{TextID: textA.ID})
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("submitting someone else's text fails", func(t *testing.T) {
		resp, err := authedRequest("POST", contestURL+"/texts", author2Token,
			model.SubmitTextRequest{TextID: textA.ID})
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, "foreign texts are unenumerable")
	})

	for _, j := range []uuid.UUID{judge1.ID, judge2.ID} {
		resp, err := authedRequest("POST", contestURL+"/judges", creatorToken,
			model.AssignJudgeRequest{UserID: &j})
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		_ = resp.Body.Close()
	}

	t.Run("voting before evaluation is rejected", func(t *testing.T) {
		resp, err := authedRequest("POST", contestURL+"/votes", judge1Token,
			[]model.VoteCreate{{TextID: textA.ID, TextPlace: ptrInt(1)}})
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, model.KindInvalidState, errorKind(t, resp))
	})

	// Creator freezes submissions.
	st := model.ContestEvaluation
	resp, err := authedRequest("PATCH", contestURL, creatorToken,
		model.UpdateContestRequest{Status: &st})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	t.Run("submission after evaluation starts is rejected", func(t *testing.T) {
		lateToken, _ := signup(t, "flow-late")
		late := createText(t, lateToken, "Too Late", "The deadline passed while the ink was still wet.")
		resp, err := authedRequest("POST", contestURL+"/texts", lateToken,
			model.SubmitTextRequest{TextID: late.ID})
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("non-judge cannot vote", func(t *testing.T) {
		resp, err := authedRequest("POST", contestURL+"/votes", author1Token,
			[]model.VoteCreate{{TextID: textB.ID, TextPlace: ptrInt(1)}})
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("first judge votes, contest stays open", func(t *testing.T) {
		resp, err := authedRequest("POST", contestURL+"/votes", judge1Token,
			[]model.VoteCreate{
				{TextID: textA.ID, TextPlace: ptrInt(1), Comment: "vivid"},
				{TextID: textB.ID, TextPlace: ptrInt(2)},
			})
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var session judging.SessionResult
		decodeData(t, resp, &session)
		assert.True(t, session.HasVoted)
		assert.False(t, session.ContestClosed)
		assert.Len(t, session.Votes, 2)
	})

	t.Run("votes stay hidden from participants until close", func(t *testing.T) {
		resp, err := authedRequest("GET", contestURL+"/votes", author1Token, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("results unavailable before close", func(t *testing.T) {
		resp, err := authedRequest("GET", contestURL+"/results", author1Token, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("second vote reaches the threshold and closes", func(t *testing.T) {
		resp, err := authedRequest("POST", contestURL+"/votes", judge2Token,
			[]model.VoteCreate{
				{TextID: textA.ID, TextPlace: ptrInt(1)},
				{TextID: textB.ID, TextPlace: ptrInt(2), Comment: "cold and clean"},
			})
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var session judging.SessionResult
		decodeData(t, resp, &session)
		assert.True(t, session.ContestClosed)
	})

	t.Run("contest is closed", func(t *testing.T) {
		resp, err := authedRequest("GET", contestURL, creatorToken, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var got model.Contest
		decodeData(t, resp, &got)
		assert.Equal(t, model.ContestClosed, got.Status)
	})

	t.Run("results carry podium points and rankings", func(t *testing.T) {
		resp, err := authedRequest("GET", contestURL+"/results", author2Token, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var entries []model.ContestResultEntry
		decodeData(t, resp, &entries)
		require.Len(t, entries, 2)
		assert.Equal(t, "Red Leaves", entries[0].Title)
		assert.Equal(t, 6, entries[0].TotalPoints)
		require.NotNil(t, entries[0].Ranking)
		assert.Equal(t, 1, *entries[0].Ranking)
		assert.Equal(t, "First Frost", entries[1].Title)
		assert.Equal(t, 4, entries[1].TotalPoints)
		require.NotNil(t, entries[1].Ranking)
		assert.Equal(t, 2, *entries[1].Ranking)
	})

	t.Run("votes visible to participants after close", func(t *testing.T) {
		resp, err := authedRequest("GET", contestURL+"/votes", author1Token, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var votes []model.Vote
		decodeData(t, resp, &votes)
		assert.Len(t, votes, 4)
	})

	t.Run("withdrawal after close is rejected", func(t *testing.T) {
		resp, err := authedRequest("DELETE", contestURL+"/texts/"+textA.ID.String(), author1Token, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}

func TestContestPasswordGate(t *testing.T) {
	creatorToken, _ := signup(t, "gate-creator")
	outsiderToken, _ := signup(t, "gate-outsider")

	contest := createContest(t, creatorToken, model.CreateContestRequest{
		Title:       "Members Only",
		Description: "Bring the passphrase.",
		Password:    ptrStr("hunter2-but-long"),
	})
	assert.True(t, contest.PasswordProtected)
	contestURL := testSrv.URL + "/v1/contests/" + contest.ID.String()

	t.Run("detail denied without password", func(t *testing.T) {
		resp, err := authedRequest("GET", contestURL, outsiderToken, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("detail denied with wrong password", func(t *testing.T) {
		req, _ := http.NewRequest("GET", contestURL, nil)
		req.Header.Set("Authorization", "Bearer "+outsiderToken)
		req.Header.Set("X-Contest-Password", "wrong-guess-here")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("header password grants access", func(t *testing.T) {
		req, _ := http.NewRequest("GET", contestURL, nil)
		req.Header.Set("Authorization", "Bearer "+outsiderToken)
		req.Header.Set("X-Contest-Password", "hunter2-but-long")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("query password grants access", func(t *testing.T) {
		resp, err := authedRequest("GET", contestURL+"?password=hunter2-but-long", outsiderToken, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("creator bypasses the gate", func(t *testing.T) {
		resp, err := authedRequest("GET", contestURL, creatorToken, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("submission list gated the same way", func(t *testing.T) {
		resp, err := authedRequest("GET", contestURL+"/texts", outsiderToken, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		resp2, err := authedRequest("GET", contestURL+"/texts?password=hunter2-but-long", outsiderToken, nil)
		require.NoError(t, err)
		defer func() { _ = resp2.Body.Close() }()
		assert.Equal(t, http.StatusOK, resp2.StatusCode)
	})

	t.Run("password hash never serializes", func(t *testing.T) {
		resp, err := authedRequest("GET", contestURL, creatorToken, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		raw, _ := io.ReadAll(resp.Body)
		assert.NotContains(t, string(raw), "password_hash")
		assert.NotContains(t, string(raw), "argon2")
	})
}

func TestJudgeAssignmentRules(t *testing.T) {
	creatorToken, _ := signup(t, "panel-creator")
	authorToken, author := signup(t, "panel-author")
	judgeToken, judgeUser := signup(t, "panel-judge")

	contest := createContest(t, creatorToken, model.CreateContestRequest{
		Title:             "Strict Panel",
		Description:       "Judges cannot compete.",
		JudgeRestrictions: true,
	})
	contestURL := testSrv.URL + "/v1/contests/" + contest.ID.String()

	text := createText(t, authorToken, "Entry", "A story short enough to be read twice.")
	submitText(t, authorToken, contest.ID, text.ID)

	t.Run("author cannot take a judge seat", func(t *testing.T) {
		resp, err := authedRequest("POST", contestURL+"/judges", creatorToken,
			model.AssignJudgeRequest{UserID: &author.ID})
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("non-creator cannot assign judges", func(t *testing.T) {
		resp, err := authedRequest("POST", contestURL+"/judges", authorToken,
			model.AssignJudgeRequest{UserID: &judgeUser.ID})
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	var seat model.ContestJudge
	resp, err := authedRequest("POST", contestURL+"/judges", creatorToken,
		model.AssignJudgeRequest{UserID: &judgeUser.ID})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	decodeData(t, resp, &seat)
	_ = resp.Body.Close()

	t.Run("both XOR fields rejected", func(t *testing.T) {
		agentID := uuid.New()
		resp, err := authedRequest("POST", contestURL+"/judges", creatorToken,
			model.AssignJudgeRequest{UserID: &judgeUser.ID, AgentID: &agentID})
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("double assignment conflicts", func(t *testing.T) {
		resp, err := authedRequest("POST", contestURL+"/judges", creatorToken,
			model.AssignJudgeRequest{UserID: &judgeUser.ID})
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("panel is listed", func(t *testing.T) {
		resp, err := authedRequest("GET", contestURL+"/judges", judgeToken, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var judges []model.ContestJudge
		decodeData(t, resp, &judges)
		require.Len(t, judges, 1)
		assert.Equal(t, seat.ID, judges[0].ID)
	})

	t.Run("judge removes their own seat", func(t *testing.T) {
		resp, err := authedRequest("DELETE", contestURL+"/judges/"+seat.ID.String(), judgeToken, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestAdminEndpoints(t *testing.T) {
	userToken, user := signup(t, "admin-target")

	t.Run("non-admin denied", func(t *testing.T) {
		resp, err := authedRequest("GET", testSrv.URL+"/v1/admin/users", userToken, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("admin lists users", func(t *testing.T) {
		resp, err := authedRequest("GET", testSrv.URL+"/v1/admin/users", adminToken, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var users []model.User
		_, total := decodeList(t, resp, &users)
		require.NotNil(t, total)
		assert.GreaterOrEqual(t, *total, 2)
	})

	t.Run("admin grants credits", func(t *testing.T) {
		resp, err := authedRequest("PATCH", testSrv.URL+"/v1/admin/users/"+user.ID.String()+"/credits", adminToken,
			model.AdjustCreditsRequest{Amount: 500, Description: "welcome grant"})
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var result struct {
			Transaction model.CreditTransaction `json:"transaction"`
			Balance     int64                   `json:"balance"`
		}
		decodeData(t, resp, &result)
		assert.Equal(t, int64(500), result.Balance)
		assert.Equal(t, model.TxAdjustment, result.Transaction.Kind)
	})

	t.Run("user sees the new balance", func(t *testing.T) {
		resp, err := authedRequest("GET", testSrv.URL+"/v1/credits/balance", userToken, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var balance model.BalanceResponse
		decodeData(t, resp, &balance)
		assert.Equal(t, int64(500), balance.Credits)
	})

	t.Run("user sees the grant in own ledger", func(t *testing.T) {
		resp, err := authedRequest("GET", testSrv.URL+"/v1/credits/transactions", userToken, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var rows []model.CreditTransaction
		_, total := decodeList(t, resp, &rows)
		require.NotNil(t, total)
		assert.Equal(t, 1, *total)
		require.Len(t, rows, 1)
		assert.Equal(t, int64(500), rows[0].Amount)
	})

	t.Run("deduction below zero is rejected", func(t *testing.T) {
		resp, err := authedRequest("PATCH", testSrv.URL+"/v1/admin/users/"+user.ID.String()+"/credits", adminToken,
			model.AdjustCreditsRequest{Amount: -10000, Description: "too deep"})
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
		assert.Equal(t, model.KindInsufficientCredits, errorKind(t, resp))
	})

	t.Run("admin ledger shows the adjustment", func(t *testing.T) {
		resp, err := authedRequest("GET", testSrv.URL+"/v1/admin/credits/transactions?user_id="+user.ID.String(), adminToken, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var rows []model.CreditTransaction
		decodeList(t, resp, &rows)
		require.NotEmpty(t, rows)
		assert.Equal(t, model.TxAdjustment, rows[0].Kind)
	})

	t.Run("usage summary responds", func(t *testing.T) {
		resp, err := authedRequest("GET", testSrv.URL+"/v1/admin/credits/usage", adminToken, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("admin cannot delete own account", func(t *testing.T) {
		resp, err := authedRequest("DELETE", testSrv.URL+"/v1/admin/users/"+adminUser.ID.String(), adminToken, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("admin deletes the user", func(t *testing.T) {
		resp, err := authedRequest("DELETE", testSrv.URL+"/v1/admin/users/"+user.ID.String(), adminToken, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body, _ := json.Marshal(model.LoginRequest{Username: user.Username, Password: testPassword})
		resp2, err := http.Post(testSrv.URL+"/auth/login", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		defer func() { _ = resp2.Body.Close() }()
		assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
	})
}

func TestModelsEndpoint(t *testing.T) {
	token, _ := signup(t, "models")

	resp, err := authedRequest("GET", testSrv.URL+"/v1/models", token, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var models []catalog.Model
	decodeData(t, resp, &models)
	require.Len(t, models, 1)
	assert.Equal(t, "stub-small", models[0].ID)
	assert.Greater(t, models[0].InputUSDPer1K, 0.0)
}

func TestWriterExecution(t *testing.T) {
	token, user := signup(t, "exec-writer")
	grantCredits(t, user.ID, 100_000)

	resp, err := authedRequest("POST", testSrv.URL+"/v1/agents", token,
		model.CreateAgentRequest{Name: "Sea Writer", Type: model.AgentWriter, Prompt: "Maritime minimalism."})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var agent model.Agent
	decodeData(t, resp, &agent)
	_ = resp.Body.Close()

	var exec model.ExecutionResponse
	t.Run("run settles and produces a text", func(t *testing.T) {
		resp, err := authedRequest("POST", testSrv.URL+"/v1/agents/execute/writer", token,
			model.ExecuteWriterRequest{AgentID: agent.ID, Model: "stub-small"})
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		decodeData(t, resp, &exec)
		assert.Equal(t, model.ExecutionCompleted, exec.Status)
		assert.Greater(t, exec.CreditsUsed, int64(0))
		require.NotNil(t, exec.ResultID)
	})

	t.Run("generated text lands in the library", func(t *testing.T) {
		resp, err := authedRequest("GET", testSrv.URL+"/v1/texts", token, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var texts []model.Text
		decodeList(t, resp, &texts)
		require.Len(t, texts, 1)
		assert.Equal(t, "The Lighthouse", texts[0].Title)
		assert.Contains(t, texts[0].Author, "via AI Agent")
	})

	t.Run("charge lands in the ledger", func(t *testing.T) {
		resp, err := authedRequest("GET", testSrv.URL+"/v1/credits/balance", token, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		var balance model.BalanceResponse
		decodeData(t, resp, &balance)
		assert.Equal(t, 100_000-exec.CreditsUsed, balance.Credits)
	})

	t.Run("execution history", func(t *testing.T) {
		resp, err := authedRequest("GET", testSrv.URL+"/v1/executions", token, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var execs []model.ExecutionResponse
		decodeList(t, resp, &execs)
		require.Len(t, execs, 1)
		assert.Equal(t, exec.ID, execs[0].ID)

		resp2, err := authedRequest("GET", testSrv.URL+"/v1/executions/"+exec.ID.String(), token, nil)
		require.NoError(t, err)
		defer func() { _ = resp2.Body.Close() }()
		assert.Equal(t, http.StatusOK, resp2.StatusCode)
	})

	t.Run("executions are unenumerable to others", func(t *testing.T) {
		otherToken, _ := signup(t, "exec-other")
		resp, err := authedRequest("GET", testSrv.URL+"/v1/executions/"+exec.ID.String(), otherToken, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("empty balance blocks the run", func(t *testing.T) {
		brokeToken, _ := signup(t, "exec-broke")
		resp, err := authedRequest("POST", testSrv.URL+"/v1/agents", brokeToken,
			model.CreateAgentRequest{Name: "Broke Writer", Type: model.AgentWriter, Prompt: "x"})
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var brokeAgent model.Agent
		decodeData(t, resp, &brokeAgent)
		_ = resp.Body.Close()

		resp2, err := authedRequest("POST", testSrv.URL+"/v1/agents/execute/writer", brokeToken,
			model.ExecuteWriterRequest{AgentID: brokeAgent.ID, Model: "stub-small"})
		require.NoError(t, err)
		defer func() { _ = resp2.Body.Close() }()
		assert.Equal(t, http.StatusPaymentRequired, resp2.StatusCode)
		assert.Equal(t, model.KindInsufficientCredits, errorKind(t, resp2))
	})
}

func TestEstimateEndpoint(t *testing.T) {
	token, _ := signup(t, "estimate")

	resp, err := authedRequest("POST", testSrv.URL+"/v1/agents/estimate", token,
		model.EstimateRequest{Model: "stub-small", Text: "Write about a lighthouse keeper."})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var estimate model.EstimateResponse
	decodeData(t, resp, &estimate)
	assert.Greater(t, estimate.Credits, int64(0))
	assert.Greater(t, estimate.USD, 0.0)

	t.Run("unknown model rejected", func(t *testing.T) {
		resp, err := authedRequest("POST", testSrv.URL+"/v1/agents/estimate", token,
			model.EstimateRequest{Model: "gpt-imaginary", Text: "anything"})
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

// TestAIJudgeExecution exercises the judge path over HTTP: assign an
// agent seat, evaluate, and check the model-scoped votes it casts.
func TestAIJudgeExecution(t *testing.T) {
	creatorToken, creator := signup(t, "ai-creator")
	authorToken, _ := signup(t, "ai-author")
	grantCredits(t, creator.ID, 100_000)

	contest := createContest(t, creatorToken, model.CreateContestRequest{
		Title:            "Machine Panel",
		Description:      "One seat goes to a model.",
		MinVotesRequired: 2,
	})
	contestURL := testSrv.URL + "/v1/contests/" + contest.ID.String()

	textA := createText(t, authorToken, "Driftwood", "The tide returned what the storm had taken, piece by piece.")
	textB := createText(t, creatorToken, "Salt Air", "Nobody remembered who first hung the bell above the door.")
	submitText(t, authorToken, contest.ID, textA.ID)
	submitText(t, creatorToken, contest.ID, textB.ID)

	resp, err := authedRequest("POST", testSrv.URL+"/v1/agents", creatorToken,
		model.CreateAgentRequest{Name: "Cold Reader", Type: model.AgentJudge, Prompt: "Value restraint over flourish."})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var judgeAgent model.Agent
	decodeData(t, resp, &judgeAgent)
	_ = resp.Body.Close()

	t.Run("writer agent cannot take a judge seat", func(t *testing.T) {
		resp, err := authedRequest("POST", testSrv.URL+"/v1/agents", creatorToken,
			model.CreateAgentRequest{Name: "Not A Judge", Type: model.AgentWriter, Prompt: "x"})
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var writerAgent model.Agent
		decodeData(t, resp, &writerAgent)
		_ = resp.Body.Close()

		resp2, err := authedRequest("POST", contestURL+"/judges", creatorToken,
			model.AssignJudgeRequest{AgentID: &writerAgent.ID})
		require.NoError(t, err)
		defer func() { _ = resp2.Body.Close() }()
		assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
	})

	resp, err = authedRequest("POST", contestURL+"/judges", creatorToken,
		model.AssignJudgeRequest{AgentID: &judgeAgent.ID})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()

	st := model.ContestEvaluation
	resp, err = authedRequest("PATCH", contestURL, creatorToken,
		model.UpdateContestRequest{Status: &st})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	t.Run("judge run settles one execution per model", func(t *testing.T) {
		resp, err := authedRequest("POST", testSrv.URL+"/v1/agents/execute/judge", creatorToken,
			model.ExecuteJudgeRequest{AgentID: judgeAgent.ID, ContestID: contest.ID, Models: []string{"stub-small"}})
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var execs []model.ExecutionResponse
		decodeData(t, resp, &execs)
		require.Len(t, execs, 1)
		assert.Equal(t, model.ExecutionCompleted, execs[0].Status)
		assert.Greater(t, execs[0].CreditsUsed, int64(0))
	})

	t.Run("AI votes recorded with model attribution", func(t *testing.T) {
		resp, err := authedRequest("GET", contestURL+"/votes", creatorToken, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var votes []model.Vote
		decodeData(t, resp, &votes)
		require.Len(t, votes, 2)
		for _, v := range votes {
			assert.True(t, v.IsAI)
			require.NotNil(t, v.Model)
			assert.Equal(t, "stub-small", *v.Model)
			assert.NotEmpty(t, v.Comment)
		}
	})

	t.Run("one AI session does not reach the threshold of two", func(t *testing.T) {
		resp, err := authedRequest("GET", contestURL, creatorToken, nil)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		var got model.Contest
		decodeData(t, resp, &got)
		assert.Equal(t, model.ContestEvaluation, got.Status)
	})
}

// newMCPClient connects an MCP client to the test server's /mcp endpoint
// with the given bearer token.
func newMCPClient(t *testing.T, token string) *mcpclient.Client {
	t.Helper()
	c, err := mcpclient.NewStreamableHttpClient(
		testSrv.URL+"/mcp",
		mcptransport.WithHTTPHeaders(map[string]string{
			"Authorization": "Bearer " + token,
		}),
	)
	require.NoError(t, err)
	return c
}

func initMCP(t *testing.T, c *mcpclient.Client) *mcplib.InitializeResult {
	t.Helper()
	result, err := c.Initialize(context.Background(), mcplib.InitializeRequest{
		Params: mcplib.InitializeParams{
			ClientInfo: mcplib.Implementation{Name: "test-client", Version: "1.0"},
		},
	})
	require.NoError(t, err)
	return result
}

func TestMCPUnauthenticated(t *testing.T) {
	resp, err := http.Post(testSrv.URL+"/mcp", "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMCPInitializeAndList(t *testing.T) {
	token, _ := signup(t, "mcp-init")
	c := newMCPClient(t, token)
	defer func() { _ = c.Close() }()

	initResult := initMCP(t, c)
	assert.Equal(t, "plume", initResult.ServerInfo.Name)
	assert.Equal(t, "test", initResult.ServerInfo.Version)

	toolsResult, err := c.ListTools(context.Background(), mcplib.ListToolsRequest{})
	require.NoError(t, err)
	assert.Len(t, toolsResult.Tools, 5)

	toolNames := make(map[string]bool)
	for _, tool := range toolsResult.Tools {
		toolNames[tool.Name] = true
	}
	for _, want := range []string{
		"plume_execute_writer",
		"plume_execute_judge",
		"plume_estimate_cost",
		"plume_list_contests",
		"plume_credit_balance",
	} {
		assert.True(t, toolNames[want], "expected %s tool", want)
	}

	resourcesResult, err := c.ListResources(context.Background(), mcplib.ListResourcesRequest{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(resourcesResult.Resources), 2)
}

func TestMCPToolCalls(t *testing.T) {
	token, user := signup(t, "mcp-tools")
	grantCredits(t, user.ID, 777)

	c := newMCPClient(t, token)
	defer func() { _ = c.Close() }()
	initMCP(t, c)

	ctx := context.Background()

	t.Run("credit balance", func(t *testing.T) {
		result, err := c.CallTool(ctx, mcplib.CallToolRequest{
			Params: mcplib.CallToolParams{Name: "plume_credit_balance"},
		})
		require.NoError(t, err)
		require.False(t, result.IsError, "balance tool returned error: %v", result.Content)

		var balance model.BalanceResponse
		for _, content := range result.Content {
			if tc, ok := content.(mcplib.TextContent); ok {
				require.NoError(t, json.Unmarshal([]byte(tc.Text), &balance))
				break
			}
		}
		assert.Equal(t, int64(777), balance.Credits)
	})

	t.Run("list contests", func(t *testing.T) {
		result, err := c.CallTool(ctx, mcplib.CallToolRequest{
			Params: mcplib.CallToolParams{
				Name:      "plume_list_contests",
				Arguments: map[string]any{"status": "open"},
			},
		})
		require.NoError(t, err)
		assert.False(t, result.IsError, "list tool returned error: %v", result.Content)
	})

	t.Run("estimate cost", func(t *testing.T) {
		result, err := c.CallTool(ctx, mcplib.CallToolRequest{
			Params: mcplib.CallToolParams{
				Name: "plume_estimate_cost",
				Arguments: map[string]any{
					"model": "stub-small",
					"text":  "Write about a lighthouse keeper.",
				},
			},
		})
		require.NoError(t, err)
		require.False(t, result.IsError, "estimate tool returned error: %v", result.Content)

		var estimate model.EstimateResponse
		for _, content := range result.Content {
			if tc, ok := content.(mcplib.TextContent); ok {
				require.NoError(t, json.Unmarshal([]byte(tc.Text), &estimate))
				break
			}
		}
		assert.Greater(t, estimate.Credits, int64(0))
	})
}

func ptrBool(v bool) *bool { return &v }
