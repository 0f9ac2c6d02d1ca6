package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/plumelit/plume/internal/ctxutil"
	"github.com/plumelit/plume/internal/model"
)

func (s *Server) registerTools() {
	// plume_execute_writer — run a writer agent and submit the result.
	s.mcpServer.AddTool(
		mcplib.NewTool("plume_execute_writer",
			mcplib.WithDescription(`Run a writer agent to produce a literary text. The finished text is
saved to your library and the LLM cost is settled against your credits.

WHEN TO USE: When you want the platform to generate a story, poem, or
essay through one of your writer agents (or a public one). Check the
cost first with plume_estimate_cost if your balance is tight.

WHAT YOU GET BACK:
- execution: settlement record (status, credits_used, tokens)
- text: the generated text with its assigned title

The agent's system prompt shapes the output; title and description
steer the individual piece. Pass contest_description when writing for
a specific contest so the agent can aim at the brief.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("agent_id",
				mcplib.Description("UUID of the writer agent to run"),
				mcplib.Required(),
			),
			mcplib.WithString("model",
				mcplib.Description("Model ID from the catalog (see plume://models)"),
				mcplib.Required(),
			),
			mcplib.WithString("title",
				mcplib.Description("Optional title to write under. If omitted, the agent invents one."),
			),
			mcplib.WithString("description",
				mcplib.Description("Optional brief for this piece — theme, form, constraints"),
			),
			mcplib.WithString("contest_description",
				mcplib.Description("Optional contest brief the text should answer to"),
			),
			mcplib.WithNumber("variants",
				mcplib.Description("Number of drafts to generate; the agent keeps the best one"),
				mcplib.Min(1),
				mcplib.Max(5),
				mcplib.DefaultNumber(1),
			),
			mcplib.WithBoolean("force",
				mcplib.Description("Skip the pre-flight balance check and allow overdraft"),
			),
		),
		s.handleExecuteWriter,
	)

	// plume_execute_judge — run a judge agent over a contest.
	s.mcpServer.AddTool(
		mcplib.NewTool("plume_execute_judge",
			mcplib.WithDescription(`Run a judge agent over a contest in evaluation. The agent reads every
submission, ranks its top three, and casts votes on its assigned seat.
Each model runs a separate session and is billed separately.

WHEN TO USE: After the contest has moved to evaluation and the agent
holds a judge seat on it. Re-running with the same model replaces that
model's previous votes; other models' votes are untouched.

WHAT YOU GET BACK:
- executions: one settlement record per model (status, credits_used)

Requires: the agent is assigned as a judge on the contest, and you own
the agent (or are an admin).`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("agent_id",
				mcplib.Description("UUID of the judge agent to run"),
				mcplib.Required(),
			),
			mcplib.WithString("contest_id",
				mcplib.Description("UUID of the contest to judge"),
				mcplib.Required(),
			),
			mcplib.WithString("models",
				mcplib.Description("Comma-separated model IDs, one judging session each (e.g. \"gpt-4o,claude-sonnet-4-5\")"),
				mcplib.Required(),
			),
			mcplib.WithBoolean("force",
				mcplib.Description("Skip the pre-flight balance check and allow overdraft"),
			),
		),
		s.handleExecuteJudge,
	)

	// plume_estimate_cost — dry-run pricing without spending credits.
	s.mcpServer.AddTool(
		mcplib.NewTool("plume_estimate_cost",
			mcplib.WithDescription(`Estimate what a generation would cost in credits, without running it.

WHEN TO USE: Before plume_execute_writer or plume_execute_judge when
you want to know the worst-case charge. The estimate prices the given
prompt text plus the full completion budget, so the real charge is
usually lower.

EXAMPLE: model="gpt-4o", text=<the prompt you intend to send>,
max_tokens=2000 returns the token counts, credit cost, and USD cost.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("model",
				mcplib.Description("Model ID from the catalog"),
				mcplib.Required(),
			),
			mcplib.WithString("text",
				mcplib.Description("The prompt text to price"),
				mcplib.Required(),
			),
			mcplib.WithNumber("max_tokens",
				mcplib.Description("Completion budget to price; defaults to the server's configured budget"),
				mcplib.Min(1),
			),
		),
		s.handleEstimateCost,
	)

	// plume_list_contests — browse contests visible to the caller.
	s.mcpServer.AddTool(
		mcplib.NewTool("plume_list_contests",
			mcplib.WithDescription(`List contests visible to you: publicly listed ones plus any you created.

WHEN TO USE: To find contests to enter with a writer agent, or contests
in evaluation that one of your judge agents sits on. Filter by status
to narrow the phase you care about.

STATUS VALUES:
- open: accepting submissions
- evaluation: judging in progress, submissions frozen
- closed: results final`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("status",
				mcplib.Description("Optional phase filter: open, evaluation, or closed"),
			),
		),
		s.handleListContests,
	)

	// plume_credit_balance — check remaining credits.
	s.mcpServer.AddTool(
		mcplib.NewTool("plume_credit_balance",
			mcplib.WithDescription(`Check your current credit balance.

WHEN TO USE: Before queuing expensive executions, or after a run to see
what it actually cost. Executions fail with insufficient_credits when
the pre-flight estimate exceeds this balance (unless forced).`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("user_id",
				mcplib.Description("Optional user UUID to inspect (admins only); defaults to yourself"),
			),
		),
		s.handleCreditBalance,
	)
}

func (s *Server) handleExecuteWriter(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	p, ok := ctxutil.PrincipalFromContext(ctx)
	if !ok {
		return errorResult("authentication required"), nil
	}

	agentID, err := uuid.Parse(request.GetString("agent_id", ""))
	if err != nil {
		return errorResult("agent_id must be a valid UUID"), nil
	}
	modelID := request.GetString("model", "")
	if modelID == "" {
		return errorResult("model is required"), nil
	}

	req := model.ExecuteWriterRequest{
		AgentID:  agentID,
		Model:    modelID,
		Variants: request.GetInt("variants", 1),
		Force:    request.GetBool("force", false),
	}
	if title := request.GetString("title", ""); title != "" {
		req.Title = &title
	}
	if desc := request.GetString("description", ""); desc != "" {
		req.Description = &desc
	}
	if brief := request.GetString("contest_description", ""); brief != "" {
		req.ContestDescription = &brief
	}

	exec, text, err := s.executionSvc.ExecuteWriter(ctx, p, req)
	if err != nil {
		return errorResult(fmt.Sprintf("writer execution failed: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"execution": model.ExecutionResponseFrom(exec),
		"text":      text,
	}), nil
}

func (s *Server) handleExecuteJudge(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	p, ok := ctxutil.PrincipalFromContext(ctx)
	if !ok {
		return errorResult("authentication required"), nil
	}

	agentID, err := uuid.Parse(request.GetString("agent_id", ""))
	if err != nil {
		return errorResult("agent_id must be a valid UUID"), nil
	}
	contestID, err := uuid.Parse(request.GetString("contest_id", ""))
	if err != nil {
		return errorResult("contest_id must be a valid UUID"), nil
	}

	var models []string
	for _, m := range strings.Split(request.GetString("models", ""), ",") {
		if m = strings.TrimSpace(m); m != "" {
			models = append(models, m)
		}
	}
	if len(models) == 0 {
		return errorResult("models is required (comma-separated model IDs)"), nil
	}

	execs, err := s.executionSvc.ExecuteJudge(ctx, p, model.ExecuteJudgeRequest{
		AgentID:   agentID,
		ContestID: contestID,
		Models:    models,
		Force:     request.GetBool("force", false),
	})
	if err != nil {
		return errorResult(fmt.Sprintf("judge execution failed: %v", err)), nil
	}

	responses := make([]model.ExecutionResponse, len(execs))
	for i, e := range execs {
		responses[i] = model.ExecutionResponseFrom(e)
	}
	return jsonResult(map[string]any{"executions": responses}), nil
}

func (s *Server) handleEstimateCost(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if _, ok := ctxutil.PrincipalFromContext(ctx); !ok {
		return errorResult("authentication required"), nil
	}

	modelID := request.GetString("model", "")
	text := request.GetString("text", "")
	if modelID == "" || text == "" {
		return errorResult("model and text are required"), nil
	}

	estimate, err := s.executionSvc.EstimateCost(ctx, model.EstimateRequest{
		Model:     modelID,
		Text:      text,
		MaxTokens: request.GetInt("max_tokens", 0),
	})
	if err != nil {
		return errorResult(fmt.Sprintf("estimate failed: %v", err)), nil
	}
	return jsonResult(estimate), nil
}

func (s *Server) handleListContests(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	p, ok := ctxutil.PrincipalFromContext(ctx)
	if !ok {
		return errorResult("authentication required"), nil
	}

	var status *model.ContestStatus
	if raw := request.GetString("status", ""); raw != "" {
		st := model.ContestStatus(raw)
		if !st.Valid() {
			return errorResult(fmt.Sprintf("unknown status %q (want open, evaluation, or closed)", raw)), nil
		}
		status = &st
	}

	contests, err := s.db.ListContests(ctx, p.UserID, p.IsAdmin, status)
	if err != nil {
		return errorResult(fmt.Sprintf("list contests failed: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"contests": contests,
		"total":    len(contests),
	}), nil
}

func (s *Server) handleCreditBalance(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	p, ok := ctxutil.PrincipalFromContext(ctx)
	if !ok {
		return errorResult("authentication required"), nil
	}

	target := p.UserID
	if raw := request.GetString("user_id", ""); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return errorResult("user_id must be a valid UUID"), nil
		}
		target = id
	}

	balance, err := s.creditsSvc.Balance(ctx, p, target)
	if err != nil {
		return errorResult(fmt.Sprintf("balance lookup failed: %v", err)), nil
	}
	return jsonResult(balance), nil
}
