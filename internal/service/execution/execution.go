// Package execution coordinates agent executions end to end: permission
// and pre-flight credit checks, the provider call through a strategy,
// and credit settlement with compensation when a persist step fails
// after the deduction. Both the HTTP API and MCP server delegate to
// this service.
//
// The money flow is deliberately asymmetric around the provider call:
// nothing is charged until observed token counts exist, and once a
// deduction lands every later failure produces a compensating refund
// rather than a ledger edit.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/plumelit/plume/internal/authz"
	"github.com/plumelit/plume/internal/catalog"
	"github.com/plumelit/plume/internal/model"
	"github.com/plumelit/plume/internal/service/judging"
	"github.com/plumelit/plume/internal/storage"
	"github.com/plumelit/plume/internal/strategy"
	"github.com/plumelit/plume/internal/telemetry"
	"github.com/plumelit/plume/internal/tokenizer"
)

// ExecutionHook receives execution lifecycle events within the service
// layer. Methods are called asynchronously after the terminal transition
// commits. Implementations must not block indefinitely; failures are
// logged and do not fail the originating request.
type ExecutionHook interface {
	OnExecutionFinished(ctx context.Context, exec model.AgentExecution) error
}

// Service is the settlement coordinator.
type Service struct {
	db        *storage.DB
	catalog   *catalog.Catalog
	estimator *tokenizer.Estimator
	writer    *strategy.Writer
	judge     *strategy.Judge
	judging   *judging.Service
	logger    *slog.Logger
	hooks     []ExecutionHook

	llmDuration     metric.Float64Histogram
	creditsConsumed metric.Int64Counter
}

// New creates the execution Service. hooks may be nil.
func New(
	db *storage.DB,
	cat *catalog.Catalog,
	estimator *tokenizer.Estimator,
	writer *strategy.Writer,
	judge *strategy.Judge,
	judgingSvc *judging.Service,
	logger *slog.Logger,
	hooks []ExecutionHook,
) *Service {
	meter := telemetry.Meter("plume/execution")
	llmDur, _ := meter.Float64Histogram("plume.llm.duration",
		metric.WithDescription("Wall time of LLM provider calls (ms)"),
		metric.WithUnit("ms"),
	)
	consumed, _ := meter.Int64Counter("plume.credits.consumed",
		metric.WithDescription("Credits settled against user balances"),
		metric.WithUnit("{credit}"),
	)
	return &Service{
		db:              db,
		catalog:         cat,
		estimator:       estimator,
		writer:          writer,
		judge:           judge,
		judging:         judgingSvc,
		logger:          logger,
		hooks:           hooks,
		llmDuration:     llmDur,
		creditsConsumed: consumed,
	}
}

// ExecuteWriter runs a writer agent and settles the result. The caller
// pays; force skips the pre-flight balance check and lets the settlement
// overdraft. On a failure after the deduction the returned execution is
// the failed row and the deduction has been compensated with a refund.
func (s *Service) ExecuteWriter(ctx context.Context, p authz.Principal, req model.ExecuteWriterRequest) (model.AgentExecution, *model.Text, error) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("plume.agent_id", req.AgentID.String()),
		attribute.String("plume.model", req.Model),
	)

	// 1. Resolve the agent and check permission.
	agent, err := s.db.GetAgent(ctx, req.AgentID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.AgentExecution{}, nil, model.E(model.KindNotFound, "agent %s not found", req.AgentID)
	}
	if err != nil {
		return model.AgentExecution{}, nil, err
	}
	if agent.Type != model.AgentWriter {
		return model.AgentExecution{}, nil, model.E(model.KindInvalidInput, "agent %q is a %s, not a writer", agent.Name, agent.Type)
	}
	if err := authz.ExecuteAgent(p, agent); err != nil {
		return model.AgentExecution{}, nil, err
	}

	// 2. Price the worst case: every variant spends the full prompt and
	// completion budget.
	entry, err := s.catalog.LookupAvailable(req.Model)
	if err != nil {
		return model.AgentExecution{}, nil, err
	}
	variants := strategy.ClampVariants(req.Variants)
	in := strategy.WriterInput{
		Provider:           entry.Provider,
		Model:              entry.ID,
		Personality:        agent.Prompt,
		Title:              deref(req.Title),
		Requirements:       deref(req.Description),
		ContestDescription: deref(req.ContestDescription),
		Variants:           variants,
	}
	promptTokens := int64(s.estimator.Estimate(s.writer.Prompt(in)))
	estimated, _ := entry.Cost(promptTokens*int64(variants), s.writer.MaxTokens()*int64(variants))

	// 3. Pre-flight balance check, before any execution row exists.
	if !req.Force {
		ok, err := s.db.HasCredits(ctx, p.UserID, estimated)
		if err != nil {
			return model.AgentExecution{}, nil, err
		}
		if !ok {
			return model.AgentExecution{}, nil, model.E(model.KindInsufficientCredits,
				"estimated cost of %d credits exceeds the available balance", estimated)
		}
	}

	// 4. Record the running execution.
	exec, err := s.db.CreateExecution(ctx, model.AgentExecution{
		AgentID: &agent.ID,
		OwnerID: &p.UserID,
		Type:    model.AgentWriter,
		Model:   entry.ID,
	})
	if err != nil {
		return model.AgentExecution{}, nil, err
	}

	// 5. Generate.
	start := time.Now()
	res, err := s.writer.Generate(ctx, in)
	s.llmDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		s.fail(ctx, &exec, err.Error(), 0)
		return exec, nil, err
	}

	// 6+7. Price the observed tokens and settle. A balance that ran
	// below the estimate since the pre-check surfaces here.
	credits, usd := entry.Cost(res.PromptTokens, res.CompletionTokens)
	modelID := entry.ID
	tokens := res.PromptTokens + res.CompletionTokens
	_, balance, err := s.db.Deduct(ctx, storage.DeductArgs{
		UserID:         p.UserID,
		Credits:        credits,
		Description:    "AI Writer: " + agent.Name,
		Model:          &modelID,
		Tokens:         &tokens,
		RealCostUSD:    &usd,
		ExecutionID:    &exec.ID,
		AllowOverdraft: req.Force,
	})
	if err != nil {
		s.fail(ctx, &exec, err.Error(), 0)
		if errors.Is(err, storage.ErrInsufficientCredits) {
			return exec, nil, model.Wrap(model.KindInsufficientCredits,
				fmt.Sprintf("actual cost of %d credits exceeds the available balance", credits), err)
		}
		return exec, nil, err
	}
	s.creditsConsumed.Add(ctx, credits)

	// 8. Persist the artifact.
	text, err := s.db.CreateText(ctx, model.Text{
		OwnerID: p.UserID,
		Title:   res.Title,
		Content: res.Content,
		Author:  model.FormatAIAuthor(p.Username, agent.Name, entry.ID),
	})
	if err != nil {
		return s.compensate(ctx, exec, p.UserID, credits, "Refund: failed writer", err), nil, model.Wrap(model.KindInternal,
			"generation settled but the text could not be persisted", err)
	}

	// 9. Terminal transition.
	parseFallback := res.FallbackLevel > 1
	if err := s.db.CompleteExecution(ctx, exec.ID, &text.ID, credits, parseFallback); err != nil {
		return s.compensate(ctx, exec, p.UserID, credits, "Refund: failed writer", err), nil, model.Wrap(model.KindInternal,
			"generation settled but the execution could not be completed", err)
	}

	exec.Status = model.ExecutionCompleted
	exec.ResultID = &text.ID
	exec.CreditsUsed = credits
	exec.ParseFallback = parseFallback
	exec.UpdatedAt = time.Now().UTC()
	s.notify(exec)

	s.logger.Info("writer execution settled",
		"execution_id", exec.ID,
		"agent_id", agent.ID,
		"model", entry.ID,
		"credits", credits,
		"balance", balance,
		"fallback_level", res.FallbackLevel,
		"variants", variants)
	return exec, &text, nil
}

// ExecuteJudge runs an AI judge over a contest, one session per model.
// Request-level validation fails the whole call before any execution row
// exists; after that each model settles independently and a failed model
// is reported through its own failed execution row.
func (s *Service) ExecuteJudge(ctx context.Context, p authz.Principal, req model.ExecuteJudgeRequest) ([]model.AgentExecution, error) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("plume.agent_id", req.AgentID.String()),
		attribute.String("plume.contest_id", req.ContestID.String()),
	)

	if len(req.Models) == 0 {
		return nil, model.E(model.KindInvalidInput, "models list must not be empty")
	}
	seen := make(map[string]bool, len(req.Models))
	for _, id := range req.Models {
		if seen[id] {
			return nil, model.E(model.KindInvalidInput, "duplicate model %q", id)
		}
		seen[id] = true
	}

	// 1. Contest exists and is accepting votes.
	contest, err := s.db.GetContest(ctx, req.ContestID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, model.E(model.KindNotFound, "contest %s not found", req.ContestID)
	}
	if err != nil {
		return nil, err
	}
	if contest.Status != model.ContestEvaluation {
		return nil, model.E(model.KindInvalidState, "contest %s is not in evaluation", contest.ID)
	}

	// 2. The agent holds a judge seat in this contest.
	agent, err := s.db.GetAgent(ctx, req.AgentID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, model.E(model.KindNotFound, "agent %s not found", req.AgentID)
	}
	if err != nil {
		return nil, err
	}
	if agent.Type != model.AgentJudge {
		return nil, model.E(model.KindInvalidInput, "agent %q is a %s, not a judge", agent.Name, agent.Type)
	}
	seat, err := s.db.GetContestJudgeByAgent(ctx, contest.ID, agent.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, model.E(model.KindForbidden, "agent %q holds no judge seat in this contest", agent.Name)
	}
	if err != nil {
		return nil, err
	}

	// 3. Permission and pricing pre-check over the whole request.
	if err := authz.ExecuteAgent(p, agent); err != nil {
		return nil, err
	}
	entries, err := s.db.ListContestEntries(ctx, contest.ID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, model.E(model.KindInvalidState, "contest %s has no submissions to judge", contest.ID)
	}

	judgeEntries := make([]strategy.JudgeEntry, len(entries))
	for i, e := range entries {
		judgeEntries[i] = strategy.JudgeEntry{TextID: e.TextID, Title: e.Title, Content: e.Content}
	}
	base := strategy.JudgeInput{
		Personality:        agent.Prompt,
		ContestDescription: contest.Description,
		Entries:            judgeEntries,
	}

	catEntries := make([]catalog.Model, len(req.Models))
	for i, id := range req.Models {
		if catEntries[i], err = s.catalog.LookupAvailable(id); err != nil {
			return nil, err
		}
	}
	if !req.Force {
		promptTokens := int64(s.estimator.Estimate(s.judge.Prompt(base)))
		var estimated int64
		for _, entry := range catEntries {
			cost, _ := entry.Cost(promptTokens, s.judge.MaxTokens())
			estimated += cost
		}
		ok, err := s.db.HasCredits(ctx, p.UserID, estimated)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, model.E(model.KindInsufficientCredits,
				"estimated cost of %d credits across %d model(s) exceeds the available balance", estimated, len(catEntries))
		}
	}

	// Sessions run sequentially; the first one to meet the vote
	// threshold closes the contest and the rest are skipped.
	out := make([]model.AgentExecution, 0, len(catEntries))
	for i, entry := range catEntries {
		if i > 0 {
			contest, err = s.db.GetContest(ctx, req.ContestID)
			if err != nil {
				return out, err
			}
			if contest.Status != model.ContestEvaluation {
				s.logger.Info("contest closed mid-run, skipping remaining models",
					"contest_id", contest.ID, "skipped", len(catEntries)-i)
				break
			}
		}
		exec, err := s.judgeOnce(ctx, p, contest, agent, seat, entry, base, req.Force)
		if err != nil {
			return out, err
		}
		out = append(out, exec)
	}
	return out, nil
}

// judgeOnce runs one model's session: execution row, provider call,
// replace-all vote write, settlement. Provider and vote failures land in
// the returned row; the error return is reserved for storage failures
// that should abort the remaining models.
func (s *Service) judgeOnce(
	ctx context.Context,
	p authz.Principal,
	contest model.Contest,
	agent model.Agent,
	seat model.ContestJudge,
	entry catalog.Model,
	base strategy.JudgeInput,
	force bool,
) (model.AgentExecution, error) {
	exec, err := s.db.CreateExecution(ctx, model.AgentExecution{
		AgentID: &agent.ID,
		OwnerID: &p.UserID,
		Type:    model.AgentJudge,
		Model:   entry.ID,
	})
	if err != nil {
		return model.AgentExecution{}, err
	}

	in := base
	in.Provider = entry.Provider
	in.Model = entry.ID

	start := time.Now()
	res, err := s.judge.Evaluate(ctx, in)
	s.llmDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		s.fail(ctx, &exec, err.Error(), 0)
		return exec, nil
	}

	votes := make([]model.VoteCreate, len(res.Votes))
	for i, v := range res.Votes {
		votes[i] = model.VoteCreate{TextID: v.TextID, TextPlace: v.Place, Comment: v.Comment}
	}
	votes, adjusted := sanitizeAIVotes(votes, len(base.Entries))
	if adjusted > 0 {
		s.logger.Warn("judge output needed vote sanitizing",
			"execution_id", exec.ID, "model", entry.ID, "adjusted", adjusted)
	}
	session, err := s.judging.SubmitAIVotes(ctx, contest, seat, entry.ID, exec.ID, votes)
	if err != nil {
		s.fail(ctx, &exec, err.Error(), 0)
		return exec, nil
	}

	// Settle after the votes are in.
	credits, usd := entry.Cost(res.PromptTokens, res.CompletionTokens)
	modelID := entry.ID
	tokens := res.PromptTokens + res.CompletionTokens
	if _, _, err := s.db.Deduct(ctx, storage.DeductArgs{
		UserID:         p.UserID,
		Credits:        credits,
		Description:    "AI Judge: " + agent.Name,
		Model:          &modelID,
		Tokens:         &tokens,
		RealCostUSD:    &usd,
		ExecutionID:    &exec.ID,
		AllowOverdraft: force,
	}); err != nil {
		// The vote set stands; only the charge failed.
		s.fail(ctx, &exec, err.Error(), 0)
		return exec, nil
	}
	s.creditsConsumed.Add(ctx, credits)

	if err := s.db.CompleteExecution(ctx, exec.ID, nil, credits, !res.ParsingSuccess); err != nil {
		return s.compensate(ctx, exec, p.UserID, credits, "Refund: failed judge", err), nil
	}

	exec.Status = model.ExecutionCompleted
	exec.CreditsUsed = credits
	exec.ParseFallback = !res.ParsingSuccess
	exec.UpdatedAt = time.Now().UTC()
	s.notify(exec)

	s.logger.Info("judge execution settled",
		"execution_id", exec.ID,
		"contest_id", contest.ID,
		"model", entry.ID,
		"credits", credits,
		"votes", len(session.Votes),
		"has_voted", session.HasVoted,
		"contest_closed", session.ContestClosed)
	return exec, nil
}

// EstimateCost prices a hypothetical call without touching the ledger.
func (s *Service) EstimateCost(ctx context.Context, req model.EstimateRequest) (model.EstimateResponse, error) {
	entry, err := s.catalog.LookupAvailable(req.Model)
	if err != nil {
		return model.EstimateResponse{}, err
	}
	promptTokens := s.estimator.Estimate(req.Text)
	completion := int64(req.MaxTokens)
	if completion <= 0 {
		completion = s.writer.MaxTokens()
	}
	credits, usd := entry.Cost(int64(promptTokens), completion)
	return model.EstimateResponse{
		Model:            entry.ID,
		PromptTokens:     promptTokens,
		CompletionTokens: int(completion),
		Credits:          credits,
		USD:              usd,
	}, nil
}

// GetExecution returns one execution. Non-owners get not-found so
// private execution history stays unenumerable.
func (s *Service) GetExecution(ctx context.Context, p authz.Principal, id uuid.UUID) (model.AgentExecution, error) {
	exec, err := s.db.GetExecution(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return model.AgentExecution{}, model.E(model.KindNotFound, "execution %s not found", id)
	}
	if err != nil {
		return model.AgentExecution{}, err
	}
	if !p.IsAdmin && (exec.OwnerID == nil || *exec.OwnerID != p.UserID) {
		return model.AgentExecution{}, model.E(model.KindNotFound, "execution %s not found", id)
	}
	return exec, nil
}

// ListExecutions returns the caller's executions, newest first. Admins
// may pass all=true to see every user's.
func (s *Service) ListExecutions(ctx context.Context, p authz.Principal, all bool, limit, offset int) ([]model.AgentExecution, error) {
	owner := &p.UserID
	if all {
		if err := authz.AdminOnly(p); err != nil {
			return nil, err
		}
		owner = nil
	}
	return s.db.ListExecutions(ctx, owner, limit, offset)
}

// fail marks the execution failed and fires hooks. A failure to persist
// the transition is logged and left for the watchdog.
func (s *Service) fail(ctx context.Context, exec *model.AgentExecution, msg string, creditsUsed int64) {
	if err := s.db.FailExecution(ctx, exec.ID, msg, creditsUsed); err != nil {
		s.logger.Error("could not mark execution failed, watchdog will expire it",
			"execution_id", exec.ID, "error", err)
		return
	}
	exec.Status = model.ExecutionFailed
	exec.ErrorMessage = &msg
	exec.CreditsUsed = creditsUsed
	exec.UpdatedAt = time.Now().UTC()
	s.notify(*exec)
}

// compensate unwinds a settled deduction after a post-settlement persist
// failure. The failed execution keeps its real credits_used so the row
// and the ledger agree on what was charged and refunded. If the refund
// itself fails the inconsistency is logged; the ledger remains the
// source of truth and the watchdog cannot help here because the
// execution is moved to failed either way.
func (s *Service) compensate(ctx context.Context, exec model.AgentExecution, userID uuid.UUID, credits int64, reason string, cause error) model.AgentExecution {
	if errors.Is(cause, storage.ErrNotFound) {
		// The row reached a terminal state through another path (watchdog
		// expiry); that path owns any refund.
		s.logger.Warn("execution already terminal, skipping compensation", "execution_id", exec.ID)
		if row, err := s.db.GetExecution(ctx, exec.ID); err == nil {
			return row
		}
		return exec
	}
	if _, _, err := s.db.Credit(ctx, storage.CreditArgs{
		UserID:      userID,
		Amount:      credits,
		Kind:        model.TxRefund,
		Description: reason,
		ExecutionID: &exec.ID,
	}); err != nil {
		s.logger.Error("compensating refund failed, consumption stands unreimbursed",
			"execution_id", exec.ID,
			"user_id", userID,
			"credits", credits,
			"error", err)
	}
	s.fail(ctx, &exec, cause.Error(), credits)
	return exec
}

// notify fires execution hooks asynchronously.
func (s *Service) notify(exec model.AgentExecution) {
	if len(s.hooks) == 0 {
		return
	}
	hooks := s.hooks
	logger := s.logger
	go func() {
		hookCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, h := range hooks {
			if err := h.OnExecutionFinished(hookCtx, exec); err != nil {
				logger.Warn("execution hook failed", "execution_id", exec.ID, "error", err)
			}
		}
	}()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
