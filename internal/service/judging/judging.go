// Package judging runs replace-all voting sessions.
//
// A session validates the vote set against the contest, atomically replaces
// the judge's prior votes (scoped to one model for AI judges), recomputes
// has_voted, and triggers the close-on-threshold check. The human vote
// endpoint and AI judge executions share this path.
package judging

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/plumelit/plume/internal/authz"
	"github.com/plumelit/plume/internal/model"
	"github.com/plumelit/plume/internal/service/results"
	"github.com/plumelit/plume/internal/storage"
)

// Service encapsulates voting session logic.
type Service struct {
	db      *storage.DB
	results *results.Service
	logger  *slog.Logger
}

// New creates a judging Service.
func New(db *storage.DB, results *results.Service, logger *slog.Logger) *Service {
	return &Service{db: db, results: results, logger: logger}
}

// SessionResult reports the outcome of a replace-all voting session.
type SessionResult struct {
	Votes         []model.Vote `json:"votes"`
	HasVoted      bool         `json:"has_voted"`
	ContestClosed bool         `json:"contest_closed"`
}

// SubmitHumanVotes runs a human judge's voting session in a contest.
func (s *Service) SubmitHumanVotes(ctx context.Context, p authz.Principal, contestID uuid.UUID, votes []model.VoteCreate) (SessionResult, error) {
	contest, err := s.db.GetContest(ctx, contestID)
	if errors.Is(err, storage.ErrNotFound) {
		return SessionResult{}, model.E(model.KindNotFound, "contest %s not found", contestID)
	}
	if err != nil {
		return SessionResult{}, err
	}

	seat, err := s.db.GetContestJudgeByUser(ctx, contestID, p.UserID)
	isJudge := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return SessionResult{}, err
	}
	if err := authz.VoteInContest(p, contest, isJudge); err != nil {
		return SessionResult{}, err
	}

	return s.session(ctx, contest, seat, votes, nil, nil)
}

// SubmitAIVotes runs one model's voting session for an AI judge seat. The
// execution coordinator calls this mid-settlement with the parsed verdicts;
// re-running the same model replaces only that model's set.
func (s *Service) SubmitAIVotes(ctx context.Context, contest model.Contest, seat model.ContestJudge, aiModel string, executionID uuid.UUID, votes []model.VoteCreate) (SessionResult, error) {
	if contest.Status != model.ContestEvaluation {
		return SessionResult{}, model.E(model.KindInvalidState, "contest %s is not accepting votes", contest.ID)
	}
	if !seat.IsAI() {
		return SessionResult{}, model.E(model.KindInvalidState, "judge seat %s is not held by an agent", seat.ID)
	}
	return s.session(ctx, contest, seat, votes, &aiModel, &executionID)
}

// session is the shared core: resolve texts, bound places, replace
// atomically, then check the threshold. The close step runs outside the
// vote transaction and is idempotent.
func (s *Service) session(ctx context.Context, contest model.Contest, seat model.ContestJudge, votes []model.VoteCreate, aiModel *string, executionID *uuid.UUID) (SessionResult, error) {
	if err := model.ValidateVoteSet(votes); err != nil {
		return SessionResult{}, err
	}

	entries, err := s.db.ListContestEntries(ctx, contest.ID)
	if err != nil {
		return SessionResult{}, err
	}
	byText := make(map[uuid.UUID]uuid.UUID, len(entries))
	for _, e := range entries {
		byText[e.TextID] = e.ContestTextID
	}

	rows := make([]model.Vote, 0, len(votes))
	for i, vc := range votes {
		ctID, ok := byText[vc.TextID]
		if !ok {
			return SessionResult{}, model.E(model.KindInvalidInput, "votes[%d]: text %s is not in this contest", i, vc.TextID)
		}
		if vc.TextPlace != nil && *vc.TextPlace > len(entries) {
			return SessionResult{}, model.E(model.KindInvalidInput, "votes[%d]: place %d exceeds the %d submissions", i, *vc.TextPlace, len(entries))
		}
		rows = append(rows, model.Vote{
			ContestID:        contest.ID,
			ContestJudgeID:   seat.ID,
			ContestTextID:    ctID,
			TextPlace:        vc.TextPlace,
			Comment:          vc.Comment,
			IsAI:             aiModel != nil,
			Model:            aiModel,
			AgentExecutionID: executionID,
		})
	}

	hasVoted, err := s.db.ReplaceJudgeVotes(ctx, seat.ID, rows, aiModel, len(entries))
	if errors.Is(err, storage.ErrDuplicate) {
		return SessionResult{}, model.Wrap(model.KindConflict, "conflicting vote set", err)
	}
	if err != nil {
		return SessionResult{}, err
	}

	closed, err := s.results.MaybeCloseOnThreshold(ctx, contest)
	if err != nil {
		// The vote set committed; a failed close retries on the next
		// session or by admin action.
		s.logger.Error("threshold close failed after vote session",
			"contest_id", contest.ID,
			"judge_id", seat.ID,
			"error", err)
		return SessionResult{Votes: rows, HasVoted: hasVoted}, nil
	}

	return SessionResult{Votes: rows, HasVoted: hasVoted, ContestClosed: closed}, nil
}

// ContestVotes lists a contest's votes for display.
func (s *Service) ContestVotes(ctx context.Context, contestID uuid.UUID) ([]model.Vote, error) {
	return s.db.ListVotesForContest(ctx, contestID)
}
