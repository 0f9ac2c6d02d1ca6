// Package results computes contest standings and drives the close of a
// contest once its vote threshold is met.
//
// The point arithmetic is pure so it can be tested without a database; the
// Service wraps it with the reads and the transactional close.
package results

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/plumelit/plume/internal/model"
	"github.com/plumelit/plume/internal/storage"
)

// Compute derives the standings for a contest from its submissions and
// votes. Points: first place 3, second 2, third 1, anything else 0, summed
// across all judges and models. Ordering is total points descending with
// earlier submissions breaking ties; ranks follow standard competition
// ranking (tied points share a rank, the next distinct total jumps past the
// tie). Submissions with zero points stay unranked.
func Compute(submissions []model.ContestText, votes []model.Vote) []storage.RankedResult {
	points := make(map[uuid.UUID]int, len(submissions))
	for _, v := range votes {
		points[v.ContestTextID] += model.PodiumPoints(v.TextPlace)
	}

	ordered := make([]model.ContestText, len(submissions))
	copy(ordered, submissions)
	sort.SliceStable(ordered, func(i, j int) bool {
		pi, pj := points[ordered[i].ID], points[ordered[j].ID]
		if pi != pj {
			return pi > pj
		}
		if !ordered[i].SubmissionDate.Equal(ordered[j].SubmissionDate) {
			return ordered[i].SubmissionDate.Before(ordered[j].SubmissionDate)
		}
		return ordered[i].ID.String() < ordered[j].ID.String()
	})

	results := make([]storage.RankedResult, len(ordered))
	for i, ct := range ordered {
		results[i] = storage.RankedResult{ContestTextID: ct.ID, TotalPoints: points[ct.ID]}
	}

	// Standard competition rank: 1 + the count of strictly higher totals.
	// Zero-point submissions stay unranked and sort after everything ranked.
	for i := range results {
		if results[i].TotalPoints == 0 {
			continue
		}
		rank := 1
		for j := range results {
			if results[j].TotalPoints > results[i].TotalPoints {
				rank++
			}
		}
		results[i].Ranking = &rank
	}

	return results
}

// Service orchestrates result computation against storage.
type Service struct {
	db     *storage.DB
	logger *slog.Logger
}

// New creates a results Service.
func New(db *storage.DB, logger *slog.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// CloseContest computes standings from the current votes and moves the
// contest to closed. Closing an already-closed contest is a quiet no-op so
// concurrent threshold triggers race safely.
func (s *Service) CloseContest(ctx context.Context, contestID uuid.UUID) (bool, error) {
	submissions, err := s.db.ListContestTexts(ctx, contestID)
	if err != nil {
		return false, err
	}
	votes, err := s.db.ListVotesForContest(ctx, contestID)
	if err != nil {
		return false, err
	}

	closed, err := s.db.CloseContestWithResults(ctx, contestID, Compute(submissions, votes))
	if errors.Is(err, storage.ErrNotFound) {
		return false, model.E(model.KindNotFound, "contest %s not found", contestID)
	}
	if errors.Is(err, storage.ErrInvalidState) {
		return false, model.E(model.KindInvalidState, "contest %s is not in evaluation", contestID)
	}
	if err != nil {
		return false, err
	}
	if closed {
		s.logger.Info("contest closed with results",
			"contest_id", contestID,
			"submissions", len(submissions),
			"votes", len(votes))
	}
	return closed, nil
}

// MaybeCloseOnThreshold closes the contest when enough judges have completed
// voting. Called after every vote session; idempotent.
func (s *Service) MaybeCloseOnThreshold(ctx context.Context, contest model.Contest) (bool, error) {
	voted, err := s.db.CountVotedJudges(ctx, contest.ID)
	if err != nil {
		return false, err
	}
	if voted < contest.MinVotesRequired {
		return false, nil
	}
	return s.CloseContest(ctx, contest.ID)
}
