package server

import (
	"errors"
	"math"
	"net/http"
	"sort"

	"github.com/google/uuid"

	"github.com/plumelit/plume/internal/auth"
	"github.com/plumelit/plume/internal/authz"
	"github.com/plumelit/plume/internal/model"
	"github.com/plumelit/plume/internal/storage"
)

// HandleCreateContest handles POST /v1/contests.
func (h *Handlers) HandleCreateContest(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	var req model.CreateContestRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	var passwordHash *string
	if req.Password != nil {
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		passwordHash = &hash
	}

	publiclyListed := true
	if req.PubliclyListed != nil {
		publiclyListed = *req.PubliclyListed
	}

	contest, err := h.db.CreateContest(r.Context(), model.Contest{
		CreatorID:          p.UserID,
		Title:              req.Title,
		Description:        req.Description,
		Status:             model.ContestOpen,
		PasswordProtected:  passwordHash != nil,
		PasswordHash:       passwordHash,
		PubliclyListed:     publiclyListed,
		JudgeRestrictions:  req.JudgeRestrictions,
		AuthorRestrictions: req.AuthorRestrictions,
		MinVotesRequired:   req.MinVotesRequired,
		EndDate:            req.EndDate,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, contest)
}

// HandleListContests handles GET /v1/contests: publicly listed contests
// plus the caller's own, optionally filtered by ?status=.
func (h *Handlers) HandleListContests(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	var statusFilter *model.ContestStatus
	if v := r.URL.Query().Get("status"); v != "" {
		s := model.ContestStatus(v)
		if !s.Valid() {
			writeError(w, r, http.StatusBadRequest, model.KindInvalidInput, "status must be \"open\", \"evaluation\" or \"closed\"")
			return
		}
		statusFilter = &s
	}

	contests, err := h.db.ListContests(r.Context(), p.UserID, p.IsAdmin, statusFilter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, contests)
}

// getContest loads a contest, mapping missing rows to not-found.
func (h *Handlers) getContest(r *http.Request, id uuid.UUID) (model.Contest, error) {
	contest, err := h.db.GetContest(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Contest{}, model.E(model.KindNotFound, "contest %s not found", id)
	}
	return contest, err
}

// HandleGetContest handles GET /v1/contests/{id}. Password-protected
// contests require X-Contest-Password (or ?password=) unless the caller
// is the creator or an admin.
func (h *Handlers) HandleGetContest(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	id, err := pathID(r, "id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	contest, err := h.getContest(r, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if err := authz.ViewContestDetail(p, contest, passwordOK(contest, contestPassword(r))); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, contest)
}

// HandleUpdateContest handles PATCH /v1/contests/{id}. Status moves
// forward only: open→evaluation switches the phase, evaluation→closed
// computes the standings.
func (h *Handlers) HandleUpdateContest(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	id, err := pathID(r, "id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	contest, err := h.getContest(r, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if err := authz.ManageContest(p, contest); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	var req model.UpdateContestRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	changed := false
	if req.Title != nil {
		if *req.Title == "" || len(*req.Title) > model.MaxTitleLen {
			h.writeServiceError(w, r, model.E(model.KindInvalidInput, "title must be 1-%d characters", model.MaxTitleLen))
			return
		}
		contest.Title = *req.Title
		changed = true
	}
	if req.Description != nil {
		if len(*req.Description) > model.MaxDescriptionLen {
			h.writeServiceError(w, r, model.E(model.KindInvalidInput, "description exceeds %d bytes", model.MaxDescriptionLen))
			return
		}
		contest.Description = *req.Description
		changed = true
	}
	if req.PubliclyListed != nil {
		contest.PubliclyListed = *req.PubliclyListed
		changed = true
	}
	if req.MinVotesRequired != nil {
		if *req.MinVotesRequired < 1 {
			h.writeServiceError(w, r, model.E(model.KindInvalidInput, "min_votes_required must be at least 1"))
			return
		}
		contest.MinVotesRequired = *req.MinVotesRequired
		changed = true
	}
	if req.EndDate != nil {
		contest.EndDate = req.EndDate
		changed = true
	}

	if changed {
		contest, err = h.db.UpdateContest(r.Context(), contest)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
	}

	if req.Status != nil && *req.Status != contest.Status {
		if err := h.transitionContest(r, contest, *req.Status); err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		contest, err = h.getContest(r, id)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
	}

	writeJSON(w, r, http.StatusOK, contest)
}

// transitionContest applies a requested status change. The lifecycle
// only moves forward; closing runs the results calculator.
func (h *Handlers) transitionContest(r *http.Request, contest model.Contest, to model.ContestStatus) error {
	switch {
	case contest.Status == model.ContestOpen && to == model.ContestEvaluation:
		err := h.db.UpdateContestStatus(r.Context(), contest.ID, model.ContestOpen, model.ContestEvaluation)
		if errors.Is(err, storage.ErrInvalidState) {
			return model.E(model.KindInvalidState, "contest is no longer open")
		}
		return err
	case contest.Status == model.ContestEvaluation && to == model.ContestClosed:
		// Manual close: compute standings from whatever votes exist.
		_, err := h.resultsSvc.CloseContest(r.Context(), contest.ID)
		return err
	default:
		return model.E(model.KindInvalidState, "cannot move contest from %s to %s", contest.Status, to)
	}
}

// HandleDeleteContest handles DELETE /v1/contests/{id}.
func (h *Handlers) HandleDeleteContest(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	id, err := pathID(r, "id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	contest, err := h.getContest(r, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if err := authz.ManageContest(p, contest); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if err := h.db.DeleteContest(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.logger.Info("contest deleted", "contest_id", id, "by", p.Username)
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "deleted"})
}

// HandleSubmitText handles POST /v1/contests/{id}/texts: enter one of
// the caller's texts into an open contest.
func (h *Handlers) HandleSubmitText(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	contestID, err := pathID(r, "id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	contest, err := h.getContest(r, contestID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	var req model.SubmitTextRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if req.TextID == uuid.Nil {
		writeError(w, r, http.StatusBadRequest, model.KindInvalidInput, "text_id is required")
		return
	}

	text, err := h.getOwnedText(r, p, req.TextID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	_, err = h.db.GetContestJudgeByUser(r.Context(), contestID, text.OwnerID)
	isJudge := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		h.writeServiceError(w, r, err)
		return
	}
	hasExisting, err := h.db.HasSubmissionByAuthor(r.Context(), contestID, text.OwnerID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if err := authz.SubmitToContest(p, contest, passwordOK(contest, contestPassword(r)), isJudge, hasExisting); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	submission, err := h.db.SubmitText(r.Context(), model.ContestText{
		ContestID: contestID,
		TextID:    req.TextID,
	})
	if errors.Is(err, storage.ErrDuplicate) {
		h.writeServiceError(w, r, model.E(model.KindConflict, "text is already entered in this contest"))
		return
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, submission)
}

// HandleListSubmissions handles GET /v1/contests/{id}/texts. The
// password gate applies the same way as contest detail.
func (h *Handlers) HandleListSubmissions(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	contestID, err := pathID(r, "id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	contest, err := h.getContest(r, contestID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if err := authz.ListContestSubmissions(p, contest, passwordOK(contest, contestPassword(r))); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	entries, err := h.db.ListContestEntries(r.Context(), contestID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, entries)
}

// HandleWithdrawText handles DELETE /v1/contests/{id}/texts/{text_id}.
// The text owner withdraws while the contest is open; the creator or an
// admin may pull a submission at any phase before close.
func (h *Handlers) HandleWithdrawText(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	contestID, err := pathID(r, "id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	textID, err := pathID(r, "text_id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	contest, err := h.getContest(r, contestID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if contest.Status == model.ContestClosed {
		h.writeServiceError(w, r, model.E(model.KindInvalidState, "contest is closed"))
		return
	}

	if _, err := h.db.GetContestTextByText(r.Context(), contestID, textID); errors.Is(err, storage.ErrNotFound) {
		h.writeServiceError(w, r, model.E(model.KindNotFound, "text %s is not entered in this contest", textID))
		return
	} else if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if authz.ManageContest(p, contest) != nil {
		text, err := h.db.GetText(r.Context(), textID)
		if err != nil || text.OwnerID != p.UserID {
			h.writeServiceError(w, r, model.E(model.KindForbidden, "only the text owner, the contest creator, or an admin may withdraw this submission"))
			return
		}
		if contest.Status != model.ContestOpen {
			h.writeServiceError(w, r, model.E(model.KindInvalidState, "submissions can only be withdrawn while the contest is open"))
			return
		}
	}

	if err := h.db.DeleteContestText(r.Context(), contestID, textID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]string{"status": "withdrawn"})
}

// HandleAssignJudge handles POST /v1/contests/{id}/judges. Exactly one
// of user_id/agent_id seats a human or an AI judge.
func (h *Handlers) HandleAssignJudge(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	contestID, err := pathID(r, "id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	contest, err := h.getContest(r, contestID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	var req model.AssignJudgeRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	// Resolve the candidate and whether they already author a submission.
	// For AI seats the agent's owner is the author of record.
	var candidateIsAuthor bool
	if req.UserID != nil {
		if _, err := h.db.GetUser(r.Context(), *req.UserID); errors.Is(err, storage.ErrNotFound) {
			h.writeServiceError(w, r, model.E(model.KindNotFound, "user %s not found", *req.UserID))
			return
		} else if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		candidateIsAuthor, err = h.db.HasSubmissionByAuthor(r.Context(), contestID, *req.UserID)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
	} else {
		agent, err := h.db.GetAgent(r.Context(), *req.AgentID)
		if errors.Is(err, storage.ErrNotFound) {
			h.writeServiceError(w, r, model.E(model.KindNotFound, "agent %s not found", *req.AgentID))
			return
		} else if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		if err := authz.ReadAgent(p, agent); err != nil {
			h.writeServiceError(w, r, model.E(model.KindNotFound, "agent %s not found", *req.AgentID))
			return
		}
		if agent.Type != model.AgentJudge {
			h.writeServiceError(w, r, model.E(model.KindInvalidInput, "agent %s is not a judge agent", agent.ID))
			return
		}
		candidateIsAuthor, err = h.db.HasSubmissionByAuthor(r.Context(), contestID, agent.OwnerID)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
	}

	if err := authz.AssignJudge(p, contest, candidateIsAuthor); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	seat, err := h.db.AssignJudge(r.Context(), model.ContestJudge{
		ContestID: contestID,
		UserID:    req.UserID,
		AgentID:   req.AgentID,
	})
	if errors.Is(err, storage.ErrDuplicate) {
		h.writeServiceError(w, r, model.E(model.KindConflict, "judge is already assigned to this contest"))
		return
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, seat)
}

// HandleListJudges handles GET /v1/contests/{id}/judges.
func (h *Handlers) HandleListJudges(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	contestID, err := pathID(r, "id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	contest, err := h.getContest(r, contestID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if err := authz.ViewContestDetail(p, contest, passwordOK(contest, contestPassword(r))); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	judges, err := h.db.ListContestJudges(r.Context(), contestID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, judges)
}

// HandleRemoveJudge handles DELETE /v1/contests/{id}/judges/{judge_id}.
func (h *Handlers) HandleRemoveJudge(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	contestID, err := pathID(r, "id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	judgeID, err := pathID(r, "judge_id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	contest, err := h.getContest(r, contestID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	seat, err := h.db.GetContestJudge(r.Context(), judgeID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && seat.ContestID != contestID) {
		h.writeServiceError(w, r, model.E(model.KindNotFound, "judge assignment %s not found", judgeID))
		return
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if err := authz.RemoveJudge(p, contest, seat.UserID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if err := h.db.RemoveJudge(r.Context(), judgeID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]string{"status": "removed"})
}

// HandleSubmitVotes handles POST /v1/contests/{id}/votes. The body is
// the judge's full vote list; submitting again replaces the previous
// set. Hitting the vote threshold closes the contest.
func (h *Handlers) HandleSubmitVotes(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	contestID, err := pathID(r, "id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	var votes []model.VoteCreate
	if err := h.decode(w, r, &votes); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	result, err := h.judgingSvc.SubmitHumanVotes(r.Context(), p, contestID, votes)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, result)
}

// HandleListVotes handles GET /v1/contests/{id}/votes. Votes are
// private while judging runs: before close only the creator or an
// admin may inspect them.
func (h *Handlers) HandleListVotes(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	contestID, err := pathID(r, "id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	contest, err := h.getContest(r, contestID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if contest.Status != model.ContestClosed {
		if err := authz.ManageContest(p, contest); err != nil {
			h.writeServiceError(w, r, model.E(model.KindForbidden, "votes are visible once the contest closes"))
			return
		}
	} else if err := authz.ViewContestDetail(p, contest, passwordOK(contest, contestPassword(r))); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	votes, err := h.judgingSvc.ContestVotes(r.Context(), contestID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, votes)
}

// HandleContestResults handles GET /v1/contests/{id}/results: the
// final standings of a closed contest.
func (h *Handlers) HandleContestResults(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	contestID, err := pathID(r, "id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	contest, err := h.getContest(r, contestID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if err := authz.ViewContestDetail(p, contest, passwordOK(contest, contestPassword(r))); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if contest.Status != model.ContestClosed {
		h.writeServiceError(w, r, model.E(model.KindInvalidState, "results are available once the contest closes"))
		return
	}

	entries, err := h.db.ListContestEntries(r.Context(), contestID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	results := make([]model.ContestResultEntry, 0, len(entries))
	for _, e := range entries {
		points := 0
		if e.TotalPoints != nil {
			points = *e.TotalPoints
		}
		results = append(results, model.ContestResultEntry{
			ContestTextID: e.ContestTextID,
			TextID:        e.TextID,
			Title:         e.Title,
			Author:        e.Author,
			TotalPoints:   points,
			Ranking:       e.Ranking,
		})
	}
	// Podium order; unplaced entries keep submission order at the tail.
	rank := func(e model.ContestResultEntry) int {
		if e.Ranking == nil {
			return math.MaxInt
		}
		return *e.Ranking
	}
	sort.SliceStable(results, func(i, j int) bool { return rank(results[i]) < rank(results[j]) })

	writeJSON(w, r, http.StatusOK, results)
}
