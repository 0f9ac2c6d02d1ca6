// Package authz is the authorization kernel: pure decisions over
// (principal, action, target) tuples. Callers resolve targets and
// out-of-band facts (password match, judge assignment, prior
// submissions) before asking; nothing here touches storage.
package authz

import (
	"github.com/google/uuid"

	"github.com/plumelit/plume/internal/model"
)

// Principal is the authenticated caller, as established by the JWT layer.
type Principal struct {
	UserID   uuid.UUID
	Username string
	IsAdmin  bool
}

func (p Principal) owns(ownerID uuid.UUID) bool {
	return p.UserID != uuid.Nil && p.UserID == ownerID
}

// ---------------------------------------------------------------------------
// Agents
// ---------------------------------------------------------------------------

// ReadAgent allows owners, admins, and anyone for public agents.
// Private agents are invisible to everyone else.
func ReadAgent(p Principal, a model.Agent) error {
	if p.owns(a.OwnerID) || p.IsAdmin || a.IsPublic {
		return nil
	}
	return model.E(model.KindForbidden, "agent is private")
}

// ViewAgentPrompt reports whether the caller may see the personality
// prompt. Public agents stay sanitized for non-owners.
func ViewAgentPrompt(p Principal, a model.Agent) bool {
	return p.owns(a.OwnerID) || p.IsAdmin
}

// ManageAgent covers update and delete.
func ManageAgent(p Principal, a model.Agent) error {
	if p.owns(a.OwnerID) || p.IsAdmin {
		return nil
	}
	return model.E(model.KindForbidden, "only the owner or an admin may modify this agent")
}

// ExecuteAgent allows owners, admins, and anyone for public agents.
func ExecuteAgent(p Principal, a model.Agent) error {
	if p.owns(a.OwnerID) || p.IsAdmin || a.IsPublic {
		return nil
	}
	return model.E(model.KindForbidden, "agent is private")
}

// PublishAgent gates the is_public flag. Only admins may set it; for
// everyone else the flag is silently demoted at the handler, so this
// is only consulted on explicit toggles.
func PublishAgent(p Principal) error {
	if p.IsAdmin {
		return nil
	}
	return model.E(model.KindForbidden, "only admins may publish agents")
}

// ---------------------------------------------------------------------------
// Contests
// ---------------------------------------------------------------------------

// ViewContestDetail implements the password gate: a password-protected
// contest opens for the creator, admins, or a correct password.
// passwordOK must already reflect a verified password match.
func ViewContestDetail(p Principal, c model.Contest, passwordOK bool) error {
	if !c.PasswordProtected || passwordOK || p.owns(c.CreatorID) || p.IsAdmin {
		return nil
	}
	return model.E(model.KindForbidden, "contest requires a password")
}

// ListContestSubmissions follows the same gate as contest detail.
func ListContestSubmissions(p Principal, c model.Contest, passwordOK bool) error {
	return ViewContestDetail(p, c, passwordOK)
}

// ManageContest covers update, status transitions, and delete.
func ManageContest(p Principal, c model.Contest) error {
	if p.owns(c.CreatorID) || p.IsAdmin {
		return nil
	}
	return model.E(model.KindForbidden, "only the contest creator or an admin may modify this contest")
}

// SubmitToContest decides whether the caller may add a submission.
// isJudge and hasExisting are resolved by the caller against current
// assignments and submissions.
func SubmitToContest(p Principal, c model.Contest, passwordOK, isJudge, hasExisting bool) error {
	if c.Status != model.ContestOpen {
		return model.E(model.KindInvalidState, "contest is not open for submissions")
	}
	if err := ViewContestDetail(p, c, passwordOK); err != nil {
		return err
	}
	if c.JudgeRestrictions && isJudge {
		return model.E(model.KindForbidden, "judges may not submit to this contest")
	}
	if c.AuthorRestrictions && hasExisting {
		return model.E(model.KindConflict, "this contest allows one submission per author")
	}
	return nil
}

// AssignJudge allows the creator or an admin to seat a judge while the
// contest is still open or in evaluation. candidateIsAuthor reflects
// whether the would-be judge already has a submission in the contest.
func AssignJudge(p Principal, c model.Contest, candidateIsAuthor bool) error {
	if c.Status == model.ContestClosed {
		return model.E(model.KindInvalidState, "contest is closed")
	}
	if !p.owns(c.CreatorID) && !p.IsAdmin {
		return model.E(model.KindForbidden, "only the contest creator or an admin may assign judges")
	}
	if c.JudgeRestrictions && candidateIsAuthor {
		return model.E(model.KindConflict, "authors may not judge this contest")
	}
	return nil
}

// RemoveJudge allows the creator, an admin, or the seated judge
// themselves (for human judges) to remove the assignment.
func RemoveJudge(p Principal, c model.Contest, judgeUserID *uuid.UUID) error {
	if p.owns(c.CreatorID) || p.IsAdmin {
		return nil
	}
	if judgeUserID != nil && p.owns(*judgeUserID) {
		return nil
	}
	return model.E(model.KindForbidden, "only the contest creator, an admin, or the judge may remove this assignment")
}

// VoteInContest requires an evaluation-phase contest and a seat on the
// judge panel.
func VoteInContest(p Principal, c model.Contest, isJudge bool) error {
	if c.Status != model.ContestEvaluation {
		return model.E(model.KindInvalidState, "contest is not in evaluation")
	}
	if !isJudge {
		return model.E(model.KindForbidden, "caller is not an assigned judge in this contest")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Admin surface
// ---------------------------------------------------------------------------

// AdminOnly gates the admin API: credit adjustments, ledger queries,
// usage summaries, user administration.
func AdminOnly(p Principal) error {
	if p.IsAdmin {
		return nil
	}
	return model.E(model.KindForbidden, "admin access required")
}
