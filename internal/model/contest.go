package model

import (
	"time"

	"github.com/google/uuid"
)

// ContestStatus is the contest lifecycle phase. Submissions are accepted
// while open, votes while in evaluation; closed is terminal.
type ContestStatus string

const (
	ContestOpen       ContestStatus = "open"
	ContestEvaluation ContestStatus = "evaluation"
	ContestClosed     ContestStatus = "closed"
)

// Valid reports whether s is a known contest status.
func (s ContestStatus) Valid() bool {
	return s == ContestOpen || s == ContestEvaluation || s == ContestClosed
}

// Contest is a literary contest. PasswordHash gates detail access when
// PasswordProtected is set; creators and admins bypass the gate.
type Contest struct {
	ID                 uuid.UUID     `json:"id"`
	CreatorID          uuid.UUID     `json:"creator_id"`
	Title              string        `json:"title"`
	Description        string        `json:"description"`
	Status             ContestStatus `json:"status"`
	PasswordProtected  bool          `json:"password_protected"`
	PasswordHash       *string       `json:"-"`
	PubliclyListed     bool          `json:"publicly_listed"`
	JudgeRestrictions  bool          `json:"judge_restrictions"`
	AuthorRestrictions bool          `json:"author_restrictions"`
	MinVotesRequired   int           `json:"min_votes_required"`
	EndDate            *time.Time    `json:"end_date,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// ContestText is a submission: one text entered into one contest.
// Ranking and TotalPoints stay null until the contest closes.
type ContestText struct {
	ID             uuid.UUID `json:"id"`
	ContestID      uuid.UUID `json:"contest_id"`
	TextID         uuid.UUID `json:"text_id"`
	SubmissionDate time.Time `json:"submission_date"`
	Ranking        *int      `json:"ranking,omitempty"`
	TotalPoints    *int      `json:"total_points,omitempty"`
}

// ContestJudge assigns a judge to a contest. Exactly one of UserID/AgentID is
// set (structural XOR in the schema). HasVoted tracks whether the judge's
// current vote set meets the podium threshold.
type ContestJudge struct {
	ID             uuid.UUID  `json:"id"`
	ContestID      uuid.UUID  `json:"contest_id"`
	UserID         *uuid.UUID `json:"user_id,omitempty"`
	AgentID        *uuid.UUID `json:"agent_id,omitempty"`
	HasVoted       bool       `json:"has_voted"`
	AssignmentDate time.Time  `json:"assignment_date"`
}

// IsAI reports whether the judge seat is held by an agent.
func (j ContestJudge) IsAI() bool { return j.AgentID != nil }
