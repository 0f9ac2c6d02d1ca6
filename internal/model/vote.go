package model

import (
	"time"

	"github.com/google/uuid"
)

// PodiumPoints maps a podium place to contest points. Places outside the
// podium score zero.
func PodiumPoints(place *int) int {
	if place == nil {
		return 0
	}
	switch *place {
	case 1:
		return 3
	case 2:
		return 2
	case 3:
		return 1
	default:
		return 0
	}
}

// Vote is one judge's verdict on one submission. TextPlace is a podium place
// (1-3) or null for commentary-only votes. AI votes carry the model that
// produced them and link back to the generating execution; one agent holds at
// most one vote set per model per contest.
type Vote struct {
	ID               uuid.UUID  `json:"id"`
	ContestID        uuid.UUID  `json:"contest_id"`
	ContestJudgeID   uuid.UUID  `json:"contest_judge_id"`
	ContestTextID    uuid.UUID  `json:"contest_text_id"`
	TextPlace        *int       `json:"text_place,omitempty"`
	Comment          string     `json:"comment"`
	IsAI             bool       `json:"is_ai"`
	Model            *string    `json:"model,omitempty"`
	AgentExecutionID *uuid.UUID `json:"agent_execution_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}
