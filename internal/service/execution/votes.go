package execution

import (
	"github.com/google/uuid"

	"github.com/plumelit/plume/internal/model"
)

// sanitizeAIVotes repairs a vote set parsed from a judge transcript so a
// sloppy model cannot fail the whole session. Duplicate texts keep their
// first vote; duplicate, out-of-range, or impossible podium places are
// demoted to commentary-only votes. Returns how many votes were adjusted
// so the caller can log the repair.
func sanitizeAIVotes(votes []model.VoteCreate, submissionCount int) ([]model.VoteCreate, int) {
	maxPlace := 3
	if submissionCount < maxPlace {
		maxPlace = submissionCount
	}

	out := make([]model.VoteCreate, 0, len(votes))
	seenText := make(map[uuid.UUID]bool, len(votes))
	seenPlace := make(map[int]bool, 3)
	adjusted := 0

	for _, v := range votes {
		if v.TextID == uuid.Nil || seenText[v.TextID] {
			adjusted++
			continue
		}
		seenText[v.TextID] = true

		if v.TextPlace != nil {
			p := *v.TextPlace
			if p < 1 || p > maxPlace || seenPlace[p] {
				v.TextPlace = nil
				adjusted++
			} else {
				seenPlace[p] = true
			}
		}
		out = append(out, v)
	}
	return out, adjusted
}
