package model

import (
	"time"

	"github.com/google/uuid"
)

// Text is a literary work owned by a user. Author is the display attribution;
// AI-written texts record the generating agent and model there.
type Text struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   uuid.UUID `json:"owner_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}
