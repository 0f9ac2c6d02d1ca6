package model

import (
	"time"

	"github.com/google/uuid"
)

// User is a platform account. Credits are the prepaid balance consumed by
// agent executions; the authoritative history lives in credit_transactions.
type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsAdmin      bool      `json:"is_admin"`
	Credits      int64     `json:"credits"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
