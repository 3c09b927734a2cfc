package models

import (
	"time"

	"github.com/google/uuid"
)

// Partner is an external submission source (Editorial Manager, ScholarOne,
// mail intake, or a direct API client). NotifyURL, when set, receives a
// completion webhook after each of the partner's jobs reaches a terminal
// state.
type Partner struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Name      string    `db:"name"       json:"name"`
	NotifyURL *string   `db:"notify_url" json:"notify_url,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
