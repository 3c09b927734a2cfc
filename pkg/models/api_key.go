package models

import (
	"time"

	"github.com/google/uuid"
)

// APIKey authenticates a partner. Only the bcrypt hash is stored; lookup
// happens by the plaintext key's fixed-length prefix.
type APIKey struct {
	ID         uuid.UUID  `db:"id"           json:"id"`
	PartnerID  uuid.UUID  `db:"partner_id"   json:"partner_id"`
	Name       string     `db:"name"         json:"name"`
	KeyHash    string     `db:"key_hash"     json:"-"`
	KeyPrefix  string     `db:"key_prefix"   json:"key_prefix"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `db:"revoked_at"   json:"revoked_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"   json:"updated_at"`
}
