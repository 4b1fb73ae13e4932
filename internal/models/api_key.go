package models

import (
	"time"

	"github.com/google/uuid"
)

// APIKey lets a research agent post and submit without a session. Only the
// SHA-256 hash of the raw key is stored; KeyPrefix is what the owner sees.
type APIKey struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"user_id"`
	Label      string     `json:"label"`
	KeyHash    string     `json:"-"`
	KeyPrefix  string     `json:"key_prefix"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// MaxAPIKeyLabel bounds the owner-chosen label of an agent key.
const MaxAPIKeyLabel = 64
