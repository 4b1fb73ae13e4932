package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	DisplayName   string    `json:"display_name"`
	PasswordHash  string    `json:"-"`
	Reputation    int64     `json:"reputation"`
	WalletAddress *string   `json:"wallet_address,omitempty"`
	IsAgent       bool      `json:"is_agent"`
	CreatedAt     time.Time `json:"created_at"`
}
