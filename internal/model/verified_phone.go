package model

import "time"

// VerifiedPhone is one row of the append-only verified-phone registry.
// Created only on a successful verify; never updated afterwards except
// for deactivation.
type VerifiedPhone struct {
	PhoneHash       string    `json:"-" db:"phone_hash"`
	PhoneEncrypted  string    `json:"-" db:"phone_encrypted"`
	PhoneKeyID      string    `json:"-" db:"phone_key_id"`
	NormalizedPhone string    `json:"-" db:"-"`
	UserID          string    `json:"user_id,omitempty" db:"user_id"`
	SourceSessionID string    `json:"source_session_id" db:"source_session_id"`
	VerifiedAt      time.Time `json:"verified_at" db:"verified_at"`
	Method          string    `json:"method" db:"method"`
	IsActive        bool      `json:"is_active" db:"is_active"`
}
