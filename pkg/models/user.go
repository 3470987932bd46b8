package models

import (
	"errors"
	"time"
)

// Tier governs quota enforcement for a user record.
type Tier string

const (
	TierFree   Tier = "FREE"
	TierPaid   Tier = "PAID"
	TierBanned Tier = "BANNED"
)

// ErrRecordNotFound is returned by lookups for unknown identities.
var ErrRecordNotFound = errors.New("user record not found")

// UserRecord is the per-identity quota and tier state, one row per identity.
// Records are created lazily on first use and never deleted.
type UserRecord struct {
	Identity         string     `json:"identity" db:"identity"`
	LastRequestAt    *time.Time `json:"last_request_at,omitempty" db:"last_request_at"`
	RequestsMade     int        `json:"requests_made" db:"requests_made"`
	Tier             Tier       `json:"tier" db:"tier"`
	PremiumExpiresAt *time.Time `json:"premium_expires_at,omitempty" db:"premium_expires_at"`
}

// Decision is the quota ledger's verdict for a single generation request.
type Decision int

const (
	DecisionAdmit Decision = iota
	DecisionDenyBanned
	DecisionDenyQuotaExceeded
)

func (d Decision) String() string {
	switch d {
	case DecisionAdmit:
		return "admit"
	case DecisionDenyBanned:
		return "deny_banned"
	case DecisionDenyQuotaExceeded:
		return "deny_quota_exceeded"
	default:
		return "unknown"
	}
}

// ReputationResult classifies an IP address as allowed or rejected.
type ReputationResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

type PromptRequest struct {
	Prompt string `form:"prompt" binding:"required"`
	IP     string `form:"ip" binding:"required,ip"`
	ID     string `form:"id" binding:"required"`
}

type AddRequest struct {
	ID string `form:"id" binding:"required"`
}

// IdentityURI binds the :id path segment on record lookup endpoints. The
// identity rule is registered in middleware so malformed tokens fail binding.
type IdentityURI struct {
	ID string `uri:"id" binding:"required,identity"`
}
