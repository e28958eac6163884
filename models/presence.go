package models

import "time"

// PresenceRecord is stored per account under activeSessions/{accountId}.
// SessionInstanceID names the one client instance that owns the account.
type PresenceRecord struct {
	SessionInstanceID string    `json:"sessionInstanceId"`
	SessionCode       string    `json:"sessionCode"`
	UpdatedAt         time.Time `json:"updatedAt"`
	Connected         bool      `json:"connected"`
}

// RecoveryRecord is kept locally by one client so it can re-attach after a
// reload. It is never shared through the store.
type RecoveryRecord struct {
	SessionCode string    `json:"sessionCode"`
	PlayerID    string    `json:"playerId"`
	Timestamp   time.Time `json:"timestamp"`
}
