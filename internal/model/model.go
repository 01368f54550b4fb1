// Package model defines domain entities shared by the session store, gateway and workflows.
package model

import (
	"time"
)

// Identity is the authenticated user as reported by the server.
type Identity struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Session is the identity + credential pair held by the client.
type Session struct {
	Identity   Identity
	Credential string    // opaque bearer token
	ExpiresAt  time.Time // zero if the credential carries no exp claim
}

// Expired reports whether the credential's own expiry has passed.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Profile is the account view returned by GET /profile.
type Profile struct {
	Identity
	CreatedAt time.Time
}

// ResumeFile is the binary resume chosen for an analysis.
type ResumeFile struct {
	Name        string
	ContentType string // declared MIME type, may be empty
	Data        []byte
}

// AnalysisResult is the full computed output of one submission. Immutable once received.
type AnalysisResult struct {
	ID               int64
	MatchPercentage  float64 // 0-100
	ResumeScore      float64 // 0-10
	MatchedSkills    []string
	MissingSkills    []string
	Suggestions      []string
	ReadabilityScore *float64 // 0-100, optional
	ATSCompatible    *bool    // optional
}

// HistoryEntry is the summary projection of a past analysis.
type HistoryEntry struct {
	ID              int64
	MatchPercentage float64
	ResumeScore     float64
	CreatedAt       time.Time
}
