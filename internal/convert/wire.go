// Package convert maps JSON wire payloads of the matching service to domain models.
package convert

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/and161185/resumatch/internal/errs"
	model "github.com/and161185/resumatch/internal/model"
)

// --- wire payloads ---

// AuthResponse is returned by /auth/login and /auth/register.
type AuthResponse struct {
	Token string `json:"token"`
	Type  string `json:"type"`
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// LoginRequest is the body of /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the body of /auth/register.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Profile is returned by /profile.
type Profile struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	CreatedAt string `json:"createdAt"`
}

// Analysis is returned by POST /analyze and GET /analyze/{id}.
type Analysis struct {
	AnalysisID       int64    `json:"analysisId"`
	MatchPercentage  float64  `json:"matchPercentage"`
	ResumeScore      float64  `json:"resumeScore"`
	MatchedSkills    []string `json:"matchedSkills"`
	MissingSkills    []string `json:"missingSkills"`
	Suggestions      []string `json:"suggestions"`
	ReadabilityScore *float64 `json:"readabilityScore,omitempty"`
	ATSCompatible    *bool    `json:"atsCompatible,omitempty"`
}

// HistoryItem is one element of GET /analyze/history.
type HistoryItem struct {
	ID              int64   `json:"id"`
	MatchPercentage float64 `json:"matchPercentage"`
	ResumeScore     float64 `json:"resumeScore"`
	CreatedAt       string  `json:"createdAt"`
}

// --- helpers ---

// server timestamps are either RFC 3339 or zone-less local date-times (treated as UTC).
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseTimestamp parses a server timestamp. Empty input yields the zero time.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, l := range timeLayouts {
		if t, err := time.ParseInLocation(l, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

// --- auth ---

// FromAuthResponse splits an auth bundle into identity and credential.
func FromAuthResponse(in AuthResponse) (model.Identity, string, error) {
	if in.Token == "" {
		return model.Identity{}, "", fmt.Errorf("auth response without token: %w", errs.ErrTransport)
	}
	return model.Identity{ID: in.ID, Name: in.Name, Email: in.Email, Role: in.Role}, in.Token, nil
}

// EncodeIdentity serializes the identity for the user-json slot.
func EncodeIdentity(id model.Identity) (string, error) {
	b, err := json.Marshal(id)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeIdentity parses the user-json slot. Anything that is not a JSON object
// describing a user is reported as errs.ErrCorrupt.
func DecodeIdentity(s string) (model.Identity, error) {
	var id *model.Identity
	if err := json.Unmarshal([]byte(s), &id); err != nil {
		return model.Identity{}, fmt.Errorf("user slot: %w", errs.ErrCorrupt)
	}
	if id == nil || (id.ID == 0 && id.Email == "") {
		return model.Identity{}, fmt.Errorf("user slot empty: %w", errs.ErrCorrupt)
	}
	return *id, nil
}

// ToProfile converts a profile payload.
func ToProfile(in Profile) (model.Profile, error) {
	created, err := ParseTimestamp(in.CreatedAt)
	if err != nil {
		return model.Profile{}, err
	}
	return model.Profile{
		Identity:  model.Identity{ID: in.ID, Name: in.Name, Email: in.Email, Role: in.Role},
		CreatedAt: created,
	}, nil
}

// --- analyses ---

// ToAnalysisResult converts an analysis payload. Skill and suggestion order is kept.
func ToAnalysisResult(in Analysis) model.AnalysisResult {
	return model.AnalysisResult{
		ID:               in.AnalysisID,
		MatchPercentage:  in.MatchPercentage,
		ResumeScore:      in.ResumeScore,
		MatchedSkills:    nonNil(in.MatchedSkills),
		MissingSkills:    nonNil(in.MissingSkills),
		Suggestions:      nonNil(in.Suggestions),
		ReadabilityScore: in.ReadabilityScore,
		ATSCompatible:    in.ATSCompatible,
	}
}

// FromAnalysisResult is the inverse of ToAnalysisResult.
func FromAnalysisResult(in model.AnalysisResult) Analysis {
	return Analysis{
		AnalysisID:       in.ID,
		MatchPercentage:  in.MatchPercentage,
		ResumeScore:      in.ResumeScore,
		MatchedSkills:    nonNil(in.MatchedSkills),
		MissingSkills:    nonNil(in.MissingSkills),
		Suggestions:      nonNil(in.Suggestions),
		ReadabilityScore: in.ReadabilityScore,
		ATSCompatible:    in.ATSCompatible,
	}
}

// ToHistoryEntries converts a history page, keeping server order.
func ToHistoryEntries(in []HistoryItem) ([]model.HistoryEntry, error) {
	out := make([]model.HistoryEntry, 0, len(in))
	for i, it := range in {
		created, err := ParseTimestamp(it.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("item[%d]: %w", i, err)
		}
		out = append(out, model.HistoryEntry{
			ID:              it.ID,
			MatchPercentage: it.MatchPercentage,
			ResumeScore:     it.ResumeScore,
			CreatedAt:       created,
		})
	}
	return out, nil
}
