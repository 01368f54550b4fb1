package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/and161185/resumatch/internal/convert"
	"github.com/and161185/resumatch/internal/errs"
	"github.com/and161185/resumatch/internal/model"
)

// Multipart field names of POST /analyze.
const (
	FieldJobDescription = "jobDescription"
	FieldResume         = "resume"
)

// Register creates an account and returns its identity and credential.
func (g *Gateway) Register(ctx context.Context, name, email, password string) (model.Identity, string, error) {
	var out convert.AuthResponse
	in := convert.RegisterRequest{Name: name, Email: email, Password: password}
	if err := g.doJSON(ctx, http.MethodPost, "/auth/register", nil, in, &out); err != nil {
		return model.Identity{}, "", err
	}
	return convert.FromAuthResponse(out)
}

// Login exchanges credentials for an identity and credential.
func (g *Gateway) Login(ctx context.Context, email, password string) (model.Identity, string, error) {
	var out convert.AuthResponse
	in := convert.LoginRequest{Email: email, Password: password}
	if err := g.doJSON(ctx, http.MethodPost, "/auth/login", nil, in, &out); err != nil {
		return model.Identity{}, "", err
	}
	return convert.FromAuthResponse(out)
}

// Profile fetches the account view of the current user.
func (g *Gateway) Profile(ctx context.Context) (model.Profile, error) {
	var out convert.Profile
	if err := g.doJSON(ctx, http.MethodGet, "/profile", nil, nil, &out); err != nil {
		return model.Profile{}, err
	}
	p, err := convert.ToProfile(out)
	if err != nil {
		return model.Profile{}, fmt.Errorf("profile: %w: %w", errs.ErrTransport, err)
	}
	return p, nil
}

// Analyze submits a resume and job description.
func (g *Gateway) Analyze(ctx context.Context, jobDescription string, file model.ResumeFile) (model.AnalysisResult, error) {
	var out convert.Analysis
	fields := map[string]string{FieldJobDescription: jobDescription}
	if err := g.doMultipart(ctx, "/analyze", fields, FieldResume, file, &out); err != nil {
		return model.AnalysisResult{}, err
	}
	return convert.ToAnalysisResult(out), nil
}

// History lists one page of past analyses in server order.
func (g *Gateway) History(ctx context.Context, page, size int) ([]model.HistoryEntry, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	var out []convert.HistoryItem
	if err := g.doJSON(ctx, http.MethodGet, "/analyze/history", q, nil, &out); err != nil {
		return nil, err
	}
	entries, err := convert.ToHistoryEntries(out)
	if err != nil {
		return nil, fmt.Errorf("history: %w: %w", errs.ErrTransport, err)
	}
	return entries, nil
}

// Analysis fetches one full result.
func (g *Gateway) Analysis(ctx context.Context, id int64) (model.AnalysisResult, error) {
	var out convert.Analysis
	if err := g.doJSON(ctx, http.MethodGet, fmt.Sprintf("/analyze/%d", id), nil, nil, &out); err != nil {
		return model.AnalysisResult{}, err
	}
	return convert.ToAnalysisResult(out), nil
}

// DeleteAnalysis removes one analysis.
func (g *Gateway) DeleteAnalysis(ctx context.Context, id int64) error {
	return g.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/analyze/%d", id), nil, nil, nil)
}

// Report downloads the binary report of one analysis.
func (g *Gateway) Report(ctx context.Context, id int64) ([]byte, error) {
	return g.doBytes(ctx, fmt.Sprintf("/analyze/%d/report", id))
}
