// Package gateway is the single outbound HTTP boundary of the client: it resolves
// the service base once, attaches credentials and intercepts authentication failures.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/resumatch/internal/errs"
	"github.com/and161185/resumatch/internal/model"
)

// DefaultTimeout bounds every request.
const DefaultTimeout = 60 * time.Second

const (
	apiPrefix    = "/api"
	maxErrorBody = 1 << 20
)

// Config configures the gateway.
type Config struct {
	// Origin is the external service origin; empty means same-origin.
	Origin string
	// LocalOrigin is what same-origin resolves against.
	LocalOrigin string
	Timeout     time.Duration
}

// ResolveBase returns the API base URL: Origin+"/api" when an origin override
// is configured, else the relative "/api" against LocalOrigin.
func ResolveBase(origin, localOrigin string) (*url.URL, error) {
	root := strings.TrimRight(strings.TrimSpace(origin), "/")
	if root == "" {
		root = strings.TrimRight(strings.TrimSpace(localOrigin), "/")
	}
	if root == "" {
		return nil, fmt.Errorf("no origin to resolve %q against", apiPrefix)
	}
	u, err := url.Parse(root + apiPrefix)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("origin %q must be absolute", root)
	}
	return u, nil
}

// Gateway performs typed calls against the matching service.
type Gateway struct {
	base *url.URL
	hc   *http.Client
	log  *zap.Logger
}

// Option customizes a Gateway.
type Option func(*options)

type options struct {
	transport http.RoundTripper
}

// WithTransport replaces the base transport (tests, proxies).
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// New builds a Gateway. tokens supplies the credential and policy is run on every 401.
func New(cfg Config, tokens TokenSource, policy UnauthorizedPolicy, log *zap.Logger, opts ...Option) (*Gateway, error) {
	base, err := ResolveBase(cfg.Origin, cfg.LocalOrigin)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	o := options{transport: http.DefaultTransport}
	for _, opt := range opts {
		opt(&o)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	rt := Chain(o.transport,
		RequestID(),
		Logging(log),
		Bearer(tokens),
		Unauthorized(policy),
	)
	return &Gateway{
		base: base,
		hc:   &http.Client{Transport: rt, Timeout: timeout},
		log:  log,
	}, nil
}

// Base returns the resolved base URL.
func (g *Gateway) Base() string { return g.base.String() }

func (g *Gateway) url(path string, q url.Values) string {
	u := *g.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// do sends req and returns the response when the status is 2xx.
func (g *Gateway) do(req *http.Request) (*http.Response, error) {
	resp, err := g.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %w", req.Method, req.URL.Path, errs.ErrTransport, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, decodeError(resp)
}

func decodeError(resp *http.Response) error {
	ae := &errs.APIError{}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if len(body) > 0 {
		// non-JSON bodies leave the message empty so callers use their fallback
		_ = json.Unmarshal(body, ae)
	}
	ae.Status = resp.StatusCode
	return ae
}

func decodeJSON(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w: %w", resp.Request.URL.Path, errs.ErrTransport, err)
	}
	return nil
}

// doJSON sends an optional JSON body and decodes an optional JSON response.
func (g *Gateway) doJSON(ctx context.Context, method, path string, q url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.url(path, q), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := g.do(req)
	if err != nil {
		return err
	}
	return decodeJSON(resp, out)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// doMultipart posts text fields plus one file part.
func (g *Gateway) doMultipart(ctx context.Context, path string, fields map[string]string, fileField string, f model.ResumeFile, out any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(fileField), quoteEscaper.Replace(f.Name)))
	ct := f.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := part.Write(f.Data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url(path, nil), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	resp, err := g.do(req)
	if err != nil {
		return err
	}
	return decodeJSON(resp, out)
}

// doBytes fetches a raw binary representation.
func (g *Gateway) doBytes(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.url(path, nil), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/octet-stream, application/pdf")
	resp, err := g.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w: %w", path, errs.ErrTransport, err)
	}
	return b, nil
}
