package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/resumatch/internal/errs"
	"github.com/and161185/resumatch/internal/fakeapi"
	"github.com/and161185/resumatch/internal/model"
	"github.com/and161185/resumatch/internal/repository/memory"
	"github.com/and161185/resumatch/internal/session"
)

func init() { gin.SetMode(gin.TestMode) }

type staticToken string

func (s staticToken) Token() string { return string(s) }

type countingPolicy struct{ n atomic.Int32 }

func (c *countingPolicy) HandleUnauthorized(context.Context) { c.n.Add(1) }

func newGateway(t *testing.T, origin string, tokens TokenSource, policy UnauthorizedPolicy, opts ...Option) *Gateway {
	t.Helper()
	g, err := New(Config{Origin: origin, Timeout: 5 * time.Second}, tokens, policy, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	return g
}

func TestResolveBase(t *testing.T) {
	t.Parallel()
	cases := []struct {
		origin, local, want string
		wantErr            bool
	}{
		{origin: "https://api.example.com", local: "http://localhost:8080", want: "https://api.example.com/api"},
		{origin: "https://api.example.com/", want: "https://api.example.com/api"},
		{origin: "", local: "http://localhost:8080", want: "http://localhost:8080/api"},
		{origin: "  ", local: "http://localhost:9000/", want: "http://localhost:9000/api"},
		{origin: "", local: "", wantErr: true},
		{origin: "api.example.com", wantErr: true},
	}
	for _, tc := range cases {
		u, err := ResolveBase(tc.origin, tc.local)
		if tc.wantErr {
			require.Error(t, err, "%q/%q", tc.origin, tc.local)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, tc.want, u.String())
	}
}

func TestGateway_BearerOnlyWithSession(t *testing.T) {
	t.Parallel()
	var seen []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("Authorization"))
		mu.Unlock()
		assert.NotEmpty(t, r.Header.Get(HeaderRequestID))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":1,"name":"A","email":"a@b.com","role":"USER","createdAt":"2024-01-01T00:00:00"}`)
	}))
	defer srv.Close()

	_, err := newGateway(t, srv.URL, staticToken(""), nil).Profile(context.Background())
	require.NoError(t, err)
	p, err := newGateway(t, srv.URL, staticToken("t1"), nil).Profile(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a@b.com", p.Email)

	require.Equal(t, []string{"", "Bearer t1"}, seen)
}

func TestGateway_PinnedRequestID(t *testing.T) {
	t.Parallel()
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get(HeaderRequestID)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ctx := WithRequestID(context.Background(), "rid-1")
	require.NoError(t, newGateway(t, srv.URL, nil, nil).DeleteAnalysis(ctx, 3))
	require.Equal(t, "rid-1", <-got)
}

func TestGateway_ErrorPayload(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/analyze/1":
			w.WriteHeader(http.StatusNotFound)
		case "/api/analyze/2":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"timestamp":"2024-01-01T00:00:00","status":400,"error":"Validation Failed","message":"Input validation failed","details":{"email":"must be valid"}}`)
		default:
			w.WriteHeader(http.StatusBadGateway)
			_, _ = io.WriteString(w, "<html>bad gateway</html>")
		}
	}))
	defer srv.Close()
	g := newGateway(t, srv.URL, nil, nil)

	_, err := g.Analysis(context.Background(), 1)
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.Equal(t, "Analysis failed", errs.Message(err, "Analysis failed"))

	_, err = g.Analysis(context.Background(), 2)
	var ae *errs.APIError
	require.ErrorAs(t, err, &ae)
	require.Equal(t, http.StatusBadRequest, ae.Status)
	require.Equal(t, "must be valid", ae.Details["email"])
	require.Equal(t, "Input validation failed", errs.Message(err, "x"))

	_, err = g.Analysis(context.Background(), 3)
	require.ErrorAs(t, err, &ae)
	require.Equal(t, http.StatusBadGateway, ae.Status)
	require.Equal(t, "fallback", errs.Message(err, "fallback"))
}

func TestGateway_TimeoutIsTransport(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	g, err := New(Config{Origin: srv.URL, Timeout: 50 * time.Millisecond}, nil, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	_, err = g.History(context.Background(), 0, 50)
	require.ErrorIs(t, err, errs.ErrTransport)
}

func TestGateway_UndecodableBodyIsTransport(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "not json")
	}))
	defer srv.Close()
	_, err := newGateway(t, srv.URL, nil, nil).History(context.Background(), 0, 50)
	require.ErrorIs(t, err, errs.ErrTransport)
}

func TestGateway_UnauthorizedRunsPolicyBeforeReturn(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	pol := &countingPolicy{}
	_, err := newGateway(t, srv.URL, staticToken("t1"), pol).History(context.Background(), 0, 50)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	require.Equal(t, int32(1), pol.n.Load())
}

func TestGateway_ConcurrentUnauthorizedSingleTeardown(t *testing.T) {
	t.Parallel()
	api := fakeapi.New([]byte("k"))
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	var navs atomic.Int32
	store := session.New(memory.NewSlotRepo(), session.NavigatorFunc(func() { navs.Add(1) }), zaptest.NewLogger(t))
	require.NoError(t, store.Restore(context.Background()))
	g := newGateway(t, srv.URL, store, store)

	id, tok, err := g.Register(context.Background(), "A", "a@b.com", "secret")
	require.NoError(t, err)
	require.NoError(t, store.Commit(context.Background(), id, tok))

	api.RevokeAll()

	var wg sync.WaitGroup
	errCh := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.History(context.Background(), 0, 50)
			// teardown completes before any caller sees the error
			if store.State() != session.Unauthenticated {
				err = errors.New("error observed before teardown")
			}
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.ErrorIs(t, err, errs.ErrUnauthorized)
	}
	require.Equal(t, int32(1), navs.Load())
	require.Equal(t, session.Unauthenticated, store.State())
}

func TestGateway_LoginFailureWithoutSessionKeepsMessage(t *testing.T) {
	t.Parallel()
	api := fakeapi.New([]byte("k"))
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	var navs atomic.Int32
	store := session.New(memory.NewSlotRepo(), session.NavigatorFunc(func() { navs.Add(1) }), nil)
	require.NoError(t, store.Restore(context.Background()))
	g := newGateway(t, srv.URL, store, store)

	_, _, err := g.Login(context.Background(), "nobody@b.com", "secret")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	require.Equal(t, "Invalid email or password", errs.Message(err, "Login failed"))
	require.Equal(t, int32(0), navs.Load())
}

func TestGateway_AnalyzeMultipartAndReport(t *testing.T) {
	t.Parallel()
	api := fakeapi.New([]byte("k"))
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	tok := staticToken("")
	g := newGateway(t, srv.URL, &tok, nil)
	_, cred, err := g.Register(context.Background(), "A", "a@b.com", "secret")
	require.NoError(t, err)
	tok = staticToken(cred)

	res, err := g.Analyze(context.Background(), "Go and Kubernetes", model.ResumeFile{
		Name: "cv.txt", ContentType: "text/plain", Data: []byte("I write Go"),
	})
	require.NoError(t, err)
	require.Equal(t, []string{"go"}, res.MatchedSkills)
	require.Equal(t, []string{"kubernetes"}, res.MissingSkills)
	require.NotNil(t, res.ATSCompatible)

	got, err := g.Analysis(context.Background(), res.ID)
	require.NoError(t, err)
	require.Equal(t, res, got)

	hist, err := g.History(context.Background(), 0, 50)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.Equal(t, res.ID, hist[0].ID)

	pdf, err := g.Report(context.Background(), res.ID)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(pdf), "%PDF-"))

	require.NoError(t, g.DeleteAnalysis(context.Background(), res.ID))
	_, err = g.Analysis(context.Background(), res.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestMultipartRequestShape(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "job", r.FormValue(FieldJobDescription))
		f, fh, err := r.FormFile(FieldResume)
		if assert.NoError(t, err) {
			defer f.Close()
			assert.Equal(t, `my "cv".pdf`, fh.Filename)
			assert.Equal(t, "application/pdf", fh.Header.Get("Content-Type"))
		}
		_, _ = io.WriteString(w, `{"analysisId":9,"matchPercentage":1,"resumeScore":0.1}`)
	}))
	defer srv.Close()

	res, err := newGateway(t, srv.URL, nil, nil).Analyze(context.Background(), "job",
		model.ResumeFile{Name: `my "cv".pdf`, ContentType: "application/pdf", Data: []byte("%PDF-1.4")})
	require.NoError(t, err)
	require.Equal(t, int64(9), res.ID)
	require.Equal(t, []string{}, res.Suggestions)
}
