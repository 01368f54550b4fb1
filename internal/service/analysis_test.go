package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/resumatch/internal/errs"
	"github.com/and161185/resumatch/internal/fakeapi"
	"github.com/and161185/resumatch/internal/gateway"
	"github.com/and161185/resumatch/internal/model"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeAnalyzeAPI struct {
	mu    sync.Mutex
	calls int
	got   []string
	res   model.AnalysisResult
	err   error
	block chan struct{}
	start chan struct{}
}

func (f *fakeAnalyzeAPI) Analyze(_ context.Context, job string, _ model.ResumeFile) (model.AnalysisResult, error) {
	f.mu.Lock()
	f.calls++
	f.got = append(f.got, job)
	f.mu.Unlock()
	if f.start != nil {
		f.start <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	return f.res, f.err
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var txtResume = model.ResumeFile{Name: "cv.txt", ContentType: "text/plain", Data: []byte("Go developer")}

func TestValidateFile(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		file model.ResumeFile
		ok   bool
	}{
		{"pdf ext", model.ResumeFile{Name: "cv.PDF"}, true},
		{"docx ext", model.ResumeFile{Name: "cv.docx", ContentType: "application/octet-stream"}, true},
		{"txt mime only", model.ResumeFile{Name: "resume", ContentType: "text/plain; charset=utf-8"}, true},
		{"pdf mime only", model.ResumeFile{Name: "blob", ContentType: "application/pdf"}, true},
		{"png", model.ResumeFile{Name: "cv.png", ContentType: "image/png"}, false},
		{"doc", model.ResumeFile{Name: "cv.doc", ContentType: "application/msword"}, false},
		{"no name no type", model.ResumeFile{}, false},
		{"too large", model.ResumeFile{Name: "cv.pdf", Data: make([]byte, MaxResumeSize+1)}, false},
	}
	for _, tc := range cases {
		err := ValidateFile(tc.file)
		if tc.ok {
			require.NoError(t, err, tc.name)
			continue
		}
		require.ErrorIs(t, err, errs.ErrValidation, tc.name)
	}
}

func TestAnalysis_InvalidInputNeverReachesNetwork(t *testing.T) {
	t.Parallel()
	api := &fakeAnalyzeAPI{}
	w := NewAnalysisWorkflow(api, nil)

	err := w.SetFile(model.ResumeFile{Name: "cv.png", ContentType: "image/png"})
	require.ErrorIs(t, err, errs.ErrValidation)
	require.Equal(t, MsgInvalidFile, w.Err())
	_, ok := w.File()
	require.False(t, ok)

	w.SetJobDescription("Go engineer")
	_, err = w.Submit(context.Background())
	require.ErrorIs(t, err, errs.ErrValidation)
	require.Equal(t, MsgMissingInput, w.Err())

	require.NoError(t, w.SetFile(txtResume))
	w.SetJobDescription("   \n\t")
	_, err = w.Submit(context.Background())
	require.ErrorIs(t, err, errs.ErrValidation)
	require.Equal(t, Composing, w.State())

	require.Equal(t, 0, api.calls)
}

func TestAnalysis_SuccessSignalWindow(t *testing.T) {
	t.Parallel()
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	api := &fakeAnalyzeAPI{res: model.AnalysisResult{ID: 5, MatchPercentage: 80}}
	w := NewAnalysisWorkflow(api, zaptest.NewLogger(t), WithAnalysisClock(clk.now))

	var signals []SuccessSignal
	unsub := w.OnSuccess(func(s SuccessSignal) { signals = append(signals, s) })
	defer unsub()

	require.NoError(t, w.SetFile(txtResume))
	w.SetJobDescription("  Go engineer  ")
	res, err := w.Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(5), res.ID)
	require.Equal(t, []string{"Go engineer"}, api.got)
	require.Equal(t, ShowingResult, w.State())

	require.Len(t, signals, 1)
	require.Equal(t, DefaultSuccessWindow, signals[0].Until.Sub(signals[0].Shown))

	_, visible := w.Success()
	require.True(t, visible)
	clk.advance(1999 * time.Millisecond)
	_, visible = w.Success()
	require.True(t, visible)
	clk.advance(time.Millisecond)
	_, visible = w.Success()
	require.False(t, visible)
}

func TestAnalysis_InvalidResubmitDropsPreviousResult(t *testing.T) {
	t.Parallel()
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	api := &fakeAnalyzeAPI{res: model.AnalysisResult{ID: 9, MatchPercentage: 70}}
	w := NewAnalysisWorkflow(api, nil, WithAnalysisClock(clk.now))

	require.NoError(t, w.SetFile(txtResume))
	w.SetJobDescription("Go engineer")
	_, err := w.Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, ShowingResult, w.State())
	_, ok := w.Result()
	require.True(t, ok)

	w.SetJobDescription("   ")
	_, err = w.Submit(context.Background())
	require.ErrorIs(t, err, errs.ErrValidation)
	require.Equal(t, Composing, w.State())
	require.Equal(t, MsgMissingInput, w.Err())
	_, ok = w.Result()
	require.False(t, ok)
	_, visible := w.Success()
	require.False(t, visible)
	require.Equal(t, 1, api.calls)
}

func TestAnalysis_FailurePreservesInput(t *testing.T) {
	t.Parallel()
	api := &fakeAnalyzeAPI{err: &errs.APIError{Status: http.StatusBadRequest, Message: "Only PDF, DOCX and TXT files are supported"}}
	w := NewAnalysisWorkflow(api, nil)
	require.NoError(t, w.SetFile(txtResume))
	w.SetJobDescription("Go engineer")

	_, err := w.Submit(context.Background())
	require.Error(t, err)
	require.Equal(t, Failed, w.State())
	require.Equal(t, "Only PDF, DOCX and TXT files are supported", w.Err())
	require.Equal(t, "Go engineer", w.JobDescription())
	f, ok := w.File()
	require.True(t, ok)
	require.Equal(t, txtResume.Name, f.Name)

	api.err = errs.ErrTransport
	_, err = w.Submit(context.Background())
	require.ErrorIs(t, err, errs.ErrTransport)
	require.Equal(t, MsgAnalysisFailed, w.Err())
	require.Equal(t, 2, api.calls)

	w.Reset()
	require.Equal(t, Composing, w.State())
	require.Empty(t, w.JobDescription())
	require.Empty(t, w.Err())
	_, ok = w.File()
	require.False(t, ok)
}

func TestAnalysis_PendingRejectsResubmitAndResetDiscards(t *testing.T) {
	t.Parallel()
	api := &fakeAnalyzeAPI{res: model.AnalysisResult{ID: 1}, block: make(chan struct{}), start: make(chan struct{}, 1)}
	w := NewAnalysisWorkflow(api, nil)
	require.NoError(t, w.SetFile(txtResume))
	w.SetJobDescription("Go")

	done := make(chan error, 1)
	go func() {
		_, err := w.Submit(context.Background())
		done <- err
	}()
	<-api.start
	require.True(t, w.Pending())
	_, err := w.Submit(context.Background())
	require.ErrorIs(t, err, errs.ErrBusy)

	w.Reset()
	close(api.block)
	require.ErrorIs(t, <-done, errs.ErrDiscarded)
	require.Equal(t, Composing, w.State())
	_, ok := w.Result()
	require.False(t, ok)
}

func TestAnalysis_SubmitThenDetailRoundTrip(t *testing.T) {
	t.Parallel()
	api := fakeapi.New([]byte("k"))
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	store, _ := newStore(t)
	gw, err := gateway.New(gateway.Config{Origin: srv.URL}, store, store, zaptest.NewLogger(t))
	require.NoError(t, err)
	_, err = NewAuthFlow(gw, store, nil).Register(context.Background(), "A", "a@b.com", "secret")
	require.NoError(t, err)

	aw := NewAnalysisWorkflow(gw, nil)
	require.NoError(t, aw.SetFile(model.ResumeFile{
		Name: "cv.txt", ContentType: "text/plain", Data: []byte("Go, Docker, SQL and Git"),
	}))
	aw.SetJobDescription("Go Kubernetes Docker Terraform")
	submitted, err := aw.Submit(context.Background())
	require.NoError(t, err)

	hw := NewHistoryWorkflow(gw, nil, nil, nil, nil)
	got, err := hw.Detail(context.Background(), NewTicket(), submitted.ID)
	require.NoError(t, err)
	require.Equal(t, submitted.MatchedSkills, got.MatchedSkills)
	require.Equal(t, submitted.MissingSkills, got.MissingSkills)
	require.Equal(t, submitted.Suggestions, got.Suggestions)

	// an unacceptable file is stopped before the gateway
	before := api.Calls("POST /api/analyze")
	aw.Reset()
	require.Error(t, aw.SetFile(model.ResumeFile{Name: "cv.exe", ContentType: "application/x-msdownload"}))
	aw.SetJobDescription("Go")
	_, err = aw.Submit(context.Background())
	require.ErrorIs(t, err, errs.ErrValidation)
	require.Equal(t, before, api.Calls("POST /api/analyze"))
}
