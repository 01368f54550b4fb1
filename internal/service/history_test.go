package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/resumatch/internal/errs"
	"github.com/and161185/resumatch/internal/model"
)

type fakeHistoryAPI struct {
	mu      sync.Mutex
	pages   map[int][]model.HistoryEntry
	listErr error
	// gates, when set for a page, hold History until closed.
	gates map[int]chan struct{}

	results   map[int64]model.AnalysisResult
	deleteErr error
	deleted   []int64
	report    []byte
	reportErr error
	calls     map[string]int
}

func newFakeHistory() *fakeHistoryAPI {
	return &fakeHistoryAPI{
		pages:   map[int][]model.HistoryEntry{},
		gates:   map[int]chan struct{}{},
		results: map[int64]model.AnalysisResult{},
		calls:   map[string]int{},
	}
}

func (f *fakeHistoryAPI) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeHistoryAPI) History(_ context.Context, page, size int) ([]model.HistoryEntry, error) {
	f.mu.Lock()
	f.calls["history"]++
	gate := f.gates[page]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := f.pages[page]
	if len(out) > size {
		out = out[:size]
	}
	return out, nil
}

func (f *fakeHistoryAPI) Analysis(_ context.Context, id int64) (model.AnalysisResult, error) {
	r, ok := f.results[id]
	if !ok {
		return model.AnalysisResult{}, errs.ErrNotFound
	}
	return r, nil
}

func (f *fakeHistoryAPI) DeleteAnalysis(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["delete"]++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeHistoryAPI) Report(_ context.Context, id int64) ([]byte, error) {
	if f.reportErr != nil {
		return nil, f.reportErr
	}
	return f.report, nil
}

var yes = ConfirmerFunc(func(context.Context, string) bool { return true })

type memBlob struct {
	name     string
	data     []byte
	releases *int
}

func (b *memBlob) Name() string     { return b.name }
func (b *memBlob) Location() string { return "mem:" + b.name }
func (b *memBlob) Release() error {
	*b.releases++
	return nil
}

type memBlobs struct {
	releases int
	created  []string
}

func (m *memBlobs) Create(name string, data []byte) (Blob, error) {
	m.created = append(m.created, name)
	return &memBlob{name: name, data: data, releases: &m.releases}, nil
}

type downloaderFunc func(ctx context.Context, b Blob) error

func (f downloaderFunc) Download(ctx context.Context, b Blob) error { return f(ctx, b) }

func TestHistory_ListThenRemove(t *testing.T) {
	t.Parallel()
	api := newFakeHistory()
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	api.pages[0] = []model.HistoryEntry{{ID: 7, MatchPercentage: 82, ResumeScore: 8, CreatedAt: created}}
	api.results[7] = model.AnalysisResult{ID: 7}
	w := NewHistoryWorkflow(api, yes, nil, nil, zaptest.NewLogger(t))

	got, err := w.List(context.Background(), NewTicket(), 0, BrowsePageSize)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.False(t, w.Loading())

	_, err = w.Detail(context.Background(), NewTicket(), 7)
	require.NoError(t, err)

	ok, err := w.Remove(context.Background(), 7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, w.Entries())
	_, open := w.OpenDetail()
	require.False(t, open, "detail of the removed entry closes")
	require.Equal(t, []int64{7}, api.deleted)
}

func TestHistory_RemoveNeedsConfirmationAndKeepsListOnFailure(t *testing.T) {
	t.Parallel()
	api := newFakeHistory()
	api.pages[0] = []model.HistoryEntry{{ID: 1}, {ID: 2}}

	declined := NewHistoryWorkflow(api, nil, nil, nil, nil)
	_, err := declined.List(context.Background(), nil, 0, 50)
	require.NoError(t, err)
	ok, err := declined.Remove(context.Background(), 1)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 0, api.count("delete"))

	var prompt string
	w := NewHistoryWorkflow(api, ConfirmerFunc(func(_ context.Context, p string) bool { prompt = p; return true }), nil, nil, nil)
	_, err = w.List(context.Background(), nil, 0, 50)
	require.NoError(t, err)
	api.deleteErr = errs.ErrTransport
	ok, err = w.Remove(context.Background(), 2)
	require.ErrorIs(t, err, errs.ErrTransport)
	require.False(t, ok)
	require.Equal(t, "Delete analysis #2?", prompt)
	require.Equal(t, []model.HistoryEntry{{ID: 1}, {ID: 2}}, w.Entries())
}

func TestHistory_WithdrawnTicketDiscardsResponse(t *testing.T) {
	t.Parallel()
	api := newFakeHistory()
	api.pages[0] = []model.HistoryEntry{{ID: 1}}
	gate := make(chan struct{})
	api.gates[0] = gate
	w := NewHistoryWorkflow(api, nil, nil, nil, nil)

	tk := NewTicket()
	done := make(chan error, 1)
	go func() {
		_, err := w.List(context.Background(), tk, 0, 50)
		done <- err
	}()
	require.Eventually(t, func() bool { return api.count("history") == 1 }, time.Second, time.Millisecond)
	require.True(t, w.Loading())

	tk.Withdraw()
	close(gate)
	require.ErrorIs(t, <-done, errs.ErrDiscarded)
	require.Empty(t, w.Entries())
	require.Equal(t, 1, api.count("history"), "the request still completes")
}

func TestHistory_StaleListDoesNotOverwriteNewer(t *testing.T) {
	t.Parallel()
	api := newFakeHistory()
	api.pages[0] = []model.HistoryEntry{{ID: 1}}
	api.pages[1] = []model.HistoryEntry{{ID: 2}}
	slow := make(chan struct{})
	api.gates[0] = slow
	w := NewHistoryWorkflow(api, nil, nil, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := w.List(context.Background(), NewTicket(), 0, 50)
		done <- err
	}()
	require.Eventually(t, func() bool { return api.count("history") == 1 }, time.Second, time.Millisecond)

	_, err := w.List(context.Background(), NewTicket(), 1, 50)
	require.NoError(t, err)
	close(slow)
	require.ErrorIs(t, <-done, errs.ErrDiscarded)
	require.Equal(t, []model.HistoryEntry{{ID: 2}}, w.Entries())
	require.False(t, w.Loading())
}

func TestHistory_ListFailureKeepsEntries(t *testing.T) {
	t.Parallel()
	api := newFakeHistory()
	api.pages[0] = []model.HistoryEntry{{ID: 1}}
	w := NewHistoryWorkflow(api, nil, nil, nil, nil)
	_, err := w.List(context.Background(), nil, 0, 50)
	require.NoError(t, err)

	api.listErr = errs.ErrTransport
	_, err = w.List(context.Background(), nil, 0, 50)
	require.ErrorIs(t, err, errs.ErrTransport)
	require.Len(t, w.Entries(), 1)
}

func TestHistory_DetailFailureClosesView(t *testing.T) {
	t.Parallel()
	api := newFakeHistory()
	api.results[3] = model.AnalysisResult{ID: 3, MatchedSkills: []string{"go"}}
	w := NewHistoryWorkflow(api, nil, nil, nil, nil)

	_, err := w.Detail(context.Background(), nil, 3)
	require.NoError(t, err)
	d, ok := w.OpenDetail()
	require.True(t, ok)
	require.Equal(t, int64(3), d.ID)

	_, err = w.Detail(context.Background(), nil, 4)
	require.ErrorIs(t, err, errs.ErrNotFound)
	_, ok = w.OpenDetail()
	require.False(t, ok)

	_, err = w.Detail(context.Background(), nil, 3)
	require.NoError(t, err)
	w.CloseDetail()
	_, ok = w.OpenDetail()
	require.False(t, ok)
}

func TestHistory_ExportReleasesExactlyOnce(t *testing.T) {
	t.Parallel()
	cases := map[string]downloaderFunc{
		"ok":     func(context.Context, Blob) error { return nil },
		"error":  func(context.Context, Blob) error { return errors.New("disk full") },
		"panics": func(context.Context, Blob) error { panic("trigger failed") },
	}
	for name, dl := range cases {
		name, dl := name, dl
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			api := newFakeHistory()
			api.report = []byte("%PDF-1.4")
			blobs := &memBlobs{}
			var downloads int
			var gotName string
			w := NewHistoryWorkflow(api, nil, blobs, downloaderFunc(func(ctx context.Context, b Blob) error {
				downloads++
				gotName = b.Name()
				return dl(ctx, b)
			}), nil)

			err := w.ExportReport(context.Background(), 5)
			if name == "ok" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
			require.Equal(t, 1, downloads)
			require.Equal(t, 1, blobs.releases)
			require.Equal(t, "resume-analysis-report-5.pdf", gotName)
		})
	}
}

func TestHistory_ExportFetchFailureAcquiresNothing(t *testing.T) {
	t.Parallel()
	api := newFakeHistory()
	api.reportErr = errs.ErrNotFound
	blobs := &memBlobs{}
	w := NewHistoryWorkflow(api, nil, blobs, downloaderFunc(func(context.Context, Blob) error {
		t.Fatalf("download must not run")
		return nil
	}), nil)
	require.ErrorIs(t, w.ExportReport(context.Background(), 5), errs.ErrNotFound)
	require.Empty(t, blobs.created)
	require.Equal(t, 0, blobs.releases)
}

func TestHistory_Dashboard(t *testing.T) {
	t.Parallel()
	api := newFakeHistory()
	api.pages[0] = []model.HistoryEntry{
		{ID: 9, MatchPercentage: 90}, {ID: 8, MatchPercentage: 60}, {ID: 7, MatchPercentage: 30},
		{ID: 6, MatchPercentage: 20}, {ID: 5, MatchPercentage: 50}, {ID: 4, MatchPercentage: 100},
	}
	w := NewHistoryWorkflow(api, nil, nil, nil, nil)

	s, err := w.Dashboard(context.Background(), NewTicket())
	require.NoError(t, err)
	require.Equal(t, 5, s.Count)
	require.Equal(t, int64(9), s.Recent[0].ID)
	require.InDelta(t, 50.0, s.AverageMatch, 1e-9)
	require.Empty(t, w.Entries())

	tk := NewTicket()
	tk.Withdraw()
	_, err = w.Dashboard(context.Background(), tk)
	require.ErrorIs(t, err, errs.ErrDiscarded)

	empty := NewHistoryWorkflow(newFakeHistory(), nil, nil, nil, nil)
	s, err = empty.Dashboard(context.Background(), nil)
	require.NoError(t, err)
	require.Zero(t, s.Count)
	require.Zero(t, s.AverageMatch)
}

func TestTicket(t *testing.T) {
	t.Parallel()
	var nilTicket *Ticket
	require.False(t, nilTicket.Withdrawn())
	nilTicket.Withdraw()

	tk := NewTicket()
	require.False(t, tk.Withdrawn())
	tk.Withdraw()
	tk.Withdraw()
	require.True(t, tk.Withdrawn())
}
