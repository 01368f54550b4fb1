package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/and161185/resumatch/internal/errs"
	"github.com/and161185/resumatch/internal/model"
)

// Paging defaults.
const (
	DefaultPage     = 0
	DefaultPageSize = 20
	BrowsePageSize  = 50
	DashboardSize   = 5
)

// HistoryAPI is the part of the gateway the history workflow uses.
type HistoryAPI interface {
	History(ctx context.Context, page, size int) ([]model.HistoryEntry, error)
	Analysis(ctx context.Context, id int64) (model.AnalysisResult, error)
	DeleteAnalysis(ctx context.Context, id int64) error
	Report(ctx context.Context, id int64) ([]byte, error)
}

// Confirmer asks the user to approve a destructive action.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) bool
}

// ConfirmerFunc adapts a function to Confirmer.
type ConfirmerFunc func(ctx context.Context, prompt string) bool

func (f ConfirmerFunc) Confirm(ctx context.Context, prompt string) bool { return f(ctx, prompt) }

// Blob is a temporary client-side handle on downloaded bytes.
type Blob interface {
	// Name is the file name the download should carry.
	Name() string
	// Location is where the bytes live until Release.
	Location() string
	Release() error
}

// BlobStore materializes bytes as a Blob.
type BlobStore interface {
	Create(name string, data []byte) (Blob, error)
}

// Downloader hands a Blob over to the user.
type Downloader interface {
	Download(ctx context.Context, b Blob) error
}

// ReportFilename is the deterministic download name of a report.
func ReportFilename(id int64) string {
	return fmt.Sprintf("resume-analysis-report-%d.pdf", id)
}

// Summary is the dashboard view over the most recent analyses.
type Summary struct {
	Recent       []model.HistoryEntry
	Count        int
	AverageMatch float64
}

// HistoryWorkflow lists, inspects, deletes and exports past analyses.
type HistoryWorkflow struct {
	api     HistoryAPI
	confirm Confirmer
	blobs   BlobStore
	dl      Downloader
	log     *zap.Logger

	mu        sync.Mutex
	entries   []model.HistoryEntry
	loading   bool
	listGen   uint64
	detail    *model.AnalysisResult
	detailGen uint64
}

// NewHistoryWorkflow constructs a HistoryWorkflow. A nil confirmer refuses every removal.
func NewHistoryWorkflow(api HistoryAPI, confirm Confirmer, blobs BlobStore, dl Downloader, log *zap.Logger) *HistoryWorkflow {
	if log == nil {
		log = zap.NewNop()
	}
	if confirm == nil {
		confirm = ConfirmerFunc(func(context.Context, string) bool { return false })
	}
	return &HistoryWorkflow{api: api, confirm: confirm, blobs: blobs, dl: dl, log: log}
}

// Entries returns a copy of the current list in server order.
func (w *HistoryWorkflow) Entries() []model.HistoryEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]model.HistoryEntry(nil), w.entries...)
}

// Loading reports whether the latest List call is still in flight.
func (w *HistoryWorkflow) Loading() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loading
}

// List fetches one page and replaces the list with it. The response is
// discarded with errs.ErrDiscarded when t has been withdrawn or a newer List
// was started meanwhile. A failed fetch leaves the list unchanged.
func (w *HistoryWorkflow) List(ctx context.Context, t *Ticket, page, size int) ([]model.HistoryEntry, error) {
	w.mu.Lock()
	w.listGen++
	gen := w.listGen
	w.loading = true
	w.mu.Unlock()

	entries, err := w.api.History(ctx, page, size)

	w.mu.Lock()
	defer w.mu.Unlock()
	if gen != w.listGen {
		return nil, errs.ErrDiscarded
	}
	w.loading = false
	if t.Withdrawn() {
		return nil, errs.ErrDiscarded
	}
	if err != nil {
		w.log.Warn("list history", zap.Int("page", page), zap.Int("size", size), zap.Error(err))
		return nil, err
	}
	w.entries = entries
	return append([]model.HistoryEntry(nil), entries...), nil
}

// Detail fetches one analysis into the detail view. On failure the detail
// view is closed rather than reporting an error banner.
func (w *HistoryWorkflow) Detail(ctx context.Context, t *Ticket, id int64) (model.AnalysisResult, error) {
	w.mu.Lock()
	w.detailGen++
	gen := w.detailGen
	w.mu.Unlock()

	res, err := w.api.Analysis(ctx, id)

	w.mu.Lock()
	defer w.mu.Unlock()
	if gen != w.detailGen || t.Withdrawn() {
		return model.AnalysisResult{}, errs.ErrDiscarded
	}
	if err != nil {
		w.log.Debug("detail unavailable", zap.Int64("id", id), zap.Error(err))
		w.detail = nil
		return model.AnalysisResult{}, err
	}
	w.detail = &res
	return res, nil
}

// OpenDetail returns the analysis in the detail view, if any.
func (w *HistoryWorkflow) OpenDetail() (model.AnalysisResult, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.detail == nil {
		return model.AnalysisResult{}, false
	}
	return *w.detail, true
}

// CloseDetail closes the detail view and drops any detail fetch in flight.
func (w *HistoryWorkflow) CloseDetail() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.detailGen++
	w.detail = nil
}

// Remove deletes an analysis after confirmation. It reports false without a
// network call when the user declines. On failure the list is left unchanged.
func (w *HistoryWorkflow) Remove(ctx context.Context, id int64) (bool, error) {
	if !w.confirm.Confirm(ctx, fmt.Sprintf("Delete analysis #%d?", id)) {
		return false, nil
	}
	if err := w.api.DeleteAnalysis(ctx, id); err != nil {
		w.log.Warn("delete analysis", zap.Int64("id", id), zap.Error(err))
		return false, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	kept := w.entries[:0:0]
	for _, e := range w.entries {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	w.entries = kept
	if w.detail != nil && w.detail.ID == id {
		w.detail = nil
	}
	return true, nil
}

// ExportReport downloads the report of one analysis and hands it to the
// downloader. The temporary blob is released exactly once whether the
// download succeeds, fails or panics.
func (w *HistoryWorkflow) ExportReport(ctx context.Context, id int64) error {
	data, err := w.api.Report(ctx, id)
	if err != nil {
		w.log.Warn("fetch report", zap.Int64("id", id), zap.Error(err))
		return err
	}
	blob, err := w.blobs.Create(ReportFilename(id), data)
	if err != nil {
		w.log.Warn("stage report", zap.Int64("id", id), zap.Error(err))
		return err
	}
	defer func() {
		if rerr := blob.Release(); rerr != nil {
			w.log.Warn("release report blob", zap.String("location", blob.Location()), zap.Error(rerr))
		}
	}()

	if err := w.download(ctx, blob); err != nil {
		w.log.Warn("download report", zap.Int64("id", id), zap.Error(err))
		return err
	}
	return nil
}

func (w *HistoryWorkflow) download(ctx context.Context, b Blob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("download %s: panic: %v", b.Name(), r)
		}
	}()
	return w.dl.Download(ctx, b)
}

// Dashboard summarizes the most recent analyses without touching the browsing list.
func (w *HistoryWorkflow) Dashboard(ctx context.Context, t *Ticket) (Summary, error) {
	recent, err := w.api.History(ctx, DefaultPage, DashboardSize)
	if t.Withdrawn() {
		return Summary{}, errs.ErrDiscarded
	}
	if err != nil {
		return Summary{}, err
	}
	s := Summary{Recent: recent, Count: len(recent)}
	if s.Count > 0 {
		var sum float64
		for _, e := range recent {
			sum += e.MatchPercentage
		}
		s.AverageMatch = sum / float64(s.Count)
	}
	return s, nil
}
