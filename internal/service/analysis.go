package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/resumatch/internal/errs"
	"github.com/and161185/resumatch/internal/model"
)

// User-facing analysis messages.
const (
	MsgInvalidFile    = "Please upload a PDF or DOCX file."
	MsgMissingInput   = "Please provide both job description and resume file."
	MsgFileTooLarge   = "Resume file must be 10MB or smaller."
	MsgAnalysisFailed = "Analysis failed"
)

// MaxResumeSize is the largest resume accepted for upload.
const MaxResumeSize = 10 << 20

// DefaultSuccessWindow is how long the success signal stays visible.
const DefaultSuccessWindow = 2 * time.Second

var (
	allowedExt  = map[string]bool{".pdf": true, ".docx": true, ".txt": true}
	allowedMIME = map[string]bool{
		"application/pdf": true,
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
		"text/plain": true,
	}
)

// ValidateFile accepts a resume whose extension or declared MIME type is pdf, docx or txt.
func ValidateFile(f model.ResumeFile) error {
	ext := strings.ToLower(filepath.Ext(f.Name))
	mt := strings.ToLower(strings.TrimSpace(strings.SplitN(f.ContentType, ";", 2)[0]))
	if !allowedExt[ext] && !allowedMIME[mt] {
		return errs.Invalid("resume", MsgInvalidFile)
	}
	if len(f.Data) > MaxResumeSize {
		return errs.Invalid("resume", MsgFileTooLarge)
	}
	return nil
}

// ValidateRequest is the pre-network gate of a submission.
func ValidateRequest(jobDescription string, f *model.ResumeFile) error {
	if f == nil || strings.TrimSpace(jobDescription) == "" {
		return errs.Invalid("input", MsgMissingInput)
	}
	return ValidateFile(*f)
}

// AnalysisAPI is the part of the gateway the analysis workflow uses.
type AnalysisAPI interface {
	Analyze(ctx context.Context, jobDescription string, file model.ResumeFile) (model.AnalysisResult, error)
}

// AnalysisState is the state of one analysis invocation.
type AnalysisState int

const (
	Composing AnalysisState = iota
	Validating
	Submitting
	ShowingResult
	Failed
)

func (s AnalysisState) String() string {
	switch s {
	case Composing:
		return "composing"
	case Validating:
		return "validating"
	case Submitting:
		return "submitting"
	case ShowingResult:
		return "result"
	case Failed:
		return "error"
	}
	return fmt.Sprintf("AnalysisState(%d)", int(s))
}

// SuccessSignal is emitted once per successful submit and is meant to be
// displayed from Shown until Until.
type SuccessSignal struct {
	AnalysisID int64
	Shown      time.Time
	Until      time.Time
}

// Visible reports whether the signal is still within its display window.
func (s SuccessSignal) Visible(now time.Time) bool {
	return !s.Until.IsZero() && !now.Before(s.Shown) && now.Before(s.Until)
}

// AnalysisOption customizes an AnalysisWorkflow.
type AnalysisOption func(*AnalysisWorkflow)

// WithAnalysisClock overrides the time source used for the success window.
func WithAnalysisClock(now func() time.Time) AnalysisOption {
	return func(w *AnalysisWorkflow) { w.now = now }
}

// WithSuccessWindow sets the display duration of the success signal.
func WithSuccessWindow(d time.Duration) AnalysisOption {
	return func(w *AnalysisWorkflow) {
		if d > 0 {
			w.window = d
		}
	}
}

// AnalysisWorkflow drives composing, validating and submitting one analysis.
type AnalysisWorkflow struct {
	api    AnalysisAPI
	log    *zap.Logger
	now    func() time.Time
	window time.Duration

	mu      sync.Mutex
	state   AnalysisState
	gen     uint64
	job     string
	file    *model.ResumeFile
	result  *model.AnalysisResult
	errMsg  string
	signal  SuccessSignal
	subs    map[int]func(SuccessSignal)
	nextSub int
}

// NewAnalysisWorkflow constructs a workflow in the Composing state.
func NewAnalysisWorkflow(api AnalysisAPI, log *zap.Logger, opts ...AnalysisOption) *AnalysisWorkflow {
	if log == nil {
		log = zap.NewNop()
	}
	w := &AnalysisWorkflow{
		api:    api,
		log:    log,
		now:    time.Now,
		window: DefaultSuccessWindow,
		subs:   map[int]func(SuccessSignal){},
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// SetJobDescription updates the job text being composed.
func (w *AnalysisWorkflow) SetJobDescription(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.job = text
}

// SetFile chooses the resume. An unacceptable file is rejected immediately:
// the choice is cleared and the validation message recorded.
func (w *AnalysisWorkflow) SetFile(f model.ResumeFile) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := ValidateFile(f); err != nil {
		w.file = nil
		w.errMsg = errs.Message(err, MsgInvalidFile)
		return err
	}
	w.file = &f
	w.errMsg = ""
	return nil
}

// JobDescription returns the job text being composed.
func (w *AnalysisWorkflow) JobDescription() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.job
}

// File returns the chosen resume, if any.
func (w *AnalysisWorkflow) File() (model.ResumeFile, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return model.ResumeFile{}, false
	}
	return *w.file, true
}

// State returns the current state.
func (w *AnalysisWorkflow) State() AnalysisState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Pending reports whether a submission is in flight.
func (w *AnalysisWorkflow) Pending() bool {
	return w.State() == Submitting
}

// Result returns the received result in the ShowingResult state.
func (w *AnalysisWorkflow) Result() (model.AnalysisResult, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.result == nil {
		return model.AnalysisResult{}, false
	}
	return *w.result, true
}

// Err returns the message to show for the last failure, "" if none.
func (w *AnalysisWorkflow) Err() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.errMsg
}

// Success returns the last success signal while it is visible.
func (w *AnalysisWorkflow) Success() (SuccessSignal, bool) {
	w.mu.Lock()
	sig := w.signal
	w.mu.Unlock()
	return sig, sig.Visible(w.now())
}

// OnSuccess registers fn to receive success signals and returns an unsubscribe func.
func (w *AnalysisWorkflow) OnSuccess(fn func(SuccessSignal)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextSub
	w.nextSub++
	w.subs[id] = fn
	return func() {
		w.mu.Lock()
		delete(w.subs, id)
		w.mu.Unlock()
	}
}

// Submit validates the composed input and sends it. Validation failures never
// reach the network and leave the workflow composing. A submit while another is
// pending returns errs.ErrBusy. On failure the composed input is preserved.
func (w *AnalysisWorkflow) Submit(ctx context.Context) (model.AnalysisResult, error) {
	w.mu.Lock()
	if w.state == Submitting {
		w.mu.Unlock()
		return model.AnalysisResult{}, errs.ErrBusy
	}
	w.state = Validating
	w.result = nil
	w.signal = SuccessSignal{}
	if err := ValidateRequest(w.job, w.file); err != nil {
		w.state = Composing
		w.errMsg = errs.Message(err, MsgMissingInput)
		w.mu.Unlock()
		return model.AnalysisResult{}, err
	}
	w.state = Submitting
	w.errMsg = ""
	gen := w.gen
	job, file := strings.TrimSpace(w.job), *w.file
	w.mu.Unlock()

	res, err := w.api.Analyze(ctx, job, file)

	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		return model.AnalysisResult{}, errs.ErrDiscarded
	}
	if err != nil {
		w.state = Failed
		w.errMsg = errs.Message(err, MsgAnalysisFailed)
		w.mu.Unlock()
		return model.AnalysisResult{}, err
	}
	now := w.now()
	w.state = ShowingResult
	w.result = &res
	w.signal = SuccessSignal{AnalysisID: res.ID, Shown: now, Until: now.Add(w.window)}
	sig := w.signal
	fns := make([]func(SuccessSignal), 0, len(w.subs))
	for _, fn := range w.subs {
		fns = append(fns, fn)
	}
	w.mu.Unlock()

	for _, fn := range fns {
		fn(sig)
	}
	return res, nil
}

// Reset discards the result, error and composed input. A submission still in
// flight is discarded when it completes.
func (w *AnalysisWorkflow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gen++
	w.state = Composing
	w.job = ""
	w.file = nil
	w.result = nil
	w.errMsg = ""
	w.signal = SuccessSignal{}
}
