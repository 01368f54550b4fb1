package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/resumatch/internal/errs"
	"github.com/and161185/resumatch/internal/service"
	"github.com/and161185/resumatch/internal/session"
)

type usageError string

func (e usageError) Error() string { return string(e) }

type handler func(ctx context.Context, a *app, args []string) error

var commands = map[string]handler{
	"register":  cmdRegister,
	"login":     cmdLogin,
	"logout":    cmdLogout,
	"whoami":    cmdWhoami,
	"profile":   cmdProfile,
	"analyze":   cmdAnalyze,
	"history":   cmdHistory,
	"show":      cmdShow,
	"rm":        cmdRm,
	"report":    cmdReport,
	"dashboard": cmdDashboard,
}

var errNotLoggedIn = errors.New("not logged in; run `rmc login`")

func (a *app) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return usageError(fmt.Sprintf("%s: %v", fs.Name(), err))
	}
	return nil
}

func (a *app) requireSession() error {
	if a.store.State() != session.Authenticated {
		return errNotLoggedIn
	}
	return nil
}

// line reads one trimmed line from stdin.
func (a *app) line() (string, error) {
	s, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && s != "") {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

func (a *app) password(given string) (string, error) {
	if given != "" {
		return given, nil
	}
	fmt.Fprint(a.errOut, "password: ")
	return a.line()
}

func (a *app) auth() *service.AuthFlow { return service.NewAuthFlow(a.gw, a.store, a.log) }

func (a *app) history(confirm service.Confirmer, blobs service.BlobStore, dl service.Downloader) *service.HistoryWorkflow {
	return service.NewHistoryWorkflow(a.gw, confirm, blobs, dl, a.log)
}

// bestEffort reports a failed secondary action as a warning and leaves the exit
// status alone. A rejected credential still fails the command.
func (a *app) bestEffort(err error, fallback string) error {
	msg := errs.Message(err, fallback)
	if errors.Is(err, errs.ErrUnauthorized) {
		return errors.New(msg)
	}
	fmt.Fprintf(a.errOut, "warning: %s\n", msg)
	return nil
}

// ticketFor withdraws the returned ticket when ctx ends.
func ticketFor(ctx context.Context) (*service.Ticket, func()) {
	t := service.NewTicket()
	stop := context.AfterFunc(ctx, t.Withdraw)
	return t, func() { stop() }
}

func cmdRegister(ctx context.Context, a *app, args []string) error {
	fs := a.flags("register")
	name := fs.String("name", "", "display name")
	email := fs.String("email", "", "email")
	pw := fs.String("password", "", "password")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *name == "" || *email == "" {
		return usageError("register: need -name and -email")
	}
	p, err := a.password(*pw)
	if err != nil {
		return err
	}
	flow := a.auth()
	id, err := flow.Register(ctx, *name, *email, p)
	if err != nil {
		return errors.New(flow.Err())
	}
	fmt.Fprintf(a.out, "registered as %s <%s>\n", id.Name, id.Email)
	return nil
}

func cmdLogin(ctx context.Context, a *app, args []string) error {
	fs := a.flags("login")
	email := fs.String("email", "", "email")
	pw := fs.String("password", "", "password")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *email == "" {
		return usageError("login: need -email")
	}
	p, err := a.password(*pw)
	if err != nil {
		return err
	}
	flow := a.auth()
	id, err := flow.Login(ctx, *email, p)
	if err != nil {
		return errors.New(flow.Err())
	}
	fmt.Fprintf(a.out, "logged in as %s <%s>\n", id.Name, id.Email)
	return nil
}

func cmdLogout(ctx context.Context, a *app, _ []string) error {
	if a.store.State() != session.Authenticated {
		fmt.Fprintln(a.out, "not logged in")
		return nil
	}
	a.auth().Logout(ctx)
	return nil
}

func cmdWhoami(_ context.Context, a *app, _ []string) error {
	cur, ok := a.store.Current()
	if !ok {
		return errNotLoggedIn
	}
	id := cur.Identity
	fmt.Fprintf(a.out, "%s <%s>\nid:   %d\nrole: %s\n", id.Name, id.Email, id.ID, id.Role)
	if !cur.ExpiresAt.IsZero() {
		state := ""
		if cur.Expired(time.Now()) {
			state = " (expired)"
		}
		fmt.Fprintf(a.out, "credential expires: %s%s\n", cur.ExpiresAt.Local().Format(time.RFC1123), state)
	}
	return nil
}

func cmdProfile(ctx context.Context, a *app, _ []string) error {
	if err := a.requireSession(); err != nil {
		return err
	}
	p, ok := a.auth().Profile(ctx)
	if !ok {
		return errors.New("profile unavailable")
	}
	fmt.Fprintf(a.out, "%s <%s>\nid:      %d\nrole:    %s\nmember since: %s\n",
		p.Name, p.Email, p.ID, p.Role, p.CreatedAt.Local().Format("2006-01-02"))
	return nil
}

func cmdAnalyze(ctx context.Context, a *app, args []string) error {
	fs := a.flags("analyze")
	resume := fs.String("resume", "", "resume file (pdf, docx, txt; '-' = stdin)")
	job := fs.String("job", "", "job description text")
	jobFile := fs.String("job-file", "", "file with the job description ('-' = stdin)")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *resume == "-" && *jobFile == "-" {
		return usageError("analyze: only one of -resume and -job-file can read stdin")
	}
	if err := a.requireSession(); err != nil {
		return err
	}

	text := *job
	if *jobFile != "" {
		b, err := readInput(a.in, *jobFile)
		if err != nil {
			return err
		}
		text = string(b)
	}

	w := service.NewAnalysisWorkflow(a.gw, a.log, service.WithSuccessWindow(a.cfg.SuccessWindow))
	unsub := w.OnSuccess(func(s service.SuccessSignal) {
		fmt.Fprintf(a.errOut, "analysis #%d saved\n", s.AnalysisID)
	})
	defer unsub()

	if *resume != "" {
		f, err := readResume(a.in, *resume)
		if err != nil {
			return err
		}
		if err := w.SetFile(f); err != nil {
			return errors.New(w.Err())
		}
	}
	w.SetJobDescription(text)
	res, err := w.Submit(ctx)
	if err != nil {
		return errors.New(w.Err())
	}
	if *asJSON {
		return printJSON(a.out, wireAnalysis(res))
	}
	printResult(a.out, res)
	return nil
}

func cmdHistory(ctx context.Context, a *app, args []string) error {
	fs := a.flags("history")
	page := fs.Int("page", service.DefaultPage, "page number")
	size := fs.Int("size", a.cfg.PageSize, "page size")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *page < 0 || *size <= 0 {
		return usageError("history: -page must be >= 0 and -size > 0")
	}
	if err := a.requireSession(); err != nil {
		return err
	}
	t, done := ticketFor(ctx)
	defer done()
	entries, err := a.history(nil, nil, nil).List(ctx, t, *page, *size)
	if err != nil {
		return errors.New(errs.Message(err, "could not load history"))
	}
	if *asJSON {
		return printJSON(a.out, wireHistory(entries))
	}
	printEntries(a.out, entries)
	return nil
}

func cmdShow(ctx context.Context, a *app, args []string) error {
	fs := a.flags("show")
	id := fs.Int64("id", 0, "analysis id")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *id <= 0 {
		return usageError("show: need -id")
	}
	if err := a.requireSession(); err != nil {
		return err
	}
	t, done := ticketFor(ctx)
	defer done()
	res, err := a.history(nil, nil, nil).Detail(ctx, t, *id)
	if err != nil {
		return fmt.Errorf("analysis #%d is not available", *id)
	}
	if *asJSON {
		return printJSON(a.out, wireAnalysis(res))
	}
	printResult(a.out, res)
	return nil
}

func cmdRm(ctx context.Context, a *app, args []string) error {
	fs := a.flags("rm")
	id := fs.Int64("id", 0, "analysis id")
	yes := fs.Bool("yes", false, "do not ask for confirmation")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *id <= 0 {
		return usageError("rm: need -id")
	}
	if err := a.requireSession(); err != nil {
		return err
	}
	confirm := &promptConfirmer{a: a, assumeYes: *yes}
	removed, err := a.history(confirm, nil, nil).Remove(ctx, *id)
	if err != nil {
		return a.bestEffort(err, fmt.Sprintf("could not delete analysis #%d", *id))
	}
	if !removed {
		fmt.Fprintln(a.out, "cancelled")
		return nil
	}
	fmt.Fprintf(a.out, "deleted analysis #%d\n", *id)
	return nil
}

func cmdReport(ctx context.Context, a *app, args []string) error {
	fs := a.flags("report")
	id := fs.Int64("id", 0, "analysis id")
	dir := fs.String("o", ".", "output directory")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *id <= 0 {
		return usageError("report: need -id")
	}
	if err := a.requireSession(); err != nil {
		return err
	}
	dl := &dirDownloader{dir: *dir}
	if err := a.history(nil, tempBlobs{}, dl).ExportReport(ctx, *id); err != nil {
		return a.bestEffort(err, fmt.Sprintf("could not download report #%d", *id))
	}
	if n, err := pdfPageCount(dl.saved); err == nil {
		fmt.Fprintf(a.out, "saved %s (%d page(s))\n", dl.saved, n)
	} else {
		a.log.Debug("report is not a readable pdf", zap.String("path", dl.saved), zap.Error(err))
		fmt.Fprintf(a.out, "saved %s\n", dl.saved)
	}
	return nil
}

func cmdDashboard(ctx context.Context, a *app, _ []string) error {
	if err := a.requireSession(); err != nil {
		return err
	}
	t, done := ticketFor(ctx)
	defer done()
	s, err := a.history(nil, nil, nil).Dashboard(ctx, t)
	if err != nil {
		return errors.New(errs.Message(err, "could not load dashboard"))
	}
	if cur, ok := a.store.Current(); ok {
		fmt.Fprintf(a.out, "Welcome back, %s\n", cur.Identity.Name)
	}
	if s.Count == 0 {
		fmt.Fprintln(a.out, "No analyses yet. Run `rmc analyze` to start.")
		return nil
	}
	fmt.Fprintf(a.out, "Recent analyses: %d, average match %.1f%%\n\n", s.Count, s.AverageMatch)
	printEntries(a.out, s.Recent)
	return nil
}

func readInput(in io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(in)
	}
	return os.ReadFile(path)
}
