// Command rmc is a command-line client for the resume matching service.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/and161185/resumatch/internal/config"
	"github.com/and161185/resumatch/internal/gateway"
	"github.com/and161185/resumatch/internal/migrate"
	"github.com/and161185/resumatch/internal/repository"
	"github.com/and161185/resumatch/internal/repository/file"
	"github.com/and161185/resumatch/internal/repository/memory"
	"github.com/and161185/resumatch/internal/repository/postgres"
	"github.com/and161185/resumatch/internal/session"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const usageText = `rmc - resume matching client
Usage:
  rmc [-v] [-api ORIGIN] [-config-dir DIR] [-store file|memory|postgres] [-dsn DSN] <cmd> [args]

Commands:
  version
  register   -name <name> -email <email> [-password <pw>]   (password from stdin when omitted)
  login      -email <email> [-password <pw>]
  logout
  whoami
  profile
  analyze    -resume <file|-> (-job <text> | -job-file <file>) [-json]
  history    [-page N] [-size N] [-json]
  show       -id <analysis id> [-json]
  rm         -id <analysis id> [-yes]
  report     -id <analysis id> [-o <dir>]
  dashboard
`

// exit codes
const (
	exitOK    = 0
	exitFail  = 1
	exitUsage = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// newLogger writes human-readable logs to w: warnings by default, everything with -v.
func newLogger(w io.Writer, verbose bool) *zap.Logger {
	lvl := zapcore.WarnLevel
	if verbose {
		lvl = zapcore.DebugLevel
	}
	enc := zap.NewDevelopmentEncoderConfig()
	enc.TimeKey = ""
	return zap.New(zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(w), lvl))
}

// app is the wiring shared by all commands.
type app struct {
	cfg    config.Config
	log    *zap.Logger
	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer

	store *session.Store
	gw    *gateway.Gateway

	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.log.Sync()
}

// openSlots builds the configured slot backend.
func openSlots(ctx context.Context, cfg config.Config, log *zap.Logger) (repository.SlotRepository, func(), error) {
	switch cfg.Store {
	case config.StoreMemory:
		return memory.NewSlotRepo(), func() {}, nil
	case config.StorePostgres:
		if err := migrate.Up(ctx, cfg.DSN, log); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		db, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewSlotRepo(db, cfg.Profile), db.Close, nil
	default:
		r, err := file.NewSlotRepo(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		return r, func() {}, nil
	}
}

func newApp(ctx context.Context, cfg config.Config, log *zap.Logger, in io.Reader, out, errOut io.Writer) (*app, error) {
	slots, closeSlots, err := openSlots(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	nav := session.NavigatorFunc(func() {
		fmt.Fprintln(errOut, "signed out; run `rmc login` to continue")
	})
	store := session.New(slots, nav, log)
	gw, err := gateway.New(cfg.Gateway(), store, store, log)
	if err != nil {
		closeSlots()
		return nil, err
	}
	a := &app{
		cfg:     cfg,
		log:     log,
		in:      bufio.NewReader(in),
		out:     out,
		errOut:  errOut,
		store:   store,
		gw:      gw,
		closers: []func(){closeSlots},
	}
	if err := store.Restore(ctx); err != nil {
		// unreadable backend: continue unauthenticated
		log.Warn("could not restore session", zap.Error(err))
	}
	return a, nil
}

func run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("rmc", flag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.Usage = func() { fmt.Fprint(errOut, usageText) }
	verbose := fs.Bool("v", false, "verbose logging")
	cf := config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return exitUsage
	}
	cmd, rest := fs.Arg(0), fs.Args()[1:]

	if cmd == "version" {
		fmt.Fprintf(out, "rmc %s (%s)\n", version, buildDate)
		return exitOK
	}
	h, ok := commands[cmd]
	if !ok {
		fs.Usage()
		return exitUsage
	}

	log := newLogger(errOut, *verbose)
	cfg, err := config.Load(cf.Dir(), cf)
	if err != nil {
		fmt.Fprintln(errOut, "config:", err)
		return exitFail
	}
	a, err := newApp(ctx, cfg, log, in, out, errOut)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return exitFail
	}
	defer a.close()
	log.Debug("ready", zap.String("base", a.gw.Base()), zap.String("store", cfg.Store), zap.Stringer("session", a.store.State()))

	if err := h(ctx, a, rest); err != nil {
		var ue usageError
		if errors.As(err, &ue) {
			fmt.Fprintln(errOut, err)
			return exitUsage
		}
		fmt.Fprintln(errOut, "error:", err)
		return exitFail
	}
	return exitOK
}
