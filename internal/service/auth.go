// Package service contains the client workflows: authentication, analysis
// submission and history browsing.
package service

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/and161185/resumatch/internal/errs"
	"github.com/and161185/resumatch/internal/model"
)

// Fallback messages shown when the server sent no structured message.
const (
	MsgLoginFailed        = "Login failed"
	MsgRegistrationFailed = "Registration failed"
)

// AuthAPI is the part of the gateway the auth flow uses.
type AuthAPI interface {
	Login(ctx context.Context, email, password string) (model.Identity, string, error)
	Register(ctx context.Context, name, email, password string) (model.Identity, string, error)
	Profile(ctx context.Context) (model.Profile, error)
}

// Sessions is the session store as seen by the auth flow.
type Sessions interface {
	Commit(ctx context.Context, id model.Identity, credential string) error
	Clear(ctx context.Context)
}

// AuthState is the state of the auth flow.
type AuthState int

const (
	AuthIdle AuthState = iota
	AuthSubmitting
)

func (s AuthState) String() string {
	if s == AuthSubmitting {
		return "submitting"
	}
	return "idle"
}

// AuthFlow exchanges credentials for a session. At most one submit is in flight.
type AuthFlow struct {
	api  AuthAPI
	sess Sessions
	log  *zap.Logger

	inflight atomic.Bool

	mu     sync.Mutex
	errMsg string
}

// NewAuthFlow constructs an AuthFlow.
func NewAuthFlow(api AuthAPI, sess Sessions, log *zap.Logger) *AuthFlow {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthFlow{api: api, sess: sess, log: log}
}

// State reports whether a submit is pending.
func (f *AuthFlow) State() AuthState {
	if f.inflight.Load() {
		return AuthSubmitting
	}
	return AuthIdle
}

// Err returns the message of the last failed submit, "" after a success.
func (f *AuthFlow) Err() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errMsg
}

// Login authenticates and commits the session. A second call while one is
// pending returns errs.ErrBusy without touching the network.
func (f *AuthFlow) Login(ctx context.Context, email, password string) (model.Identity, error) {
	return f.submit(ctx, MsgLoginFailed, func() (model.Identity, string, error) {
		return f.api.Login(ctx, email, password)
	})
}

// Register creates an account and commits its session.
func (f *AuthFlow) Register(ctx context.Context, name, email, password string) (model.Identity, error) {
	return f.submit(ctx, MsgRegistrationFailed, func() (model.Identity, string, error) {
		return f.api.Register(ctx, name, email, password)
	})
}

func (f *AuthFlow) submit(ctx context.Context, fallback string, call func() (model.Identity, string, error)) (model.Identity, error) {
	if !f.inflight.CompareAndSwap(false, true) {
		return model.Identity{}, errs.ErrBusy
	}
	defer f.inflight.Store(false)

	f.mu.Lock()
	f.errMsg = ""
	f.mu.Unlock()

	id, credential, err := call()
	if err == nil {
		err = f.sess.Commit(ctx, id, credential)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.errMsg = errs.Message(err, fallback)
		f.log.Debug("auth failed", zap.Error(err))
		return model.Identity{}, err
	}
	return id, nil
}

// Logout ends the session.
func (f *AuthFlow) Logout(ctx context.Context) {
	f.sess.Clear(ctx)
}

// Profile fetches the account view. Any failure yields no profile.
func (f *AuthFlow) Profile(ctx context.Context) (model.Profile, bool) {
	p, err := f.api.Profile(ctx)
	if err != nil {
		f.log.Debug("profile unavailable", zap.Error(err))
		return model.Profile{}, false
	}
	return p, true
}
