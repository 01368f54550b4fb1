// Package session holds the single source of truth for the authenticated user.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/and161185/resumatch/internal/convert"
	"github.com/and161185/resumatch/internal/errs"
	"github.com/and161185/resumatch/internal/model"
	"github.com/and161185/resumatch/internal/repository"
)

// State is the authentication state observed by dependents.
type State int

const (
	// Loading is reported until Restore completes.
	Loading State = iota
	Unauthenticated
	Authenticated
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Navigator is the forced-navigation policy run when an authenticated session ends.
type Navigator interface {
	ToLogin()
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func()

func (f NavigatorFunc) ToLogin() { f() }

// Store owns the Session. All methods are safe for concurrent use.
type Store struct {
	slots repository.SlotRepository
	nav   Navigator
	log   *zap.Logger
	now   func() time.Time

	// io serializes Restore/Commit/Clear so slot writes never interleave.
	io sync.Mutex

	mu      sync.Mutex
	state   State
	sess    model.Session
	subs    map[int]func(State)
	nextSub int

	ready     chan struct{}
	readyOnce sync.Once
}

// New constructs a Store in the Loading state.
func New(slots repository.SlotRepository, nav Navigator, log *zap.Logger) *Store {
	if nav == nil {
		nav = NavigatorFunc(func() {})
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		slots: slots,
		nav:   nav,
		log:   log,
		now:   time.Now,
		state: Loading,
		subs:  map[int]func(State){},
		ready: make(chan struct{}),
	}
}

// Ready is closed once Restore has finished, successfully or not.
func (s *Store) Ready() <-chan struct{} { return s.ready }

// State returns the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Current returns the session when authenticated.
func (s *Store) Current() (model.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Authenticated {
		return model.Session{}, false
	}
	return s.sess, true
}

// Token returns the credential, or "" when there is no session.
func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Authenticated {
		return ""
	}
	return s.sess.Credential
}

// Subscribe registers fn for state changes and returns an unsubscribe func.
// fn runs on the goroutine that caused the change, outside of store locks.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// set swaps state under the lock and returns the previous state and subscribers to notify.
func (s *Store) set(st State, sess model.Session) (State, []func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.state
	s.state = st
	s.sess = sess
	if prev == st && st != Authenticated {
		return prev, nil
	}
	fns := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	return prev, fns
}

func notify(fns []func(State), st State) {
	for _, fn := range fns {
		fn(st)
	}
}

// Restore rebuilds the session from the persisted slots. A missing, partial or
// unparsable record ends unauthenticated with both slots purged. Backend outages
// end unauthenticated without purging and are returned.
func (s *Store) Restore(ctx context.Context) error {
	defer s.readyOnce.Do(func() { close(s.ready) })

	s.io.Lock()
	sess, err := s.load(ctx)
	var fns []func(State)
	switch {
	case err == nil:
		_, fns = s.set(Authenticated, sess)
		if sess.Expired(s.now()) {
			s.log.Warn("restored credential is past its expiry", zap.Time("exp", sess.ExpiresAt))
		}
	case errors.Is(err, errs.ErrNotFound) || errors.Is(err, errs.ErrCorrupt):
		if errors.Is(err, errs.ErrCorrupt) {
			s.log.Warn("persisted session is corrupt, purging", zap.Error(err))
		}
		s.purge(ctx)
		_, fns = s.set(Unauthenticated, model.Session{})
		err = nil
	default:
		s.log.Warn("session restore failed", zap.Error(err))
		_, fns = s.set(Unauthenticated, model.Session{})
		err = fmt.Errorf("restore session: %w", err)
	}
	st := s.State()
	s.io.Unlock()

	notify(fns, st)
	return err
}

func (s *Store) load(ctx context.Context) (model.Session, error) {
	tok, terr := s.slots.Get(ctx, repository.SlotToken)
	raw, uerr := s.slots.Get(ctx, repository.SlotUser)
	for _, err := range []error{terr, uerr} {
		if err != nil && !errors.Is(err, errs.ErrNotFound) && !errors.Is(err, errs.ErrCorrupt) {
			return model.Session{}, err
		}
	}
	if errors.Is(terr, errs.ErrNotFound) && errors.Is(uerr, errs.ErrNotFound) {
		return model.Session{}, errs.ErrNotFound
	}
	if terr != nil || uerr != nil {
		// one slot without the other is as good as corrupt
		return model.Session{}, fmt.Errorf("partial session record: %w", errs.ErrCorrupt)
	}
	if tok == "" {
		return model.Session{}, fmt.Errorf("empty token slot: %w", errs.ErrCorrupt)
	}
	id, err := convert.DecodeIdentity(raw)
	if err != nil {
		return model.Session{}, err
	}
	return model.Session{Identity: id, Credential: tok, ExpiresAt: CredentialExpiry(tok)}, nil
}

func (s *Store) purge(ctx context.Context) {
	for _, slot := range []string{repository.SlotToken, repository.SlotUser} {
		if err := s.slots.Delete(ctx, slot); err != nil {
			s.log.Warn("purge slot", zap.String("slot", slot), zap.Error(err))
		}
	}
}

// Commit makes the session authenticated and persists both slots. A failed
// write leaves the in-memory session usable; the next Restore may then fail.
func (s *Store) Commit(ctx context.Context, id model.Identity, credential string) error {
	raw, err := convert.EncodeIdentity(id)
	if err != nil {
		return err
	}
	sess := model.Session{Identity: id, Credential: credential, ExpiresAt: CredentialExpiry(credential)}

	s.io.Lock()
	_, fns := s.set(Authenticated, sess)
	s.persist(ctx, credential, raw)
	s.io.Unlock()

	notify(fns, Authenticated)
	return nil
}

// persist writes both slots so that a persisted record never pairs a credential
// with another session's identity. The stale identity goes first; any failed
// write removes the token so the leftover record reads back as partial or absent.
func (s *Store) persist(ctx context.Context, credential, rawUser string) {
	if err := s.slots.Delete(ctx, repository.SlotUser); err != nil {
		s.log.Warn("drop stale user slot", zap.Error(err))
	}
	if err := s.slots.Put(ctx, repository.SlotToken, credential); err != nil {
		s.log.Warn("persist token slot", zap.Error(err))
		s.dropToken(ctx)
		return
	}
	if err := s.slots.Put(ctx, repository.SlotUser, rawUser); err != nil {
		s.log.Warn("persist user slot", zap.Error(err))
		s.dropToken(ctx)
	}
}

func (s *Store) dropToken(ctx context.Context) {
	if err := s.slots.Delete(ctx, repository.SlotToken); err != nil {
		s.log.Warn("drop token slot", zap.Error(err))
	}
}

// Clear drops the session and purges both slots. It is idempotent: only the
// call that ends an authenticated session notifies and navigates to login.
func (s *Store) Clear(ctx context.Context) {
	s.io.Lock()
	prev, fns := s.set(Unauthenticated, model.Session{})
	s.purge(ctx)
	s.io.Unlock()

	if prev == Unauthenticated {
		return
	}
	notify(fns, Unauthenticated)
	if prev == Authenticated {
		s.log.Info("session cleared")
		s.nav.ToLogin()
	}
}

// HandleUnauthorized is the gateway's authentication-failure hook.
func (s *Store) HandleUnauthorized(ctx context.Context) {
	s.Clear(ctx)
}

// CredentialExpiry reads the exp claim of a JWT credential without verifying it.
// Non-JWT credentials yield the zero time.
func CredentialExpiry(credential string) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(credential, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
