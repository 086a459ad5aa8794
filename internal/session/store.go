// Package session is the session store: it owns the active identity and its
// trust tier, and is the only thing allowed to change them. One Store is
// built at process start and passed to every component that needs it.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"shopfloor/api/internal/apperr"
	"shopfloor/api/internal/backend"
	"shopfloor/api/internal/notice"
	"shopfloor/api/internal/tier"
)

// ErrNoBackend is returned by operations that need the authentication
// service when none is configured.
var ErrNoBackend = errors.New("no backend configured")

type Identity struct {
	SubjectID    string
	DisplayLabel string
	Email        string
	Tier         tier.Tier
}

// PublicDemoIdentity is the synthetic visitor used when no backend is
// reachable or the public demo was requested.
var PublicDemoIdentity = Identity{
	SubjectID:    "public-demo",
	DisplayLabel: "Public demo visitor",
	Email:        "visitor@public-demo.local",
	Tier:         tier.PublicDemo,
}

// Signals are the environment hints Initialize looks at.
type Signals struct {
	PublicDemo        bool
	BackendConfigured bool
}

type Options struct {
	Auth    backend.Auth
	Sink    notice.Sink
	Logger  *zap.Logger
	Signals Signals
	// Demo is the reserved named-demo account. It is not a secret.
	Demo        backend.Credentials
	DemoProfile backend.Profile
}

type Store struct {
	auth        backend.Auth
	sink        notice.Sink
	logger      *zap.Logger
	signals     Signals
	demo        backend.Credentials
	demoProfile backend.Profile

	mu          sync.Mutex
	identity    *Identity
	inflight    int
	resolved    bool
	ready       chan struct{}
	unsubscribe func()
	listeners   map[int]func(Identity, bool)
	nextID      int
}

func New(opts Options) *Store {
	if opts.Sink == nil {
		opts.Sink = notice.Discard
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.DemoProfile == nil {
		opts.DemoProfile = backend.Profile{"role": "demo", "company": "Demo Company"}
	}
	return &Store{
		auth:        opts.Auth,
		sink:        opts.Sink,
		logger:      opts.Logger.Named("session"),
		signals:     opts.Signals,
		demo:        opts.Demo,
		demoProfile: opts.DemoProfile,
		ready:       make(chan struct{}),
		listeners:   make(map[int]func(Identity, bool)),
	}
}

// Initialize resolves the starting identity. With the public demo requested
// or no backend configured it completes synchronously without a network
// call. Otherwise the current session is looked up in the background and the
// store follows session-change events until Close.
func (s *Store) Initialize(ctx context.Context) {
	if s.signals.PublicDemo || !s.signals.BackendConfigured || s.auth == nil {
		s.mu.Lock()
		s.setIdentityLocked(&PublicDemoIdentity)
		s.resolveLocked()
		listeners := s.listenersLocked()
		s.mu.Unlock()
		s.notify(listeners, PublicDemoIdentity, true)
		s.sink.Info("You are using the public demo mode", notice.WithIcon("🎭"), notice.WithDuration(5*time.Second))
		return
	}

	unsubscribe := s.auth.OnAuthStateChange(s.handleAuthEvent)
	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.inflight++
	s.mu.Unlock()

	go func() {
		defer s.endNetwork()
		sess, err := s.auth.CurrentSession(ctx)
		if err != nil {
			s.logger.Warn("session lookup failed", zap.Error(err))
			s.sink.Error(apperr.Detail(err))
			sess = nil
		}
		s.applySession(sess, true)
	}()
}

func (s *Store) handleAuthEvent(event backend.AuthEvent, sess *backend.AuthSession) {
	s.logger.Debug("auth state changed", zap.String("event", string(event)), zap.Bool("has_session", sess != nil))
	s.mu.Lock()
	keepPublicDemo := sess == nil && s.identity != nil && s.identity.Tier == tier.PublicDemo
	s.mu.Unlock()
	if keepPublicDemo {
		return
	}
	s.applySession(sess, false)
}

// applySession classifies sess and makes it the active identity.
func (s *Store) applySession(sess *backend.AuthSession, resolve bool) Identity {
	var next *Identity
	if sess != nil {
		id := Identity{
			SubjectID:    sess.UserID,
			DisplayLabel: sess.DisplayName,
			Email:        sess.Email,
			Tier:         tier.Classify(sess.Email, s.demo.Email),
		}
		if id.DisplayLabel == "" {
			id.DisplayLabel = sess.Email
		}
		if id.Tier == tier.None {
			id.Tier = tier.Authenticated
		}
		next = &id
	}
	s.mu.Lock()
	s.setIdentityLocked(next)
	if resolve {
		s.resolveLocked()
	}
	listeners := s.listenersLocked()
	s.mu.Unlock()

	if next == nil {
		s.notify(listeners, Identity{}, false)
		return Identity{}
	}
	s.notify(listeners, *next, true)
	return *next
}

// SignIn authenticates with the backend. Failures are reported as a notice
// and returned; nothing panics past this point.
func (s *Store) SignIn(ctx context.Context, creds backend.Credentials) (Identity, error) {
	if err := s.requireAuth("sign in"); err != nil {
		return Identity{}, err
	}
	s.beginNetwork()
	defer s.endNetwork()

	sess, err := s.auth.SignIn(ctx, creds)
	if err != nil {
		s.sink.Error(apperr.Detail(err))
		return Identity{}, apperr.Auth("sign in", err)
	}
	id := s.applySession(sess, true)
	s.sink.Success("Signed in successfully!")
	return id, nil
}

// SignUp creates an account. It deliberately does not sign in afterwards.
func (s *Store) SignUp(ctx context.Context, creds backend.Credentials, profile backend.Profile) error {
	if err := s.requireAuth("sign up"); err != nil {
		return err
	}
	s.beginNetwork()
	defer s.endNetwork()

	if err := s.auth.SignUp(ctx, creds, profile); err != nil {
		s.sink.Error(apperr.Detail(err))
		return apperr.Auth("sign up", err)
	}
	s.sink.Success("Registration successful! Please sign in to continue.")
	return nil
}

// SignOut clears the identity and every demo flag. Calling it while signed
// out is harmless.
func (s *Store) SignOut(ctx context.Context) error {
	s.mu.Lock()
	current := s.identity
	s.mu.Unlock()

	if current != nil && current.Tier != tier.PublicDemo && s.auth != nil {
		s.beginNetwork()
		err := s.auth.SignOut(ctx)
		s.endNetwork()
		if err != nil {
			s.sink.Error(apperr.Detail(err))
			return apperr.Auth("sign out", err)
		}
	}

	s.mu.Lock()
	s.setIdentityLocked(nil)
	listeners := s.listenersLocked()
	s.mu.Unlock()
	s.notify(listeners, Identity{}, false)
	s.sink.Success("Signed out successfully")
	return nil
}

// SignInAsNamedDemo signs in with the reserved demo account. When the
// backend answers "invalid credentials" the account is created and sign-in
// is retried once. If creation reports the account already exists, the
// password was simply wrong and the original error is returned.
func (s *Store) SignInAsNamedDemo(ctx context.Context) (Identity, error) {
	if err := s.requireAuth("demo sign in"); err != nil {
		return Identity{}, err
	}
	s.beginNetwork()
	defer s.endNetwork()

	sess, err := s.auth.SignIn(ctx, s.demo)
	if errors.Is(err, backend.ErrInvalidCredentials) {
		s.logger.Info("provisioning reserved demo account", zap.String("email", s.demo.Email))
		signUpErr := s.auth.SignUp(ctx, s.demo, s.demoProfile)
		switch {
		case signUpErr == nil:
			sess, err = s.auth.SignIn(ctx, s.demo)
		case errors.Is(signUpErr, backend.ErrAlreadyRegistered):
		default:
			err = signUpErr
		}
	}
	if err != nil {
		s.sink.Error("Demo access could not be activated: " + apperr.Detail(err))
		return Identity{}, apperr.Auth("demo sign in", err)
	}

	id := s.applySession(sess, true)
	s.sink.Success("Demo access activated!")
	return id, nil
}

func (s *Store) requireAuth(op string) error {
	if s.auth != nil {
		return nil
	}
	s.sink.Error("Backend is not configured")
	return apperr.Auth(op, ErrNoBackend)
}

// EnterPublicDemo switches to the synthetic public-demo identity without any
// network interaction. Repeated calls leave the state unchanged.
func (s *Store) EnterPublicDemo() Identity {
	s.mu.Lock()
	already := s.identity != nil && s.identity.Tier == tier.PublicDemo
	s.setIdentityLocked(&PublicDemoIdentity)
	s.resolveLocked()
	listeners := s.listenersLocked()
	s.mu.Unlock()

	if !already {
		s.notify(listeners, PublicDemoIdentity, true)
		s.sink.Success("Public demo mode activated")
	}
	return PublicDemoIdentity
}

func (s *Store) Identity() (Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return Identity{}, false
	}
	return *s.identity, true
}

// Tier returns the tier of the active identity, tier.None when there is none.
func (s *Store) Tier() tier.Tier {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return tier.None
	}
	return s.identity.Tier
}

// Loading is true until the starting identity is resolved and while any
// network operation is in flight.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.resolved || s.inflight > 0
}

// Ready is closed once the starting identity is resolved.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

func (s *Store) Wait(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnChange calls fn whenever the identity changes. ok is false when nobody
// is signed in.
func (s *Store) OnChange(fn func(id Identity, ok bool)) func() {
	s.mu.Lock()
	key := s.nextID
	s.nextID++
	s.listeners[key] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, key)
		s.mu.Unlock()
	}
}

// Close drops the session-change subscription.
func (s *Store) Close() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (s *Store) beginNetwork() {
	s.mu.Lock()
	s.inflight++
	s.mu.Unlock()
}

func (s *Store) endNetwork() {
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

func (s *Store) setIdentityLocked(id *Identity) {
	if id == nil {
		s.identity = nil
		return
	}
	copied := *id
	s.identity = &copied
}

func (s *Store) resolveLocked() {
	if !s.resolved {
		s.resolved = true
		close(s.ready)
	}
}

func (s *Store) listenersLocked() []func(Identity, bool) {
	out := make([]func(Identity, bool), 0, len(s.listeners))
	for _, fn := range s.listeners {
		out = append(out, fn)
	}
	return out
}

func (s *Store) notify(listeners []func(Identity, bool), id Identity, ok bool) {
	for _, fn := range listeners {
		fn(id, ok)
	}
}
