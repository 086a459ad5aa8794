package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"shopfloor/api/internal/auth"
	"shopfloor/api/internal/authpw"
	"shopfloor/api/internal/backend"
	"shopfloor/api/internal/config"
	"shopfloor/api/internal/realtime"
	"shopfloor/api/internal/search"
	"shopfloor/api/internal/store"
	"shopfloor/api/internal/tier"
	"shopfloor/api/internal/tokenstore"
)

type Session struct {
	AccessToken  string
	RefreshToken string
	UserID       string
	Email        string
	DisplayName  string
	Tier         tier.Tier
	JTI          string
	ExpiresAt    time.Time
}

func (s Session) payload() map[string]any {
	return map[string]any{
		"userId":       s.UserID,
		"email":        s.Email,
		"displayName":  s.DisplayName,
		"accessToken":  s.AccessToken,
		"refreshToken": s.RefreshToken,
		"expiresAt":    s.ExpiresAt.UTC(),
		"tier":         s.Tier.String(),
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Options carries the collaborators of a Service. Search and Hub are
// optional.
type Options struct {
	Users  authpw.UserStore
	Tokens tokenstore.Store
	Data   backend.Data
	Search *search.Service
	Hub    *realtime.Hub
	Pinger pinger
	// PublishWrites makes the service announce its own writes on the hub.
	// Set when the database trigger is not being listened to.
	PublishWrites bool
	PasswordCost  int
	Logger        *zap.Logger
}

type Service struct {
	cfg           config.Config
	passwords     *authpw.Service
	tokens        tokenstore.Store
	data          backend.Data
	search        *search.Service
	hub           *realtime.Hub
	pinger        pinger
	publishWrites bool
	logger        *zap.Logger
}

func New(cfg config.Config, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	passwords := authpw.NewService(opts.Users)
	if opts.PasswordCost > 0 {
		passwords.WithCost(opts.PasswordCost)
	}
	return &Service{
		cfg:           cfg,
		passwords:     passwords,
		tokens:        opts.Tokens,
		data:          opts.Data,
		search:        opts.Search,
		hub:           opts.Hub,
		pinger:        opts.Pinger,
		publishWrites: opts.PublishWrites,
		logger:        logger.Named("app"),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	if s.pinger == nil {
		return nil
	}
	return s.pinger.Ping(ctx)
}

func (s *Service) SignUp(ctx context.Context, creds backend.Credentials, profile backend.Profile) (store.User, error) {
	user, err := s.passwords.SignUp(ctx, creds, profile)
	switch {
	case errors.Is(err, backend.ErrAlreadyRegistered):
		return store.User{}, domainError(http.StatusConflict, "EMAIL_EXISTS", "User already registered", nil)
	case errors.Is(err, authpw.ErrInvalidInput):
		return store.User{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", strings.TrimPrefix(err.Error(), authpw.ErrInvalidInput.Error()+": "), nil)
	case err != nil:
		return store.User{}, err
	}
	s.logger.Info("user registered", zap.String("user_id", user.ID))
	return user, nil
}

func (s *Service) SignIn(ctx context.Context, creds backend.Credentials) (Session, error) {
	user, err := s.passwords.SignIn(ctx, creds)
	if errors.Is(err, backend.ErrInvalidCredentials) {
		return Session{}, domainError(http.StatusBadRequest, "INVALID_CREDENTIALS", "Invalid login credentials", nil)
	}
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.tokens.Lookup(ctx, tokenHash)
	if errors.Is(err, tokenstore.ErrNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	if err := s.tokens.Revoke(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.passwords.User(ctx, userID)
	if errors.Is(err, store.ErrUserNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	claims := auth.NewClaims(user.ID, user.Email, user.DisplayName, s.classify(user.Email), s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), claims)
	if err != nil {
		return Session{}, err
	}

	refresh := uuid.NewString() + uuid.NewString()
	if err := s.tokens.Save(ctx, auth.HashToken(refresh), user.ID, time.Now().Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		AccessToken:  token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Email:        user.Email,
		DisplayName:  user.DisplayName,
		Tier:         claims.TrustTier(),
		JTI:          claims.JTI,
		ExpiresAt:    time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) classify(email string) tier.Tier {
	return tier.Classify(email, s.cfg.DemoEmail)
}

// SessionFromToken trusts the signed claims; the tier is recomputed from the
// email so a changed demo account takes effect on the next request.
func (s *Service) SessionFromToken(_ context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		AccessToken: token,
		UserID:      claims.Sub,
		Email:       claims.Email,
		DisplayName: claims.Name,
		Tier:        s.classify(claims.Email),
		JTI:         claims.JTI,
		ExpiresAt:   time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.tokens.Revoke(ctx, auth.HashToken(refreshToken))
}

func (s *Service) Read(ctx context.Context, table string, q backend.Query) ([]backend.Record, error) {
	return s.data.Read(ctx, table, q)
}

func (s *Service) Count(ctx context.Context, table string, q backend.Query) (int, error) {
	return s.data.Count(ctx, table, q)
}

func (s *Service) Insert(ctx context.Context, session Session, table string, rec backend.Record) (backend.Record, error) {
	if err := s.authorizeWrite(session, table); err != nil {
		return nil, err
	}
	created, err := s.data.Insert(ctx, table, rec)
	if err != nil {
		return nil, err
	}
	s.announce(table, backend.OpInsert, created.ID())
	return created, nil
}

func (s *Service) Update(ctx context.Context, session Session, table, id string, fields backend.Record) (backend.Record, error) {
	if err := s.authorizeWrite(session, table); err != nil {
		return nil, err
	}
	updated, err := s.data.Update(ctx, table, id, fields)
	if err != nil {
		return nil, err
	}
	s.announce(table, backend.OpUpdate, id)
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, session Session, table, id string) error {
	if err := s.authorizeWrite(session, table); err != nil {
		return err
	}
	if err := s.data.Delete(ctx, table, id); err != nil {
		return err
	}
	s.announce(table, backend.OpDelete, id)
	return nil
}

// authorizeWrite is the server-side copy of the capability gate: only the
// authenticated tier may write.
func (s *Service) authorizeWrite(session Session, table string) error {
	if tier.CanMutate(session.Tier) {
		return nil
	}
	s.logger.Info("write refused",
		zap.String("user_id", session.UserID),
		zap.String("tier", session.Tier.String()),
		zap.String("table", table),
	)
	return domainError(http.StatusForbidden, "DEMO_READ_ONLY", "Demo users cannot perform this action", map[string]any{"tier": session.Tier.String()})
}

func (s *Service) announce(table string, op backend.Op, id string) {
	if !s.publishWrites || s.hub == nil {
		return
	}
	s.hub.Publish(backend.ChangeEvent{Table: table, Op: op, ID: id, At: time.Now().UTC()})
}

func (s *Service) Search(ctx context.Context, q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
	}
	return s.search.Search(ctx, q), nil
}

// SearchEngine names the engine answering searches right now, empty when
// search is not configured.
func (s *Service) SearchEngine() string {
	if s.search == nil {
		return ""
	}
	return s.search.Engine()
}

// TableStatus is one line of the connection diagnostics.
type TableStatus struct {
	Table string `json:"table"`
	OK    bool   `json:"ok"`
	Count int    `json:"count"`
	Error string `json:"error,omitempty"`
}

// Diagnostics counts the rows of every table in parallel. A failing table
// does not hide the others.
func (s *Service) Diagnostics(ctx context.Context) ([]TableStatus, bool) {
	out := make([]TableStatus, len(backend.Tables))
	g, ctx := errgroup.WithContext(ctx)
	for i, table := range backend.Tables {
		g.Go(func() error {
			n, err := s.data.Count(ctx, table, backend.Query{})
			out[i] = TableStatus{Table: table, OK: err == nil, Count: n}
			if err != nil {
				out[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	healthy := true
	for _, st := range out {
		if !st.OK {
			healthy = false
			s.logger.Warn("table check failed", zap.String("table", st.Table), zap.String("error", st.Error))
		}
	}
	return out, healthy
}
