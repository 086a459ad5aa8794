package app

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"shopfloor/api/internal/backend"
	"shopfloor/api/internal/config"
	"shopfloor/api/internal/demodata"
	"shopfloor/api/internal/realtime"
	"shopfloor/api/internal/search"
	"shopfloor/api/internal/store"
	"shopfloor/api/internal/tier"
	"shopfloor/api/internal/tokenstore"
)

type fakeUsers struct {
	mu        sync.Mutex
	users     map[string]store.User
	createErr error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: map[string]store.User{}}
}

func (f *fakeUsers) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if strings.EqualFold(u.Email, strings.TrimSpace(email)) {
			return u, nil
		}
	}
	return store.User{}, store.ErrUserNotFound
}

func (f *fakeUsers) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.User{}, store.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeUsers) CreateUser(_ context.Context, user store.User) (store.User, error) {
	if f.createErr != nil {
		return store.User{}, f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	user.ID = "user-" + strconv.Itoa(len(f.users)+1)
	user.CreatedAt = time.Now()
	f.users[user.ID] = user
	return user, nil
}

type fakeTokens struct {
	mu      sync.Mutex
	entries map[string]string
}

func newFakeTokens() *fakeTokens {
	return &fakeTokens{entries: map[string]string{}}
}

func (f *fakeTokens) Save(_ context.Context, tokenHash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[tokenHash] = userID
	return nil
}

func (f *fakeTokens) Lookup(_ context.Context, tokenHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.entries[tokenHash]
	if !ok {
		return "", tokenstore.ErrNotFound
	}
	return id, nil
}

func (f *fakeTokens) Revoke(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, tokenHash)
	return nil
}

type fakePinger struct {
	pingFn func(context.Context) error
}

func (f fakePinger) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

type testEnv struct {
	service *Service
	users   *fakeUsers
	tokens  *fakeTokens
	data    *demodata.Store
	hub     *realtime.Hub
}

func newTestEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()
	hub := realtime.NewHub(zap.NewNop())
	t.Cleanup(hub.Close)
	data := demodata.New(nil)
	env := &testEnv{users: newFakeUsers(), tokens: newFakeTokens(), data: data, hub: hub}
	opts := Options{
		Users:        env.users,
		Tokens:       env.tokens,
		Data:         data,
		Search:       search.NewService(nil, data, zap.NewNop()),
		Hub:          hub,
		Pinger:       fakePinger{},
		PasswordCost: 4,
	}
	if mutate != nil {
		mutate(&opts)
	}
	cfg := config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
		DemoEmail:  "demo@mes-system.com",
	}
	env.service = New(cfg, opts)
	return env
}

func (e *testEnv) register(t *testing.T, email string) Session {
	t.Helper()
	ctx := context.Background()
	creds := backend.Credentials{Email: email, Password: "secret123"}
	if _, err := e.service.SignUp(ctx, creds, backend.Profile{"display_name": "Test"}); err != nil {
		t.Fatalf("sign up %s: %v", email, err)
	}
	session, err := e.service.SignIn(ctx, creds)
	if err != nil {
		t.Fatalf("sign in %s: %v", email, err)
	}
	return session
}

func TestSignInClassifiesTier(t *testing.T) {
	env := newTestEnv(t, nil)

	regular := env.register(t, "worker@example.com")
	if regular.Tier != tier.Authenticated {
		t.Fatalf("expected authenticated, got %s", regular.Tier)
	}
	demo := env.register(t, "Demo@MES-System.com")
	if demo.Tier != tier.NamedDemo {
		t.Fatalf("expected named demo, got %s", demo.Tier)
	}

	parsed, err := env.service.SessionFromToken(context.Background(), demo.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if parsed.Tier != tier.NamedDemo || parsed.UserID != demo.UserID {
		t.Fatalf("unexpected session from token: %+v", parsed)
	}
}

func TestSignInRejectsBadPassword(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "worker@example.com")

	_, err := env.service.SignIn(context.Background(), backend.Credentials{Email: "worker@example.com", Password: "nope"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "INVALID_CREDENTIALS" {
		t.Fatalf("expected INVALID_CREDENTIALS, got %v", err)
	}
}

func TestSignUpDuplicateIsConflict(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "worker@example.com")

	_, err := env.service.SignUp(context.Background(), backend.Credentials{Email: "worker@example.com", Password: "secret123"}, nil)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "EMAIL_EXISTS" {
		t.Fatalf("expected EMAIL_EXISTS, got %v", err)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	env := newTestEnv(t, nil)
	session := env.register(t, "worker@example.com")
	ctx := context.Background()

	next, err := env.service.Refresh(ctx, session.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if next.RefreshToken == session.RefreshToken {
		t.Fatalf("expected a new refresh token")
	}
	if _, err := env.service.Refresh(ctx, session.RefreshToken); err == nil {
		t.Fatalf("expected old refresh token to be revoked")
	}

	if err := env.service.Logout(ctx, next.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := env.service.Refresh(ctx, next.RefreshToken); err == nil {
		t.Fatalf("expected refresh after logout to fail")
	}
}

func TestWritesRequireMutatingTier(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	for _, session := range []Session{{Tier: tier.None}, {Tier: tier.NamedDemo}, {Tier: tier.PublicDemo}} {
		_, err := env.service.Update(ctx, session, backend.TableMachines, "1", backend.Record{"status": "idle"})
		var domainErr *DomainError
		if !errors.As(err, &domainErr) || domainErr.Status != 403 {
			t.Fatalf("tier %s: expected 403, got %v", session.Tier, err)
		}
	}

	rows, err := env.data.Read(ctx, backend.TableMachines, backend.Query{Filters: []backend.Filter{backend.Eq("id", "1")}})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if rows[0].String("status") != "operational" {
		t.Fatalf("refused write must not reach the data service")
	}

	if _, err := env.service.Update(ctx, Session{Tier: tier.Authenticated}, backend.TableMachines, "1", backend.Record{"status": "idle"}); err != nil {
		t.Fatalf("authenticated update: %v", err)
	}
}

func TestPublishWritesAnnouncesOnHub(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.PublishWrites = true })
	events := make(chan backend.ChangeEvent, 1)
	if _, err := env.hub.Subscribe(backend.TableProducts, func(ev backend.ChangeEvent) { events <- ev }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	created, err := env.service.Insert(context.Background(), Session{Tier: tier.Authenticated}, backend.TableProducts, backend.Record{"model": "Model Y"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	select {
	case ev := <-events:
		if ev.Op != backend.OpInsert || ev.ID != created.ID() {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no change event published")
	}
}

type brokenCounts struct {
	backend.Data
	table string
}

func (b brokenCounts) Count(ctx context.Context, table string, q backend.Query) (int, error) {
	if table == b.table {
		return 0, errors.New("relation does not exist")
	}
	return b.Data.Count(ctx, table, q)
}

func TestDiagnosticsReportsEveryTable(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.Data = brokenCounts{Data: o.Data, table: backend.TableMaterials}
	})

	tables, healthy := env.service.Diagnostics(context.Background())
	if healthy {
		t.Fatalf("expected unhealthy diagnostics")
	}
	if len(tables) != len(backend.Tables) {
		t.Fatalf("expected %d tables, got %d", len(backend.Tables), len(tables))
	}
	for _, st := range tables {
		switch st.Table {
		case backend.TableMaterials:
			if st.OK || st.Error == "" {
				t.Fatalf("expected materials to fail: %+v", st)
			}
		case backend.TableMachines:
			if !st.OK || st.Count != 3 {
				t.Fatalf("unexpected machines status: %+v", st)
			}
		}
	}
}
