package tokenstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore(context.Background(), "not a url"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSaveAndLookup(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Save(ctx, "hash-1", "user-123", time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	userID, err := store.Lookup(ctx, "hash-1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if userID != "user-123" {
		t.Fatalf("expected user-123, got %s", userID)
	}
}

func TestLookupMissing(t *testing.T) {
	store, _ := setupTestRedis(t)
	if _, err := store.Lookup(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRevoke(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Save(ctx, "hash-2", "user-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Revoke(ctx, "hash-2"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := store.Lookup(ctx, "hash-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after revoke, got %v", err)
	}
}

func TestExpiry(t *testing.T) {
	store, mr := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Save(ctx, "hash-3", "user-1", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := store.Lookup(ctx, "hash-3"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestSaveRejectsPastExpiry(t *testing.T) {
	store, _ := setupTestRedis(t)
	if err := store.Save(context.Background(), "hash-4", "user-1", time.Now().Add(-time.Minute)); err == nil {
		t.Fatal("expected error for expired session")
	}
}

type fakeSQL struct {
	sessions map[string]string
}

var errGone = errors.New("gone")

func (f *fakeSQL) SaveRefreshSession(_ context.Context, hash, userID string, _ time.Time) error {
	f.sessions[hash] = userID
	return nil
}

func (f *fakeSQL) LookupRefreshSession(_ context.Context, hash string) (string, error) {
	id, ok := f.sessions[hash]
	if !ok {
		return "", errGone
	}
	return id, nil
}

func (f *fakeSQL) RevokeRefreshSession(_ context.Context, hash string) error {
	delete(f.sessions, hash)
	return nil
}

func TestSQLFallbackTranslatesNotFound(t *testing.T) {
	ctx := context.Background()
	s := FromSQL(&fakeSQL{sessions: map[string]string{}}, errGone)

	if err := s.Save(ctx, "h", "u", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if id, err := s.Lookup(ctx, "h"); err != nil || id != "u" {
		t.Fatalf("Lookup = %q, %v", id, err)
	}
	_ = s.Revoke(ctx, "h")
	if _, err := s.Lookup(ctx, "h"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
