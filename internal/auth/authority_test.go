package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/spotiduck/spotiduck/internal/store"
)

type recordingNotifier struct {
	tokens []string
}

func (n *recordingNotifier) TokenRefreshed(token string) {
	n.tokens = append(n.tokens, token)
}

func seededStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	for key, value := range map[string]string{
		store.KeyClientID:     "client-id",
		store.KeyClientSecret: "client-secret",
		store.KeyRefreshToken: "refresh-token",
	} {
		if err := s.Set(ctx, key, value); err != nil {
			t.Fatalf("seed store: %v", err)
		}
	}
	return s
}

func TestAuthority_Refresh_Success(t *testing.T) {
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client-id" || pass != "client-secret" {
			t.Errorf("unexpected basic auth %q %q", user, pass)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.PostForm.Get("refresh_token"); got != "refresh-token" {
			t.Errorf("refresh_token = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "new-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer srv.Close()

	s := seededStore(t)
	a := NewAuthority(zaptest.NewLogger(t), s, srv.URL)
	n := &recordingNotifier{}
	a.SetNotifier(n)

	if err := a.Refresh(ctx); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	if got := a.Token(); got != "new-token" {
		t.Errorf("in-memory token = %q, want new-token", got)
	}
	if persisted, err := s.Get(ctx, store.KeyAccessToken); err != nil || persisted != "new-token" {
		t.Errorf("persisted token = %q, %v", persisted, err)
	}
	if _, err := s.Get(ctx, store.KeyTokenExpiry); err != nil {
		t.Errorf("expiry not persisted: %v", err)
	}
	if len(n.tokens) != 1 || n.tokens[0] != "new-token" {
		t.Errorf("notifier calls = %v, want exactly one with new-token", n.tokens)
	}
}

func TestAuthority_Refresh_MissingCredentials(t *testing.T) {
	a := NewAuthority(zaptest.NewLogger(t), store.NewMemoryStore(), "http://localhost:0")

	err := a.Refresh(context.Background())
	if err == nil {
		t.Fatal("expected error for missing credentials")
	}
}

func TestAuthority_Refresh_FailureKeepsToken(t *testing.T) {
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	s := seededStore(t)
	a := NewAuthority(zaptest.NewLogger(t), s, srv.URL)
	n := &recordingNotifier{}
	a.SetNotifier(n)

	if err := a.SetToken(ctx, "old-token"); err != nil {
		t.Fatalf("set token: %v", err)
	}

	if err := a.Refresh(ctx); err == nil {
		t.Fatal("expected refresh to fail")
	}

	// The failed exchange must not null or replace the current token.
	if got := a.Token(); got != "old-token" {
		t.Errorf("token after failed refresh = %q, want old-token", got)
	}
	if len(n.tokens) != 0 {
		t.Errorf("notifier must not fire on failure, got %v", n.tokens)
	}
}

func TestAuthority_LoadToken(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	if err := s.Set(ctx, store.KeyAccessToken, "persisted"); err != nil {
		t.Fatal(err)
	}

	a := NewAuthority(zaptest.NewLogger(t), s, "")
	a.LoadToken(ctx)

	if got := a.Token(); got != "persisted" {
		t.Errorf("token = %q, want persisted", got)
	}
}

func TestAuthority_SetToken_Persists(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	a := NewAuthority(zaptest.NewLogger(t), s, "")

	if err := a.SetToken(ctx, "supplied"); err != nil {
		t.Fatalf("set token: %v", err)
	}
	if v, err := s.Get(ctx, store.KeyAccessToken); err != nil || v != "supplied" {
		t.Errorf("persisted = %q, %v", v, err)
	}
}
