// Package auth owns the OAuth access token. Exactly one Authority
// exists per daemon; every other component holds at most a cached copy
// obtained over the bus.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spotiduck/spotiduck/internal/store"
	"github.com/spotiduck/spotiduck/pkg/model"
)

const (
	DefaultTokenURL = "https://accounts.spotify.com/api/token"

	exchangeTimeout = 10 * time.Second
)

// Notifier receives the new token after a successful refresh so it can
// be fanned out to every connected client.
type Notifier interface {
	TokenRefreshed(token string)
}

// Authority holds the single current access token in memory and
// performs the refresh exchange. The in-memory token is mutated only
// here; a failed refresh leaves it untouched.
type Authority struct {
	logger   *zap.Logger
	store    store.Store
	tokenURL string
	http     *http.Client

	mu    sync.RWMutex
	token string

	refreshMu sync.Mutex
	notifier  Notifier
}

// NewAuthority creates an Authority backed by s. Pass "" for tokenURL
// to use the production accounts endpoint.
func NewAuthority(logger *zap.Logger, s store.Store, tokenURL string) *Authority {
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	return &Authority{
		logger:   logger,
		store:    s,
		tokenURL: tokenURL,
		http:     &http.Client{Timeout: exchangeTimeout},
	}
}

// SetNotifier wires the broadcast sink. Must be called before Refresh
// if broadcasts are wanted; a nil notifier is tolerated.
func (a *Authority) SetNotifier(n Notifier) {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()
	a.notifier = n
}

// LoadToken seeds the in-memory token from the store, if one was
// persisted by a previous run.
func (a *Authority) LoadToken(ctx context.Context) {
	tok, err := a.store.Get(ctx, store.KeyAccessToken)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			a.logger.Warn("load persisted token", zap.Error(err))
		}
		return
	}
	a.mu.Lock()
	a.token = tok
	a.mu.Unlock()
}

// Token returns the in-memory token without I/O. Empty means no token.
func (a *Authority) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}

// SetToken overwrites the in-memory token and mirrors it to the store.
func (a *Authority) SetToken(ctx context.Context, token string) error {
	a.mu.Lock()
	a.token = token
	a.mu.Unlock()
	return a.store.Set(ctx, store.KeyAccessToken, token)
}

// Refresh performs the refresh-token exchange. On success it replaces
// the in-memory token, persists it, and notifies observers; on failure
// the current token stays in place. Concurrent calls are serialized so
// a burst of refresh requests performs a single exchange at a time.
func (a *Authority) Refresh(ctx context.Context) error {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	creds, err := store.GetCredentials(ctx, a.store)
	if err != nil {
		return err
	}

	tr, err := Exchange(ctx, a.http, a.tokenURL, creds)
	if err != nil {
		return fmt.Errorf("token refresh: %w", err)
	}

	a.mu.Lock()
	a.token = tr.AccessToken
	a.mu.Unlock()

	if err := a.store.Set(ctx, store.KeyAccessToken, tr.AccessToken); err != nil {
		a.logger.Warn("persist refreshed token", zap.Error(err))
	}
	if tr.ExpiresIn > 0 {
		expiry := time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second).Unix()
		if err := a.store.Set(ctx, store.KeyTokenExpiry, strconv.FormatInt(expiry, 10)); err != nil {
			a.logger.Warn("persist token expiry", zap.Error(err))
		}
	}

	if a.notifier != nil {
		a.notifier.TokenRefreshed(tr.AccessToken)
	}
	a.logger.Info("access token refreshed")
	return nil
}

// Exchange posts a grant_type=refresh_token request to tokenURL using
// HTTP Basic authentication built from the client credentials. It is a
// plain function so the hosted handler can reuse it without an
// Authority.
func Exchange(ctx context.Context, client *http.Client, tokenURL string, creds store.Credentials) (*model.TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", creds.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(creds.ClientID, creds.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var body struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return nil, fmt.Errorf("token endpoint http %d: %s %s", resp.StatusCode, body.Error, body.ErrorDescription)
	}

	var tr model.TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, errors.New("token response missing access_token")
	}
	return &tr, nil
}
