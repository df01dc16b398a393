// Package authflow is the one-time authorization helper: it walks the
// user through the Spotify authorization-code flow and prints the
// refresh token to put into config.json.
package authflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/spotiduck/spotiduck/pkg/model"
)

const (
	DefaultAuthorizeURL = "https://accounts.spotify.com/authorize"
	DefaultTokenURL     = "https://accounts.spotify.com/api/token"

	exchangeTimeout = 10 * time.Second
)

// Scopes requested during authorization. Playback control needs the
// modify scope; the rest keep the profile and player endpoints usable.
var Scopes = []string{
	"user-read-private",
	"user-read-email",
	"user-modify-playback-state",
	"user-read-playback-state",
}

type Server struct {
	logger       *zap.Logger
	clientID     string
	clientSecret string
	redirectURI  string
	authorizeURL string
	tokenURL     string
	http         *http.Client
}

func NewServer(logger *zap.Logger, clientID, clientSecret, redirectURI string) *Server {
	return &Server{
		logger:       logger,
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
		authorizeURL: DefaultAuthorizeURL,
		tokenURL:     DefaultTokenURL,
		http:         &http.Client{Timeout: exchangeTimeout},
	}
}

// WithEndpoints overrides the accounts endpoints, for tests.
func (s *Server) WithEndpoints(authorizeURL, tokenURL string) *Server {
	s.authorizeURL = authorizeURL
	s.tokenURL = tokenURL
	return s
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/", s.handleAuthorize)
	r.Get("/callback", s.handleCallback)
	return r
}

// handleAuthorize redirects the browser to the consent page.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := url.Values{}
	q.Set("client_id", s.clientID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", s.redirectURI)
	q.Set("scope", strings.Join(Scopes, " "))
	q.Set("show_dialog", "true")

	http.Redirect(w, r, s.authorizeURL+"?"+q.Encode(), http.StatusFound)
}

// handleCallback exchanges the authorization code and shows the
// resulting refresh token.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if errParam := r.URL.Query().Get("error"); errParam != "" {
		http.Error(w, fmt.Sprintf("authorization denied: %s", errParam), http.StatusBadRequest)
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing code parameter", http.StatusBadRequest)
		return
	}

	tr, err := s.exchange(r.Context(), code)
	if err != nil {
		s.logger.Error("code exchange failed", zap.Error(err))
		http.Error(w, "code exchange failed", http.StatusBadGateway)
		return
	}

	s.logger.Info("authorization complete", zap.String("scope", tr.Scope))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"message":       "copy the refresh token into your config as SPOTIFY_REFRESH_TOKEN",
		"refresh_token": tr.RefreshToken,
		"access_token":  tr.AccessToken,
	})
}

func (s *Server) exchange(ctx context.Context, code string) (*model.TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", s.redirectURI)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(s.clientID, s.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
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
	if tr.RefreshToken == "" {
		return nil, fmt.Errorf("token endpoint returned no refresh token")
	}
	return &tr, nil
}
