package authflow

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/spotiduck/spotiduck/pkg/model"
)

func TestAuthorizeRedirect(t *testing.T) {
	s := NewServer(zaptest.NewLogger(t), "client-id", "client-secret", "http://localhost:5000/callback")
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := resp.Location()
	require.NoError(t, err)

	assert.Equal(t, "accounts.spotify.com", loc.Host)
	q := loc.Query()
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "http://localhost:5000/callback", q.Get("redirect_uri"))
	assert.Equal(t, strings.Join(Scopes, " "), q.Get("scope"))
	assert.Equal(t, "true", q.Get("show_dialog"))
}

func TestCallback_ExchangesCode(t *testing.T) {
	var gotForm map[string]string
	var gotUser, gotPass string
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		require.NoError(t, r.ParseForm())
		gotForm = map[string]string{
			"grant_type":   r.PostFormValue("grant_type"),
			"code":         r.PostFormValue("code"),
			"redirect_uri": r.PostFormValue("redirect_uri"),
		}
		_ = json.NewEncoder(w).Encode(model.TokenResponse{
			AccessToken:  "access",
			RefreshToken: "refresh-me",
			Scope:        strings.Join(Scopes, " "),
		})
	}))
	defer tokenSrv.Close()

	s := NewServer(zaptest.NewLogger(t), "client-id", "client-secret", "http://localhost:5000/callback").
		WithEndpoints(DefaultAuthorizeURL, tokenSrv.URL)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/callback?code=abc123")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "client-id", gotUser)
	assert.Equal(t, "client-secret", gotPass)
	assert.Equal(t, map[string]string{
		"grant_type":   "authorization_code",
		"code":         "abc123",
		"redirect_uri": "http://localhost:5000/callback",
	}, gotForm)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "refresh-me", body["refresh_token"])
}

func TestCallback_DeniedAndMissingCode(t *testing.T) {
	s := NewServer(zaptest.NewLogger(t), "id", "secret", "http://localhost:5000/callback")
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/callback?error=access_denied")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/callback")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCallback_NoRefreshTokenIsError(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(model.TokenResponse{AccessToken: "access"})
	}))
	defer tokenSrv.Close()

	s := NewServer(zaptest.NewLogger(t), "id", "secret", "http://localhost:5000/callback").
		WithEndpoints(DefaultAuthorizeURL, tokenSrv.URL)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/callback?code=abc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}
