// Package spotify is a minimal client for the parts of the Spotify Web
// API this project touches: profile validation, player state, volume,
// and the transport controls.
package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/spotiduck/spotiduck/pkg/model"
)

const (
	DefaultBaseURL = "https://api.spotify.com/v1"

	requestTimeout = 10 * time.Second
)

var (
	// ErrTokenExpired maps a 401 response; callers decide whether to
	// refresh and retry.
	ErrTokenExpired = errors.New("spotify: access token expired")
	// ErrNoActiveDevice maps the 204 player-state response. It is not a
	// failure; there is simply nothing to adjust.
	ErrNoActiveDevice = errors.New("spotify: no active device")
)

type Client struct {
	http    *http.Client
	baseURL string
}

// NewClient returns a client for the given API base URL; pass "" for
// the production endpoint.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http:    &http.Client{Timeout: requestTimeout},
		baseURL: baseURL,
	}
}

// Me validates the token against the profile endpoint.
func (c *Client) Me(ctx context.Context, token string) error {
	resp, err := c.do(ctx, token, http.MethodGet, "/me")
	if err != nil {
		return err
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrTokenExpired
	case resp.StatusCode/100 != 2:
		return fmt.Errorf("profile check http %d", resp.StatusCode)
	}
	return nil
}

// Player fetches the current player state. A 204 means no active
// device and is reported as ErrNoActiveDevice.
func (c *Client) Player(ctx context.Context, token string) (*model.PlayerState, error) {
	resp, err := c.do(ctx, token, http.MethodGet, "/me/player")
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrTokenExpired
	case resp.StatusCode == http.StatusNoContent:
		return nil, ErrNoActiveDevice
	case resp.StatusCode/100 != 2:
		return nil, fmt.Errorf("player status http %d", resp.StatusCode)
	}

	var state model.PlayerState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, fmt.Errorf("decode player state: %w", err)
	}
	return &state, nil
}

// SetVolume sets the active device's volume (0-100). No response body
// is expected on success.
func (c *Client) SetVolume(ctx context.Context, token string, percent int) error {
	path := "/me/player/volume?volume_percent=" + strconv.Itoa(percent)
	resp, err := c.do(ctx, token, http.MethodPut, path)
	if err != nil {
		return err
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrTokenExpired
	case resp.StatusCode/100 != 2:
		return fmt.Errorf("set volume http %d", resp.StatusCode)
	}
	return nil
}

// Command dispatches a named transport command. "setVolume" expects a
// "volume" param; the others take none.
func (c *Client) Command(ctx context.Context, token, command string, params map[string]string) error {
	var method, path string
	switch command {
	case "play":
		method, path = http.MethodPut, "/me/player/play"
	case "pause":
		method, path = http.MethodPut, "/me/player/pause"
	case "next":
		method, path = http.MethodPost, "/me/player/next"
	case "previous":
		method, path = http.MethodPost, "/me/player/previous"
	case "setVolume":
		percent, err := strconv.Atoi(params["volume"])
		if err != nil {
			return fmt.Errorf("setVolume: invalid volume %q", params["volume"])
		}
		return c.SetVolume(ctx, token, percent)
	default:
		return fmt.Errorf("unknown command %q", command)
	}

	resp, err := c.do(ctx, token, method, path)
	if err != nil {
		return err
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrTokenExpired
	case resp.StatusCode/100 != 2:
		return fmt.Errorf("%s http %d", command, resp.StatusCode)
	}
	return nil
}

func (c *Client) do(ctx context.Context, token, method, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return c.http.Do(req)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
