// Package model defines the wire protocol shared by the daemon, the
// watcher, and the control CLI, plus the payload types exchanged with
// the Spotify Web API.
package model

// Logical action names. These are the routing keys of every message on
// the bus; the hosted API Gateway variant uses them as route keys too
// (route selection on $request.body.action).
const (
	ActionGetToken       = "getSpotifyToken"
	ActionUpdateToken    = "updateToken"
	ActionRefreshToken   = "refreshSpotifyToken"
	ActionCommand        = "spotifyCommand"
	ActionTokenRefreshed = "tokenRefreshed"
	ActionUpdateVolume   = "updateVolume"
	ActionSnapshot       = "refreshSpotify"
)

// Message is the envelope for all bus traffic. ID correlates a reply
// with its request; fire-and-forget notifications leave it empty.
// Volume is a pointer so that 0 and "absent" stay distinguishable.
type Message struct {
	Action  string            `json:"action"`
	ID      string            `json:"id,omitempty"`
	Token   string            `json:"token,omitempty"`
	Volume  *int              `json:"volume,omitempty"`
	Command string            `json:"command,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
}

// TokenResponse is the body returned by the accounts token endpoint.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Device is the playback device section of a player-state response.
type Device struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	IsActive      bool   `json:"is_active"`
	VolumePercent *int   `json:"volume_percent"`
}

// PlayerState is the (partial) body of GET /me/player.
type PlayerState struct {
	Device    Device `json:"device"`
	IsPlaying bool   `json:"is_playing"`
}
