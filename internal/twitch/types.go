package twitch

import (
	"strconv"
	"strings"
	"time"
)

// EventSub subscription types the recorder manages.
const (
	SubTypeStreamOnline  = "stream.online"
	SubTypeStreamOffline = "stream.offline"
	SubTypeChannelUpdate = "channel.update"
)

// SubscriptionVersion is the EventSub subscription version for all three
// types above.
const SubscriptionVersion = "1"

// User is a Helix user record.
type User struct {
	ID              string    `json:"id"`
	Login           string    `json:"login"`
	DisplayName     string    `json:"display_name"`
	BroadcasterType string    `json:"broadcaster_type"`
	Description     string    `json:"description"`
	ProfileImageURL string    `json:"profile_image_url"`
	OfflineImageURL string    `json:"offline_image_url"`
	CreatedAt       time.Time `json:"created_at"`
}

// Stream is a Helix live stream record.
type Stream struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	UserLogin    string    `json:"user_login"`
	UserName     string    `json:"user_name"`
	GameID       string    `json:"game_id"`
	GameName     string    `json:"game_name"`
	Type         string    `json:"type"`
	Title        string    `json:"title"`
	ViewerCount  int       `json:"viewer_count"`
	StartedAt    time.Time `json:"started_at"`
	Language     string    `json:"language"`
	ThumbnailURL string    `json:"thumbnail_url"`
}

// IsLive reports whether the stream is an actual live broadcast (as opposed
// to a rerun).
func (s *Stream) IsLive() bool {
	return s.Type == "live"
}

// PreviewURL expands the templated thumbnail URL to the given dimensions.
func (s *Stream) PreviewURL(width, height int) string {
	url := strings.ReplaceAll(s.ThumbnailURL, "{width}", strconv.Itoa(width))
	return strings.ReplaceAll(url, "{height}", strconv.Itoa(height))
}

// Game is a Helix game/category record.
type Game struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	BoxArtURL string `json:"box_art_url"`
}

// BoxArt expands the templated box art URL to the given dimensions.
func (g *Game) BoxArt(width, height int) string {
	url := strings.ReplaceAll(g.BoxArtURL, "{width}", strconv.Itoa(width))
	return strings.ReplaceAll(url, "{height}", strconv.Itoa(height))
}

// SubscriptionCondition scopes an EventSub subscription to one broadcaster.
type SubscriptionCondition struct {
	BroadcasterUserID string `json:"broadcaster_user_id"`
}

// SubscriptionTransport describes the webhook delivery target. Secret is
// write-only: Helix never echoes it back.
type SubscriptionTransport struct {
	Method   string `json:"method"`
	Callback string `json:"callback"`
	Secret   string `json:"secret,omitempty"`
}

// Subscription is a Helix EventSub subscription record.
type Subscription struct {
	ID        string                `json:"id"`
	Status    string                `json:"status"`
	Type      string                `json:"type"`
	Version   string                `json:"version"`
	Condition SubscriptionCondition `json:"condition"`
	Transport SubscriptionTransport `json:"transport"`
	CreatedAt time.Time             `json:"created_at"`
	Cost      int                   `json:"cost"`
}

// IsEnabled reports whether Helix considers the subscription active.
func (s *Subscription) IsEnabled() bool {
	return s.Status == "enabled"
}

// Response envelopes.

type usersResponse struct {
	Data []User `json:"data"`
}

type streamsResponse struct {
	Data []Stream `json:"data"`
}

type gamesResponse struct {
	Data []Game `json:"data"`
}

type subscriptionsResponse struct {
	Data       []Subscription `json:"data"`
	Total      int            `json:"total"`
	Pagination struct {
		Cursor string `json:"cursor"`
	} `json:"pagination"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}
