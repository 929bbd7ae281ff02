// Package eventsub translates verified Twitch EventSub webhook payloads into
// recording lifecycle inputs, deduplicating repeated deliveries.
package eventsub

import "time"

// Subscription types the dispatcher reacts to, all at version 1.
const (
	TypeStreamOnline  = "stream.online"
	TypeStreamOffline = "stream.offline"
	TypeChannelUpdate = "channel.update"
)

// Message kinds carried in the Twitch-Eventsub-Message-Type header.
const (
	MessageTypeNotification = "notification"
	MessageTypeVerification = "webhook_callback_verification"
	MessageTypeRevocation   = "revocation"
)

// Envelope is the outer EventSub webhook payload.
type Envelope struct {
	Challenge    string          `json:"challenge,omitempty"`
	Subscription SubscriptionRef `json:"subscription"`
	Event        EventPayload    `json:"event,omitempty"`
}

// SubscriptionRef identifies the subscription a message belongs to.
type SubscriptionRef struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Version string `json:"version"`
	Status  string `json:"status,omitempty"`
}

// EventPayload is the union of the event bodies for the three subscription
// types. Twitch sends only the fields relevant to each type.
type EventPayload struct {
	// ID is Twitch's stream id (stream.online only).
	ID string `json:"id,omitempty"`

	BroadcasterUserID    string `json:"broadcaster_user_id"`
	BroadcasterUserLogin string `json:"broadcaster_user_login"`
	BroadcasterUserName  string `json:"broadcaster_user_name"`

	// StartedAt is when the session went live (stream.online only).
	StartedAt time.Time `json:"started_at,omitempty"`

	// Channel metadata (channel.update only).
	Title        string `json:"title,omitempty"`
	Language     string `json:"language,omitempty"`
	CategoryID   string `json:"category_id,omitempty"`
	CategoryName string `json:"category_name,omitempty"`
}
