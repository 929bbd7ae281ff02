// Package handlers provides HTTP API handlers for vodarr.
package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/vodarr/internal/eventsub"
	"github.com/jmylchreest/vodarr/internal/observability"
)

// EventSub webhook headers.
const (
	headerMessageID   = "Twitch-Eventsub-Message-Id"
	headerTimestamp   = "Twitch-Eventsub-Message-Timestamp"
	headerSignature   = "Twitch-Eventsub-Message-Signature"
	headerMessageType = "Twitch-Eventsub-Message-Type"
)

// maxWebhookBody bounds the callback request body. EventSub notifications
// are small JSON documents.
const maxWebhookBody = 1 << 20

// maxTimestampSkew rejects replayed messages with stale timestamps.
const maxTimestampSkew = 10 * time.Minute

// WebhookHandler terminates the Twitch EventSub callback. It is a raw chi
// route rather than a huma operation: signature verification needs the exact
// request bytes, and the verification handshake answers in text/plain.
type WebhookHandler struct {
	secret     string
	dispatcher *eventsub.Dispatcher
	log        *slog.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(secret string, dispatcher *eventsub.Dispatcher, log *slog.Logger) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		secret:     secret,
		dispatcher: dispatcher,
		log:        observability.WithComponent(log, "webhook"),
	}
}

// Register registers the callback route with the router.
func (h *WebhookHandler) Register(router chi.Router) {
	router.Post("/api/v1/eventsub/callback", h.handle)
}

func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	messageID := r.Header.Get(headerMessageID)
	timestamp := r.Header.Get(headerTimestamp)

	if !h.verifySignature(messageID, timestamp, body, r.Header.Get(headerSignature)) {
		h.log.Warn("webhook signature mismatch", "message_id", messageID)
		http.Error(w, "signature mismatch", http.StatusForbidden)
		return
	}

	sentAt, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil || absDuration(time.Since(sentAt)) > maxTimestampSkew {
		h.log.Warn("webhook timestamp outside tolerance",
			"message_id", messageID, "timestamp", timestamp)
		http.Error(w, "stale timestamp", http.StatusForbidden)
		return
	}

	var env eventsub.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	switch r.Header.Get(headerMessageType) {
	case eventsub.MessageTypeVerification:
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(env.Challenge))

	case eventsub.MessageTypeNotification:
		h.dispatcher.Dispatch(r.Context(), messageID, env.Subscription.Type, env.Event)
		w.WriteHeader(http.StatusNoContent)

	case eventsub.MessageTypeRevocation:
		h.dispatcher.HandleRevocation(r.Context(), env.Subscription)
		w.WriteHeader(http.StatusNoContent)

	default:
		// Unknown message types are acknowledged so Twitch does not retry
		// them forever.
		w.WriteHeader(http.StatusNoContent)
	}
}

// verifySignature checks the HMAC-SHA256 over message-id + timestamp + body.
func (h *WebhookHandler) verifySignature(messageID, timestamp string, body []byte, got string) bool {
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(got))
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
