package handlers

import (
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/vodarr/internal/observability"
	"github.com/jmylchreest/vodarr/internal/status"
)

// WSHandler upgrades /ws connections and hands them to the status hub.
type WSHandler struct {
	hub *status.Hub
	log *slog.Logger
}

// NewWSHandler creates a new websocket handler.
func NewWSHandler(hub *status.Hub, log *slog.Logger) *WSHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WSHandler{
		hub: hub,
		log: observability.WithComponent(log, "ws"),
	}
}

// Register registers the websocket route with the router.
func (h *WSHandler) Register(router chi.Router) {
	router.Get("/ws", h.handle)
}

func (h *WSHandler) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The UI is typically served from a different origin than the API.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Debug("websocket accept failed", "error", err)
		return
	}
	h.hub.HandleConnection(r.Context(), conn)
}
