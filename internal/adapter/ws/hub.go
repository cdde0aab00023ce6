// Package ws implements the WebSocket adapter pushing report status changes to
// the browser sessions of a household.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/labtracksimple/labtrack/internal/domain"
	"github.com/labtracksimple/labtrack/internal/domain/household"
	"github.com/labtracksimple/labtrack/internal/middleware"
)

const writeTimeout = 5 * time.Second

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// MemberLookup resolves a user's role in a household.
type MemberLookup interface {
	GetMemberRole(ctx context.Context, householdID, userID string) (household.Role, error)
}

// conn wraps a single WebSocket connection.
type conn struct {
	ws          *websocket.Conn
	cancel      context.CancelFunc
	householdID string
	userID      string
}

// Hub manages active WebSocket connections grouped by household.
type Hub struct {
	members        MemberLookup
	allowedOrigins []string

	mu    sync.RWMutex
	conns map[*conn]struct{}
}

// NewHub creates a hub. Connections are admitted only for household members.
// allowedOrigins lists origin patterns accepted in addition to the request host.
func NewHub(members MemberLookup, allowedOrigins ...string) *Hub {
	return &Hub{
		members:        members,
		allowedOrigins: allowedOrigins,
		conns:          make(map[*conn]struct{}),
	}
}

// HandleWS upgrades an authenticated request for ?household_id=... to a
// WebSocket subscribed to that household's events.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromContext(r.Context())
	if id.Anonymous() || id.UserID == "" {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	householdID := r.URL.Query().Get("household_id")
	if householdID == "" {
		http.Error(w, "household_id is required", http.StatusBadRequest)
		return
	}
	if _, err := h.members.GetMemberRole(r.Context(), householdID, id.UserID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		slog.Error("websocket membership lookup", "household_id", householdID, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.allowedOrigins})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	// Detached from the request so the connection outlives the handler.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	c := &conn{ws: ws, cancel: cancel, householdID: householdID, userID: id.UserID}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("websocket connected", "household_id", householdID, "user_id", id.UserID, "remote", r.RemoteAddr)

	// Read loop detects disconnects and consumes pings.
	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()
}

// BroadcastToHousehold sends a typed event to every connection of a household.
func (h *Hub) BroadcastToHousehold(ctx context.Context, householdID, eventType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}
	data, err := json.Marshal(Message{Type: eventType, Payload: raw})
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		if c.householdID == householdID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := c.ws.Write(wctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			slog.Debug("websocket write failed", "household_id", householdID, "error", err)
			h.remove(c)
			_ = c.ws.Close(websocket.StatusGoingAway, "write failed")
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[*conn]struct{})
	h.mu.Unlock()

	for c := range conns {
		c.cancel()
		_ = c.ws.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("websocket disconnected", "household_id", c.householdID)
	}
}
