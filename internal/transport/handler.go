// Package transport exposes the signaling engine over websockets. It is the
// only package that knows phones speak websocket; the session and directory
// stay transport-agnostic.
package transport

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"voip-exchange/internal/billing"
	"voip-exchange/internal/signaling"
)

// Handler upgrades phone connections and binds each one to a session.
type Handler struct {
	accounts billing.PhoneAccountStore
	mgr      *signaling.Manager
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewHandler(accounts billing.PhoneAccountStore, mgr *signaling.Manager, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		accounts: accounts,
		mgr:      mgr,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Phone clients are served from anywhere; signaling carries no
			// cookies or credentials beyond the claimed number.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Connect is the websocket endpoint. The claimed number must belong to an
// active account; a suspended account still connects, its session just
// starts out invalid.
func (h *Handler) Connect(c *gin.Context) {
	number := c.Query("number")
	if number == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phone number is required"})
		return
	}

	acct, err := h.accounts.FindActiveByNumber(c.Request.Context(), number)
	if err != nil {
		if errors.Is(err, billing.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown phone number"})
			return
		}
		h.log.Error("account lookup", "number", number, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.log.Warn("websocket upgrade failed", "number", number, "err", err)
		return
	}

	client := newWSClient(conn, h.log)
	sess, err := h.mgr.Register(c.Request.Context(), acct, client)
	if err != nil {
		h.log.Error("register phone", "number", number, "err", err)
		_ = conn.Close()
		return
	}

	go client.writeLoop()
	client.signal(EventRegistered, number)

	// Blocks for the lifetime of the connection, so the request context
	// stays valid until the phone disconnects.
	client.readLoop(c.Request.Context(), sess)
}
