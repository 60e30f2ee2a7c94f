package handlers

import (
	"context"
	"log"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/coshell/coshell/internal/broadcast"
	"github.com/coshell/coshell/internal/database"
	"github.com/coshell/coshell/internal/middleware"
	"github.com/coshell/coshell/internal/relay"
)

// Bus is set from main.go during init.
var Bus *broadcast.Bus

// wsReadLimit bounds a single inbound frame. Pasted shell input and document
// deltas both fit comfortably.
const wsReadLimit = 1024 * 1024

// wsTransport adapts a WebSocket connection to the relay's Transport.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	return data, err
}

func (t *wsTransport) Write(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

// SessionWS upgrades the connection and hands it to the relay. The {id} URL
// parameter is the caller's session membership id; a membership belonging to
// another user is treated as nonexistent.
func SessionWS(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid session ID", http.StatusBadRequest)
		return
	}

	m, err := database.GetMembership(uint(id))
	if err != nil || m.UserID != user.ID {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("Failed to accept session websocket: %v", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(wsReadLimit)

	h := relay.NewConnectionHandler(Reg, Bus, &wsTransport{conn: conn}, m.ID)
	log.Printf("Session websocket attached: conn=%s session=%d user=%d", h.ID(), m.ID, user.ID)
	h.Run(r.Context())
	log.Printf("Session websocket detached: conn=%s session=%d", h.ID(), m.ID)

	conn.Close(websocket.StatusNormalClosure, "")
}
