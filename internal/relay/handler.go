package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/coshell/coshell/internal/broadcast"
	"github.com/coshell/coshell/internal/credcache"
	"github.com/coshell/coshell/internal/logutil"
	"github.com/coshell/coshell/internal/viewport"
)

// Transport is the client connection as the handler sees it: ordered
// message reads and writes. The production implementation wraps a
// WebSocket; tests drive the handler with an in-process pipe.
type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
}

// ConnectionHandler drives one client connection through its lifetime:
// resolve the session, attach to the resource group, dispatch client
// actions, detach on exit. One handler per connection; all cross-client
// effects go through the bus.
type ConnectionHandler struct {
	id           string
	membershipID uint
	registry     *Registry
	bus          *broadcast.Bus
	transport    Transport

	res   Resolution
	group string

	// writeMu serializes transport writes, which can come from both the
	// handler goroutine and bus listeners on publisher goroutines.
	writeMu sync.Mutex

	// votes are the viewport sizes this connection has registered, so they
	// can be retracted on detach.
	votes []viewport.Size
}

func NewConnectionHandler(registry *Registry, bus *broadcast.Bus, transport Transport, membershipID uint) *ConnectionHandler {
	return &ConnectionHandler{
		id:           uuid.NewString(),
		membershipID: membershipID,
		registry:     registry,
		bus:          bus,
		transport:    transport,
	}
}

// ID returns the connection's bus identity.
func (h *ConnectionHandler) ID() string {
	return h.id
}

// Run resolves the session, attaches, and processes client actions until
// the transport closes or ctx is cancelled. An unresolvable session ends
// the connection silently.
func (h *ConnectionHandler) Run(ctx context.Context) {
	res, err := h.registry.Resolve(h.membershipID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Printf("[relay] conn %s: resolve session %d: %v", h.id, h.membershipID, err)
		}
		return
	}
	h.res = res
	h.group = res.GroupKey()

	h.bus.Subscribe(h.group, h.id, func(payload []byte) {
		h.writeMu.Lock()
		defer h.writeMu.Unlock()
		if err := h.transport.Write(ctx, payload); err != nil {
			// The read loop observes the same failure and exits.
			log.Printf("[relay] conn %s: write: %v", h.id, err)
		}
	})
	defer h.detach()

	h.attach(ctx)

	for {
		data, err := h.transport.Read(ctx)
		if err != nil {
			return
		}
		var action ClientAction
		if err := json.Unmarshal(data, &action); err != nil {
			log.Printf("[relay] conn %s: malformed action dropped: %v", h.id, err)
			continue
		}
		h.dispatch(ctx, action)
	}
}

// attach replays current resource state to this connection only, then for
// shells starts the channel and pump.
func (h *ConnectionHandler) attach(ctx context.Context) {
	switch h.res.Kind {
	case KindShell:
		h.res.Shell.Attach()
		content, err := h.res.Shell.Content()
		if err != nil {
			log.Printf("[relay] conn %s: load shell content: %v", h.id, err)
		} else {
			h.publish(ActionFrame(map[string]any{
				"type": "load_content",
				"data": content,
			}), broadcast.ModeSenderOnly)
		}
		h.connectShell(ctx, nil, false)
		h.res.Shell.StartPump()

	case KindDocument:
		delta, err := h.res.Document.Delta()
		if err != nil {
			log.Printf("[relay] conn %s: load document: %v", h.id, err)
			return
		}
		h.publish(ActionFrame(map[string]any{
			"type":  "load_content",
			"delta": delta,
		}), broadcast.ModeSenderOnly)
	}
}

// connectShell attempts the channel connect and reports failures to this
// client. On success with announce set, every viewer is told the shell is
// back.
func (h *ConnectionHandler) connectShell(ctx context.Context, form *credcache.Credentials, announce bool) {
	err := h.res.Shell.Connect(ctx, form)
	if err == nil {
		if announce {
			h.publish(ActionFrame(map[string]any{
				"type": "reconnect_successful",
			}), broadcast.ModeAll)
		}
		return
	}

	var rr *ReconnectRequiredError
	if errors.As(err, &rr) {
		h.publish(ErrorFrame(rr.Details), broadcast.ModeSenderOnly)
		h.publish(ActionFrame(map[string]any{
			"type":          "require_reconnect",
			"session_saved": rr.SessionSaved,
		}), broadcast.ModeSenderOnly)
		return
	}
	h.publish(ErrorFrame(err.Error()), broadcast.ModeSenderOnly)
}

func (h *ConnectionHandler) dispatch(ctx context.Context, action ClientAction) {
	switch h.res.Kind {
	case KindShell:
		h.dispatchShell(ctx, action)
	case KindDocument:
		h.dispatchDocument(action)
	}
}

func (h *ConnectionHandler) dispatchShell(ctx context.Context, action ClientAction) {
	switch action.Action {
	case "execute":
		var data string
		if err := json.Unmarshal(action.Data, &data); err != nil || data == "" {
			return
		}
		if err := h.res.Shell.Send(data); err != nil {
			h.publish(ErrorFrame(err.Error()), broadcast.ModeAll)
		}
		h.res.Shell.StartPump()

	case "reconnect":
		if action.Type == "form" {
			var form struct {
				Username   string `json:"username"`
				Password   string `json:"password"`
				PrivateKey string `json:"private_key"`
				Passphrase string `json:"passphrase"`
			}
			if err := json.Unmarshal(action.Data, &form); err != nil {
				log.Printf("[relay] conn %s: malformed reconnect form dropped: %v", h.id, err)
				return
			}
			h.res.Shell.CacheCredentials(credcache.Credentials{
				Username:   form.Username,
				Password:   form.Password,
				PrivateKey: form.PrivateKey,
				Passphrase: form.Passphrase,
			})
		}
		h.connectShell(ctx, nil, true)
		h.res.Shell.StartPump()

	case "resize":
		var geom struct {
			Cols int `json:"cols"`
			Rows int `json:"rows"`
		}
		if err := json.Unmarshal(action.Data, &geom); err != nil || geom.Cols <= 0 || geom.Rows <= 0 {
			return
		}
		size := viewport.Size{Cols: geom.Cols, Rows: geom.Rows}
		switch action.Type {
		case "new":
			h.res.Shell.AddViewport(size)
			h.votes = append(h.votes, size)
		case "del":
			h.res.Shell.RemoveViewport(size)
			h.dropVote(size)
		default:
			log.Printf("[relay] conn %s: unknown resize type %q dropped", h.id, logutil.SanitizeForLog(action.Type))
		}

	default:
		log.Printf("[relay] conn %s: unknown shell action %q dropped", h.id, logutil.SanitizeForLog(action.Action))
	}
}

func (h *ConnectionHandler) dispatchDocument(action ClientAction) {
	switch action.Action {
	case "insert":
		var p struct {
			Text  *string `json:"text"`
			Index *int    `json:"index"`
		}
		if err := json.Unmarshal(action.Data, &p); err != nil || p.Text == nil || p.Index == nil {
			return
		}
		h.res.Document.Insert(*p.Text, *p.Index, h.id)

	case "delete":
		var p struct {
			Length *int `json:"length"`
			Index  *int `json:"index"`
		}
		if err := json.Unmarshal(action.Data, &p); err != nil || p.Length == nil || p.Index == nil {
			return
		}
		h.res.Document.Delete(*p.Length, *p.Index, h.id)

	case "format-change":
		var p struct {
			FormatType *string `json:"format_type"`
			Value      any     `json:"value"`
			Index      *int    `json:"index"`
			Length     *int    `json:"length"`
		}
		if err := json.Unmarshal(action.Data, &p); err != nil || p.FormatType == nil || p.Index == nil || p.Length == nil {
			return
		}
		h.res.Document.FormatChange(*p.FormatType, p.Value, *p.Index, *p.Length, h.id)

	case "update_content":
		var p struct {
			Delta json.RawMessage `json:"delta"`
		}
		if err := json.Unmarshal(action.Data, &p); err != nil || len(p.Delta) == 0 {
			return
		}
		if err := h.res.Document.SetDelta(p.Delta); err != nil {
			log.Printf("[relay] conn %s: persist document: %v", h.id, err)
			h.publish(ErrorFrame("failed to save document"), broadcast.ModeSenderOnly)
		}

	default:
		log.Printf("[relay] conn %s: unknown document action %q dropped", h.id, logutil.SanitizeForLog(action.Action))
	}
}

func (h *ConnectionHandler) dropVote(size viewport.Size) {
	for i, v := range h.votes {
		if v == size {
			h.votes = append(h.votes[:i], h.votes[i+1:]...)
			return
		}
	}
}

// detach retracts this connection's viewport votes, unsubscribes it and
// flushes shell output. The shared channel is left up for other viewers.
func (h *ConnectionHandler) detach() {
	h.bus.Unsubscribe(h.group, h.id)
	if h.res.Kind == KindShell && h.res.Shell != nil {
		for _, v := range h.votes {
			h.res.Shell.RemoveViewport(v)
		}
		h.votes = nil
		h.res.Shell.DetachViewer()
	}
}

func (h *ConnectionHandler) publish(f Frame, mode broadcast.Mode) {
	h.bus.Publish(h.group, f.Encode(), mode, h.id)
}
