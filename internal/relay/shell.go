package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/coshell/coshell/internal/credcache"
	"github.com/coshell/coshell/internal/shellio"
	"github.com/coshell/coshell/internal/viewport"
)

// ShellAdapter owns the relay-side state of one shell resource: the shared
// channel lifecycle, the output buffer, viewport votes and the read pump.
// Exactly one adapter exists per resource id (see Registry).
type ShellAdapter struct {
	resourceID     uint
	store          Store
	module         shellio.Module
	creds          *credcache.Cache
	viewports      *viewport.Aggregator
	pump           *readPump
	flushThreshold int

	mu      sync.Mutex
	buffer  *ContentBuffer
	viewers int
	closed  bool
}

func newShellAdapter(resourceID uint, r *Registry) *ShellAdapter {
	a := &ShellAdapter{
		resourceID:     resourceID,
		store:          r.store,
		module:         r.module,
		creds:          r.creds,
		viewports:      viewport.New(r.cfg.ViewportFloor),
		flushThreshold: r.cfg.FlushThreshold,
	}
	a.pump = newReadPump(a, r.bus, GroupKey(KindShell, resourceID), r.cfg.PollInterval, r.cfg.IdleTimeout)
	return a
}

// buf returns the content buffer, creating it on first use.
func (a *ShellAdapter) buf() *ContentBuffer {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.buffer == nil {
		a.buffer = NewContentBuffer(a.flushThreshold, func(chunk []byte) error {
			return a.store.AppendShellContent(a.resourceID, chunk)
		})
	}
	return a.buffer
}

// Connect establishes or reuses the shared channel. Credential resolution
// order: saved host record, then the short-lived cache, then the form
// credentials passed by the caller (which are cached on use). Auth and
// reachability failures come back as *ReconnectRequiredError so the client
// can prompt for credentials.
func (a *ShellAdapter) Connect(ctx context.Context, form *credcache.Credentials) error {
	target, err := a.store.ShellTarget(a.resourceID)
	if err != nil {
		return fmt.Errorf("resolve shell target: %w", err)
	}

	var cr credcache.Credentials
	switch {
	case target.Saved != nil && !target.Saved.IsEmpty():
		cr = *target.Saved
	default:
		if cached, ok := a.creds.Get(a.resourceID); ok {
			cr = cached
		} else if form != nil && !form.IsEmpty() {
			cr = credcache.Sanitize(*form)
			a.creds.Set(a.resourceID, cr)
		}
	}

	if cr.IsEmpty() {
		return &ReconnectRequiredError{
			Details:      "no credentials available",
			SessionSaved: target.Saved != nil,
		}
	}

	err = a.module.ConnectOrReuse(ctx, a.resourceID, shellio.ConnectConfig{
		Host:        target.Host,
		Port:        target.Port,
		Credentials: cr,
	})
	if err != nil {
		return a.classifyConnectError(err, target)
	}

	// Apply the current shared geometry so a fresh channel does not start
	// at the transport default.
	eff := a.viewports.Effective()
	if err := a.module.SetViewport(a.resourceID, eff.Cols, eff.Rows); err != nil {
		log.Printf("[relay] shell %d: apply viewport after connect: %v", a.resourceID, err)
	}
	return nil
}

func (a *ShellAdapter) classifyConnectError(err error, target Target) error {
	switch {
	case isAuthOrUnreachable(err):
		return &ReconnectRequiredError{
			Details:      err.Error(),
			SessionSaved: target.Saved != nil,
		}
	default:
		return err
	}
}

func isAuthOrUnreachable(err error) bool {
	return errors.Is(err, shellio.ErrAuthFailed) || errors.Is(err, shellio.ErrUnreachable)
}

// Read polls the channel for one chunk of output. The chunk is appended to
// the content buffer before being returned; a failed threshold flush is
// logged, never dropped, since the buffer retains the bytes.
func (a *ShellAdapter) Read() ([]byte, bool) {
	chunk, ok := a.module.Read(a.resourceID)
	if !ok || len(chunk) == 0 {
		return nil, false
	}
	if err := a.buf().Append(chunk); err != nil {
		log.Printf("[relay] shell %d: flush output buffer: %v", a.resourceID, err)
	}
	return chunk, true
}

// Send forwards input to the channel.
func (a *ShellAdapter) Send(data string) error {
	return a.module.Send(a.resourceID, data)
}

// CacheCredentials stores sanitized form credentials for reconnect retries.
func (a *ShellAdapter) CacheCredentials(cr credcache.Credentials) {
	a.creds.Set(a.resourceID, cr)
}

// StartPump ensures the shared read pump is running. Safe to call on every
// client action; only the first call after a stop spawns a goroutine.
func (a *ShellAdapter) StartPump() {
	a.pump.ensureStarted()
}

// Content flushes pending output and returns the full persisted transcript.
func (a *ShellAdapter) Content() (string, error) {
	if err := a.buf().Flush(); err != nil {
		return "", fmt.Errorf("flush before read: %w", err)
	}
	return a.store.ShellContent(a.resourceID)
}

// AddViewport records a viewer's geometry vote and applies the new shared
// minimum to the channel.
func (a *ShellAdapter) AddViewport(s viewport.Size) {
	a.viewports.Add(s)
	a.applyViewport()
}

// RemoveViewport retracts a vote and applies the new shared minimum.
func (a *ShellAdapter) RemoveViewport(s viewport.Size) {
	a.viewports.Remove(s)
	a.applyViewport()
}

func (a *ShellAdapter) applyViewport() {
	eff := a.viewports.Effective()
	if err := a.module.SetViewport(a.resourceID, eff.Cols, eff.Rows); err != nil {
		// Not connected yet is the common case; Connect re-applies.
		log.Printf("[relay] shell %d: set viewport %dx%d: %v", a.resourceID, eff.Cols, eff.Rows, err)
	}
}

// Attach registers a viewer.
func (a *ShellAdapter) Attach() {
	a.mu.Lock()
	a.viewers++
	a.mu.Unlock()
}

// DetachViewer unregisters a viewer and flushes buffered output. The shared
// channel stays up: other viewers, or a future attach, keep using it. The
// channel itself is torn down only by Close or by the idle sweep.
func (a *ShellAdapter) DetachViewer() {
	a.mu.Lock()
	if a.viewers > 0 {
		a.viewers--
	}
	a.mu.Unlock()

	if err := a.buf().Flush(); err != nil {
		log.Printf("[relay] shell %d: flush on detach: %v", a.resourceID, err)
	}
}

// Viewers returns the number of currently attached viewers.
func (a *ShellAdapter) Viewers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.viewers
}

// Suspend flushes and tears down the channel while keeping the adapter
// usable; the next Connect re-establishes it. Used by the idle sweep for
// shells nobody is viewing.
func (a *ShellAdapter) Suspend() {
	if err := a.buf().Flush(); err != nil {
		log.Printf("[relay] shell %d: flush on suspend: %v", a.resourceID, err)
	}
	if err := a.module.Disconnect(a.resourceID); err != nil {
		log.Printf("[relay] shell %d: disconnect on suspend: %v", a.resourceID, err)
	}
}

// Close flushes, tears down the channel and marks the adapter dead. Called
// when the resource itself is closed.
func (a *ShellAdapter) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	if err := a.buf().Flush(); err != nil {
		log.Printf("[relay] shell %d: flush on close: %v", a.resourceID, err)
	}
	if err := a.module.Disconnect(a.resourceID); err != nil {
		log.Printf("[relay] shell %d: disconnect on close: %v", a.resourceID, err)
	}
	a.creds.Delete(a.resourceID)
}

func (a *ShellAdapter) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}
