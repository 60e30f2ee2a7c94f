package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/coshell/coshell/internal/credcache"
	"github.com/coshell/coshell/internal/shellio"
	"github.com/coshell/coshell/internal/viewport"
)

// fakeStore is an in-memory Store for relay tests.
type fakeStore struct {
	mu          sync.Mutex
	memberships map[uint]membershipRow
	targets     map[uint]Target
	content     map[uint]string
	docs        map[uint]string
	appendErr   error
}

type membershipRow struct {
	kind       Kind
	resourceID uint
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		memberships: make(map[uint]membershipRow),
		targets:     make(map[uint]Target),
		content:     make(map[uint]string),
		docs:        make(map[uint]string),
	}
}

func (s *fakeStore) Membership(id uint) (Kind, uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memberships[id]
	if !ok {
		return "", 0, ErrNotFound
	}
	return m.kind, m.resourceID, nil
}

func (s *fakeStore) ShellTarget(resourceID uint) (Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.targets[resourceID]
	if !ok {
		return Target{}, ErrNotFound
	}
	return t, nil
}

func (s *fakeStore) AppendShellContent(resourceID uint, chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.content[resourceID] += string(chunk)
	return nil
}

func (s *fakeStore) ShellContent(resourceID uint) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content[resourceID], nil
}

func (s *fakeStore) DocumentDelta(resourceID uint) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[resourceID]
	if !ok || d == "" {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(d), nil
}

func (s *fakeStore) SetDocumentDelta(resourceID uint, delta json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[resourceID] = string(delta)
	return nil
}

// fakeShellModule is an in-memory shellio.Module for relay tests.
type fakeShellModule struct {
	mu         sync.Mutex
	connected  map[uint]bool
	connects   int
	lastConfig shellio.ConnectConfig
	connectErr error
	sent       []string
	pending    [][]byte
	viewports  map[uint]viewport.Size
}

func newFakeShellModule() *fakeShellModule {
	return &fakeShellModule{
		connected: make(map[uint]bool),
		viewports: make(map[uint]viewport.Size),
	}
}

func (m *fakeShellModule) ConnectOrReuse(ctx context.Context, resourceID uint, cfg shellio.ConnectConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectErr != nil {
		return m.connectErr
	}
	if m.connected[resourceID] {
		return nil
	}
	m.connects++
	m.lastConfig = cfg
	m.connected[resourceID] = true
	return nil
}

func (m *fakeShellModule) Read(resourceID uint) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected[resourceID] || len(m.pending) == 0 {
		return nil, false
	}
	chunk := m.pending[0]
	m.pending = m.pending[1:]
	return chunk, true
}

func (m *fakeShellModule) Send(resourceID uint, data string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected[resourceID] {
		return shellio.ErrNotConnected
	}
	m.sent = append(m.sent, data)
	return nil
}

func (m *fakeShellModule) SetViewport(resourceID uint, cols, rows int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected[resourceID] {
		return shellio.ErrNotConnected
	}
	m.viewports[resourceID] = viewport.Size{Cols: cols, Rows: rows}
	return nil
}

func (m *fakeShellModule) Disconnect(resourceID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.connected, resourceID)
	return nil
}

func (m *fakeShellModule) queueOutput(chunk string) {
	m.mu.Lock()
	m.pending = append(m.pending, []byte(chunk))
	m.mu.Unlock()
}

func (m *fakeShellModule) isConnected(resourceID uint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected[resourceID]
}

func (m *fakeShellModule) sentData() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

func (m *fakeShellModule) viewportOf(resourceID uint) (viewport.Size, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.viewports[resourceID]
	return s, ok
}

func (m *fakeShellModule) lastCredentials() credcache.Credentials {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastConfig.Credentials
}

// fakeTransport feeds the handler inbound frames through a channel and
// records everything written back.
type fakeTransport struct {
	in  chan []byte
	mu  sync.Mutex
	out [][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan []byte, 16)}
}

func (t *fakeTransport) Read(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-t.in:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *fakeTransport) Write(ctx context.Context, data []byte) error {
	t.mu.Lock()
	t.out = append(t.out, data)
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) send(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshal test frame: %v", err))
	}
	t.in <- b
}

func (t *fakeTransport) frames() []Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	frames := make([]Frame, 0, len(t.out))
	for _, raw := range t.out {
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			panic(fmt.Sprintf("unmarshal recorded frame: %v", err))
		}
		frames = append(frames, f)
	}
	return frames
}

// actionFrames filters the recorded frames down to action events of the
// given type.
func (t *fakeTransport) actionFrames(actionType string) []map[string]any {
	var matches []map[string]any
	for _, f := range t.frames() {
		if f.Message.Type != "action" {
			continue
		}
		content, ok := f.Message.Content.(map[string]any)
		if !ok {
			continue
		}
		if content["type"] == actionType {
			matches = append(matches, content)
		}
	}
	return matches
}

func (t *fakeTransport) errorFrames() []string {
	var errs []string
	for _, f := range t.frames() {
		if f.Message.Type == "error" {
			if s, ok := f.Message.Content.(string); ok {
				errs = append(errs, s)
			}
		}
	}
	return errs
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
