package relay

import (
	"sync"
	"time"

	"github.com/coshell/coshell/internal/broadcast"
)

const (
	// DefaultPollInterval paces the output poll loop.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultIdleTimeout stops an idle pump; the next client action
	// restarts it.
	DefaultIdleTimeout = 30 * time.Second
)

// readPump is the single output pump for one shell resource. It polls the
// channel and broadcasts each chunk to the whole group, so every viewer
// sees the same stream exactly once regardless of how many are attached.
//
// At most one pump goroutine runs per resource. It stops after the idle
// timeout and is restarted by the next execute or reconnect action.
type readPump struct {
	adapter     *ShellAdapter
	bus         *broadcast.Bus
	group       string
	poll        time.Duration
	idleTimeout time.Duration

	mu      sync.Mutex
	running bool
}

func newReadPump(adapter *ShellAdapter, bus *broadcast.Bus, group string, poll, idleTimeout time.Duration) *readPump {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &readPump{
		adapter:     adapter,
		bus:         bus,
		group:       group,
		poll:        poll,
		idleTimeout: idleTimeout,
	}
}

// ensureStarted spawns the pump goroutine unless one is already running.
func (p *readPump) ensureStarted() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	go p.loop()
}

func (p *readPump) isRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *readPump) loop() {
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	var idle time.Duration
	for {
		if p.adapter.isClosed() {
			return
		}

		chunk, ok := p.adapter.Read()
		if ok {
			idle = 0
			p.bus.Publish(p.group, InfoFrame(string(chunk)).Encode(), broadcast.ModeAll, "")
			// Drain bursts without pacing; sleep only when idle.
			continue
		}

		idle += p.poll
		if idle >= p.idleTimeout {
			return
		}
		time.Sleep(p.poll)
	}
}
