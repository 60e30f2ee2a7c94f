package relay

import (
	"log"
	"sync"
	"time"

	"github.com/coshell/coshell/internal/broadcast"
	"github.com/coshell/coshell/internal/credcache"
	"github.com/coshell/coshell/internal/shellio"
	"github.com/coshell/coshell/internal/viewport"
)

// Config carries the relay's tunables. Zero values fall back to the
// package defaults.
type Config struct {
	FlushThreshold int
	PollInterval   time.Duration
	IdleTimeout    time.Duration
	ViewportFloor  viewport.Size
}

// Registry maps resource ids to their single adapter instance. All
// connections to the same resource share one adapter, which is what makes
// the channel, buffer and viewport state shared.
type Registry struct {
	store  Store
	module shellio.Module
	creds  *credcache.Cache
	bus    *broadcast.Bus
	cfg    Config

	mu        sync.Mutex
	shells    map[uint]*ShellAdapter
	documents map[uint]*DocumentAdapter
}

func NewRegistry(store Store, module shellio.Module, creds *credcache.Cache, bus *broadcast.Bus, cfg Config) *Registry {
	return &Registry{
		store:     store,
		module:    module,
		creds:     creds,
		bus:       bus,
		cfg:       cfg,
		shells:    make(map[uint]*ShellAdapter),
		documents: make(map[uint]*DocumentAdapter),
	}
}

// Resolution is the result of resolving a session id: the resource kind and
// id plus the adapter for that kind (the other pointer is nil).
type Resolution struct {
	Kind       Kind
	ResourceID uint
	Shell      *ShellAdapter
	Document   *DocumentAdapter
}

// GroupKey names the broadcast group for the resolved resource.
func (r Resolution) GroupKey() string {
	return GroupKey(r.Kind, r.ResourceID)
}

// Resolve maps a session id to its resource adapter with a single lookup.
// Unknown ids return ErrNotFound.
func (r *Registry) Resolve(membershipID uint) (Resolution, error) {
	kind, resourceID, err := r.store.Membership(membershipID)
	if err != nil {
		return Resolution{}, err
	}

	res := Resolution{Kind: kind, ResourceID: resourceID}
	switch kind {
	case KindShell:
		res.Shell = r.shell(resourceID)
	case KindDocument:
		res.Document = r.document(resourceID)
	}
	return res, nil
}

func (r *Registry) shell(resourceID uint) *ShellAdapter {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.shells[resourceID]
	if !ok {
		a = newShellAdapter(resourceID, r)
		r.shells[resourceID] = a
	}
	return a
}

func (r *Registry) document(resourceID uint) *DocumentAdapter {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.documents[resourceID]
	if !ok {
		d = newDocumentAdapter(resourceID, r)
		r.documents[resourceID] = d
	}
	return d
}

// CloseShell tears down a shell resource's adapter and channel. Used when
// the resource itself is closed; viewers detaching never reach this path.
func (r *Registry) CloseShell(resourceID uint) {
	r.mu.Lock()
	a, ok := r.shells[resourceID]
	delete(r.shells, resourceID)
	r.mu.Unlock()

	if ok {
		a.Close()
		return
	}
	// No adapter means nobody attached since startup; the module may still
	// hold a channel from a previous process state.
	if err := r.module.Disconnect(resourceID); err != nil {
		log.Printf("[relay] close shell %d: %v", resourceID, err)
	}
}

// CloseDocument drops a document resource's adapter.
func (r *Registry) CloseDocument(resourceID uint) {
	r.mu.Lock()
	delete(r.documents, resourceID)
	r.mu.Unlock()
}

// SweepDetachedShells suspends the channel of every shell nobody is
// viewing. Run periodically; a later attach reconnects transparently via
// saved or cached credentials.
func (r *Registry) SweepDetachedShells() int {
	r.mu.Lock()
	idle := make([]*ShellAdapter, 0)
	for _, a := range r.shells {
		if a.Viewers() == 0 {
			idle = append(idle, a)
		}
	}
	r.mu.Unlock()

	for _, a := range idle {
		a.Suspend()
	}
	return len(idle)
}
