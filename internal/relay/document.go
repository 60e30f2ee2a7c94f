package relay

import (
	"encoding/json"

	"github.com/coshell/coshell/internal/broadcast"
)

// DocumentAdapter relays collaborative edit events for one document
// resource. Edit events are fan-out only; the relay does not apply them to
// stored state. Persistence happens solely through SetDelta, which replaces
// the whole snapshot.
type DocumentAdapter struct {
	resourceID uint
	store      Store
	bus        *broadcast.Bus
	group      string
}

func newDocumentAdapter(resourceID uint, r *Registry) *DocumentAdapter {
	return &DocumentAdapter{
		resourceID: resourceID,
		store:      r.store,
		bus:        r.bus,
		group:      GroupKey(KindDocument, resourceID),
	}
}

// Delta returns the persisted document snapshot (JSON null when empty).
func (d *DocumentAdapter) Delta() (json.RawMessage, error) {
	return d.store.DocumentDelta(d.resourceID)
}

// SetDelta replaces the persisted snapshot. It is not broadcast; the sender
// already holds the state and other editors track it through edit events.
func (d *DocumentAdapter) SetDelta(delta json.RawMessage) error {
	return d.store.SetDocumentDelta(d.resourceID, delta)
}

// Insert relays a text insertion to every editor except the sender.
func (d *DocumentAdapter) Insert(text string, index int, senderID string) {
	d.publish(map[string]any{
		"type":  "insert",
		"text":  text,
		"index": index,
	}, senderID)
}

// Delete relays a range deletion to every editor except the sender.
func (d *DocumentAdapter) Delete(length, index int, senderID string) {
	d.publish(map[string]any{
		"type":   "delete",
		"length": length,
		"index":  index,
	}, senderID)
}

// FormatChange relays a formatting change to every editor except the sender.
func (d *DocumentAdapter) FormatChange(formatType string, value any, index, length int, senderID string) {
	d.publish(map[string]any{
		"type":        "format-change",
		"format_type": formatType,
		"value":       value,
		"index":       index,
		"length":      length,
	}, senderID)
}

func (d *DocumentAdapter) publish(content map[string]any, senderID string) {
	d.bus.Publish(d.group, ActionFrame(content).Encode(), broadcast.ModeExcludeSender, senderID)
}
