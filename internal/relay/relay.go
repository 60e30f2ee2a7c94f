// Package relay is the session relay core: it multiplexes many client
// connections onto shared resource instances (remote shells, collaborative
// documents), fans state changes out through the broadcast bus, and drives
// the shell channel lifecycle including reconnection with cached
// credentials.
package relay

import (
	"errors"
	"fmt"
)

// Kind is the closed set of resource kinds. Dispatch switches on this tag.
type Kind string

const (
	KindShell    Kind = "shell"
	KindDocument Kind = "document"
)

// GroupKey names the broadcast group for a resource.
func GroupKey(kind Kind, resourceID uint) string {
	return fmt.Sprintf("%s:%d", kind, resourceID)
}

// ErrNotFound is returned when a session id resolves to nothing. Callers
// must treat it as "silently end the connection", not a user-visible error.
var ErrNotFound = errors.New("session not found")

// ReconnectRequiredError signals a shell auth or connectivity failure the
// client can recover from by supplying fresh credentials (or just retrying
// when SessionSaved reports a linked saved-credential record).
type ReconnectRequiredError struct {
	Details      string
	SessionSaved bool
}

func (e *ReconnectRequiredError) Error() string {
	return e.Details
}
