// Package shellio is the remote-shell transport consumed by the relay. It
// exposes a small capability set keyed by resource id (connect-or-reuse,
// non-blocking read, send, resize, disconnect) and hides the wire protocol
// behind it. The production implementation runs over SSH; the relay only
// sees the Module interface.
package shellio

import (
	"context"
	"errors"

	"github.com/coshell/coshell/internal/credcache"
)

// Classification sentinels for connect failures. Callers wrap both in a
// reconnect-required signal; anything else propagates unchanged.
var (
	ErrAuthFailed   = errors.New("shell authentication failed")
	ErrUnreachable  = errors.New("shell host unreachable")
	ErrNotConnected = errors.New("shell not connected")
)

// ConnectConfig describes the target and credentials for one channel.
type ConnectConfig struct {
	Host        string
	Port        int
	Credentials credcache.Credentials
}

// Module is the remote-shell capability set, keyed by resource id.
// ConnectOrReuse and Disconnect must be idempotent.
type Module interface {
	// ConnectOrReuse establishes the channel for a resource id, or does
	// nothing if a live channel already exists. Auth and connectivity
	// failures are classified via ErrAuthFailed / ErrUnreachable.
	ConnectOrReuse(ctx context.Context, resourceID uint, cfg ConnectConfig) error

	// Read is a non-blocking single poll for the next chunk of output.
	// ok is false when no data is pending.
	Read(resourceID uint) (chunk []byte, ok bool)

	// Send forwards input to the channel.
	Send(resourceID uint, data string) error

	// SetViewport applies the effective terminal geometry to the channel.
	SetViewport(resourceID uint, cols, rows int) error

	// Disconnect tears down the channel for a resource id. Disconnecting
	// an unknown id is a no-op.
	Disconnect(resourceID uint) error
}
