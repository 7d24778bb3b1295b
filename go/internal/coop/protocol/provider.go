// Package protocol defines the transport-agnostic synchronisation contract of
// a cooperative session: the message union, the reconciliation modes, the
// Provider interface implemented by every transport and Endpoint, the shared
// core that applies ordering, self-suppression, queuing and latency rules.
package protocol

import (
	"context"
	"time"

	"github.com/mcdev12/coopblocks/go/internal/coop/board"
	"github.com/mcdev12/coopblocks/go/internal/coop/controller"
)

// Handler is the session-side callback surface. Transports hold it as a
// non-owning reference and never mutate game state any other way.
type Handler interface {
	ApplyRemoteInput(slot board.Slot, action controller.Action)
	ApplyRemoteState(st State, mode Mode)
}

// Provider is a synchronisation transport.
type Provider interface {
	Start(ctx context.Context, h Handler, role Role) error
	// Stop waits for the transport's own goroutines, which are the ones
	// delivering Handler calls and state changes. Callbacks that need to stop
	// the transport must do it from another goroutine.
	Stop() error

	SendInput(ctx context.Context, action controller.Action) error
	SendState(ctx context.Context, st State) error
	SendSnapshot(ctx context.Context, st State) error

	// BroadcastSeed is used by the host only.
	BroadcastSeed(ctx context.Context, seed int64) error
	// WaitForSeed is used by the guest only. fn runs once, when the seed arrives.
	WaitForSeed(fn func(seed int64))

	ConnectionState() ConnectionState
	Latency() time.Duration
	OnConnectionStateChange(fn func(ConnectionState))
}
