package bridge

import "github.com/orchestra-mcp/realtime/src/types"

// Bridge defines the interface for cross-instance event broadcasting.
// Implementations relay group events between multiple gateway instances.
type Bridge interface {
	// Publish sends an event to all other instances via the bridge.
	Publish(ev types.Event) error

	// Start begins listening for events from other instances.
	Start() error

	// Stop shuts down the bridge connection.
	Stop() error

	// Available reports whether the bridge is connected and operational.
	Available() bool
}

// BroadcastTarget is implemented by the Hub to receive events from the bridge.
type BroadcastTarget interface {
	BroadcastToLocal(ev types.Event)
}
