package service

import (
	"errors"
	"fmt"

	"github.com/orchestra-mcp/realtime/src/hub"
	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
)

// ErrNoAccount is returned when Publish is called without an account id.
var ErrNoAccount = errors.New("account id is required")

// EventBridge pushes server-side events to the live connections of an
// account. It is what the rest of the backend depends on.
type EventBridge interface {
	Publish(accountID string, payload any) error
}

// Notifier is the in-process EventBridge backed by the hub. It also exposes
// read-only views of the hub for operators.
type Notifier struct {
	hub    *hub.Hub
	logger zerolog.Logger
}

var _ EventBridge = (*Notifier)(nil)

// New creates a notifier backed by the given hub.
func New(h *hub.Hub, logger zerolog.Logger) *Notifier {
	return &Notifier{hub: h, logger: logger.With().Str("component", "notifier").Logger()}
}

// Hub returns the underlying hub.
func (n *Notifier) Hub() *hub.Hub { return n.hub }

// Publish delivers payload to every connection of the account, on this
// instance and, through the hub's bridge, on the others. An account with no
// connection is not an error; the event is dropped.
func (n *Notifier) Publish(accountID string, payload any) error {
	if accountID == "" {
		return ErrNoAccount
	}
	group := types.PersonalGroup(accountID)
	ev, err := types.NewEvent(group, types.EventRealtime, payload)
	if err != nil {
		return fmt.Errorf("encode payload for %s: %w", accountID, err)
	}
	delivered := n.hub.Broadcast(group, ev)
	n.logger.Debug().
		Str("account_id", accountID).
		Int("delivered", delivered).
		Msg("realtime event published")
	return nil
}

// ConnectedClients returns the ids of all connections.
func (n *Notifier) ConnectedClients() []string {
	return n.hub.ConnectedClients()
}

// Groups returns the live groups with their member counts.
func (n *Notifier) Groups() map[string]int {
	return n.hub.Groups()
}

// ClientInfo returns info for a connection, or an error if it is gone.
func (n *Notifier) ClientInfo(clientID string) (*types.ClientInfo, error) {
	info := n.hub.ClientInfo(clientID)
	if info == nil {
		return nil, fmt.Errorf("client %s not found", clientID)
	}
	return info, nil
}
