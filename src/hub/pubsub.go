package hub

import (
	"errors"

	"github.com/orchestra-mcp/realtime/src/types"
)

// Broadcast delivers ev to every current member of the named group, then
// forwards it to the bridge if one is attached. Members whose Send fails are
// skipped. It returns the number of local members the event was queued for.
func (h *Hub) Broadcast(name string, ev types.Event) int {
	ev.Group = name
	delivered := h.deliver(name, ev)
	h.publishToBridge(ev)
	return delivered
}

// BroadcastToLocal delivers an event received from the bridge to local
// members only. It does not re-publish, preventing loops between instances.
func (h *Hub) BroadcastToLocal(ev types.Event) {
	h.deliver(ev.Group, ev)
}

// deliver fans ev out under the group lock so that members see events of one
// group in the order they entered it.
func (h *Hub) deliver(name string, ev types.Event) int {
	g := h.lookup(name)
	if g == nil {
		h.logger.Debug().Str("group", name).Msg("no members")
		return 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	delivered := 0
	for id, c := range g.members {
		err := c.Send(ev)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrClosed):
			h.logger.Debug().Str("group", name).Str("client_id", id).Msg("client closing, skipped")
		default:
			h.logger.Warn().Err(err).Str("group", name).Str("client_id", id).Msg("send failed, skipped")
		}
	}
	return delivered
}

// publishToBridge forwards an event to the bridge if one is attached.
func (h *Hub) publishToBridge(ev types.Event) {
	h.bridgeMu.RLock()
	b := h.bridge
	h.bridgeMu.RUnlock()

	if b == nil || !b.Available() {
		return
	}
	if err := b.Publish(ev); err != nil {
		h.logger.Error().Err(err).Str("group", ev.Group).Msg("bridge publish failed")
	}
}
