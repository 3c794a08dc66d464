package hub

import (
	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/samber/lo"
)

// ConnectedClients returns a list of connected client IDs.
func (h *Hub) ConnectedClients() []string {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return lo.Keys(h.clients)
}

// ClientInfo returns info for a connected client, or nil.
func (h *Hub) ClientInfo(clientID string) *types.ClientInfo {
	h.clientsMu.RLock()
	client, ok := h.clients[clientID]
	h.clientsMu.RUnlock()
	if !ok {
		return nil
	}
	info := client.Info()
	return &info
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Groups returns group names with their member counts.
func (h *Hub) Groups() map[string]int {
	h.mu.RLock()
	groups := lo.Values(h.groups)
	h.mu.RUnlock()

	result := make(map[string]int, len(groups))
	for _, g := range groups {
		g.mu.Lock()
		if !g.dead && len(g.members) > 0 {
			result[g.name] = len(g.members)
		}
		g.mu.Unlock()
	}
	return result
}

// Members returns the IDs of the clients in the named group.
func (h *Hub) Members(name string) []string {
	g := h.lookup(name)
	if g == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return lo.Keys(g.members)
}
