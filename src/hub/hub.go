package hub

import (
	"sync"

	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// MessageBridge publishes events to other server instances.
// Defined here to avoid circular imports with the bridge package.
type MessageBridge interface {
	Publish(ev types.Event) error
	Available() bool
}

// Hub is the group registry: it maps group names to member clients and fans
// events out to them. Membership of one group is guarded by that group's own
// lock, so operations on different groups do not contend.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]*group

	clientsMu sync.RWMutex
	clients   map[string]*Client

	bridgeMu sync.RWMutex
	bridge   MessageBridge

	logger zerolog.Logger
}

type group struct {
	name    string
	mu      sync.Mutex
	members map[string]*Client
	// dead is set once the group is emptied and unlinked from the index;
	// a dead group never accepts members again.
	dead bool
}

// New creates a new Hub instance.
func New(logger zerolog.Logger) *Hub {
	return &Hub{
		groups:  make(map[string]*group),
		clients: make(map[string]*Client),
		logger:  logger.With().Str("component", "hub").Logger(),
	}
}

// SetBridge attaches a cross-instance message bridge to the hub.
// When set, broadcasts are also forwarded to other instances.
func (h *Hub) SetBridge(b MessageBridge) {
	h.bridgeMu.Lock()
	defer h.bridgeMu.Unlock()
	h.bridge = b
}

// Register adds c to the connection index.
func (h *Hub) Register(c *Client) {
	h.clientsMu.Lock()
	h.clients[c.ID] = c
	n := len(h.clients)
	h.clientsMu.Unlock()

	h.logger.Info().Str("client_id", c.ID).Int("clients", n).Msg("client registered")
}

// Unregister removes c from every group and from the connection index.
// Calling it for an unknown client is a no-op.
func (h *Hub) Unregister(c *Client) {
	h.LeaveAll(c)

	h.clientsMu.Lock()
	_, ok := h.clients[c.ID]
	delete(h.clients, c.ID)
	n := len(h.clients)
	h.clientsMu.Unlock()

	if ok {
		h.logger.Info().Str("client_id", c.ID).Int("clients", n).Msg("client unregistered")
	}
}

// CloseAll closes every registered client. Each connection then runs its own
// teardown. It returns the number of clients closed.
func (h *Hub) CloseAll() int {
	h.clientsMu.RLock()
	clients := lo.Values(h.clients)
	h.clientsMu.RUnlock()

	for _, c := range clients {
		c.Close()
	}
	if len(clients) > 0 {
		h.logger.Info().Int("clients", len(clients)).Msg("closing all clients")
	}
	return len(clients)
}

func (h *Hub) lookup(name string) *group {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.groups[name]
}

// acquire returns the live group for name, creating it if needed.
func (h *Hub) acquire(name string) *group {
	if g := h.lookup(name); g != nil {
		return g
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if g, ok := h.groups[name]; ok {
		g.mu.Lock()
		dead := g.dead
		g.mu.Unlock()
		if !dead {
			return g
		}
	}
	g := &group{name: name, members: make(map[string]*Client)}
	h.groups[name] = g
	return g
}

// unlink removes g from the index if it is still the registered group.
func (h *Hub) unlink(g *group) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.groups[g.name] == g {
		delete(h.groups, g.name)
	}
}

// Join adds c to the named group. Joining twice has no further effect.
// It reports whether c was newly added; closed clients are never added.
func (h *Hub) Join(name string, c *Client) bool {
	for {
		g := h.acquire(name)
		g.mu.Lock()
		if g.dead {
			g.mu.Unlock()
			h.unlink(g)
			continue
		}
		if c.Closed() {
			g.mu.Unlock()
			return false
		}
		if _, ok := g.members[c.ID]; ok {
			g.mu.Unlock()
			return false
		}
		g.members[c.ID] = c
		c.addGroup(name)
		n := len(g.members)
		g.mu.Unlock()

		h.logger.Debug().Str("group", name).Str("client_id", c.ID).Int("members", n).Msg("joined")
		return true
	}
}

// Leave removes c from the named group. It is a no-op if c is not a member.
func (h *Hub) Leave(name string, c *Client) {
	g := h.lookup(name)
	if g == nil {
		c.removeGroup(name)
		return
	}

	g.mu.Lock()
	if _, ok := g.members[c.ID]; !ok {
		g.mu.Unlock()
		c.removeGroup(name)
		return
	}
	delete(g.members, c.ID)
	c.removeGroup(name)
	empty := len(g.members) == 0
	if empty {
		g.dead = true
	}
	g.mu.Unlock()

	if empty {
		h.unlink(g)
	}
	h.logger.Debug().Str("group", name).Str("client_id", c.ID).Msg("left")
}

// LeaveAll removes c from every group it is a member of.
func (h *Hub) LeaveAll(c *Client) {
	for _, name := range c.Groups() {
		h.Leave(name, c)
	}
}
