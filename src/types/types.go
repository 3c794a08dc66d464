package types

import (
	"encoding/json"
	"time"
)

// Event types carried through the registry.
const (
	EventChatMessage = "chat_message"
	EventRealtime    = "send_realtime_event"
)

const (
	roomGroupPrefix     = "chat_"
	personalGroupPrefix = "user_"
)

// Event is a message submitted to a group. Data is kept encoded so a single
// broadcast is marshaled once no matter how many members receive it.
type Event struct {
	Group     string          `json:"group"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent encodes data and stamps the event.
func NewEvent(group, eventType string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Group:     group,
		Type:      eventType,
		Data:      raw,
		Timestamp: time.Now(),
	}, nil
}

// ChatPayload is the payload of a chat_message event.
type ChatPayload struct {
	Message string `json:"message"`
	User    string `json:"user,omitempty"`
}

// Account is the read-only snapshot of an authenticated user held by a connection.
type Account struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// ClientInfo holds metadata about a connected WebSocket client.
type ClientInfo struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id"`
	ConnectedAt time.Time `json:"connected_at"`
	Groups      []string  `json:"groups"`
	RemoteAddr  string    `json:"remote_addr,omitempty"`
}

// Conn abstracts a WebSocket connection for testability. Both
// *fasthttp/websocket.Conn and *gorilla/websocket.Conn satisfy it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// RoomGroup returns the group joined by connections to a chat room.
func RoomGroup(room string) string { return roomGroupPrefix + room }

// PersonalGroup returns the implicit group of an account.
func PersonalGroup(accountID string) string { return personalGroupPrefix + accountID }
