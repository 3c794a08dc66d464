package gateway

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/orchestra-mcp/realtime/src/hub"
	"github.com/orchestra-mcp/realtime/src/types"
)

var (
	// ErrMalformedMessage is returned for inbound frames that do not have the
	// shape a variant accepts. The frame is dropped; the connection stays open.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrInvalidRoom is returned when a room identifier cannot name a group.
	ErrInvalidRoom = errors.New("invalid room")
)

const anonymousUser = "Anonymous"

var validate = validator.New()

// Variant parameterizes the connection lifecycle: which groups a connection
// joins, what it does with client frames, and how group events are written
// back to it.
type Variant struct {
	Name string
	// Groups derives the groups to join from the authenticated account and
	// the room identifier taken from the connection path.
	Groups func(account types.Account, room string) ([]string, error)
	// Receive turns a client frame into an event for the connection's groups.
	// relay is false when the frame is discarded.
	Receive func(account types.Account, data []byte) (ev types.Event, relay bool, err error)
	// Render writes a group event for this connection.
	Render hub.Renderer
}

// Room relays chat messages between the connections of one room.
var Room = Variant{
	Name:    "room",
	Groups:  roomGroups,
	Receive: receiveChat,
	Render:  renderChat,
}

// Personal is the receive-only channel of one account. It delivers events
// published through the event bridge and discards client input.
var Personal = Variant{
	Name:    "personal",
	Groups:  personalGroups,
	Receive: discard,
	Render:  renderRealtime,
}

type chatInbound struct {
	Message *string `json:"message" validate:"required"`
}

type chatOutbound struct {
	User    string `json:"user"`
	Message string `json:"message"`
}

func roomGroups(_ types.Account, room string) ([]string, error) {
	if err := validate.Var(room, "required,max=128,excludesall=/?#"); err != nil {
		return nil, fmt.Errorf("%w %q", ErrInvalidRoom, room)
	}
	return []string{types.RoomGroup(room)}, nil
}

func personalGroups(account types.Account, _ string) ([]string, error) {
	return []string{types.PersonalGroup(account.ID)}, nil
}

func receiveChat(account types.Account, data []byte) (types.Event, bool, error) {
	var in chatInbound
	if err := json.Unmarshal(data, &in); err != nil {
		return types.Event{}, false, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := validate.Struct(in); err != nil {
		return types.Event{}, false, fmt.Errorf("%w: message is required", ErrMalformedMessage)
	}
	ev, err := types.NewEvent("", types.EventChatMessage, types.ChatPayload{
		Message: *in.Message,
		User:    account.DisplayName,
	})
	if err != nil {
		return types.Event{}, false, err
	}
	return ev, true, nil
}

func discard(types.Account, []byte) (types.Event, bool, error) {
	return types.Event{}, false, nil
}

func renderChat(ev types.Event) ([]byte, error) {
	if ev.Type != types.EventChatMessage {
		return nil, hub.ErrUnhandledEvent
	}
	var p types.ChatPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return nil, fmt.Errorf("decode chat payload: %w", err)
	}
	if p.User == "" {
		p.User = anonymousUser
	}
	return json.Marshal(chatOutbound{User: p.User, Message: p.Message})
}

func renderRealtime(ev types.Event) ([]byte, error) {
	if ev.Type != types.EventRealtime {
		return nil, hub.ErrUnhandledEvent
	}
	if len(ev.Data) == 0 {
		return []byte("null"), nil
	}
	return ev.Data, nil
}
