package model

import "encoding/json"

// Event types understood by the signaling core. Offer, answer and
// ice-candidate payloads are opaque to the server and relayed verbatim.
const (
	EventJoinRoom     = "join-room"
	EventUserJoined   = "user-joined"
	EventReadyToCall  = "ready-to-call"
	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventICECandidate = "ice-candidate"
	EventSendMessage  = "send-message"
	EventChatMessage  = "chat-message"
	EventUserLeft     = "user-left"
	EventError        = "error"
)

// Event is the wire envelope for every client<->server message.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent wraps payload into an Event of the given type.
func NewEvent(eventType string, payload any) (Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Payload: b}, nil
}

type JoinRequest struct {
	Username string `json:"username"`
	RoomID   string `json:"room_id"`
}

type UserJoined struct {
	IsFirst bool `json:"is_first"`
}

type SendMessage struct {
	Message string `json:"message"`
}

type ChatMessage struct {
	Message  string `json:"message"`
	Username string `json:"username"`
	Date     string `json:"date"`
}

type UserLeft struct {
	Username string `json:"username"`
	SocketID string `json:"socket_id"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

type Room struct {
	ID           string                 `json:"room_id"`
	Participants map[string]Participant `json:"participants"`
}

type Participant struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Session is the per-connection record. RoomID stays empty until the
// connection sends join-room and is never cleared afterwards.
type Session struct {
	ConnID   string
	Username string
	RoomID   string
}

type Wire struct {
	RX chan Event
	TX chan Event
}

func NewWire() Wire {
	return Wire{
		RX: make(chan Event),
		TX: make(chan Event),
	}
}
