package ws

type EventType string

const (
	// Client -> server.
	EventSubscribe   EventType = "subscribe"
	EventUnsubscribe EventType = "unsubscribe"

	// Server -> client.
	EventData  EventType = "data"
	EventError EventType = "error"
)

// IncomingMessage is what the client sends: a subscription change naming a
// query scope ("conversations", "users", "messages:{conversation_id}").
type IncomingMessage struct {
	Type  EventType `json:"type"`
	Scope string    `json:"scope,omitempty"`
}

// OutgoingMessage carries a fresh query result (or an error) for a scope.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Scope   string    `json:"scope,omitempty"`
	Payload any       `json:"payload,omitempty"`
}
