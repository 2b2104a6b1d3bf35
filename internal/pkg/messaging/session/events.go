package session

// EventType names the view notifications the session emits.
type EventType string

const (
	// EventStateChanged signals that a snapshot changed and the view should
	// re-read it.
	EventStateChanged EventType = "state_changed"

	// EventSendFailed carries the rejected message text back to the composer.
	EventSendFailed EventType = "send_failed"

	// EventConnectivity signals entering or leaving the degraded state.
	EventConnectivity EventType = "connectivity"
)

// Event is a notification to the view layer. The view treats these as
// invalidation hints and re-reads the snapshots; only send failures carry
// payload the snapshots cannot provide.
type Event struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id,omitempty"`

	// Content is the original message text of a failed send, returned so the
	// composer can restore it.
	Content string `json:"content,omitempty"`

	Error    string `json:"error,omitempty"`
	Degraded bool   `json:"degraded,omitempty"`
}
