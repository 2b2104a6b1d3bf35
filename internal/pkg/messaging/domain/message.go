package messaging

import (
	"errors"
	"strings"
	"time"
)

// MessageID distinguishes a locally-synthesized message awaiting its durable
// write from one the backing store has committed. The two cases never compare
// equal: a pending id matches only the same local token, a durable id matches
// only the same server-assigned id. This keeps promotion and dedup total
// instead of relying on string-prefix conventions.
type MessageID struct {
	value   string
	pending bool
}

// PendingID wraps a process-local token for a message whose durable write is
// still in flight.
func PendingID(token string) MessageID {
	return MessageID{value: token, pending: true}
}

// DurableID wraps an identifier assigned by the backing store.
func DurableID(id string) MessageID {
	return MessageID{value: id}
}

func (id MessageID) IsPending() bool { return id.pending }
func (id MessageID) IsZero() bool    { return id.value == "" }

// String returns the underlying token or durable id.
func (id MessageID) String() string { return id.value }

// Message is a single entry in a conversation. Content is immutable once
// created; Read is the only field mutated after insertion.
type Message struct {
	ID             MessageID
	ConversationID string
	SenderID       string
	Content        string
	CreatedAt      time.Time
	Read           bool
}

var (
	ErrEmptyContent        = errors.New("messaging: message content is empty")
	ErrUnknownConversation = errors.New("messaging: conversation is not tracked locally")
)

// NewPendingMessage synthesizes the optimistic local form of an outgoing
// message. Content is trimmed; empty content is rejected before any state is
// touched.
func NewPendingMessage(token, conversationID, senderID, content string, now time.Time) (Message, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return Message{}, ErrEmptyContent
	}
	if conversationID == "" {
		return Message{}, ErrUnknownConversation
	}
	return Message{
		ID:             PendingID(token),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        trimmed,
		CreatedAt:      now,
	}, nil
}
