package port

import (
	"context"
	"errors"

	messaging "stepmatch/internal/pkg/messaging/domain"
)

// ErrNotFound signals that the referenced conversation does not exist in the
// backing store.
var ErrNotFound = errors.New("backend: not found")

// Backend defines the durable operations the sync core needs from the hosted
// store. Implementations must be safe for concurrent use; all methods honor
// context cancellation.
//
// MarkRead is idempotent: marking already-read messages is a no-op on the
// server side, so retries and repeated conversation opens are harmless.
type Backend interface {
	// FetchConversations returns the user's conversation summaries ordered by
	// recency (newest first).
	FetchConversations(ctx context.Context, userID string) ([]messaging.Conversation, error)

	// FetchConversation returns the summary of a single conversation from the
	// perspective of userID.
	FetchConversation(ctx context.Context, conversationID, userID string) (messaging.Conversation, error)

	// FetchMessages returns the conversation's messages ordered by creation
	// time (oldest first).
	FetchMessages(ctx context.Context, conversationID string) ([]messaging.Message, error)

	// SendMessage commits a new message and returns its durable form with the
	// server-assigned id and timestamp.
	SendMessage(ctx context.Context, conversationID, senderID, content string) (messaging.Message, error)

	// MarkRead flags the given messages as read by userID and resets the
	// user's unread counter for the conversation.
	MarkRead(ctx context.Context, conversationID, userID string, messageIDs []string) error
}
