package messaging

import "time"

// Participant is the other side of a conversation as shown in the list UI.
type Participant struct {
	ID          string
	DisplayName string
	AvatarURL   string
	Online      bool
	LastSeenAt  time.Time
}

// Conversation is the summary entry for a two-participant thread. It owns
// only the summary fields; messages belong to the MessageStore of the
// currently open conversation.
type Conversation struct {
	ID                 string
	Other              Participant
	LastMessagePreview string
	LastMessageAt      time.Time
	UnreadCount        int
}

// ConversationPatch carries the fields a change-feed update may touch.
// Nil pointers mean "not present in the event"; merge must leave the
// corresponding local field untouched.
type ConversationPatch struct {
	ID                 string
	LastMessagePreview *string
	LastMessageAt      *time.Time
	UnreadCount        *int
}
