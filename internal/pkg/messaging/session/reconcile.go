package session

import (
	"context"
	"encoding/json"
	"time"

	feedport "stepmatch/internal/infrastructure/feed/port"
	messaging "stepmatch/internal/pkg/messaging/domain"
)

// Feed row shapes. The feed delivers whole rows; partial updates carry nulls
// for untouched columns, hence the pointer fields.
type messageRow struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	Read           bool      `json:"read"`
}

type conversationRow struct {
	ID                 string     `json:"id"`
	LastMessagePreview *string    `json:"last_message_preview"`
	LastMessageAt      *time.Time `json:"last_message_at"`
}

type participantRow struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	UnreadCount    *int   `json:"unread_count"`
}

// handleMessageChange merges one message feed event into the open message
// store. Dedup is keyed on the durable id, so at-least-once delivery and the
// sender's own echo are absorbed as no-ops. Events for a conversation that is
// no longer open are dropped: the subscription was released, this is just a
// frame that was already in flight.
func (s *Session) handleMessageChange(ev feedport.Event) {
	var row messageRow
	if err := json.Unmarshal(ev.Row, &row); err != nil {
		s.log.Error().Err(err).Str("topic", ev.Topic).Msg("undecodable message event dropped")
		return
	}
	if s.msgs == nil || s.msgs.ConversationID() != row.ConversationID {
		return
	}

	switch ev.Kind {
	case feedport.ChangeInsert:
		msg := messaging.Message{
			ID:             messaging.DurableID(row.ID),
			ConversationID: row.ConversationID,
			SenderID:       row.SenderID,
			Content:        row.Content,
			CreatedAt:      row.CreatedAt,
			Read:           row.Read,
		}
		if row.SenderID == s.userID {
			// Server echo of our own send. If promotion already landed this
			// is a duplicate; otherwise insert the durable form now and let
			// the promotion collapse onto it when the write's own response
			// arrives.
			if !s.msgs.Append(msg) {
				return
			}
		} else {
			if !s.msgs.Append(msg) {
				return
			}
			s.convs.Touch(row.ConversationID, row.Content, row.CreatedAt)
		}
		s.emit(Event{Type: EventStateChanged, ConversationID: row.ConversationID})

	case feedport.ChangeUpdate:
		// Content is immutable; the only update a message row sees is the
		// other participant reading it.
		if row.Read && s.msgs.MarkRead(row.ID) {
			s.emit(Event{Type: EventStateChanged, ConversationID: row.ConversationID})
		}
	}
}

// handleConversationChange merges a conversation feed event into the list. A
// partial event for an unknown conversation is not enough to build a valid
// summary, so the full summary is fetched before inserting; if that fetch
// fails the event is dropped and logged.
func (s *Session) handleConversationChange(ev feedport.Event) {
	var row conversationRow
	if err := json.Unmarshal(ev.Row, &row); err != nil {
		s.log.Error().Err(err).Str("topic", ev.Topic).Msg("undecodable conversation event dropped")
		return
	}
	if row.ID == "" {
		return
	}

	patch := messaging.ConversationPatch{
		ID:                 row.ID,
		LastMessagePreview: row.LastMessagePreview,
		LastMessageAt:      row.LastMessageAt,
	}
	if s.convs.Merge(patch) {
		s.emit(Event{Type: EventStateChanged, ConversationID: row.ID})
		return
	}

	s.log.Debug().Str("conversation_id", row.ID).Msg("event for unknown conversation, fetching summary")
	go s.fetchAndInsertConversation(row.ID)
}

// fetchAndInsertConversation pulls the full summary off-loop and installs it.
// Upsert is idempotent, so two racing fetches for the same id still yield one
// entry.
func (s *Session) fetchAndInsertConversation(conversationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	conv, err := s.backend.FetchConversation(ctx, conversationID, s.userID)
	if err != nil {
		s.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("summary fetch failed, event dropped")
		return
	}
	s.decoratePresence(ctx, &conv)
	s.postInternal(func() {
		s.convs.Upsert(conv)
		s.emit(Event{Type: EventStateChanged, ConversationID: conversationID})
	})
}

// handleUnreadChange overwrites the local user's unread counter. Rows for
// other participants and for conversations not tracked locally are ignored.
func (s *Session) handleUnreadChange(ev feedport.Event) {
	var row participantRow
	if err := json.Unmarshal(ev.Row, &row); err != nil {
		s.log.Error().Err(err).Str("topic", ev.Topic).Msg("undecodable participant event dropped")
		return
	}
	if row.UserID != s.userID || row.UnreadCount == nil {
		return
	}
	if !s.convs.SetUnread(row.ConversationID, *row.UnreadCount) {
		s.log.Debug().Str("conversation_id", row.ConversationID).Msg("unread update for untracked conversation ignored")
		return
	}
	s.emit(Event{Type: EventStateChanged, ConversationID: row.ConversationID})
}
