package store

import (
	"sort"

	messaging "stepmatch/internal/pkg/messaging/domain"
)

// MessageStore holds the ordered messages of a single open conversation.
// It is replaced wholesale when the user switches conversations. Order is
// non-decreasing by CreatedAt; inserts with equal stamps land after existing
// entries so a locally-stamped pending message keeps its provisional slot
// until promotion.
type MessageStore struct {
	conversationID string
	messages       []messaging.Message
}

func NewMessageStore(conversationID string) *MessageStore {
	return &MessageStore{conversationID: conversationID}
}

// ConversationID returns the conversation this store is scoped to.
func (s *MessageStore) ConversationID() string { return s.conversationID }

// Reset replaces the full contents with msgs, sorting by CreatedAt.
func (s *MessageStore) Reset(msgs []messaging.Message) {
	s.messages = append(s.messages[:0], msgs...)
	s.resort()
}

// Append inserts m at its ordered position. Duplicate durable ids are
// absorbed as no-ops so at-least-once feed delivery cannot duplicate a
// message.
func (s *MessageStore) Append(m messaging.Message) bool {
	if !m.ID.IsPending() && s.ContainsDurable(m.ID.String()) {
		return false
	}
	s.messages = append(s.messages, m)
	s.resort()
	return true
}

// ContainsDurable reports whether a committed message with the given durable
// id is present.
func (s *MessageStore) ContainsDurable(id string) bool {
	for i := range s.messages {
		if !s.messages[i].ID.IsPending() && s.messages[i].ID.String() == id {
			return true
		}
	}
	return false
}

// Promote replaces the pending message identified by token with its durable
// form. The server stamp wins the ordering once promoted. If the durable id
// already arrived via the feed, the pending entry is simply dropped. Returns
// false when no pending entry with that token exists.
func (s *MessageStore) Promote(token string, durable messaging.Message) bool {
	idx := s.indexOfPending(token)
	if idx < 0 {
		return false
	}
	if s.ContainsDurable(durable.ID.String()) {
		s.messages = append(s.messages[:idx], s.messages[idx+1:]...)
		return true
	}
	s.messages[idx] = durable
	s.resort()
	return true
}

// RemovePending drops the pending message identified by token and returns it
// for rollback handling.
func (s *MessageStore) RemovePending(token string) (messaging.Message, bool) {
	idx := s.indexOfPending(token)
	if idx < 0 {
		return messaging.Message{}, false
	}
	m := s.messages[idx]
	s.messages = append(s.messages[:idx], s.messages[idx+1:]...)
	return m, true
}

// MarkAllRead flags every message as read and returns the durable ids of
// messages not authored by exceptSender that were still unread.
func (s *MessageStore) MarkAllRead(exceptSender string) []string {
	var ids []string
	for i := range s.messages {
		m := &s.messages[i]
		if m.SenderID == exceptSender {
			continue
		}
		if !m.Read && !m.ID.IsPending() {
			ids = append(ids, m.ID.String())
		}
		m.Read = true
	}
	return ids
}

// MarkRead sets the read flag on the message with the given durable id and
// reports whether the flag changed.
func (s *MessageStore) MarkRead(id string) bool {
	for i := range s.messages {
		m := &s.messages[i]
		if !m.ID.IsPending() && m.ID.String() == id {
			if m.Read {
				return false
			}
			m.Read = true
			return true
		}
	}
	return false
}

// List returns a copy of the messages in store order.
func (s *MessageStore) List() []messaging.Message {
	out := make([]messaging.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of messages held.
func (s *MessageStore) Len() int { return len(s.messages) }

func (s *MessageStore) indexOfPending(token string) int {
	for i := range s.messages {
		if s.messages[i].ID.IsPending() && s.messages[i].ID.String() == token {
			return i
		}
	}
	return -1
}

func (s *MessageStore) resort() {
	sort.SliceStable(s.messages, func(i, j int) bool {
		return s.messages[i].CreatedAt.Before(s.messages[j].CreatedAt)
	})
}
