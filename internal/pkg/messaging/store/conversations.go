package store

import (
	"sort"
	"time"

	messaging "stepmatch/internal/pkg/messaging/domain"
)

// ConversationStore holds the conversation summaries for the whole session,
// keyed by conversation id and listed newest-first. It is a pure state
// container: only the session loop mutates it, so no locking is required.
type ConversationStore struct {
	byID  map[string]*messaging.Conversation
	order []string
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{byID: make(map[string]*messaging.Conversation)}
}

// Upsert inserts or replaces the summary for c.ID and repositions it in the
// recency order.
func (s *ConversationStore) Upsert(c messaging.Conversation) {
	if _, ok := s.byID[c.ID]; !ok {
		s.order = append(s.order, c.ID)
	}
	cp := c
	s.byID[c.ID] = &cp
	s.resort()
}

// Merge applies the non-nil fields of patch to an existing conversation and
// reports whether the conversation was found. Recency order is refreshed when
// LastMessageAt moved.
func (s *ConversationStore) Merge(patch messaging.ConversationPatch) bool {
	c, ok := s.byID[patch.ID]
	if !ok {
		return false
	}
	if patch.LastMessagePreview != nil {
		c.LastMessagePreview = *patch.LastMessagePreview
	}
	if patch.LastMessageAt != nil {
		c.LastMessageAt = *patch.LastMessageAt
		s.resort()
	}
	if patch.UnreadCount != nil {
		c.UnreadCount = *patch.UnreadCount
	}
	return true
}

// Get returns a copy of the conversation summary, if tracked.
func (s *ConversationStore) Get(id string) (messaging.Conversation, bool) {
	c, ok := s.byID[id]
	if !ok {
		return messaging.Conversation{}, false
	}
	return *c, true
}

// Touch updates the preview fields after a message was sent or received and
// moves the conversation to the front of the recency order.
func (s *ConversationStore) Touch(id, preview string, at time.Time) bool {
	c, ok := s.byID[id]
	if !ok {
		return false
	}
	c.LastMessagePreview = preview
	c.LastMessageAt = at
	s.resort()
	return true
}

// SetUnread overwrites the unread counter for id.
func (s *ConversationStore) SetUnread(id string, count int) bool {
	c, ok := s.byID[id]
	if !ok {
		return false
	}
	if count < 0 {
		count = 0
	}
	c.UnreadCount = count
	return true
}

// Has reports whether the conversation is tracked.
func (s *ConversationStore) Has(id string) bool {
	_, ok := s.byID[id]
	return ok
}

// List returns copies of all summaries sorted by LastMessageAt descending.
func (s *ConversationStore) List() []messaging.Conversation {
	out := make([]messaging.Conversation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}

// Len returns the number of tracked conversations.
func (s *ConversationStore) Len() int { return len(s.byID) }

func (s *ConversationStore) resort() {
	sort.SliceStable(s.order, func(i, j int) bool {
		return s.byID[s.order[i]].LastMessageAt.After(s.byID[s.order[j]].LastMessageAt)
	})
}
