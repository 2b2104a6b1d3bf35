package session

import (
	"context"

	feedport "stepmatch/internal/infrastructure/feed/port"
	messaging "stepmatch/internal/pkg/messaging/domain"
	"stepmatch/internal/pkg/messaging/store"
)

// OpenConversation selects a conversation: it installs a fresh message store,
// subscribes to the conversation's message feed, fetches the backlog, zeroes
// the unread counter and schedules the durable mark-read write. Re-opening
// the already-open conversation only re-runs the (idempotent) read marking.
func (s *Session) OpenConversation(ctx context.Context, conversationID string) error {
	reply := make(chan error, 1)
	if err := s.post(ctx, func() { reply <- s.openConversation(conversationID) }); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) openConversation(conversationID string) error {
	if !s.convs.Has(conversationID) {
		return messaging.ErrUnknownConversation
	}
	if s.openID == conversationID && s.msgs != nil {
		s.markOpenRead()
		return nil
	}

	s.closeOpen()

	sub, err := s.feed.Subscribe(topicMessage, &feedport.Filter{Column: "conversation_id", Value: conversationID}, func(ev feedport.Event) {
		s.postInternal(func() { s.handleMessageChange(ev) })
	})
	if err != nil {
		return err
	}
	s.openID = conversationID
	s.openSub = sub
	s.msgs = store.NewMessageStore(conversationID)

	go s.loadMessages(conversationID)
	return nil
}

// loadMessages fetches the backlog off-loop and installs it, preserving any
// pending sends issued while the fetch was in flight. Message display is not
// blocked on the mark-read write that follows.
func (s *Session) loadMessages(conversationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	msgs, err := s.backend.FetchMessages(ctx, conversationID)
	s.postInternal(func() {
		if s.msgs == nil || s.msgs.ConversationID() != conversationID {
			return
		}
		if err != nil {
			s.log.Error().Err(err).Str("conversation_id", conversationID).Msg("message fetch failed")
			s.emit(Event{Type: EventStateChanged, ConversationID: conversationID, Error: err.Error()})
			return
		}
		s.resetMessagesKeepingPending(msgs)
		s.markOpenRead()
		s.emit(Event{Type: EventStateChanged, ConversationID: conversationID})
	})
}

// markOpenRead zeroes the unread counter optimistically and schedules the
// durable mark-read write for every fetched message not authored by the
// local user that is still unread. When nothing is unread the write is
// skipped entirely, which makes repeated opens no-ops. The ids are collected
// on the loop but the enqueue itself runs off-loop, like performSend: a slow
// queue must never stall event delivery.
func (s *Session) markOpenRead() {
	if s.openID == "" || s.msgs == nil {
		return
	}
	s.convs.SetUnread(s.openID, 0)

	ids := s.msgs.MarkAllRead(s.userID)
	if len(ids) == 0 {
		return
	}
	go s.scheduleMarkRead(s.openID, ids)
}

// scheduleMarkRead issues the enqueue off-loop. A failure is logged and
// swallowed: read state is low stakes, local state is never rolled back, and
// the next open re-attempts the write.
func (s *Session) scheduleMarkRead(conversationID string, ids []string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()
	if err := s.reads.ScheduleMarkRead(ctx, conversationID, ids); err != nil {
		s.log.Warn().Err(err).Str("conversation_id", conversationID).Int("messages", len(ids)).
			Msg("mark-read scheduling failed, keeping local read state")
	}
}
