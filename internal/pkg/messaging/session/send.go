package session

import (
	"context"

	"github.com/google/uuid"

	messaging "stepmatch/internal/pkg/messaging/domain"
)

// Send appends an optimistic message to the open view and issues the durable
// write in the background. It returns once the local append happened;
// completion of the write is observed through reconciliation, not through
// this call. Precondition failures (empty content, unknown conversation) are
// returned synchronously and leave no local trace.
func (s *Session) Send(ctx context.Context, conversationID, content string) error {
	reply := make(chan error, 1)
	if err := s.post(ctx, func() { reply <- s.startSend(conversationID, content) }); err != nil {
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

// startSend runs on the loop: validates, appends the pending message, bumps
// the conversation preview, and spawns exactly one durable write attempt.
func (s *Session) startSend(conversationID, content string) error {
	conv, ok := s.convs.Get(conversationID)
	if !ok {
		return messaging.ErrUnknownConversation
	}

	msg, err := messaging.NewPendingMessage(uuid.NewString(), conversationID, s.userID, content, s.now())
	if err != nil {
		return err
	}
	token := msg.ID.String()

	if s.msgs != nil && s.msgs.ConversationID() == conversationID {
		s.msgs.Append(msg)
	}
	s.pending[token] = pendingSend{
		conversationID: conversationID,
		prevPreview:    conv.LastMessagePreview,
		prevAt:         conv.LastMessageAt,
	}
	s.convs.Touch(conversationID, msg.Content, msg.CreatedAt)
	s.emit(Event{Type: EventStateChanged, ConversationID: conversationID})

	go s.performSend(token, msg)
	return nil
}

// performSend issues the durable write off-loop and posts the outcome back.
// The write always runs to completion even if the conversation has been
// closed in the meantime; only the local reconciliation becomes a no-op then.
func (s *Session) performSend(token string, msg messaging.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	durable, err := s.backend.SendMessage(ctx, msg.ConversationID, msg.SenderID, msg.Content)
	s.postInternal(func() {
		if err != nil {
			s.finishSendFailure(token, msg, err)
			return
		}
		s.finishSendSuccess(token, msg, durable)
	})
}

// finishSendSuccess promotes the pending message to its durable form. If the
// server echo already landed via the feed, promotion degenerates to dropping
// the pending entry. A closed conversation leaves nothing to promote.
func (s *Session) finishSendSuccess(token string, sent, durable messaging.Message) {
	delete(s.pending, token)

	if s.msgs != nil && s.msgs.ConversationID() == sent.ConversationID {
		s.msgs.Promote(token, durable)
	}
	// Preview follows the server stamp once known, but only while this send
	// is still the newest entry.
	if conv, ok := s.convs.Get(sent.ConversationID); ok && conv.LastMessagePreview == sent.Content {
		s.convs.Touch(sent.ConversationID, durable.Content, durable.CreatedAt)
	}
	s.emit(Event{Type: EventStateChanged, ConversationID: sent.ConversationID})
}

// finishSendFailure rolls the optimistic state back and returns the text to
// the composer via a single send-failed event. No automatic retry: a retry is
// a new Send.
func (s *Session) finishSendFailure(token string, sent messaging.Message, cause error) {
	p, tracked := s.pending[token]
	delete(s.pending, token)

	if s.msgs != nil && s.msgs.ConversationID() == sent.ConversationID {
		s.msgs.RemovePending(token)
	}
	// Restore the preview only if no newer activity replaced it meanwhile.
	if tracked {
		if conv, ok := s.convs.Get(sent.ConversationID); ok &&
			conv.LastMessagePreview == sent.Content && conv.LastMessageAt.Equal(sent.CreatedAt) {
			s.convs.Touch(sent.ConversationID, p.prevPreview, p.prevAt)
		}
	}

	s.log.Warn().Err(cause).Str("conversation_id", sent.ConversationID).Msg("durable send failed, rolled back")
	s.emit(Event{
		Type:           EventSendFailed,
		ConversationID: sent.ConversationID,
		Content:        sent.Content,
		Error:          cause.Error(),
	})
}
