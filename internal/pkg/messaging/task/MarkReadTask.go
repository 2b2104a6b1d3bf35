package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	qport "stepmatch/internal/infrastructure/queue/port"
	backendport "stepmatch/internal/pkg/messaging/backend/port"
)

// MarkReadTaskType is the queue task name for persisting read receipts.
const MarkReadTaskType = "messaging:mark_read"

// MarkReadTaskPayload is the JSON payload transported via the queue.
// Kept decoupled from domain types to avoid tight coupling with JSON tags.
type MarkReadTaskPayload struct {
	ConversationID string   `json:"conversationId"`
	UserID         string   `json:"userId"`
	MessageIDs     []string `json:"messageIds"`
}

// Scheduler enqueues mark-read writes for background processing. It
// satisfies the session's MarkReadScheduler contract: the queue retries
// transient failures, and the backend operation itself is idempotent, so
// at-least-once execution is safe.
type Scheduler struct {
	q      qport.Client
	userID string
}

func NewScheduler(q qport.Client, userID string) *Scheduler {
	return &Scheduler{q: q, userID: userID}
}

func (s *Scheduler) ScheduleMarkRead(ctx context.Context, conversationID string, messageIDs []string) error {
	payload := MarkReadTaskPayload{
		ConversationID: conversationID,
		UserID:         s.userID,
		MessageIDs:     messageIDs,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("task: encode mark-read payload: %w", err)
	}

	// UniqueTTL collapses the burst of identical writes a user produces by
	// flipping between conversations.
	opts := qport.EnqueueOption{Queue: "readstate", MaxRetry: 10, UniqueTTL: time.Minute}
	if _, err := s.q.Enqueue(ctx, qport.Task{Type: MarkReadTaskType, Payload: b}, opts); err != nil {
		return fmt.Errorf("task: enqueue mark-read: %w", err)
	}
	return nil
}

// RegisterMarkReadTask binds the task handler to the provided server.
// The handler performs the durable mark-read write against the backend.
func RegisterMarkReadTask(srv qport.Server, backend backendport.Backend) {
	srv.Register(MarkReadTaskType, func(ctx context.Context, t qport.Task) error {
		var p MarkReadTaskPayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			// malformed payload: do not retry indefinitely
			return err
		}

		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		// Retry/backoff on error is controlled by the queue server; the
		// write is idempotent so re-execution is harmless.
		return backend.MarkRead(ctx, p.ConversationID, p.UserID, p.MessageIDs)
	})
}
