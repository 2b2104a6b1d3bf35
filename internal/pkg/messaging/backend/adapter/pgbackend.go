package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stepmatch/internal/pkg/messaging/backend/port"
	messaging "stepmatch/internal/pkg/messaging/domain"
)

// PgBackend implements port.Backend against the hosted relational store.
type PgBackend struct {
	pool *pgxpool.Pool
}

func NewPgBackend(pool *pgxpool.Pool) *PgBackend {
	return &PgBackend{pool: pool}
}

var _ port.Backend = (*PgBackend)(nil)

const conversationColumns = `
	c.id::text,
	o.user_id::text,
	op.display_name,
	COALESCE(op.avatar_url, ''),
	COALESCE(c.last_message_preview, ''),
	c.last_message_at,
	me.unread_count
`

func (b *PgBackend) FetchConversations(ctx context.Context, userID string) ([]messaging.Conversation, error) {
	if b == nil || b.pool == nil {
		return nil, errors.New("PgBackend: nil pool")
	}
	rows, err := b.pool.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM messaging.conversation c
		JOIN messaging.participant me ON me.conversation_id = c.id AND me.user_id = $1::uuid
		JOIN messaging.participant o  ON o.conversation_id = c.id AND o.user_id <> $1::uuid
		JOIN messaging.profile op     ON op.user_id = o.user_id
		ORDER BY c.last_message_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("backend: fetch conversations: %w", err)
	}
	defer rows.Close()

	var convs []messaging.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("backend: fetch conversations: %w", err)
		}
		convs = append(convs, c)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("backend: fetch conversations: %w", rows.Err())
	}
	return convs, nil
}

func (b *PgBackend) FetchConversation(ctx context.Context, conversationID, userID string) (messaging.Conversation, error) {
	if b == nil || b.pool == nil {
		return messaging.Conversation{}, errors.New("PgBackend: nil pool")
	}
	row := b.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM messaging.conversation c
		JOIN messaging.participant me ON me.conversation_id = c.id AND me.user_id = $2::uuid
		JOIN messaging.participant o  ON o.conversation_id = c.id AND o.user_id <> $2::uuid
		JOIN messaging.profile op     ON op.user_id = o.user_id
		WHERE c.id = $1::uuid
	`, conversationID, userID)

	c, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return messaging.Conversation{}, port.ErrNotFound
	}
	if err != nil {
		return messaging.Conversation{}, fmt.Errorf("backend: fetch conversation: %w", err)
	}
	return c, nil
}

func (b *PgBackend) FetchMessages(ctx context.Context, conversationID string) ([]messaging.Message, error) {
	if b == nil || b.pool == nil {
		return nil, errors.New("PgBackend: nil pool")
	}
	rows, err := b.pool.Query(ctx, `
		SELECT id::text, conversation_id::text, sender_id::text, content, created_at, read_at IS NOT NULL
		FROM messaging.message
		WHERE conversation_id = $1::uuid
		ORDER BY created_at ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("backend: fetch messages: %w", err)
	}
	defer rows.Close()

	var msgs []messaging.Message
	for rows.Next() {
		var (
			id string
			m  messaging.Message
		)
		if err := rows.Scan(&id, &m.ConversationID, &m.SenderID, &m.Content, &m.CreatedAt, &m.Read); err != nil {
			return nil, fmt.Errorf("backend: fetch messages: %w", err)
		}
		m.ID = messaging.DurableID(id)
		msgs = append(msgs, m)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("backend: fetch messages: %w", rows.Err())
	}
	return msgs, nil
}

func (b *PgBackend) SendMessage(ctx context.Context, conversationID, senderID, content string) (messaging.Message, error) {
	if b == nil || b.pool == nil {
		return messaging.Message{}, errors.New("PgBackend: nil pool")
	}
	m := messaging.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
	}
	var id string
	err := b.pool.QueryRow(ctx, `
		INSERT INTO messaging.message (conversation_id, sender_id, content)
		VALUES ($1::uuid, $2::uuid, $3)
		RETURNING id::text, created_at
	`, conversationID, senderID, content).Scan(&id, &m.CreatedAt)
	if err != nil {
		return messaging.Message{}, fmt.Errorf("backend: send message: %w", err)
	}
	m.ID = messaging.DurableID(id)
	return m, nil
}

// MarkRead stamps the given messages as read and resets the reader's unread
// counter. Both statements only touch rows that still need the change, so
// repeated calls are no-ops.
func (b *PgBackend) MarkRead(ctx context.Context, conversationID, userID string, messageIDs []string) error {
	if b == nil || b.pool == nil {
		return errors.New("PgBackend: nil pool")
	}
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("backend: mark read: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if len(messageIDs) > 0 {
		_, err = tx.Exec(ctx, `
			UPDATE messaging.message
			SET read_at = now()
			WHERE conversation_id = $1::uuid
			  AND id = ANY($2::uuid[])
			  AND sender_id <> $3::uuid
			  AND read_at IS NULL
		`, conversationID, messageIDs, userID)
		if err != nil {
			return fmt.Errorf("backend: mark read: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE messaging.participant
		SET unread_count = 0
		WHERE conversation_id = $1::uuid AND user_id = $2::uuid AND unread_count <> 0
	`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("backend: mark read: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("backend: mark read: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(r rowScanner) (messaging.Conversation, error) {
	var c messaging.Conversation
	err := r.Scan(
		&c.ID,
		&c.Other.ID,
		&c.Other.DisplayName,
		&c.Other.AvatarURL,
		&c.LastMessagePreview,
		&c.LastMessageAt,
		&c.UnreadCount,
	)
	return c, err
}
