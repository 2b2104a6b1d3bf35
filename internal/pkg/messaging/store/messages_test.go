package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	messaging "stepmatch/internal/pkg/messaging/domain"
)

var base = time.Date(2026, 5, 12, 10, 0, 0, 0, time.UTC)

func durable(id, sender, content string, at time.Time) messaging.Message {
	return messaging.Message{
		ID:             messaging.DurableID(id),
		ConversationID: "c1",
		SenderID:       sender,
		Content:        content,
		CreatedAt:      at,
	}
}

func requireOrdered(t *testing.T, msgs []messaging.Message) {
	t.Helper()
	for i := 1; i < len(msgs); i++ {
		require.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt),
			"messages out of order at index %d", i)
	}
}

func TestMessageStore_AppendKeepsOrder(t *testing.T) {
	s := NewMessageStore("c1")
	s.Append(durable("m2", "u2", "second", base.Add(2*time.Second)))
	s.Append(durable("m1", "u2", "first", base.Add(1*time.Second)))
	s.Append(durable("m3", "u2", "third", base.Add(3*time.Second)))

	msgs := s.List()
	require.Len(t, msgs, 3)
	requireOrdered(t, msgs)
	require.Equal(t, "m1", msgs[0].ID.String())
	require.Equal(t, "m3", msgs[2].ID.String())
}

func TestMessageStore_DuplicateDurableIsNoOp(t *testing.T) {
	s := NewMessageStore("c1")
	require.True(t, s.Append(durable("m1", "u2", "hi", base)))
	require.False(t, s.Append(durable("m1", "u2", "hi", base)))
	require.Equal(t, 1, s.Len())
}

func TestMessageStore_PromoteReplacesPending(t *testing.T) {
	s := NewMessageStore("c1")
	pending := messaging.Message{
		ID:             messaging.PendingID("tok-1"),
		ConversationID: "c1",
		SenderID:       "me",
		Content:        "hello",
		CreatedAt:      base,
	}
	s.Append(pending)
	require.True(t, s.Promote("tok-1", durable("m1", "me", "hello", base.Add(time.Second))))

	msgs := s.List()
	require.Len(t, msgs, 1)
	require.False(t, msgs[0].ID.IsPending())
	require.Equal(t, "m1", msgs[0].ID.String())
	require.Equal(t, base.Add(time.Second), msgs[0].CreatedAt)
}

func TestMessageStore_PromoteAfterEchoDropsPending(t *testing.T) {
	s := NewMessageStore("c1")
	s.Append(messaging.Message{ID: messaging.PendingID("tok-1"), ConversationID: "c1", SenderID: "me", Content: "hello", CreatedAt: base})
	// Server echo lands first via the feed.
	s.Append(durable("m1", "me", "hello", base.Add(time.Second)))

	require.True(t, s.Promote("tok-1", durable("m1", "me", "hello", base.Add(time.Second))))
	require.Equal(t, 1, s.Len())
	require.Equal(t, "m1", s.List()[0].ID.String())
}

func TestMessageStore_PromoteUnknownToken(t *testing.T) {
	s := NewMessageStore("c1")
	require.False(t, s.Promote("nope", durable("m1", "me", "x", base)))
}

func TestMessageStore_RemovePending(t *testing.T) {
	s := NewMessageStore("c1")
	s.Append(messaging.Message{ID: messaging.PendingID("tok-1"), ConversationID: "c1", SenderID: "me", Content: "hello", CreatedAt: base})
	s.Append(durable("m1", "u2", "other", base.Add(time.Second)))

	removed, ok := s.RemovePending("tok-1")
	require.True(t, ok)
	require.Equal(t, "hello", removed.Content)
	require.Equal(t, 1, s.Len())

	_, ok = s.RemovePending("tok-1")
	require.False(t, ok)
}

func TestMessageStore_EqualStampsKeepInsertionOrder(t *testing.T) {
	s := NewMessageStore("c1")
	s.Append(durable("m1", "u2", "a", base))
	s.Append(messaging.Message{ID: messaging.PendingID("tok-1"), ConversationID: "c1", SenderID: "me", Content: "b", CreatedAt: base})

	msgs := s.List()
	require.Equal(t, "m1", msgs[0].ID.String())
	require.True(t, msgs[1].ID.IsPending())
}

func TestMessageStore_MarkAllRead(t *testing.T) {
	s := NewMessageStore("c1")
	s.Append(durable("m1", "u2", "unread", base))
	s.Append(durable("m2", "me", "mine", base.Add(time.Second)))
	already := durable("m3", "u2", "seen", base.Add(2*time.Second))
	already.Read = true
	s.Append(already)
	s.Append(messaging.Message{ID: messaging.PendingID("tok"), ConversationID: "c1", SenderID: "u2", Content: "pending", CreatedAt: base.Add(3 * time.Second)})

	ids := s.MarkAllRead("me")
	// Own and already-read messages are excluded; pending has no durable id.
	require.Equal(t, []string{"m1"}, ids)
	for _, m := range s.List() {
		if m.SenderID != "me" {
			require.True(t, m.Read)
		}
	}

	require.Empty(t, s.MarkAllRead("me"))
}

func TestMessageStore_MarkRead(t *testing.T) {
	s := NewMessageStore("c1")
	s.Append(durable("m1", "u2", "x", base))

	require.True(t, s.MarkRead("m1"))
	require.False(t, s.MarkRead("m1"))
	require.False(t, s.MarkRead("missing"))
}
