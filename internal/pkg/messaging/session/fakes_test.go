package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	feedport "stepmatch/internal/infrastructure/feed/port"
	messaging "stepmatch/internal/pkg/messaging/domain"
)

// ===================== backend fake =====================

type fakeBackend struct {
	mu    sync.Mutex
	convs map[string]messaging.Conversation
	msgs  map[string][]messaging.Message

	listErr  error
	sendID   string
	sendErr  error
	sendGate chan struct{} // when non-nil, SendMessage blocks until closed
	sent     []string

	convFetches  []string
	convFetchErr error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		convs: make(map[string]messaging.Conversation),
		msgs:  make(map[string][]messaging.Message),
	}
}

func (f *fakeBackend) FetchConversations(ctx context.Context, userID string) ([]messaging.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]messaging.Conversation, 0, len(f.convs))
	for _, c := range f.convs {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeBackend) FetchConversation(ctx context.Context, conversationID, userID string) (messaging.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convFetches = append(f.convFetches, conversationID)
	if f.convFetchErr != nil {
		return messaging.Conversation{}, f.convFetchErr
	}
	c, ok := f.convs[conversationID]
	if !ok {
		return messaging.Conversation{}, fmt.Errorf("fake backend: conversation %s not found", conversationID)
	}
	return c, nil
}

func (f *fakeBackend) FetchMessages(ctx context.Context, conversationID string) ([]messaging.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]messaging.Message, len(f.msgs[conversationID]))
	copy(out, f.msgs[conversationID])
	return out, nil
}

func (f *fakeBackend) SendMessage(ctx context.Context, conversationID, senderID, content string) (messaging.Message, error) {
	f.mu.Lock()
	gate := f.sendGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return messaging.Message{}, f.sendErr
	}
	id := f.sendID
	if id == "" {
		id = fmt.Sprintf("srv-%d", len(f.sent)+1)
	}
	f.sent = append(f.sent, content)
	return messaging.Message{
		ID:             messaging.DurableID(id),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      time.Now(),
	}, nil
}

func (f *fakeBackend) MarkRead(ctx context.Context, conversationID, userID string, messageIDs []string) error {
	return nil
}

func (f *fakeBackend) seedConversation(c messaging.Conversation, msgs ...messaging.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convs[c.ID] = c
	f.msgs[c.ID] = msgs
}

func (f *fakeBackend) conversationFetchCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, fetched := range f.convFetches {
		if fetched == id {
			n++
		}
	}
	return n
}

// ===================== feed fake =====================

type fakeFeed struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*fakeSub
	states []feedport.StateHandler
}

type fakeSub struct {
	feed   *fakeFeed
	id     int
	topic  string
	filter *feedport.Filter
	h      feedport.Handler
}

func (s *fakeSub) Close() {
	s.feed.mu.Lock()
	delete(s.feed.subs, s.id)
	s.feed.mu.Unlock()
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{subs: make(map[int]*fakeSub)}
}

func (f *fakeFeed) Subscribe(topic string, filter *feedport.Filter, h feedport.Handler) (feedport.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	sub := &fakeSub{feed: f, id: f.nextID, topic: topic, filter: filter, h: h}
	f.subs[sub.id] = sub
	return sub, nil
}

func (f *fakeFeed) OnStateChange(h feedport.StateHandler) {
	f.mu.Lock()
	f.states = append(f.states, h)
	f.mu.Unlock()
}

func (f *fakeFeed) Close() error { return nil }

// emit delivers a row change to every matching subscription, mimicking the
// websocket adapter's dispatch.
func (f *fakeFeed) emit(t *testing.T, kind feedport.ChangeKind, topic string, row map[string]any) {
	t.Helper()
	raw, err := json.Marshal(row)
	require.NoError(t, err)
	ev := feedport.Event{Kind: kind, Topic: topic, Row: raw}

	f.mu.Lock()
	var handlers []feedport.Handler
	for _, sub := range f.subs {
		if sub.topic != topic {
			continue
		}
		if sub.filter != nil {
			v, ok := row[sub.filter.Column].(string)
			if !ok || v != sub.filter.Value {
				continue
			}
		}
		handlers = append(handlers, sub.h)
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

func (f *fakeFeed) setState(st feedport.State) {
	f.mu.Lock()
	hs := make([]feedport.StateHandler, len(f.states))
	copy(hs, f.states)
	f.mu.Unlock()
	for _, h := range hs {
		h(st)
	}
}

func (f *fakeFeed) subscriptionCount(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, sub := range f.subs {
		if sub.topic == topic {
			n++
		}
	}
	return n
}

// ===================== read scheduler fake =====================

type readCall struct {
	conversationID string
	messageIDs     []string
}

type fakeReads struct {
	mu    sync.Mutex
	calls []readCall
	err   error
	began chan struct{} // when non-nil, receives one signal per call start
	gate  chan struct{} // when non-nil, ScheduleMarkRead blocks until closed
}

func (f *fakeReads) ScheduleMarkRead(ctx context.Context, conversationID string, messageIDs []string) error {
	if f.began != nil {
		f.began <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, readCall{conversationID: conversationID, messageIDs: messageIDs})
	return f.err
}

func (f *fakeReads) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
