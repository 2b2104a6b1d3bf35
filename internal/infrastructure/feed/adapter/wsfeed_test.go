package adapter

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"stepmatch/internal/infrastructure/feed/port"
)

// The dispatch path needs no live connection; sendControl is a no-op while
// disconnected, so subscriptions can be registered and fed frames directly.
func newTestFeed() *WSFeed {
	return NewWSFeed("ws://example.invalid/feed", zerolog.Nop())
}

func frame(kind, topic string, row map[string]any) changeFrame {
	raw, _ := json.Marshal(row)
	return changeFrame{Kind: kind, Topic: topic, Row: raw}
}

func TestWSFeed_SubscribeValidation(t *testing.T) {
	c := newTestFeed()

	_, err := c.Subscribe("", nil, func(port.Event) {})
	require.Error(t, err)
	_, err = c.Subscribe("message", nil, nil)
	require.Error(t, err)
}

func TestWSFeed_DispatchMatchesTopicAndFilter(t *testing.T) {
	c := newTestFeed()

	var got []port.Event
	_, err := c.Subscribe("message", &port.Filter{Column: "conversation_id", Value: "c1"}, func(ev port.Event) {
		got = append(got, ev)
	})
	require.NoError(t, err)

	c.dispatch(frame("insert", "message", map[string]any{"conversation_id": "c1", "id": "m1"}))
	c.dispatch(frame("insert", "message", map[string]any{"conversation_id": "c2", "id": "m2"}))
	c.dispatch(frame("insert", "conversation", map[string]any{"conversation_id": "c1"}))
	c.dispatch(frame("insert", "message", map[string]any{"id": "m3"})) // filter column absent

	require.Len(t, got, 1)
	require.Equal(t, port.ChangeInsert, got[0].Kind)
	require.Equal(t, "message", got[0].Topic)
	require.JSONEq(t, `{"conversation_id":"c1","id":"m1"}`, string(got[0].Row))
}

func TestWSFeed_DispatchNilFilterMatchesAll(t *testing.T) {
	c := newTestFeed()

	var count int
	_, err := c.Subscribe("message", nil, func(port.Event) { count++ })
	require.NoError(t, err)

	c.dispatch(frame("insert", "message", map[string]any{"id": "m1"}))
	c.dispatch(frame("update", "message", map[string]any{"id": "m1", "read": true}))
	c.dispatch(frame("delete", "message", map[string]any{"id": "m1"}))

	require.Equal(t, 3, count)
}

func TestWSFeed_DispatchDropsUnknownKind(t *testing.T) {
	c := newTestFeed()

	var count int
	_, err := c.Subscribe("message", nil, func(port.Event) { count++ })
	require.NoError(t, err)

	c.dispatch(frame("truncate", "message", map[string]any{"id": "m1"}))
	require.Equal(t, 0, count)
}

func TestWSFeed_ClosedSubscriptionStopsDelivery(t *testing.T) {
	c := newTestFeed()

	var count int
	sub, err := c.Subscribe("message", nil, func(port.Event) { count++ })
	require.NoError(t, err)

	c.dispatch(frame("insert", "message", map[string]any{"id": "m1"}))
	sub.Close()
	c.dispatch(frame("insert", "message", map[string]any{"id": "m2"}))

	require.Equal(t, 1, count)
}

func TestWSFeed_CloseDoesNotWaitForBlockedDelivery(t *testing.T) {
	c := newTestFeed()

	entered := make(chan struct{})
	release := make(chan struct{})
	blocked, err := c.Subscribe("message", nil, func(port.Event) {
		close(entered)
		<-release
	})
	require.NoError(t, err)

	go c.dispatch(frame("insert", "message", map[string]any{"id": "m1"}))
	<-entered

	// A consumer may close a subscription from the very goroutine that is
	// supposed to drain its events; Close must not wait for the delivery.
	closed := make(chan struct{})
	go func() {
		blocked.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked behind an in-flight delivery")
	}

	// New subscriptions stay usable while the old delivery is still stuck.
	var count int
	_, err = c.Subscribe("conversation", nil, func(port.Event) { count++ })
	require.NoError(t, err)
	c.dispatch(frame("insert", "conversation", map[string]any{"id": "c1"}))
	require.Equal(t, 1, count)

	close(release)
}

func TestWSFeed_StateHandlers(t *testing.T) {
	c := newTestFeed()

	var states []port.State
	c.OnStateChange(func(st port.State) { states = append(states, st) })
	c.OnStateChange(nil) // ignored

	c.notify(port.StateConnected)
	c.notify(port.StateReconnecting)

	require.Equal(t, []port.State{port.StateConnected, port.StateReconnecting}, states)
}

func TestSubscribeFrame(t *testing.T) {
	sub := &subscription{id: "s1", topic: "message", filter: &port.Filter{Column: "conversation_id", Value: "c1"}}
	f := subscribeFrame(sub)
	require.Equal(t, "subscribe", f.Action)
	require.Equal(t, "s1", f.ID)
	require.Equal(t, "message", f.Topic)
	require.Equal(t, "conversation_id", f.Filter.Column)

	bare := subscribeFrame(&subscription{id: "s2", topic: "conversation"})
	require.Nil(t, bare.Filter)
}
