package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"stepmatch/internal/infrastructure/feed/port"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	readTimeout    = 60 * time.Second
	minBackoff     = time.Second
	maxBackoff     = 30 * time.Second
)

// WSFeed is a change-feed client over a websocket transport. It implements
// port.Feed: subscriptions are registered with the server via control frames,
// incoming row-change frames are dispatched to matching handlers, and the
// connection is redialed with exponential backoff after a drop. Live
// subscriptions are re-registered on every reconnect.
type WSFeed struct {
	url string
	log zerolog.Logger

	mu       sync.RWMutex
	subs     map[string]*subscription
	stateHs  []port.StateHandler
	conn     *websocket.Conn
	writeMu  sync.Mutex

	once sync.Once
	stop chan struct{}
}

type subscription struct {
	id      string
	topic   string
	filter  *port.Filter
	handler port.Handler
	feed    *WSFeed
	closed  atomic.Bool
}

// Close releases the subscription. It never waits on an in-flight delivery:
// handlers may block arbitrarily long (the consumer's backpressure), and
// waiting for them here would let a consumer deadlock itself by closing a
// subscription from the same goroutine that drains its events. A delivery
// already past the closed check may still complete; no new one starts.
func (s *subscription) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.feed.mu.Lock()
	_, live := s.feed.subs[s.id]
	delete(s.feed.subs, s.id)
	s.feed.mu.Unlock()
	if live {
		s.feed.sendControl(controlFrame{Action: "unsubscribe", ID: s.id})
	}
}

// NewWSFeedFromEnv constructs a client from the FEED_URL environment
// variable. The connection is established by Connect.
func NewWSFeedFromEnv(logger zerolog.Logger) (*WSFeed, error) {
	url := os.Getenv("FEED_URL")
	if url == "" {
		return nil, errors.New("feed: FEED_URL environment variable is not set")
	}
	return NewWSFeed(url, logger), nil
}

// NewWSFeed constructs a client for the given websocket URL.
func NewWSFeed(url string, logger zerolog.Logger) *WSFeed {
	return &WSFeed{
		url:  url,
		log:  logger.With().Str("component", "feed").Logger(),
		subs: make(map[string]*subscription),
		stop: make(chan struct{}),
	}
}

var _ port.Feed = (*WSFeed)(nil)

// Connect dials the feed and starts the read/redial loop. It returns after
// the first dial attempt resolves; later drops are handled internally and
// surfaced through OnStateChange.
func (c *WSFeed) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	c.install(conn)
	go c.run()
	return nil
}

// Subscribe registers h for row changes on topic matching filter and tells
// the server to start streaming them.
func (c *WSFeed) Subscribe(topic string, filter *port.Filter, h port.Handler) (port.Subscription, error) {
	if topic == "" {
		return nil, errors.New("feed: topic is required")
	}
	if h == nil {
		return nil, errors.New("feed: handler is required")
	}
	sub := &subscription{id: uuid.NewString(), topic: topic, filter: filter, handler: h, feed: c}

	c.mu.Lock()
	c.subs[sub.id] = sub
	c.mu.Unlock()

	c.sendControl(subscribeFrame(sub))
	return sub, nil
}

// OnStateChange registers a connectivity observer.
func (c *WSFeed) OnStateChange(h port.StateHandler) {
	if h == nil {
		return
	}
	c.mu.Lock()
	c.stateHs = append(c.stateHs, h)
	c.mu.Unlock()
}

// Close tears down the transport and all subscriptions.
func (c *WSFeed) Close() error {
	c.once.Do(func() { close(c.stop) })
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.subs = make(map[string]*subscription)
	c.mu.Unlock()
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client shutdown"), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		return conn.Close()
	}
	return nil
}

// ===================== wire frames =====================

type controlFrame struct {
	Action string      `json:"action"`
	ID     string      `json:"id"`
	Topic  string      `json:"topic,omitempty"`
	Filter *filterSpec `json:"filter,omitempty"`
}

type filterSpec struct {
	Column string `json:"column"`
	Value  string `json:"value"`
}

type changeFrame struct {
	Kind  string          `json:"kind"`
	Topic string          `json:"topic"`
	Row   json.RawMessage `json:"row"`
}

func subscribeFrame(sub *subscription) controlFrame {
	f := controlFrame{Action: "subscribe", ID: sub.id, Topic: sub.topic}
	if sub.filter != nil {
		f.Filter = &filterSpec{Column: sub.filter.Column, Value: sub.filter.Value}
	}
	return f
}

// ===================== connection management =====================

func (c *WSFeed) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	return conn, err
}

func (c *WSFeed) install(conn *websocket.Conn) {
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	c.mu.Lock()
	c.conn = conn
	frames := make([]controlFrame, 0, len(c.subs))
	for _, sub := range c.subs {
		frames = append(frames, subscribeFrame(sub))
	}
	c.mu.Unlock()

	// Re-register live subscriptions on every (re)connect.
	for _, f := range frames {
		c.sendControl(f)
	}
	c.notify(port.StateConnected)
}

// run reads frames until the connection drops, then redials with backoff.
func (c *WSFeed) run() {
	for {
		conn := c.current()
		if conn == nil {
			return
		}

		pingDone := make(chan struct{})
		go c.pingLoop(conn, pingDone)
		err := c.readLoop(conn)
		close(pingDone)
		_ = conn.Close()

		select {
		case <-c.stop:
			return
		default:
		}

		c.log.Warn().Err(err).Msg("feed connection dropped, reconnecting")
		c.notify(port.StateReconnecting)

		if !c.redial() {
			return
		}
	}
}

func (c *WSFeed) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		var frame changeFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.log.Error().Err(err).Msg("undecodable feed frame dropped")
			continue
		}
		c.dispatch(frame)
	}
}

func (c *WSFeed) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *WSFeed) redial() bool {
	backoff := minBackoff
	for {
		select {
		case <-c.stop:
			return false
		case <-time.After(backoff):
		}

		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		conn, err := c.dial(ctx)
		cancel()
		if err == nil {
			c.install(conn)
			return true
		}

		c.log.Warn().Err(err).Dur("backoff", backoff).Msg("feed redial failed")
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *WSFeed) current() *websocket.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// dispatch fans a row change out to every matching subscription. The
// subscription set is snapshotted first and handlers run without any feed
// lock held: a handler is allowed to block (that is the backpressure toward
// the transport), and nothing that blocks may sit under a lock that Close or
// Subscribe needs.
func (c *WSFeed) dispatch(frame changeFrame) {
	ev := port.Event{Topic: frame.Topic, Row: frame.Row}
	switch frame.Kind {
	case "insert":
		ev.Kind = port.ChangeInsert
	case "update":
		ev.Kind = port.ChangeUpdate
	case "delete":
		ev.Kind = port.ChangeDelete
	default:
		c.log.Debug().Str("kind", frame.Kind).Msg("unknown change kind dropped")
		return
	}

	var row map[string]any
	if len(frame.Row) > 0 {
		if err := json.Unmarshal(frame.Row, &row); err != nil {
			c.log.Error().Err(err).Str("topic", frame.Topic).Msg("undecodable row dropped")
			return
		}
	}

	c.mu.RLock()
	targets := make([]*subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		if sub.topic != frame.Topic {
			continue
		}
		if sub.filter != nil && !matches(row, sub.filter) {
			continue
		}
		targets = append(targets, sub)
	}
	c.mu.RUnlock()

	for _, sub := range targets {
		if sub.closed.Load() {
			continue
		}
		sub.handler(ev)
	}
}

func matches(row map[string]any, f *port.Filter) bool {
	v, ok := row[f.Column]
	if !ok {
		return false
	}
	s, ok := v.(string)
	return ok && s == f.Value
}

func (c *WSFeed) sendControl(f controlFrame) {
	conn := c.current()
	if conn == nil {
		return
	}
	payload, err := json.Marshal(f)
	if err != nil {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.log.Warn().Err(err).Str("action", f.Action).Msg("control frame write failed")
	}
}

func (c *WSFeed) notify(st port.State) {
	c.mu.RLock()
	hs := make([]port.StateHandler, len(c.stateHs))
	copy(hs, c.stateHs)
	c.mu.RUnlock()
	for _, h := range hs {
		h(st)
	}
}
