package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	feedport "stepmatch/internal/infrastructure/feed/port"
	backendport "stepmatch/internal/pkg/messaging/backend/port"
	messaging "stepmatch/internal/pkg/messaging/domain"
	"stepmatch/internal/pkg/messaging/store"
)

// Feed topics the session subscribes to. The hosted change feed exposes one
// topic per table.
const (
	topicMessage      = "message"
	topicConversation = "conversation"
	topicParticipant  = "participant"
)

// MarkReadScheduler schedules the durable mark-read write for a batch of
// messages. Implementations must be idempotent per (conversation, ids) batch;
// the session never rolls back local read state when the write fails.
type MarkReadScheduler interface {
	ScheduleMarkRead(ctx context.Context, conversationID string, messageIDs []string) error
}

// PresenceLookup resolves the online flag and last-seen time of a user.
// Optional; a nil lookup leaves presence fields as fetched.
type PresenceLookup interface {
	Presence(ctx context.Context, userID string) (online bool, lastSeen time.Time, err error)
}

// ErrClosed is returned by session entry points after Run has exited.
var ErrClosed = errors.New("session: closed")

// Config wires the session's collaborators.
type Config struct {
	UserID   string
	Backend  backendport.Backend
	Feed     feedport.Feed
	Reads    MarkReadScheduler
	Presence PresenceLookup
	Logger   zerolog.Logger

	// InboxSize bounds the internal event queue; the feed dispatch path
	// blocks when it is full, which is the backpressure boundary toward the
	// transport. Defaults to 256.
	InboxSize int

	// WriteTimeout bounds each durable write issued by the session.
	// Defaults to 10s.
	WriteTimeout time.Duration
}

type pendingSend struct {
	conversationID string
	prevPreview    string
	prevAt         time.Time
}

// Session maintains the locally-consistent view of the user's conversations
// and the currently open conversation's messages. All state is owned by a
// single loop goroutine (Run); public methods post work into that loop and
// never touch the stores directly, so no handler ever runs concurrently with
// another.
type Session struct {
	userID       string
	backend      backendport.Backend
	feed         feedport.Feed
	reads        MarkReadScheduler
	presence     PresenceLookup
	log          zerolog.Logger
	writeTimeout time.Duration
	retryDelay   time.Duration

	inbox  chan func()
	events chan Event
	done   chan struct{}

	now func() time.Time

	// Loop-owned state below. Never accessed outside the Run goroutine.
	convs    *store.ConversationStore
	msgs     *store.MessageStore
	openID   string
	openSub  feedport.Subscription
	pending  map[string]pendingSend
	degraded bool
}

// New constructs a Session. Run must be called before the entry points are
// used.
func New(cfg Config) (*Session, error) {
	if cfg.UserID == "" {
		return nil, errors.New("session: user id is required")
	}
	if cfg.Backend == nil || cfg.Feed == nil || cfg.Reads == nil {
		return nil, errors.New("session: backend, feed and reads are required")
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 256
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Session{
		userID:       cfg.UserID,
		backend:      cfg.Backend,
		feed:         cfg.Feed,
		reads:        cfg.Reads,
		presence:     cfg.Presence,
		log:          cfg.Logger.With().Str("component", "session").Logger(),
		writeTimeout: cfg.WriteTimeout,
		retryDelay:   3 * time.Second,
		inbox:        make(chan func(), cfg.InboxSize),
		events:       make(chan Event, 64),
		done:         make(chan struct{}),
		now:          time.Now,
		convs:        store.NewConversationStore(),
		pending:      make(map[string]pendingSend),
	}, nil
}

// Run subscribes to the list-level feed topics, performs the initial
// conversation fetch, then processes posted work one item at a time until ctx
// is canceled. It owns every store mutation.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)

	convSub, err := s.feed.Subscribe(topicConversation, &feedport.Filter{Column: "participant_id", Value: s.userID}, func(ev feedport.Event) {
		s.postInternal(func() { s.handleConversationChange(ev) })
	})
	if err != nil {
		return fmt.Errorf("session: subscribe conversations: %w", err)
	}
	defer convSub.Close()

	unreadSub, err := s.feed.Subscribe(topicParticipant, &feedport.Filter{Column: "user_id", Value: s.userID}, func(ev feedport.Event) {
		s.postInternal(func() { s.handleUnreadChange(ev) })
	})
	if err != nil {
		return fmt.Errorf("session: subscribe unread counters: %w", err)
	}
	defer unreadSub.Close()

	s.feed.OnStateChange(func(st feedport.State) {
		s.postInternal(func() { s.handleFeedState(st) })
	})

	if err := s.loadConversations(ctx); err != nil {
		// Not fatal: the session starts degraded and immediately begins a
		// resync. The feed may already be connected, so waiting for its next
		// state transition could mean waiting forever.
		s.log.Warn().Err(err).Msg("initial conversation fetch failed, starting degraded")
		s.degraded = true
		s.beginResync()
	}

	for {
		select {
		case <-ctx.Done():
			s.closeOpen()
			return ctx.Err()
		case fn := <-s.inbox:
			fn()
		}
	}
}

// Events exposes the session's view notifications. The channel is buffered;
// when the consumer lags, notifications are dropped rather than blocking the
// loop (the view re-reads snapshots, so drops only delay a repaint).
func (s *Session) Events() <-chan Event { return s.events }

// Conversations returns a snapshot of the conversation list, newest first.
func (s *Session) Conversations(ctx context.Context) ([]messaging.Conversation, error) {
	var out []messaging.Conversation
	err := s.call(ctx, func() { out = s.convs.List() })
	return out, err
}

// Messages returns a snapshot of the open conversation's messages in store
// order, along with the open conversation id. ok is false when no
// conversation is selected.
func (s *Session) Messages(ctx context.Context) (msgs []messaging.Message, conversationID string, ok bool, err error) {
	err = s.call(ctx, func() {
		if s.msgs == nil {
			return
		}
		msgs = s.msgs.List()
		conversationID = s.openID
		ok = true
	})
	return msgs, conversationID, ok, err
}

// Degraded reports whether the session is operating without a trusted feed
// (disconnected, or reconnected but not yet resynced).
func (s *Session) Degraded(ctx context.Context) (bool, error) {
	var d bool
	err := s.call(ctx, func() { d = s.degraded })
	return d, err
}

// CloseConversation releases the open conversation's subscription and drops
// its message store. Feed events already dispatched for it become no-ops.
func (s *Session) CloseConversation(ctx context.Context) error {
	return s.call(ctx, func() { s.closeOpen() })
}

// post hands fn to the loop, failing if the session is closed or ctx expires
// before the inbox accepts it.
func (s *Session) post(ctx context.Context, fn func()) error {
	select {
	case s.inbox <- fn:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// postInternal is the feed/completion path into the loop. It blocks until the
// loop accepts the work, which backpressures the transport when the inbox is
// full, and gives up only once the session is closed.
func (s *Session) postInternal(fn func()) {
	select {
	case s.inbox <- fn:
	case <-s.done:
	}
}

// call posts fn and waits for the loop to execute it.
func (s *Session) call(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	if err := s.post(ctx, func() {
		fn()
		close(ran)
	}); err != nil {
		return err
	}
	select {
	case <-ran:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loadConversations fetches and installs the conversation list. Runs on the
// loop goroutine only (startup and resync paths).
func (s *Session) loadConversations(ctx context.Context) error {
	convs, err := s.backend.FetchConversations(ctx, s.userID)
	if err != nil {
		return err
	}
	for _, c := range convs {
		s.decoratePresence(ctx, &c)
		s.convs.Upsert(c)
	}
	return nil
}

func (s *Session) decoratePresence(ctx context.Context, c *messaging.Conversation) {
	if s.presence == nil || c.Other.ID == "" {
		return
	}
	online, lastSeen, err := s.presence.Presence(ctx, c.Other.ID)
	if err != nil {
		s.log.Debug().Err(err).Str("user_id", c.Other.ID).Msg("presence lookup failed")
		return
	}
	c.Other.Online = online
	if !lastSeen.IsZero() {
		c.Other.LastSeenAt = lastSeen
	}
}

// closeOpen releases the per-conversation subscription and message store.
// Loop goroutine only.
func (s *Session) closeOpen() {
	if s.openSub != nil {
		s.openSub.Close()
		s.openSub = nil
	}
	s.msgs = nil
	s.openID = ""
}

// handleFeedState reacts to transport connectivity changes. A drop marks the
// session degraded; the first connect after a drop triggers a full resync
// before incremental events are trusted again.
func (s *Session) handleFeedState(st feedport.State) {
	switch st {
	case feedport.StateReconnecting:
		if !s.degraded {
			s.degraded = true
			s.emit(Event{Type: EventConnectivity, Degraded: true})
			s.log.Warn().Msg("feed dropped, entering degraded state")
		}
	case feedport.StateConnected:
		if s.degraded {
			s.beginResync()
		}
	}
}

// beginResync refetches the conversation list and the open conversation's
// messages off-loop, then installs the results and clears the degraded flag.
func (s *Session) beginResync() {
	openID := s.openID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		defer cancel()

		convs, convErr := s.backend.FetchConversations(ctx, s.userID)
		var msgs []messaging.Message
		var msgErr error
		if openID != "" {
			msgs, msgErr = s.backend.FetchMessages(ctx, openID)
		}
		s.postInternal(func() { s.finishResync(openID, convs, convErr, msgs, msgErr) })
	}()
}

func (s *Session) finishResync(openID string, convs []messaging.Conversation, convErr error, msgs []messaging.Message, msgErr error) {
	if convErr != nil || msgErr != nil {
		// Stay degraded and retry after a pause. A feed state transition also
		// restarts the resync, whichever comes first.
		s.log.Error().AnErr("conversations", convErr).AnErr("messages", msgErr).Msg("resync failed")
		time.AfterFunc(s.retryDelay, func() {
			s.postInternal(func() {
				if s.degraded {
					s.beginResync()
				}
			})
		})
		return
	}
	for _, c := range convs {
		s.convs.Upsert(c)
	}
	if openID != "" && s.msgs != nil && s.msgs.ConversationID() == openID {
		s.resetMessagesKeepingPending(msgs)
		s.markOpenRead()
	}
	s.degraded = false
	s.emit(Event{Type: EventConnectivity, Degraded: false})
	s.log.Info().Int("conversations", len(convs)).Msg("resync complete")
}

// resetMessagesKeepingPending installs an authoritative message list while
// carrying over local pending entries whose writes are still in flight.
func (s *Session) resetMessagesKeepingPending(msgs []messaging.Message) {
	var kept []messaging.Message
	for _, m := range s.msgs.List() {
		if m.ID.IsPending() {
			kept = append(kept, m)
		}
	}
	s.msgs.Reset(msgs)
	for _, m := range kept {
		s.msgs.Append(m)
	}
}

// emit delivers a view notification without ever blocking the loop. When the
// buffer is full, invalidation hints are dropped (the view re-reads the
// snapshots), but a send failure carries the composer's text, which snapshots
// cannot reconstruct: it claims a slot by discarding queued hints instead.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
		return
	default:
	}
	if ev.Type != EventSendFailed {
		s.log.Debug().Str("event", string(ev.Type)).Msg("event buffer full, notification dropped")
		return
	}

	var keep []Event
	for drained := true; drained; {
		select {
		case old := <-s.events:
			if old.Type == EventSendFailed {
				keep = append(keep, old)
			}
		default:
			drained = false
		}
	}
	keep = append(keep, ev)
	for _, k := range keep {
		select {
		case s.events <- k:
		default:
			// Buffer holds nothing but failures and the consumer is gone; at
			// this point the text is unrecoverable.
			s.log.Error().Str("conversation_id", k.ConversationID).
				Msg("event buffer full of failures, send failure dropped")
		}
	}
}
