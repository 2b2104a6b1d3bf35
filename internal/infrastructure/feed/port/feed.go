package port

import "encoding/json"

// ChangeKind classifies a row change delivered by the feed.
type ChangeKind int

const (
	ChangeInsert ChangeKind = iota
	ChangeUpdate
	ChangeDelete
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeInsert:
		return "insert"
	case ChangeUpdate:
		return "update"
	case ChangeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Event is one row change on a subscribed topic. Row carries the full row as
// delivered by the transport; decoding into domain types is the consumer's
// concern so this port stays free of domain coupling.
type Event struct {
	Kind  ChangeKind
	Topic string
	Row   json.RawMessage
}

// Filter restricts a subscription to rows whose column equals value. A nil
// filter matches every row on the topic.
type Filter struct {
	Column string
	Value  string
}

// Handler receives matching events, one at a time in transport order for its
// subscription. Delivery is at-least-once and unordered across subscriptions;
// handlers must tolerate re-delivery. A slow handler delays subsequent events
// on the same connection, which is the backpressure boundary.
type Handler func(Event)

// Subscription is a live registration for change events. Close releases it;
// no new delivery starts after Close returns, but a delivery already in
// flight may still complete. Consumers must treat events for released
// subscriptions as no-ops.
type Subscription interface {
	Close()
}

// State describes transport connectivity as seen by consumers.
type State int

const (
	StateConnected State = iota
	StateReconnecting
)

// StateHandler observes connect/disconnect transitions. After a
// StateConnected following a StateReconnecting, consumers must resync from
// authoritative fetches before trusting incremental events again: changes
// missed during the drop are not replayed.
type StateHandler func(State)

// Feed is the change-feed client contract. Implementations must be safe for
// concurrent use.
type Feed interface {
	// Subscribe registers h for events on topic matching filter.
	Subscribe(topic string, filter *Filter, h Handler) (Subscription, error)

	// OnStateChange registers a connectivity observer.
	OnStateChange(h StateHandler)

	// Close tears down the transport and every live subscription.
	Close() error
}
