package presence

import (
	"context"
	"errors"
	"time"

	"stepmatch/internal/infrastructure/cache/port"
)

const (
	onlineKeyPrefix   = "presence:online:"
	lastSeenKeyPrefix = "presence:last_seen:"
)

// Tracker resolves online/last-seen state from the shared presence cache.
// The platform's connection edge maintains the keys; this side only reads.
type Tracker struct {
	cache port.Cache
}

func NewTracker(cache port.Cache) *Tracker {
	return &Tracker{cache: cache}
}

// Presence returns whether the user currently holds an online marker and
// their last recorded activity time. A cache miss means offline / unknown,
// not an error.
func (t *Tracker) Presence(ctx context.Context, userID string) (bool, time.Time, error) {
	if t == nil || t.cache == nil {
		return false, time.Time{}, errors.New("presence: no cache configured")
	}

	online := false
	if _, err := t.cache.Get(ctx, onlineKeyPrefix+userID); err == nil {
		online = true
	} else if !errors.Is(err, port.ErrMiss) {
		return false, time.Time{}, err
	}

	var lastSeen time.Time
	raw, err := t.cache.Get(ctx, lastSeenKeyPrefix+userID)
	if err == nil {
		if ts, perr := time.Parse(time.RFC3339, raw); perr == nil {
			lastSeen = ts
		}
	} else if !errors.Is(err, port.ErrMiss) {
		return false, time.Time{}, err
	}

	return online, lastSeen, nil
}
