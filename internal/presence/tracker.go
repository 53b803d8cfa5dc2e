// Package presence keeps user online state. The store row is authoritative;
// when Redis is configured the tracker also mirrors liveness keys so the REST
// surface can answer presence lookups without a hub round-trip.
package presence

import (
	"context"
	"time"

	"chatworks/pkg/logging"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "telegraph:online:"
	defaultTTL = 2 * time.Minute
)

// Store is the slice of the persistence layer the tracker needs.
type Store interface {
	SetOnline(ctx context.Context, id uuid.UUID, online bool) error
}

type Tracker struct {
	store  Store
	redis  redis.UniversalClient
	logger logging.Logger
	ttl    time.Duration
}

// NewTracker creates a presence tracker. redisClient may be nil, in which case
// only the store is updated.
func NewTracker(store Store, redisClient redis.UniversalClient, logger logging.Logger) *Tracker {
	return &Tracker{
		store:  store,
		redis:  redisClient,
		logger: logger,
		ttl:    defaultTTL,
	}
}

func key(userID uuid.UUID) string {
	return keyPrefix + userID.String()
}

// SetOnline marks the user online. The Redis mirror expires on its own if the
// process dies without cleaning up.
func (t *Tracker) SetOnline(ctx context.Context, userID uuid.UUID) {
	if err := t.store.SetOnline(ctx, userID, true); err != nil {
		t.logger.WithError(err).WithField("user_id", userID).Warn("Failed to persist online state")
	}
	if t.redis == nil {
		return
	}
	if err := t.redis.Set(ctx, key(userID), "1", t.ttl).Err(); err != nil {
		t.logger.WithError(err).WithField("user_id", userID).Warn("Failed to mirror online state to redis")
	}
}

// SetOffline marks the user offline.
func (t *Tracker) SetOffline(ctx context.Context, userID uuid.UUID) {
	if err := t.store.SetOnline(ctx, userID, false); err != nil {
		t.logger.WithError(err).WithField("user_id", userID).Warn("Failed to persist offline state")
	}
	if t.redis == nil {
		return
	}
	if err := t.redis.Del(ctx, key(userID)).Err(); err != nil {
		t.logger.WithError(err).WithField("user_id", userID).Warn("Failed to clear online mirror")
	}
}

// Refresh extends the liveness key for an active session.
func (t *Tracker) Refresh(ctx context.Context, userID uuid.UUID) {
	if t.redis == nil {
		return
	}
	if err := t.redis.Expire(ctx, key(userID), t.ttl).Err(); err != nil {
		t.logger.WithError(err).WithField("user_id", userID).Debug("Failed to refresh online mirror")
	}
}

// IsOnline consults the Redis mirror. The second return value reports whether
// the mirror could answer; callers fall back to the store row when it cannot.
func (t *Tracker) IsOnline(ctx context.Context, userID uuid.UUID) (bool, bool) {
	if t.redis == nil {
		return false, false
	}
	n, err := t.redis.Exists(ctx, key(userID)).Result()
	if err != nil {
		t.logger.WithError(err).Debug("Presence mirror lookup failed")
		return false, false
	}
	return n > 0, true
}
