// Package store is the persistence layer for chat state: users, chats,
// memberships, messages and read marks. All tables live in the telegraph
// schema; queries are raw SQL over database/sql with lib/pq.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"chatworks/internal/metrics"
	"chatworks/pkg/cache"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

//go:embed schema.sql
var schemaSQL string

// Schema returns the DDL applied by EnsureSchema.
func Schema() string {
	return schemaSQL
}

// Membership cache tuning. Sends, typing signals and subscribes all authorize
// against chat membership, so this is the hottest read path in the service.
const (
	memberCacheTTL         = 30 * time.Second
	memberCacheNegativeTTL = 5 * time.Second
	memberCacheMaxEntries  = 65536
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

type Store struct {
	db      *sql.DB
	members *cache.Cache
	metrics *metrics.Metrics
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db: db,
		members: cache.New(cache.Options{
			TTL:         memberCacheTTL,
			NegativeTTL: memberCacheNegativeTTL,
			MaxEntries:  memberCacheMaxEntries,
		}),
	}
}

// SetMetrics attaches service metrics. Call before the store is shared.
func (s *Store) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EnsureSchema applies the embedded DDL. Safe to run on every boot.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// observe records one query outcome. ErrNotFound and ErrConflict are
// expected results of a working query, not failures.
func (s *Store) observe(op string, start time.Time, errp *error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err := *errp; err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrConflict) {
		status = "error"
	}
	s.metrics.DBQueries.WithLabelValues(op, status).Inc()
	s.metrics.DBDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func memberCacheKey(chatID, userID uuid.UUID) string {
	return chatID.String() + ":" + userID.String()
}

func (s *Store) invalidateMember(chatID, userID uuid.UUID) {
	s.members.Delete(memberCacheKey(chatID, userID))
}
