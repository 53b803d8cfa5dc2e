// Package verify issues and consumes one-time login codes for phone
// verification. Codes live in Redis when it is configured so that any
// instance can consume a code issued by another; otherwise an in-process
// store backs them.
package verify

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	codeTTL   = 5 * time.Minute
	keyPrefix = "telegraph:logincode:"
)

// CodeStore issues single-use verification codes keyed by phone number.
type CodeStore interface {
	// Issue generates a fresh code for the phone, replacing any outstanding one.
	Issue(ctx context.Context, phone string) (string, error)
	// Consume checks the code and invalidates it. A wrong code does not
	// invalidate the outstanding one.
	Consume(ctx context.Context, phone, code string) (bool, error)
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// RedisCodeStore keeps codes in Redis with a TTL. Consume uses GETDEL so a
// code can only ever be redeemed once, even across concurrent attempts.
type RedisCodeStore struct {
	client goredis.UniversalClient
}

func NewRedisCodeStore(client goredis.UniversalClient) *RedisCodeStore {
	return &RedisCodeStore{client: client}
}

func (s *RedisCodeStore) Issue(ctx context.Context, phone string) (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, keyPrefix+phone, code, codeTTL).Err(); err != nil {
		return "", fmt.Errorf("failed to store code: %w", err)
	}
	return code, nil
}

func (s *RedisCodeStore) Consume(ctx context.Context, phone, code string) (bool, error) {
	stored, err := s.client.GetDel(ctx, keyPrefix+phone).Result()
	if err == goredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load code: %w", err)
	}
	if stored != code {
		// Re-arm the code so a typo does not burn it. Best effort; the
		// original TTL is not preserved.
		s.client.Set(ctx, keyPrefix+phone, stored, codeTTL)
		return false, nil
	}
	return true, nil
}

// MemoryCodeStore is the fallback when Redis is not configured. Each code is
// cleaned up by a timer when it expires.
type MemoryCodeStore struct {
	mu    sync.Mutex
	codes map[string]memoryCode
}

type memoryCode struct {
	code      string
	expiresAt time.Time
	timer     *time.Timer
}

func NewMemoryCodeStore() *MemoryCodeStore {
	return &MemoryCodeStore{codes: make(map[string]memoryCode)}
}

func (s *MemoryCodeStore) Issue(_ context.Context, phone string) (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.codes[phone]; ok && existing.timer != nil {
		existing.timer.Stop()
	}
	entry := memoryCode{code: code, expiresAt: time.Now().Add(codeTTL)}
	entry.timer = time.AfterFunc(codeTTL, func() { s.expire(phone, code) })
	s.codes[phone] = entry
	return code, nil
}

func (s *MemoryCodeStore) Consume(_ context.Context, phone, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.codes[phone]
	if !ok || time.Now().After(entry.expiresAt) {
		return false, nil
	}
	if entry.code != code {
		return false, nil
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(s.codes, phone)
	return true, nil
}

func (s *MemoryCodeStore) expire(phone, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.codes[phone]; ok && entry.code == code {
		delete(s.codes, phone)
	}
}
