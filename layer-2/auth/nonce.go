package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNonceNotFound is returned when no live nonce is stored for an address
var ErrNonceNotFound = errors.New("nonce not found")

// NonceStore keeps at most one pending login challenge per wallet address
type NonceStore interface {
	// Put stores nonce for address, replacing any previous one
	Put(ctx context.Context, address, nonce string, ttl time.Duration) error
	// Take returns and deletes the nonce for address
	Take(ctx context.Context, address string) (string, error)
}

type nonceEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryNonceStore is a process-local NonceStore
type MemoryNonceStore struct {
	mu      sync.Mutex
	entries map[string]nonceEntry
	now     func() time.Time
}

func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{
		entries: make(map[string]nonceEntry),
		now:     time.Now,
	}
}

func (s *MemoryNonceStore) Put(ctx context.Context, address, nonce string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for addr, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, addr)
		}
	}
	s.entries[address] = nonceEntry{value: nonce, expiresAt: now.Add(ttl)}
	return nil
}

func (s *MemoryNonceStore) Take(ctx context.Context, address string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[address]
	if !ok {
		return "", ErrNonceNotFound
	}
	delete(s.entries, address)
	if !s.now().Before(entry.expiresAt) {
		return "", ErrNonceNotFound
	}
	return entry.value, nil
}

// RedisNonceStore keeps nonces in Redis so several API nodes share them
type RedisNonceStore struct {
	client *redis.Client
	prefix string
}

func NewRedisNonceStore(client *redis.Client, prefix string) *RedisNonceStore {
	return &RedisNonceStore{client: client, prefix: prefix}
}

func (s *RedisNonceStore) key(address string) string {
	return s.prefix + address
}

func (s *RedisNonceStore) Put(ctx context.Context, address, nonce string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(address), nonce, ttl).Err(); err != nil {
		return fmt.Errorf("storing nonce: %w", err)
	}
	return nil
}

// Take uses GETDEL so two concurrent verifications cannot both consume the nonce
func (s *RedisNonceStore) Take(ctx context.Context, address string) (string, error) {
	value, err := s.client.GetDel(ctx, s.key(address)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNonceNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading nonce: %w", err)
	}
	return value, nil
}
