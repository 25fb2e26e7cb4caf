// Package kv is the per-room durable key/value store. Values are msgpack encoded; each room sees
// its own key space.
package kv

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

type Store interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// Factory hands out room-scoped stores.
type Factory interface {
	Room(roomID string) Store
}

func Encode(v any) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return b, nil
}

func Decode(data []byte, v any) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	return nil
}

// Get loads and decodes key into v. It reports false when the key is absent.
func Get(ctx context.Context, s Store, key string, v any) (bool, error) {
	data, ok, err := s.Load(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := Decode(data, v); err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return true, nil
}

func Put(ctx context.Context, s Store, key string, v any) error {
	data, err := Encode(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return s.Save(ctx, key, data)
}

type RedisFactory struct {
	client *redis.Client
	prefix string
}

func NewRedisFactory(client *redis.Client) *RedisFactory {
	return &RedisFactory{client: client, prefix: "farmrealm:room:"}
}

func (f *RedisFactory) Room(roomID string) Store {
	return &redisStore{client: f.client, prefix: f.prefix + roomID + ":"}
}

type redisStore struct {
	client *redis.Client
	prefix string
}

func (s *redisStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return b, true, nil
}

func (s *redisStore) Save(ctx context.Context, key string, data []byte) error {
	if err := s.client.Set(ctx, s.prefix+key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// MemoryFactory keeps everything in process. Used when redis is unavailable and in tests; it
// survives actor restarts but not process restarts.
type MemoryFactory struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemoryFactory() *MemoryFactory {
	return &MemoryFactory{data: make(map[string][]byte)}
}

func (f *MemoryFactory) Room(roomID string) Store {
	return &memoryStore{f: f, prefix: roomID + ":"}
}

// Keys lists stored keys for roomID, without the room prefix.
func (f *MemoryFactory) Keys(roomID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := roomID + ":"
	keys := make([]string, 0)
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, strings.TrimPrefix(k, prefix))
		}
	}
	return keys
}

type memoryStore struct {
	f      *MemoryFactory
	prefix string
}

func (s *memoryStore) Load(_ context.Context, key string) ([]byte, bool, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	b, ok := s.f.data[s.prefix+key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), b...), true, nil
}

func (s *memoryStore) Save(_ context.Context, key string, data []byte) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	s.f.data[s.prefix+key] = append([]byte(nil), data...)
	return nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	delete(s.f.data, s.prefix+key)
	return nil
}
