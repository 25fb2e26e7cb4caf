package kv

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

type flakyStore struct {
	mu       sync.Mutex
	failures int
	calls    int
	inner    Store
}

func (s *flakyStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	return s.inner.Load(ctx, key)
}

func (s *flakyStore) Save(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.failures
	s.mu.Unlock()
	if fail {
		return errors.New("unavailable")
	}
	return s.inner.Save(ctx, key, data)
}

func (s *flakyStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

type plot struct {
	Stage     int
	WateredAt int64
}

func TestWriteBehindRetriesAndSnapshotsValue(t *testing.T) {
	store := &flakyStore{failures: 2, inner: NewMemoryFactory().Room("r1")}
	w := newWriteBehind(store, zerolog.Nop(), 8, 3, 0)

	v := []plot{{Stage: 2, WateredAt: 1000}}
	w.Save("crops", v)
	v[0].Stage = 3
	w.Close()

	var got []plot
	ok, err := Get(context.Background(), store, "crops", &got)
	if err != nil || !ok {
		t.Fatalf("expected stored crops, ok=%v err=%v", ok, err)
	}
	if got[0].Stage != 2 || got[0].WateredAt != 1000 {
		t.Fatalf("expected value captured at enqueue time, got %+v", got[0])
	}
	if store.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", store.calls)
	}
}

func TestWriteBehindGivesUpAfterRetries(t *testing.T) {
	store := &flakyStore{failures: 10, inner: NewMemoryFactory().Room("r1")}
	w := newWriteBehind(store, zerolog.Nop(), 8, 2, 0)
	w.Save("boss", plot{Stage: 1})
	w.Close()

	ok, err := Get(context.Background(), store, "boss", &plot{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected write to be dropped after retries")
	}
	// Saves after Close are dropped, never panic.
	w.Save("boss", plot{Stage: 1})
}

func TestMemoryFactoryScopesRooms(t *testing.T) {
	f := NewMemoryFactory()
	ctx := context.Background()
	if err := Put(ctx, f.Room("a"), "boss", plot{Stage: 1}); err != nil {
		t.Fatalf("put: %v", err)
	}
	ok, err := Get(ctx, f.Room("b"), "boss", &plot{})
	if err != nil || ok {
		t.Fatalf("expected room b to be empty, ok=%v err=%v", ok, err)
	}
	if keys := f.Keys("a"); len(keys) != 1 || keys[0] != "boss" {
		t.Fatalf("unexpected keys %v", keys)
	}
}
