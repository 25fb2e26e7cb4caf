package kv

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Writer persists values without making the caller wait for the store.
type Writer interface {
	Save(key string, v any)
	Remove(key string)
}

type job struct {
	key    string
	data   []byte
	delete bool
}

// WriteBehind is a bounded queue drained by one goroutine. Values are encoded at enqueue time so
// later mutations by the room do not leak into the write. Each write is retried a bounded number of
// times; a failed or dropped write is logged and forgotten.
type WriteBehind struct {
	store   Store
	logger  zerolog.Logger
	retries int
	backoff time.Duration
	timeout time.Duration

	jobs     chan job
	done     chan struct{}
	closeOne sync.Once
}

func NewWriteBehind(store Store, logger zerolog.Logger, size, retries int) *WriteBehind {
	return newWriteBehind(store, logger, size, retries, 100*time.Millisecond)
}

func newWriteBehind(store Store, logger zerolog.Logger, size, retries int, backoff time.Duration) *WriteBehind {
	if size <= 0 {
		size = 64
	}
	if retries <= 0 {
		retries = 1
	}
	w := &WriteBehind{
		store:   store,
		logger:  logger,
		retries: retries,
		backoff: backoff,
		timeout: 2 * time.Second,
		jobs:    make(chan job, size),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *WriteBehind) Save(key string, v any) {
	data, err := Encode(v)
	if err != nil {
		w.logger.Error().Err(err).Str("key", key).Msg("kv encode failed")
		return
	}
	w.enqueue(job{key: key, data: data})
}

func (w *WriteBehind) Remove(key string) {
	w.enqueue(job{key: key, delete: true})
}

func (w *WriteBehind) enqueue(j job) {
	defer func() {
		// Save after Close lands on a closed channel.
		if recover() != nil {
			w.logger.Warn().Str("key", j.key).Msg("kv write after close dropped")
		}
	}()
	select {
	case w.jobs <- j:
	default:
		w.logger.Warn().Str("key", j.key).Msg("kv write queue full, dropping write")
	}
}

// Close stops accepting writes and waits for the queue to drain.
func (w *WriteBehind) Close() {
	w.closeOne.Do(func() {
		close(w.jobs)
		<-w.done
	})
}

func (w *WriteBehind) run() {
	defer close(w.done)
	for j := range w.jobs {
		w.write(j)
	}
}

func (w *WriteBehind) write(j job) {
	var err error
	for attempt := 1; attempt <= w.retries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		if j.delete {
			err = w.store.Delete(ctx, j.key)
		} else {
			err = w.store.Save(ctx, j.key, j.data)
		}
		cancel()
		if err == nil {
			return
		}
		if attempt < w.retries {
			time.Sleep(w.backoff * time.Duration(attempt))
		}
	}
	w.logger.Warn().Err(err).Str("key", j.key).Int("attempts", w.retries).Msg("kv write failed")
}

// SyncWriter writes inline. Tests use it to observe persisted state deterministically.
type SyncWriter struct {
	Store  Store
	Logger zerolog.Logger
}

func (w SyncWriter) Save(key string, v any) {
	if err := Put(context.Background(), w.Store, key, v); err != nil {
		w.Logger.Warn().Err(err).Str("key", key).Msg("kv write failed")
	}
}

func (w SyncWriter) Remove(key string) {
	if err := w.Store.Delete(context.Background(), key); err != nil {
		w.Logger.Warn().Err(err).Str("key", key).Msg("kv delete failed")
	}
}
