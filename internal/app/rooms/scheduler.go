package rooms

import (
	"context"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/rs/zerolog"

	"farmrealm-server/internal/app/world"
)

// ticker posts a tick into the room's mailbox at a fixed interval while started. Start and Stop
// are only called from the owning actor.
type ticker struct {
	root     *actor.RootContext
	pid      *actor.PID
	interval time.Duration
	quit     chan struct{}
}

func newTicker(root *actor.RootContext, pid *actor.PID, interval time.Duration) *ticker {
	return &ticker{root: root, pid: pid, interval: interval}
}

func (t *ticker) Start() {
	if t.quit != nil {
		return
	}
	t.quit = make(chan struct{})
	quit := t.quit
	tk := time.NewTicker(t.interval)
	go func() {
		defer tk.Stop()
		for {
			select {
			case <-tk.C:
				t.root.Send(t.pid, &tickRoom{})
			case <-quit:
				return
			}
		}
	}()
}

func (t *ticker) Stop() {
	if t.quit == nil {
		return
	}
	close(t.quit)
	t.quit = nil
}

// dispatcher runs blocking work on its own goroutine and mails the follow-up back to the room.
type dispatcher struct {
	root    *actor.RootContext
	pid     *actor.PID
	timeout time.Duration
	logger  zerolog.Logger
}

func (d *dispatcher) Dispatch(work world.Work) {
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				d.logger.Error().Interface("panic", rec).Msg("room work recovered")
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if fn := work(ctx); fn != nil {
			d.root.Send(d.pid, &followup{fn: fn})
		}
	}()
}
