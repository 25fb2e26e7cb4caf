package rooms

import (
	"context"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/rs/zerolog"

	"farmrealm-server/internal/app/world"
	"farmrealm-server/internal/platform/kv"
	"farmrealm-server/internal/platform/observability"
)

const restoreTimeout = 5 * time.Second

// roomActor owns one world.Room. Everything that touches the room arrives through the mailbox.
type roomActor struct {
	id     string
	reg    *Registry
	logger zerolog.Logger

	room     *world.Room
	ticker   *ticker
	writer   *kv.WriteBehind
	stopping bool

	expiry      *time.Timer
	expiryArmed int64
}

func newRoomActor(id string, reg *Registry) actor.Actor {
	return &roomActor{id: id, reg: reg, logger: observability.RoomLogger(reg.logger, id)}
}

func (a *roomActor) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		a.start(ctx)
		a.armExpiry(ctx)
		return
	case *actor.Stopping:
		if a.expiry != nil {
			a.expiry.Stop()
		}
		if a.ticker != nil {
			a.ticker.Stop()
		}
		if a.writer != nil {
			a.writer.Close()
		}
		return
	case *actor.Stopped:
		a.reg.forget(a.id, ctx.Self())
		a.logger.Info().Msg("room actor stopped")
		return
	case *connectRoom:
		a.room.Connect(msg.conn)
	case *disconnectRoom:
		a.room.Disconnect(msg.sessionID)
	case *clientFrame:
		a.room.HandleMessage(msg.sessionID, msg.raw)
	case *tickRoom:
		if a.room.Ticking() {
			a.room.Tick()
		}
	case *followup:
		a.room.Apply(msg.fn)
	case *expiryDue:
		a.room.ExpireIfDue()
	case *roomRequest:
		a.answer(ctx, msg)
	default:
		return
	}
	if a.room == nil || a.stopping {
		return
	}
	if a.room.Finished() {
		a.stopping = true
		ctx.Stop(ctx.Self())
		return
	}
	a.armExpiry(ctx)
}

// armExpiry keeps one timer pointed at the realm deadline, re-arming when the deadline moves.
func (a *roomActor) armExpiry(ctx actor.Context) {
	deadline, ok := a.room.RealmDeadline()
	if !ok || deadline == a.expiryArmed {
		return
	}
	if a.expiry != nil {
		a.expiry.Stop()
	}
	a.expiryArmed = deadline
	root, self := a.reg.system.Root, ctx.Self()
	wait := time.Until(time.UnixMilli(deadline))
	a.expiry = time.AfterFunc(wait, func() { root.Send(self, &expiryDue{}) })
}

func (a *roomActor) start(ctx actor.Context) {
	cfg := a.reg.cfg
	store := a.reg.stores.Room(a.id)
	root := a.reg.system.Root
	a.writer = kv.NewWriteBehind(store, a.logger, cfg.WriteQueueSize, cfg.WriteRetries)
	a.ticker = newTicker(root, ctx.Self(), cfg.TickInterval)
	a.room = world.NewRoom(a.id, world.Deps{
		Logger:           a.reg.logger,
		Store:            store,
		Writer:           a.writer,
		Economy:          a.reg.economy,
		Peer:             a.reg.peer,
		Publisher:        a.reg.pub,
		Dispatcher:       &dispatcher{root: root, pid: ctx.Self(), timeout: cfg.WorkTimeout, logger: a.logger},
		Scheduler:        a.ticker,
		LobbyID:          cfg.LobbyID,
		RealmGrace:       cfg.RealmGrace,
		LobbyWaitTimeout: cfg.LobbyWaitTimeout,
		RealmDuration:    cfg.RealmDuration,
		MessageRate:      cfg.MessageRate,
		MessageBurst:     cfg.MessageBurst,
	})

	rctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
	defer cancel()
	if err := a.room.Restore(rctx); err != nil {
		a.logger.Warn().Err(err).Msg("room restore incomplete, continuing with defaults")
	}
	a.logger.Info().Bool("realm", a.room.IsRealm()).Msg("room actor started")
}

func (a *roomActor) answer(ctx actor.Context, req *roomRequest) {
	rctx, cancel := context.WithTimeout(context.Background(), a.reg.cfg.RequestTimeout)
	defer cancel()
	var resp roomResponse
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				a.logger.Error().Interface("panic", rec).Msg("internal request recovered")
				resp = roomResponse{err: errRequestPanicked}
			}
		}()
		resp.value, resp.err = req.op(rctx, a.room)
	}()
	ctx.Respond(&resp)
}
