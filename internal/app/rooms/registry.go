// Package rooms hosts one protoactor actor per room. Actors are addressed by a deterministic name
// derived from the room id and spawned on first use.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/rs/zerolog"

	"farmrealm-server/internal/app/world"
	"farmrealm-server/internal/platform/kv"
	"farmrealm-server/internal/platform/mq"
)

var (
	errRequestPanicked = errors.New("room request panicked")
	ErrBadResponse     = errors.New("unexpected room response")
)

type Config struct {
	LobbyID          string
	TickInterval     time.Duration
	RequestTimeout   time.Duration
	WorkTimeout      time.Duration
	WriteQueueSize   int
	WriteRetries     int
	RealmDuration    time.Duration
	RealmGrace       time.Duration
	LobbyWaitTimeout time.Duration
	MessageRate      float64
	MessageBurst     int
}

type Registry struct {
	system  *actor.ActorSystem
	logger  zerolog.Logger
	stores  kv.Factory
	economy world.Economy
	peer    world.Peer
	pub     mq.Publisher
	cfg     Config

	mu   sync.Mutex
	pids map[string]*actor.PID
}

func NewRegistry(system *actor.ActorSystem, logger zerolog.Logger, stores kv.Factory, economy world.Economy, peer world.Peer, pub mq.Publisher, cfg Config) *Registry {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.WorkTimeout <= 0 {
		cfg.WorkTimeout = cfg.RequestTimeout
	}
	return &Registry{
		system:  system,
		logger:  logger,
		stores:  stores,
		economy: economy,
		peer:    peer,
		pub:     pub,
		cfg:     cfg,
		pids:    make(map[string]*actor.PID),
	}
}

func (r *Registry) pid(roomID string) (*actor.PID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pid, ok := r.pids[roomID]; ok {
		return pid, nil
	}
	props := actor.PropsFromProducer(func() actor.Actor { return newRoomActor(roomID, r) })
	pid, err := r.system.Root.SpawnNamed(props, "room-"+roomID)
	if err != nil && !errors.Is(err, actor.ErrNameExists) {
		return nil, fmt.Errorf("spawn room %s: %w", roomID, err)
	}
	r.pids[roomID] = pid
	return pid, nil
}

func (r *Registry) forget(roomID string, pid *actor.PID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.pids[roomID]; ok && cur.Equal(pid) {
		delete(r.pids, roomID)
	}
}

func (r *Registry) Connect(roomID string, conn world.Conn) error {
	pid, err := r.pid(roomID)
	if err != nil {
		return err
	}
	r.system.Root.Send(pid, &connectRoom{conn: conn})
	return nil
}

// Disconnect never spawns: a room that already stopped has nothing to tear down.
func (r *Registry) Disconnect(roomID, sessionID string) {
	r.mu.Lock()
	pid, ok := r.pids[roomID]
	r.mu.Unlock()
	if ok {
		r.system.Root.Send(pid, &disconnectRoom{sessionID: sessionID})
	}
}

func (r *Registry) Deliver(roomID, sessionID string, raw []byte) {
	if pid, err := r.pid(roomID); err == nil {
		r.system.Root.Send(pid, &clientFrame{sessionID: sessionID, raw: raw})
	}
}

// Call runs op on the room's actor and waits for its answer.
func (r *Registry) Call(ctx context.Context, roomID string, op Op) (any, error) {
	pid, err := r.pid(roomID)
	if err != nil {
		return nil, err
	}
	timeout := r.cfg.RequestTimeout
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
		timeout = time.Until(dl)
	}
	res, err := r.system.Root.RequestFuture(pid, &roomRequest{op: op}, timeout).Result()
	if err != nil {
		return nil, fmt.Errorf("room %s request: %w", roomID, err)
	}
	resp, ok := res.(*roomResponse)
	if !ok {
		return nil, ErrBadResponse
	}
	return resp.value, resp.err
}

// Shutdown stops every live room and waits for their write queues to drain.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	pids := make([]*actor.PID, 0, len(r.pids))
	for _, pid := range r.pids {
		pids = append(pids, pid)
	}
	r.mu.Unlock()
	for _, pid := range pids {
		if err := r.system.Root.PoisonFuture(pid).Wait(); err != nil {
			r.logger.Warn().Err(err).Str("pid", pid.Id).Msg("room did not stop cleanly")
		}
	}
}

func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pids)
}
