// Package world is the authoritative state of one room. A Room is a single-writer value: its owner
// (the room actor) calls every method from one goroutine at a time, so nothing here takes a lock.
package world

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"farmrealm-server/internal/app/directory"
	"farmrealm-server/internal/domain/player"
	domainworld "farmrealm-server/internal/domain/world"
	"farmrealm-server/internal/platform/kv"
	"farmrealm-server/internal/platform/mq"
)

const RealmPrefix = "realm-"

const (
	CloseRealmInvalid = 4001
	CloseRealmExpired = 4002
)

const (
	bossKey        = "boss"
	cropsKey       = "crops"
	realmConfigKey = "realm_config"
	locationPrefix = "location:"
)

var (
	ErrNotDirectory = errors.New("room is not the directory")
	ErrNotRealm     = errors.New("room is not a realm")

	errNoPeer = errors.New("no peer client configured")
)

// Economy is the relational store as seen by a room.
type Economy interface {
	EnsureProfile(ctx context.Context, playerID, firstName string) (player.Profile, error)
	Profile(ctx context.Context, playerID string) (player.Profile, error)
	Purchase(ctx context.Context, playerID, itemID string) (int64, error)
	ConsumeItem(ctx context.Context, playerID, itemID string) error
	GrantItem(ctx context.Context, playerID, itemID string, qty int) error
	AddCoins(ctx context.Context, playerID string, delta int64) (int64, error)
	SetWeapon(ctx context.Context, playerID, weapon string) error
	SetGender(ctx context.Context, playerID, gender string) error
	RecordSession(ctx context.Context, st player.SessionStats) error
	TopScores(ctx context.Context) ([]player.Score, error)
}

// Peer reaches other room actors.
type Peer interface {
	InitRealm(ctx context.Context, cfg domainworld.RealmConfig) error
	RealmStats(ctx context.Context, realmID string) (domainworld.RealmStats, error)
	ClearPlayerRealm(ctx context.Context, playerID string) error
	ClearRealmPlayers(ctx context.Context, playerIDs []string) error
}

// Work runs off the room goroutine. The returned follow-up, if any, is applied back on it.
type Work func(ctx context.Context) func(*Room)

type Dispatcher interface {
	Dispatch(work Work)
}

// Scheduler drives Tick at the fixed interval while started.
type Scheduler interface {
	Start()
	Stop()
}

type Deps struct {
	Logger     zerolog.Logger
	Store      kv.Store
	Writer     kv.Writer
	Economy    Economy
	Peer       Peer
	Publisher  mq.Publisher
	Dispatcher Dispatcher
	Scheduler  Scheduler
	Clock      func() time.Time
	Rand       *rand.Rand

	LobbyID          string
	RealmGrace       time.Duration
	LobbyWaitTimeout time.Duration
	RealmDuration    time.Duration
	MessageRate      float64
	MessageBurst     int
}

type Room struct {
	id      string
	isRealm bool
	isLobby bool
	deps    Deps
	logger  zerolog.Logger
	rand    *rand.Rand

	sessions    map[string]*Session
	players     map[string]*playerRuntime
	boss        *domainworld.BossState
	projectiles []domainworld.Projectile
	pickups     []domainworld.Pickup
	plots       []domainworld.FarmPlot
	wildlife    []*wildlifeRuntime
	pond        domainworld.PondState
	passes      []*passAction
	realm       *domainworld.RealmConfig
	dir         *directory.Directory

	ticking       bool
	finished      bool
	sweepInFlight bool
	tick          uint64
}

func IsRealmID(roomID string) bool {
	return strings.HasPrefix(roomID, RealmPrefix)
}

func NewRoom(id string, deps Deps) *Room {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if deps.Writer == nil {
		deps.Writer = kv.SyncWriter{Store: deps.Store, Logger: deps.Logger}
	}
	r := &Room{
		id:       id,
		isRealm:  IsRealmID(id),
		isLobby:  id == deps.LobbyID,
		deps:     deps,
		logger:   deps.Logger.With().Str("room", id).Logger(),
		rand:     deps.Rand,
		sessions: make(map[string]*Session),
		players:  make(map[string]*playerRuntime),
		plots:    newPlots(),
	}
	if r.isRealm {
		r.pond = newPond()
	} else {
		r.boss = newBoss()
		r.wildlife = newWildlife(r.rand, r.nowMs())
	}
	if r.isLobby {
		r.dir = directory.New(deps.Store, deps.RealmGrace, deps.LobbyWaitTimeout)
	}
	return r
}

func (r *Room) ID() string {
	return r.id
}

func (r *Room) IsRealm() bool {
	return r.isRealm
}

func (r *Room) Ticking() bool {
	return r.ticking
}

func (r *Room) PlayerCount() int {
	return len(r.players)
}

// Finished reports that the actor may stop: a realm with no open sockets that was torn down, was
// never configured, or is past its deadline.
func (r *Room) Finished() bool {
	if len(r.sessions) > 0 {
		return false
	}
	if r.finished {
		return true
	}
	return r.isRealm && (r.realm == nil || r.realm.Expired(r.nowMs()))
}

// RealmDeadline is the expiry of a configured realm that has not been torn down yet.
func (r *Room) RealmDeadline() (int64, bool) {
	if !r.isRealm || r.realm == nil || r.finished {
		return 0, false
	}
	return r.realm.ExpiresAt, true
}

// ExpireIfDue tears the realm down once its deadline has passed, whether or not anyone is
// connected to tick it.
func (r *Room) ExpireIfDue() {
	if _, ok := r.RealmDeadline(); ok && r.realm.Expired(r.nowMs()) {
		r.guard("expire", func() { r.expireRealm("expired") })
	}
}

// Restore loads persisted boss, crop and realm state. Missing keys keep defaults.
func (r *Room) Restore(ctx context.Context) error {
	var errs []error
	if r.boss != nil {
		var boss domainworld.BossState
		ok, err := kv.Get(ctx, r.deps.Store, bossKey, &boss)
		if err != nil {
			errs = append(errs, err)
		} else if ok {
			if boss.Ledger == nil {
				boss.Ledger = make(map[string]domainworld.LedgerEntry)
			}
			r.boss = &boss
		}
	}
	var plots []domainworld.FarmPlot
	ok, err := kv.Get(ctx, r.deps.Store, cropsKey, &plots)
	if err != nil {
		errs = append(errs, err)
	} else if ok && len(plots) == len(r.plots) {
		r.plots = plots
	}
	if r.isRealm {
		if err := r.loadRealmConfig(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if r.isLobby {
		if err := r.dir.Reload(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Apply runs a follow-up produced by off-room work.
func (r *Room) Apply(fn func(*Room)) {
	if fn == nil {
		return
	}
	r.guard("followup", func() { fn(r) })
}

func (r *Room) nowMs() int64 {
	return r.deps.Clock().UnixMilli()
}

func (r *Room) guard(what string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Str("handler", what).Str("panic", fmt.Sprint(rec)).Msg("room handler recovered")
		}
	}()
	fn()
}

func (r *Room) dispatch(work Work) {
	if r.deps.Dispatcher == nil {
		f := work(context.Background())
		r.Apply(f)
		return
	}
	r.deps.Dispatcher.Dispatch(work)
}

func (r *Room) startTicking() {
	if r.ticking {
		return
	}
	r.ticking = true
	if r.deps.Scheduler != nil {
		r.deps.Scheduler.Start()
	}
	r.logger.Debug().Msg("tick loop started")
}

func (r *Room) stopTicking() {
	if !r.ticking {
		return
	}
	r.ticking = false
	if r.deps.Scheduler != nil {
		r.deps.Scheduler.Stop()
	}
	r.logger.Debug().Msg("tick loop stopped")
}

func (r *Room) publish(event string, payload any) {
	if err := mq.PublishJSON(context.Background(), r.deps.Publisher, mq.RoomSubject(r.id, event), payload); err != nil {
		r.logger.Warn().Err(err).Str("event", event).Msg("publish room event failed")
	}
}

// broadcast sends payload to every admitted session, skipping the sessions of excludePlayerID.
func (r *Room) broadcast(payload any, excludePlayerID string) {
	b, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error().Err(err).Msg("marshal ws payload failed")
		return
	}
	for _, s := range r.sessions {
		if !s.admitted {
			continue
		}
		if excludePlayerID != "" && s.PlayerID == excludePlayerID {
			continue
		}
		s.send(b)
	}
}

func (r *Room) sendToPlayer(playerID string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error().Err(err).Msg("marshal ws payload failed")
		return
	}
	for _, s := range r.sessions {
		if s.admitted && s.PlayerID == playerID {
			s.send(b)
		}
	}
}

func (r *Room) sendTo(s *Session, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error().Err(err).Msg("marshal ws payload failed")
		return
	}
	s.send(b)
}

func (r *Room) sendError(s *Session, code, message string) {
	r.sendTo(s, domainworld.ErrorMessage{Type: "error", Code: code, Message: message})
}

func (r *Room) saveLater(key string, v any) {
	r.deps.Writer.Save(key, v)
}

func (r *Room) persistBoss() {
	if r.boss != nil {
		r.saveLater(bossKey, *r.boss)
	}
}

func (r *Room) persistCrops() {
	r.saveLater(cropsKey, append([]domainworld.FarmPlot(nil), r.plots...))
}
