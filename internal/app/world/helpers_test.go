package world

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"farmrealm-server/internal/app/economy"
	"farmrealm-server/internal/domain/player"
	domainworld "farmrealm-server/internal/domain/world"
	"farmrealm-server/internal/platform/kv"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type fakeEconomy struct {
	mu       sync.Mutex
	profiles map[string]*player.Profile
	sessions []player.SessionStats
}

func newFakeEconomy() *fakeEconomy {
	return &fakeEconomy{profiles: make(map[string]*player.Profile)}
}

func (f *fakeEconomy) get(playerID string) *player.Profile {
	p, ok := f.profiles[playerID]
	if !ok {
		p = &player.Profile{ID: playerID, Items: make(map[string]int)}
		f.profiles[playerID] = p
	}
	return p
}

func (f *fakeEconomy) snapshot(p *player.Profile) player.Profile {
	out := *p
	out.Items = make(map[string]int, len(p.Items))
	for k, v := range p.Items {
		out.Items[k] = v
	}
	return out
}

func (f *fakeEconomy) EnsureProfile(_ context.Context, playerID, firstName string) (player.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.get(playerID)
	p.FirstName = firstName
	return f.snapshot(p), nil
}

func (f *fakeEconomy) Profile(_ context.Context, playerID string) (player.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot(f.get(playerID)), nil
}

func (f *fakeEconomy) Purchase(_ context.Context, playerID, itemID string) (int64, error) {
	price, err := economy.PriceOf(itemID)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.get(playerID)
	if p.Coins < price {
		return p.Coins, economy.ErrInsufficientFunds
	}
	p.Coins -= price
	p.Items[itemID]++
	return p.Coins, nil
}

func (f *fakeEconomy) ConsumeItem(_ context.Context, playerID, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.get(playerID)
	if p.Items[itemID] < 1 {
		return economy.ErrMissingItem
	}
	p.Items[itemID]--
	return nil
}

func (f *fakeEconomy) GrantItem(_ context.Context, playerID, itemID string, qty int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.get(playerID).Items[itemID] += qty
	return nil
}

func (f *fakeEconomy) AddCoins(_ context.Context, playerID string, delta int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.get(playerID)
	p.Coins += delta
	return p.Coins, nil
}

func (f *fakeEconomy) SetWeapon(_ context.Context, playerID, weapon string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.get(playerID).Weapon = weapon
	return nil
}

func (f *fakeEconomy) SetGender(_ context.Context, playerID, gender string) error {
	if gender != "male" && gender != "female" {
		return economy.ErrInvalidGender
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.get(playerID).Gender = gender
	return nil
}

func (f *fakeEconomy) RecordSession(_ context.Context, st player.SessionStats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, st)
	return nil
}

func (f *fakeEconomy) TopScores(context.Context) ([]player.Score, error) {
	return []player.Score{{PlayerID: "p1", Name: "Ada", Coins: 10}}, nil
}

// fakePeer routes directory calls straight into a lobby room when one is set.
type fakePeer struct {
	lobby   *Room
	initErr error

	inits        []domainworld.RealmConfig
	clearedOne   []string
	clearedBatch [][]string
	stats        map[string]domainworld.RealmStats
}

func (p *fakePeer) InitRealm(_ context.Context, cfg domainworld.RealmConfig) error {
	if p.initErr != nil {
		return p.initErr
	}
	p.inits = append(p.inits, cfg)
	return nil
}

func (p *fakePeer) RealmStats(_ context.Context, realmID string) (domainworld.RealmStats, error) {
	st, ok := p.stats[realmID]
	if !ok {
		return domainworld.RealmStats{}, errors.New("unreachable")
	}
	return st, nil
}

func (p *fakePeer) ClearPlayerRealm(ctx context.Context, playerID string) error {
	p.clearedOne = append(p.clearedOne, playerID)
	if p.lobby != nil {
		return p.lobby.ClearPlayerRealm(ctx, playerID)
	}
	return nil
}

func (p *fakePeer) ClearRealmPlayers(ctx context.Context, playerIDs []string) error {
	p.clearedBatch = append(p.clearedBatch, playerIDs)
	if p.lobby != nil {
		return p.lobby.ClearRealmPlayers(ctx, playerIDs)
	}
	return nil
}

type fakeScheduler struct {
	starts, stops int
}

func (s *fakeScheduler) Start() { s.starts++ }
func (s *fakeScheduler) Stop()  { s.stops++ }

type testConn struct {
	out       chan []byte
	closeCode int
}

type harness struct {
	t      *testing.T
	clock  *testClock
	econ   *fakeEconomy
	peer   *fakePeer
	sched  *fakeScheduler
	stores *kv.MemoryFactory
	conns  map[string]*testConn
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		t:      t,
		clock:  &testClock{now: time.UnixMilli(1_700_000_000_000)},
		econ:   newFakeEconomy(),
		peer:   &fakePeer{},
		sched:  &fakeScheduler{},
		stores: kv.NewMemoryFactory(),
		conns:  make(map[string]*testConn),
	}
}

func (h *harness) room(id string) *Room {
	h.t.Helper()
	return NewRoom(id, Deps{
		Logger:           zerolog.Nop(),
		Store:            h.stores.Room(id),
		Economy:          h.econ,
		Peer:             h.peer,
		Scheduler:        h.sched,
		Clock:            h.clock.Now,
		Rand:             rand.New(rand.NewSource(1)),
		LobbyID:          "global",
		RealmGrace:       30 * time.Second,
		LobbyWaitTimeout: 2 * time.Minute,
		RealmDuration:    5 * time.Minute,
	})
}

func (h *harness) now() int64 {
	return h.clock.now.UnixMilli()
}

func (h *harness) connect(r *Room, sessionID, playerID string) *testConn {
	h.t.Helper()
	c := &testConn{out: make(chan []byte, 4096)}
	h.conns[sessionID] = c
	r.Connect(Conn{
		SessionID: sessionID,
		PlayerID:  playerID,
		FirstName: "Name-" + playerID,
		Send:      c.out,
		Close:     func(code int, _ string) { c.closeCode = code },
	})
	return c
}

func send(r *Room, sessionID, msg string) {
	r.HandleMessage(sessionID, []byte(msg))
}

// drain returns every queued message of the given type, discarding the rest.
func (c *testConn) drain(typ string) []gjson.Result {
	var out []gjson.Result
	for {
		select {
		case b := <-c.out:
			m := gjson.ParseBytes(b)
			if m.Get("type").String() == typ {
				out = append(out, m)
			}
		default:
			return out
		}
	}
}

// counts drains the queue and tallies messages by type.
func (c *testConn) counts() map[string]int {
	out := make(map[string]int)
	for {
		select {
		case b := <-c.out:
			out[gjson.GetBytes(b, "type").String()]++
		default:
			return out
		}
	}
}
