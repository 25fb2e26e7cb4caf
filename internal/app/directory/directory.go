// Package directory is the lobby's registry of live realms and of which realm each player belongs
// to, plus the matchmaking waiting list that feeds it.
//
// The realm and player maps are a cache over the lobby's durable store: every operation reloads
// them first and writes them back before returning, so a recycled lobby actor picks up exactly
// where the previous one stopped.
package directory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"farmrealm-server/internal/domain/world"
	"farmrealm-server/internal/platform/kv"
)

const (
	realmsKey  = "directory:realms"
	playersKey = "directory:players"
)

type PlayerRealm struct {
	RealmID   string `json:"realmId"`
	ExpiresAt int64  `json:"expiresAt"`
}

type Directory struct {
	store       kv.Store
	grace       int64
	waitTimeout int64

	realms  map[string]int64
	players map[string]PlayerRealm
	waiting map[string]*world.WaitingPlayer
}

func New(store kv.Store, grace, waitTimeout time.Duration) *Directory {
	return &Directory{
		store:       store,
		grace:       grace.Milliseconds(),
		waitTimeout: waitTimeout.Milliseconds(),
		realms:      make(map[string]int64),
		players:     make(map[string]PlayerRealm),
		waiting:     make(map[string]*world.WaitingPlayer),
	}
}

// Reload replaces the cached maps with the store's view. A read failure keeps the cache.
func (d *Directory) Reload(ctx context.Context) error {
	realms := make(map[string]int64)
	if _, err := kv.Get(ctx, d.store, realmsKey, &realms); err != nil {
		return fmt.Errorf("reload realms: %w", err)
	}
	players := make(map[string]PlayerRealm)
	if _, err := kv.Get(ctx, d.store, playersKey, &players); err != nil {
		return fmt.Errorf("reload player realms: %w", err)
	}
	d.realms = realms
	d.players = players
	return nil
}

func (d *Directory) persist(ctx context.Context) error {
	if err := kv.Put(ctx, d.store, realmsKey, d.realms); err != nil {
		return fmt.Errorf("persist realms: %w", err)
	}
	if err := kv.Put(ctx, d.store, playersKey, d.players); err != nil {
		return fmt.Errorf("persist player realms: %w", err)
	}
	return nil
}

// mutate runs fn between a reload and a persist. A failed reload still applies fn to the cache so a
// store outage degrades to a stale directory rather than a dead one.
func (d *Directory) mutate(ctx context.Context, fn func()) error {
	reloadErr := d.Reload(ctx)
	fn()
	if err := d.persist(ctx); err != nil {
		return err
	}
	return reloadErr
}

// RegisterRealm records a freshly provisioned realm and maps every assigned player to it.
func (d *Directory) RegisterRealm(ctx context.Context, cfg world.RealmConfig) error {
	return d.mutate(ctx, func() {
		d.realms[cfg.RealmID] = cfg.ExpiresAt
		for id := range cfg.Roles {
			d.players[id] = PlayerRealm{RealmID: cfg.RealmID, ExpiresAt: cfg.ExpiresAt}
		}
	})
}

func (d *Directory) Track(ctx context.Context, playerID, realmID string, expiresAt int64) error {
	return d.mutate(ctx, func() {
		d.players[playerID] = PlayerRealm{RealmID: realmID, ExpiresAt: expiresAt}
		if cur, ok := d.realms[realmID]; !ok || cur < expiresAt {
			d.realms[realmID] = expiresAt
		}
	})
}

// Lookup returns the player's realm if it has not expired yet.
func (d *Directory) Lookup(ctx context.Context, playerID string, now int64) (PlayerRealm, bool, error) {
	err := d.Reload(ctx)
	pr, ok := d.players[playerID]
	if !ok || now >= pr.ExpiresAt {
		return PlayerRealm{}, false, err
	}
	return pr, true, err
}

func (d *Directory) ClearPlayer(ctx context.Context, playerID string) error {
	return d.ClearPlayers(ctx, []string{playerID})
}

func (d *Directory) ClearPlayers(ctx context.Context, playerIDs []string) error {
	return d.mutate(ctx, func() {
		for _, id := range playerIDs {
			delete(d.players, id)
		}
	})
}

// ActiveRealms counts unexpired realms from the cache. It is the per-tick hint and never touches the
// store.
func (d *Directory) ActiveRealms(now int64) int {
	n := 0
	for _, exp := range d.realms {
		if now < exp {
			n++
		}
	}
	return n
}

// Realms returns a copy of realm id → expiry.
func (d *Directory) Realms() map[string]int64 {
	out := make(map[string]int64, len(d.realms))
	for id, exp := range d.realms {
		out[id] = exp
	}
	return out
}

// Sweep drops realms that are past expiry plus grace, or that answered a poll saying they hold no
// configuration, along with every player mapping that points at them or is itself stale. Realms
// absent from stats (poll failed) are judged on expiry alone.
func (d *Directory) Sweep(ctx context.Context, now int64, stats map[string]world.RealmStats) ([]string, error) {
	removed := make([]string, 0)
	err := d.mutate(ctx, func() {
		for id, exp := range d.realms {
			st, polled := stats[id]
			if now > exp+d.grace || (polled && !st.Configured) {
				delete(d.realms, id)
				removed = append(removed, id)
			}
		}
		for pid, pr := range d.players {
			if _, live := d.realms[pr.RealmID]; !live || now > pr.ExpiresAt+d.grace {
				delete(d.players, pid)
			}
		}
	})
	sort.Strings(removed)
	return removed, err
}

// AssignRoles hands out roles by headcount in join order: one player fishes alone, two split the
// roles, and from three on the first two fish and everyone else keeps.
func AssignRoles(playerIDs []string) map[string]world.Role {
	roles := make(map[string]world.Role, len(playerIDs))
	for i, id := range playerIDs {
		switch {
		case len(playerIDs) == 1:
			roles[id] = world.RoleFisher
		case len(playerIDs) == 2 && i == 0:
			roles[id] = world.RoleFisher
		case len(playerIDs) >= 3 && i < 2:
			roles[id] = world.RoleFisher
		default:
			roles[id] = world.RoleKeeper
		}
	}
	return roles
}
