package directory

import (
	"context"
	"testing"
	"time"

	"farmrealm-server/internal/domain/world"
	"farmrealm-server/internal/platform/kv"
)

func newTestDirectory(store kv.Store) *Directory {
	return New(store, 30*time.Second, 2*time.Minute)
}

func TestAssignRolesByHeadcount(t *testing.T) {
	cases := []struct {
		ids  []string
		want []world.Role
	}{
		{[]string{"a"}, []world.Role{world.RoleFisher}},
		{[]string{"a", "b"}, []world.Role{world.RoleFisher, world.RoleKeeper}},
		{[]string{"a", "b", "c"}, []world.Role{world.RoleFisher, world.RoleFisher, world.RoleKeeper}},
		{[]string{"a", "b", "c", "d"}, []world.Role{world.RoleFisher, world.RoleFisher, world.RoleKeeper, world.RoleKeeper}},
	}
	for _, tc := range cases {
		roles := AssignRoles(tc.ids)
		for i, id := range tc.ids {
			if roles[id] != tc.want[i] {
				t.Fatalf("%d players: %s got %q want %q", len(tc.ids), id, roles[id], tc.want[i])
			}
		}
	}
}

func TestRegisterRealmSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryFactory().Room("global")
	d := newTestDirectory(store)
	cfg := world.RealmConfig{RealmID: "realm-1", ExpiresAt: 60_000, Roles: map[string]world.Role{"p1": world.RoleFisher, "p2": world.RoleKeeper}}
	if err := d.RegisterRealm(ctx, cfg); err != nil {
		t.Fatalf("register: %v", err)
	}

	// A fresh instance over the same store sees the same directory.
	restarted := newTestDirectory(store)
	pr, ok, err := restarted.Lookup(ctx, "p2", 1_000)
	if err != nil || !ok {
		t.Fatalf("expected mapping after restart, ok=%v err=%v", ok, err)
	}
	if pr.RealmID != "realm-1" || pr.ExpiresAt != 60_000 {
		t.Fatalf("unexpected mapping %+v", pr)
	}
	if n := restarted.ActiveRealms(1_000); n != 1 {
		t.Fatalf("expected 1 active realm, got %d", n)
	}
}

func TestLookupIgnoresExpiredMapping(t *testing.T) {
	ctx := context.Background()
	d := newTestDirectory(kv.NewMemoryFactory().Room("global"))
	if err := d.Track(ctx, "p1", "realm-1", 10_000); err != nil {
		t.Fatalf("track: %v", err)
	}
	if _, ok, _ := d.Lookup(ctx, "p1", 10_000); ok {
		t.Fatal("expected expired mapping to be hidden")
	}
}

func TestClearPlayers(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryFactory().Room("global")
	d := newTestDirectory(store)
	cfg := world.RealmConfig{RealmID: "realm-1", ExpiresAt: 60_000, Roles: map[string]world.Role{"p1": world.RoleFisher, "p2": world.RoleKeeper}}
	if err := d.RegisterRealm(ctx, cfg); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := d.ClearPlayers(ctx, []string{"p1", "p2"}); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := newTestDirectory(store).Lookup(ctx, "p1", 0); ok {
		t.Fatal("expected p1 mapping removed from the store")
	}
}

func TestSweepDropsExpiredAndUnconfiguredRealms(t *testing.T) {
	ctx := context.Background()
	d := newTestDirectory(kv.NewMemoryFactory().Room("global"))
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(d.Track(ctx, "old", "realm-old", 10_000))
	must(d.Track(ctx, "ghost", "realm-ghost", 500_000))
	must(d.Track(ctx, "live", "realm-live", 500_000))

	stats := map[string]world.RealmStats{
		"realm-ghost": {RoomID: "realm-ghost", Configured: false},
		"realm-live":  {RoomID: "realm-live", Configured: true, ActivePlayers: 1},
	}
	removed, err := d.Sweep(ctx, 10_000+30_001, stats)
	must(err)
	if len(removed) != 2 || removed[0] != "realm-ghost" || removed[1] != "realm-old" {
		t.Fatalf("unexpected removed realms %v", removed)
	}
	if _, ok, _ := d.Lookup(ctx, "live", 50_000); !ok {
		t.Fatal("expected live mapping to survive")
	}
	if _, ok := d.players["old"]; ok {
		t.Fatal("expected stale mapping removed")
	}
	if _, ok := d.players["ghost"]; ok {
		t.Fatal("expected mapping to unconfigured realm removed")
	}
}

func TestWaitingListReadyBatch(t *testing.T) {
	d := newTestDirectory(kv.NewMemoryFactory().Room("global"))
	d.JoinLobby("b", "Bo", 2)
	d.JoinLobby("a", "Al", 1)

	if _, ok := d.TakeReadyBatch(); ok {
		t.Fatal("nobody is ready yet")
	}
	d.ToggleReady("a")
	if _, ok := d.TakeReadyBatch(); ok {
		t.Fatal("b is not ready yet")
	}
	d.ToggleReady("b")
	batch, ok := d.TakeReadyBatch()
	if !ok || len(batch) != 2 || batch[0].ID != "a" || batch[1].ID != "b" {
		t.Fatalf("expected join-ordered batch, got %+v ok=%v", batch, ok)
	}
	if len(d.Waiting()) != 0 {
		t.Fatal("expected waiting list emptied")
	}

	d.Requeue(batch)
	for _, w := range d.Waiting() {
		if w.Ready {
			t.Fatalf("requeued entry %s should be unready", w.ID)
		}
	}
}

func TestEvictStaleWaiting(t *testing.T) {
	d := newTestDirectory(kv.NewMemoryFactory().Room("global"))
	d.JoinLobby("idle", "Idle", 0)
	d.JoinLobby("ready", "Ready", 0)
	d.ToggleReady("ready")

	evicted := d.EvictStale((2 * time.Minute).Milliseconds())
	if len(evicted) != 1 || evicted[0] != "idle" {
		t.Fatalf("unexpected eviction %v", evicted)
	}
	if !d.InLobby("ready") {
		t.Fatal("ready entry must not be evicted")
	}
}
