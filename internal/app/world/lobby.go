package world

import (
	"context"
	"time"

	"github.com/google/uuid"

	"farmrealm-server/internal/app/directory"
	domainworld "farmrealm-server/internal/domain/world"
)

const storeTimeout = 3 * time.Second

// The directory's store I/O runs inline on the lobby goroutine: every call reloads before use, so
// interleaving it with other lobby work would lose writes.
func storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), storeTimeout)
}

// routeReconnect points a lobby arrival at the realm they still belong to.
func (r *Room) routeReconnect(s *Session, now int64) {
	ctx, cancel := storeContext()
	defer cancel()
	pr, ok, err := r.dir.Lookup(ctx, s.PlayerID, now)
	if err != nil {
		r.logger.Warn().Err(err).Msg("directory reload failed, using cached mappings")
	}
	if !ok {
		return
	}
	r.sendTo(s, map[string]any{"type": "player_realm_info", "realmId": pr.RealmID, "expiresAt": pr.ExpiresAt, "reconnect": true})
}

func (r *Room) broadcastLobby() {
	r.broadcast(map[string]any{"type": "realm_lobby_update", "players": r.dir.Waiting()}, "")
}

func (r *Room) handleJoinLobby(s *Session) {
	p, ok := r.players[s.PlayerID]
	if !ok {
		return
	}
	r.dir.JoinLobby(p.State.ID, p.State.Name, r.nowMs())
	r.broadcastLobby()
}

func (r *Room) handleLeaveLobby(s *Session) {
	if r.dir.LeaveLobby(s.PlayerID) {
		r.broadcastLobby()
	}
}

func (r *Room) handleReady(s *Session) {
	if !r.dir.ToggleReady(s.PlayerID) {
		r.sendError(s, "not_in_lobby", "join the realm lobby first")
		return
	}
	r.broadcastLobby()
	r.tryStartRealm(r.nowMs())
}

func (r *Room) handleGetPlayerRealm(s *Session) {
	ctx, cancel := storeContext()
	defer cancel()
	pr, ok, err := r.dir.Lookup(ctx, s.PlayerID, r.nowMs())
	if err != nil {
		r.logger.Warn().Err(err).Msg("directory reload failed, using cached mappings")
	}
	if !ok {
		r.sendTo(s, map[string]any{"type": "player_realm_info", "realmId": nil, "reconnect": false})
		return
	}
	r.sendTo(s, map[string]any{"type": "player_realm_info", "realmId": pr.RealmID, "expiresAt": pr.ExpiresAt, "reconnect": false})
}

// tryStartRealm provisions a realm for the waiting list once everyone on it is ready. The realm is
// configured through its own actor before anyone is told to go there.
func (r *Room) tryStartRealm(now int64) {
	batch, ok := r.dir.TakeReadyBatch()
	if !ok {
		return
	}
	ids := make([]string, 0, len(batch))
	for _, w := range batch {
		ids = append(ids, w.ID)
	}
	cfg := domainworld.RealmConfig{
		RealmID:   RealmPrefix + uuid.NewString(),
		ExpiresAt: now + r.deps.RealmDuration.Milliseconds(),
		Roles:     directory.AssignRoles(ids),
	}
	r.broadcastLobby()

	peer, logger := r.deps.Peer, r.logger
	r.dispatch(func(ctx context.Context) func(*Room) {
		var err error
		if peer == nil {
			err = errNoPeer
		} else {
			err = peer.InitRealm(ctx, cfg)
		}
		if err != nil {
			logger.Error().Err(err).Str("realm_id", cfg.RealmID).Msg("realm provisioning failed")
		}
		return func(r *Room) { r.finishRealmStart(cfg, batch, err) }
	})
}

func (r *Room) finishRealmStart(cfg domainworld.RealmConfig, batch []domainworld.WaitingPlayer, err error) {
	if err != nil {
		r.dir.Requeue(batch)
		for _, w := range batch {
			r.sendToPlayer(w.ID, domainworld.ErrorMessage{Type: "error", Code: "realm_start_failed", Message: "could not start the realm, try again"})
		}
		r.broadcastLobby()
		return
	}
	ctx, cancel := storeContext()
	defer cancel()
	if err := r.dir.RegisterRealm(ctx, cfg); err != nil {
		r.logger.Warn().Err(err).Str("realm_id", cfg.RealmID).Msg("directory persist failed")
	}
	for _, w := range batch {
		r.sendToPlayer(w.ID, map[string]any{
			"type": "start_realm", "realmId": cfg.RealmID, "role": cfg.Roles[w.ID], "expiresAt": cfg.ExpiresAt,
		})
	}
	r.publish("realm_started", map[string]any{"realm_id": cfg.RealmID, "players": len(batch), "expires_at": cfg.ExpiresAt})
	r.logger.Info().Str("realm_id", cfg.RealmID).Int("players", len(batch)).Msg("realm started")
}

// lobbyHousekeeping evicts waiting entries that never readied and occasionally reconciles the
// directory against the realms themselves.
func (r *Room) lobbyHousekeeping(now int64) {
	if evicted := r.dir.EvictStale(now); len(evicted) > 0 {
		for _, id := range evicted {
			r.sendToPlayer(id, domainworld.ErrorMessage{Type: "error", Code: "lobby_timeout", Message: "removed from the realm lobby"})
		}
		r.broadcastLobby()
	}
	if !r.sweepInFlight && r.rand.Float64() < sweepChance {
		r.sweepRealms()
	}
}

func (r *Room) sweepRealms() {
	realms := r.dir.Realms()
	r.sweepInFlight = true
	peer, logger := r.deps.Peer, r.logger
	r.dispatch(func(ctx context.Context) func(*Room) {
		stats := make(map[string]domainworld.RealmStats, len(realms))
		if peer != nil {
			for id := range realms {
				st, err := peer.RealmStats(ctx, id)
				if err != nil {
					logger.Debug().Err(err).Str("realm_id", id).Msg("realm stats poll failed")
					continue
				}
				stats[id] = st
			}
		}
		return func(r *Room) { r.finishSweep(stats) }
	})
}

func (r *Room) finishSweep(stats map[string]domainworld.RealmStats) {
	r.sweepInFlight = false
	ctx, cancel := storeContext()
	defer cancel()
	removed, err := r.dir.Sweep(ctx, r.nowMs(), stats)
	if err != nil {
		r.logger.Warn().Err(err).Msg("directory sweep persist failed")
	}
	if len(removed) > 0 {
		r.logger.Info().Strs("realms", removed).Msg("directory dropped stale realms")
	}
}

func (r *Room) LookupPlayerRealm(ctx context.Context, playerID string) (directory.PlayerRealm, bool, error) {
	if !r.isLobby {
		return directory.PlayerRealm{}, false, ErrNotDirectory
	}
	return r.dir.Lookup(ctx, playerID, r.nowMs())
}

func (r *Room) TrackPlayerRealm(ctx context.Context, playerID, realmID string, expiresAt int64) error {
	if !r.isLobby {
		return ErrNotDirectory
	}
	return r.dir.Track(ctx, playerID, realmID, expiresAt)
}

func (r *Room) ClearPlayerRealm(ctx context.Context, playerID string) error {
	if !r.isLobby {
		return ErrNotDirectory
	}
	return r.dir.ClearPlayer(ctx, playerID)
}

func (r *Room) ClearRealmPlayers(ctx context.Context, playerIDs []string) error {
	if !r.isLobby {
		return ErrNotDirectory
	}
	return r.dir.ClearPlayers(ctx, playerIDs)
}
