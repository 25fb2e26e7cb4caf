package world

import (
	"context"
	"fmt"

	domainworld "farmrealm-server/internal/domain/world"
	"farmrealm-server/internal/platform/kv"
)

func (r *Room) loadRealmConfig(ctx context.Context) error {
	var cfg domainworld.RealmConfig
	ok, err := kv.Get(ctx, r.deps.Store, realmConfigKey, &cfg)
	if err != nil {
		return fmt.Errorf("load realm config: %w", err)
	}
	if ok {
		r.realm = &cfg
	}
	return nil
}

// realmAdmissionError returns an error code when playerID may not enter this realm.
func (r *Room) realmAdmissionError(playerID string, now int64) (string, string) {
	switch {
	case r.realm == nil:
		return "realm_not_configured", "this realm does not exist"
	case r.realm.Expired(now):
		return "realm_expired", "this realm has ended"
	case r.realm.Roles[playerID] == domainworld.RoleNone:
		return "no_role", "you are not assigned to this realm"
	}
	return "", ""
}

// rejectRealmSession tells the client why, closes the socket and asks the directory to forget the
// stale mapping that sent the player here.
func (r *Room) rejectRealmSession(s *Session, code, msg string) {
	r.sendError(s, code, msg)
	s.close(CloseRealmInvalid, code)
	r.logger.Info().Str("player_id", s.PlayerID).Str("code", code).Msg("realm session rejected")

	peer, playerID, logger := r.deps.Peer, s.PlayerID, r.logger
	if peer == nil {
		return
	}
	r.dispatch(func(ctx context.Context) func(*Room) {
		if err := peer.ClearPlayerRealm(ctx, playerID); err != nil {
			logger.Warn().Err(err).Str("player_id", playerID).Msg("clear stale player realm failed")
		}
		return nil
	})
}

func (r *Room) realmInitMessage(p *playerRuntime) map[string]any {
	msg := map[string]any{
		"type":    "realm_init",
		"realmId": r.id,
		"selfId":  p.State.ID,
		"role":    p.State.Role,
		"players": r.playerStates(),
		"pond":    r.pondState(),
	}
	if r.realm != nil {
		msg["expiresAt"] = r.realm.ExpiresAt
		msg["roles"] = r.realm.Roles
	}
	return msg
}

// promoteSurvivor hands the lead role to the last player standing so a realm stays playable alone.
func (r *Room) promoteSurvivor() {
	for _, p := range r.players {
		if p.State.Role == domainworld.RoleFisher {
			return
		}
		p.State.Role = domainworld.RoleFisher
		if r.realm != nil {
			r.realm.Roles[p.State.ID] = domainworld.RoleFisher
			ctx, cancel := storeContext()
			r.persistRealmConfig(ctx)
			cancel()
		}
		r.broadcast(map[string]any{"type": "update", "player": p.State}, "")
		r.logger.Info().Str("player_id", p.State.ID).Msg("survivor promoted to fisher")
	}
}

// persistRealmConfig writes the realm config through, never via the write-behind queue, so a
// queued older copy cannot land after a newer one.
func (r *Room) persistRealmConfig(ctx context.Context) {
	if err := kv.Put(ctx, r.deps.Store, realmConfigKey, *r.realm); err != nil {
		r.logger.Warn().Err(err).Msg("persist realm config failed")
	}
}

// expireRealm tears the realm down: every session is told and closed, the player map empties and
// the directory is asked to drop the mappings.
func (r *Room) expireRealm(reason string) {
	ids := make([]string, 0, len(r.players))
	for id := range r.players {
		ids = append(ids, id)
	}
	r.broadcast(map[string]any{"type": "realm_expired", "realmId": r.id, "reason": reason, "fishDelivered": r.pond.FishDelivered}, "")
	for _, s := range r.sessions {
		if s.admitted {
			r.flushSession(s)
		}
		s.admitted = false
		s.close(CloseRealmExpired, "realm expired")
	}
	r.players = make(map[string]*playerRuntime)
	r.passes = nil
	r.projectiles = nil
	r.stopTicking()
	r.finished = true

	r.publish("realm_expired", map[string]any{"realm_id": r.id, "reason": reason, "players": ids, "fish_delivered": r.pond.FishDelivered})
	r.logger.Info().Str("reason", reason).Int("players", len(ids)).Msg("realm torn down")

	peer, logger := r.deps.Peer, r.logger
	if peer == nil || len(ids) == 0 {
		return
	}
	r.dispatch(func(ctx context.Context) func(*Room) {
		if err := peer.ClearRealmPlayers(ctx, ids); err != nil {
			logger.Warn().Err(err).Strs("players", ids).Msg("clear realm players failed")
		}
		return nil
	})
}

// InitRealm stores the configuration the directory pushes before any client connects. It is
// written through to the store so a recycled actor can reload it.
func (r *Room) InitRealm(ctx context.Context, expiresAt int64, roles map[string]domainworld.Role) error {
	if !r.isRealm {
		return ErrNotRealm
	}
	cfg := domainworld.RealmConfig{RealmID: r.id, ExpiresAt: expiresAt, Roles: make(map[string]domainworld.Role, len(roles))}
	for id, role := range roles {
		cfg.Roles[id] = role
	}
	r.realm = &cfg
	r.finished = false
	if err := kv.Put(ctx, r.deps.Store, realmConfigKey, cfg); err != nil {
		return fmt.Errorf("persist realm config: %w", err)
	}
	r.logger.Info().Int64("expires_at", expiresAt).Int("players", len(roles)).Msg("realm configured")
	return nil
}

// Stats is the authoritative view the directory polls during its sweep.
func (r *Room) Stats() domainworld.RealmStats {
	st := domainworld.RealmStats{RoomID: r.id, ActivePlayers: len(r.players)}
	if r.realm != nil {
		st.ExpiresAt = r.realm.ExpiresAt
		st.Configured = !r.realm.Expired(r.nowMs())
	}
	return st
}

// EndRealm ends the realm now regardless of its deadline.
func (r *Room) EndRealm(ctx context.Context) error {
	if !r.isRealm {
		return ErrNotRealm
	}
	if r.realm != nil {
		r.realm.ExpiresAt = r.nowMs()
		r.persistRealmConfig(ctx)
	}
	r.expireRealm("ended")
	return nil
}
