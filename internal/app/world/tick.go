package world

import (
	"encoding/json"

	domainworld "farmrealm-server/internal/domain/world"
)

// Tick advances the room one step. Subsystems run in a fixed order and one snapshot goes out at the
// end; a panic anywhere costs this tick only.
func (r *Room) Tick() {
	r.guard("tick", r.tickOnce)
}

func (r *Room) tickOnce() {
	now := r.nowMs()
	r.tick++

	if r.isRealm && r.realm != nil && r.realm.Expired(now) {
		r.expireRealm("expired")
		return
	}

	r.updatePond(now)

	if r.isRealm {
		r.broadcast(r.realmSnapshot(now), "")
		return
	}

	r.updateBoss(now)
	r.updateProjectiles(now)
	r.updateWildlife(now)
	r.updateCrops(now)
	r.releaseFarmActions(now)
	r.collectGarbagePickups(now)
	r.respawnPlayers(now)
	if r.isLobby {
		r.lobbyHousekeeping(now)
	}

	r.broadcastWorld(r.fullSnapshot(now))
}

func (r *Room) playerStates() []domainworld.PlayerState {
	out := make([]domainworld.PlayerState, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, p.State)
	}
	return out
}

func (r *Room) fullSnapshot(now int64) domainworld.WorldUpdate {
	u := domainworld.WorldUpdate{
		Type:        "world_update",
		Timestamp:   now,
		Projectiles: append([]domainworld.Projectile(nil), r.projectiles...),
		Wildlife:    r.wildlifeStates(),
		Crops:       append([]domainworld.FarmPlot(nil), r.plots...),
		Players:     r.playerStates(),
	}
	if r.boss != nil {
		boss := *r.boss
		u.Boss = &boss
	}
	if r.isLobby {
		u.RealmCount = r.dir.ActiveRealms(now)
	}
	return u
}

// broadcastWorld sends the tick snapshot with each player's own pickups spliced in. Sessions of the
// same player share one encoded frame.
func (r *Room) broadcastWorld(u domainworld.WorldUpdate) {
	frames := make(map[string][]byte)
	for _, s := range r.sessions {
		if !s.admitted {
			continue
		}
		b, ok := frames[s.PlayerID]
		if !ok {
			u.Pickups = r.pickupsFor(s.PlayerID)
			var err error
			if b, err = json.Marshal(u); err != nil {
				r.logger.Error().Err(err).Msg("marshal world update failed")
				return
			}
			frames[s.PlayerID] = b
		}
		s.send(b)
	}
}

func (r *Room) pickupsFor(playerID string) []domainworld.Pickup {
	mine := make([]domainworld.Pickup, 0)
	for _, pk := range r.pickups {
		if pk.RecipientID == playerID {
			mine = append(mine, pk)
		}
	}
	return mine
}

func (r *Room) realmSnapshot(now int64) domainworld.WorldUpdate {
	pond := r.pondState()
	u := domainworld.WorldUpdate{
		Type:      "world_update",
		Timestamp: now,
		Players:   r.playerStates(),
		Pond:      &pond,
	}
	if r.realm != nil {
		u.ExpiresAt = r.realm.ExpiresAt
	}
	return u
}

// initMessage is the full state a freshly admitted session starts from. Pickups are filtered to
// the ones the player may see.
func (r *Room) initMessage(playerID string) map[string]any {
	mine := r.pickupsFor(playerID)
	msg := map[string]any{
		"type":        "init",
		"selfId":      playerID,
		"players":     r.playerStates(),
		"projectiles": r.projectiles,
		"pickups":     mine,
		"farmPlots":   r.plots,
		"wildlife":    r.wildlifeStates(),
		"bounds":      WorldBounds,
	}
	if r.boss != nil {
		msg["dragon"] = *r.boss
	}
	if r.isLobby {
		msg["activeRealms"] = r.dir.ActiveRealms(r.nowMs())
		msg["realmLobby"] = r.dir.Waiting()
	}
	return msg
}

func (r *Room) respawnPlayers(now int64) {
	for _, p := range r.players {
		if p.State.Alive || now-p.State.DeathTime < playerRespawnDelay {
			continue
		}
		p.State.Alive = true
		p.State.DeathTime = 0
		p.State.X, p.State.Z = r.spawnPoint()
		r.broadcast(map[string]any{"type": "player_respawn", "player": p.State}, "")
	}
}

func (r *Room) killPlayer(p *playerRuntime, now int64) {
	p.State.Alive = false
	p.State.DeathTime = now
	clearAction(p)
	if r.boss != nil && r.boss.TargetID == p.State.ID {
		r.boss.TargetID = ""
	}
	r.broadcast(map[string]any{"type": "player_death", "playerId": p.State.ID, "deathTime": now}, "")
}
