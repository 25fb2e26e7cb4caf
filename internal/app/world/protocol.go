package world

import (
	"encoding/json"
	"math"

	"github.com/tidwall/gjson"
)

type moveMsg struct {
	X        *float64 `json:"x"`
	Z        *float64 `json:"z"`
	Rotation float64  `json:"rotation"`
}

type itemMsg struct {
	ItemID string `json:"itemId"`
}

type plotMsg struct {
	PlotID *int `json:"plotId"`
}

type pickupMsg struct {
	PickupID string `json:"pickupId"`
}

type genderMsg struct {
	Gender string `json:"gender"`
}

type passMsg struct {
	TargetID string `json:"targetId"`
}

// HandleMessage decodes one client frame and applies it. Malformed, unknown or rate-limited frames
// are dropped with a log line; each message type runs under its own recover.
func (r *Room) HandleMessage(sessionID string, raw []byte) {
	s, ok := r.sessions[sessionID]
	if !ok || !s.admitted {
		return
	}
	if !s.limiter.Allow() {
		r.logger.Debug().Str("session_id", sessionID).Msg("message rate exceeded, dropping")
		return
	}
	if !gjson.ValidBytes(raw) {
		r.logger.Debug().Str("session_id", sessionID).Msg("unparseable message")
		return
	}
	typ := gjson.GetBytes(raw, "type").String()
	r.guard("msg:"+typ, func() { r.route(s, typ, raw) })
}

func (r *Room) route(s *Session, typ string, raw []byte) {
	switch typ {
	case "move":
		var m moveMsg
		if decode(raw, &m) {
			r.handleMove(s, m)
		}
	case "shoot":
		r.handleShoot(s)
	case "spawn_dragon":
		r.handleSpawnBoss()
	case "change_gender":
		var m genderMsg
		if decode(raw, &m) && r.needEconomy(s) {
			r.handleChangeGender(s, m.Gender)
		}
	case "get_scores":
		if r.needEconomy(s) {
			r.handleGetScores(s)
		}
	case "buy_item":
		var m itemMsg
		if decode(raw, &m) && r.inWorld(s) && r.needEconomy(s) {
			r.handleBuyItem(s, m.ItemID)
		}
	case "plant_seeds", "water_wheat", "harvest_wheat":
		var m plotMsg
		if !decode(raw, &m) || m.PlotID == nil {
			return
		}
		if r.inWorld(s) && r.needEconomy(s) {
			r.handleFarmAction(s, farmActionFor(typ), *m.PlotID)
		}
	case "collect_pickup":
		var m pickupMsg
		if decode(raw, &m) && r.inWorld(s) && r.needEconomy(s) {
			r.handleCollectPickup(s, m.PickupID)
		}
	case "join_realm_lobby", "leave_realm_lobby", "realm_ready", "get_player_realm":
		if !r.isLobby {
			r.sendError(s, "not_lobby", "realm matchmaking happens in the main world")
			return
		}
		switch typ {
		case "join_realm_lobby":
			r.handleJoinLobby(s)
		case "leave_realm_lobby":
			r.handleLeaveLobby(s)
		case "realm_ready":
			r.handleReady(s)
		default:
			r.handleGetPlayerRealm(s)
		}
	case "start_fishing":
		r.handleStartFishing(s)
	case "pass_fish":
		var m passMsg
		if decode(raw, &m) {
			r.handlePassFish(s, m.TargetID)
		}
	default:
		r.logger.Debug().Str("type", typ).Msg("unknown message type")
	}
}

func decode(raw []byte, v any) bool {
	return json.Unmarshal(raw, v) == nil
}

func farmActionFor(typ string) string {
	switch typ {
	case "plant_seeds":
		return actionPlant
	case "water_wheat":
		return actionWater
	default:
		return actionHarvest
	}
}

// inWorld rejects farm and shop actions inside a realm, where neither the crop timers nor the
// action lockouts are ticked.
func (r *Room) inWorld(s *Session) bool {
	if r.isRealm {
		r.sendError(s, "not_in_realm", "farming and trading are only available in the main world")
		return false
	}
	return true
}

func (r *Room) needEconomy(s *Session) bool {
	if r.deps.Economy == nil {
		r.sendError(s, "store_unavailable", "please try again")
		return false
	}
	return true
}

// handleMove clamps the requested position into the world. Speed is not capped.
func (r *Room) handleMove(s *Session, m moveMsg) {
	p, ok := r.players[s.PlayerID]
	if !ok || !p.State.Alive || m.X == nil || m.Z == nil {
		return
	}
	if !finite(*m.X) || !finite(*m.Z) || !finite(m.Rotation) {
		r.logger.Debug().Str("player_id", p.State.ID).Msg("non-finite move dropped")
		return
	}
	if p.State.ActionType == actionFishing || p.State.ActionType == actionPassing {
		return
	}
	p.State.X = clamp(*m.X, -WorldBounds, WorldBounds)
	p.State.Z = clamp(*m.Z, -WorldBounds, WorldBounds)
	p.State.Rotation = normalizeAngle(m.Rotation)
}

func (r *Room) handleShoot(s *Session) {
	p, ok := r.players[s.PlayerID]
	if !ok {
		return
	}
	now := r.nowMs()
	switch {
	case r.boss == nil || !r.boss.Alive:
		r.logger.Debug().Str("player_id", p.State.ID).Msg("shot dropped, boss not alive")
		return
	case !p.State.Alive:
		r.logger.Debug().Str("player_id", p.State.ID).Msg("shot dropped, player dead")
		return
	case p.lastShotAt > 0 && now-p.lastShotAt < shootCooldown:
		r.logger.Debug().Str("player_id", p.State.ID).Msg("shot dropped, cooling down")
		return
	}
	p.lastShotAt = now
	r.fireFrom(p.State.ID, p.State.X, p.State.Z, p.State.Rotation, playerFireOffset, playerProjectileSpeed, now)
	s.stats.Shots++
}

func (r *Room) handleSpawnBoss() {
	if r.boss != nil && !r.boss.Alive {
		r.respawnBoss()
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func normalizeAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a
}
