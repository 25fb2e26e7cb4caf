package world

import (
	domainworld "farmrealm-server/internal/domain/world"
)

const (
	actionFishing = "fishing"
	actionPassing = "passing"
)

var pondNodes = []domainworld.PondNode{
	{ID: 0, X: -8, Z: 0},
	{ID: 1, X: 0, Z: 8},
	{ID: 2, X: 8, Z: 0},
	{ID: 3, X: 0, Z: -8},
}

// passAction is a fish handoff in progress. Both players stay locked until it completes.
type passAction struct {
	fromID string
	toID   string
	until  int64
}

func newPond() domainworld.PondState {
	nodes := append([]domainworld.PondNode(nil), pondNodes...)
	nodes[0].Active = true
	return domainworld.PondState{Nodes: nodes}
}

func (r *Room) pondState() domainworld.PondState {
	st := r.pond
	st.Nodes = append([]domainworld.PondNode(nil), r.pond.Nodes...)
	return st
}

func (r *Room) activeNode() (domainworld.PondNode, bool) {
	if r.pond.ActiveNode < 0 || r.pond.ActiveNode >= len(r.pond.Nodes) {
		return domainworld.PondNode{}, false
	}
	return r.pond.Nodes[r.pond.ActiveNode], true
}

func (r *Room) rotateNode() {
	if len(r.pond.Nodes) == 0 {
		return
	}
	r.pond.Nodes[r.pond.ActiveNode].Active = false
	r.pond.ActiveNode = (r.pond.ActiveNode + 1) % len(r.pond.Nodes)
	r.pond.Nodes[r.pond.ActiveNode].Active = true
}

func (r *Room) handleStartFishing(s *Session) {
	p, ok := r.players[s.PlayerID]
	if !ok || !r.isRealm {
		return
	}
	now := r.nowMs()
	node, ok := r.activeNode()
	switch {
	case !ok:
		return
	case p.State.Role != domainworld.RoleFisher:
		r.sendError(s, "wrong_role", "only fishers can fish")
	case p.State.IsActing:
		r.sendError(s, "action_in_progress", "already performing an action")
	case p.State.CarryingFish:
		r.sendError(s, "already_carrying", "hand off the fish you are carrying first")
	case distance(p.State.X, p.State.Z, node.X, node.Z) > fishingRange:
		r.sendError(s, "too_far", "move closer to the active fishing spot")
	default:
		p.State.IsActing = true
		p.State.ActionType = actionFishing
		p.State.ActionStart = now
		p.fishingUntil = now + fishingDuration
		p.lockedUntil = p.fishingUntil
		p.actionSession = s.ID
	}
}

func (r *Room) handlePassFish(s *Session, targetID string) {
	from, ok := r.players[s.PlayerID]
	if !ok || !r.isRealm {
		return
	}
	to, ok := r.players[targetID]
	now := r.nowMs()
	switch {
	case !ok || to == from:
		r.sendError(s, "invalid_target", "no such teammate")
	case !from.State.CarryingFish:
		r.sendError(s, "not_carrying", "you have no fish to pass")
	case to.State.Role != domainworld.RoleKeeper:
		r.sendError(s, "wrong_role", "fish can only be passed to a keeper")
	case from.State.IsActing || to.State.IsActing:
		r.sendError(s, "action_in_progress", "someone is busy")
	case distance(from.State.X, from.State.Z, to.State.X, to.State.Z) > passRange:
		r.sendError(s, "too_far", "move closer to your teammate")
	default:
		until := now + passDuration
		for _, p := range []*playerRuntime{from, to} {
			p.State.IsActing = true
			p.State.ActionType = actionPassing
			p.State.ActionStart = now
			p.lockedUntil = until
		}
		from.actionSession = s.ID
		r.passes = append(r.passes, &passAction{fromID: from.State.ID, toID: to.State.ID, until: until})
		r.broadcast(map[string]any{"type": "pass_fish_start", "fromId": from.State.ID, "toId": to.State.ID, "completesAt": until}, "")
	}
}

// updatePond completes fishing casts and handoffs whose timers have run out.
func (r *Room) updatePond(now int64) {
	if !r.isRealm {
		return
	}
	changed := false
	for _, p := range r.players {
		if p.State.ActionType != actionFishing || now < p.fishingUntil {
			continue
		}
		sessionID := p.actionSession
		clearAction(p)
		p.State.CarryingFish = true
		nodeID := r.pond.ActiveNode
		r.rotateNode()
		changed = true
		r.withSession(sessionID, func(s *Session) { s.stats.FishCaught++ })
		r.broadcast(map[string]any{"type": "fishing_complete", "playerId": p.State.ID, "nodeId": nodeID}, "")
	}

	pending := r.passes[:0]
	for _, pa := range r.passes {
		if now < pa.until {
			pending = append(pending, pa)
			continue
		}
		from, okFrom := r.players[pa.fromID]
		to, okTo := r.players[pa.toID]
		if !okFrom || !okTo {
			continue
		}
		r.withSession(from.actionSession, func(s *Session) { s.stats.FishPassed++ })
		clearAction(from)
		clearAction(to)
		from.State.CarryingFish = false
		r.pond.FishDelivered++
		changed = true
		r.broadcast(map[string]any{
			"type": "pass_fish_complete", "fromId": pa.fromID, "toId": pa.toID, "fishDelivered": r.pond.FishDelivered,
		}, "")
	}
	r.passes = pending

	if changed {
		r.broadcast(map[string]any{"type": "pond_update", "pond": r.pondState()}, "")
	}
}

// cancelPondActions aborts handoffs involving playerID and frees the partner.
func (r *Room) cancelPondActions(playerID string) {
	pending := r.passes[:0]
	for _, pa := range r.passes {
		if pa.fromID != playerID && pa.toID != playerID {
			pending = append(pending, pa)
			continue
		}
		partner := pa.toID
		if partner == playerID {
			partner = pa.fromID
		}
		if p, ok := r.players[partner]; ok {
			clearAction(p)
		}
	}
	r.passes = pending
}
