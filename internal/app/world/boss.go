package world

import (
	"math"

	"github.com/google/uuid"

	domainworld "farmrealm-server/internal/domain/world"
)

func newBoss() *domainworld.BossState {
	return &domainworld.BossState{
		X:         bossSpawnX,
		Z:         bossSpawnZ,
		Health:    bossMaxHealth,
		MaxHealth: bossMaxHealth,
		Alive:     true,
		Ledger:    make(map[string]domainworld.LedgerEntry),
	}
}

// updateBoss runs one step of the boss state machine: dormant until someone hits it, then it
// hunts a random attacker, closes to melee range, and telegraphs a charged shot once per cooldown.
func (r *Room) updateBoss(now int64) {
	b := r.boss
	if b == nil {
		return
	}
	if !b.Alive {
		if b.DiedAt > 0 && now-b.DiedAt >= bossRespawnDelay {
			r.respawnBoss()
		}
		return
	}

	target := r.bossTarget()
	if target == nil {
		b.TargetID = ""
		b.Charging = false
		return
	}
	dx, dz := target.State.X-b.X, target.State.Z-b.Z
	dist := math.Hypot(dx, dz)
	b.Rotation = math.Atan2(dx, dz)

	if b.Charging {
		if now-b.ChargeStart >= bossChargeDelay {
			b.Charging = false
			b.LastChargeAt = now
			r.fireFrom(domainworld.BossOwnerID, b.X, b.Z, b.Rotation, bossFireOffset, bossProjectileSpeed, now)
		}
		return
	}

	if dist > bossMeleeRange {
		b.X = clamp(b.X+dx/dist*bossSpeed, -WorldBounds, WorldBounds)
		b.Z = clamp(b.Z+dz/dist*bossSpeed, -WorldBounds, WorldBounds)
	}
	if dist <= bossAttackRange && now-b.LastChargeAt >= bossChargeCooldown {
		b.Charging = true
		b.ChargeStart = now
		r.broadcast(map[string]any{"type": "dragon_charging", "targetId": b.TargetID, "chargeStartTime": now}, "")
	}
}

// bossTarget keeps the current target while it is alive and present, otherwise picks a random
// living attacker.
func (r *Room) bossTarget() *playerRuntime {
	b := r.boss
	if p, ok := r.players[b.TargetID]; ok && p.State.Alive {
		return p
	}
	candidates := make([]*playerRuntime, 0, len(b.Attackers))
	for _, id := range b.Attackers {
		if p, ok := r.players[id]; ok && p.State.Alive {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	p := candidates[r.rand.Intn(len(candidates))]
	b.TargetID = p.State.ID
	return p
}

func (r *Room) fireFrom(ownerID string, x, z, rotation, offset, speed float64, now int64) domainworld.Projectile {
	sin, cos := math.Sin(rotation), math.Cos(rotation)
	pr := domainworld.Projectile{
		ID:        uuid.NewString(),
		X:         x + sin*offset,
		Z:         z + cos*offset,
		VX:        sin * speed,
		VZ:        cos * speed,
		OwnerID:   ownerID,
		CreatedAt: now,
		Speed:     speed,
	}
	r.projectiles = append(r.projectiles, pr)
	return pr
}

// damageBoss applies one hit from a player. The ledger entry is re-keyed to the attacker's current
// display name on every hit.
func (r *Room) damageBoss(p *playerRuntime, now int64) {
	b := r.boss
	if b == nil || !b.Alive {
		return
	}
	b.Health--
	if b.Health < 0 {
		b.Health = 0
	}
	if !containsString(b.Attackers, p.State.ID) {
		b.Attackers = append(b.Attackers, p.State.ID)
	}
	if b.Ledger == nil {
		b.Ledger = make(map[string]domainworld.LedgerEntry)
	}
	entry := b.Ledger[p.State.ID]
	entry.Name = p.State.Name
	entry.Damage++
	b.Ledger[p.State.ID] = entry

	r.broadcast(map[string]any{"type": "dragon_hit", "attackerId": p.State.ID, "health": b.Health, "maxHealth": b.MaxHealth}, "")
	if b.Health <= 0 {
		r.killBoss(now)
		return
	}
	r.persistBoss()
}

func (r *Room) killBoss(now int64) {
	b := r.boss
	ledger := b.Ledger
	b.Alive = false
	b.Health = 0
	b.DiedAt = now
	b.Charging = false
	b.TargetID = ""
	b.Attackers = nil
	b.Ledger = make(map[string]domainworld.LedgerEntry)
	r.projectiles = r.projectiles[:0]

	contributors := make([]map[string]any, 0, len(ledger))
	for id, e := range ledger {
		contributors = append(contributors, map[string]any{"id": id, "name": e.Name, "damage": e.Damage})
	}
	r.broadcast(map[string]any{"type": "dragon_death", "contributors": contributors, "diedAt": now}, "")
	r.dropLoot(ledger, b.X, b.Z, now)
	r.persistBoss()
	r.publish("boss_defeated", map[string]any{"room_id": r.id, "contributors": len(ledger), "died_at": now})
	r.logger.Info().Int("contributors", len(ledger)).Msg("boss defeated")
}

func (r *Room) respawnBoss() {
	r.boss = newBoss()
	r.broadcast(map[string]any{"type": "dragon_respawn", "dragon": *r.boss}, "")
	r.persistBoss()
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
