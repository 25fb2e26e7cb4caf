package world

import (
	domainworld "farmrealm-server/internal/domain/world"
)

// updateProjectiles advances every projectile and resolves the first collision of each. A shot that
// kills the boss clears every projectile, so processing stops there.
func (r *Room) updateProjectiles(now int64) {
	if len(r.projectiles) == 0 {
		return
	}
	current := r.projectiles
	kept := make([]domainworld.Projectile, 0, len(current))
	for _, pr := range current {
		pr.X += pr.VX
		pr.Z += pr.VZ
		if !inBounds(pr.X, pr.Z) || now-pr.CreatedAt >= projectileTTL {
			continue
		}
		if pr.FromBoss() {
			if victim := r.projectileVictim(pr); victim != nil {
				r.killPlayer(victim, now)
				continue
			}
		} else if b := r.boss; b != nil && b.Alive && distance(pr.X, pr.Z, b.X, b.Z) <= bossHitRadius {
			shooter, ok := r.players[pr.OwnerID]
			if !ok {
				continue
			}
			r.damageBoss(shooter, now)
			if !r.boss.Alive {
				return
			}
			continue
		}
		kept = append(kept, pr)
	}
	r.projectiles = kept
}

func (r *Room) projectileVictim(pr domainworld.Projectile) *playerRuntime {
	for _, p := range r.players {
		if p.State.Alive && distance(pr.X, pr.Z, p.State.X, p.State.Z) <= playerHitRadius {
			return p
		}
	}
	return nil
}
