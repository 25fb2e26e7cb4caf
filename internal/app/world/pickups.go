package world

import (
	"github.com/google/uuid"

	domainworld "farmrealm-server/internal/domain/world"
)

// dropLoot gives every ledger contributor exactly one drop: the boss weapon to those who are here
// and lack it, a scatter of coins to everyone else.
func (r *Room) dropLoot(ledger map[string]domainworld.LedgerEntry, x, z float64, now int64) {
	for id := range ledger {
		if p, ok := r.players[id]; ok && p.State.Weapon != lootWeapon && !r.hasPendingWeapon(id) {
			r.spawnPickup(domainworld.Pickup{Kind: domainworld.PickupEquipment, Item: lootWeapon, RecipientID: id}, x, z, now)
			continue
		}
		n := lootMinCoins + r.rand.Intn(lootMaxCoins-lootMinCoins+1)
		for i := 0; i < n; i++ {
			value := int64(lootMinValue + r.rand.Intn(lootMaxValue-lootMinValue+1))
			r.spawnPickup(domainworld.Pickup{Kind: domainworld.PickupCoin, Value: value, RecipientID: id}, x, z, now)
		}
	}
}

func (r *Room) hasPendingWeapon(playerID string) bool {
	for _, pk := range r.pickups {
		if pk.RecipientID == playerID && pk.Kind == domainworld.PickupEquipment {
			return true
		}
	}
	return false
}

func (r *Room) spawnPickup(pk domainworld.Pickup, x, z float64, now int64) {
	pk.ID = uuid.NewString()
	pk.X = clamp(x+(r.rand.Float64()*2-1)*pickupScatter, -WorldBounds, WorldBounds)
	pk.Z = clamp(z+(r.rand.Float64()*2-1)*pickupScatter, -WorldBounds, WorldBounds)
	pk.CreatedAt = now
	r.pickups = append(r.pickups, pk)
	r.sendToPlayer(pk.RecipientID, map[string]any{"type": "pickup_spawned", "pickup": pk})
}

func (r *Room) collectGarbagePickups(now int64) {
	kept := r.pickups[:0]
	for _, pk := range r.pickups {
		if now-pk.CreatedAt < pickupLifetime {
			kept = append(kept, pk)
		}
	}
	r.pickups = kept
}

// takePickup removes and returns the pickup if playerID may collect it from where they stand.
func (r *Room) takePickup(playerID, pickupID string) (domainworld.Pickup, string) {
	p, ok := r.players[playerID]
	if !ok {
		return domainworld.Pickup{}, "not_in_room"
	}
	for i, pk := range r.pickups {
		if pk.ID != pickupID {
			continue
		}
		if pk.RecipientID != playerID {
			return domainworld.Pickup{}, "not_your_pickup"
		}
		if distance(p.State.X, p.State.Z, pk.X, pk.Z) > pickupCollectRange {
			return domainworld.Pickup{}, "too_far"
		}
		r.pickups = append(r.pickups[:i], r.pickups[i+1:]...)
		return pk, ""
	}
	return domainworld.Pickup{}, "pickup_not_found"
}
