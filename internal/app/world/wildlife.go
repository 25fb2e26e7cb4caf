package world

import (
	"fmt"
	"math"
	"math/rand"

	domainworld "farmrealm-server/internal/domain/world"
)

type obstacle struct {
	x, z, radius float64
}

var obstacles = []obstacle{
	{x: 0, z: -12, radius: 5},
	{x: 12, z: 8, radius: 3},
}

var wildlifeKinds = []string{"rabbit", "deer", "fox"}

type wildlifeRuntime struct {
	domainworld.Wildlife
	vx, vz float64
}

func newWildlife(rng *rand.Rand, now int64) []*wildlifeRuntime {
	out := make([]*wildlifeRuntime, 0, wildlifeCount)
	for i := 0; i < wildlifeCount; i++ {
		w := &wildlifeRuntime{Wildlife: domainworld.Wildlife{
			ID:    fmt.Sprintf("wildlife-%d", i),
			Kind:  wildlifeKinds[i%len(wildlifeKinds)],
			State: domainworld.WildlifeStopped,
		}}
		for attempt := 0; attempt < spawnAttempts; attempt++ {
			w.X = (rng.Float64()*2 - 1) * spawnRange
			w.Z = (rng.Float64()*2 - 1) * spawnRange
			if !blocked(w.X, w.Z) {
				break
			}
		}
		w.StateUntil = now + dwell(rng)
		out = append(out, w)
	}
	return out
}

func dwell(rng *rand.Rand) int64 {
	return 1000 + rng.Int63n(3000)
}

func blocked(x, z float64) bool {
	for _, o := range obstacles {
		if distance(x, z, o.x, o.z) < o.radius {
			return true
		}
	}
	return false
}

func (r *Room) updateWildlife(now int64) {
	for _, w := range r.wildlife {
		if now >= w.FleeCooldownUntil {
			if p := r.nearestLiving(w.X, w.Z, wildlifeFleeRadius); p != nil {
				w.flee(p.State.X, p.State.Z, now)
			}
		}
		switch w.State {
		case domainworld.WildlifeFleeing:
			w.step(wildlifeFleeSpeed, r.rand)
			if now >= w.StateUntil {
				w.State = domainworld.WildlifeStopped
				w.StateUntil = now + dwell(r.rand)
			}
		case domainworld.WildlifeRoaming:
			w.step(wildlifeRoamSpeed, r.rand)
			if now >= w.StateUntil {
				w.State = domainworld.WildlifeStopped
				w.StateUntil = now + dwell(r.rand)
			}
		default:
			if now >= w.StateUntil {
				w.roam(r.rand, now)
			}
		}
	}
}

func (r *Room) nearestLiving(x, z, within float64) *playerRuntime {
	var best *playerRuntime
	bestDist := within
	for _, p := range r.players {
		if !p.State.Alive {
			continue
		}
		if d := distance(x, z, p.State.X, p.State.Z); d <= bestDist {
			best, bestDist = p, d
		}
	}
	return best
}

func (w *wildlifeRuntime) flee(fromX, fromZ float64, now int64) {
	dx, dz := w.X-fromX, w.Z-fromZ
	d := math.Hypot(dx, dz)
	if d == 0 {
		dx, dz, d = 1, 0, 1
	}
	w.vx, w.vz = dx/d, dz/d
	w.Rotation = math.Atan2(w.vx, w.vz)
	w.State = domainworld.WildlifeFleeing
	w.StateUntil = now + wildlifeFleeTime
	w.FleeCooldownUntil = now + wildlifeFleeCooldown
}

func (w *wildlifeRuntime) roam(rng *rand.Rand, now int64) {
	angle := rng.Float64() * 2 * math.Pi
	w.vx, w.vz = math.Sin(angle), math.Cos(angle)
	w.Rotation = angle
	w.State = domainworld.WildlifeRoaming
	w.StateUntil = now + dwell(rng)
}

// step moves along the current heading. A move into an obstacle or past the boundary is refused and
// the animal turns to a fresh random heading instead.
func (w *wildlifeRuntime) step(speed float64, rng *rand.Rand) {
	nx, nz := w.X+w.vx*speed, w.Z+w.vz*speed
	if blocked(nx, nz) || !inBounds(nx, nz) {
		angle := rng.Float64() * 2 * math.Pi
		w.vx, w.vz = math.Sin(angle), math.Cos(angle)
		w.Rotation = angle
		return
	}
	w.X, w.Z = nx, nz
}

func (r *Room) wildlifeStates() []domainworld.Wildlife {
	out := make([]domainworld.Wildlife, 0, len(r.wildlife))
	for _, w := range r.wildlife {
		out = append(out, w.Wildlife)
	}
	return out
}
