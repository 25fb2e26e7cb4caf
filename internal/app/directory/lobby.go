package directory

import (
	"sort"

	"farmrealm-server/internal/domain/world"
)

// The waiting list lives only in memory: an entry is meaningless without the socket that created it.

func (d *Directory) JoinLobby(playerID, name string, now int64) {
	if w, ok := d.waiting[playerID]; ok {
		w.Name = name
		return
	}
	d.waiting[playerID] = &world.WaitingPlayer{ID: playerID, Name: name, JoinedAt: now}
}

func (d *Directory) LeaveLobby(playerID string) bool {
	if _, ok := d.waiting[playerID]; !ok {
		return false
	}
	delete(d.waiting, playerID)
	return true
}

func (d *Directory) InLobby(playerID string) bool {
	_, ok := d.waiting[playerID]
	return ok
}

// ToggleReady flips the player's ready flag. It reports false for players not waiting.
func (d *Directory) ToggleReady(playerID string) bool {
	w, ok := d.waiting[playerID]
	if !ok {
		return false
	}
	w.Ready = !w.Ready
	return true
}

// Waiting lists entries in join order.
func (d *Directory) Waiting() []world.WaitingPlayer {
	out := make([]world.WaitingPlayer, 0, len(d.waiting))
	for _, w := range d.waiting {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt != out[j].JoinedAt {
			return out[i].JoinedAt < out[j].JoinedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// TakeReadyBatch removes and returns the whole waiting list once everyone on it is ready.
func (d *Directory) TakeReadyBatch() ([]world.WaitingPlayer, bool) {
	if len(d.waiting) == 0 {
		return nil, false
	}
	for _, w := range d.waiting {
		if !w.Ready {
			return nil, false
		}
	}
	batch := d.Waiting()
	d.waiting = make(map[string]*world.WaitingPlayer)
	return batch, true
}

// Requeue puts players back unready, e.g. after a failed realm provisioning.
func (d *Directory) Requeue(batch []world.WaitingPlayer) {
	for _, w := range batch {
		w.Ready = false
		cp := w
		d.waiting[w.ID] = &cp
	}
}

// EvictStale drops entries that never readied within the wait timeout.
func (d *Directory) EvictStale(now int64) []string {
	evicted := make([]string, 0)
	for id, w := range d.waiting {
		if !w.Ready && now-w.JoinedAt >= d.waitTimeout {
			delete(d.waiting, id)
			evicted = append(evicted, id)
		}
	}
	sort.Strings(evicted)
	return evicted
}
