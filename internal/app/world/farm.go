package world

import (
	domainworld "farmrealm-server/internal/domain/world"
)

const (
	actionPlant   = "plant"
	actionWater   = "water"
	actionHarvest = "harvest"
)

func newPlots() []domainworld.FarmPlot {
	plots := make([]domainworld.FarmPlot, plotCount)
	for i := range plots {
		plots[i].ID = i
	}
	return plots
}

// updateCrops ripens every watered plot whose grow time has elapsed.
func (r *Room) updateCrops(now int64) {
	changed := false
	for i := range r.plots {
		pl := &r.plots[i]
		if pl.Stage == domainworld.PlotWatered && now-pl.WateredAt >= growDuration {
			pl.Stage = domainworld.PlotReady
			changed = true
			r.broadcast(map[string]any{"type": "farm_update", "plot": *pl}, "")
		}
	}
	if changed {
		r.persistCrops()
	}
}

// releaseFarmActions clears the client-visible acting flag once a farm lockout has run out.
func (r *Room) releaseFarmActions(now int64) {
	for _, p := range r.players {
		if !p.State.IsActing || p.locked(now) {
			continue
		}
		switch p.State.ActionType {
		case actionPlant, actionWater, actionHarvest:
			clearAction(p)
		}
	}
}

func clearAction(p *playerRuntime) {
	p.State.IsActing = false
	p.State.ActionType = ""
	p.State.ActionPlotID = -1
	p.State.ActionStart = 0
	p.lockedUntil = 0
	p.fishingUntil = 0
	p.actionSession = ""
}

// beginFarmAction validates a plot action against the in-memory plot and locks the player. The
// returned code is empty when the action may proceed.
func (r *Room) beginFarmAction(p *playerRuntime, plotID int, action string, want int, now int64) (string, string) {
	if plotID < 0 || plotID >= len(r.plots) {
		return "invalid_plot", "no such plot"
	}
	if !p.State.Alive {
		return "player_dead", "dead players cannot farm"
	}
	if p.locked(now) || p.State.IsActing {
		return "action_in_progress", "already performing an action"
	}
	for _, other := range r.players {
		if other != p && other.State.IsActing && other.State.ActionPlotID == plotID {
			return "plot_busy", "someone is already working this plot"
		}
	}
	if r.plots[plotID].Stage != want {
		return wrongStageCode(action), wrongStageMessage(action)
	}
	p.State.IsActing = true
	p.State.ActionType = action
	p.State.ActionPlotID = plotID
	p.State.ActionStart = now
	p.lockedUntil = now + actionLockout
	return "", ""
}

func wrongStageCode(action string) string {
	switch action {
	case actionPlant:
		return "plot_not_empty"
	case actionWater:
		return "plot_not_planted"
	default:
		return "crop_not_ready"
	}
}

func wrongStageMessage(action string) string {
	switch action {
	case actionPlant:
		return "this plot is already planted"
	case actionWater:
		return "nothing to water on this plot"
	default:
		return "this crop is not ready to harvest"
	}
}

// advancePlot moves a plot one stage forward if it is still where the action found it.
func (r *Room) advancePlot(plotID, from int, playerID string, now int64) bool {
	pl := &r.plots[plotID]
	if pl.Stage != from {
		return false
	}
	switch from {
	case domainworld.PlotEmpty:
		pl.Stage = domainworld.PlotPlanted
		pl.PlanterID = playerID
	case domainworld.PlotPlanted:
		pl.Stage = domainworld.PlotWatered
		pl.WateredAt = now
	case domainworld.PlotReady:
		pl.Stage = domainworld.PlotEmpty
		pl.PlanterID = ""
		pl.WateredAt = 0
	default:
		return false
	}
	r.broadcast(map[string]any{"type": "farm_update", "plot": *pl}, "")
	r.persistCrops()
	return true
}
