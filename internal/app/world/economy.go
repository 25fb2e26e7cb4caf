package world

import (
	"context"
	"errors"

	"farmrealm-server/internal/app/economy"
	"farmrealm-server/internal/domain/player"
	domainworld "farmrealm-server/internal/domain/world"
)

// Every economy action re-reads the player from the relational store off the room goroutine and
// applies its effect in a follow-up. Failures answer the caller with a typed error.

func economyError(err error) (string, string) {
	switch {
	case errors.Is(err, economy.ErrInsufficientFunds):
		return "insufficient_funds", "not enough coins"
	case errors.Is(err, economy.ErrMissingItem):
		return "missing_item", "you do not have the required item"
	case errors.Is(err, economy.ErrUnknownItem):
		return "unknown_item", "that item is not for sale"
	case errors.Is(err, economy.ErrInvalidGender):
		return "invalid_gender", "gender must be male or female"
	case errors.Is(err, economy.ErrNotFound):
		return "player_not_found", "player record not found"
	default:
		return "store_unavailable", "please try again"
	}
}

func inventoryUpdate(p player.Profile) map[string]any {
	return map[string]any{"type": "update", "coins": p.Coins, "items": p.Items, "weapon": p.Weapon}
}

// withSession runs fn on the follow-up only if the socket is still open.
func (r *Room) withSession(sessionID string, fn func(s *Session)) {
	if s, ok := r.sessions[sessionID]; ok {
		fn(s)
	}
}

func (r *Room) handleBuyItem(s *Session, itemID string) {
	if _, err := economy.PriceOf(itemID); err != nil {
		code, msg := economyError(err)
		r.sendError(s, code, msg)
		return
	}
	econ, sessionID, playerID := r.deps.Economy, s.ID, s.PlayerID
	r.dispatch(func(ctx context.Context) func(*Room) {
		if _, err := econ.Purchase(ctx, playerID, itemID); err != nil {
			return func(r *Room) {
				r.withSession(sessionID, func(s *Session) {
					code, msg := economyError(err)
					r.sendError(s, code, msg)
				})
			}
		}
		prof, err := econ.Profile(ctx, playerID)
		return func(r *Room) {
			r.withSession(sessionID, func(s *Session) {
				s.stats.Purchases++
				if err != nil {
					r.logger.Warn().Err(err).Str("player_id", playerID).Msg("profile reload after purchase failed")
					return
				}
				r.sendTo(s, inventoryUpdate(prof))
			})
		}
	})
}

// farmPlan describes one plot action: the stage it starts from and what it costs or yields.
type farmPlan struct {
	action  string
	from    int
	consume string
	reward  int64
	yield   string
}

var farmPlans = map[string]farmPlan{
	actionPlant:   {action: actionPlant, from: domainworld.PlotEmpty, consume: economy.ItemWheatSeeds},
	actionWater:   {action: actionWater, from: domainworld.PlotPlanted, consume: economy.ItemWaterBucket},
	actionHarvest: {action: actionHarvest, from: domainworld.PlotReady, reward: harvestReward, yield: economy.ItemWheat},
}

func (r *Room) handleFarmAction(s *Session, action string, plotID int) {
	plan := farmPlans[action]
	p, ok := r.players[s.PlayerID]
	if !ok {
		return
	}
	now := r.nowMs()
	if code, msg := r.beginFarmAction(p, plotID, plan.action, plan.from, now); code != "" {
		r.sendError(s, code, msg)
		return
	}
	p.actionSession = s.ID

	econ, sessionID, playerID := r.deps.Economy, s.ID, s.PlayerID
	r.dispatch(func(ctx context.Context) func(*Room) {
		err := applyFarmCost(ctx, econ, playerID, plan)
		var prof player.Profile
		if err == nil {
			prof, _ = econ.Profile(ctx, playerID)
		}
		return func(r *Room) { r.finishFarmAction(sessionID, playerID, plotID, plan, prof, err) }
	})
}

func applyFarmCost(ctx context.Context, econ Economy, playerID string, plan farmPlan) error {
	if plan.consume != "" {
		prof, err := econ.Profile(ctx, playerID)
		if err != nil {
			return err
		}
		if !prof.Has(plan.consume, 1) {
			return economy.ErrMissingItem
		}
		return econ.ConsumeItem(ctx, playerID, plan.consume)
	}
	if plan.yield != "" {
		if err := econ.GrantItem(ctx, playerID, plan.yield, 1); err != nil {
			return err
		}
	}
	if plan.reward > 0 {
		if _, err := econ.AddCoins(ctx, playerID, plan.reward); err != nil {
			return err
		}
	}
	return nil
}

func (r *Room) finishFarmAction(sessionID, playerID string, plotID int, plan farmPlan, prof player.Profile, err error) {
	p, present := r.players[playerID]
	s, open := r.sessions[sessionID]
	if err != nil {
		if present && p.State.ActionPlotID == plotID {
			clearAction(p)
		}
		if open {
			code, msg := economyError(err)
			r.sendError(s, code, msg)
		}
		return
	}
	if !r.advancePlot(plotID, plan.from, playerID, r.nowMs()) {
		r.logger.Warn().Int("plot", plotID).Str("action", plan.action).Msg("plot changed while action was in flight")
		r.refundFarmCost(sessionID, playerID, plan)
		if open {
			r.sendError(s, "plot_changed", "the plot changed before your action finished")
		}
		return
	}
	if open {
		switch plan.action {
		case actionPlant:
			s.stats.Plants++
		case actionWater:
			s.stats.Waters++
		case actionHarvest:
			s.stats.Harvests++
			s.stats.CoinsEarned += plan.reward
		}
		if prof.ID != "" {
			r.sendTo(s, inventoryUpdate(prof))
		}
	}
}

// refundFarmCost gives back the seed or bucket an action consumed when the action could not land.
func (r *Room) refundFarmCost(sessionID, playerID string, plan farmPlan) {
	if plan.consume == "" {
		return
	}
	econ, logger := r.deps.Economy, r.logger
	r.dispatch(func(ctx context.Context) func(*Room) {
		if err := econ.GrantItem(ctx, playerID, plan.consume, 1); err != nil {
			logger.Warn().Err(err).Str("player_id", playerID).Str("item", plan.consume).Msg("farm refund failed")
			return nil
		}
		prof, err := econ.Profile(ctx, playerID)
		if err != nil {
			return nil
		}
		return func(r *Room) {
			r.withSession(sessionID, func(s *Session) { r.sendTo(s, inventoryUpdate(prof)) })
		}
	})
}

func (r *Room) handleCollectPickup(s *Session, pickupID string) {
	pk, code := r.takePickup(s.PlayerID, pickupID)
	if code != "" {
		r.sendError(s, code, "cannot collect that pickup")
		return
	}
	econ, sessionID, playerID := r.deps.Economy, s.ID, s.PlayerID
	r.dispatch(func(ctx context.Context) func(*Room) {
		var err error
		if pk.Kind == domainworld.PickupEquipment {
			if err = econ.GrantItem(ctx, playerID, pk.Item, 1); err == nil {
				err = econ.SetWeapon(ctx, playerID, pk.Item)
			}
		} else {
			_, err = econ.AddCoins(ctx, playerID, pk.Value)
		}
		var prof player.Profile
		if err == nil {
			prof, _ = econ.Profile(ctx, playerID)
		}
		return func(r *Room) { r.finishCollect(sessionID, playerID, pk, prof, err) }
	})
}

func (r *Room) finishCollect(sessionID, playerID string, pk domainworld.Pickup, prof player.Profile, err error) {
	s, open := r.sessions[sessionID]
	if err != nil {
		r.logger.Warn().Err(err).Str("player_id", playerID).Str("pickup", pk.ID).Msg("pickup credit failed, restoring pickup")
		r.pickups = append(r.pickups, pk)
		if open {
			code, msg := economyError(err)
			r.sendError(s, code, msg)
		}
		return
	}
	if open {
		s.stats.Pickups++
		s.stats.CoinsEarned += pk.Value
		if prof.ID != "" {
			r.sendTo(s, inventoryUpdate(prof))
		}
	}
	if pk.Kind == domainworld.PickupEquipment {
		if p, ok := r.players[playerID]; ok {
			p.State.Weapon = pk.Item
		}
		r.broadcast(map[string]any{"type": "weapon_update", "playerId": playerID, "weapon": pk.Item}, "")
	}
}

func (r *Room) handleChangeGender(s *Session, gender string) {
	if gender != "male" && gender != "female" {
		r.sendError(s, "invalid_gender", "gender must be male or female")
		return
	}
	econ, sessionID, playerID := r.deps.Economy, s.ID, s.PlayerID
	r.dispatch(func(ctx context.Context) func(*Room) {
		err := econ.SetGender(ctx, playerID, gender)
		return func(r *Room) {
			if err != nil {
				r.withSession(sessionID, func(s *Session) {
					code, msg := economyError(err)
					r.sendError(s, code, msg)
				})
				return
			}
			if p, ok := r.players[playerID]; ok {
				p.State.Gender = gender
				r.broadcast(map[string]any{"type": "update", "player": p.State}, "")
			}
		}
	})
}

func (r *Room) handleGetScores(s *Session) {
	econ, sessionID := r.deps.Economy, s.ID
	r.dispatch(func(ctx context.Context) func(*Room) {
		scores, err := econ.TopScores(ctx)
		return func(r *Room) {
			r.withSession(sessionID, func(s *Session) {
				if err != nil {
					code, msg := economyError(err)
					r.sendError(s, code, msg)
					return
				}
				r.sendTo(s, map[string]any{"type": "scores", "scores": scores})
			})
		}
	})
}
