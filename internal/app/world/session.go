package world

import (
	"context"
	"math"

	"golang.org/x/time/rate"

	"farmrealm-server/internal/domain/player"
	domainworld "farmrealm-server/internal/domain/world"
	"farmrealm-server/internal/platform/kv"
)

const (
	spawnRange       = 20.0
	spawnMinDistance = 3.0
	spawnAttempts    = 20
)

// Conn is what the transport hands a room for one accepted socket.
type Conn struct {
	SessionID string
	PlayerID  string
	FirstName string
	Send      chan []byte
	// Close asks the transport to close the socket with a websocket close code.
	Close func(code int, reason string)
}

// Session is one open socket. Several sessions may map to one player while a client reconnects.
type Session struct {
	ID        string
	PlayerID  string
	FirstName string

	out      chan []byte
	closeFn  func(code int, reason string)
	limiter  *rate.Limiter
	admitted bool
	stats    player.SessionStats
}

func (s *Session) send(b []byte) {
	select {
	case s.out <- b:
	default:
	}
}

func (s *Session) close(code int, reason string) {
	if s.closeFn != nil {
		s.closeFn(code, reason)
	}
}

type playerRuntime struct {
	State      domainworld.PlayerState
	FirstName  string
	CustomName string

	lastShotAt    int64
	lockedUntil   int64
	fishingUntil  int64
	actionSession string
}

func (p *playerRuntime) locked(now int64) bool {
	return now < p.lockedUntil
}

// admission is the result of the off-room loads done before a session is let in.
type admission struct {
	profile    player.Profile
	profileErr error
	location   domainworld.Location
	hasLoc     bool
	realm      *domainworld.RealmConfig
}

// Connect registers a socket and starts admission. The session sees nothing until admission
// completes on a later follow-up.
func (r *Room) Connect(c Conn) {
	limit := rate.Inf
	if r.deps.MessageRate > 0 {
		limit = rate.Limit(r.deps.MessageRate)
	}
	burst := r.deps.MessageBurst
	if burst <= 0 {
		burst = 1
	}
	s := &Session{
		ID:        c.SessionID,
		PlayerID:  c.PlayerID,
		FirstName: c.FirstName,
		out:       c.Send,
		closeFn:   c.Close,
		limiter:   rate.NewLimiter(limit, burst),
		stats: player.SessionStats{
			PlayerID:  c.PlayerID,
			RoomID:    r.id,
			StartedAt: r.deps.Clock(),
		},
	}
	r.sessions[s.ID] = s

	needRealm := r.isRealm && r.realm == nil
	needLocation := !r.isRealm
	store := r.deps.Store
	econ := r.deps.Economy
	sessionID := s.ID
	playerID, firstName := c.PlayerID, c.FirstName
	r.dispatch(func(ctx context.Context) func(*Room) {
		var a admission
		if econ != nil {
			a.profile, a.profileErr = econ.EnsureProfile(ctx, playerID, firstName)
		} else {
			a.profile = player.Profile{ID: playerID, FirstName: firstName}
		}
		if needLocation {
			ok, err := kv.Get(ctx, store, locationPrefix+playerID, &a.location)
			a.hasLoc = ok && err == nil
		}
		if needRealm {
			var cfg domainworld.RealmConfig
			if ok, err := kv.Get(ctx, store, realmConfigKey, &cfg); err == nil && ok {
				a.realm = &cfg
			}
		}
		return func(r *Room) { r.admit(sessionID, a) }
	})
}

func (r *Room) admit(sessionID string, a admission) {
	s, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	now := r.nowMs()
	if a.profileErr != nil {
		r.logger.Warn().Err(a.profileErr).Str("player_id", s.PlayerID).Msg("profile load failed, admitting with defaults")
		a.profile = player.Profile{ID: s.PlayerID, FirstName: s.FirstName}
	}
	if r.isRealm {
		if r.realm == nil && a.realm != nil {
			r.realm = a.realm
		}
		if code, msg := r.realmAdmissionError(s.PlayerID, now); code != "" {
			r.rejectRealmSession(s, code, msg)
			return
		}
	}

	p, existing := r.players[s.PlayerID]
	if !existing {
		p = r.newPlayer(s, a, now)
		r.players[p.State.ID] = p
	}
	s.admitted = true

	r.sendTo(s, map[string]any{"type": "welcome", "id": p.State.ID, "name": p.State.Name, "roomId": r.id})
	if r.isRealm {
		r.sendTo(s, r.realmInitMessage(p))
	} else {
		r.sendTo(s, r.initMessage(p.State.ID))
	}
	if !existing {
		r.broadcast(map[string]any{"type": "join", "player": p.State}, p.State.ID)
	}
	if r.isLobby {
		r.routeReconnect(s, now)
	}
	r.startTicking()
	r.logger.Info().Str("player_id", p.State.ID).Str("session_id", s.ID).Bool("reconnect", existing).Msg("session admitted")
}

func (r *Room) newPlayer(s *Session, a admission, now int64) *playerRuntime {
	gender := a.profile.Gender
	if gender == "" {
		gender = "male"
	}
	p := &playerRuntime{
		FirstName:  a.profile.FirstName,
		CustomName: a.profile.CustomName,
		State: domainworld.PlayerState{
			ID:           s.PlayerID,
			Name:         a.profile.DisplayName(),
			Gender:       gender,
			Alive:        true,
			Weapon:       a.profile.Weapon,
			ActionPlotID: -1,
		},
	}
	if a.hasLoc && inBounds(a.location.X, a.location.Z) {
		p.State.X, p.State.Z, p.State.Rotation = a.location.X, a.location.Z, a.location.Rotation
	} else {
		p.State.X, p.State.Z = r.spawnPoint()
	}
	if r.isRealm && r.realm != nil {
		p.State.Role = r.realm.Roles[s.PlayerID]
	}
	return p
}

// spawnPoint picks a random point that keeps clear of current players, giving up after a bounded
// number of tries.
func (r *Room) spawnPoint() (float64, float64) {
	var x, z float64
	for attempt := 0; attempt < spawnAttempts; attempt++ {
		x = (r.rand.Float64()*2 - 1) * spawnRange
		z = (r.rand.Float64()*2 - 1) * spawnRange
		clear := true
		for _, p := range r.players {
			if distance(x, z, p.State.X, p.State.Z) < spawnMinDistance {
				clear = false
				break
			}
		}
		if clear {
			return x, z
		}
	}
	return x, z
}

// Disconnect closes out one socket. Player-level teardown happens only when the player's last
// socket goes.
func (r *Room) Disconnect(sessionID string) {
	s, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	delete(r.sessions, sessionID)
	if !s.admitted {
		return
	}
	r.flushSession(s)

	if r.sessionsFor(s.PlayerID) > 0 {
		return
	}
	p, ok := r.players[s.PlayerID]
	if !ok {
		return
	}
	if !r.isRealm {
		r.saveLater(locationPrefix+p.State.ID, domainworld.Location{
			X: p.State.X, Z: p.State.Z, Rotation: p.State.Rotation, Weapon: p.State.Weapon,
		})
	}
	r.removePlayer(p.State.ID)
	r.broadcast(map[string]any{"type": "leave", "id": p.State.ID}, "")
	r.logger.Info().Str("player_id", p.State.ID).Int("remaining", len(r.players)).Msg("player left")

	if r.isRealm && len(r.players) == 1 {
		r.promoteSurvivor()
	}
	if len(r.players) == 0 {
		r.stopTicking()
	}
}

func (r *Room) removePlayer(playerID string) {
	delete(r.players, playerID)
	r.cancelPondActions(playerID)
	if r.boss != nil {
		r.boss.Attackers = removeString(r.boss.Attackers, playerID)
		if r.boss.TargetID == playerID {
			r.boss.TargetID = ""
		}
	}
	if r.isLobby && r.dir.LeaveLobby(playerID) {
		r.broadcastLobby()
	}
}

func (r *Room) sessionsFor(playerID string) int {
	n := 0
	for _, s := range r.sessions {
		if s.PlayerID == playerID {
			n++
		}
	}
	return n
}

func (r *Room) flushSession(s *Session) {
	st := s.stats
	st.EndedAt = r.deps.Clock()
	econ := r.deps.Economy
	logger := r.logger
	if econ != nil {
		r.dispatch(func(ctx context.Context) func(*Room) {
			if err := econ.RecordSession(ctx, st); err != nil {
				logger.Warn().Err(err).Str("player_id", st.PlayerID).Msg("session analytics flush failed")
			}
			return nil
		})
	}
	r.publish("session_closed", map[string]any{
		"player_id":   st.PlayerID,
		"duration_ms": st.Duration().Milliseconds(),
		"coins":       st.CoinsEarned,
	})
}

func removeString(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func distance(ax, az, bx, bz float64) float64 {
	return math.Hypot(ax-bx, az-bz)
}

func inBounds(x, z float64) bool {
	return math.Abs(x) <= WorldBounds && math.Abs(z) <= WorldBounds
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
