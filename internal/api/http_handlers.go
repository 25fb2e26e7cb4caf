package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	authapp "farmrealm-server/internal/app/auth"
	"farmrealm-server/internal/app/peer"
	"farmrealm-server/internal/app/rooms"
	worldapp "farmrealm-server/internal/app/world"
	domainworld "farmrealm-server/internal/domain/world"
)

const maxRoomIDLength = 64

// RoomHost delivers sockets, frames and internal calls to room actors.
type RoomHost interface {
	Connect(roomID string, conn worldapp.Conn) error
	Disconnect(roomID, sessionID string)
	Deliver(roomID, sessionID string, raw []byte)
	Call(ctx context.Context, roomID string, op rooms.Op) (any, error)
}

type Handler struct {
	logger      zerolog.Logger
	auth        *authapp.Service
	rooms       RoomHost
	ready       func(ctx context.Context) error
	corsOrigin  string
	maxBodySize int64
}

func NewHandler(logger zerolog.Logger, auth *authapp.Service, rooms RoomHost, ready func(ctx context.Context) error, corsOrigin string, maxBodySize int64) *Handler {
	return &Handler{logger: logger, auth: auth, rooms: rooms, ready: ready, corsOrigin: corsOrigin, maxBodySize: maxBodySize}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.cors)

	r.Get("/healthz", h.health)
	r.Get("/readyz", h.readiness)

	r.Route("/v1", func(v1 chi.Router) {
		v1.With(h.internalOnly).Post("/tokens", h.issueToken)

		v1.Route("/rooms/{roomID}", func(room chi.Router) {
			room.Use(h.roomID)
			room.Get("/ws", h.roomWS)

			room.Route("/internal", func(in chi.Router) {
				in.Use(h.internalOnly)
				in.Use(middleware.Timeout(20 * time.Second))
				in.Post("/init-realm", h.initRealm)
				in.Get("/stats", h.realmStats)
				in.Post("/end-realm", h.endRealm)
				in.Get("/player-realm", h.playerRealm)
				in.Post("/track-player-realm", h.trackPlayerRealm)
				in.Post("/clear-player-realm", h.clearPlayerRealm)
				in.Post("/clear-realm-players", h.clearRealmPlayers)
			})
		})
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			h.logger.Warn().Err(err).Msg("readiness check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (h *Handler) issueToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlayerID  string `json:"playerId"`
		FirstName string `json:"firstName"`
	}
	if !h.decodeBody(w, r, &req) {
		return
	}
	tok, err := h.auth.IssueToken(req.PlayerID, req.FirstName)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"token": tok})
}

func (h *Handler) initRealm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExpiresAt int64                       `json:"expiresAt"`
		Roles     map[string]domainworld.Role `json:"roles"`
	}
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.ExpiresAt <= 0 || len(req.Roles) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "expiresAt and roles are required"})
		return
	}
	h.call(w, r, func(ctx context.Context, room *worldapp.Room) (any, error) {
		return map[string]any{"status": "ok"}, room.InitRealm(ctx, req.ExpiresAt, req.Roles)
	})
}

func (h *Handler) realmStats(w http.ResponseWriter, r *http.Request) {
	h.call(w, r, func(_ context.Context, room *worldapp.Room) (any, error) {
		return room.Stats(), nil
	})
}

func (h *Handler) endRealm(w http.ResponseWriter, r *http.Request) {
	h.call(w, r, func(ctx context.Context, room *worldapp.Room) (any, error) {
		return map[string]any{"status": "ended"}, room.EndRealm(ctx)
	})
}

func (h *Handler) playerRealm(w http.ResponseWriter, r *http.Request) {
	playerID, ok := requireQuery(w, r, "playerId")
	if !ok {
		return
	}
	h.call(w, r, func(ctx context.Context, room *worldapp.Room) (any, error) {
		pr, found, err := room.LookupPlayerRealm(ctx, playerID)
		if errors.Is(err, worldapp.ErrNotDirectory) {
			return nil, err
		}
		if err != nil {
			h.logger.Warn().Err(err).Msg("directory reload failed, answering from cache")
		}
		if !found {
			return map[string]any{"realmId": nil}, nil
		}
		return map[string]any{"realmId": pr.RealmID, "expiresAt": pr.ExpiresAt}, nil
	})
}

func (h *Handler) trackPlayerRealm(w http.ResponseWriter, r *http.Request) {
	playerID, ok := requireQuery(w, r, "playerId")
	if !ok {
		return
	}
	realmID, ok := requireQuery(w, r, "realmId")
	if !ok {
		return
	}
	expiresAt, err := strconv.ParseInt(r.URL.Query().Get("expiresAt"), 10, 64)
	if err != nil || expiresAt <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "expiresAt must be a positive integer"})
		return
	}
	h.call(w, r, func(ctx context.Context, room *worldapp.Room) (any, error) {
		return map[string]any{"status": "ok"}, room.TrackPlayerRealm(ctx, playerID, realmID, expiresAt)
	})
}

func (h *Handler) clearPlayerRealm(w http.ResponseWriter, r *http.Request) {
	playerID, ok := requireQuery(w, r, "playerId")
	if !ok {
		return
	}
	h.call(w, r, func(ctx context.Context, room *worldapp.Room) (any, error) {
		return map[string]any{"status": "ok"}, room.ClearPlayerRealm(ctx, playerID)
	})
}

func (h *Handler) clearRealmPlayers(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlayerIDs []string `json:"playerIds"`
	}
	if !h.decodeBody(w, r, &req) {
		return
	}
	h.call(w, r, func(ctx context.Context, room *worldapp.Room) (any, error) {
		return map[string]any{"status": "ok", "cleared": len(req.PlayerIDs)}, room.ClearRealmPlayers(ctx, req.PlayerIDs)
	})
}

// call runs op on the addressed room and writes its result.
func (h *Handler) call(w http.ResponseWriter, r *http.Request, op rooms.Op) {
	roomID := chiRoomID(r)
	res, err := h.rooms.Call(r.Context(), roomID, op)
	if err != nil {
		switch {
		case errors.Is(err, worldapp.ErrNotRealm), errors.Is(err, worldapp.ErrNotDirectory):
			writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
		default:
			h.logger.Error().Err(err).Str("room", roomID).Msg("internal room call failed")
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) internalOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.auth.CheckInternal(r.Header.Get(peer.SecretHeader)); err != nil {
			writeJSON(w, http.StatusForbidden, map[string]any{"error": "forbidden"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) roomID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chiRoomID(r)
		if !validRoomID(id) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid room id"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func chiRoomID(r *http.Request) string {
	return chi.URLParam(r, "roomID")
}

func validRoomID(id string) bool {
	if id == "" || len(id) > maxRoomIDLength {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

func requireQuery(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": key + " is required"})
		return "", false
	}
	return v, true
}

func (h *Handler) cors(next http.Handler) http.Handler {
	origin := h.corsOrigin
	if origin == "" {
		origin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
