package economy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"farmrealm-server/internal/domain/player"
	"farmrealm-server/internal/platform/mq"
)

var (
	ErrNotFound          = errors.New("player not found")
	ErrInsufficientFunds = errors.New("insufficient coins")
	ErrMissingItem       = errors.New("missing item")
	ErrUnknownItem       = errors.New("unknown item")
	ErrInvalidGender     = errors.New("invalid gender")
)

const (
	scoresCacheKey = "farmrealm:scores:top"
	scoresLimit    = 10
)

// Service is the relational store behind every economy action. Rooms call it off their actor
// goroutine and re-read from it before every mutation.
type Service struct {
	db       *pgxpool.Pool
	cache    *redis.Client
	cacheTTL time.Duration
	pub      mq.Publisher
}

func NewService(db *pgxpool.Pool, cache *redis.Client, cacheTTL time.Duration, pub mq.Publisher) *Service {
	return &Service{db: db, cache: cache, cacheTTL: cacheTTL, pub: pub}
}

// EnsureProfile creates the player row on first sight and returns the current profile.
func (s *Service) EnsureProfile(ctx context.Context, playerID, firstName string) (player.Profile, error) {
	var inserted bool
	err := s.db.QueryRow(ctx, `
INSERT INTO players (id, first_name)
VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET first_name = EXCLUDED.first_name, last_seen_at = NOW()
RETURNING (xmax = 0)
`, playerID, firstName).Scan(&inserted)
	if err != nil {
		return player.Profile{}, fmt.Errorf("upsert player: %w", err)
	}
	if inserted {
		_ = mq.PublishJSON(ctx, s.pub, "players.created", map[string]any{"player_id": playerID})
	}
	return s.Profile(ctx, playerID)
}

func (s *Service) Profile(ctx context.Context, playerID string) (player.Profile, error) {
	var p player.Profile
	var custom, weapon *string
	err := s.db.QueryRow(ctx, `
SELECT id, first_name, custom_name, gender, coins, weapon, created_at
FROM players WHERE id = $1
`, playerID).Scan(&p.ID, &p.FirstName, &custom, &p.Gender, &p.Coins, &weapon, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return player.Profile{}, ErrNotFound
		}
		return player.Profile{}, fmt.Errorf("query player: %w", err)
	}
	if custom != nil {
		p.CustomName = *custom
	}
	if weapon != nil {
		p.Weapon = *weapon
	}

	rows, err := s.db.Query(ctx, `SELECT item_id, quantity FROM inventory WHERE player_id = $1 AND quantity > 0`, playerID)
	if err != nil {
		return player.Profile{}, fmt.Errorf("query inventory: %w", err)
	}
	defer rows.Close()
	p.Items = make(map[string]int)
	for rows.Next() {
		var id string
		var qty int
		if err := rows.Scan(&id, &qty); err != nil {
			return player.Profile{}, fmt.Errorf("scan inventory: %w", err)
		}
		p.Items[id] = qty
	}
	if err := rows.Err(); err != nil {
		return player.Profile{}, fmt.Errorf("iterate inventory: %w", err)
	}
	return p, nil
}

// Purchase debits the price and grants one unit in a single transaction.
func (s *Service) Purchase(ctx context.Context, playerID, itemID string) (int64, error) {
	price, err := PriceOf(itemID)
	if err != nil {
		return 0, err
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin purchase: %w", err)
	}
	defer tx.Rollback(ctx)

	var coins int64
	if err := tx.QueryRow(ctx, `SELECT coins FROM players WHERE id = $1 FOR UPDATE`, playerID).Scan(&coins); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("lock player: %w", err)
	}
	if coins < price {
		return coins, ErrInsufficientFunds
	}
	if err := tx.QueryRow(ctx, `UPDATE players SET coins = coins - $1 WHERE id = $2 RETURNING coins`, price, playerID).Scan(&coins); err != nil {
		return 0, fmt.Errorf("debit coins: %w", err)
	}
	if err := grant(ctx, tx, playerID, itemID, 1); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit purchase: %w", err)
	}
	s.invalidateScores(ctx)
	return coins, nil
}

// ConsumeItem removes one unit, failing with ErrMissingItem when the player holds none.
func (s *Service) ConsumeItem(ctx context.Context, playerID, itemID string) error {
	tag, err := s.db.Exec(ctx, `
UPDATE inventory SET quantity = quantity - 1
WHERE player_id = $1 AND item_id = $2 AND quantity > 0
`, playerID, itemID)
	if err != nil {
		return fmt.Errorf("consume %s: %w", itemID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMissingItem
	}
	return nil
}

func (s *Service) GrantItem(ctx context.Context, playerID, itemID string, qty int) error {
	return grant(ctx, s.db, playerID, itemID, qty)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func grant(ctx context.Context, db execer, playerID, itemID string, qty int) error {
	if _, err := db.Exec(ctx, `
INSERT INTO inventory (player_id, item_id, quantity)
VALUES ($1, $2, $3)
ON CONFLICT (player_id, item_id) DO UPDATE SET quantity = inventory.quantity + EXCLUDED.quantity
`, playerID, itemID, qty); err != nil {
		return fmt.Errorf("grant %s: %w", itemID, err)
	}
	return nil
}

// AddCoins applies delta and returns the new balance.
func (s *Service) AddCoins(ctx context.Context, playerID string, delta int64) (int64, error) {
	var coins int64
	err := s.db.QueryRow(ctx, `UPDATE players SET coins = coins + $1 WHERE id = $2 RETURNING coins`, delta, playerID).Scan(&coins)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("add coins: %w", err)
	}
	s.invalidateScores(ctx)
	return coins, nil
}

func (s *Service) SetWeapon(ctx context.Context, playerID, weapon string) error {
	if _, err := s.db.Exec(ctx, `UPDATE players SET weapon = $1 WHERE id = $2`, weapon, playerID); err != nil {
		return fmt.Errorf("set weapon: %w", err)
	}
	return nil
}

func (s *Service) SetGender(ctx context.Context, playerID, gender string) error {
	gender = strings.ToLower(strings.TrimSpace(gender))
	if gender != "male" && gender != "female" {
		return ErrInvalidGender
	}
	if _, err := s.db.Exec(ctx, `UPDATE players SET gender = $1 WHERE id = $2`, gender, playerID); err != nil {
		return fmt.Errorf("set gender: %w", err)
	}
	return nil
}

func (s *Service) RecordSession(ctx context.Context, st player.SessionStats) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO session_analytics
    (player_id, room_id, started_at, ended_at, duration_ms, coins_earned,
     shots, plants, waters, harvests, purchases, pickups, fish_caught, fish_passed)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
`, st.PlayerID, st.RoomID, st.StartedAt, st.EndedAt, st.Duration().Milliseconds(), st.CoinsEarned,
		st.Shots, st.Plants, st.Waters, st.Harvests, st.Purchases, st.Pickups, st.FishCaught, st.FishPassed)
	if err != nil {
		return fmt.Errorf("insert session analytics: %w", err)
	}
	return nil
}

// TopScores returns the richest players, served from redis when fresh.
func (s *Service) TopScores(ctx context.Context) ([]player.Score, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, scoresCacheKey).Result()
		if err == nil {
			var scores []player.Score
			if uErr := json.Unmarshal([]byte(cached), &scores); uErr == nil {
				return scores, nil
			}
		}
	}

	rows, err := s.db.Query(ctx, `
SELECT id, COALESCE(NULLIF(custom_name, ''), first_name), coins
FROM players ORDER BY coins DESC, id ASC LIMIT $1
`, scoresLimit)
	if err != nil {
		return nil, fmt.Errorf("query scores: %w", err)
	}
	defer rows.Close()

	scores := make([]player.Score, 0, scoresLimit)
	for rows.Next() {
		var sc player.Score
		if err := rows.Scan(&sc.PlayerID, &sc.Name, &sc.Coins); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		scores = append(scores, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scores: %w", err)
	}
	if s.cache != nil {
		if b, err := json.Marshal(scores); err == nil {
			_ = s.cache.Set(ctx, scoresCacheKey, b, s.cacheTTL).Err()
		}
	}
	return scores, nil
}

func (s *Service) invalidateScores(ctx context.Context) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Del(ctx, scoresCacheKey).Err()
}
