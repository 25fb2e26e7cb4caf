package player

import "time"

// Profile is the relational record of a player. Coins and inventory are authoritative here, never
// in room memory.
type Profile struct {
	ID         string         `json:"id"`
	FirstName  string         `json:"first_name"`
	CustomName string         `json:"custom_name,omitempty"`
	Gender     string         `json:"gender"`
	Coins      int64          `json:"coins"`
	Weapon     string         `json:"weapon,omitempty"`
	Items      map[string]int `json:"items"`
	CreatedAt  time.Time      `json:"created_at"`
}

// DisplayName prefers the custom name over the first name.
func (p Profile) DisplayName() string {
	if p.CustomName != "" {
		return p.CustomName
	}
	if p.FirstName != "" {
		return p.FirstName
	}
	return "Adventurer"
}

func (p Profile) Has(itemID string, qty int) bool {
	return p.Items[itemID] >= qty
}

// SessionStats is one socket's worth of analytics, written once when the socket closes.
type SessionStats struct {
	PlayerID    string    `json:"player_id"`
	RoomID      string    `json:"room_id"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	CoinsEarned int64     `json:"coins_earned"`
	Shots       int       `json:"shots"`
	Plants      int       `json:"plants"`
	Waters      int       `json:"waters"`
	Harvests    int       `json:"harvests"`
	Purchases   int       `json:"purchases"`
	Pickups     int       `json:"pickups"`
	FishCaught  int       `json:"fish_caught"`
	FishPassed  int       `json:"fish_passed"`
}

func (s SessionStats) Duration() time.Duration {
	return s.EndedAt.Sub(s.StartedAt)
}

type Score struct {
	PlayerID string `json:"id"`
	Name     string `json:"name"`
	Coins    int64  `json:"coins"`
}
