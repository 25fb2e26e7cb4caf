package world

// Timestamps are unix milliseconds throughout; they travel to clients unchanged.

const (
	BossOwnerID = "boss"

	PlotEmpty   = 0
	PlotPlanted = 1
	PlotWatered = 2
	PlotReady   = 3
)

type Role string

const (
	RoleNone   Role = ""
	RoleFisher Role = "fisher"
	RoleKeeper Role = "keeper"
)

type PickupKind string

const (
	PickupCoin      PickupKind = "coin"
	PickupEquipment PickupKind = "equipment"
)

type WildlifeState string

const (
	WildlifeRoaming WildlifeState = "roaming"
	WildlifeStopped WildlifeState = "stopped"
	WildlifeFleeing WildlifeState = "fleeing"
)

type PlayerState struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Gender       string  `json:"gender"`
	X            float64 `json:"x"`
	Z            float64 `json:"z"`
	Rotation     float64 `json:"rotation"`
	Alive        bool    `json:"isAlive"`
	DeathTime    int64   `json:"deathTime,omitempty"`
	Weapon       string  `json:"weapon,omitempty"`
	Role         Role    `json:"realmRole,omitempty"`
	IsActing     bool    `json:"isActing"`
	ActionType   string  `json:"actionType,omitempty"`
	ActionPlotID int     `json:"actionPlotId"`
	ActionStart  int64   `json:"actionStartTime,omitempty"`
	CarryingFish bool    `json:"carryingFish,omitempty"`
}

type LedgerEntry struct {
	Name   string `json:"name"`
	Damage int    `json:"damage"`
}

// BossState is both the snapshot sent to clients and the persisted record.
type BossState struct {
	X            float64                `json:"x"`
	Z            float64                `json:"z"`
	Rotation     float64                `json:"rotation"`
	Health       int                    `json:"health"`
	MaxHealth    int                    `json:"maxHealth"`
	Alive        bool                   `json:"isAlive"`
	TargetID     string                 `json:"targetId,omitempty"`
	Attackers    []string               `json:"attackers,omitempty"`
	Ledger       map[string]LedgerEntry `json:"damageLedger,omitempty"`
	Charging     bool                   `json:"isCharging"`
	ChargeStart  int64                  `json:"chargeStartTime,omitempty"`
	LastChargeAt int64                  `json:"lastChargeTime,omitempty"`
	DiedAt       int64                  `json:"diedAt,omitempty"`
}

type Projectile struct {
	ID        string  `json:"id"`
	X         float64 `json:"x"`
	Z         float64 `json:"z"`
	VX        float64 `json:"vx"`
	VZ        float64 `json:"vz"`
	OwnerID   string  `json:"ownerId"`
	CreatedAt int64   `json:"createdAt"`
	Speed     float64 `json:"speed"`
}

func (p Projectile) FromBoss() bool {
	return p.OwnerID == BossOwnerID
}

type Pickup struct {
	ID          string     `json:"id"`
	X           float64    `json:"x"`
	Z           float64    `json:"z"`
	Kind        PickupKind `json:"kind"`
	Value       int64      `json:"value,omitempty"`
	Item        string     `json:"item,omitempty"`
	RecipientID string     `json:"playerId"`
	CreatedAt   int64      `json:"createdAt"`
}

type FarmPlot struct {
	ID        int    `json:"id"`
	Stage     int    `json:"stage"`
	PlanterID string `json:"planterId,omitempty"`
	WateredAt int64  `json:"wateredAt,omitempty"`
}

type Wildlife struct {
	ID                string        `json:"id"`
	Kind              string        `json:"kind"`
	X                 float64       `json:"x"`
	Z                 float64       `json:"z"`
	Rotation          float64       `json:"rotation"`
	State             WildlifeState `json:"state"`
	StateUntil        int64         `json:"-"`
	FleeCooldownUntil int64         `json:"-"`
}

type PondNode struct {
	ID     int     `json:"id"`
	X      float64 `json:"x"`
	Z      float64 `json:"z"`
	Active bool    `json:"active"`
}

type PondState struct {
	Nodes         []PondNode `json:"nodes"`
	ActiveNode    int        `json:"activeNode"`
	FishDelivered int        `json:"fishDelivered"`
}

// RealmConfig is pushed by the directory before any client connects to a realm.
type RealmConfig struct {
	RealmID   string          `json:"realmId"`
	ExpiresAt int64           `json:"expiresAt"`
	Roles     map[string]Role `json:"roles"`
}

func (c RealmConfig) Expired(now int64) bool {
	return now >= c.ExpiresAt
}

// Location is the per-player durable record kept in the room store.
type Location struct {
	X        float64 `json:"x"`
	Z        float64 `json:"z"`
	Rotation float64 `json:"rotation"`
	Weapon   string  `json:"weapon,omitempty"`
}

type WaitingPlayer struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Ready    bool   `json:"ready"`
	JoinedAt int64  `json:"joinedAt"`
}

type WorldUpdate struct {
	Type        string        `json:"type"`
	Timestamp   int64         `json:"timestamp"`
	Boss        *BossState    `json:"dragon,omitempty"`
	Projectiles []Projectile  `json:"projectiles,omitempty"`
	Pickups     []Pickup      `json:"pickups,omitempty"`
	Wildlife    []Wildlife    `json:"wildlife,omitempty"`
	Crops       []FarmPlot    `json:"farmPlots,omitempty"`
	Players     []PlayerState `json:"players"`
	RealmCount  int           `json:"activeRealms"`
	Pond        *PondState    `json:"pond,omitempty"`
	ExpiresAt   int64         `json:"expiresAt,omitempty"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RealmStats is what a realm room reports to the directory when polled.
type RealmStats struct {
	RoomID        string `json:"roomId"`
	Configured    bool   `json:"configured"`
	ActivePlayers int    `json:"activePlayers"`
	ExpiresAt     int64  `json:"expiresAt"`
}
