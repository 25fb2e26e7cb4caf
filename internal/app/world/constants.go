package world

const (
	WorldBounds = 25.0

	bossMaxHealth       = 10
	bossSpawnX          = 0.0
	bossSpawnZ          = 10.0
	bossSpeed           = 0.15
	bossMeleeRange      = 4.0
	bossAttackRange     = 18.0
	bossChargeCooldown  = 4000
	bossChargeDelay     = 1000
	bossFireOffset      = 3.0
	bossRespawnDelay    = 60_000
	bossHitRadius       = 2.5
	bossProjectileSpeed = 0.8

	playerProjectileSpeed = 1.5
	playerFireOffset      = 1.0
	playerHitRadius       = 1.0
	playerRespawnDelay    = 5000
	shootCooldown         = 400
	projectileTTL         = 3000

	pickupLifetime     = 60_000
	pickupCollectRange = 5.0
	pickupScatter      = 3.0
	lootWeapon         = "dragon_staff"
	lootMinCoins       = 1
	lootMaxCoins       = 3
	lootMinValue       = 5
	lootMaxValue       = 15

	plotCount      = 9
	growDuration   = 30_000
	actionLockout  = 1500
	harvestReward  = 3
	plotActionDist = 6.0

	wildlifeCount        = 5
	wildlifeFleeRadius   = 6.0
	wildlifeFleeCooldown = 4000
	wildlifeFleeTime     = 1500
	wildlifeFleeSpeed    = 0.4
	wildlifeRoamSpeed    = 0.1

	fishingRange    = 3.0
	fishingDuration = 3000
	passRange       = 3.0
	passDuration    = 2000

	sweepChance = 0.01
)
