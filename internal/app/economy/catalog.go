package economy

const (
	ItemWheatSeeds  = "wheat_seeds"
	ItemWaterBucket = "water_bucket"
	ItemWheat       = "wheat"
	ItemDragonStaff = "dragon_staff"
)

type Item struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Price       int64  `json:"price"`
	Purchasable bool   `json:"purchasable"`
	Equipment   bool   `json:"equipment"`
}

var catalog = map[string]Item{
	ItemWheatSeeds:  {ID: ItemWheatSeeds, Name: "Wheat Seeds", Price: 5, Purchasable: true},
	ItemWaterBucket: {ID: ItemWaterBucket, Name: "Water Bucket", Price: 2, Purchasable: true},
	ItemWheat:       {ID: ItemWheat, Name: "Wheat"},
	ItemDragonStaff: {ID: ItemDragonStaff, Name: "Dragon Staff", Equipment: true},
}

func LookupItem(id string) (Item, bool) {
	it, ok := catalog[id]
	return it, ok
}

// PriceOf returns the purchase price, or ErrUnknownItem for anything the shop does not sell.
func PriceOf(id string) (int64, error) {
	it, ok := catalog[id]
	if !ok || !it.Purchasable {
		return 0, ErrUnknownItem
	}
	return it.Price, nil
}
