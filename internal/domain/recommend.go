package domain

import (
	"sort"
	"time"
)

// Recommendation es una sugerencia de flip calculada upstream.
// El core no decide qué recomendar; solo recibe la lista ya puntuada.
type Recommendation struct {
	ItemID       int     `json:"item_id"`
	ItemName     string  `json:"item_name"`
	BuyPrice     int     `json:"buy_price"`
	SellPrice    int     `json:"sell_price"`
	Quantity     int     `json:"quantity"`
	HourlyVolume float64 `json:"hourly_volume"` // trade velocity, units filled per hour
}

// SortByVelocity orders recommendations ascending by hourly volume, so the
// slowest-filling items are committed first and illiquid capital starts
// working earliest.
func SortByVelocity(recs []Recommendation) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].HourlyVolume < recs[j].HourlyVolume
	})
}

// FocusedFlip is what the UI layer should pre-fill in the GE interface:
// either the next recommended buy or the sell step for a collected item.
type FocusedFlip struct {
	ItemID   int
	ItemName string
	IsBuy    bool
	Quantity int
	Price    int
}

// OfferSnapshot is the persisted slot state written at logout and diffed
// against live state on the next login to detect offline fills.
type OfferSnapshot struct {
	Offers  map[int]TrackedOffer `json:"offers"` // slot → offer
	SavedAt time.Time            `json:"saved_at"`
}

// AutoRecommendSnapshot persists the sequencer across restarts. Snapshots
// older than the configured staleness window are discarded rather than
// restored.
type AutoRecommendSnapshot struct {
	Active       bool             `json:"active"`
	Queue        []Recommendation `json:"queue"`
	CurrentIndex int              `json:"current_index"`
	SavedAt      time.Time        `json:"saved_at"`
}
