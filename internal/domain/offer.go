package domain

import (
	"math"
	"time"
)

// GESlots is the fixed number of concurrent Grand Exchange trade slots per player.
const GESlots = 8

// geTax is the fraction of the sale price the seller keeps after GE tax.
const geTax = 0.98

// OfferState is the slot state reported by the game client on every change.
type OfferState int

const (
	OfferEmpty OfferState = iota
	OfferActive
	OfferComplete
	OfferCancelled
)

// String devuelve el nombre legible del estado.
func (s OfferState) String() string {
	switch s {
	case OfferEmpty:
		return "EMPTY"
	case OfferActive:
		return "ACTIVE"
	case OfferComplete:
		return "COMPLETE"
	case OfferCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// TrackedOffer is the observed state of one occupied GE slot. Offers are
// replaced, never mutated: every state change produces a new value that
// preserves CreatedAt (and CompletedAt once set).
type TrackedOffer struct {
	Slot          int       `json:"slot"`
	ItemID        int       `json:"item_id"`
	ItemName      string    `json:"item_name"`
	IsBuy         bool      `json:"is_buy"`
	TotalQuantity int       `json:"total_quantity"`
	Price         int       `json:"price"`         // gp per unit at which the offer was placed
	QuantitySold  int       `json:"quantity_sold"` // cumulative fill observed so far
	CreatedAt     time.Time `json:"created_at"`
	CompletedAt   time.Time `json:"completed_at"` // zero until fully filled
}

// Completed devuelve true si la oferta se llenó por completo.
func (o TrackedOffer) Completed() bool {
	return !o.CompletedAt.IsZero()
}

// Remaining returns the unfilled quantity.
func (o TrackedOffer) Remaining() int {
	r := o.TotalQuantity - o.QuantitySold
	if r < 0 {
		return 0
	}
	return r
}

// Age returns how long the offer has been sitting in its slot.
func (o TrackedOffer) Age() time.Duration {
	if o.CreatedAt.IsZero() {
		return 0
	}
	return time.Since(o.CreatedAt)
}

// WithFill returns a copy of the offer carrying the new cumulative fill.
// CreatedAt is preserved; completedAt is stamped only on the first observed
// completion.
func (o TrackedOffer) WithFill(quantitySold int, completedAt time.Time) TrackedOffer {
	next := o
	next.QuantitySold = quantitySold
	if next.CompletedAt.IsZero() {
		next.CompletedAt = completedAt
	}
	return next
}

// OfferEvent is one slot-state-change notification from the game client.
// Duplicate delivery (especially of cancellations) must be tolerated by
// consumers; out-of-order delivery for the same slot is not expected.
type OfferEvent struct {
	Slot          int        `json:"slot"`
	State         OfferState `json:"state"`
	ItemID        int        `json:"item_id"`
	ItemName      string     `json:"item_name"`
	IsBuy         bool       `json:"is_buy"`
	QuantitySold  int        `json:"quantity_sold"`
	TotalQuantity int        `json:"total_quantity"`
	Price         int        `json:"price"`       // offer price per unit
	SpentTotal    int        `json:"spent_total"` // gp transferred for the fills so far
}

// FillPrice returns the realised per-unit price of the fills so far.
// Falls back to the offer price when no fills are reported.
func (e OfferEvent) FillPrice() int {
	if e.QuantitySold <= 0 {
		return e.Price
	}
	return e.SpentTotal / e.QuantitySold
}

// Transaction is one record pushed to the ledger service. ID is a
// client-generated UUID so the backend can dedupe resends.
type Transaction struct {
	ID                   string    `json:"id"`
	ItemID               int       `json:"item_id"`
	ItemName             string    `json:"item_name"`
	IsBuy                bool      `json:"is_buy"`
	Quantity             int       `json:"quantity"`
	PricePerUnit         int       `json:"price_per_unit"`
	Slot                 int       `json:"slot"` // -1 when the slot is unknown
	RecommendedSellPrice int       `json:"recommended_sell_price,omitempty"`
	TotalQuantity        int       `json:"total_quantity,omitempty"`
	Time                 time.Time `json:"time"`
}

// ActiveFlip is a backend-tracked record spanning the buy and sell side of
// one trade cycle for an item.
type ActiveFlip struct {
	ItemID    int    `json:"item_id"`
	ItemName  string `json:"item_name"`
	BuyPrice  int    `json:"buy_price"`
	Quantity  int    `json:"quantity"`
	SellPrice int    `json:"sell_price,omitempty"`
	Selling   bool   `json:"selling"`
}

// MinProfitableSellPrice returns the lowest sell price that still breaks even
// after GE tax on an item bought at buyPrice: ceil((buyPrice+1) / 0.98).
// Used as fallback when a collected buy has no recommended sell price.
func MinProfitableSellPrice(buyPrice int) int {
	if buyPrice < 0 {
		return 0
	}
	return int(math.Ceil(float64(buyPrice+1) / geTax))
}

// PostTaxPrice returns the gp the seller receives per unit at sellPrice.
func PostTaxPrice(sellPrice int) int {
	return int(math.Floor(float64(sellPrice) * geTax))
}
