package session

import (
	"sync"
	"time"

	"github.com/alejandrodnm/geflip/internal/domain"
)

// Session is the authoritative in-memory state for one logged-in player:
// tracked GE slots, collected items awaiting sale, recommended sell prices
// and the stale-notification set. All methods are internally synchronized;
// the maps are never exposed for external mutation — accessors return copies.
//
// Both the game tick thread and network completion goroutines mutate the
// session concurrently, hence the coarse lock.
type Session struct {
	mu sync.Mutex

	identity      string
	offers        map[int]domain.TrackedOffer // slot → offer, len ≤ domain.GESlots
	collected     map[int]int                 // itemID → quantity bought and withdrawn, not yet re-listed
	sellPrices    map[int]int                 // itemID → recommended sell price
	staleNotified map[int]struct{}            // itemIDs already flagged as slow-filling
	syncDone      bool                        // offline reconciliation ran for this login
}

// New crea una sesión vacía para la identidad dada.
func New(identity string) *Session {
	return &Session{
		identity:      identity,
		offers:        make(map[int]domain.TrackedOffer),
		collected:     make(map[int]int),
		sellPrices:    make(map[int]int),
		staleNotified: make(map[int]struct{}),
	}
}

// Identity returns the player identity this session belongs to.
func (s *Session) Identity() string {
	return s.identity
}

// --- tracked offers ---

// Offer returns the tracked offer for a slot, if any.
func (s *Session) Offer(slot int) (domain.TrackedOffer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[slot]
	return o, ok
}

// SetOffer stores (replacing) the tracked offer for its slot. Out-of-range
// slots are ignored.
func (s *Session) SetOffer(o domain.TrackedOffer) {
	if o.Slot < 0 || o.Slot >= domain.GESlots {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers[o.Slot] = o
}

// RemoveOffer drops the tracked offer for a slot, returning it if present.
func (s *Session) RemoveOffer(slot int) (domain.TrackedOffer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[slot]
	if ok {
		delete(s.offers, slot)
	}
	return o, ok
}

// Offers returns a copy of the slot map.
func (s *Session) Offers() map[int]domain.TrackedOffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]domain.TrackedOffer, len(s.offers))
	for slot, o := range s.offers {
		out[slot] = o
	}
	return out
}

// OfferCount returns how many slots are occupied.
func (s *Session) OfferCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.offers)
}

// HasFreeSlot reports whether at least one of the GE slots is unoccupied.
func (s *Session) HasFreeSlot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.offers) < domain.GESlots
}

// HasOfferForItem reports whether any slot currently trades the item.
func (s *Session) HasOfferForItem(itemID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.offers {
		if o.ItemID == itemID {
			return true
		}
	}
	return false
}

// HasSellOffer reports whether a sell offer for the item is already in a slot.
func (s *Session) HasSellOffer(itemID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.offers {
		if o.ItemID == itemID && !o.IsBuy {
			return true
		}
	}
	return false
}

// --- collected items ---

// AddCollected credits quantity units of an item awaiting sale.
// Non-positive quantities are ignored.
func (s *Session) AddCollected(itemID, quantity int) {
	if quantity <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collected[itemID] += quantity
}

// ReduceCollected debits up to quantity units, deleting the entry at zero.
func (s *Session) ReduceCollected(itemID, quantity int) {
	if quantity <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	left := s.collected[itemID] - quantity
	if left <= 0 {
		delete(s.collected, itemID)
		return
	}
	s.collected[itemID] = left
}

// Collected returns the quantity of an item awaiting sale.
func (s *Session) Collected(itemID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collected[itemID]
}

// CollectedItems returns a copy of the collected map.
func (s *Session) CollectedItems() map[int]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]int, len(s.collected))
	for id, q := range s.collected {
		out[id] = q
	}
	return out
}

// RestoreCollected seeds the collected map from a persisted blob.
func (s *Session) RestoreCollected(items map[int]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, q := range items {
		if q > 0 {
			s.collected[id] += q
		}
	}
}

// --- recommended sell prices ---

// SetSellPrice stores the recommended sell price for an item.
func (s *Session) SetSellPrice(itemID, price int) {
	if price <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sellPrices[itemID] = price
}

// SellPrice returns the recommended sell price for an item, if known.
func (s *Session) SellPrice(itemID int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.sellPrices[itemID]
	return p, ok
}

// ClearSellPrice drops the recommended sell price entry for an item.
func (s *Session) ClearSellPrice(itemID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sellPrices, itemID)
}

// --- stale-offer notifications ---

// MarkStaleNotified records that the item was flagged as slow-filling.
// Returns false if it was already flagged this activation cycle.
func (s *Session) MarkStaleNotified(itemID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.staleNotified[itemID]; seen {
		return false
	}
	s.staleNotified[itemID] = struct{}{}
	return true
}

// ResetStaleNotified clears the stale-notification set (queue refresh).
func (s *Session) ResetStaleNotified() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staleNotified = make(map[int]struct{})
}

// --- offline sync gate ---

// MarkSyncDone flips the once-per-login reconciliation gate.
// Returns false if reconciliation already ran for this session.
func (s *Session) MarkSyncDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncDone {
		return false
	}
	s.syncDone = true
	return true
}

// SyncDone reports whether offline reconciliation already ran.
func (s *Session) SyncDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncDone
}

// --- persistence ---

// Snapshot produces the serializable slot state saved at logout.
func (s *Session) Snapshot() domain.OfferSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	offers := make(map[int]domain.TrackedOffer, len(s.offers))
	for slot, o := range s.offers {
		offers[slot] = o
	}
	return domain.OfferSnapshot{Offers: offers, SavedAt: time.Now().UTC()}
}

// Clear wipes all session state (logout).
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers = make(map[int]domain.TrackedOffer)
	s.collected = make(map[int]int)
	s.sellPrices = make(map[int]int)
	s.staleNotified = make(map[int]struct{})
	s.syncDone = false
}
