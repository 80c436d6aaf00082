// Package sequencer drives the auto-recommend flow: walk a velocity-sorted
// queue of recommendations, focus buys while marketplace slots are free, and
// switch focus to the sell step as buys are collected.
package sequencer

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/geflip/internal/application/session"
	"github.com/alejandrodnm/geflip/internal/domain"
	"github.com/alejandrodnm/geflip/internal/ports"
)

const defaultInactiveAfter = 5 * time.Minute

// Sequencer is a cooperative state machine layered on the session, not a
// separate goroutine: it only acts inside the lifecycle notifications the
// reconciler delivers and the periodic maintenance calls from the host loop.
// Its own mutex serializes tick-thread events against async completion
// callbacks; it is always acquired before the session's.
type Sequencer struct {
	mu      sync.Mutex
	session *session.Session
	hooks   ports.UIHooks

	active bool
	queue  []domain.Recommendation
	index  int

	inactiveAfter time.Duration
	lastRefresh   time.Time
}

// New builds an inactive sequencer. inactiveAfter is the age past which a
// zero-progress buy is flagged as stale; zero selects the default.
func New(sess *session.Session, hooks ports.UIHooks, inactiveAfter time.Duration) *Sequencer {
	if inactiveAfter <= 0 {
		inactiveAfter = defaultInactiveAfter
	}
	return &Sequencer{
		session:       sess,
		hooks:         hooks,
		inactiveAfter: inactiveAfter,
	}
}

// Active reports whether the sequencer is currently driving focus.
func (q *Sequencer) Active() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Start activates the sequencer over the given recommendations. Items that
// are already working (in a slot or sitting collected) are filtered out; the
// rest are sorted slowest-filling first so illiquid capital is committed
// earliest.
func (q *Sequencer) Start(recs []domain.Recommendation) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.queue = q.filterWorking(recs)
	domain.SortByVelocity(q.queue)
	q.index = 0
	q.active = true
	q.lastRefresh = time.Now().UTC()
	q.session.ResetStaleNotified()

	slog.Info("sequencer: started", "queued", len(q.queue))
	q.focusNext()
}

// Stop deactivates the sequencer, clears its queue and drops any focus it
// was holding in the UI.
func (q *Sequencer) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.active {
		return
	}
	q.active = false
	q.queue = nil
	q.index = 0
	q.session.ResetStaleNotified()

	slog.Info("sequencer: stopped")
	q.focus(nil)
	q.status("auto-recommend stopped")
}

// OnBuyOrderPlaced reacts to the focused buy actually hitting a slot: the
// recommended sell price is stored for the eventual sell step, the cursor
// advances and the next buyable item is focused.
func (q *Sequencer) OnBuyOrderPlaced(itemID int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.active {
		return
	}
	// The item just hit a slot, so it already counts as working; match
	// against the raw cursor entry rather than current(), which skips
	// working items.
	if q.index >= len(q.queue) || q.queue[q.index].ItemID != itemID {
		// Manually placed order outside the queue; not ours to advance on.
		return
	}
	rec := q.queue[q.index]

	q.session.SetSellPrice(itemID, rec.SellPrice)
	q.index++
	slog.Info("sequencer: buy placed, advancing", "item", rec.ItemName, "index", q.index)
	q.advanced()
	q.focusNext()
}

// OnBuyOrderCompleted is informational; the focus change happens when the
// offer is collected and the items are actually in hand.
func (q *Sequencer) OnBuyOrderCompleted(itemID int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.active {
		return
	}
	q.status("buy complete — collect the offer")
}

// OnOfferCollected focuses the sell step for a collected buy, or falls back
// to the next buy when there is nothing to sell.
func (q *Sequencer) OnOfferCollected(itemID int, wasBuy bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.active {
		return
	}
	if wasBuy && q.focusSellFor(itemID) {
		return
	}
	q.focusNext()
}

// OnSellOrderPlaced re-evaluates the focus: the session has dropped the
// recommended price for this item already, so the next step is either another
// buy (if slots are free) or the next pending sell.
func (q *Sequencer) OnSellOrderPlaced(itemID int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.active {
		return
	}
	q.advanced()
	q.focusNext()
}

// OnSellOrderCompleted is purely a status update.
func (q *Sequencer) OnSellOrderCompleted(itemID int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.active {
		return
	}
	q.status("sell complete — collect the profit")
}

// OnOfferCancelled re-evaluates focus after a cancellation freed a slot or
// returned items to the collected pool.
func (q *Sequencer) OnOfferCancelled(itemID int, wasBuy bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.active {
		return
	}
	q.focusNext()
}

// RefreshQueue replaces the pending portion of the queue with a fresh,
// re-sorted batch while keeping the currently focused item at position 0, so
// an in-progress buy is never abandoned mid-flight. The stale-notification
// set resets with the new ranking.
func (q *Sequencer) RefreshQueue(recs []domain.Recommendation) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.active {
		return
	}

	focused, hasFocus := q.current()
	fresh := q.filterWorking(recs)
	domain.SortByVelocity(fresh)

	if hasFocus {
		rebuilt := make([]domain.Recommendation, 0, len(fresh)+1)
		rebuilt = append(rebuilt, focused)
		for _, r := range fresh {
			if r.ItemID != focused.ItemID {
				rebuilt = append(rebuilt, r)
			}
		}
		q.queue = rebuilt
	} else {
		q.queue = fresh
	}
	q.index = 0
	q.lastRefresh = time.Now().UTC()
	q.session.ResetStaleNotified()

	slog.Info("sequencer: queue refreshed", "queued", len(q.queue), "kept_focus", hasFocus)
}

// RefreshDue reports whether the ranking is older than maxAge and should be
// rebuilt from the latest recommendation batch. The host's maintenance loop
// consults it between batches; maxAge <= 0 disables the check.
func (q *Sequencer) RefreshDue(maxAge time.Duration) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.active || maxAge <= 0 {
		return false
	}
	return time.Since(q.lastRefresh) > maxAge
}

// CheckInactiveOffers scans tracked buys for zero-progress orders older than
// the inactivity threshold. At most one item is flagged per invocation to
// avoid a notification storm, and each item is only ever flagged once per
// activation cycle.
func (q *Sequencer) CheckInactiveOffers(recs []domain.Recommendation) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.active {
		return
	}

	stillRecommended := make(map[int]bool, len(recs))
	for _, r := range recs {
		stillRecommended[r.ItemID] = true
	}

	offers := q.session.Offers()
	slots := make([]int, 0, len(offers))
	for slot := range offers {
		slots = append(slots, slot)
	}
	sort.Ints(slots)

	for _, slot := range slots {
		o := offers[slot]
		if !o.IsBuy || o.QuantitySold > 0 || o.Age() < q.inactiveAfter {
			continue
		}
		if !q.session.MarkStaleNotified(o.ItemID) {
			continue
		}

		if stillRecommended[o.ItemID] {
			q.status("buy for " + o.ItemName + " is not filling — consider repricing")
		} else {
			q.status("buy for " + o.ItemName + " is not filling and no longer recommended — consider cancelling")
		}
		slog.Info("sequencer: stale buy flagged",
			"item", o.ItemName, "slot", o.Slot, "age", o.Age(), "recommended", stillRecommended[o.ItemID])
		return
	}
}

// Snapshot captures the sequencer for persistence at teardown.
func (q *Sequencer) Snapshot() domain.AutoRecommendSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	queue := make([]domain.Recommendation, len(q.queue))
	copy(queue, q.queue)
	return domain.AutoRecommendSnapshot{
		Active:       q.active,
		Queue:        queue,
		CurrentIndex: q.index,
		SavedAt:      time.Now().UTC(),
	}
}

// Restore resumes from a persisted snapshot. Inactive or stale snapshots are
// discarded and the sequencer stays INACTIVE; the return value reports
// whether a resume happened.
func (q *Sequencer) Restore(snap domain.AutoRecommendSnapshot, maxAge time.Duration) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !snap.Active {
		return false
	}
	if maxAge > 0 && time.Since(snap.SavedAt) > maxAge {
		slog.Info("sequencer: discarding stale snapshot", "saved_at", snap.SavedAt, "max_age", maxAge)
		return false
	}

	q.queue = append([]domain.Recommendation(nil), snap.Queue...)
	q.index = snap.CurrentIndex
	if q.index < 0 {
		q.index = 0
	}
	q.active = true
	q.lastRefresh = time.Now().UTC()

	slog.Info("sequencer: restored", "queued", len(q.queue), "index", q.index)
	q.focusNext()
	return true
}

// current returns the recommendation under the cursor, skipping entries that
// have meanwhile become active through other means (a manual order, a
// restored slot). Advances the cursor past skipped entries.
func (q *Sequencer) current() (domain.Recommendation, bool) {
	for q.index < len(q.queue) {
		rec := q.queue[q.index]
		if !q.working(rec.ItemID) {
			return rec, true
		}
		q.index++
	}
	return domain.Recommendation{}, false
}

// focusNext decides the next focus: a buy while queue entries remain and a
// slot is free, otherwise a pending sell, otherwise a terminal status.
func (q *Sequencer) focusNext() {
	rec, ok := q.current()
	if ok {
		if !q.session.HasFreeSlot() {
			q.status("all slots full — waiting for a collection")
			return
		}
		q.focus(&domain.FocusedFlip{
			ItemID:   rec.ItemID,
			ItemName: rec.ItemName,
			IsBuy:    true,
			Quantity: rec.Quantity,
			Price:    rec.BuyPrice,
		})
		q.status("buy " + rec.ItemName)
		return
	}

	if q.focusNextSell() {
		return
	}
	q.focus(nil)
	q.status("queue exhausted — waiting for sells to finish")
}

// focusSellFor focuses the sell step for one collected item when it has a
// known price and no sell order working yet.
func (q *Sequencer) focusSellFor(itemID int) bool {
	quantity := q.session.Collected(itemID)
	if quantity <= 0 || q.session.HasSellOffer(itemID) {
		return false
	}
	price, ok := q.session.SellPrice(itemID)
	if !ok {
		return false
	}
	if !q.session.HasFreeSlot() {
		q.status("all slots full — waiting for a collection")
		return true
	}

	name := ""
	if rec, found := q.lookup(itemID); found {
		name = rec.ItemName
	}
	q.focus(&domain.FocusedFlip{
		ItemID:   itemID,
		ItemName: name,
		IsBuy:    false,
		Quantity: quantity,
		Price:    price,
	})
	q.status("sell the collected items")
	return true
}

// focusNextSell walks collected items in stable order for the first one that
// can be listed.
func (q *Sequencer) focusNextSell() bool {
	collected := q.session.CollectedItems()
	ids := make([]int, 0, len(collected))
	for id := range collected {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		if q.focusSellFor(id) {
			return true
		}
	}
	return false
}

// filterWorking drops recommendations for items that are already committed:
// in a marketplace slot or collected and awaiting sale.
func (q *Sequencer) filterWorking(recs []domain.Recommendation) []domain.Recommendation {
	out := make([]domain.Recommendation, 0, len(recs))
	for _, r := range recs {
		if q.working(r.ItemID) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (q *Sequencer) working(itemID int) bool {
	return q.session.HasOfferForItem(itemID) || q.session.Collected(itemID) > 0
}

func (q *Sequencer) lookup(itemID int) (domain.Recommendation, bool) {
	for _, r := range q.queue {
		if r.ItemID == itemID {
			return r, true
		}
	}
	return domain.Recommendation{}, false
}

func (q *Sequencer) focus(f *domain.FocusedFlip) {
	if q.hooks == nil {
		return
	}
	q.hooks.OnFocusChanged(f)
}

func (q *Sequencer) status(text string) {
	if q.hooks == nil {
		return
	}
	q.hooks.OnStatusChanged(text)
}

func (q *Sequencer) advanced() {
	if q.hooks == nil {
		return
	}
	q.hooks.OnQueueAdvanced()
}
