package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/geflip/internal/application/session"
	"github.com/alejandrodnm/geflip/internal/domain"
	"github.com/alejandrodnm/geflip/internal/ports"
	"github.com/alejandrodnm/geflip/internal/resilience"
)

// Listener receives offer lifecycle notifications derived from slot events.
// The auto-recommend sequencer is the production implementation; a nil
// listener is replaced with a no-op.
type Listener interface {
	// Active reports whether the listener is currently driving focus.
	Active() bool

	OnBuyOrderPlaced(itemID int)
	OnSellOrderPlaced(itemID int)
	OnBuyOrderCompleted(itemID int)
	OnSellOrderCompleted(itemID int)
	OnOfferCollected(itemID int, wasBuy bool)
	OnOfferCancelled(itemID int, wasBuy bool)
}

type nopListener struct{}

func (nopListener) Active() bool { return false }

func (nopListener) OnBuyOrderPlaced(int)       {}
func (nopListener) OnSellOrderPlaced(int)      {}
func (nopListener) OnBuyOrderCompleted(int)    {}
func (nopListener) OnSellOrderCompleted(int)   {}
func (nopListener) OnOfferCollected(int, bool) {}
func (nopListener) OnOfferCancelled(int, bool) {}

// OfferReconciler consumes slot-state-change events from the game client,
// keeps the session's tracked offers in sync and pushes the resulting
// transactions to the ledger. It is the single writer of tracked-offer state
// during a live session; duplicate event delivery is absorbed, never raised
// as an error.
type OfferReconciler struct {
	session  *session.Session
	ledger   ports.LedgerService
	oracle   ports.InventoryOracle
	hooks    ports.UIHooks
	listener Listener
	dispatch *dispatcher
}

// NewOfferReconciler wires a fully constructed reconciler; hooks and listener
// may be nil.
func NewOfferReconciler(
	sess *session.Session,
	ledger ports.LedgerService,
	breaker *resilience.Breaker,
	oracle ports.InventoryOracle,
	hooks ports.UIHooks,
	listener Listener,
) *OfferReconciler {
	if listener == nil {
		listener = nopListener{}
	}
	return &OfferReconciler{
		session:  sess,
		ledger:   ledger,
		oracle:   oracle,
		hooks:    hooks,
		listener: listener,
		dispatch: newDispatcher(ledger, breaker, hooks),
	}
}

// HandleOfferChanged processes one slot-state-change notification.
// Malformed input degrades to a no-op; it never returns an error to the
// game tick path.
func (r *OfferReconciler) HandleOfferChanged(e domain.OfferEvent) {
	if e.Slot < 0 || e.Slot >= domain.GESlots {
		slog.Warn("reconcile: event for invalid slot ignored", "slot", e.Slot)
		return
	}

	switch e.State {
	case domain.OfferCancelled:
		r.handleCancelled(e)
	case domain.OfferEmpty:
		r.handleEmptied(e)
	case domain.OfferActive, domain.OfferComplete:
		r.handleProgress(e)
	default:
		slog.Warn("reconcile: unknown offer state ignored", "state", int(e.State), "slot", e.Slot)
	}
}

// Flush waits for all in-flight ledger calls. Call before writing the logout
// snapshot.
func (r *OfferReconciler) Flush() {
	r.dispatch.flush()
}

// handleCancelled closes out a cancelled buy or sell. The same cancellation
// can be delivered more than once by the game client: with no tracked offer
// for the slot it is treated as a duplicate and dropped.
func (r *OfferReconciler) handleCancelled(e domain.OfferEvent) {
	prev, ok := r.session.Offer(e.Slot)
	if !ok {
		slog.Debug("reconcile: duplicate cancellation ignored", "slot", e.Slot, "item", e.ItemID)
		return
	}

	itemID, itemName := prev.ItemID, prev.ItemName

	if e.QuantitySold > 0 {
		// Record the untracked portion of the fill before the slot is lost.
		delta := e.QuantitySold - prev.QuantitySold
		if delta > 0 {
			r.recordFill(e.Slot, prev.IsBuy, itemID, itemName, delta, e.FillPrice(), e.TotalQuantity)
		}

		if prev.IsBuy {
			// The filled portion was bought and must still be sold.
			r.session.AddCollected(itemID, e.QuantitySold)

			filled, unit := e.QuantitySold, e.FillPrice()
			r.dispatch.fire("syncActiveFlip", func(ctx context.Context) error {
				return r.ledger.SyncActiveFlip(ctx, r.session.Identity(), itemID, itemName, filled, filled, unit)
			})
		} else {
			// The unsold remainder comes back to inventory for re-listing.
			if remainder := e.TotalQuantity - e.QuantitySold; remainder > 0 {
				r.session.AddCollected(itemID, remainder)
			}
		}
	} else if prev.IsBuy {
		// Zero-fill buy cancelled: nothing to record, close the flip.
		r.dispatch.fire("dismissActiveFlip", func(ctx context.Context) error {
			return r.ledger.DismissActiveFlip(ctx, r.session.Identity(), itemID)
		})
	}

	r.session.RemoveOffer(e.Slot)
	if prev.IsBuy {
		r.session.ClearSellPrice(itemID)
	}

	slog.Info("reconcile: offer cancelled",
		"slot", e.Slot,
		"item", itemName,
		"buy", prev.IsBuy,
		"filled", e.QuantitySold,
	)
	r.listener.OnOfferCancelled(itemID, prev.IsBuy)
}

// handleEmptied handles a slot returning to empty — the player collected a
// completed or cancelled offer.
func (r *OfferReconciler) handleEmptied(e domain.OfferEvent) {
	prev, ok := r.session.RemoveOffer(e.Slot)
	if !ok {
		return
	}

	itemID, itemName := prev.ItemID, prev.ItemName

	if prev.IsBuy {
		collected := prev.QuantitySold

		// The order may have completed while the client wasn't observing
		// ticks; the inventory count is then the better source, capped at
		// the order size.
		if inv := r.inventoryCount(itemID); inv > collected {
			collected = min(inv, prev.TotalQuantity)

			filled := collected
			r.dispatch.fire("syncActiveFlip", func(ctx context.Context) error {
				return r.ledger.SyncActiveFlip(ctx, r.session.Identity(), itemID, itemName, filled, prev.TotalQuantity, prev.Price)
			})
			slog.Info("reconcile: inventory ahead of tracked fills, resynced",
				"item", itemName, "tracked", prev.QuantitySold, "actual", collected)
		}

		if collected > 0 {
			r.session.AddCollected(itemID, collected)
			ensureSellPrice(r.session, itemID, prev.Price)
			slog.Info("reconcile: buy collected", "slot", e.Slot, "item", itemName, "quantity", collected)
		}
		// Even a zero-fill collection frees the slot, which the sequencer may
		// be waiting on for its next buy.
		r.listener.OnOfferCollected(itemID, true)
		if collected > 0 {
			r.assistSellFocus(prev)
		}
		return
	}

	// Sell side: items still in inventory mean the offer was returned, not
	// actually sold.
	if r.inventoryCount(itemID) > 0 {
		if remainder := prev.TotalQuantity - prev.QuantitySold; remainder > 0 {
			r.session.AddCollected(itemID, remainder)
		}
	} else {
		r.dispatch.fire("dismissActiveFlip", func(ctx context.Context) error {
			return r.ledger.DismissActiveFlip(ctx, r.session.Identity(), itemID)
		})
	}
	slog.Info("reconcile: sell collected", "slot", e.Slot, "item", itemName, "sold", prev.QuantitySold)
	r.listener.OnOfferCollected(itemID, false)
}

// handleProgress handles ACTIVE and COMPLETE events: new orders, fill deltas
// and completions.
func (r *OfferReconciler) handleProgress(e domain.OfferEvent) {
	if e.TotalQuantity <= 0 || e.QuantitySold < 0 || e.QuantitySold > e.TotalQuantity {
		slog.Warn("reconcile: malformed offer event ignored",
			"slot", e.Slot, "sold", e.QuantitySold, "total", e.TotalQuantity)
		return
	}

	prev, tracked := r.session.Offer(e.Slot)
	if tracked && (prev.ItemID != e.ItemID || prev.IsBuy != e.IsBuy) {
		// Slot reused without an observed EMPTY in between.
		slog.Warn("reconcile: slot reused without empty, resetting tracking",
			"slot", e.Slot, "was", prev.ItemID, "now", e.ItemID)
		r.session.RemoveOffer(e.Slot)
		tracked = false
	}

	now := time.Now().UTC()

	if !tracked {
		// First observation is the placement, even if fills are already
		// present (an immediate fill): the whole observed quantity is
		// treated as new below.
		prev = domain.TrackedOffer{
			Slot:          e.Slot,
			ItemID:        e.ItemID,
			ItemName:      e.ItemName,
			IsBuy:         e.IsBuy,
			TotalQuantity: e.TotalQuantity,
			Price:         e.Price,
			CreatedAt:     now,
		}
		r.session.SetOffer(prev)

		if e.IsBuy {
			// Lets the sequencer store the recommended sell price before
			// the opening record is built.
			r.listener.OnBuyOrderPlaced(e.ItemID)
			if e.QuantitySold == 0 {
				r.recordFill(e.Slot, true, e.ItemID, e.ItemName, 0, e.Price, e.TotalQuantity)
			}
		} else {
			itemID := e.ItemID
			r.dispatch.fire("markActiveFlipSelling", func(ctx context.Context) error {
				return r.ledger.MarkActiveFlipSelling(ctx, r.session.Identity(), itemID)
			})
			r.session.ClearSellPrice(e.ItemID)
			r.session.ReduceCollected(e.ItemID, e.TotalQuantity)
			r.listener.OnSellOrderPlaced(e.ItemID)
		}
		slog.Info("reconcile: new offer tracked",
			"slot", e.Slot, "item", e.ItemName, "buy", e.IsBuy,
			"quantity", e.TotalQuantity, "price", e.Price)
	}

	newQuantity := e.QuantitySold - prev.QuantitySold
	switch {
	case newQuantity < 0:
		// Duplicate or stale notification; fills are monotonic per slot
		// occupancy, so there is nothing new to record.
		slog.Warn("reconcile: non-monotonic fill ignored",
			"slot", e.Slot, "tracked", prev.QuantitySold, "reported", e.QuantitySold)
		return
	case newQuantity > 0:
		r.recordFill(e.Slot, e.IsBuy, e.ItemID, e.ItemName, newQuantity, e.FillPrice(), e.TotalQuantity)
	}

	var completedAt time.Time
	if e.State == domain.OfferComplete {
		completedAt = now
	}
	r.session.SetOffer(prev.WithFill(e.QuantitySold, completedAt))

	if e.State == domain.OfferComplete && !prev.Completed() {
		if e.IsBuy {
			slog.Info("reconcile: buy completed", "slot", e.Slot, "item", e.ItemName)
			r.listener.OnBuyOrderCompleted(e.ItemID)
		} else {
			slog.Info("reconcile: sell completed", "slot", e.Slot, "item", e.ItemName)
			r.listener.OnSellOrderCompleted(e.ItemID)
		}
	}
}

// recordFill pushes one transaction for a fill delta (or the zero-quantity
// "order opened" record when quantity is 0).
func (r *OfferReconciler) recordFill(slot int, isBuy bool, itemID int, itemName string, quantity, pricePerUnit, totalQuantity int) {
	tx := domain.Transaction{
		ID:            uuid.NewString(),
		ItemID:        itemID,
		ItemName:      itemName,
		IsBuy:         isBuy,
		Quantity:      quantity,
		PricePerUnit:  pricePerUnit,
		Slot:          slot,
		TotalQuantity: totalQuantity,
		Time:          time.Now().UTC(),
	}
	if isBuy {
		if rec, ok := r.session.SellPrice(itemID); ok {
			tx.RecommendedSellPrice = rec
		}
	}
	r.dispatch.fire("recordTransaction", func(ctx context.Context) error {
		return r.ledger.RecordTransaction(ctx, r.session.Identity(), tx)
	})
}

// ensureSellPrice guarantees a sell target exists for a newly collected buy:
// without a recommended price the minimum breakeven price after GE tax is
// used so the sell-focus step never stalls.
func ensureSellPrice(s *session.Session, itemID, buyPrice int) {
	if _, ok := s.SellPrice(itemID); ok {
		return
	}
	s.SetSellPrice(itemID, domain.MinProfitableSellPrice(buyPrice))
}

// assistSellFocus points the UI at the sell step for a collected buy when the
// sequencer is not driving, using the backend's open flips to confirm the
// item is still mid-cycle.
func (r *OfferReconciler) assistSellFocus(prev domain.TrackedOffer) {
	if r.hooks == nil || r.listener.Active() {
		return
	}

	itemID, itemName := prev.ItemID, prev.ItemName
	r.dispatch.fire("getActiveFlips", func(ctx context.Context) error {
		flips, err := r.ledger.GetActiveFlips(ctx, r.session.Identity())
		if err != nil {
			return err
		}
		for _, f := range flips {
			if f.ItemID != itemID || f.Selling {
				continue
			}
			price, ok := r.session.SellPrice(itemID)
			if !ok {
				price = domain.MinProfitableSellPrice(prev.Price)
			}
			r.hooks.OnFocusChanged(&domain.FocusedFlip{
				ItemID:   itemID,
				ItemName: itemName,
				IsBuy:    false,
				Quantity: r.session.Collected(itemID),
				Price:    price,
			})
			break
		}
		return nil
	})
}

func (r *OfferReconciler) inventoryCount(itemID int) int {
	if r.oracle == nil {
		return 0
	}
	return r.oracle.InventoryCount(itemID)
}
