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

// OfflineSync diffs the slot snapshot persisted at the last logout against
// the freshly observed slot state, recording fills and cancellations that
// happened while disconnected. It runs exactly once per login, gated by the
// session's sync flag, and consumes (deletes) the snapshot as its final step
// so a re-run cannot double-record.
type OfflineSync struct {
	session    *session.Session
	ledger     ports.LedgerService
	oracle     ports.InventoryOracle
	store      ports.SnapshotStore
	dispatch   *dispatcher
	maxAge     time.Duration
	onComplete func()
}

// NewOfflineSync builds the login reconciler. onComplete fires after the
// snapshot has been fully consumed, letting dependent schedulers (the
// auto-recommend restore, for one) proceed; it may be nil.
func NewOfflineSync(
	sess *session.Session,
	ledger ports.LedgerService,
	breaker *resilience.Breaker,
	oracle ports.InventoryOracle,
	store ports.SnapshotStore,
	maxAge time.Duration,
	onComplete func(),
) *OfflineSync {
	return &OfflineSync{
		session:    sess,
		ledger:     ledger,
		oracle:     oracle,
		store:      store,
		dispatch:   newDispatcher(ledger, breaker, nil),
		maxAge:     maxAge,
		onComplete: onComplete,
	}
}

// Run reconciles persisted against live slot state. Safe to call more than
// once; only the first call per session does anything.
func (o *OfflineSync) Run(ctx context.Context, live map[int]domain.TrackedOffer) error {
	if !o.session.MarkSyncDone() {
		return nil
	}

	if items, err := o.store.LoadCollectedItems(ctx, o.session.Identity()); err != nil {
		slog.Warn("offline: could not load collected items", "err", err)
	} else {
		o.session.RestoreCollected(items)
	}

	persisted := o.loadSnapshot(ctx)

	for slot, liveOffer := range live {
		p, ok := persisted[slot]
		if ok && p.ItemID == liveOffer.ItemID && p.IsBuy == liveOffer.IsBuy {
			o.reconcileMatched(p, liveOffer)
			delete(persisted, slot)
			continue
		}
		o.reconcileUntracked(liveOffer)
	}

	// Whatever remains was in a slot at logout and is gone now: the order
	// finished or was cancelled entirely while offline.
	for _, p := range persisted {
		o.reconcileVanished(p)
	}

	if err := o.store.DeleteOfferSnapshot(ctx, o.session.Identity()); err != nil {
		slog.Warn("offline: could not delete consumed snapshot", "err", err)
	}

	slog.Info("offline: reconciliation complete",
		"live_slots", len(live), "vanished", len(persisted))

	if o.onComplete != nil {
		o.onComplete()
	}
	return nil
}

// Flush waits for the ledger calls the reconciliation produced.
func (o *OfflineSync) Flush() {
	o.dispatch.flush()
}

// loadSnapshot returns the persisted slot map, or an empty one when there is
// no snapshot or it is older than the staleness window.
func (o *OfflineSync) loadSnapshot(ctx context.Context) map[int]domain.TrackedOffer {
	snap, found, err := o.store.LoadOfferSnapshot(ctx, o.session.Identity())
	if err != nil {
		slog.Warn("offline: could not load offer snapshot", "err", err)
		return map[int]domain.TrackedOffer{}
	}
	if !found {
		return map[int]domain.TrackedOffer{}
	}
	if o.maxAge > 0 && time.Since(snap.SavedAt) > o.maxAge {
		slog.Info("offline: discarding stale snapshot",
			"saved_at", snap.SavedAt, "max_age", o.maxAge)
		return map[int]domain.TrackedOffer{}
	}
	if snap.Offers == nil {
		return map[int]domain.TrackedOffer{}
	}
	return snap.Offers
}

// reconcileMatched handles a slot present in both snapshots with the same
// item and direction: any fill growth is an offline fill.
func (o *OfflineSync) reconcileMatched(p, liveOffer domain.TrackedOffer) {
	if delta := liveOffer.QuantitySold - p.QuantitySold; delta > 0 {
		o.record(liveOffer, delta, liveOffer.Price)
		slog.Info("offline: fill detected",
			"slot", liveOffer.Slot, "item", liveOffer.ItemName, "quantity", delta)
	}

	// Keep the original placement time so elapsed-time displays stay
	// correct across the gap.
	merged := liveOffer
	merged.CreatedAt = p.CreatedAt
	if merged.CompletedAt.IsZero() {
		merged.CompletedAt = p.CompletedAt
	}
	o.session.SetOffer(merged)
}

// reconcileUntracked handles a live slot with no persisted counterpart: the
// order was placed (and possibly partially filled) before we ever saw it, so
// the whole current fill counts as new.
func (o *OfflineSync) reconcileUntracked(liveOffer domain.TrackedOffer) {
	if liveOffer.CreatedAt.IsZero() {
		liveOffer.CreatedAt = time.Now().UTC()
	}
	o.session.SetOffer(liveOffer)

	if liveOffer.QuantitySold <= 0 {
		return
	}
	o.record(liveOffer, liveOffer.QuantitySold, liveOffer.Price)
	if liveOffer.IsBuy {
		o.session.AddCollected(liveOffer.ItemID, liveOffer.QuantitySold)
		ensureSellPrice(o.session, liveOffer.ItemID, liveOffer.Price)
	}
}

// reconcileVanished handles a persisted slot that is gone from live state.
func (o *OfflineSync) reconcileVanished(p domain.TrackedOffer) {
	itemID, itemName := p.ItemID, p.ItemName

	if !p.IsBuy {
		// The sell either completed or was cancelled; the previously
		// observed fill is all we can attribute.
		if p.QuantitySold > 0 {
			o.record(p, p.QuantitySold, p.Price)
		}
		if o.inventoryCount(itemID) == 0 {
			o.dispatch.fire("dismissActiveFlip", func(ctx context.Context) error {
				return o.ledger.DismissActiveFlip(ctx, o.session.Identity(), itemID)
			})
		}
		return
	}

	// Buy side: prefer the larger of inventory count and tracked fills,
	// capped at the order size, and always push a correcting sync rather
	// than silently trusting either source.
	actual := max(o.inventoryCount(itemID), p.QuantitySold)
	actual = min(actual, p.TotalQuantity)
	if actual > 0 {
		o.session.AddCollected(itemID, actual)
		ensureSellPrice(o.session, itemID, p.Price)
	}
	if actual > p.QuantitySold {
		total, price := p.TotalQuantity, p.Price
		o.dispatch.fire("syncActiveFlip", func(ctx context.Context) error {
			return o.ledger.SyncActiveFlip(ctx, o.session.Identity(), itemID, itemName, actual, total, price)
		})
		slog.Info("offline: inventory ahead of tracked fills, resynced",
			"item", itemName, "tracked", p.QuantitySold, "actual", actual)
	}
}

func (o *OfflineSync) record(offer domain.TrackedOffer, quantity, pricePerUnit int) {
	tx := domain.Transaction{
		ID:            uuid.NewString(),
		ItemID:        offer.ItemID,
		ItemName:      offer.ItemName,
		IsBuy:         offer.IsBuy,
		Quantity:      quantity,
		PricePerUnit:  pricePerUnit,
		Slot:          offer.Slot,
		TotalQuantity: offer.TotalQuantity,
		Time:          time.Now().UTC(),
	}
	o.dispatch.fire("recordTransaction", func(ctx context.Context) error {
		return o.ledger.RecordTransaction(ctx, o.session.Identity(), tx)
	})
}

func (o *OfflineSync) inventoryCount(itemID int) int {
	if o.oracle == nil {
		return 0
	}
	return o.oracle.InventoryCount(itemID)
}
