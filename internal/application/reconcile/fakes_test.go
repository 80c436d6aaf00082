package reconcile_test

import (
	"context"
	"fmt"
	"sync"

	"github.com/alejandrodnm/geflip/internal/domain"
)

// fakeLedger records every call; safe for the dispatcher's goroutines.
type fakeLedger struct {
	mu        sync.Mutex
	txs       []domain.Transaction
	syncs     []syncCall
	dismissed []int
	selling   []int
	flips     []domain.ActiveFlip
	failWith  error // when set, every call fails
}

type syncCall struct {
	itemID, filled, order, unit int
}

func (f *fakeLedger) RecordTransaction(_ context.Context, _ string, tx domain.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.txs = append(f.txs, tx)
	return nil
}

func (f *fakeLedger) SyncActiveFlip(_ context.Context, _ string, itemID int, _ string, filled, order, unit int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.syncs = append(f.syncs, syncCall{itemID: itemID, filled: filled, order: order, unit: unit})
	return nil
}

func (f *fakeLedger) DismissActiveFlip(_ context.Context, _ string, itemID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.dismissed = append(f.dismissed, itemID)
	return nil
}

func (f *fakeLedger) MarkActiveFlipSelling(_ context.Context, _ string, itemID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.selling = append(f.selling, itemID)
	return nil
}

func (f *fakeLedger) GetActiveFlips(_ context.Context, _ string) ([]domain.ActiveFlip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	return append([]domain.ActiveFlip(nil), f.flips...), nil
}

func (f *fakeLedger) transactions() []domain.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Transaction(nil), f.txs...)
}

func (f *fakeLedger) recordedQuantity(itemID int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, tx := range f.txs {
		if tx.ItemID == itemID {
			total += tx.Quantity
		}
	}
	return total
}

func (f *fakeLedger) syncCalls() []syncCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]syncCall(nil), f.syncs...)
}

func (f *fakeLedger) dismissedItems() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.dismissed...)
}

func (f *fakeLedger) sellingItems() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.selling...)
}

// fakeOracle serves inventory counts from a fixed map.
type fakeOracle struct {
	counts map[int]int
}

func (f *fakeOracle) InventoryCount(itemID int) int {
	if f == nil || f.counts == nil {
		return 0
	}
	return f.counts[itemID]
}

// fakeHooks captures UI notifications.
type fakeHooks struct {
	mu       sync.Mutex
	focuses  []*domain.FocusedFlip
	statuses []string
	advanced int
}

func (f *fakeHooks) OnFocusChanged(flip *domain.FocusedFlip) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.focuses = append(f.focuses, flip)
}

func (f *fakeHooks) OnStatusChanged(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, text)
}

func (f *fakeHooks) OnQueueAdvanced() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advanced++
}

func (f *fakeHooks) lastFocus() *domain.FocusedFlip {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.focuses) == 0 {
		return nil
	}
	return f.focuses[len(f.focuses)-1]
}

func (f *fakeHooks) statusTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.statuses...)
}

// fakeListener records lifecycle notifications in order.
type fakeListener struct {
	mu     sync.Mutex
	active bool
	events []string
}

func (f *fakeListener) Active() bool { return f.active }

func (f *fakeListener) add(e string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeListener) OnBuyOrderPlaced(itemID int)  { f.add(fmt.Sprintf("buyPlaced:%d", itemID)) }
func (f *fakeListener) OnSellOrderPlaced(itemID int) { f.add(fmt.Sprintf("sellPlaced:%d", itemID)) }
func (f *fakeListener) OnBuyOrderCompleted(itemID int) {
	f.add(fmt.Sprintf("buyCompleted:%d", itemID))
}
func (f *fakeListener) OnSellOrderCompleted(itemID int) {
	f.add(fmt.Sprintf("sellCompleted:%d", itemID))
}
func (f *fakeListener) OnOfferCollected(itemID int, wasBuy bool) {
	f.add(fmt.Sprintf("collected:%d:%t", itemID, wasBuy))
}
func (f *fakeListener) OnOfferCancelled(itemID int, wasBuy bool) {
	f.add(fmt.Sprintf("cancelled:%d:%t", itemID, wasBuy))
}

func (f *fakeListener) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

// fakeStore is an in-memory ports.SnapshotStore.
type fakeStore struct {
	mu        sync.Mutex
	offers    map[string]domain.OfferSnapshot
	collected map[string]map[int]int
	autorec   map[string]domain.AutoRecommendSnapshot
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		offers:    make(map[string]domain.OfferSnapshot),
		collected: make(map[string]map[int]int),
		autorec:   make(map[string]domain.AutoRecommendSnapshot),
	}
}

func (f *fakeStore) SaveOfferSnapshot(_ context.Context, identity string, snap domain.OfferSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers[identity] = snap
	return nil
}

func (f *fakeStore) LoadOfferSnapshot(_ context.Context, identity string) (domain.OfferSnapshot, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.offers[identity]
	return snap, ok, nil
}

func (f *fakeStore) DeleteOfferSnapshot(_ context.Context, identity string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.offers, identity)
	return nil
}

func (f *fakeStore) SaveCollectedItems(_ context.Context, identity string, items map[int]int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collected[identity] = items
	return nil
}

func (f *fakeStore) LoadCollectedItems(_ context.Context, identity string) (map[int]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.collected[identity], nil
}

func (f *fakeStore) SaveAutoRecommend(_ context.Context, identity string, snap domain.AutoRecommendSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autorec[identity] = snap
	return nil
}

func (f *fakeStore) LoadAutoRecommend(_ context.Context, identity string) (domain.AutoRecommendSnapshot, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.autorec[identity]
	return snap, ok, nil
}

func (f *fakeStore) DeleteAutoRecommend(_ context.Context, identity string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.autorec, identity)
	return nil
}

func (f *fakeStore) Close() error { return nil }
