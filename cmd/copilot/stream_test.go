package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/alejandrodnm/geflip/config"
	"github.com/alejandrodnm/geflip/internal/adapters/ledger"
	"github.com/alejandrodnm/geflip/internal/adapters/notify"
	"github.com/alejandrodnm/geflip/internal/adapters/storage"
	"github.com/alejandrodnm/geflip/internal/application/reconcile"
	"github.com/alejandrodnm/geflip/internal/application/sequencer"
	"github.com/alejandrodnm/geflip/internal/application/session"
	"github.com/alejandrodnm/geflip/internal/domain"
	"github.com/alejandrodnm/geflip/internal/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T) *app {
	t.Helper()

	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	var out bytes.Buffer
	console := notify.NewConsoleWriter(&out)
	t.Cleanup(console.Close)

	cfg := &config.Config{}
	cfg.Copilot.Identity = "tester"
	cfg.Copilot.SnapshotMaxAgeHours = 24
	cfg.Copilot.AutoRecMaxAgeMinutes = 30
	// El test nunca debe depender del tick de mantenimiento.
	cfg.Copilot.MaintenanceSeconds = 3600

	sess := session.New("tester")
	breaker := resilience.NewBreaker(5, time.Minute)
	oracle := newInventoryState()
	seq := sequencer.New(sess, console, 0)
	rec := reconcile.NewOfferReconciler(sess, ledger.Discard{}, breaker, oracle, console, seq)

	return &app{
		cfg:     cfg,
		session: sess,
		rec:     rec,
		seq:     seq,
		store:   store,
		console: console,
		oracle:  oracle,
		ledger:  ledger.Discard{},
		breaker: breaker,
	}
}

func feed(t *testing.T, events ...streamEvent) io.Reader {
	t.Helper()
	var sb strings.Builder
	for _, e := range events {
		b, err := json.Marshal(e)
		require.NoError(t, err)
		sb.Write(b)
		sb.WriteByte('\n')
	}
	return strings.NewReader(sb.String())
}

func buyEvent(slot, itemID int, name string, sold, total, price int) streamEvent {
	return streamEvent{Type: "offer", Offer: &domain.OfferEvent{
		Slot:          slot,
		State:         domain.OfferActive,
		ItemID:        itemID,
		ItemName:      name,
		IsBuy:         true,
		QuantitySold:  sold,
		TotalQuantity: total,
		Price:         price,
		SpentTotal:    sold * price,
	}}
}

// Un logout persiste los snapshots y vacía la sesión; el EOF que llega después
// no debe volver a persistir y machacar lo guardado con la sesión vacía.
func TestRun_LogoutThenEOFKeepsSnapshot(t *testing.T) {
	a := newTestApp(t)

	in := feed(t,
		buyEvent(0, 560, "Death rune", 40, 100, 50),
		streamEvent{Type: "logout"},
	)
	require.NoError(t, a.run(context.Background(), in))

	snap, found, err := a.store.LoadOfferSnapshot(context.Background(), "tester")
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, snap.Offers, 1)
	assert.Equal(t, 560, snap.Offers[0].ItemID)
	assert.Equal(t, 40, snap.Offers[0].QuantitySold)
}

func TestRun_EOFWithoutLogoutPersists(t *testing.T) {
	a := newTestApp(t)

	in := feed(t, buyEvent(2, 560, "Death rune", 0, 100, 50))
	require.NoError(t, a.run(context.Background(), in))

	snap, found, err := a.store.LoadOfferSnapshot(context.Background(), "tester")
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, snap.Offers, 1)
	assert.Equal(t, 560, snap.Offers[2].ItemID)
}

// Tras un relogin en el mismo proceso, el cierre vuelve a persistir el estado
// de la sesión nueva.
func TestRun_ReloginPersistsNewSession(t *testing.T) {
	a := newTestApp(t)

	in := feed(t,
		buyEvent(0, 560, "Death rune", 40, 100, 50),
		streamEvent{Type: "logout"},
		streamEvent{Type: "login"},
		buyEvent(1, 561, "Nature rune", 10, 50, 180),
	)
	require.NoError(t, a.run(context.Background(), in))

	snap, found, err := a.store.LoadOfferSnapshot(context.Background(), "tester")
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, snap.Offers, 1)
	assert.Equal(t, 561, snap.Offers[1].ItemID)

	// El sync offline arbitró el buy desaparecido de la sesión anterior: sus
	// fills quedaron como items coleccionados pendientes de venta.
	items, err := a.store.LoadCollectedItems(context.Background(), "tester")
	require.NoError(t, err)
	assert.Equal(t, 40, items[560])
}
