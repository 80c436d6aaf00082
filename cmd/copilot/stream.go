package main

// stream.go — el loop principal del copilot.
//
// Los eventos llegan como JSONL (una línea por evento) desde stdin o desde un
// archivo de replay: el plugin del cliente del juego los emite en vivo, y los
// graba para poder reproducir sesiones problemáticas en seco.

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/geflip/config"
	"github.com/alejandrodnm/geflip/internal/adapters/notify"
	"github.com/alejandrodnm/geflip/internal/application/reconcile"
	"github.com/alejandrodnm/geflip/internal/application/sequencer"
	"github.com/alejandrodnm/geflip/internal/application/session"
	"github.com/alejandrodnm/geflip/internal/domain"
	"github.com/alejandrodnm/geflip/internal/ports"
	"github.com/alejandrodnm/geflip/internal/resilience"
)

// streamEvent es el sobre de una línea JSONL.
//
// Tipos:
//
//	login            — estado inicial de slots tras conectar; dispara el sync offline
//	offer            — cambio de estado de un slot
//	inventory        — recuento de inventario (oráculo para las arbitraciones)
//	recommendations  — lote fresco de recomendaciones puntuadas upstream
//	autorec_start    — activa el secuenciador con las últimas recomendaciones
//	autorec_stop     — lo desactiva
//	logout           — cierre de sesión: flush + snapshots
type streamEvent struct {
	Type            string                      `json:"type"`
	Offer           *domain.OfferEvent          `json:"offer,omitempty"`
	Slots           map[int]domain.TrackedOffer `json:"slots,omitempty"`
	Items           map[int]int                 `json:"items,omitempty"`
	Recommendations []domain.Recommendation     `json:"recommendations,omitempty"`
}

// app agrupa el wiring del copilot.
type app struct {
	cfg     *config.Config
	session *session.Session
	rec     *reconcile.OfferReconciler
	seq     *sequencer.Sequencer
	store   ports.SnapshotStore
	console *notify.Console
	oracle  *inventoryState
	ledger  ports.LedgerService
	breaker *resilience.Breaker

	recs []domain.Recommendation // último lote recibido

	// persisted marca que los snapshots de esta sesión ya se escribieron:
	// logout los guarda, y el EOF o la señal que llega después no debe
	// sobreescribirlos con la sesión ya vaciada.
	persisted bool
}

// run consume el stream de eventos hasta EOF o cancelación, con un ticker de
// mantenimiento en paralelo.
func (a *app) run(ctx context.Context, in io.Reader) error {
	ticker := time.NewTicker(a.cfg.MaintenanceInterval())
	defer ticker.Stop()

	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			a.teardown()
			return nil

		case <-ticker.C:
			a.maintenance()

		case line, ok := <-lines:
			if !ok {
				a.teardown()
				select {
				case err := <-errc:
					if err != nil {
						return fmt.Errorf("read event stream: %w", err)
					}
				default:
				}
				return nil
			}
			if line == "" {
				continue
			}
			a.handleLine(line)
		}
	}
}

func (a *app) handleLine(line string) {
	var e streamEvent
	if err := json.Unmarshal([]byte(line), &e); err != nil {
		slog.Warn("copilot: dropping malformed event line", "err", err)
		return
	}

	switch e.Type {
	case "login":
		a.login(e.Slots)

	case "offer":
		if e.Offer == nil {
			slog.Warn("copilot: offer event without payload")
			return
		}
		a.rec.HandleOfferChanged(*e.Offer)

	case "inventory":
		a.oracle.replace(e.Items)

	case "recommendations":
		a.recs = e.Recommendations
		if a.seq.Active() {
			a.seq.RefreshQueue(a.recs)
		}
		slog.Debug("copilot: recommendations updated", "count", len(a.recs))

	case "autorec_start":
		a.seq.Start(a.recs)

	case "autorec_stop":
		a.seq.Stop()

	case "logout":
		a.teardown()
		a.session.Clear()

	default:
		slog.Warn("copilot: unknown event type ignored", "type", e.Type)
	}
}

// login ejecuta el sync offline contra el estado vivo de slots y, al
// completar, intenta restaurar el secuenciador persistido.
func (a *app) login(live map[int]domain.TrackedOffer) {
	// Nueva sesión de juego: lo que se acumule a partir de aquí vuelve a ser
	// persistible al cierre.
	a.persisted = false

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	offline := reconcile.NewOfflineSync(
		a.session, a.ledger, a.breaker, a.oracle, a.store,
		a.cfg.SnapshotMaxAge(),
		func() { a.restoreSequencer(ctx) },
	)
	if err := offline.Run(ctx, live); err != nil {
		slog.Error("copilot: offline sync failed", "err", err)
	}
	offline.Flush()
}

func (a *app) restoreSequencer(ctx context.Context) {
	snap, found, err := a.store.LoadAutoRecommend(ctx, a.session.Identity())
	if err != nil {
		slog.Warn("copilot: could not load sequencer snapshot", "err", err)
		return
	}
	if !found {
		return
	}
	if a.seq.Restore(snap, a.cfg.AutoRecMaxAge()) {
		a.store.DeleteAutoRecommend(ctx, a.session.Identity())
	}
}

// maintenance corre en cada tick: chequeo de ofertas estancadas y refresco
// del ranking si el lote sigue siendo el mismo desde hace demasiado.
func (a *app) maintenance() {
	a.seq.CheckInactiveOffers(a.recs)
	if len(a.recs) > 0 && a.seq.RefreshDue(a.cfg.AutoRecMaxAge()) {
		a.seq.RefreshQueue(a.recs)
	}
	a.console.PrintOffers(a.session.Offers())
}

// teardown espera las llamadas al ledger en vuelo y persiste los snapshots;
// sin flush previo un snapshot podría adelantarse a una grabación. Corre como
// mucho una vez por sesión de juego: tras un logout ya persistido es un no-op
// hasta el próximo login.
func (a *app) teardown() {
	if a.persisted {
		return
	}
	a.persisted = true

	a.rec.Flush()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	identity := a.session.Identity()
	if err := a.store.SaveOfferSnapshot(ctx, identity, a.session.Snapshot()); err != nil {
		slog.Error("copilot: could not save offer snapshot", "err", err)
	}
	if err := a.store.SaveCollectedItems(ctx, identity, a.session.CollectedItems()); err != nil {
		slog.Error("copilot: could not save collected items", "err", err)
	}
	if err := a.store.SaveAutoRecommend(ctx, identity, a.seq.Snapshot()); err != nil {
		slog.Error("copilot: could not save sequencer snapshot", "err", err)
	}
	slog.Info("copilot: session state persisted", "identity", identity)
}

// inventoryState es el oráculo de inventario alimentado por eventos del
// stream. Implementa ports.InventoryOracle.
type inventoryState struct {
	mu     sync.RWMutex
	counts map[int]int
}

func newInventoryState() *inventoryState {
	return &inventoryState{counts: make(map[int]int)}
}

func (s *inventoryState) replace(items map[int]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts = make(map[int]int, len(items))
	for id, n := range items {
		s.counts[id] = n
	}
}

func (s *inventoryState) InventoryCount(itemID int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts[itemID]
}
