package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/geflip/internal/ports"
	"github.com/alejandrodnm/geflip/internal/resilience"
)

const defaultCallTimeout = 15 * time.Second

// dispatcher issues ledger calls asynchronously behind the circuit breaker.
// Failures only log and trip the breaker — local state is never rolled back,
// since the slot state is the source of truth for what happened in the
// marketplace while the ledger is an append-only record of what was told to
// the backend.
type dispatcher struct {
	ledger  ports.LedgerService
	breaker *resilience.Breaker
	hooks   ports.UIHooks
	timeout time.Duration
	wg      sync.WaitGroup
}

func newDispatcher(ledger ports.LedgerService, breaker *resilience.Breaker, hooks ports.UIHooks) *dispatcher {
	return &dispatcher{
		ledger:  ledger,
		breaker: breaker,
		hooks:   hooks,
		timeout: defaultCallTimeout,
	}
}

// fire runs the call on its own goroutine. When the breaker is open the call
// is dropped outright: the record is lost, not queued, matching the
// fire-and-forget contract.
func (d *dispatcher) fire(name string, call func(context.Context) error) {
	if d.ledger == nil {
		return
	}
	if !d.breaker.Allow() {
		slog.Warn("reconcile: circuit open, dropping ledger call", "call", name)
		d.status("connection error — will retry")
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := call(ctx); err != nil {
			d.breaker.RecordFailure()
			slog.Warn("reconcile: ledger call failed", "call", name, "err", err)
			d.status("connection error — will retry")
			return
		}
		d.breaker.RecordSuccess()
	}()
}

// flush waits for every in-flight ledger call. Called before the logout
// snapshot is written so the persisted state never races a recording.
func (d *dispatcher) flush() {
	d.wg.Wait()
}

func (d *dispatcher) status(text string) {
	if d.hooks == nil {
		return
	}
	d.hooks.OnStatusChanged(text)
}
