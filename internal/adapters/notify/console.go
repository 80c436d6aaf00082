// Package notify contains the console implementation of ports.UIHooks.
// The real deployment sits behind a game-client overlay; the console version
// serves replay runs and headless operation.
package notify

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/geflip/internal/domain"
)

type eventKind int

const (
	eventFocus eventKind = iota
	eventStatus
	eventAdvance
)

type event struct {
	kind  eventKind
	focus *domain.FocusedFlip
	text  string
}

// Console implementa ports.UIHooks. Los hooks llegan desde el camino de
// eventos del reconciler y nunca deben bloquear: se encolan y una goroutine
// propia los imprime. Si la cola se llena, el evento se descarta.
type Console struct {
	out    io.Writer
	events chan event
	done   chan struct{}
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole() *Console {
	return NewConsoleWriter(os.Stdout)
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer) *Console {
	c := &Console{
		out:    w,
		events: make(chan event, 64),
		done:   make(chan struct{}),
	}
	go c.run()
	return c
}

// OnFocusChanged enqueues a focus notification; nil clears the focus.
func (c *Console) OnFocusChanged(flip *domain.FocusedFlip) {
	c.push(event{kind: eventFocus, focus: flip})
}

// OnStatusChanged enqueues a status line.
func (c *Console) OnStatusChanged(text string) {
	c.push(event{kind: eventStatus, text: text})
}

// OnQueueAdvanced enqueues a queue-progress marker.
func (c *Console) OnQueueAdvanced() {
	c.push(event{kind: eventAdvance})
}

// Close drena la cola y para la goroutine de impresión.
func (c *Console) Close() {
	close(c.events)
	<-c.done
}

func (c *Console) push(e event) {
	select {
	case c.events <- e:
	default:
		// Cola llena — mejor perder una línea de consola que bloquear el
		// tick del juego.
	}
}

func (c *Console) run() {
	defer close(c.done)
	for e := range c.events {
		now := time.Now().Format("15:04:05")
		switch e.kind {
		case eventFocus:
			if e.focus == nil {
				fmt.Fprintf(c.out, "[%s] focus cleared\n", now)
				continue
			}
			side := "BUY"
			if !e.focus.IsBuy {
				side = "SELL"
			}
			fmt.Fprintf(c.out, "[%s] >> %s %d x %s @ %d gp\n",
				now, side, e.focus.Quantity, e.focus.ItemName, e.focus.Price)
		case eventStatus:
			fmt.Fprintf(c.out, "[%s] %s\n", now, e.text)
		case eventAdvance:
			fmt.Fprintf(c.out, "[%s] queue advanced\n", now)
		}
	}
}

// PrintOffers renders the tracked slots as a table. Called synchronously from
// the maintenance loop, not through the hook queue.
func (c *Console) PrintOffers(offers map[int]domain.TrackedOffer) {
	if len(offers) == 0 {
		fmt.Fprintf(c.out, "[%s] no tracked offers\n", time.Now().Format("15:04:05"))
		return
	}

	slots := make([]int, 0, len(offers))
	for slot := range offers {
		slots = append(slots, slot)
	}
	sort.Ints(slots)

	table := tablewriter.NewWriter(c.out)
	table.Header("Slot", "Type", "Item", "Filled", "Price", "Age")

	for _, slot := range slots {
		o := offers[slot]
		side := "BUY"
		if !o.IsBuy {
			side = "SELL"
		}
		state := fmt.Sprintf("%d/%d", o.QuantitySold, o.TotalQuantity)
		if o.Completed() {
			state += " done"
		}
		table.Append(
			fmt.Sprintf("%d", slot),
			side,
			o.ItemName,
			state,
			fmt.Sprintf("%d gp", o.Price),
			o.Age().Truncate(time.Second).String(),
		)
	}
	table.Render()
}

// PrintCollected renders the items awaiting sale.
func (c *Console) PrintCollected(items map[int]int, names func(int) string) {
	if len(items) == 0 {
		return
	}

	ids := make([]int, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	fmt.Fprintln(c.out, "  awaiting sale:")
	for _, id := range ids {
		name := fmt.Sprintf("item %d", id)
		if names != nil {
			if n := names(id); n != "" {
				name = n
			}
		}
		fmt.Fprintf(c.out, "    %s x %d\n", name, items[id])
	}
}
