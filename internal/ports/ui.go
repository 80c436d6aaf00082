package ports

import "github.com/alejandrodnm/geflip/internal/domain"

// UIHooks receives fire-and-forget notifications for the rendering layer.
// Implementations must not block: callers invoke these from the game tick
// path and from network completion goroutines, and never await them.
type UIHooks interface {
	// OnFocusChanged points the UI at a new buy/sell target; nil clears
	// any active focus.
	OnFocusChanged(flip *domain.FocusedFlip)

	// OnStatusChanged updates the one-line status text.
	OnStatusChanged(text string)

	// OnQueueAdvanced signals that the auto-recommend cursor moved.
	OnQueueAdvanced()
}
