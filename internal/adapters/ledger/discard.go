package ledger

import (
	"context"
	"log/slog"

	"github.com/alejandrodnm/geflip/internal/domain"
)

// Discard is a ledger that records nothing; replay runs use it so a dry run
// never writes to the real backend. Calls are logged at debug level.
type Discard struct{}

func (Discard) RecordTransaction(_ context.Context, identity string, tx domain.Transaction) error {
	slog.Debug("ledger: discarding transaction",
		"identity", identity, "item", tx.ItemName, "quantity", tx.Quantity, "buy", tx.IsBuy)
	return nil
}

func (Discard) SyncActiveFlip(_ context.Context, identity string, itemID int, _ string, filled, order, unit int) error {
	slog.Debug("ledger: discarding flip sync",
		"identity", identity, "item", itemID, "filled", filled, "order", order, "unit", unit)
	return nil
}

func (Discard) DismissActiveFlip(_ context.Context, identity string, itemID int) error {
	slog.Debug("ledger: discarding flip dismissal", "identity", identity, "item", itemID)
	return nil
}

func (Discard) MarkActiveFlipSelling(_ context.Context, identity string, itemID int) error {
	slog.Debug("ledger: discarding selling mark", "identity", identity, "item", itemID)
	return nil
}

func (Discard) GetActiveFlips(context.Context, string) ([]domain.ActiveFlip, error) {
	return nil, nil
}
