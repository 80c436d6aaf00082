package ports

import (
	"context"

	"github.com/alejandrodnm/geflip/internal/domain"
)

// LedgerService records historical transactions and active-flip status on the
// remote backend. Every method is a network call; callers are expected to
// invoke them asynchronously and treat failures as log-and-continue — local
// slot state is the source of truth for what happened in the marketplace,
// the ledger only records what was told to the backend.
type LedgerService interface {
	// RecordTransaction appends one transaction to the player's history.
	RecordTransaction(ctx context.Context, identity string, tx domain.Transaction) error

	// SyncActiveFlip corrects a previously recorded flip quantity to the
	// true filled amount.
	SyncActiveFlip(ctx context.Context, identity string, itemID int, itemName string, filledQuantity, orderQuantity, pricePerUnit int) error

	// DismissActiveFlip marks a flip record closed with no transaction.
	DismissActiveFlip(ctx context.Context, identity string, itemID int) error

	// MarkActiveFlipSelling transitions a flip record into its sell phase.
	MarkActiveFlipSelling(ctx context.Context, identity string, itemID int) error

	// GetActiveFlips returns the open flip records for the player.
	GetActiveFlips(ctx context.Context, identity string) ([]domain.ActiveFlip, error)
}
