package ports

import (
	"context"

	"github.com/alejandrodnm/geflip/internal/domain"
)

// SnapshotStore persists per-identity state across logouts. Blobs are written
// once at teardown and read once at startup; there are no concurrent writers.
type SnapshotStore interface {
	// Offer snapshot — slot state saved at logout, consumed by the offline
	// sync reconciler on the next login.
	SaveOfferSnapshot(ctx context.Context, identity string, snap domain.OfferSnapshot) error
	LoadOfferSnapshot(ctx context.Context, identity string) (domain.OfferSnapshot, bool, error)
	DeleteOfferSnapshot(ctx context.Context, identity string) error

	// Collected items awaiting sale.
	SaveCollectedItems(ctx context.Context, identity string, items map[int]int) error
	LoadCollectedItems(ctx context.Context, identity string) (map[int]int, error)

	// Auto-recommend sequencer state.
	SaveAutoRecommend(ctx context.Context, identity string, snap domain.AutoRecommendSnapshot) error
	LoadAutoRecommend(ctx context.Context, identity string) (domain.AutoRecommendSnapshot, bool, error)
	DeleteAutoRecommend(ctx context.Context, identity string) error

	// Close cierra la conexión al almacenamiento limpiamente.
	Close() error
}
