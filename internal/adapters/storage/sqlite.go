package storage

// sqlite.go — persistencia de snapshots entre sesiones.
//
// Estrategia:
//   - `offer_snapshots`: UNA fila por identidad (UPSERT) con el estado de los
//     slots serializado a JSON. Se consume (DELETE) al completar el sync de
//     login, así una re-ejecución no puede duplicar fills.
//   - `collected_items`: una fila por item pendiente de venta.
//   - `autorec_snapshots`: estado del secuenciador, también una fila por
//     identidad.
//   - Prune automático al arrancar: snapshots con más de 7 días son basura,
//     ninguna ventana de staleness los aceptaría.

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alejandrodnm/geflip/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS offer_snapshots (
    identity TEXT PRIMARY KEY,
    payload  TEXT     NOT NULL,
    saved_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS collected_items (
    identity TEXT    NOT NULL,
    item_id  INTEGER NOT NULL,
    quantity INTEGER NOT NULL,
    PRIMARY KEY (identity, item_id)
);

CREATE TABLE IF NOT EXISTS autorec_snapshots (
    identity TEXT PRIMARY KEY,
    payload  TEXT     NOT NULL,
    saved_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_offer_saved   ON offer_snapshots(saved_at);
CREATE INDEX IF NOT EXISTS idx_autorec_saved ON autorec_snapshots(saved_at);
`

const retentionSnapshots = 7 * 24 * time.Hour

// SQLiteStore implementa ports.SnapshotStore sobre SQLite (pure Go, sin CGo).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore abre (o crea) la base de datos en la ruta dada, aplica el
// schema y limpia snapshots antiguos.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStore: apply schema: %w", err)
	}

	s := &SQLiteStore{db: db}
	s.pruneOld(context.Background())
	return s, nil
}

// SaveOfferSnapshot persiste el estado de los slots al logout.
func (s *SQLiteStore) SaveOfferSnapshot(ctx context.Context, identity string, snap domain.OfferSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("storage.SaveOfferSnapshot: marshal: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO offer_snapshots (identity, payload, saved_at) VALUES (?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			payload  = excluded.payload,
			saved_at = excluded.saved_at
	`, identity, string(payload), snap.SavedAt.UTC()); err != nil {
		return fmt.Errorf("storage.SaveOfferSnapshot: upsert: %w", err)
	}
	return nil
}

// LoadOfferSnapshot devuelve el snapshot persistido, si existe.
func (s *SQLiteStore) LoadOfferSnapshot(ctx context.Context, identity string) (domain.OfferSnapshot, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM offer_snapshots WHERE identity = ?`, identity,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return domain.OfferSnapshot{}, false, nil
	}
	if err != nil {
		return domain.OfferSnapshot{}, false, fmt.Errorf("storage.LoadOfferSnapshot: query: %w", err)
	}

	var snap domain.OfferSnapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return domain.OfferSnapshot{}, false, fmt.Errorf("storage.LoadOfferSnapshot: unmarshal: %w", err)
	}
	return snap, true, nil
}

// DeleteOfferSnapshot consume el snapshot tras el sync de login.
func (s *SQLiteStore) DeleteOfferSnapshot(ctx context.Context, identity string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM offer_snapshots WHERE identity = ?`, identity,
	); err != nil {
		return fmt.Errorf("storage.DeleteOfferSnapshot: %w", err)
	}
	return nil
}

// SaveCollectedItems reemplaza los items pendientes de venta de la identidad.
func (s *SQLiteStore) SaveCollectedItems(ctx context.Context, identity string, items map[int]int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveCollectedItems: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM collected_items WHERE identity = ?`, identity,
	); err != nil {
		return fmt.Errorf("storage.SaveCollectedItems: clear: %w", err)
	}
	for itemID, quantity := range items {
		if quantity <= 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO collected_items (identity, item_id, quantity) VALUES (?, ?, ?)`,
			identity, itemID, quantity,
		); err != nil {
			return fmt.Errorf("storage.SaveCollectedItems: insert item %d: %w", itemID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SaveCollectedItems: commit: %w", err)
	}
	return nil
}

// LoadCollectedItems devuelve los items pendientes de venta; el mapa puede
// estar vacío.
func (s *SQLiteStore) LoadCollectedItems(ctx context.Context, identity string) (map[int]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, quantity FROM collected_items WHERE identity = ?`, identity,
	)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadCollectedItems: query: %w", err)
	}
	defer rows.Close()

	items := make(map[int]int)
	for rows.Next() {
		var itemID, quantity int
		if err := rows.Scan(&itemID, &quantity); err != nil {
			return nil, fmt.Errorf("storage.LoadCollectedItems: scan row: %w", err)
		}
		items[itemID] = quantity
	}
	return items, rows.Err()
}

// SaveAutoRecommend persiste el estado del secuenciador.
func (s *SQLiteStore) SaveAutoRecommend(ctx context.Context, identity string, snap domain.AutoRecommendSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("storage.SaveAutoRecommend: marshal: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO autorec_snapshots (identity, payload, saved_at) VALUES (?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			payload  = excluded.payload,
			saved_at = excluded.saved_at
	`, identity, string(payload), snap.SavedAt.UTC()); err != nil {
		return fmt.Errorf("storage.SaveAutoRecommend: upsert: %w", err)
	}
	return nil
}

// LoadAutoRecommend devuelve el snapshot del secuenciador, si existe.
func (s *SQLiteStore) LoadAutoRecommend(ctx context.Context, identity string) (domain.AutoRecommendSnapshot, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM autorec_snapshots WHERE identity = ?`, identity,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return domain.AutoRecommendSnapshot{}, false, nil
	}
	if err != nil {
		return domain.AutoRecommendSnapshot{}, false, fmt.Errorf("storage.LoadAutoRecommend: query: %w", err)
	}

	var snap domain.AutoRecommendSnapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return domain.AutoRecommendSnapshot{}, false, fmt.Errorf("storage.LoadAutoRecommend: unmarshal: %w", err)
	}
	return snap, true, nil
}

// DeleteAutoRecommend borra el snapshot del secuenciador.
func (s *SQLiteStore) DeleteAutoRecommend(ctx context.Context, identity string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM autorec_snapshots WHERE identity = ?`, identity,
	); err != nil {
		return fmt.Errorf("storage.DeleteAutoRecommend: %w", err)
	}
	return nil
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// pruneOld elimina snapshots que ninguna ventana de staleness aceptaría.
func (s *SQLiteStore) pruneOld(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-retentionSnapshots)
	s.db.ExecContext(ctx, `DELETE FROM offer_snapshots WHERE saved_at < ?`, cutoff)
	s.db.ExecContext(ctx, `DELETE FROM autorec_snapshots WHERE saved_at < ?`, cutoff)
}
