package queue

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the durable local queue of pending sales, backed by SQLite.
// database/sql serializes access to the single handle, so Store methods are
// safe to call from the capture path and the background sync pass at once.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path and applies
// pending schema migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate queue schema: %w", err)
	}

	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Enqueue validates and stores a new pending sale with synced=0, assigning a
// fresh client reference and recomputing the total price as quantity times
// unit price. It returns the locally-assigned ID.
func (s *Store) Enqueue(ctx context.Context, n NewPendingSale) (int64, error) {
	if err := n.Validate(); err != nil {
		return 0, err
	}

	total := n.UnitPrice.Mul(decimal.NewFromInt(int64(n.Quantity)))
	createdAt := time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_sales (
			client_ref, product_id, product_name, user_id,
			quantity, unit_price, total_price, created_at, synced
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		uuid.NewString(),
		n.ProductID,
		n.ProductName,
		n.UserID,
		n.Quantity,
		n.UnitPrice.String(),
		total.String(),
		createdAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue pending sale: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read assigned sale id: %w", err)
	}
	return id, nil
}

const selectColumns = `
	id, client_ref, product_id, product_name, user_id,
	quantity, unit_price, total_price, created_at, synced,
	attempts, last_attempt_at`

// Get retrieves a single pending sale by ID.
// Returns ErrNotFound if no such record exists.
func (s *Store) Get(ctx context.Context, id int64) (PendingSale, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM pending_sales WHERE id = ?`, id)
	rec, err := scanPendingSale(row)
	if errors.Is(err, sql.ErrNoRows) {
		return PendingSale{}, ErrNotFound
	}
	return rec, err
}

// ListUnsynced returns all not-yet-synced sales in insertion order, oldest
// first. Callers re-issue the query per sync pass.
func (s *Store) ListUnsynced(ctx context.Context) ([]PendingSale, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM pending_sales WHERE synced = 0 ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsynced sales: %w", err)
	}
	defer rows.Close()

	var sales []PendingSale
	for rows.Next() {
		rec, err := scanPendingSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate unsynced sales: %w", err)
	}
	return sales, nil
}

// CountUnsynced returns how many sales are still waiting to reach the remote
// ledger. Cheap enough to poll from the UI.
func (s *Store) CountUnsynced(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_sales WHERE synced = 0`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count unsynced sales: %w", err)
	}
	return n, nil
}

// MarkSynced flips a record to synced. Idempotent: marking an already-synced
// or nonexistent ID is a no-op, not an error.
func (s *Store) MarkSynced(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pending_sales SET synced = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark sale %d synced: %w", id, err)
	}
	return nil
}

// RecordAttempt bumps the attempt counter and stamps the attempt time for a
// record whose sync attempt just failed.
func (s *Store) RecordAttempt(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pending_sales SET attempts = attempts + 1, last_attempt_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("failed to record sync attempt for sale %d: %w", id, err)
	}
	return nil
}

// PruneSynced deletes all synced records and returns how many were removed.
// Safe to run concurrently with Enqueue: new records are always synced=0.
func (s *Store) PruneSynced(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_sales WHERE synced = 1`)
	if err != nil {
		return 0, fmt.Errorf("failed to prune synced sales: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read pruned row count: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPendingSale(r rowScanner) (PendingSale, error) {
	var (
		rec           PendingSale
		unitPrice     string
		totalPrice    string
		createdAt     string
		synced        int
		lastAttemptAt sql.NullString
	)

	err := r.Scan(
		&rec.ID,
		&rec.ClientRef,
		&rec.ProductID,
		&rec.ProductName,
		&rec.UserID,
		&rec.Quantity,
		&unitPrice,
		&totalPrice,
		&createdAt,
		&synced,
		&rec.Attempts,
		&lastAttemptAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PendingSale{}, err
		}
		return PendingSale{}, fmt.Errorf("failed to scan pending sale: %w", err)
	}

	rec.Synced = synced != 0

	if rec.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
		return PendingSale{}, fmt.Errorf("failed to parse unit price: %w", err)
	}
	if rec.TotalPrice, err = decimal.NewFromString(totalPrice); err != nil {
		return PendingSale{}, fmt.Errorf("failed to parse total price: %w", err)
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return PendingSale{}, fmt.Errorf("failed to parse created at: %w", err)
	}
	if lastAttemptAt.Valid {
		if rec.LastAttemptAt, err = time.Parse(time.RFC3339Nano, lastAttemptAt.String); err != nil {
			return PendingSale{}, fmt.Errorf("failed to parse last attempt at: %w", err)
		}
	}

	return rec, nil
}
