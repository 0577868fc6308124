package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/execguard/execguard/internal/domain/cert"
)

// SqliteStore is a sqlite-backed certificate ledger. Certificates are stored
// as JSON in a single table ordered by an autoincrement sequence, so All
// returns them in exact append order.
type SqliteStore struct {
	db *sql.DB
}

// OpenSqliteStore opens (or creates) the sqlite ledger at path.
func OpenSqliteStore(path string) (*SqliteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite ledger: %w", err)
	}
	// A single writer keeps appends strictly ordered.
	db.SetMaxOpenConns(1)

	s := &SqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SqliteStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS certificates (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        id TEXT NOT NULL UNIQUE,
        hash TEXT NOT NULL,
        previous_hash TEXT NOT NULL,
        data JSON NOT NULL
    );`
	_, err := s.db.ExecContext(context.Background(), query)
	if err != nil {
		return fmt.Errorf("migrate certificates table: %w", err)
	}
	return nil
}

// Append inserts a certificate.
func (s *SqliteStore) Append(ctx context.Context, c *cert.Certificate) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal certificate: %w", err)
	}

	query := `INSERT INTO certificates (id, hash, previous_hash, data) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, c.ID, c.Hash, c.PreviousHash, string(data)); err != nil {
		return fmt.Errorf("insert certificate: %w", err)
	}
	return nil
}

// All returns every certificate in append order.
func (s *SqliteStore) All(ctx context.Context) ([]cert.Certificate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM certificates ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("query certificates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var certs []cert.Certificate
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan certificate row: %w", err)
		}
		var c cert.Certificate
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			return nil, fmt.Errorf("unmarshal certificate: %w", err)
		}
		certs = append(certs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return certs, nil
}

// Count returns the number of certificates in the ledger.
func (s *SqliteStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM certificates`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count certificates: %w", err)
	}
	return count, nil
}

// Close closes the database.
func (s *SqliteStore) Close() error {
	return s.db.Close()
}

// Compile-time interface verification.
var _ cert.LedgerStore = (*SqliteStore)(nil)
