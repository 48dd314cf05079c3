package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/lattice-data/market-cli/internal/ident"
	"github.com/lattice-data/market-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. This is the
// default backend: a single file in the user's data directory.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS receipts (
	id         TEXT PRIMARY KEY,
	listing_id TEXT NOT NULL,
	object_id  TEXT NOT NULL,
	seller     TEXT NOT NULL,
	buyer      TEXT NOT NULL,
	price      TEXT NOT NULL,
	tx_hash    TEXT,
	labels     TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	saved_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS grants (
	listing_id TEXT NOT NULL,
	buyer      TEXT NOT NULL,
	tx_hash    TEXT,
	granted_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (listing_id, buyer)
);

CREATE TABLE IF NOT EXISTS listing_cache (
	id         TEXT PRIMARY KEY,
	listing    TEXT NOT NULL,
	cached_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	expires_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_receipts_buyer ON receipts(buyer);
CREATE INDEX IF NOT EXISTS idx_receipts_seller ON receipts(seller);
CREATE INDEX IF NOT EXISTS idx_grants_buyer ON grants(buyer);
CREATE INDEX IF NOT EXISTS idx_listing_cache_expires_at ON listing_cache(expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveReceipt(ctx context.Context, r model.Receipt) error {
	labelsJSON, err := json.Marshal(r.Labels)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal labels")
	}
	if r.SavedAt.IsZero() {
		r.SavedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO receipts (id, listing_id, object_id, seller, buyer, price, tx_hash, labels, created_at, saved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), r.ListingID.Hex(), r.ObjectID.Hex(),
		ident.NormalizeAddr(r.Seller), ident.NormalizeAddr(r.Buyer),
		r.Price, r.TxHash, string(labelsJSON), r.CreatedAt.UTC(), r.SavedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert receipt")
}

func (s *SQLiteStore) ListReceipts(ctx context.Context, filter ReceiptFilter) ([]model.Receipt, error) {
	query := `SELECT listing_id, object_id, seller, buyer, price, tx_hash, labels, created_at, saved_at
	          FROM receipts WHERE 1=1`
	var args []any

	if filter.Buyer != "" {
		query += ` AND buyer = ?`
		args = append(args, ident.NormalizeAddr(filter.Buyer))
	}
	if filter.Seller != "" {
		query += ` AND seller = ?`
		args = append(args, ident.NormalizeAddr(filter.Seller))
	}
	query += ` ORDER BY saved_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list receipts")
	}
	defer rows.Close()

	var receipts []model.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, *r)
	}
	return receipts, eris.Wrap(rows.Err(), "sqlite: list receipts iterate")
}

func (s *SQLiteStore) SaveGrant(ctx context.Context, listingID ident.Identifier, buyer, txHash string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO grants (listing_id, buyer, tx_hash, granted_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (listing_id, buyer) DO NOTHING`,
		listingID.Hex(), ident.NormalizeAddr(buyer), txHash, time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: save grant")
}

func (s *SQLiteStore) HasGrant(ctx context.Context, listingID ident.Identifier, buyer string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM grants WHERE listing_id = ? AND buyer = ?`,
		listingID.Hex(), ident.NormalizeAddr(buyer),
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "sqlite: has grant")
	}
	return true, nil
}

func (s *SQLiteStore) GrantedListings(ctx context.Context, buyer string) ([]ident.Identifier, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT listing_id FROM grants WHERE buyer = ? ORDER BY granted_at DESC`,
		ident.NormalizeAddr(buyer),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: granted listings")
	}
	defer rows.Close()

	var ids []ident.Identifier
	for rows.Next() {
		var hexID string
		if err := rows.Scan(&hexID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan grant")
		}
		id, err := ident.Parse(hexID)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: parse grant id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: granted listings iterate")
}

func (s *SQLiteStore) GetCachedListing(ctx context.Context, listingID ident.Identifier) (*model.Listing, error) {
	var listingJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT listing FROM listing_cache WHERE id = ? AND expires_at > datetime('now')`,
		listingID.Hex(),
	).Scan(&listingJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cached listing")
	}

	var l model.Listing
	if err := json.Unmarshal([]byte(listingJSON), &l); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal cached listing")
	}
	return &l, nil
}

func (s *SQLiteStore) SetCachedListing(ctx context.Context, l model.Listing, ttl time.Duration) error {
	listingJSON, err := json.Marshal(l)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal listing")
	}
	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO listing_cache (id, listing, cached_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET listing = excluded.listing, cached_at = excluded.cached_at, expires_at = excluded.expires_at`,
		l.ListingID.Hex(), string(listingJSON), now, now.Add(ttl),
	)
	return eris.Wrap(err, "sqlite: set cached listing")
}

func (s *SQLiteStore) DeleteExpiredListings(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM listing_cache WHERE expires_at <= datetime('now')`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired listings")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanReceipt(row scannable) (*model.Receipt, error) {
	var r model.Receipt
	var listingHex, objectHex, labelsJSON string
	var txHash sql.NullString

	err := row.Scan(&listingHex, &objectHex, &r.Seller, &r.Buyer, &r.Price, &txHash, &labelsJSON, &r.CreatedAt, &r.SavedAt)
	if err != nil {
		return nil, eris.Wrap(err, "store: scan receipt")
	}

	if r.ListingID, err = ident.Parse(listingHex); err != nil {
		return nil, eris.Wrap(err, "store: parse listing id")
	}
	if r.ObjectID, err = ident.Parse(objectHex); err != nil {
		return nil, eris.Wrap(err, "store: parse object id")
	}
	if txHash.Valid {
		r.TxHash = txHash.String
	}
	if err := json.Unmarshal([]byte(labelsJSON), &r.Labels); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal labels")
	}
	return &r, nil
}
