package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/lattice-data/market-cli/internal/db"
	"github.com/lattice-data/market-cli/internal/ident"
	"github.com/lattice-data/market-cli/internal/model"
)

// PostgresStore implements Store using pgxpool, for shared deployments
// where several operators work against one receipt database.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_receipt": `INSERT INTO receipts (id, listing_id, object_id, seller, buyer, price, tx_hash, labels, created_at, saved_at)
	                   VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
	"save_grant": `INSERT INTO grants (listing_id, buyer, tx_hash, granted_at) VALUES ($1, $2, $3, $4)
	               ON CONFLICT (listing_id, buyer) DO NOTHING`,
	"has_grant":          `SELECT 1 FROM grants WHERE listing_id = $1 AND buyer = $2`,
	"get_cached_listing": `SELECT listing FROM listing_cache WHERE id = $1 AND expires_at > now()`,
	"set_cached_listing": `INSERT INTO listing_cache (id, listing, cached_at, expires_at) VALUES ($1, $2, $3, $4)
	                       ON CONFLICT (id) DO UPDATE SET listing = $2, cached_at = $3, expires_at = $4`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool, used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS receipts (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	listing_id TEXT NOT NULL,
	object_id  TEXT NOT NULL,
	seller     TEXT NOT NULL,
	buyer      TEXT NOT NULL,
	price      TEXT NOT NULL,
	tx_hash    TEXT,
	labels     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	saved_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS grants (
	listing_id TEXT NOT NULL,
	buyer      TEXT NOT NULL,
	tx_hash    TEXT,
	granted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (listing_id, buyer)
);

CREATE TABLE IF NOT EXISTS listing_cache (
	id         TEXT PRIMARY KEY,
	listing    JSONB NOT NULL,
	cached_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_receipts_buyer ON receipts(buyer);
CREATE INDEX IF NOT EXISTS idx_receipts_seller ON receipts(seller);
CREATE INDEX IF NOT EXISTS idx_grants_buyer ON grants(buyer);
CREATE INDEX IF NOT EXISTS idx_listing_cache_expires_at ON listing_cache(expires_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) SaveReceipt(ctx context.Context, r model.Receipt) error {
	labelsJSON, err := json.Marshal(r.Labels)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal labels")
	}
	if r.SavedAt.IsZero() {
		r.SavedAt = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO receipts (id, listing_id, object_id, seller, buyer, price, tx_hash, labels, created_at, saved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		uuid.New().String(), r.ListingID.Hex(), r.ObjectID.Hex(),
		ident.NormalizeAddr(r.Seller), ident.NormalizeAddr(r.Buyer),
		r.Price, r.TxHash, labelsJSON, r.CreatedAt.UTC(), r.SavedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: insert receipt")
}

func (s *PostgresStore) ListReceipts(ctx context.Context, filter ReceiptFilter) ([]model.Receipt, error) {
	query := `SELECT listing_id, object_id, seller, buyer, price, tx_hash, labels, created_at, saved_at
	          FROM receipts WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Buyer != "" {
		query += fmt.Sprintf(` AND buyer = $%d`, argIdx)
		args = append(args, ident.NormalizeAddr(filter.Buyer))
		argIdx++
	}
	if filter.Seller != "" {
		query += fmt.Sprintf(` AND seller = $%d`, argIdx)
		args = append(args, ident.NormalizeAddr(filter.Seller))
		argIdx++
	}
	query += ` ORDER BY saved_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list receipts")
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
	return receipts, eris.Wrap(rows.Err(), "postgres: list receipts iterate")
}

func (s *PostgresStore) SaveGrant(ctx context.Context, listingID ident.Identifier, buyer, txHash string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO grants (listing_id, buyer, tx_hash, granted_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (listing_id, buyer) DO NOTHING`,
		listingID.Hex(), ident.NormalizeAddr(buyer), txHash, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: save grant")
}

func (s *PostgresStore) HasGrant(ctx context.Context, listingID ident.Identifier, buyer string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM grants WHERE listing_id = $1 AND buyer = $2`,
		listingID.Hex(), ident.NormalizeAddr(buyer),
	).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, eris.Wrap(err, "postgres: has grant")
	}
	return true, nil
}

func (s *PostgresStore) GrantedListings(ctx context.Context, buyer string) ([]ident.Identifier, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT listing_id FROM grants WHERE buyer = $1 ORDER BY granted_at DESC`,
		ident.NormalizeAddr(buyer),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: granted listings")
	}
	defer rows.Close()

	var ids []ident.Identifier
	for rows.Next() {
		var hexID string
		if err := rows.Scan(&hexID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan grant")
		}
		id, err := ident.Parse(hexID)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: parse grant id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: granted listings iterate")
}

func (s *PostgresStore) GetCachedListing(ctx context.Context, listingID ident.Identifier) (*model.Listing, error) {
	var listingJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT listing FROM listing_cache WHERE id = $1 AND expires_at > now()`,
		listingID.Hex(),
	).Scan(&listingJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get cached listing")
	}

	var l model.Listing
	if err := json.Unmarshal(listingJSON, &l); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal cached listing")
	}
	return &l, nil
}

func (s *PostgresStore) SetCachedListing(ctx context.Context, l model.Listing, ttl time.Duration) error {
	listingJSON, err := json.Marshal(l)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal listing")
	}
	now := time.Now().UTC()

	_, err = s.pool.Exec(ctx,
		`INSERT INTO listing_cache (id, listing, cached_at, expires_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET listing = $2, cached_at = $3, expires_at = $4`,
		l.ListingID.Hex(), listingJSON, now, now.Add(ttl),
	)
	return eris.Wrap(err, "postgres: set cached listing")
}

func (s *PostgresStore) DeleteExpiredListings(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM listing_cache WHERE expires_at <= now()`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired listings")
	}
	return int(tag.RowsAffected()), nil
}

// RefreshListingCache bulk-upserts a marketplace snapshot into the cache
// in one round trip, e.g. after walking a seller's full listing set.
func (s *PostgresStore) RefreshListingCache(ctx context.Context, listings []model.Listing, ttl time.Duration) (int64, error) {
	if len(listings) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	rows := make([][]any, 0, len(listings))
	for _, l := range listings {
		listingJSON, err := json.Marshal(l)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal listing")
		}
		rows = append(rows, []any{l.ListingID.Hex(), listingJSON, now, expiresAt})
	}

	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "listing_cache",
		Columns:      []string{"id", "listing", "cached_at", "expires_at"},
		ConflictKeys: []string{"id"},
	}, rows)
}
