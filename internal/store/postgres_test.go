package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-data/market-cli/internal/ident"
	"github.com/lattice-data/market-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresWithPool(mock), mock
}

func TestPostgresStore_SaveReceipt(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	r := testReceipt("0xBUYER00000000000000000000000000000000000")
	mock.ExpectExec(`INSERT INTO receipts`).
		WithArgs(pgxmock.AnyArg(), r.ListingID.Hex(), r.ObjectID.Hex(),
			r.Seller, "0xbuyer00000000000000000000000000000000000",
			r.Price, r.TxHash, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.SaveReceipt(context.Background(), r))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListReceipts(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	want := testReceipt("0xbuyer00000000000000000000000000000000000")
	labelsJSON, err := json.Marshal(want.Labels)
	require.NoError(t, err)

	rows := pgxmock.NewRows([]string{"listing_id", "object_id", "seller", "buyer", "price", "tx_hash", "labels", "created_at", "saved_at"}).
		AddRow(want.ListingID.Hex(), want.ObjectID.Hex(), want.Seller, want.Buyer,
			want.Price, want.TxHash, string(labelsJSON), want.CreatedAt, time.Now().UTC())

	mock.ExpectQuery(`SELECT listing_id, object_id, seller, buyer, price, tx_hash, labels, created_at, saved_at`).
		WithArgs(want.Buyer, 100).
		WillReturnRows(rows)

	got, err := s.ListReceipts(context.Background(), ReceiptFilter{Buyer: want.Buyer})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, want.ListingID, got[0].ListingID)
	assert.Equal(t, want.Labels.Categories, got[0].Labels.Categories)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_HasGrant_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	id := ident.Canonicalize("pg-grant")
	mock.ExpectQuery(`SELECT 1 FROM grants`).
		WithArgs(id.Hex(), "0xbuyer").
		WillReturnError(pgx.ErrNoRows)

	ok, err := s.HasGrant(context.Background(), id, "0xBUYER")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveGrant_Idempotent(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	id := ident.Canonicalize("pg-grant")
	mock.ExpectExec(`ON CONFLICT \(listing_id, buyer\) DO NOTHING`).
		WithArgs(id.Hex(), "0xbuyer", "0xtx", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	require.NoError(t, s.SaveGrant(context.Background(), id, "0xBuyer", "0xtx"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCachedListing_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	id := ident.Canonicalize("pg-miss")
	mock.ExpectQuery(`SELECT listing FROM listing_cache`).
		WithArgs(id.Hex()).
		WillReturnError(pgx.ErrNoRows)

	got, err := s.GetCachedListing(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetCachedListing_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	l := model.Listing{ListingID: ident.Canonicalize("pg-cache"), Price: 50000}
	mock.ExpectExec(`ON CONFLICT \(id\) DO UPDATE`).
		WithArgs(l.ListingID.Hex(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.SetCachedListing(context.Background(), l, time.Hour))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteExpiredListings(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM listing_cache`).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	n, err := s.DeleteExpiredListings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
