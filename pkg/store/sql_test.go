package store_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/trustprimitive/core/pkg/canonicalize"
	"github.com/trustprimitive/core/pkg/contracts"
	"github.com/trustprimitive/core/pkg/store"
)

func TestSQLStore_CreateNegotiation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := store.NewSQLStore(db, store.DialectPostgres)
	ctx := context.Background()

	n := newTestNegotiation()

	mock.ExpectExec("INSERT INTO negotiations").
		WithArgs(n.NegotiationID.String(), string(n.Status), n.TermsVersion, n.NegotiationDeadline.String(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.CreateNegotiation(ctx, n))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_AppendReceipt_RejectsBadPreviousHash(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := store.NewSQLStore(db, store.DialectSQLite)
	ctx := context.Background()
	principal := uuid.New()

	mock.ExpectQuery("SELECT MAX\\(seq\\)").
		WithArgs(principal.String()).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))

	r := contracts.Receipt{
		ReceiptID:    uuid.New(),
		PrincipalID:  principal,
		Action:       contracts.ActionCreateNegotiation,
		ContentHash:  "hash-1",
		PreviousHash: "not-genesis",
		CreatedAt:    canonicalize.NewTimestamp(time.Now()),
	}

	err = s.AppendReceipt(ctx, r)
	require.ErrorIs(t, err, store.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_GetNegotiation_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := store.NewSQLStore(db, store.DialectPostgres)
	ctx := context.Background()
	id := uuid.New()

	mock.ExpectQuery("SELECT body FROM negotiations").
		WithArgs(id.String()).
		WillReturnError(sql.ErrNoRows)

	_, err = s.GetNegotiation(ctx, id)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
