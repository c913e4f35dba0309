package db

import (
	"context"
	"hastebin/pkg/domain"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func newMySQLMock(t *testing.T) (*SQL, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	d, err := dialectFor("mysql")
	require.NoError(t, err)
	return &SQL{db: conn, dialect: d, table: "pastes", queryTimeout: time.Second}, mock
}

func TestMySQLIncrViewsSingleStatement(t *testing.T) {
	s, mock := newMySQLMock(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE pastes SET views = LAST_INSERT_ID(views + 1) WHERE id = ?")).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(3, 1))

	views, err := s.IncrViews(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, int64(3), views)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLIncrViewsMissing(t *testing.T) {
	s, mock := newMySQLMock(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE pastes SET views = LAST_INSERT_ID(views + 1) WHERE id = ?")).
		WithArgs(int64(999999)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := s.IncrViews(context.Background(), 999999)
	require.ErrorIs(t, err, domain.ErrPasteNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
