package sqldb

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T, dialect Dialect) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, dialect), mock
}

func TestRebind(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		in      string
		want    string
	}{
		{"sqlite untouched", SQLite, "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = ? AND b = ?"},
		{"postgres numbered", Postgres, "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = $1 AND b = $2"},
		{"literal question mark kept", Postgres, "SELECT '?' FROM t WHERE a = ?", "SELECT '?' FROM t WHERE a = $1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Rebind(tt.dialect, tt.in))
		})
	}
}

func TestParseDialect(t *testing.T) {
	d, err := ParseDialect("PostgreSQL")
	require.NoError(t, err)
	assert.Equal(t, Postgres, d)
	assert.Equal(t, "PostgreSQL", d.DisplayName())

	d, err = ParseDialect("")
	require.NoError(t, err)
	assert.Equal(t, SQLite, d)

	_, err = ParseDialect("oracle")
	assert.Error(t, err)
}

func TestListTables(t *testing.T) {
	db, mock := newMock(t, SQLite)
	mock.ExpectQuery("SELECT name FROM sqlite_master").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("skills").AddRow("candidates"))

	names, err := db.ListTables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"candidates", "skills"}, names)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListTablesPostgres(t *testing.T) {
	db, mock := newMock(t, Postgres)
	mock.ExpectQuery("FROM information_schema.tables").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("candidates"))

	names, err := db.ListTables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"candidates"}, names)
}

func TestDescribeTables(t *testing.T) {
	db, mock := newMock(t, SQLite)
	mock.ExpectQuery("pragma_table_info").WithArgs("candidates").
		WillReturnRows(sqlmock.NewRows([]string{"name", "type", "notnull", "pk"}).
			AddRow("id", "INTEGER", 1, 1).
			AddRow("email", "TEXT", 1, 0))
	mock.ExpectQuery("pragma_table_info").WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"name", "type", "notnull", "pk"}))

	tables, err := db.DescribeTables(context.Background(), []string{"candidates", "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
	require.Len(t, tables, 1)
	assert.Equal(t, Column{Name: "id", Type: "INTEGER", NotNull: true, PrimaryKey: true}, tables[0].Columns[0])
	assert.Equal(t, "email", tables[0].Columns[1].Name)
}

func TestQuery(t *testing.T) {
	t.Run("caps rows", func(t *testing.T) {
		db, mock := newMock(t, SQLite)
		mock.ExpectQuery("SELECT full_name FROM candidates").
			WillReturnRows(sqlmock.NewRows([]string{"full_name"}).
				AddRow([]byte("Ada")).AddRow("Grace").AddRow("Linus"))

		rows, err := db.Query(context.Background(), "SELECT full_name FROM candidates", 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"full_name"}, rows.Columns)
		assert.Equal(t, [][]any{{"Ada"}, {"Grace"}}, rows.Values)
		assert.True(t, rows.Truncated)
	})

	t.Run("backend rejection is an error", func(t *testing.T) {
		db, mock := newMock(t, SQLite)
		mock.ExpectQuery("SELECT nope").WillReturnError(errors.New("no such column: nope"))

		_, err := db.Query(context.Background(), "SELECT nope FROM candidates", 10)
		assert.EqualError(t, err, "no such column: nope")
	})
}
