package sqldb

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/blockvault/internal/app"
	"github.com/haukened/blockvault/internal/domain"
)

const (
	testID   = "0123456789abcdef0123456789abcdef"
	pgClock  = "((extract(epoch from clock_timestamp()) * 1000)::bigint)"
	blobJSON = `{"encrypted_blob":"tok"}`
)

var blockCols = []string{"id", "name", "blockref", "data", "created", "updated"}

func newMock(t *testing.T) (sqlmock.Sqlmock, app.DBTX) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return mock, db
}

func TestForName(t *testing.T) {
	d, err := ForName("sqlite")
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", d.Driver)
	d, err = ForName("postgres")
	require.NoError(t, err)
	assert.Equal(t, "pgx", d.Driver)
	_, err = ForName("mysql")
	assert.ErrorIs(t, err, ErrUnknownDialect)
}

func TestBind(t *testing.T) {
	q := `UPDATE t SET a = ?, b = ? WHERE c = ?`
	assert.Equal(t, q, SQLite.bind(q))
	assert.Equal(t, `UPDATE t SET a = $1, b = $2 WHERE c = $3`, Postgres.bind(q))
}

func TestPostgresInitSchema(t *testing.T) {
	mock, db := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS block_data`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS configuration`)).WillReturnError(assert.AnError)

	err := InitSchema(context.Background(), db, Postgres)
	assert.ErrorIs(t, err, assert.AnError)
	for _, stmt := range Postgres.Schema() {
		assert.Contains(t, stmt, "JSONB")
		assert.Contains(t, stmt, "UNIQUE")
	}
}

func TestPostgresInsert(t *testing.T) {
	mock, db := newMock(t)
	ix := NewBlockIndex(Postgres)
	q := regexp.QuoteMeta(`INSERT INTO block_data (name, blockref, data) VALUES ($1, $2, $3)`)

	mock.ExpectExec(q).WithArgs("n", "r", blobJSON).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, ix.Insert(context.Background(), db, "n", "r", env("tok")))

	mock.ExpectExec(q).WithArgs("n", "r", blobJSON).WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})
	err := ix.Insert(context.Background(), db, "n", "r", env("tok"))
	assert.ErrorIs(t, err, domain.ErrDuplicateName)

	mock.ExpectExec(q).WithArgs("n", "r", blobJSON).WillReturnError(&pgconn.PgError{Code: "23502"})
	err = ix.Insert(context.Background(), db, "n", "r", env("tok"))
	assert.NotErrorIs(t, err, domain.ErrDuplicateName)
	assert.Error(t, err)
}

func TestPostgresSelectByIDLocks(t *testing.T) {
	mock, db := newMock(t)
	ix := NewBlockIndex(Postgres)
	sel := `SELECT id, name, blockref, data, created, updated FROM block_data WHERE id = $1`

	mock.ExpectQuery(regexp.QuoteMeta(sel + ` FOR UPDATE`)).WithArgs(testID).WillReturnRows(
		sqlmock.NewRows(blockCols).AddRow(testID, "n", "r", []byte(blobJSON), int64(1700000000000), int64(1700000000500)))
	rec, err := ix.SelectByID(context.Background(), db, domain.BlockID(testID), true)
	require.NoError(t, err)
	assert.Equal(t, domain.BlockRecord{
		ID:             domain.BlockID(testID),
		Name:           "n",
		BlockReference: "r",
		Data:           env("tok"),
		Created:        time.UnixMilli(1700000000000).UTC(),
		Updated:        time.UnixMilli(1700000000500).UTC(),
	}, rec)

	mock.ExpectQuery(regexp.QuoteMeta(sel) + `$`).WithArgs(testID).WillReturnRows(sqlmock.NewRows(blockCols))
	_, err = ix.SelectByID(context.Background(), db, domain.BlockID(testID), false)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPostgresSelectByNameError(t *testing.T) {
	mock, db := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM block_data WHERE name = $1`)).WithArgs("n").WillReturnError(assert.AnError)
	_, err := NewBlockIndex(Postgres).SelectByName(context.Background(), db, "n")
	assert.ErrorIs(t, err, assert.AnError)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
}

func TestPostgresUpdate(t *testing.T) {
	mock, db := newMock(t)
	ix := NewBlockIndex(Postgres)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE block_data SET blockref = $1, updated = ` + pgClock + ` WHERE name = $2`)).
		WithArgs("r2", "n").WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := ix.Update(context.Background(), db, "n", app.BlockFields{BlockReference: strPtr("r2")})
	require.NoError(t, err)
	assert.True(t, ok)

	e := env("tok")
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE block_data SET name = $1, blockref = $2, data = $3, updated = ` + pgClock + ` WHERE name = $4`)).
		WithArgs("m", "r3", blobJSON, "n").WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = ix.Update(context.Background(), db, "n", app.BlockFields{Name: strPtr("m"), BlockReference: strPtr("r3"), Data: &e})
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE block_data SET name = $1`)).
		WithArgs("taken", "n").WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})
	_, err = ix.Update(context.Background(), db, "n", app.BlockFields{Name: strPtr("taken")})
	assert.ErrorIs(t, err, domain.ErrDuplicateName)
}

func TestPostgresDelete(t *testing.T) {
	mock, db := newMock(t)
	q := regexp.QuoteMeta(`DELETE FROM block_data WHERE name = $1`)
	mock.ExpectExec(q).WithArgs("n").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("n").WillReturnError(assert.AnError)

	ix := NewBlockIndex(Postgres)
	ok, err := ix.DeleteByName(context.Background(), db, "n")
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = ix.DeleteByName(context.Background(), db, "n")
	assert.ErrorIs(t, err, assert.AnError)
}

func TestPostgresConfigStore(t *testing.T) {
	mock, db := newMock(t)
	cs := NewConfigStore(Postgres)
	ins := regexp.QuoteMeta(`INSERT INTO configuration (key_name, value) VALUES ($1, $2) ON CONFLICT (key_name) DO NOTHING`)
	val := `{"fernet_key":"k"}`
	cfg := domain.Configuration{Key: "K", Value: map[string]any{"fernet_key": "k"}}

	mock.ExpectExec(ins).WithArgs("K", val).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, cs.Create(context.Background(), db, cfg))

	mock.ExpectExec(ins).WithArgs("K", val).WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, cs.Create(context.Background(), db, cfg), domain.ErrConfigurationExists)

	mock.ExpectExec(ins).WithArgs("K", val).WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})
	assert.ErrorIs(t, cs.Create(context.Background(), db, cfg), domain.ErrConfigurationExists)

	sel := regexp.QuoteMeta(`SELECT value FROM configuration WHERE key_name = $1`)
	mock.ExpectQuery(sel).WithArgs("K").WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(val)))
	got, err := cs.ReadByKey(context.Background(), db, "K")
	require.NoError(t, err)
	assert.Equal(t, cfg, got)

	mock.ExpectQuery(sel).WithArgs("K").WillReturnRows(sqlmock.NewRows([]string{"value"}))
	_, err = cs.ReadByKey(context.Background(), db, "K")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPostgresTxRunner(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	r := TxRunner{DB: db}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM block_data`)).WithArgs("n").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	require.NoError(t, r.InTx(context.Background(), func(tx app.DBTX) error {
		_, err := NewBlockIndex(Postgres).DeleteByName(context.Background(), tx, "n")
		return err
	}))

	mock.ExpectBegin()
	mock.ExpectRollback()
	err = r.InTx(context.Background(), func(app.DBTX) error { return assert.AnError })
	assert.ErrorIs(t, err, assert.AnError)

	mock.ExpectBegin().WillReturnError(assert.AnError)
	err = r.InTx(context.Background(), func(app.DBTX) error { return nil })
	assert.ErrorIs(t, err, assert.AnError)

	assert.NoError(t, mock.ExpectationsWereMet())
}
