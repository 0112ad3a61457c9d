package storage

import (
	"context"
	"database/sql"
	"strings"

	sqlite3 "github.com/mattn/go-sqlite3"

	"median-fee-estimator/internal/estimator"
)

const (
	sqliteCreateTableSQL = `CREATE TABLE median_fee_estimator (
    measure_key INTEGER PRIMARY KEY AUTOINCREMENT,
    high NUMBER NOT NULL,
    middle NUMBER NOT NULL,
    low NUMBER NOT NULL
)`

	sqliteTableExistsSQL = `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`

	sqliteInsertSQL = `INSERT INTO median_fee_estimator (high, middle, low) VALUES (?, ?, ?)`

	// Keys are signed 64-bit, so a window larger than the newest key yields
	// a negative cutoff and deletes nothing.
	sqliteTrimSQL = `DELETE FROM median_fee_estimator
    WHERE measure_key <= (
        SELECT MAX(measure_key) - ?
        FROM median_fee_estimator)`

	sqliteRecentSQL = `SELECT measure_key, high, middle, low
    FROM median_fee_estimator
    ORDER BY measure_key DESC
    LIMIT ?`

	sqliteCountSQL = `SELECT COUNT(*) FROM median_fee_estimator`
)

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SQLiteStore keeps the window in a SQLite file.
type SQLiteStore struct {
	path          string
	db            *sql.DB
	windowSize    uint32
	driverVersion string
}

// OpenSQLite opens or creates the database at path. The file may already
// hold the window table, or tables of unrelated estimators.
func OpenSQLite(ctx context.Context, path string, windowSize uint32) (store *SQLiteStore, err error) {
	if windowSize == 0 {
		return nil, ErrInvalidWindow
	}

	db, err := sql.Open("sqlite3", sqliteDSN(path))
	if err != nil {
		return nil, estimator.WrapStorage("open sqlite", err)
	}
	defer func() {
		if store == nil {
			db.Close()
		}
	}()
	// One connection: the store has a single owner, and ":memory:" databases
	// are per connection.
	db.SetMaxOpenConns(1)

	if err := instantiateSQLite(ctx, db); err != nil {
		return nil, err
	}

	driverVer, _, _ := sqlite3.Version()
	return &SQLiteStore{
		path:          path,
		db:            db,
		windowSize:    windowSize,
		driverVersion: driverVer,
	}, nil
}

// sqliteDSN enables create-if-missing URIs, BEGIN IMMEDIATE transactions
// and a busy timeout for files shared between processes.
func sqliteDSN(path string) string {
	params := "_txlock=immediate&_busy_timeout=5000"
	if path == ":memory:" {
		return "file::memory:?" + params
	}
	if strings.HasPrefix(path, "file:") {
		if strings.Contains(path, "?") {
			return path + "&" + params
		}
		return path + "?" + params
	}
	return "file:" + path + "?" + params
}

// instantiateSQLite creates the table unless it exists. The check runs in
// the same immediate transaction as the create, so racing openers of one
// file serialise on the write lock.
func instantiateSQLite(ctx context.Context, db *sql.DB) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return estimator.WrapStorage("begin schema", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var count int
	if err = tx.QueryRowContext(ctx, sqliteTableExistsSQL, TableName).Scan(&count); err != nil {
		return estimator.WrapStorage("check schema", err)
	}
	if count == 0 {
		if _, err = tx.ExecContext(ctx, sqliteCreateTableSQL); err != nil {
			return estimator.WrapStorage("create table", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return estimator.WrapStorage("commit schema", err)
	}
	return nil
}

// Path returns the database location.
func (s *SQLiteStore) Path() string {
	return s.path
}

// DriverVersion returns the linked SQLite library version.
func (s *SQLiteStore) DriverVersion() string {
	return s.driverVersion
}

// WindowSize returns the number of retained rows.
func (s *SQLiteStore) WindowSize() uint32 {
	return s.windowSize
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record inserts est, trims the window and reads the new aggregate in one
// transaction. On any failure nothing is applied.
func (s *SQLiteStore) Record(ctx context.Context, est estimator.FeeRateEstimate) (agg estimator.FeeRateEstimate, err error) {
	if s == nil || s.db == nil {
		return estimator.FeeRateEstimate{}, ErrNotConfigured
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return estimator.FeeRateEstimate{}, estimator.WrapStorage("begin record", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, sqliteInsertSQL, est.High, est.Middle, est.Low); err != nil {
		return estimator.FeeRateEstimate{}, estimator.WrapStorage("insert estimate", err)
	}
	if _, err = tx.ExecContext(ctx, sqliteTrimSQL, s.windowSize); err != nil {
		return estimator.FeeRateEstimate{}, estimator.WrapStorage("trim window", err)
	}

	rows, err := s.recent(ctx, tx)
	if err != nil {
		return estimator.FeeRateEstimate{}, err
	}
	if agg, err = aggregate(rows); err != nil {
		return estimator.FeeRateEstimate{}, err
	}

	if err = tx.Commit(); err != nil {
		return estimator.FeeRateEstimate{}, estimator.WrapStorage("commit record", err)
	}
	return agg, nil
}

// Current aggregates the retained window.
func (s *SQLiteStore) Current(ctx context.Context) (estimator.FeeRateEstimate, error) {
	if s == nil || s.db == nil {
		return estimator.FeeRateEstimate{}, ErrNotConfigured
	}
	rows, err := s.recent(ctx, s.db)
	if err != nil {
		return estimator.FeeRateEstimate{}, err
	}
	return aggregate(rows)
}

// History lists the retained measurements, newest first.
func (s *SQLiteStore) History(ctx context.Context) ([]Measurement, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	return s.recent(ctx, s.db)
}

// Count returns the number of persisted rows.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrNotConfigured
	}
	var count int64
	if err := s.db.QueryRowContext(ctx, sqliteCountSQL).Scan(&count); err != nil {
		return 0, estimator.WrapStorage("count rows", err)
	}
	return count, nil
}

func (s *SQLiteStore) recent(ctx context.Context, q querier) ([]Measurement, error) {
	rows, err := q.QueryContext(ctx, sqliteRecentSQL, s.windowSize)
	if err != nil {
		return nil, estimator.WrapStorage("query window", err)
	}
	defer rows.Close()

	out := make([]Measurement, 0, s.windowSize)
	for rows.Next() {
		var m Measurement
		if err := rows.Scan(&m.Key, &m.High, &m.Middle, &m.Low); err != nil {
			return nil, estimator.WrapStorage("scan window", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, estimator.WrapStorage("iterate window", err)
	}
	return out, nil
}

var _ WindowStore = (*SQLiteStore)(nil)
