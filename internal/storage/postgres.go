package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"median-fee-estimator/internal/estimator"
)

// schemaLockKey serialises table creation across instances sharing a
// database.
const schemaLockKey int64 = 0x6d656469616e

const (
	pgSchemaLockSQL = `SELECT pg_advisory_xact_lock($1);`

	pgTableExistsSQL = `SELECT to_regclass($1) IS NOT NULL;`

	pgCreateTableSQL = `CREATE TABLE median_fee_estimator (
        measure_key BIGSERIAL PRIMARY KEY,
        high        DOUBLE PRECISION NOT NULL,
        middle      DOUBLE PRECISION NOT NULL,
        low         DOUBLE PRECISION NOT NULL
    );`

	pgInsertSQL = `INSERT INTO median_fee_estimator (high, middle, low) VALUES ($1, $2, $3);`

	pgTrimSQL = `DELETE FROM median_fee_estimator
    WHERE measure_key <= (
        SELECT MAX(measure_key) - $1::bigint
        FROM median_fee_estimator);`

	pgRecentSQL = `SELECT measure_key, high, middle, low
    FROM median_fee_estimator
    ORDER BY measure_key DESC
    LIMIT $1;`

	pgCountSQL = `SELECT COUNT(*) FROM median_fee_estimator;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// PostgresStore keeps the window in a shared PostgreSQL database.
type PostgresStore struct {
	pool       *pgxpool.Pool
	windowSize uint32
}

// NewPostgresStore wires a pgx pool into a PostgresStore and creates the
// window table if it does not exist yet.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, windowSize uint32) (*PostgresStore, error) {
	if windowSize == 0 {
		return nil, ErrInvalidWindow
	}
	s := &PostgresStore{pool: pool, windowSize: windowSize}
	if err := s.instantiate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

func (s *PostgresStore) instantiate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return estimator.WrapStorage("begin schema", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, pgSchemaLockSQL, schemaLockKey); err != nil {
		return estimator.WrapStorage("lock schema", err)
	}
	var exists bool
	if err := tx.QueryRow(ctx, pgTableExistsSQL, TableName).Scan(&exists); err != nil {
		return estimator.WrapStorage("check schema", err)
	}
	if !exists {
		if _, err := tx.Exec(ctx, pgCreateTableSQL); err != nil {
			return estimator.WrapStorage("create table", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return estimator.WrapStorage("commit schema", err)
	}
	return nil
}

// WindowSize returns the number of retained rows.
func (s *PostgresStore) WindowSize() uint32 {
	return s.windowSize
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Record inserts est, trims the window and reads the new aggregate in one
// transaction.
func (s *PostgresStore) Record(ctx context.Context, est estimator.FeeRateEstimate) (estimator.FeeRateEstimate, error) {
	pool, err := s.getPool()
	if err != nil {
		return estimator.FeeRateEstimate{}, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return estimator.FeeRateEstimate{}, estimator.WrapStorage("begin record", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, pgInsertSQL, est.High, est.Middle, est.Low); err != nil {
		return estimator.FeeRateEstimate{}, estimator.WrapStorage("insert estimate", err)
	}
	if _, err := tx.Exec(ctx, pgTrimSQL, int64(s.windowSize)); err != nil {
		return estimator.FeeRateEstimate{}, estimator.WrapStorage("trim window", err)
	}

	rows, err := s.recent(ctx, tx)
	if err != nil {
		return estimator.FeeRateEstimate{}, err
	}
	agg, err := aggregate(rows)
	if err != nil {
		return estimator.FeeRateEstimate{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return estimator.FeeRateEstimate{}, estimator.WrapStorage("commit record", err)
	}
	return agg, nil
}

// Current aggregates the retained window.
func (s *PostgresStore) Current(ctx context.Context) (estimator.FeeRateEstimate, error) {
	pool, err := s.getPool()
	if err != nil {
		return estimator.FeeRateEstimate{}, err
	}
	rows, err := s.recent(ctx, pool)
	if err != nil {
		return estimator.FeeRateEstimate{}, err
	}
	return aggregate(rows)
}

// History lists the retained measurements, newest first.
func (s *PostgresStore) History(ctx context.Context) ([]Measurement, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	return s.recent(ctx, pool)
}

// Count returns the number of persisted rows.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if err := pool.QueryRow(ctx, pgCountSQL).Scan(&count); err != nil {
		return 0, estimator.WrapStorage("count rows", err)
	}
	return count, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *PostgresStore) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a failed unlock is released with the session when the connection is reset
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *PostgresStore) recent(ctx context.Context, q pgQuerier) ([]Measurement, error) {
	rows, err := q.Query(ctx, pgRecentSQL, int64(s.windowSize))
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

var (
	_ WindowStore    = (*PostgresStore)(nil)
	_ AdvisoryLocker = (*PostgresStore)(nil)
)
