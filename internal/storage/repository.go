package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fxvol/internal/accounts"
	"fxvol/internal/alerting"
	"fxvol/internal/volatility"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	getTierSQL = `SELECT tier FROM accounts WHERE email = $1;`

	setTierSQL = `INSERT INTO accounts (email, tier) VALUES ($1, $2)
    ON CONFLICT (email) DO UPDATE
    SET tier = EXCLUDED.tier,
        updated_at = now();`

	registerSQL = `INSERT INTO accounts (email, tier) VALUES ($1, 'Free')
    ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
    RETURNING email, tier;`

	countByTierSQL = `SELECT COUNT(*) FROM accounts WHERE tier = $1;`

	swapAlertSQL = `INSERT INTO alert_records (
        subject,
        condition,
        level,
        score,
        fired_at
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (subject) DO UPDATE
    SET condition = EXCLUDED.condition,
        level     = EXCLUDED.level,
        score     = EXCLUDED.score,
        fired_at  = EXCLUDED.fired_at
    WHERE alert_records.condition IS DISTINCT FROM EXCLUDED.condition
    RETURNING subject;`

	getAlertSQL = `SELECT condition, level, score, fired_at FROM alert_records WHERE subject = $1;`

	clearAlertSQL = `DELETE FROM alert_records WHERE subject = $1;`

	upsertSnapshotSQL = `INSERT INTO volatility_snapshots (
        bucket_ts,
        subject,
        vol_pct,
        atr,
        score,
        level,
        bars
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (bucket_ts, subject) DO UPDATE
    SET vol_pct = EXCLUDED.vol_pct,
        atr     = EXCLUDED.atr,
        score   = EXCLUDED.score,
        level   = EXCLUDED.level,
        bars    = EXCLUDED.bars;`

	listRecentSnapshotsSQL = `SELECT
        bucket_ts,
        subject,
        vol_pct,
        atr,
        score,
        level,
        bars,
        created_at
    FROM volatility_snapshots
    ORDER BY bucket_ts DESC, subject
    LIMIT $1;`

	listSnapshotsBetweenSQL = `SELECT
        bucket_ts,
        subject,
        vol_pct,
        atr,
        score,
        level,
        bars,
        created_at
    FROM volatility_snapshots
    WHERE bucket_ts >= $1
      AND bucket_ts < $2
    ORDER BY bucket_ts, subject;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SnapshotStore defines operations for volatility snapshot persistence.
type SnapshotStore interface {
	UpsertSnapshots(ctx context.Context, snapshots []Snapshot) error
	ListRecentSnapshots(ctx context.Context, limit int) ([]Snapshot, error)
	ListSnapshotsBetween(ctx context.Context, from, to time.Time) ([]Snapshot, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to accounts, alert records, and snapshots.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
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
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// GetTier implements accounts.Store.
func (s *Store) GetTier(ctx context.Context, email string) (accounts.Tier, error) {
	pool, err := s.getPool()
	if err != nil {
		return accounts.TierFree, err
	}
	var raw string
	err = pool.QueryRow(ctx, getTierSQL, accounts.NormalizeEmail(email)).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return accounts.TierFree, nil
	}
	if err != nil {
		return accounts.TierFree, fmt.Errorf("get tier: %w", err)
	}
	return accounts.ParseTier(raw)
}

// SetTier implements accounts.Store.
func (s *Store) SetTier(ctx context.Context, email string, tier accounts.Tier) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	key := accounts.NormalizeEmail(email)
	if key == "" {
		return fmt.Errorf("account email is required")
	}
	if _, err := pool.Exec(ctx, setTierSQL, key, string(tier)); err != nil {
		return fmt.Errorf("set tier: %w", err)
	}
	return nil
}

// Register implements accounts.Store.
func (s *Store) Register(ctx context.Context, email string) (accounts.Account, error) {
	pool, err := s.getPool()
	if err != nil {
		return accounts.Account{}, err
	}
	key := accounts.NormalizeEmail(email)
	if key == "" {
		return accounts.Account{}, fmt.Errorf("account email is required")
	}
	var acct accounts.Account
	var raw string
	if err := pool.QueryRow(ctx, registerSQL, key).Scan(&acct.Email, &raw); err != nil {
		return accounts.Account{}, fmt.Errorf("register account: %w", err)
	}
	if acct.Tier, err = accounts.ParseTier(raw); err != nil {
		return accounts.Account{}, err
	}
	return acct, nil
}

// CountByTier implements accounts.Store.
func (s *Store) CountByTier(ctx context.Context, tier accounts.Tier) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int
	if err := pool.QueryRow(ctx, countByTierSQL, string(tier)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return count, nil
}

// Swap implements alerting.RecordStore with a conditional upsert.
func (s *Store) Swap(ctx context.Context, rec alerting.Record) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	var subject string
	err = pool.QueryRow(ctx, swapAlertSQL,
		rec.Subject,
		rec.Condition,
		rec.Level.String(),
		rec.Score,
		rec.FiredAt,
	).Scan(&subject)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("swap alert record: %w", err)
	}
	return true, nil
}

// Get implements alerting.RecordStore.
func (s *Store) Get(ctx context.Context, subject string) (alerting.Record, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return alerting.Record{}, false, err
	}
	rec := alerting.Record{Subject: subject}
	var level string
	err = pool.QueryRow(ctx, getAlertSQL, subject).Scan(&rec.Condition, &level, &rec.Score, &rec.FiredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return alerting.Record{}, false, nil
	}
	if err != nil {
		return alerting.Record{}, false, fmt.Errorf("get alert record: %w", err)
	}
	if rec.Level, err = volatility.ParseLevel(level); err != nil {
		return alerting.Record{}, false, err
	}
	return rec, true, nil
}

// Clear implements alerting.RecordStore.
func (s *Store) Clear(ctx context.Context, subject string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, clearAlertSQL, subject); err != nil {
		return fmt.Errorf("clear alert record: %w", err)
	}
	return nil
}

// UpsertSnapshots persists one cycle's readings in a single batch.
func (s *Store) UpsertSnapshots(ctx context.Context, snapshots []Snapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, snap := range snapshots {
		var atr any
		if snap.ATR != nil && !math.IsNaN(*snap.ATR) {
			atr = *snap.ATR
		}
		batch.Queue(upsertSnapshotSQL,
			snap.Bucket,
			snap.Subject,
			snap.VolPct,
			atr,
			snap.Score,
			snap.Level.String(),
			snap.Bars,
		)
	}

	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert snapshots: %w", err)
	}
	return nil
}

// ListRecentSnapshots lists the most recent snapshots ordered by descending bucket.
func (s *Store) ListRecentSnapshots(ctx context.Context, limit int) ([]Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listRecentSnapshotsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent snapshots: %w", err)
	}
	return collectSnapshots(rows)
}

// ListSnapshotsBetween lists snapshots within a time window.
func (s *Store) ListSnapshotsBetween(ctx context.Context, from, to time.Time) ([]Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listSnapshotsBetweenSQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("list snapshots between: %w", err)
	}
	return collectSnapshots(rows)
}

func collectSnapshots(rows pgx.Rows) ([]Snapshot, error) {
	defer rows.Close()

	snapshots := make([]Snapshot, 0)
	for rows.Next() {
		var (
			snap  Snapshot
			level string
		)
		if err := rows.Scan(
			&snap.Bucket,
			&snap.Subject,
			&snap.VolPct,
			&snap.ATR,
			&snap.Score,
			&level,
			&snap.Bars,
			&snap.CreatedAt,
		); err != nil {
			return nil, err
		}
		parsed, err := volatility.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		snap.Level = parsed
		snapshots = append(snapshots, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snapshots, nil
}

var (
	_ accounts.Store       = (*Store)(nil)
	_ alerting.RecordStore = (*Store)(nil)
	_ SnapshotStore        = (*Store)(nil)
	_ AdvisoryLocker       = (*Store)(nil)
)
