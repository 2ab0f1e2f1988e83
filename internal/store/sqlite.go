package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fx_hedger/internal/core"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS hedge_records (
	id                  TEXT PRIMARY KEY,
	cycle_id            TEXT NOT NULL,
	account             TEXT NOT NULL,
	bucket_year         INTEGER NOT NULL,
	bucket_month        INTEGER NOT NULL,
	npv                 REAL NOT NULL,
	initial_npv         REAL NOT NULL,
	loss_limit          REAL NOT NULL,
	adjusted_loss_limit REAL NOT NULL,
	realized_pnl        REAL NOT NULL,
	unrealized_pnl      REAL NOT NULL,
	volatility          REAL NOT NULL,
	breach_probability  REAL NOT NULL,
	fraction_hedged     REAL NOT NULL,
	max_pnl             REAL NOT NULL,
	min_client_cash     REAL NOT NULL,
	created_at          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_hedge_records_key
	ON hedge_records (account, bucket_year, bucket_month, created_at);

CREATE TABLE IF NOT EXISTS spot_positions (
	id             TEXT PRIMARY KEY,
	cycle_id       TEXT NOT NULL,
	account        TEXT NOT NULL,
	base           TEXT NOT NULL,
	quote          TEXT NOT NULL,
	bucket_year    INTEGER NOT NULL,
	bucket_month   INTEGER NOT NULL,
	amount         REAL NOT NULL,
	total_price    REAL NOT NULL,
	realized_pnl   REAL NOT NULL,
	unrealized_pnl REAL NOT NULL,
	created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_spot_positions_key
	ON spot_positions (account, base, quote, bucket_year, bucket_month, created_at);
`

// SQLiteStore is a file-backed core.RecordStore
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and creates if needed) the database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Enable WAL mode for crash recovery
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveHedgeRecord(ctx context.Context, rec *core.HedgeRecord) error {
	query := `INSERT INTO hedge_records
		(id, cycle_id, account, bucket_year, bucket_month, npv, initial_npv,
		 loss_limit, adjusted_loss_limit, realized_pnl, unrealized_pnl,
		 volatility, breach_probability, fraction_hedged, max_pnl,
		 min_client_cash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.CycleID, string(rec.Account), rec.Bucket.Year, int(rec.Bucket.Month),
		rec.NPV, rec.InitialNPV, rec.LossLimit, rec.AdjustedLossLimit,
		rec.RealizedPnL, rec.UnrealizedPnL, rec.Volatility,
		rec.BreachProbability, rec.FractionHedged, rec.MaxPnL,
		rec.MinClientCash, rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to write hedge record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LatestHedgeRecord(ctx context.Context, account core.AccountID, bucket core.BucketKey) (*core.HedgeRecord, error) {
	query := `SELECT id, cycle_id, npv, initial_npv, loss_limit, adjusted_loss_limit,
		realized_pnl, unrealized_pnl, volatility, breach_probability,
		fraction_hedged, max_pnl, min_client_cash, created_at
		FROM hedge_records
		WHERE account = ? AND bucket_year = ? AND bucket_month = ?
		ORDER BY created_at DESC LIMIT 1`

	rec := &core.HedgeRecord{Account: account, Bucket: bucket}
	var createdAt int64
	err := s.db.QueryRowContext(ctx, query, string(account), bucket.Year, int(bucket.Month)).Scan(
		&rec.ID, &rec.CycleID, &rec.NPV, &rec.InitialNPV, &rec.LossLimit,
		&rec.AdjustedLossLimit, &rec.RealizedPnL, &rec.UnrealizedPnL,
		&rec.Volatility, &rec.BreachProbability, &rec.FractionHedged,
		&rec.MaxPnL, &rec.MinClientCash, &createdAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read hedge record: %w", err)
	}
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	return rec, nil
}

func (s *SQLiteStore) SaveSpotPosition(ctx context.Context, rec *core.SpotPositionRecord) error {
	query := `INSERT INTO spot_positions
		(id, cycle_id, account, base, quote, bucket_year, bucket_month,
		 amount, total_price, realized_pnl, unrealized_pnl, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.CycleID, string(rec.Account),
		string(rec.Pair.Base), string(rec.Pair.Quote),
		rec.Bucket.Year, int(rec.Bucket.Month),
		rec.Amount, rec.TotalPrice, rec.RealizedPnL, rec.UnrealizedPnL,
		rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to write spot position: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LatestSpotPosition(ctx context.Context, account core.AccountID, pair core.CurrencyPair, bucket core.BucketKey) (*core.SpotPositionRecord, error) {
	query := `SELECT id, cycle_id, amount, total_price, realized_pnl, unrealized_pnl, created_at
		FROM spot_positions
		WHERE account = ? AND base = ? AND quote = ? AND bucket_year = ? AND bucket_month = ?
		ORDER BY created_at DESC LIMIT 1`

	rec := &core.SpotPositionRecord{Account: account, Pair: pair, Bucket: bucket}
	var createdAt int64
	err := s.db.QueryRowContext(ctx, query,
		string(account), string(pair.Base), string(pair.Quote),
		bucket.Year, int(bucket.Month),
	).Scan(&rec.ID, &rec.CycleID, &rec.Amount, &rec.TotalPrice, &rec.RealizedPnL, &rec.UnrealizedPnL, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read spot position: %w", err)
	}
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	return rec, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
