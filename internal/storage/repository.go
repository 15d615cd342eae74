package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertTradeSQL = `INSERT INTO paper_trades (
        uid,
        scan_id,
        symbol,
        side,
        status,
        opened_at,
        entry,
        tp,
        sl,
        oco_trigger,
        oco_limit,
        max_favorable_pct,
        max_adverse_pct,
        notes
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
    )
    ON CONFLICT (uid) DO NOTHING;`

	closeTradeSQL = `UPDATE paper_trades
    SET status = 'CLOSED',
        close_reason = $2,
        closed_at = $3,
        max_favorable_pct = $4,
        max_adverse_pct = $5
    WHERE uid = $1
      AND status = 'OPEN';`

	updateExcursionsSQL = `UPDATE paper_trades
    SET max_favorable_pct = GREATEST(max_favorable_pct, $2),
        max_adverse_pct   = GREATEST(max_adverse_pct, $3)
    WHERE uid = $1
      AND status = 'OPEN';`

	tradeColumns = `uid,
        scan_id,
        symbol,
        side,
        status,
        opened_at,
        closed_at,
        entry::text,
        tp::text,
        sl::text,
        oco_trigger::text,
        oco_limit::text,
        close_reason,
        max_favorable_pct::text,
        max_adverse_pct::text,
        notes,
        created_at`

	listOpenTradesSQL = `SELECT ` + tradeColumns + `
    FROM paper_trades
    WHERE status = 'OPEN'
    ORDER BY opened_at;`

	listRecentTradesSQL = `SELECT ` + tradeColumns + `
    FROM paper_trades
    ORDER BY opened_at DESC
    LIMIT $1;`

	countCloseReasonsSQL = `SELECT close_reason, COUNT(*)
    FROM paper_trades
    WHERE status = 'CLOSED'
      AND closed_at >= $1
      AND closed_at < $2
    GROUP BY close_reason;`

	listClosedBetweenSQL = `SELECT ` + tradeColumns + `
    FROM paper_trades
    WHERE status = 'CLOSED'
      AND closed_at >= $1
      AND closed_at < $2
    ORDER BY closed_at;`

	insertRejectionSQL = `INSERT INTO rejections (
        scan_id,
        symbol,
        reason,
        details
    ) VALUES (
        $1,$2,$3,$4
    );`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// TradeStore defines paper trade persistence operations.
type TradeStore interface {
	InsertPaperTrade(ctx context.Context, trade PaperTrade) (bool, error)
	ListOpenTrades(ctx context.Context) ([]PaperTrade, error)
	ListRecentTrades(ctx context.Context, limit int) ([]PaperTrade, error)
	ListClosedTradesBetween(ctx context.Context, from, to time.Time) ([]PaperTrade, error)
	ClosePaperTrade(ctx context.Context, uid, reason string, closedAt time.Time, favorable, adverse decimal.Decimal) error
	UpdateExcursions(ctx context.Context, uid string, favorable, adverse decimal.Decimal) error
	CountCloseReasons(ctx context.Context, from, to time.Time) (map[string]int64, error)
}

// RejectionStore defines rejection diagnostics persistence.
type RejectionStore interface {
	InsertRejections(ctx context.Context, rows []RejectionRow) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to paper trades and rejection records.
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

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a
// release func. Used to skip a manually triggered scan that overlaps the
// scheduled one.
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
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertPaperTrade inserts a trade if its uid is absent. The bool result
// reports whether a row was actually written; a duplicate uid is a no-op.
func (s *Store) InsertPaperTrade(ctx context.Context, trade PaperTrade) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	cmdTag, execErr := pool.Exec(ctx, insertTradeSQL,
		trade.UID,
		trade.ScanID,
		trade.Symbol,
		trade.Side,
		trade.Status,
		trade.OpenedAt,
		trade.Entry.String(),
		trade.TP.String(),
		trade.SL.String(),
		trade.OCOTrigger.String(),
		trade.OCOLimit.String(),
		trade.MaxFavorablePct.String(),
		trade.MaxAdversePct.String(),
		trade.Notes,
	)
	if execErr != nil {
		return false, fmt.Errorf("insert paper trade: %w", execErr)
	}
	return cmdTag.RowsAffected() > 0, nil
}

// ListOpenTrades lists all currently open trades, oldest first.
func (s *Store) ListOpenTrades(ctx context.Context) ([]PaperTrade, error) {
	return s.listTrades(ctx, listOpenTradesSQL)
}

// ListRecentTrades lists the most recently opened trades.
func (s *Store) ListRecentTrades(ctx context.Context, limit int) ([]PaperTrade, error) {
	return s.listTrades(ctx, listRecentTradesSQL, limit)
}

// ListClosedTradesBetween lists trades closed within [from, to).
func (s *Store) ListClosedTradesBetween(ctx context.Context, from, to time.Time) ([]PaperTrade, error) {
	return s.listTrades(ctx, listClosedBetweenSQL, from, to)
}

func (s *Store) listTrades(ctx context.Context, query string, args ...any) ([]PaperTrade, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("list trades: %w", queryErr)
	}
	defer rows.Close()

	trades := make([]PaperTrade, 0)
	for rows.Next() {
		trade, scanErr := scanTrade(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		trades = append(trades, trade)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return trades, nil
}

// ClosePaperTrade transitions an open trade to CLOSED with the given reason.
// Closing an already-closed trade is a no-op.
func (s *Store) ClosePaperTrade(ctx context.Context, uid, reason string, closedAt time.Time, favorable, adverse decimal.Decimal) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, closeTradeSQL, uid, reason, closedAt, favorable.String(), adverse.String()); execErr != nil {
		return fmt.Errorf("close paper trade: %w", execErr)
	}
	return nil
}

// UpdateExcursions ratchets the favorable/adverse excursion highs for a
// trade that stays open after a settle pass.
func (s *Store) UpdateExcursions(ctx context.Context, uid string, favorable, adverse decimal.Decimal) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, updateExcursionsSQL, uid, favorable.String(), adverse.String()); execErr != nil {
		return fmt.Errorf("update excursions: %w", execErr)
	}
	return nil
}

// CountCloseReasons aggregates closed trades by reason within [from, to).
func (s *Store) CountCloseReasons(ctx context.Context, from, to time.Time) (map[string]int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, countCloseReasonsSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("count close reasons: %w", queryErr)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var reason sql.NullString
		var count int64
		if err := rows.Scan(&reason, &count); err != nil {
			return nil, err
		}
		if reason.Valid {
			counts[reason.String] = count
		}
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return counts, nil
}

// InsertRejections appends rejection diagnostics, one row per record.
func (s *Store) InsertRejections(ctx context.Context, rejections []RejectionRow) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, row := range rejections {
		batch.Queue(insertRejectionSQL, row.ScanID, row.Symbol, row.Reason, []byte(row.Details))
	}
	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	for range rejections {
		if _, execErr := results.Exec(); execErr != nil {
			return fmt.Errorf("insert rejection: %w", execErr)
		}
	}
	return nil
}

func scanTrade(rows pgx.Rows) (PaperTrade, error) {
	var (
		trade        PaperTrade
		closedAt     sql.NullTime
		entryStr     string
		tpStr        string
		slStr        string
		ocoTrigStr   string
		ocoLimitStr  string
		closeReason  sql.NullString
		favorableStr string
		adverseStr   string
	)

	if err := rows.Scan(
		&trade.UID,
		&trade.ScanID,
		&trade.Symbol,
		&trade.Side,
		&trade.Status,
		&trade.OpenedAt,
		&closedAt,
		&entryStr,
		&tpStr,
		&slStr,
		&ocoTrigStr,
		&ocoLimitStr,
		&closeReason,
		&favorableStr,
		&adverseStr,
		&trade.Notes,
		&trade.CreatedAt,
	); err != nil {
		return PaperTrade{}, err
	}

	var err error
	if trade.Entry, err = decimal.NewFromString(entryStr); err != nil {
		return PaperTrade{}, fmt.Errorf("parse entry: %w", err)
	}
	if trade.TP, err = decimal.NewFromString(tpStr); err != nil {
		return PaperTrade{}, fmt.Errorf("parse tp: %w", err)
	}
	if trade.SL, err = decimal.NewFromString(slStr); err != nil {
		return PaperTrade{}, fmt.Errorf("parse sl: %w", err)
	}
	if trade.OCOTrigger, err = decimal.NewFromString(ocoTrigStr); err != nil {
		return PaperTrade{}, fmt.Errorf("parse oco trigger: %w", err)
	}
	if trade.OCOLimit, err = decimal.NewFromString(ocoLimitStr); err != nil {
		return PaperTrade{}, fmt.Errorf("parse oco limit: %w", err)
	}
	if trade.MaxFavorablePct, err = decimal.NewFromString(favorableStr); err != nil {
		return PaperTrade{}, fmt.Errorf("parse max favorable pct: %w", err)
	}
	if trade.MaxAdversePct, err = decimal.NewFromString(adverseStr); err != nil {
		return PaperTrade{}, fmt.Errorf("parse max adverse pct: %w", err)
	}

	if closedAt.Valid {
		value := closedAt.Time
		trade.ClosedAt = &value
	}
	if closeReason.Valid {
		value := closeReason.String
		trade.CloseReason = &value
	}
	return trade, nil
}
