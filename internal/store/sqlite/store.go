// Package sqlite implements the PositionStore contract on SQLite.
//
// The position row and its applied-transaction records live in the same
// database and every Save/Update commits them in one transaction, so
// "position updated" and "transaction marked applied" are all-or-nothing.
// Concurrent writers are serialized with an optimistic version column.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"position-ledger/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Config configures the SQLite store.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/positions.db"
}

// Store is a SQLite-backed PositionStore.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database, enables WAL mode, and creates the schema.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened position database at %s", cfg.DBPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS positions (
			id                        TEXT    PRIMARY KEY,
			ticker                    TEXT    NOT NULL UNIQUE,
			shares_owned              TEXT    NOT NULL,
			average_cost_per_share    TEXT    NOT NULL,
			total_invested_amount     TEXT    NOT NULL,
			total_transaction_fees    TEXT    NOT NULL,
			first_purchase_date       INTEGER,
			currency                  TEXT    NOT NULL,
			latest_market_price       TEXT    NOT NULL,
			market_price_last_updated INTEGER,
			total_market_value        TEXT    NOT NULL,
			unrealized_gain_loss      TEXT    NOT NULL,
			exchange                  TEXT,
			country                   TEXT,
			last_event_applied_at     INTEGER NOT NULL,
			version                   INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS position_transactions (
			position_id    TEXT NOT NULL REFERENCES positions(id) ON DELETE CASCADE,
			transaction_id TEXT NOT NULL,
			PRIMARY KEY (position_id, transaction_id)
		);
	`)
	return err
}

const positionColumns = `id, ticker, shares_owned, average_cost_per_share,
	total_invested_amount, total_transaction_fees, first_purchase_date,
	currency, latest_market_price, market_price_last_updated,
	total_market_value, unrealized_gain_loss, exchange, country,
	last_event_applied_at, version`

// FindByTicker returns the position for ticker, or model.ErrNotFound.
func (s *Store) FindByTicker(ctx context.Context, ticker string) (*model.Position, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE ticker = ?`, ticker)
	return s.scanWithApplied(ctx, row)
}

// FindByID returns the position with the given ID, or model.ErrNotFound.
func (s *Store) FindByID(ctx context.Context, id string) (*model.Position, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)
	return s.scanWithApplied(ctx, row)
}

// FindAll returns every stored position ordered by ticker.
func (s *Store) FindAll(ctx context.Context) ([]*model.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+positionColumns+` FROM positions ORDER BY ticker`)
	if err != nil {
		return nil, fmt.Errorf("sqlite select all: %w", err)
	}
	defer rows.Close()

	var out []*model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, p := range out {
		if err := s.loadApplied(ctx, p); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Save inserts a new position with version 1 and its applied-transaction
// records in one transaction. A ticker collision (the creation race)
// surfaces as model.ErrDuplicateTicker.
func (s *Store) Save(ctx context.Context, p *model.Position) (*model.Position, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	cp := p.Clone()
	cp.Version = 1

	_, err = tx.ExecContext(ctx, `
		INSERT INTO positions (`+positionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		insertArgs(cp)...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, model.ErrDuplicateTicker
		}
		return nil, fmt.Errorf("sqlite insert position: %w", err)
	}

	for _, id := range cp.AppliedIDs() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO position_transactions (position_id, transaction_id) VALUES (?, ?)`,
			cp.ID, id); err != nil {
			return nil, fmt.Errorf("sqlite insert applied id: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite commit: %w", err)
	}
	return cp, nil
}

// Update atomically replaces the position row (guarded by version) and
// synchronizes the applied-transaction set by writing only the symmetric
// difference between the desired and stored ID sets.
func (s *Store) Update(ctx context.Context, p *model.Position) (*model.Position, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	cp := p.Clone()
	cp.Version = p.Version + 1

	res, err := tx.ExecContext(ctx, `
		UPDATE positions SET
			shares_owned = ?, average_cost_per_share = ?,
			total_invested_amount = ?, total_transaction_fees = ?,
			first_purchase_date = ?, currency = ?,
			latest_market_price = ?, market_price_last_updated = ?,
			total_market_value = ?, unrealized_gain_loss = ?,
			exchange = ?, country = ?, last_event_applied_at = ?,
			version = ?
		WHERE id = ? AND version = ?`,
		cp.SharesOwned.String(), cp.AverageCostPerShare.String(),
		cp.TotalInvestedAmount.String(), cp.TotalTransactionFees.String(),
		unixOrNil(cp.FirstPurchaseDate), string(cp.Currency),
		cp.LatestMarketPrice.String(), unixOrNil(cp.MarketPriceLastUpdated),
		cp.TotalMarketValue.String(), cp.UnrealizedGainLoss.String(),
		cp.Exchange, cp.Country, cp.LastEventAppliedAt.Unix(),
		cp.Version, cp.ID, p.Version)
	if err != nil {
		return nil, fmt.Errorf("sqlite update position: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, model.ErrVersionConflict
	}

	if err := syncApplied(ctx, tx, cp); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite commit: %w", err)
	}
	return cp, nil
}

// syncApplied writes only the delta between the stored and desired
// applied-transaction sets.
func syncApplied(ctx context.Context, tx *sql.Tx, p *model.Position) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT transaction_id FROM position_transactions WHERE position_id = ?`, p.ID)
	if err != nil {
		return fmt.Errorf("sqlite select applied ids: %w", err)
	}
	stored := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		stored[id] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for id := range p.Applied {
		if _, ok := stored[id]; !ok {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO position_transactions (position_id, transaction_id) VALUES (?, ?)`,
				p.ID, id); err != nil {
				return fmt.Errorf("sqlite insert applied id: %w", err)
			}
		}
	}
	for id := range stored {
		if _, ok := p.Applied[id]; !ok {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM position_transactions WHERE position_id = ? AND transaction_id = ?`,
				p.ID, id); err != nil {
				return fmt.Errorf("sqlite delete applied id: %w", err)
			}
		}
	}
	return nil
}

// ExistsByTicker reports whether a position exists for ticker.
func (s *Store) ExistsByTicker(ctx context.Context, ticker string) (bool, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM positions WHERE ticker = ?`, ticker).Scan(&n)
	return n > 0, err
}

// CountAll returns the total number of positions.
func (s *Store) CountAll(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM positions`).Scan(&n)
	return n, err
}

// CountWithShares returns the number of positions currently holding shares.
func (s *Store) CountWithShares(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM positions WHERE CAST(shares_owned AS REAL) > 0`).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// ── scanning helpers ──

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (*model.Position, error) {
	var (
		p                              model.Position
		shares, avg, invested, fees    string
		price, marketValue, unrealized string
		firstPurchase, priceUpdated    sql.NullInt64
		currency                       string
		exchange, country              sql.NullString
		lastEventAt                    int64
	)

	err := row.Scan(&p.ID, &p.Ticker, &shares, &avg, &invested, &fees,
		&firstPurchase, &currency, &price, &priceUpdated,
		&marketValue, &unrealized, &exchange, &country, &lastEventAt, &p.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite scan position: %w", err)
	}

	if p.SharesOwned, err = decimal.NewFromString(shares); err != nil {
		return nil, fmt.Errorf("sqlite decode shares: %w", err)
	}
	if p.AverageCostPerShare, err = decimal.NewFromString(avg); err != nil {
		return nil, fmt.Errorf("sqlite decode avg cost: %w", err)
	}
	if p.TotalInvestedAmount, err = decimal.NewFromString(invested); err != nil {
		return nil, fmt.Errorf("sqlite decode invested: %w", err)
	}
	if p.TotalTransactionFees, err = decimal.NewFromString(fees); err != nil {
		return nil, fmt.Errorf("sqlite decode fees: %w", err)
	}
	if p.LatestMarketPrice, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("sqlite decode market price: %w", err)
	}
	if p.TotalMarketValue, err = decimal.NewFromString(marketValue); err != nil {
		return nil, fmt.Errorf("sqlite decode market value: %w", err)
	}
	if p.UnrealizedGainLoss, err = decimal.NewFromString(unrealized); err != nil {
		return nil, fmt.Errorf("sqlite decode unrealized: %w", err)
	}

	p.Currency = model.Currency(currency)
	p.Exchange = exchange.String
	p.Country = country.String
	p.LastEventAppliedAt = time.Unix(lastEventAt, 0).UTC()
	if firstPurchase.Valid {
		d := time.Unix(firstPurchase.Int64, 0).UTC()
		p.FirstPurchaseDate = &d
	}
	if priceUpdated.Valid {
		d := time.Unix(priceUpdated.Int64, 0).UTC()
		p.MarketPriceLastUpdated = &d
	}
	p.Applied = make(map[string]struct{})
	return &p, nil
}

func (s *Store) scanWithApplied(ctx context.Context, row rowScanner) (*model.Position, error) {
	p, err := scanPosition(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadApplied(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) loadApplied(ctx context.Context, p *model.Position) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT transaction_id FROM position_transactions WHERE position_id = ?`, p.ID)
	if err != nil {
		return fmt.Errorf("sqlite select applied ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		p.MarkApplied(id)
	}
	return rows.Err()
}

func insertArgs(p *model.Position) []any {
	return []any{
		p.ID, p.Ticker, p.SharesOwned.String(), p.AverageCostPerShare.String(),
		p.TotalInvestedAmount.String(), p.TotalTransactionFees.String(),
		unixOrNil(p.FirstPurchaseDate), string(p.Currency),
		p.LatestMarketPrice.String(), unixOrNil(p.MarketPriceLastUpdated),
		p.TotalMarketValue.String(), p.UnrealizedGainLoss.String(),
		p.Exchange, p.Country, p.LastEventAppliedAt.Unix(), p.Version,
	}
}

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
