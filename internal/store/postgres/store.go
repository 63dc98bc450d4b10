package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cryptobot/internal/market"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	_ market.AssetStore      = (*Store)(nil)
	_ market.HistoryStore    = (*Store)(nil)
	_ market.TickStore       = (*Store)(nil)
	_ market.IntervalClaimer = (*Store)(nil)
	_ market.LedgerStore     = (*Store)(nil)
)

type Store struct {
	db              *pgxpool.Pool
	startingBalance int64
}

func New(db *pgxpool.Pool, startingBalance int64) *Store {
	return &Store{db: db, startingBalance: startingBalance}
}

func (s *Store) CreateAsset(ctx context.Context, a market.Asset) (market.Asset, error) {
	var price string
	err := s.db.QueryRow(ctx, `
		INSERT INTO assets (tag, name, price, volatility)
		VALUES ($1, $2, $3::numeric, $4)
		RETURNING id, tag, name, price::text, volatility, created_at, updated_at
	`, market.NormalizeTag(a.Tag), a.Name, a.Price.String(), a.Volatility).Scan(
		&a.ID, &a.Tag, &a.Name, &price, &a.Volatility, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return market.Asset{}, market.ErrDuplicateAsset
		}
		return market.Asset{}, unavailable(err)
	}
	if a.Price, err = decimal.NewFromString(price); err != nil {
		return market.Asset{}, fmt.Errorf("parse price: %w", err)
	}
	return a, nil
}

func (s *Store) RemoveAsset(ctx context.Context, tag string) error {
	cmd, err := s.db.Exec(ctx, `DELETE FROM assets WHERE tag = $1`, market.NormalizeTag(tag))
	if err != nil {
		return unavailable(err)
	}
	if cmd.RowsAffected() == 0 {
		return market.ErrNotFound
	}
	return nil
}

func (s *Store) GetAsset(ctx context.Context, tag string) (market.Asset, bool, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, tag, name, price::text, volatility, created_at, updated_at
		FROM assets
		WHERE tag = $1
	`, market.NormalizeTag(tag))
	a, err := scanAsset(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return market.Asset{}, false, nil
		}
		return market.Asset{}, false, unavailable(err)
	}
	return a, true, nil
}

func (s *Store) ListAssets(ctx context.Context) ([]market.Asset, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, tag, name, price::text, volatility, created_at, updated_at
		FROM assets
		ORDER BY tag
	`)
	if err != nil {
		return nil, unavailable(err)
	}
	out, err := collectAssets(rows)
	if err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

func (s *Store) ApplyDelta(ctx context.Context, assetID, delta int64) (decimal.Decimal, error) {
	var price string
	err := s.db.QueryRow(ctx, `
		UPDATE assets
		SET price = GREATEST(price + $1, 1), updated_at = now()
		WHERE id = $2
		RETURNING price::text
	`, delta, assetID).Scan(&price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, market.ErrNotFound
		}
		return decimal.Zero, unavailable(err)
	}
	return decimal.NewFromString(price)
}

func (s *Store) RecordSample(ctx context.Context, sample market.PriceSample) error {
	if sample.TickID == uuid.Nil {
		sample.TickID = uuid.New()
	}
	return insertSample(ctx, s.db, sample)
}

func (s *Store) QuerySamples(ctx context.Context, assetID int64, since time.Time) ([]market.PriceSample, error) {
	rows, err := s.db.Query(ctx, `
		SELECT asset_id, tick_id::text, price::text, recorded_at
		FROM price_history
		WHERE asset_id = $1 AND recorded_at >= $2
		ORDER BY recorded_at DESC, id DESC
	`, assetID, since)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()
	var out []market.PriceSample
	for rows.Next() {
		var p market.PriceSample
		var tickID, price string
		if err := rows.Scan(&p.AssetID, &tickID, &price, &p.RecordedAt); err != nil {
			return nil, unavailable(err)
		}
		if p.TickID, err = uuid.Parse(tickID); err != nil {
			return nil, fmt.Errorf("parse tick id: %w", err)
		}
		if p.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

// RunTick locks every asset row, records the pre-tick prices and applies the deltas in
// one transaction. A retried tick id does not duplicate history rows.
func (s *Store) RunTick(ctx context.Context, tickID uuid.UUID, at time.Time, step market.StepFunc) ([]market.PriceChange, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, unavailable(err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, tag, name, price::text, volatility, created_at, updated_at
		FROM assets
		ORDER BY tag
		FOR UPDATE
	`)
	if err != nil {
		return nil, unavailable(err)
	}
	assets, err := collectAssets(rows)
	if err != nil {
		return nil, unavailable(err)
	}

	changes := make([]market.PriceChange, 0, len(assets))
	for _, a := range assets {
		next := market.ClampPrice(a.Price, step(a))
		if err := insertSample(ctx, tx, market.PriceSample{
			AssetID:    a.ID,
			TickID:     tickID,
			Price:      a.Price,
			RecordedAt: at,
		}); err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE assets
			SET price = $1::numeric, updated_at = $2
			WHERE id = $3
		`, next.String(), at, a.ID); err != nil {
			return nil, unavailable(err)
		}
		changes = append(changes, market.PriceChange{AssetID: a.ID, Tag: a.Tag, Old: a.Price, New: next})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, unavailable(err)
	}
	return changes, nil
}

// ClaimInterval advances the shared tick clock to slot. Only the first walker to reach
// a slot wins it, for any number of processes on one database.
func (s *Store) ClaimInterval(ctx context.Context, slot time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO tick_clock (id, last_slot)
		VALUES (TRUE, $1)
		ON CONFLICT (id) DO UPDATE SET last_slot = EXCLUDED.last_slot
		WHERE tick_clock.last_slot < EXCLUDED.last_slot
	`, slot)
	if err != nil {
		return false, unavailable(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) GetOrCreate(ctx context.Context, userID string) (market.Account, error) {
	if _, err := s.db.Exec(ctx, `
		INSERT INTO accounts (user_id, balance)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, s.startingBalance); err != nil {
		return market.Account{}, unavailable(err)
	}
	acct, ok, err := s.Get(ctx, userID)
	if err != nil {
		return market.Account{}, err
	}
	if !ok {
		return market.Account{}, fmt.Errorf("%w: account %s vanished after insert", market.ErrStorageUnavailable, userID)
	}
	return acct, nil
}

func (s *Store) Get(ctx context.Context, userID string) (market.Account, bool, error) {
	var acct market.Account
	var holdings string
	err := s.db.QueryRow(ctx, `
		SELECT user_id, balance, holdings::text, version, created_at, updated_at
		FROM accounts
		WHERE user_id = $1
	`, userID).Scan(&acct.UserID, &acct.Balance, &holdings, &acct.Version, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return market.Account{}, false, nil
		}
		return market.Account{}, false, unavailable(err)
	}
	acct.Holdings = map[string]int64{}
	if err := json.Unmarshal([]byte(holdings), &acct.Holdings); err != nil {
		return market.Account{}, false, fmt.Errorf("decode holdings: %w", err)
	}
	return acct, true, nil
}

func (s *Store) Commit(ctx context.Context, acct market.Account) error {
	holdings := make(map[string]int64, len(acct.Holdings))
	for tag, qty := range acct.Holdings {
		if qty != 0 {
			holdings[tag] = qty
		}
	}
	raw, err := json.Marshal(holdings)
	if err != nil {
		return err
	}
	cmd, err := s.db.Exec(ctx, `
		INSERT INTO accounts (user_id, balance, holdings, version)
		VALUES ($1, $2, $3::jsonb, $4 + 1)
		ON CONFLICT (user_id) DO UPDATE
		SET balance = EXCLUDED.balance,
		    holdings = EXCLUDED.holdings,
		    version = EXCLUDED.version,
		    updated_at = now()
		WHERE accounts.version = $4
	`, acct.UserID, acct.Balance, string(raw), acct.Version)
	if err != nil {
		return unavailable(err)
	}
	if cmd.RowsAffected() == 0 {
		return market.ErrConflict
	}
	return nil
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func insertSample(ctx context.Context, db execer, sample market.PriceSample) error {
	if _, err := db.Exec(ctx, `
		INSERT INTO price_history (asset_id, tick_id, price, recorded_at)
		VALUES ($1, $2::uuid, $3::numeric, $4)
		ON CONFLICT (asset_id, tick_id) DO NOTHING
	`, sample.AssetID, sample.TickID.String(), sample.Price.String(), sample.RecordedAt); err != nil {
		return unavailable(err)
	}
	return nil
}

func scanAsset(row pgx.Row) (market.Asset, error) {
	var a market.Asset
	var price string
	if err := row.Scan(&a.ID, &a.Tag, &a.Name, &price, &a.Volatility, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return market.Asset{}, err
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return market.Asset{}, fmt.Errorf("parse price: %w", err)
	}
	a.Price = p
	return a, nil
}

func collectAssets(rows pgx.Rows) ([]market.Asset, error) {
	defer rows.Close()
	var out []market.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func unavailable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", market.ErrStorageUnavailable, err)
}
