package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LedgerRepository handles coin ledger and shop operations.
type LedgerRepository struct {
	q Querier
}

// Ledger returns a LedgerRepository running on q.
func Ledger(q Querier) *LedgerRepository {
	return &LedgerRepository{q: q}
}

// Add records entry. It reports false, without error, when the entry
// duplicates a once-only reward already on the ledger.
func (r *LedgerRepository) Add(ctx context.Context, entry *LedgerEntry) (bool, error) {
	query := `
		INSERT INTO coin_ledger (id, user_id, amount, reason, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT DO NOTHING
		RETURNING created_at
	`
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	err := r.q.QueryRow(ctx, query,
		entry.ID,
		entry.UserID,
		entry.Amount,
		entry.Reason,
		entry.Reference,
	).Scan(&entry.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("inserting ledger entry: %w", err)
	}
	return true, nil
}

// LockWallet serialises wallet changes for the user until the transaction ends.
func (r *LedgerRepository) LockWallet(ctx context.Context, userID int64) error {
	if _, err := r.q.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, userID); err != nil {
		return fmt.Errorf("locking wallet: %w", err)
	}
	return nil
}

// Balance sums the user's ledger.
func (r *LedgerRepository) Balance(ctx context.Context, userID int64) (int, error) {
	var balance int
	err := r.q.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::int FROM coin_ledger WHERE user_id = $1`,
		userID,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("querying balance: %w", err)
	}
	return balance, nil
}

// List returns the user's latest ledger entries, newest first.
func (r *LedgerRepository) List(ctx context.Context, userID int64, limit int) ([]LedgerEntry, error) {
	query := `
		SELECT id, user_id, amount, reason, reference, created_at
		FROM coin_ledger
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.q.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying ledger: %w", err)
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.Reason, &e.Reference, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ledger: %w", err)
	}
	return entries, nil
}

// Item retrieves a shop item by ID.
func (r *LedgerRepository) Item(ctx context.Context, id string) (*ShopItem, error) {
	var item ShopItem
	err := r.q.QueryRow(ctx,
		`SELECT id, name, price, premium_only FROM shop_items WHERE id = $1`,
		id,
	).Scan(&item.ID, &item.Name, &item.Price, &item.PremiumOnly)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying shop item: %w", err)
	}
	return &item, nil
}

// ShopItems returns the catalog, cheapest first.
func (r *LedgerRepository) ShopItems(ctx context.Context) ([]ShopItem, error) {
	rows, err := r.q.Query(ctx, `SELECT id, name, price, premium_only FROM shop_items ORDER BY price, id`)
	if err != nil {
		return nil, fmt.Errorf("querying shop items: %w", err)
	}
	defer rows.Close()

	var items []ShopItem
	for rows.Next() {
		var item ShopItem
		if err := rows.Scan(&item.ID, &item.Name, &item.Price, &item.PremiumOnly); err != nil {
			return nil, fmt.Errorf("scanning shop item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating shop items: %w", err)
	}
	return items, nil
}

// GrantItem adds an item to the user's inventory. Owning it already is ErrConflict.
func (r *LedgerRepository) GrantItem(ctx context.Context, userID int64, itemID string) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO user_items (user_id, item_id, acquired_at) VALUES ($1, $2, NOW())`,
		userID, itemID,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("granting item: %w", err)
	}
	return nil
}

// Items returns the ids of the items the user owns.
func (r *LedgerRepository) Items(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.q.Query(ctx,
		`SELECT item_id FROM user_items WHERE user_id = $1 ORDER BY acquired_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying items: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collecting items: %w", err)
	}
	return ids, nil
}
