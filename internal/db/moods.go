package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// MoodRepository handles check-in database operations.
type MoodRepository struct {
	q Querier
}

// Moods returns a MoodRepository running on q.
func Moods(q Querier) *MoodRepository {
	return &MoodRepository{q: q}
}

// Create inserts a check-in.
func (r *MoodRepository) Create(ctx context.Context, entry *MoodEntry) error {
	query := `
		INSERT INTO mood_entries (id, user_id, entry_date, mood, note, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING created_at
	`
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	err := r.q.QueryRow(ctx, query,
		entry.ID,
		entry.UserID,
		entry.EntryDate,
		entry.Mood,
		entry.Note,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting mood entry: %w", err)
	}
	return nil
}

// List returns the user's most recent check-ins, newest first.
func (r *MoodRepository) List(ctx context.Context, userID int64, limit int) ([]MoodEntry, error) {
	query := `
		SELECT id, user_id, entry_date, mood, note, created_at
		FROM mood_entries
		WHERE user_id = $1
		ORDER BY entry_date DESC, created_at DESC
		LIMIT $2
	`
	rows, err := r.q.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying mood entries: %w", err)
	}
	defer rows.Close()

	var entries []MoodEntry
	for rows.Next() {
		var e MoodEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.EntryDate, &e.Mood, &e.Note, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning mood entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating mood entries: %w", err)
	}
	return entries, nil
}

// Dates returns the distinct calendar days on which the user checked in.
// The filter on user_id keeps the result correct on admin handles too.
func (r *MoodRepository) Dates(ctx context.Context, userID int64) ([]time.Time, error) {
	query := `
		SELECT DISTINCT entry_date
		FROM mood_entries
		WHERE user_id = $1
		ORDER BY entry_date
	`
	rows, err := r.q.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying entry dates: %w", err)
	}
	dates, err := pgx.CollectRows(rows, pgx.RowTo[time.Time])
	if err != nil {
		return nil, fmt.Errorf("collecting entry dates: %w", err)
	}
	return dates, nil
}
