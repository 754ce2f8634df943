package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// StatsRepository handles persisted streak statistics and leaderboards.
type StatsRepository struct {
	q Querier
}

// Stats returns a StatsRepository running on q.
func Stats(q Querier) *StatsRepository {
	return &StatsRepository{q: q}
}

// Upsert stores stats, replacing any earlier copy.
func (r *StatsRepository) Upsert(ctx context.Context, stats *UserStats) error {
	query := `
		INSERT INTO user_stats (user_id, current_streak, longest_streak, total_days, computed_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			current_streak = EXCLUDED.current_streak,
			longest_streak = EXCLUDED.longest_streak,
			total_days = EXCLUDED.total_days,
			computed_at = EXCLUDED.computed_at
		RETURNING computed_at
	`
	err := r.q.QueryRow(ctx, query,
		stats.UserID,
		stats.CurrentStreak,
		stats.LongestStreak,
		stats.TotalDays,
	).Scan(&stats.ComputedAt)
	if err != nil {
		return fmt.Errorf("upserting stats: %w", err)
	}
	return nil
}

// Get retrieves the stored stats of a user.
func (r *StatsRepository) Get(ctx context.Context, userID int64) (*UserStats, error) {
	var s UserStats
	err := r.q.QueryRow(ctx, `
		SELECT user_id, current_streak, longest_streak, total_days, computed_at
		FROM user_stats WHERE user_id = $1`,
		userID,
	).Scan(&s.UserID, &s.CurrentStreak, &s.LongestStreak, &s.TotalDays, &s.ComputedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying stats: %w", err)
	}
	return &s, nil
}

// StreakLeaderboard ranks public users by current streak.
func (r *StatsRepository) StreakLeaderboard(ctx context.Context, limit int) ([]LeaderboardRow, error) {
	query := `
		SELECT u.id, u.first_name, u.username, u.photo_url, s.current_streak::bigint
		FROM user_stats s
		JOIN users u ON u.id = s.user_id
		WHERE u.is_public AND s.current_streak > 0
		ORDER BY s.current_streak DESC, s.longest_streak DESC, u.id
		LIMIT $1
	`
	return r.leaderboard(ctx, query, limit)
}

// CoinLeaderboard ranks public users by coin balance.
func (r *StatsRepository) CoinLeaderboard(ctx context.Context, limit int) ([]LeaderboardRow, error) {
	query := `
		SELECT l.id, l.first_name, l.username, u.photo_url, l.coins
		FROM leaderboard_coins l
		JOIN users u ON u.id = l.id
		WHERE l.coins > 0
		ORDER BY l.coins DESC, l.id
		LIMIT $1
	`
	return r.leaderboard(ctx, query, limit)
}

func (r *StatsRepository) leaderboard(ctx context.Context, query string, limit int) ([]LeaderboardRow, error) {
	rows, err := r.q.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying leaderboard: %w", err)
	}
	defer rows.Close()

	var board []LeaderboardRow
	for rows.Next() {
		row := LeaderboardRow{Rank: len(board) + 1}
		if err := rows.Scan(&row.User.ID, &row.User.FirstName, &row.User.Username, &row.User.PhotoURL, &row.Score); err != nil {
			return nil, fmt.Errorf("scanning leaderboard row: %w", err)
		}
		board = append(board, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating leaderboard: %w", err)
	}
	return board, nil
}
