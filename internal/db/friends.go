package db

import (
	"context"
	"fmt"
)

// FriendRepository handles friendship operations.
type FriendRepository struct {
	q Querier
}

// Friends returns a FriendRepository running on q.
func Friends(q Querier) *FriendRepository {
	return &FriendRepository{q: q}
}

// Request records a pending request from one user to another. A request in
// either direction that already exists is ErrConflict; an unknown addressee
// is ErrNotFound.
func (r *FriendRepository) Request(ctx context.Context, from, to int64) error {
	var exists bool
	err := r.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM friendships
			WHERE (requester_id = $1 AND addressee_id = $2)
			   OR (requester_id = $2 AND addressee_id = $1)
		)`, from, to,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking friendship: %w", err)
	}
	if exists {
		return ErrConflict
	}

	_, err = r.q.Exec(ctx, `
		INSERT INTO friendships (requester_id, addressee_id, status, created_at)
		VALUES ($1, $2, 'pending', NOW())`,
		from, to,
	)
	switch {
	case isUniqueViolation(err):
		return ErrConflict
	case isForeignKeyViolation(err):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("inserting friendship: %w", err)
	}
	return nil
}

// Accept accepts a pending request sent by requester to addressee.
func (r *FriendRepository) Accept(ctx context.Context, requester, addressee int64) error {
	result, err := r.q.Exec(ctx, `
		UPDATE friendships
		SET status = 'accepted', accepted_at = NOW()
		WHERE requester_id = $1 AND addressee_id = $2 AND status = 'pending'`,
		requester, addressee,
	)
	if err != nil {
		return fmt.Errorf("accepting friendship: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns every friendship the user is part of, seen from their side.
func (r *FriendRepository) List(ctx context.Context, userID int64) ([]Friend, error) {
	query := `
		SELECT u.id, u.first_name, u.username, u.photo_url,
			f.status, f.addressee_id = $1 AS incoming,
			COALESCE(f.accepted_at, f.created_at)
		FROM friendships f
		JOIN users u ON u.id = CASE WHEN f.requester_id = $1 THEN f.addressee_id ELSE f.requester_id END
		WHERE f.requester_id = $1 OR f.addressee_id = $1
		ORDER BY f.status, u.first_name, u.id
	`
	rows, err := r.q.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying friends: %w", err)
	}
	defer rows.Close()

	var friends []Friend
	for rows.Next() {
		var f Friend
		err := rows.Scan(
			&f.User.ID,
			&f.User.FirstName,
			&f.User.Username,
			&f.User.PhotoURL,
			&f.Status,
			&f.Incoming,
			&f.Since,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning friend: %w", err)
		}
		friends = append(friends, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating friends: %w", err)
	}
	return friends, nil
}
