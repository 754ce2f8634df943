package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// UserRepository handles user database operations.
type UserRepository struct {
	q Querier
}

// Users returns a UserRepository running on q.
func Users(q Querier) *UserRepository {
	return &UserRepository{q: q}
}

const userColumns = `id, first_name, last_name, username, language_code, photo_url, bio,
	is_public, premium_until, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var user User
	err := row.Scan(
		&user.ID,
		&user.FirstName,
		&user.LastName,
		&user.Username,
		&user.LanguageCode,
		&user.PhotoURL,
		&user.Bio,
		&user.IsPublic,
		&user.PremiumUntil,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Get retrieves a user by ID.
func (r *UserRepository) Get(ctx context.Context, id int64) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	user, err := scanUser(r.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return user, nil
}

// Upsert creates the user or refreshes the Telegram profile fields.
// Fields the user edits in the app are left alone.
func (r *UserRepository) Upsert(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, first_name, last_name, username, language_code, photo_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			username = EXCLUDED.username,
			language_code = EXCLUDED.language_code,
			photo_url = COALESCE(EXCLUDED.photo_url, users.photo_url),
			updated_at = NOW()
		RETURNING ` + userColumns
	got, err := scanUser(r.q.QueryRow(ctx, query,
		user.ID,
		user.FirstName,
		user.LastName,
		user.Username,
		user.LanguageCode,
		user.PhotoURL,
	))
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	*user = *got
	return nil
}

// ProfileUpdate holds the fields a user may change. Nil means unchanged.
type ProfileUpdate struct {
	Bio      *string `json:"bio"`
	IsPublic *bool   `json:"isPublic"`
}

// UpdateProfile applies update to the user's row.
func (r *UserRepository) UpdateProfile(ctx context.Context, id int64, update ProfileUpdate) (*User, error) {
	query := `
		UPDATE users
		SET bio = COALESCE($2, bio),
			is_public = COALESCE($3, is_public),
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns
	user, err := scanUser(r.q.QueryRow(ctx, query, id, update.Bio, update.IsPublic))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("updating profile: %w", err)
	}
	return user, nil
}

// SetPhotoURL stores the resolved Telegram profile photo.
func (r *UserRepository) SetPhotoURL(ctx context.Context, id int64, url string) error {
	result, err := r.q.Exec(ctx, `UPDATE users SET photo_url = $2, updated_at = NOW() WHERE id = $1`, id, url)
	if err != nil {
		return fmt.Errorf("updating photo: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Search finds public users whose username or first name starts with prefix.
// Only public rows are ever returned, whatever the handle's level.
func (r *UserRepository) Search(ctx context.Context, prefix string, limit int) ([]PublicUser, error) {
	query := `
		SELECT id, first_name, username, photo_url
		FROM users
		WHERE is_public
			AND (lower(username) LIKE $1 OR lower(first_name) LIKE $1)
		ORDER BY username, id
		LIMIT $2
	`
	pattern := escapeLike(strings.ToLower(prefix)) + "%"
	rows, err := r.q.Query(ctx, query, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("searching users: %w", err)
	}
	defer rows.Close()

	var users []PublicUser
	for rows.Next() {
		var u PublicUser
		if err := rows.Scan(&u.ID, &u.FirstName, &u.Username, &u.PhotoURL); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return users, nil
}

// ListIDs returns every user id in ascending order.
func (r *UserRepository) ListIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.q.Query(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("collecting user ids: %w", err)
	}
	return ids, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
