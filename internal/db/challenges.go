package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ChallengeRepository handles the public challenge catalog.
type ChallengeRepository struct {
	q Querier
}

// Challenges returns a ChallengeRepository running on q.
func Challenges(q Querier) *ChallengeRepository {
	return &ChallengeRepository{q: q}
}

const challengeQuery = `
	SELECT c.id, c.title, c.description, c.target_days, c.starts_on, c.ends_on,
		(SELECT COUNT(*) FROM challenge_participants p WHERE p.challenge_id = c.id)::int
	FROM challenges c
`

func scanChallenge(row pgx.Row) (*Challenge, error) {
	var c Challenge
	err := row.Scan(&c.ID, &c.Title, &c.Description, &c.TargetDays, &c.StartsOn, &c.EndsOn, &c.Participants)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// List returns every challenge, newest first.
func (r *ChallengeRepository) List(ctx context.Context) ([]Challenge, error) {
	rows, err := r.q.Query(ctx, challengeQuery+` ORDER BY c.starts_on DESC, c.title`)
	if err != nil {
		return nil, fmt.Errorf("querying challenges: %w", err)
	}
	defer rows.Close()

	var challenges []Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning challenge: %w", err)
		}
		challenges = append(challenges, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating challenges: %w", err)
	}
	return challenges, nil
}

// Get retrieves a challenge by ID.
func (r *ChallengeRepository) Get(ctx context.Context, id uuid.UUID) (*Challenge, error) {
	c, err := scanChallenge(r.q.QueryRow(ctx, challengeQuery+` WHERE c.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying challenge: %w", err)
	}
	return c, nil
}

// Join adds the user to a challenge. Joining twice is ErrConflict.
func (r *ChallengeRepository) Join(ctx context.Context, challengeID uuid.UUID, userID int64) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO challenge_participants (challenge_id, user_id, joined_at)
		VALUES ($1, $2, NOW())`,
		challengeID, userID,
	)
	switch {
	case isUniqueViolation(err):
		return ErrConflict
	case isForeignKeyViolation(err):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("joining challenge: %w", err)
	}
	return nil
}
