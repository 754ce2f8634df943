package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// GardenRepository handles garden plant operations.
type GardenRepository struct {
	q Querier
}

// Garden returns a GardenRepository running on q.
func Garden(q Querier) *GardenRepository {
	return &GardenRepository{q: q}
}

// Plant inserts a plant.
func (r *GardenRepository) Plant(ctx context.Context, p *Plant) error {
	query := `
		INSERT INTO garden_plants (id, user_id, mood_entry_id, species, season, planted_on, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING created_at
	`
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := r.q.QueryRow(ctx, query,
		p.ID,
		p.UserID,
		p.MoodEntryID,
		p.Species,
		p.Season,
		p.PlantedOn,
	).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting plant: %w", err)
	}
	return nil
}

// List returns the user's plants, most recently planted first.
func (r *GardenRepository) List(ctx context.Context, userID int64) ([]Plant, error) {
	query := `
		SELECT id, user_id, mood_entry_id, species, season, planted_on, created_at
		FROM garden_plants
		WHERE user_id = $1
		ORDER BY planted_on DESC, created_at DESC
	`
	return r.query(ctx, query, userID)
}

// ListUnseasoned returns up to limit plants that have no season yet.
func (r *GardenRepository) ListUnseasoned(ctx context.Context, limit int) ([]Plant, error) {
	query := `
		SELECT id, user_id, mood_entry_id, species, season, planted_on, created_at
		FROM garden_plants
		WHERE season IS NULL
		ORDER BY planted_on, id
		LIMIT $1
	`
	return r.query(ctx, query, limit)
}

// SetSeason sets the season of a plant that has none.
func (r *GardenRepository) SetSeason(ctx context.Context, id uuid.UUID, season string) error {
	result, err := r.q.Exec(ctx,
		`UPDATE garden_plants SET season = $2 WHERE id = $1 AND season IS NULL`,
		id, season,
	)
	if err != nil {
		return fmt.Errorf("setting season: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GardenRepository) query(ctx context.Context, query string, args ...any) ([]Plant, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying plants: %w", err)
	}
	defer rows.Close()

	var plants []Plant
	for rows.Next() {
		var p Plant
		if err := rows.Scan(&p.ID, &p.UserID, &p.MoodEntryID, &p.Species, &p.Season, &p.PlantedOn, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning plant: %w", err)
		}
		plants = append(plants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating plants: %w", err)
	}
	return plants, nil
}
