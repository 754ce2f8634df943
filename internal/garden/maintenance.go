package garden

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/kirakira-garden/kirakira-api/internal/db"
	"github.com/kirakira-garden/kirakira-api/internal/streak"
)

// RecomputeResult summarises a stats recompute.
type RecomputeResult struct {
	Users   int `json:"users"`
	Updated int `json:"updated"`
}

// RecomputeStats refreshes the persisted statistics of every user as of
// today. Users are split into batches; up to the configured concurrency
// batches run at once, each in its own session. The first failing batch
// cancels the rest.
func (s *Service) RecomputeStats(ctx context.Context, open Opener, today streak.Date) (*RecomputeResult, error) {
	ids, err := s.userIDs(ctx, open)
	if err != nil {
		return nil, err
	}

	var updated atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for start := 0; start < len(ids); start += s.batchSize {
		batch := ids[start:min(start+s.batchSize, len(ids))]
		g.Go(func() error {
			n, err := s.recomputeBatch(gctx, open, batch, today)
			updated.Add(int64(n))
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("recomputing stats: %w", err)
	}

	res := &RecomputeResult{Users: len(ids), Updated: int(updated.Load())}
	s.log.Infow("stats recomputed", "users", res.Users, "updated", res.Updated, "today", today.String())
	return res, nil
}

func (s *Service) userIDs(ctx context.Context, open Opener) ([]int64, error) {
	sess, err := open(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Release(ctx)

	ids, err := sess.UserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return ids, nil
}

func (s *Service) recomputeBatch(ctx context.Context, open Opener, ids []int64, today streak.Date) (int, error) {
	sess, err := open(ctx)
	if err != nil {
		return 0, err
	}
	defer sess.Release(ctx)

	for _, id := range ids {
		dates, err := s.entryDates(ctx, sess, id)
		if err != nil {
			return 0, err
		}

		stats, err := streak.Compute(dates, asOf(today, dates))
		if err != nil {
			return 0, fmt.Errorf("user %d: %w", id, err)
		}
		err = sess.UpsertStats(ctx, &db.UserStats{
			UserID:        id,
			CurrentStreak: stats.CurrentStreak,
			LongestStreak: stats.LongestStreak,
			TotalDays:     stats.TotalDays,
		})
		if err != nil {
			return 0, fmt.Errorf("user %d: %w", id, err)
		}
	}

	if err := sess.Commit(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// BackfillSeasons sets the season of every plant planted before plants had
// one. It runs in a single session and returns the number of plants updated.
func (s *Service) BackfillSeasons(ctx context.Context, open Opener) (int, error) {
	sess, err := open(ctx)
	if err != nil {
		return 0, err
	}
	defer sess.Release(ctx)

	updated := 0
	for {
		plants, err := sess.Unseasoned(ctx, s.batchSize)
		if err != nil {
			return 0, fmt.Errorf("listing unseasoned plants: %w", err)
		}
		if len(plants) == 0 {
			break
		}

		for _, p := range plants {
			season := SeasonOf(streak.DateOf(p.PlantedOn))
			err := sess.SetSeason(ctx, p.ID, string(season))
			if errors.Is(err, db.ErrNotFound) {
				continue
			}
			if err != nil {
				return 0, fmt.Errorf("plant %s: %w", p.ID, err)
			}
			updated++
		}
	}

	if err := sess.Commit(ctx); err != nil {
		return 0, err
	}
	s.log.Infow("seasons backfilled", "plants", updated)
	return updated, nil
}
