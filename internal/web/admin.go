package web

import (
	"context"
	"net/http"

	"github.com/kirakira-garden/kirakira-api/internal/access"
	"github.com/kirakira-garden/kirakira-api/internal/auth"
	"github.com/kirakira-garden/kirakira-api/internal/garden"
)

// maintain authorizes an operator for admin repair and runs fn with an
// Opener that resolves a fresh admin handle per session.
func (h *Handlers) maintain(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, open garden.Opener) (any, error)) {
	g, err := h.resolver.ResolveHandle(r.Context(), auth.BearerToken(r), access.KindAdminRepair)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	caller := g.Identity
	ctx := auth.WithIdentity(r.Context(), caller)
	r = r.WithContext(ctx)
	// The work below opens its own handles.
	g.Release(context.WithoutCancel(ctx))

	rule, err := access.Classify(access.KindAdminRepair)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	open := func(ctx context.Context) (garden.Session, error) {
		handle, err := h.resolver.Resolve(ctx, &caller, rule)
		if err != nil {
			return nil, err
		}
		return garden.NewSession(handle), nil
	}

	v, err := fn(ctx, open)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// RecomputeStats refreshes every user's stored streaks
// (POST /api/admin/stats/recompute?tz=).
func (h *Handlers) RecomputeStats(w http.ResponseWriter, r *http.Request) {
	today := h.today(r)
	h.maintain(w, r, func(ctx context.Context, open garden.Opener) (any, error) {
		res, err := h.garden.RecomputeStats(ctx, open, today)
		if err != nil {
			return nil, err
		}
		h.invalidateLeaderboards(ctx)
		return res, nil
	})
}

// BackfillSeasons sets the season of plants planted before seasons existed
// (POST /api/admin/seasons/backfill).
func (h *Handlers) BackfillSeasons(w http.ResponseWriter, r *http.Request) {
	h.maintain(w, r, func(ctx context.Context, open garden.Opener) (any, error) {
		n, err := h.garden.BackfillSeasons(ctx, open)
		if err != nil {
			return nil, err
		}
		return map[string]int{"plants": n}, nil
	})
}
