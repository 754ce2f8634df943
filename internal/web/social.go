package web

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kirakira-garden/kirakira-api/internal/access"
	"github.com/kirakira-garden/kirakira-api/internal/db"
	"github.com/kirakira-garden/kirakira-api/internal/streak"
)

const (
	// Leaderboards are computed at full length and cached; ?limit= slices them.
	leaderboardSize    = 100
	leaderboardDefault = 20
	leaderboardTTL     = time.Minute

	minSearchLength = 2
	searchLimit     = 20
)

// Leaderboard kinds.
const (
	LeaderboardStreak = "streak"
	LeaderboardCoins  = "coins"
)

func leaderboardKey(kind string) string {
	return "leaderboard:" + kind
}

// ListFriends returns the caller's friends and pending requests (GET /api/friends).
func (h *Handlers) ListFriends(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, access.KindOwnedData, http.StatusOK, func(ctx context.Context, g *access.Grant) (any, error) {
		friends, err := db.Friends(g).List(ctx, g.Identity.UserID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"friends": friends}, nil
	})
}

type friendRequest struct {
	UserID int64 `json:"userId"`
}

// RequestFriend sends a friend request (POST /api/friends).
func (h *Handlers) RequestFriend(w http.ResponseWriter, r *http.Request) {
	var req friendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.UserID <= 0 {
		h.writeError(w, r, invalid("userId is required"))
		return
	}

	h.serve(w, r, access.KindOwnedData, http.StatusCreated, func(ctx context.Context, g *access.Grant) (any, error) {
		if req.UserID == g.Identity.UserID {
			return nil, invalid("cannot befriend yourself")
		}
		if err := db.Friends(g).Request(ctx, g.Identity.UserID, req.UserID); err != nil {
			return nil, err
		}
		return commit(ctx, g, map[string]any{"userId": req.UserID, "status": db.FriendPending})
	})
}

// AcceptFriend accepts a pending request from user {id}
// (POST /api/friends/{id}/accept).
func (h *Handlers) AcceptFriend(w http.ResponseWriter, r *http.Request) {
	requester, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || requester <= 0 {
		h.writeError(w, r, invalid("friend id must be a user id"))
		return
	}

	h.serve(w, r, access.KindOwnedData, http.StatusOK, func(ctx context.Context, g *access.Grant) (any, error) {
		if err := db.Friends(g).Accept(ctx, requester, g.Identity.UserID); err != nil {
			return nil, err
		}
		return commit(ctx, g, map[string]any{"userId": requester, "status": db.FriendAccepted})
	})
}

type challengeView struct {
	db.Challenge
	StartsOn streak.Date `json:"startsOn"`
	EndsOn   streak.Date `json:"endsOn"`
}

// ListChallenges lists the public challenges (GET /api/challenges).
func (h *Handlers) ListChallenges(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, access.KindPublicRead, http.StatusOK, func(ctx context.Context, g *access.Grant) (any, error) {
		challenges, err := db.Challenges(g).List(ctx)
		if err != nil {
			return nil, err
		}
		views := make([]challengeView, len(challenges))
		for i, c := range challenges {
			views[i] = challengeView{
				Challenge: c,
				StartsOn:  streak.DateOf(c.StartsOn),
				EndsOn:    streak.DateOf(c.EndsOn),
			}
		}
		return map[string]any{"challenges": views}, nil
	})
}

// JoinChallenge adds the caller to challenge {id} (POST /api/challenges/{id}/join).
func (h *Handlers) JoinChallenge(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, invalid("challenge id must be a UUID"))
		return
	}

	h.serve(w, r, access.KindOwnedData, http.StatusCreated, func(ctx context.Context, g *access.Grant) (any, error) {
		if err := db.Challenges(g).Join(ctx, id, g.Identity.UserID); err != nil {
			return nil, err
		}
		return commit(ctx, g, map[string]any{"challengeId": id, "joined": true})
	})
}

// Leaderboard ranks public users (GET /api/leaderboard?kind=streak|coins&limit=).
// Boards are cached for a minute and dropped by the stats recompute.
func (h *Handlers) Leaderboard(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	if kind == "" {
		kind = LeaderboardStreak
	}
	if kind != LeaderboardStreak && kind != LeaderboardCoins {
		h.writeError(w, r, invalid("kind must be %q or %q", LeaderboardStreak, LeaderboardCoins))
		return
	}
	limit, err := intQuery(r, "limit", leaderboardDefault, leaderboardSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	respond := func(board []db.LeaderboardRow) any {
		if len(board) > limit {
			board = board[:limit]
		}
		return map[string]any{"kind": kind, "entries": board}
	}

	var board []db.LeaderboardRow
	hit, err := h.cache.GetJSON(r.Context(), leaderboardKey(kind), &board)
	if err != nil {
		h.log.Warnw("leaderboard cache read failed", "kind", kind, "error", err)
	}
	if hit {
		writeJSON(w, http.StatusOK, respond(board))
		return
	}

	h.serve(w, r, access.KindPublicRead, http.StatusOK, func(ctx context.Context, g *access.Grant) (any, error) {
		stats := db.Stats(g)
		var err error
		if kind == LeaderboardCoins {
			board, err = stats.CoinLeaderboard(ctx, leaderboardSize)
		} else {
			board, err = stats.StreakLeaderboard(ctx, leaderboardSize)
		}
		if err != nil {
			return nil, err
		}
		if board == nil {
			board = []db.LeaderboardRow{}
		}
		if err := h.cache.SetJSON(ctx, leaderboardKey(kind), board, leaderboardTTL); err != nil {
			h.log.Warnw("leaderboard cache write failed", "kind", kind, "error", err)
		}
		return respond(board), nil
	})
}

// SearchUsers finds public users by name prefix (GET /api/users/search?q=).
func (h *Handlers) SearchUsers(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimPrefix(strings.TrimSpace(r.URL.Query().Get("q")), "@")
	if utf8.RuneCountInString(q) < minSearchLength {
		h.writeError(w, r, invalid("q must be at least %d characters", minSearchLength))
		return
	}

	h.serve(w, r, access.KindPublicRead, http.StatusOK, func(ctx context.Context, g *access.Grant) (any, error) {
		users, err := db.Users(g).Search(ctx, q, searchLimit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"users": users}, nil
	})
}

func (h *Handlers) invalidateLeaderboards(ctx context.Context) {
	err := h.cache.Delete(ctx, leaderboardKey(LeaderboardStreak), leaderboardKey(LeaderboardCoins))
	if err != nil {
		h.log.Warnw("leaderboard cache invalidation failed", "error", err)
	}
}
