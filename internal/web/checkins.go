package web

import (
	"context"
	"net/http"

	"github.com/kirakira-garden/kirakira-api/internal/access"
	"github.com/kirakira-garden/kirakira-api/internal/db"
	"github.com/kirakira-garden/kirakira-api/internal/garden"
	"github.com/kirakira-garden/kirakira-api/internal/streak"
)

const (
	defaultMoodLimit = 30
	maxMoodLimit     = 366
	walletEntries    = 50
)

type moodView struct {
	db.MoodEntry
	Date streak.Date `json:"date"`
}

func viewMood(e db.MoodEntry) moodView {
	return moodView{MoodEntry: e, Date: streak.DateOf(e.EntryDate)}
}

type plantView struct {
	db.Plant
	PlantedOn streak.Date `json:"plantedOn"`
}

func viewPlant(p db.Plant) plantView {
	return plantView{Plant: p, PlantedOn: streak.DateOf(p.PlantedOn)}
}

// ListMoods returns the caller's recent check-ins (GET /api/moods?limit=).
func (h *Handlers) ListMoods(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", defaultMoodLimit, maxMoodLimit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.serve(w, r, access.KindOwnedData, http.StatusOK, func(ctx context.Context, g *access.Grant) (any, error) {
		entries, err := db.Moods(g).List(ctx, g.Identity.UserID, limit)
		if err != nil {
			return nil, err
		}
		views := make([]moodView, len(entries))
		for i, e := range entries {
			views[i] = viewMood(e)
		}
		return map[string]any{"entries": views}, nil
	})
}

type checkInRequest struct {
	Mood string `json:"mood"`
	Note string `json:"note"`
	// Date is optional and defaults to the caller's today.
	Date string `json:"date"`
}

type checkInResponse struct {
	Entry        moodView  `json:"entry"`
	Plant        plantView `json:"plant"`
	CoinsAwarded int       `json:"coinsAwarded"`
}

// CheckIn records a mood, plants its plant and awards the daily coins
// (POST /api/moods).
func (h *Handlers) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req checkInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	in := garden.CheckIn{Mood: req.Mood, Note: req.Note}
	if req.Date != "" {
		d, err := streak.ParseDate(req.Date)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		in.Date = d
	}
	today := h.today(r)

	h.serve(w, r, access.KindOwnedData, http.StatusCreated, func(ctx context.Context, g *access.Grant) (any, error) {
		res, err := h.garden.CheckIn(ctx, garden.StoreFor(g), g.Identity.UserID, in, today)
		if err != nil {
			return nil, err
		}
		return commit(ctx, g, checkInResponse{
			Entry:        viewMood(res.Entry),
			Plant:        viewPlant(res.Plant),
			CoinsAwarded: res.CoinsAwarded,
		})
	})
}

type statsView struct {
	streak.Stats
	Today streak.Date `json:"today"`
}

// Stats returns the caller's streak statistics (GET /api/stats?tz=).
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	today := h.today(r)
	h.serve(w, r, access.KindOwnedData, http.StatusOK, func(ctx context.Context, g *access.Grant) (any, error) {
		stats, err := h.garden.Stats(ctx, garden.StoreFor(g), g.Identity.UserID, today)
		if err != nil {
			return nil, err
		}
		return statsView{Stats: stats, Today: today}, nil
	})
}

// VerifyStats cross-checks statistics computed by the client against the
// server's (POST /api/stats/verify?tz=).
func (h *Handlers) VerifyStats(w http.ResponseWriter, r *http.Request) {
	var client streak.Stats
	if err := decodeJSON(w, r, &client); err != nil {
		h.writeError(w, r, err)
		return
	}
	today := h.today(r)

	h.serve(w, r, access.KindOwnedData, http.StatusOK, func(ctx context.Context, g *access.Grant) (any, error) {
		return h.garden.VerifyStats(ctx, garden.StoreFor(g), g.Identity.UserID, today, client)
	})
}

// Garden lists the caller's plants (GET /api/garden).
func (h *Handlers) Garden(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, access.KindOwnedData, http.StatusOK, func(ctx context.Context, g *access.Grant) (any, error) {
		plants, err := db.Garden(g).List(ctx, g.Identity.UserID)
		if err != nil {
			return nil, err
		}
		views := make([]plantView, len(plants))
		for i, p := range plants {
			views[i] = viewPlant(p)
		}
		return map[string]any{"plants": views}, nil
	})
}

type walletView struct {
	Balance int              `json:"balance"`
	Entries []db.LedgerEntry `json:"entries"`
	Items   []string         `json:"items"`
}

// Wallet returns the caller's balance, recent ledger and owned items
// (GET /api/wallet).
func (h *Handlers) Wallet(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, access.KindOwnedData, http.StatusOK, func(ctx context.Context, g *access.Grant) (any, error) {
		ledger := db.Ledger(g)
		uid := g.Identity.UserID

		balance, err := ledger.Balance(ctx, uid)
		if err != nil {
			return nil, err
		}
		entries, err := ledger.List(ctx, uid, walletEntries)
		if err != nil {
			return nil, err
		}
		items, err := ledger.Items(ctx, uid)
		if err != nil {
			return nil, err
		}
		return walletView{Balance: balance, Entries: entries, Items: items}, nil
	})
}

// Shop lists the items for sale (GET /api/shop).
func (h *Handlers) Shop(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, access.KindPublicRead, http.StatusOK, func(ctx context.Context, g *access.Grant) (any, error) {
		items, err := db.Ledger(g).ShopItems(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"items": items}, nil
	})
}

type purchaseRequest struct {
	ItemID string `json:"itemId"`
}

type purchaseResponse struct {
	Item    *db.ShopItem `json:"item"`
	Balance int          `json:"balance"`
}

// Purchase buys a shop item with coins (POST /api/shop/purchase).
func (h *Handlers) Purchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.ItemID == "" {
		h.writeError(w, r, invalid("itemId is required"))
		return
	}

	h.serve(w, r, access.KindOwnedData, http.StatusOK, func(ctx context.Context, g *access.Grant) (any, error) {
		user, err := db.Users(g).Get(ctx, g.Identity.UserID)
		if err != nil {
			return nil, err
		}
		item, balance, err := h.garden.Purchase(ctx, garden.StoreFor(g), user, req.ItemID)
		if err != nil {
			return nil, err
		}
		h.log.Infow("item purchased", "user_id", user.ID, "item", item.ID, "price", item.Price)
		return commit(ctx, g, purchaseResponse{Item: item, Balance: balance})
	})
}
