package web

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/kirakira-garden/kirakira-api/internal/access"
	"github.com/kirakira-garden/kirakira-api/internal/auth"
	"github.com/kirakira-garden/kirakira-api/internal/cache"
	"github.com/kirakira-garden/kirakira-api/internal/db"
	"github.com/kirakira-garden/kirakira-api/internal/garden"
	"github.com/kirakira-garden/kirakira-api/internal/streak"
	"github.com/kirakira-garden/kirakira-api/internal/telegram"
)

// MaxBioLength bounds the profile bio, in runes.
const MaxBioLength = 280

// HandleResolver hands out database handles per operation kind.
// *access.Resolver implements it.
type HandleResolver interface {
	ResolveHandle(ctx context.Context, token string, kind access.OperationKind) (*access.Grant, error)
	Resolve(ctx context.Context, caller *auth.Identity, rule access.Rule) (db.Handle, error)
}

// TokenIssuer signs bearer tokens at sign-in.
type TokenIssuer interface {
	Issue(id auth.Identity) (string, time.Time, error)
}

// PhotoSource fetches Telegram profile photos. *telegram.Client implements it.
type PhotoSource interface {
	ProfilePhoto(ctx context.Context, userID int64) (telegram.File, error)
	Download(ctx context.Context, file telegram.File) ([]byte, string, error)
}

// HandlersConfig holds the dependencies of the API handlers.
type HandlersConfig struct {
	Resolver HandleResolver
	Issuer   TokenIssuer
	Garden   *garden.Service
	Cache    *cache.Cache
	// Photos is optional; without it the photo endpoint answers 503.
	Photos PhotoSource
	// BotToken validates sign-in launch data. Empty disables sign-in.
	BotToken       string
	InitDataMaxAge time.Duration
	// Location is the default timezone for "today".
	Location *time.Location
	Now      func() time.Time
	Log      *zap.SugaredLogger
}

// Handlers contains HTTP handlers for the API.
type Handlers struct {
	resolver HandleResolver
	issuer   TokenIssuer
	garden   *garden.Service
	cache    *cache.Cache
	photos   PhotoSource

	botToken       string
	initDataMaxAge time.Duration
	loc            *time.Location
	now            func() time.Time
	log            *zap.SugaredLogger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(cfg HandlersConfig) *Handlers {
	h := &Handlers{
		resolver:       cfg.Resolver,
		issuer:         cfg.Issuer,
		garden:         cfg.Garden,
		cache:          cfg.Cache,
		photos:         cfg.Photos,
		botToken:       cfg.BotToken,
		initDataMaxAge: cfg.InitDataMaxAge,
		loc:            cfg.Location,
		now:            cfg.Now,
		log:            cfg.Log,
	}
	if h.loc == nil {
		h.loc = time.UTC
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.cache == nil {
		h.cache = cache.New(nil)
	}
	return h
}

// serve resolves a handle for kind, runs fn with it and writes the result
// as JSON with status. The handle is released afterwards; fn commits if it
// writes.
func (h *Handlers) serve(w http.ResponseWriter, r *http.Request, kind access.OperationKind, status int, fn func(ctx context.Context, g *access.Grant) (any, error)) {
	g, err := h.resolver.ResolveHandle(r.Context(), auth.BearerToken(r), kind)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ctx := r.Context()
	if g.Authenticated {
		ctx = auth.WithIdentity(ctx, g.Identity)
	}
	defer g.Release(context.WithoutCancel(ctx))

	v, err := fn(ctx, g)
	if err != nil {
		h.writeError(w, r.WithContext(ctx), err)
		return
	}
	writeJSON(w, status, v)
}

func commit(ctx context.Context, g *access.Grant, v any) (any, error) {
	if err := g.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing: %w", err)
	}
	return v, nil
}

func callerOf(ctx context.Context) string {
	if id, ok := auth.FromContext(ctx); ok {
		return id.Subject()
	}
	return "anonymous"
}

// today is the caller's calendar date: in the IANA zone named by ?tz= when
// it is valid, otherwise in the default zone.
func (h *Handlers) today(r *http.Request) streak.Date {
	loc := h.loc
	if tz := r.URL.Query().Get("tz"); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	return streak.Today(h.now(), loc)
}

func intQuery(r *http.Request, name string, def, upper int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > upper {
		return 0, invalid("%s must be between 1 and %d", name, upper)
	}
	return n, nil
}

// Health reports that the process is serving (GET /healthz).
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type signInRequest struct {
	InitData string `json:"initData"`
}

type signInResponse struct {
	*oauth2.Token
	User *db.User `json:"user"`
}

// SignIn exchanges Telegram launch data for a bearer token (POST /api/auth/telegram).
func (h *Handlers) SignIn(w http.ResponseWriter, r *http.Request) {
	if h.botToken == "" {
		h.writeError(w, r, fmt.Errorf("sign-in: %w", errUnavailable))
		return
	}

	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	data, err := auth.ValidateInitData(req.InitData, h.botToken, h.initDataMaxAge, h.now())
	if err != nil {
		h.log.Infow("sign-in rejected", "reason", err.Error())
		h.writeError(w, r, fmt.Errorf("%w: %v", access.ErrUnauthorized, err))
		return
	}
	id := data.User.Identity()
	ctx := auth.WithIdentity(r.Context(), id)

	rule, err := access.Classify(access.KindOwnedData)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	handle, err := h.resolver.Resolve(ctx, &id, rule)
	if err != nil {
		h.writeError(w, r.WithContext(ctx), err)
		return
	}
	defer handle.Release(context.WithoutCancel(ctx))

	user := &db.User{
		ID:           id.UserID,
		FirstName:    id.FirstName,
		LastName:     id.LastName,
		Username:     id.Username,
		LanguageCode: id.LanguageCode,
	}
	if data.User.PhotoURL != "" {
		user.PhotoURL = &data.User.PhotoURL
	}
	if err := db.Users(handle).Upsert(ctx, user); err != nil {
		h.writeError(w, r.WithContext(ctx), err)
		return
	}
	if err := handle.Commit(ctx); err != nil {
		h.writeError(w, r.WithContext(ctx), fmt.Errorf("committing sign-in: %w", err))
		return
	}

	token, expiry, err := h.issuer.Issue(id)
	if err != nil {
		h.writeError(w, r.WithContext(ctx), err)
		return
	}

	h.log.Infow("signed in", "user_id", id.UserID)
	writeJSON(w, http.StatusOK, signInResponse{
		Token: &oauth2.Token{
			AccessToken: token,
			TokenType:   "Bearer",
			Expiry:      expiry,
		},
		User: user,
	})
}

type profileView struct {
	*db.User
	Premium bool `json:"premium"`
}

// GetProfile returns the caller's profile (GET /api/profile).
func (h *Handlers) GetProfile(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, access.KindOwnedData, http.StatusOK, func(ctx context.Context, g *access.Grant) (any, error) {
		user, err := db.Users(g).Get(ctx, g.Identity.UserID)
		if err != nil {
			return nil, err
		}
		return profileView{User: user, Premium: user.IsPremium(h.now())}, nil
	})
}

// UpdateProfile changes the caller's bio and visibility (PATCH /api/profile).
func (h *Handlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var update db.ProfileUpdate
	if err := decodeJSON(w, r, &update); err != nil {
		h.writeError(w, r, err)
		return
	}
	if update.Bio == nil && update.IsPublic == nil {
		h.writeError(w, r, invalid("nothing to update"))
		return
	}
	if update.Bio != nil {
		bio := strings.TrimSpace(*update.Bio)
		if utf8.RuneCountInString(bio) > MaxBioLength {
			h.writeError(w, r, invalid("bio must be at most %d characters", MaxBioLength))
			return
		}
		update.Bio = &bio
	}

	h.serve(w, r, access.KindOwnedData, http.StatusOK, func(ctx context.Context, g *access.Grant) (any, error) {
		user, err := db.Users(g).UpdateProfile(ctx, g.Identity.UserID, update)
		if err != nil {
			return nil, err
		}
		return commit(ctx, g, profileView{User: user, Premium: user.IsPremium(h.now())})
	})
}

// ProfilePhoto proxies the caller's Telegram profile photo
// (GET /api/profile/photo). Telegram file URLs embed the bot token, so the
// bytes are served from here instead of redirecting.
func (h *Handlers) ProfilePhoto(w http.ResponseWriter, r *http.Request) {
	if h.photos == nil {
		h.writeError(w, r, fmt.Errorf("profile photos: %w", errUnavailable))
		return
	}

	g, err := h.resolver.ResolveHandle(r.Context(), auth.BearerToken(r), access.KindOwnedData)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx := auth.WithIdentity(r.Context(), g.Identity)
	r = r.WithContext(ctx)
	defer g.Release(context.WithoutCancel(ctx))

	// Only users who have signed in have a photo to show.
	if _, err := db.Users(g).Get(ctx, g.Identity.UserID); err != nil {
		h.writeError(w, r, err)
		return
	}

	file, err := h.photos.ProfilePhoto(ctx, g.Identity.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	data, contentType, err := h.photos.Download(ctx, file)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
