package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kirakira-garden/kirakira-api/internal/access"
	"github.com/kirakira-garden/kirakira-api/internal/auth"
	"github.com/kirakira-garden/kirakira-api/internal/cache"
	"github.com/kirakira-garden/kirakira-api/internal/db"
	"github.com/kirakira-garden/kirakira-api/internal/garden"
	"github.com/kirakira-garden/kirakira-api/internal/streak"
	"github.com/kirakira-garden/kirakira-api/internal/telegram"
)

var (
	testSecret   = []byte("0123456789abcdef0123456789abcdef")
	testBotToken = "123456:ABC-DEF1234ghIkl-zyx57W2v1u123ew11"
	testNow      = time.Date(2024, 3, 10, 23, 30, 0, 0, time.UTC)
)

// rowFunc answers QueryRow.
type rowFunc func(dest ...any) error

func (f rowFunc) Scan(dest ...any) error { return f(dest...) }

func noRows(...any) error { return pgx.ErrNoRows }

// userRow fills the id and first name of a scanned user.
func userRow(id int64, name string) rowFunc {
	return func(dest ...any) error {
		*dest[0].(*int64) = id
		*dest[1].(*string) = name
		return nil
	}
}

// emptyRows is a result set with no rows.
type emptyRows struct{}

func (emptyRows) Close()                                       {}
func (emptyRows) Err() error                                   { return nil }
func (emptyRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (emptyRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (emptyRows) Next() bool                                   { return false }
func (emptyRows) Scan(...any) error                            { return nil }
func (emptyRows) Values() ([]any, error)                       { return nil, nil }
func (emptyRows) RawValues() [][]byte                          { return nil }
func (emptyRows) Conn() *pgx.Conn                              { return nil }

type fakeHandle struct {
	level     db.Level
	row       rowFunc
	committed bool
	released  bool
}

func (h *fakeHandle) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("UPDATE 1"), nil
}
func (h *fakeHandle) Query(context.Context, string, ...any) (pgx.Rows, error) { return emptyRows{}, nil }
func (h *fakeHandle) QueryRow(context.Context, string, ...any) pgx.Row {
	if h.row == nil {
		return rowFunc(noRows)
	}
	return h.row
}
func (h *fakeHandle) Level() db.Level              { return h.level }
func (h *fakeHandle) Commit(context.Context) error { h.committed = true; return nil }
func (h *fakeHandle) Release(context.Context)      { h.released = true }

// fakeConn hands out fakeHandles and remembers them.
type fakeConn struct {
	row                 rowFunc
	scopedErr, adminErr error
	handles             []*fakeHandle
}

func (c *fakeConn) open(level db.Level) *fakeHandle {
	h := &fakeHandle{level: level, row: c.row}
	c.handles = append(c.handles, h)
	return h
}

func (c *fakeConn) Scoped(context.Context, auth.Identity) (db.Handle, error) {
	if c.scopedErr != nil {
		return nil, c.scopedErr
	}
	return c.open(db.LevelScoped), nil
}

func (c *fakeConn) Anonymous(context.Context) (db.Handle, error) {
	return c.open(db.LevelAnonymous), nil
}

func (c *fakeConn) Admin(context.Context) (db.Handle, error) {
	if c.adminErr != nil {
		return nil, c.adminErr
	}
	return c.open(db.LevelAdmin), nil
}

func (c *fakeConn) levels() []db.Level {
	var levels []db.Level
	for _, h := range c.handles {
		levels = append(levels, h.level)
	}
	return levels
}

func (c *fakeConn) allReleased() bool {
	for _, h := range c.handles {
		if !h.released {
			return false
		}
	}
	return true
}

type fakePhotos struct {
	err error
}

func (p *fakePhotos) ProfilePhoto(_ context.Context, userID int64) (telegram.File, error) {
	if p.err != nil {
		return telegram.File{}, p.err
	}
	return telegram.File{FileID: strconv.FormatInt(userID, 10), FilePath: "photos/file_0.jpg"}, nil
}

func (p *fakePhotos) Download(context.Context, telegram.File) ([]byte, string, error) {
	return []byte("\xff\xd8\xffjpeg"), "image/jpeg", nil
}

type testEnv struct {
	conn    *fakeConn
	cache   *cache.Cache
	logs    *observer.ObservedLogs
	handler http.Handler
}

type envOption func(*HandlersConfig)

func newTestEnv(t *testing.T, conn *fakeConn, opts ...envOption) *testEnv {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core).Sugar()

	verifier, err := auth.NewVerifier(testSecret, log)
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}
	issuer, err := auth.NewIssuer(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}

	c := cache.New(nil)
	cfg := HandlersConfig{
		Resolver:       access.NewResolver(conn, verifier, log),
		Issuer:         issuer,
		Garden:         garden.NewService(log),
		Cache:          c,
		BotToken:       testBotToken,
		InitDataMaxAge: time.Hour,
		Now:            func() time.Time { return testNow },
		Log:            log,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	srv := NewServer(ServerConfig{Origins: []string{"https://garden.example"}}, NewHandlers(cfg), log)
	return &testEnv{conn: conn, cache: c, logs: logs, handler: srv.Handler()}
}

func token(t *testing.T, id auth.Identity) string {
	t.Helper()
	iss, err := auth.NewIssuer(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	tok, _, err := iss.Issue(id)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return tok
}

var (
	alice    = auth.Identity{UserID: 1001, FirstName: "Alice", Role: auth.RoleAuthenticated}
	operator = auth.Identity{Role: auth.RoleService}
)

func (e *testEnv) do(t *testing.T, method, target, bearer, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &fakeConn{})

	rec := env.do(t, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(env.conn.handles) != 0 {
		t.Error("health check touched the database")
	}
	if env.logs.FilterMessage("request").FilterField(zap.Int("status", 200)).Len() != 1 {
		t.Error("request was not logged with its status")
	}
}

func TestOwnedDataRequiresToken(t *testing.T) {
	routes := []struct {
		method, path, body string
	}{
		{http.MethodGet, "/api/profile", ""},
		{http.MethodPatch, "/api/profile", `{"bio":"hi"}`},
		{http.MethodGet, "/api/moods", ""},
		{http.MethodPost, "/api/moods", `{"mood":"happy"}`},
		{http.MethodGet, "/api/stats", ""},
		{http.MethodPost, "/api/stats/verify", `{"currentStreak":1}`},
		{http.MethodGet, "/api/garden", ""},
		{http.MethodGet, "/api/wallet", ""},
		{http.MethodPost, "/api/shop/purchase", `{"itemId":"watering-can"}`},
		{http.MethodGet, "/api/friends", ""},
		{http.MethodPost, "/api/friends", `{"userId":7}`},
		{http.MethodPost, "/api/friends/7/accept", ""},
		{http.MethodPost, "/api/challenges/" + "0b0f6f5e-3c1a-4d8e-9a57-0f3f8a3c2b11" + "/join", ""},
	}

	for _, tt := range routes {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			env := newTestEnv(t, &fakeConn{})

			for _, bearer := range []string{"", "not-a-token"} {
				rec := env.do(t, tt.method, tt.path, bearer, tt.body)
				if rec.Code != http.StatusUnauthorized {
					t.Errorf("token %q: status = %d, want 401", bearer, rec.Code)
				}
				var body errorBody
				decode(t, rec, &body)
				if body.Error == "" {
					t.Error("missing error message")
				}
			}
			if len(env.conn.handles) != 0 {
				t.Errorf("handles opened for unauthenticated caller: %v", env.conn.levels())
			}
		})
	}
}

func TestOwnedData_OperatorTokenForbidden(t *testing.T) {
	env := newTestEnv(t, &fakeConn{})

	rec := env.do(t, http.MethodGet, "/api/wallet", token(t, operator), "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestGetProfile(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		env := newTestEnv(t, &fakeConn{row: userRow(alice.UserID, "Alice")})

		rec := env.do(t, http.MethodGet, "/api/profile", token(t, alice), "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
		}
		var got struct {
			ID        int64  `json:"id"`
			FirstName string `json:"firstName"`
			Premium   bool   `json:"premium"`
		}
		decode(t, rec, &got)
		if got.ID != alice.UserID || got.FirstName != "Alice" || got.Premium {
			t.Errorf("profile = %+v", got)
		}
		if levels := env.conn.levels(); len(levels) != 1 || levels[0] != db.LevelScoped {
			t.Errorf("levels = %v, want one scoped handle", levels)
		}
		if !env.conn.allReleased() {
			t.Error("handle not released")
		}
	})

	t.Run("not signed in yet", func(t *testing.T) {
		env := newTestEnv(t, &fakeConn{})

		rec := env.do(t, http.MethodGet, "/api/profile", token(t, alice), "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestOwnedData_FallsBackToAdmin(t *testing.T) {
	env := newTestEnv(t, &fakeConn{
		row:       userRow(alice.UserID, "Alice"),
		scopedErr: errors.New("authenticator pool exhausted"),
	})

	rec := env.do(t, http.MethodGet, "/api/profile", token(t, alice), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if levels := env.conn.levels(); len(levels) != 1 || levels[0] != db.LevelAdmin {
		t.Errorf("levels = %v, want one admin handle", levels)
	}

	bypass := env.logs.FilterField(zap.String("event", access.EventPrivilegeBypass))
	if bypass.Len() != 1 {
		t.Fatalf("bypass events = %d, want 1", bypass.Len())
	}
	if entry := bypass.All()[0]; entry.Level != zapcore.WarnLevel {
		t.Errorf("bypass level = %v, want warn", entry.Level)
	}
}

func TestUpdateProfile_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "empty update", body: `{}`, want: http.StatusUnprocessableEntity},
		{name: "bio too long", body: `{"bio":"` + strings.Repeat("花", MaxBioLength+1) + `"}`, want: http.StatusUnprocessableEntity},
		{name: "unknown field", body: `{"premiumUntil":"2099-01-01T00:00:00Z"}`, want: http.StatusBadRequest},
		{name: "not json", body: `bio=hi`, want: http.StatusBadRequest},
		{name: "ok", body: `{"bio":"  growing  ","isPublic":true}`, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, &fakeConn{row: userRow(alice.UserID, "Alice")})

			rec := env.do(t, http.MethodPatch, "/api/profile", token(t, alice), tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
			committed := len(env.conn.handles) == 1 && env.conn.handles[0].committed
			if (tt.want == http.StatusOK) != committed {
				t.Errorf("committed = %v", committed)
			}
		})
	}
}

func TestCheckIn_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown mood", body: `{"mood":"meh"}`},
		{name: "bad date", body: `{"mood":"happy","date":"10/03/2024"}`},
		{name: "tomorrow", body: `{"mood":"happy","date":"2024-03-11"}`},
		{name: "last week", body: `{"mood":"happy","date":"2024-03-03"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, &fakeConn{})

			rec := env.do(t, http.MethodPost, "/api/moods", token(t, alice), tt.body)
			if rec.Code != http.StatusUnprocessableEntity {
				t.Fatalf("status = %d, want 422 (body %s)", rec.Code, rec.Body)
			}
			for _, h := range env.conn.handles {
				if h.committed {
					t.Error("rejected check-in was committed")
				}
			}
			if !env.conn.allReleased() {
				t.Error("handle not released")
			}
		})
	}
}

func TestStats_NoData(t *testing.T) {
	env := newTestEnv(t, &fakeConn{})

	rec := env.do(t, http.MethodGet, "/api/stats?tz=UTC", token(t, alice), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var got struct {
		streak.Stats
		Today string `json:"today"`
	}
	decode(t, rec, &got)
	if got.Status != streak.StatusNoDataYet || got.CurrentStreak != 0 {
		t.Errorf("stats = %+v", got.Stats)
	}
	if got.Today != "2024-03-10" {
		t.Errorf("today = %s, want 2024-03-10", got.Today)
	}
}

func TestToday(t *testing.T) {
	if _, err := time.LoadLocation("Asia/Tokyo"); err != nil {
		t.Skip("timezone database unavailable")
	}
	h := NewHandlers(HandlersConfig{Now: func() time.Time { return testNow }, Log: zap.NewNop().Sugar()})

	tests := map[string]string{
		"/api/stats":                      "2024-03-10",
		"/api/stats?tz=Asia/Tokyo":        "2024-03-11",
		"/api/stats?tz=America/New_York":  "2024-03-10",
		"/api/stats?tz=Mars/Olympus_Mons": "2024-03-10",
	}
	for target, want := range tests {
		r := httptest.NewRequest(http.MethodGet, target, nil)
		if got := h.today(r).String(); got != want {
			t.Errorf("today(%s) = %s, want %s", target, got, want)
		}
	}
}

func launchData(t *testing.T, botToken string, authDate time.Time) string {
	t.Helper()
	values := url.Values{
		"auth_date": {strconv.FormatInt(authDate.Unix(), 10)},
		"user":      {fmt.Sprintf(`{"id":%d,"first_name":"Alice","username":"alice_grows"}`, alice.UserID)},
	}
	values.Set("hash", auth.SignInitData(values, botToken))
	return values.Encode()
}

func signInBody(t *testing.T, initData string) string {
	t.Helper()
	b, err := json.Marshal(signInRequest{InitData: initData})
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestSignIn(t *testing.T) {
	env := newTestEnv(t, &fakeConn{row: userRow(alice.UserID, "Alice")})

	rec := env.do(t, http.MethodPost, "/api/auth/telegram", "", signInBody(t, launchData(t, testBotToken, testNow.Add(-time.Minute))))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var got struct {
		AccessToken string    `json:"access_token"`
		TokenType   string    `json:"token_type"`
		Expiry      time.Time `json:"expiry"`
		User        db.User   `json:"user"`
	}
	decode(t, rec, &got)
	if got.TokenType != "Bearer" || got.Expiry.IsZero() || got.User.ID != alice.UserID {
		t.Errorf("response = %+v", got)
	}

	verifier, _ := auth.NewVerifier(testSecret, zap.NewNop().Sugar())
	id, ok := verifier.Verify(got.AccessToken)
	if !ok || id.UserID != alice.UserID || id.Role != auth.RoleAuthenticated {
		t.Errorf("issued token verifies as %+v, %v", id, ok)
	}

	if levels := env.conn.levels(); len(levels) != 1 || levels[0] != db.LevelScoped {
		t.Errorf("levels = %v, want one scoped handle", levels)
	}
	if h := env.conn.handles[0]; !h.committed || !h.released {
		t.Errorf("handle committed=%v released=%v", h.committed, h.released)
	}
}

func TestSignIn_Rejected(t *testing.T) {
	tests := []struct {
		name string
		body string
		opts []envOption
		want int
	}{
		{
			name: "signed by another bot",
			body: signInBody(t, launchData(t, "999:other", testNow)),
			want: http.StatusUnauthorized,
		},
		{
			name: "stale launch data",
			body: signInBody(t, launchData(t, testBotToken, testNow.Add(-2*time.Hour))),
			want: http.StatusUnauthorized,
		},
		{
			name: "malformed body",
			body: `{"initData":`,
			want: http.StatusBadRequest,
		},
		{
			name: "bot token not configured",
			body: signInBody(t, launchData(t, testBotToken, testNow)),
			opts: []envOption{func(c *HandlersConfig) { c.BotToken = "" }},
			want: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, &fakeConn{}, tt.opts...)

			rec := env.do(t, http.MethodPost, "/api/auth/telegram", "", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
			if len(env.conn.handles) != 0 {
				t.Error("rejected sign-in opened a handle")
			}
		})
	}
}

func TestAdminRoutes(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		bearer   auth.Identity
		adminErr error
		want     int
	}{
		{name: "user token", path: "/api/admin/stats/recompute", bearer: alice, want: http.StatusForbidden},
		{name: "admin not configured", path: "/api/admin/stats/recompute", bearer: operator, adminErr: db.ErrAdminUnavailable, want: http.StatusServiceUnavailable},
		{name: "recompute", path: "/api/admin/stats/recompute", bearer: operator, want: http.StatusOK},
		{name: "backfill", path: "/api/admin/seasons/backfill", bearer: operator, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, &fakeConn{adminErr: tt.adminErr})

			rec := env.do(t, http.MethodPost, tt.path, token(t, tt.bearer), "")
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
			for _, level := range env.conn.levels() {
				if level != db.LevelAdmin {
					t.Errorf("admin route opened a %s handle", level)
				}
			}
			if !env.conn.allReleased() {
				t.Error("handle not released")
			}
			if tt.want == http.StatusServiceUnavailable && strings.Contains(rec.Body.String(), "admin database") {
				t.Errorf("5xx body leaks internals: %s", rec.Body)
			}
		})
	}
}

func TestRecomputeStats_InvalidatesLeaderboards(t *testing.T) {
	env := newTestEnv(t, &fakeConn{})
	ctx := context.Background()
	if err := env.cache.SetJSON(ctx, leaderboardKey(LeaderboardStreak), []db.LeaderboardRow{{Rank: 1}}, time.Hour); err != nil {
		t.Fatal(err)
	}

	rec := env.do(t, http.MethodPost, "/api/admin/stats/recompute", token(t, operator), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var res garden.RecomputeResult
	decode(t, rec, &res)
	if res.Users != 0 {
		t.Errorf("result = %+v", res)
	}

	var board []db.LeaderboardRow
	if hit, _ := env.cache.GetJSON(ctx, leaderboardKey(LeaderboardStreak), &board); hit {
		t.Error("streak leaderboard still cached after recompute")
	}
}

func TestLeaderboard(t *testing.T) {
	t.Run("served from cache", func(t *testing.T) {
		env := newTestEnv(t, &fakeConn{})
		cached := []db.LeaderboardRow{
			{Rank: 1, Score: 30, User: db.PublicUser{ID: 1}},
			{Rank: 2, Score: 20, User: db.PublicUser{ID: 2}},
			{Rank: 3, Score: 10, User: db.PublicUser{ID: 3}},
		}
		if err := env.cache.SetJSON(context.Background(), leaderboardKey(LeaderboardCoins), cached, time.Hour); err != nil {
			t.Fatal(err)
		}

		rec := env.do(t, http.MethodGet, "/api/leaderboard?kind=coins&limit=2", "", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
		}
		var got struct {
			Kind    string              `json:"kind"`
			Entries []db.LeaderboardRow `json:"entries"`
		}
		decode(t, rec, &got)
		if got.Kind != LeaderboardCoins || len(got.Entries) != 2 || got.Entries[1].Score != 20 {
			t.Errorf("leaderboard = %+v", got)
		}
		if len(env.conn.handles) != 0 {
			t.Error("cache hit opened a handle")
		}
	})

	t.Run("anonymous miss fills cache", func(t *testing.T) {
		env := newTestEnv(t, &fakeConn{})

		rec := env.do(t, http.MethodGet, "/api/leaderboard", "", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
		}
		if levels := env.conn.levels(); len(levels) != 1 || levels[0] != db.LevelAnonymous {
			t.Errorf("levels = %v, want one anonymous handle", levels)
		}
		var board []db.LeaderboardRow
		if hit, _ := env.cache.GetJSON(context.Background(), leaderboardKey(LeaderboardStreak), &board); !hit {
			t.Error("leaderboard not cached")
		}
	})

	t.Run("signed-in caller reads with own identity", func(t *testing.T) {
		env := newTestEnv(t, &fakeConn{})

		env.do(t, http.MethodGet, "/api/leaderboard?kind=streak", token(t, alice), "")
		if levels := env.conn.levels(); len(levels) != 1 || levels[0] != db.LevelScoped {
			t.Errorf("levels = %v, want one scoped handle", levels)
		}
	})

	for _, target := range []string{"/api/leaderboard?kind=karma", "/api/leaderboard?limit=0", "/api/leaderboard?limit=101"} {
		t.Run(target, func(t *testing.T) {
			env := newTestEnv(t, &fakeConn{})
			if rec := env.do(t, http.MethodGet, target, "", ""); rec.Code != http.StatusUnprocessableEntity {
				t.Errorf("status = %d, want 422", rec.Code)
			}
		})
	}
}

func TestSearchUsers(t *testing.T) {
	env := newTestEnv(t, &fakeConn{})

	if rec := env.do(t, http.MethodGet, "/api/users/search?q=@a", "", ""); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("short query status = %d, want 422", rec.Code)
	}
	rec := env.do(t, http.MethodGet, "/api/users/search?q=ali", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if levels := env.conn.levels(); len(levels) != 1 || levels[0] != db.LevelAnonymous {
		t.Errorf("levels = %v, want one anonymous handle", levels)
	}
}

func TestFriends_Validation(t *testing.T) {
	env := newTestEnv(t, &fakeConn{})
	bearer := token(t, alice)

	tests := []struct {
		method, path, body string
	}{
		{http.MethodPost, "/api/friends", fmt.Sprintf(`{"userId":%d}`, alice.UserID)},
		{http.MethodPost, "/api/friends", `{"userId":0}`},
		{http.MethodPost, "/api/friends/bob/accept", ""},
		{http.MethodPost, "/api/challenges/not-a-uuid/join", ""},
	}
	for _, tt := range tests {
		if rec := env.do(t, tt.method, tt.path, bearer, tt.body); rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("%s %s %s: status = %d, want 422", tt.method, tt.path, tt.body, rec.Code)
		}
	}
}

func TestProfilePhoto(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		env := newTestEnv(t, &fakeConn{})
		rec := env.do(t, http.MethodGet, "/api/profile/photo", token(t, alice), "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
	})

	t.Run("proxied", func(t *testing.T) {
		photos := &fakePhotos{}
		env := newTestEnv(t, &fakeConn{row: userRow(alice.UserID, "Alice")}, func(c *HandlersConfig) { c.Photos = photos })

		rec := env.do(t, http.MethodGet, "/api/profile/photo", token(t, alice), "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("Content-Type = %s", ct)
		}
		if !strings.HasPrefix(rec.Body.String(), "\xff\xd8") {
			t.Error("body is not the photo")
		}
	})

	t.Run("no photo", func(t *testing.T) {
		photos := &fakePhotos{err: telegram.ErrNoPhoto}
		env := newTestEnv(t, &fakeConn{row: userRow(alice.UserID, "Alice")}, func(c *HandlersConfig) { c.Photos = photos })

		if rec := env.do(t, http.MethodGet, "/api/profile/photo", token(t, alice), ""); rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, &fakeConn{})

	req := httptest.NewRequest(http.MethodOptions, "/api/profile", nil)
	req.Header.Set("Origin", "https://garden.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://garden.example" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: eof", errMalformedBody), http.StatusBadRequest},
		{access.ErrUnauthorized, http.StatusUnauthorized},
		{access.ErrForbidden, http.StatusForbidden},
		{garden.ErrPremiumRequired, http.StatusForbidden},
		{fmt.Errorf("loading: %w", db.ErrNotFound), http.StatusNotFound},
		{telegram.ErrNoPhoto, http.StatusNotFound},
		{db.ErrConflict, http.StatusConflict},
		{invalid("nope"), http.StatusUnprocessableEntity},
		{&streak.ValidationError{Value: "x", Reason: "bad"}, http.StatusUnprocessableEntity},
		{garden.ErrUnknownMood, http.StatusUnprocessableEntity},
		{garden.ErrInsufficientCoins, http.StatusUnprocessableEntity},
		{fmt.Errorf("recomputing: %w", &access.ConfigurationError{Kind: access.KindAdminRepair, Err: db.ErrAdminUnavailable}), http.StatusServiceUnavailable},
		{telegram.ErrRateLimited, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
