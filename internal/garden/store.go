package garden

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kirakira-garden/kirakira-api/internal/db"
)

// Store is the data the garden reads and writes, bound to one handle.
type Store interface {
	CreateEntry(ctx context.Context, entry *db.MoodEntry) error
	Plant(ctx context.Context, p *db.Plant) error
	AddLedger(ctx context.Context, entry *db.LedgerEntry) (bool, error)
	LockWallet(ctx context.Context, userID int64) error
	Balance(ctx context.Context, userID int64) (int, error)
	Item(ctx context.Context, id string) (*db.ShopItem, error)
	GrantItem(ctx context.Context, userID int64, itemID string) error
	EntryDates(ctx context.Context, userID int64) ([]time.Time, error)
	UpsertStats(ctx context.Context, stats *db.UserStats) error
	UserIDs(ctx context.Context) ([]int64, error)
	Unseasoned(ctx context.Context, limit int) ([]db.Plant, error)
	SetSeason(ctx context.Context, id uuid.UUID, season string) error
}

// Session is a Store that owns its handle.
type Session interface {
	Store
	Commit(ctx context.Context) error
	Release(ctx context.Context)
}

// Opener opens a new Session. Maintenance calls it once per batch so that
// batches can run on separate connections.
type Opener func(ctx context.Context) (Session, error)

// NewSession wraps h. The session commits and releases h.
func NewSession(h db.Handle) Session {
	return &dbSession{dbStore: &dbStore{q: h}, h: h}
}

// StoreFor runs the garden's queries on q.
func StoreFor(q db.Querier) Store {
	return &dbStore{q: q}
}

type dbSession struct {
	*dbStore
	h db.Handle
}

func (s *dbSession) Commit(ctx context.Context) error { return s.h.Commit(ctx) }
func (s *dbSession) Release(ctx context.Context) { s.h.Release(ctx) }

// dbStore adapts the repositories to Store.
type dbStore struct {
	q db.Querier
}

func (s *dbStore) CreateEntry(ctx context.Context, e *db.MoodEntry) error {
	return db.Moods(s.q).Create(ctx, e)
}

func (s *dbStore) Plant(ctx context.Context, p *db.Plant) error {
	return db.Garden(s.q).Plant(ctx, p)
}

func (s *dbStore) AddLedger(ctx context.Context, e *db.LedgerEntry) (bool, error) {
	return db.Ledger(s.q).Add(ctx, e)
}

func (s *dbStore) LockWallet(ctx context.Context, userID int64) error {
	return db.Ledger(s.q).LockWallet(ctx, userID)
}

func (s *dbStore) Balance(ctx context.Context, userID int64) (int, error) {
	return db.Ledger(s.q).Balance(ctx, userID)
}

func (s *dbStore) Item(ctx context.Context, id string) (*db.ShopItem, error) {
	return db.Ledger(s.q).Item(ctx, id)
}

func (s *dbStore) GrantItem(ctx context.Context, userID int64, itemID string) error {
	return db.Ledger(s.q).GrantItem(ctx, userID, itemID)
}

func (s *dbStore) EntryDates(ctx context.Context, userID int64) ([]time.Time, error) {
	return db.Moods(s.q).Dates(ctx, userID)
}

func (s *dbStore) UpsertStats(ctx context.Context, stats *db.UserStats) error {
	return db.Stats(s.q).Upsert(ctx, stats)
}

func (s *dbStore) UserIDs(ctx context.Context) ([]int64, error) {
	return db.Users(s.q).ListIDs(ctx)
}

func (s *dbStore) Unseasoned(ctx context.Context, limit int) ([]db.Plant, error) {
	return db.Garden(s.q).ListUnseasoned(ctx, limit)
}

func (s *dbStore) SetSeason(ctx context.Context, id uuid.UUID, season string) error {
	return db.Garden(s.q).SetSeason(ctx, id, season)
}
