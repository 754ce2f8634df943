package garden

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/kirakira-garden/kirakira-api/internal/db"
	"github.com/kirakira-garden/kirakira-api/internal/streak"
)

// Defaults for maintenance fan-out.
const (
	DefaultConcurrency = 4
	DefaultBatchSize   = 100
)

// Service implements check-ins, the shop and streak statistics, plus the
// maintenance operations that span all users.
type Service struct {
	log         *zap.SugaredLogger
	now         func() time.Time
	concurrency int
	batchSize   int
}

// Option configures a Service.
type Option func(*Service)

// WithConcurrency sets how many maintenance batches run at once.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithBatchSize sets how many users or plants a maintenance batch covers.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithClock overrides the service's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a garden service.
func NewService(log *zap.SugaredLogger, opts ...Option) *Service {
	s := &Service{
		log:         log,
		now:         time.Now,
		concurrency: DefaultConcurrency,
		batchSize:   DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckIn is a request to log a mood.
type CheckIn struct {
	Mood string
	Note string
	// Date is the caller's calendar day for the check-in.
	Date streak.Date
}

// CheckInResult is what a check-in produced.
type CheckInResult struct {
	Entry        db.MoodEntry `json:"entry"`
	Plant        db.Plant     `json:"plant"`
	CoinsAwarded int          `json:"coinsAwarded"`
}

// CheckIn records a mood for userID, plants the matching plant and awards
// CheckInReward coins if it is the first check-in of that day. today is the
// caller's current calendar date; the check-in may be for today or yesterday.
func (s *Service) CheckIn(ctx context.Context, st Store, userID int64, in CheckIn, today streak.Date) (*CheckInResult, error) {
	kind, err := SpeciesFor(in.Mood)
	if err != nil {
		return nil, err
	}
	note := strings.TrimSpace(in.Note)
	if utf8.RuneCountInString(note) > MaxNoteLength {
		return nil, ErrNoteTooLong
	}
	date := in.Date
	if date.IsZero() {
		date = today
	}
	if date.After(today) || date.Before(today.AddDays(-1)) {
		return nil, ErrDateOutOfRange
	}

	res := &CheckInResult{
		Entry: db.MoodEntry{
			UserID:    userID,
			EntryDate: date.Time(),
			Mood:      in.Mood,
			Note:      note,
		},
	}
	if err := st.CreateEntry(ctx, &res.Entry); err != nil {
		return nil, fmt.Errorf("recording check-in: %w", err)
	}

	season := string(SeasonOf(date))
	res.Plant = db.Plant{
		UserID:      userID,
		MoodEntryID: &res.Entry.ID,
		Species:     kind,
		Season:      &season,
		PlantedOn:   date.Time(),
	}
	if err := st.Plant(ctx, &res.Plant); err != nil {
		return nil, fmt.Errorf("planting: %w", err)
	}

	awarded, err := st.AddLedger(ctx, &db.LedgerEntry{
		UserID:    userID,
		Amount:    CheckInReward,
		Reason:    db.ReasonCheckIn,
		Reference: date.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("awarding coins: %w", err)
	}
	if awarded {
		res.CoinsAwarded = CheckInReward
	}
	return res, nil
}

// Stats computes the user's streak statistics as of today.
func (s *Service) Stats(ctx context.Context, st Store, userID int64, today streak.Date) (streak.Stats, error) {
	dates, err := s.entryDates(ctx, st, userID)
	if err != nil {
		return streak.Stats{}, err
	}
	return streak.Compute(dates, asOf(today, dates))
}

// asOf is the day statistics are computed for. Check-ins are dated in the
// caller's timezone, so a stored entry can be later than today as seen from
// another zone; the latest entry then counts as today.
func asOf(today streak.Date, dates []streak.Date) streak.Date {
	for _, d := range dates {
		if d.After(today) {
			today = d
		}
	}
	return today
}

// Verification compares client-computed statistics with the server's.
type Verification struct {
	Match      bool         `json:"match"`
	Server     streak.Stats `json:"server"`
	Client     streak.Stats `json:"client"`
	Mismatched []string     `json:"mismatched,omitempty"`
}

// VerifyStats recomputes the user's statistics and compares them with the
// ones the client computed. Mismatches are logged.
func (s *Service) VerifyStats(ctx context.Context, st Store, userID int64, today streak.Date, client streak.Stats) (*Verification, error) {
	server, err := s.Stats(ctx, st, userID, today)
	if err != nil {
		return nil, err
	}

	v := &Verification{Server: server, Client: client}
	if client.CurrentStreak != server.CurrentStreak {
		v.Mismatched = append(v.Mismatched, "currentStreak")
	}
	if client.LongestStreak != server.LongestStreak {
		v.Mismatched = append(v.Mismatched, "longestStreak")
	}
	if client.TotalDays != server.TotalDays {
		v.Mismatched = append(v.Mismatched, "totalDays")
	}
	v.Match = len(v.Mismatched) == 0

	if !v.Match {
		s.log.Infow("client streak mismatch",
			"user_id", userID,
			"today", today.String(),
			"fields", v.Mismatched,
			"client", client,
			"server", server,
		)
	}
	return v, nil
}

// Purchase buys itemID for user. Premium items need an active premium period.
func (s *Service) Purchase(ctx context.Context, st Store, user *db.User, itemID string) (*db.ShopItem, int, error) {
	item, err := st.Item(ctx, itemID)
	if err != nil {
		return nil, 0, err
	}
	if item.PremiumOnly && !user.IsPremium(s.now()) {
		return nil, 0, ErrPremiumRequired
	}

	if err := st.LockWallet(ctx, user.ID); err != nil {
		return nil, 0, err
	}
	balance, err := st.Balance(ctx, user.ID)
	if err != nil {
		return nil, 0, err
	}
	if balance < item.Price {
		return nil, balance, ErrInsufficientCoins
	}

	if err := st.GrantItem(ctx, user.ID, item.ID); err != nil {
		return nil, balance, err
	}
	if item.Price > 0 {
		_, err := st.AddLedger(ctx, &db.LedgerEntry{
			UserID:    user.ID,
			Amount:    -item.Price,
			Reason:    db.ReasonPurchase,
			Reference: item.ID,
		})
		if err != nil {
			return nil, balance, fmt.Errorf("charging purchase: %w", err)
		}
	}
	return item, balance - item.Price, nil
}

func (s *Service) entryDates(ctx context.Context, st Store, userID int64) ([]streak.Date, error) {
	raw, err := st.EntryDates(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading check-in dates: %w", err)
	}
	dates := make([]streak.Date, len(raw))
	for i, t := range raw {
		dates[i] = streak.DateOf(t)
	}
	return dates, nil
}
