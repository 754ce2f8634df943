package db

import (
	"time"

	"github.com/google/uuid"
)

// User is a Telegram user who has signed in at least once.
type User struct {
	ID           int64      `json:"id"`
	FirstName    string     `json:"firstName"`
	LastName     string     `json:"lastName"`
	Username     string     `json:"username"`
	LanguageCode string     `json:"languageCode"`
	PhotoURL     *string    `json:"photoUrl"` // nullable
	Bio          string     `json:"bio"`
	IsPublic     bool       `json:"isPublic"`
	PremiumUntil *time.Time `json:"premiumUntil"` // nullable
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// IsPremium reports whether the premium period covers now.
func (u *User) IsPremium(now time.Time) bool {
	return u.PremiumUntil != nil && u.PremiumUntil.After(now)
}

// PublicUser is what other callers may see about a user.
type PublicUser struct {
	ID        int64   `json:"id"`
	FirstName string  `json:"firstName"`
	Username  string  `json:"username"`
	PhotoURL  *string `json:"photoUrl"`
}

// MoodEntry is one check-in. EntryDate is the calendar day the check-in
// belongs to and is what streaks count.
type MoodEntry struct {
	ID        uuid.UUID `json:"id"`
	UserID    int64     `json:"userId"`
	EntryDate time.Time `json:"-"`
	Mood      string    `json:"mood"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"createdAt"`
}

// Plant grows in a user's garden, one per check-in.
type Plant struct {
	ID          uuid.UUID  `json:"id"`
	UserID      int64      `json:"userId"`
	MoodEntryID *uuid.UUID `json:"moodEntryId"` // nullable
	Species     string     `json:"species"`
	Season      *string    `json:"season"` // nullable until backfilled
	PlantedOn   time.Time  `json:"-"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// LedgerEntry is one coin movement. Positive amounts credit the wallet.
type LedgerEntry struct {
	ID        uuid.UUID `json:"id"`
	UserID    int64     `json:"userId"`
	Amount    int       `json:"amount"`
	Reason    string    `json:"reason"`
	Reference string    `json:"reference"`
	CreatedAt time.Time `json:"createdAt"`
}

// Ledger reasons.
const (
	ReasonCheckIn  = "check_in"
	ReasonPurchase = "purchase"
)

// ShopItem is something coins can buy.
type ShopItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Price       int    `json:"price"`
	PremiumOnly bool   `json:"premiumOnly"`
}

// Friendship statuses.
const (
	FriendPending  = "pending"
	FriendAccepted = "accepted"
)

// Friend is a friendship seen from one side.
type Friend struct {
	User     PublicUser `json:"user"`
	Status   string     `json:"status"`
	Incoming bool       `json:"incoming"`
	Since    time.Time  `json:"since"`
}

// Challenge is a public check-in goal over a date range.
type Challenge struct {
	ID           uuid.UUID `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	TargetDays   int       `json:"targetDays"`
	StartsOn     time.Time `json:"-"`
	EndsOn       time.Time `json:"-"`
	Participants int       `json:"participants"`
}

// UserStats is the persisted copy of a user's streaks, refreshed by the
// admin recompute.
type UserStats struct {
	UserID        int64     `json:"userId"`
	CurrentStreak int       `json:"currentStreak"`
	LongestStreak int       `json:"longestStreak"`
	TotalDays     int       `json:"totalDays"`
	ComputedAt    time.Time `json:"computedAt"`
}

// LeaderboardRow is one ranked user.
type LeaderboardRow struct {
	Rank  int        `json:"rank"`
	User  PublicUser `json:"user"`
	Score int64      `json:"score"`
}
