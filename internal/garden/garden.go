// Package garden turns check-ins into plants, coins and streak statistics.
package garden

import (
	"errors"
	"sort"
	"time"

	"github.com/kirakira-garden/kirakira-api/internal/streak"
)

// CheckInReward is the number of coins for the first check-in of a day.
const CheckInReward = 10

// Errors returned by the garden service.
var (
	ErrUnknownMood       = errors.New("unknown mood")
	ErrDateOutOfRange    = errors.New("check-in date must be today or yesterday")
	ErrNoteTooLong       = errors.New("note is too long")
	ErrPremiumRequired   = errors.New("item requires premium")
	ErrInsufficientCoins = errors.New("not enough coins")
)

// MaxNoteLength bounds a check-in note, in runes.
const MaxNoteLength = 500

// species maps a mood to the plant it grows.
var species = map[string]string{
	"happy":   "sunflower",
	"excited": "tulip",
	"calm":    "lavender",
	"tired":   "moss",
	"sad":     "bluebell",
	"anxious": "fern",
	"angry":   "cactus",
}

// Moods lists the accepted moods in alphabetical order.
func Moods() []string {
	moods := make([]string, 0, len(species))
	for m := range species {
		moods = append(moods, m)
	}
	sort.Strings(moods)
	return moods
}

// SpeciesFor returns the plant grown by mood.
func SpeciesFor(mood string) (string, error) {
	s, ok := species[mood]
	if !ok {
		return "", ErrUnknownMood
	}
	return s, nil
}

// Season is a Northern-hemisphere meteorological season.
type Season string

const (
	Winter Season = "winter"
	Spring Season = "spring"
	Summer Season = "summer"
	Autumn Season = "autumn"
)

// SeasonOf returns the season d falls in. Seasons start on the first of
// March, June, September and December.
func SeasonOf(d streak.Date) Season {
	switch d.Month {
	case time.March, time.April, time.May:
		return Spring
	case time.June, time.July, time.August:
		return Summer
	case time.September, time.October, time.November:
		return Autumn
	default:
		return Winter
	}
}
