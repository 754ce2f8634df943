package streak

import (
	"errors"
	"testing"
	"time"
)

func mustDates(t *testing.T, values ...string) []Date {
	t.Helper()
	dates, err := ParseDates(values)
	if err != nil {
		t.Fatalf("ParseDates(%v) error = %v", values, err)
	}
	return dates
}

func mustDate(t *testing.T, value string) Date {
	t.Helper()
	d, err := ParseDate(value)
	if err != nil {
		t.Fatalf("ParseDate(%q) error = %v", value, err)
	}
	return d
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name  string
		dates []string
		today string
		want  Stats
	}{
		{
			name:  "no check-ins",
			dates: nil,
			today: "2024-01-03",
			want:  Stats{Status: StatusNoDataYet},
		},
		{
			name:  "three consecutive days ending today",
			dates: []string{"2024-01-01", "2024-01-02", "2024-01-03"},
			today: "2024-01-03",
			want:  Stats{CurrentStreak: 3, LongestStreak: 3, TotalDays: 3, Status: StatusHasData},
		},
		{
			name:  "gap then single day today",
			dates: []string{"2024-01-01", "2024-01-02", "2024-01-10"},
			today: "2024-01-10",
			want:  Stats{CurrentStreak: 1, LongestStreak: 2, TotalDays: 3, Status: StatusHasData},
		},
		{
			name:  "last check-in yesterday keeps the run",
			dates: []string{"2024-01-01", "2024-01-02", "2024-01-03"},
			today: "2024-01-04",
			want:  Stats{CurrentStreak: 3, LongestStreak: 3, TotalDays: 3, Status: StatusHasData},
		},
		{
			name:  "last check-in two days ago resets current",
			dates: []string{"2024-01-01", "2024-01-02", "2024-01-03"},
			today: "2024-01-05",
			want:  Stats{CurrentStreak: 0, LongestStreak: 3, TotalDays: 3, Status: StatusHasData},
		},
		{
			name:  "unordered input",
			dates: []string{"2024-01-03", "2024-01-01", "2024-01-02"},
			today: "2024-01-03",
			want:  Stats{CurrentStreak: 3, LongestStreak: 3, TotalDays: 3, Status: StatusHasData},
		},
		{
			name:  "longest run in the past",
			dates: []string{"2023-12-01", "2023-12-02", "2023-12-03", "2023-12-04", "2024-01-09", "2024-01-10"},
			today: "2024-01-10",
			want:  Stats{CurrentStreak: 2, LongestStreak: 4, TotalDays: 6, Status: StatusHasData},
		},
		{
			name:  "run across a month and leap day",
			dates: []string{"2024-02-28", "2024-02-29", "2024-03-01"},
			today: "2024-03-01",
			want:  Stats{CurrentStreak: 3, LongestStreak: 3, TotalDays: 3, Status: StatusHasData},
		},
		{
			name:  "run across a year boundary",
			dates: []string{"2023-12-31", "2024-01-01"},
			today: "2024-01-02",
			want:  Stats{CurrentStreak: 2, LongestStreak: 2, TotalDays: 2, Status: StatusHasData},
		},
		{
			name:  "single day long ago",
			dates: []string{"2020-06-15"},
			today: "2024-01-01",
			want:  Stats{CurrentStreak: 0, LongestStreak: 1, TotalDays: 1, Status: StatusHasData},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compute(mustDates(t, tt.dates...), mustDate(t, tt.today))
			if err != nil {
				t.Fatalf("Compute() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Compute() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCompute_DuplicatesDoNotCount(t *testing.T) {
	today := mustDate(t, "2024-01-03")
	base := mustDates(t, "2024-01-01", "2024-01-02", "2024-01-03")

	want, err := Compute(base, today)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}

	for _, extra := range base {
		dup := append(append([]Date{}, base...), extra, extra)
		got, err := Compute(dup, today)
		if err != nil {
			t.Fatalf("Compute() error = %v", err)
		}
		if got != want {
			t.Errorf("adding %s twice: Compute() = %+v, want %+v", extra, got, want)
		}
	}
}

func TestCompute_LongestNeverBelowCurrent(t *testing.T) {
	start := mustDate(t, "2024-01-01")
	today := start.AddDays(40)

	// Every subset pattern of a 12-day window, sliding toward today.
	for mask := 1; mask < 1<<12; mask += 7 {
		for offset := 0; offset <= 29; offset += 29 {
			var dates []Date
			for i := 0; i < 12; i++ {
				if mask&(1<<i) != 0 {
					dates = append(dates, start.AddDays(offset+i))
				}
			}
			got, err := Compute(dates, today)
			if err != nil {
				t.Fatalf("Compute() error = %v", err)
			}
			if got.LongestStreak < got.CurrentStreak {
				t.Fatalf("mask %b offset %d: longest %d < current %d", mask, offset, got.LongestStreak, got.CurrentStreak)
			}
			if got.TotalDays != len(dates) {
				t.Fatalf("mask %b: total %d, want %d", mask, got.TotalDays, len(dates))
			}
		}
	}
}

func TestCompute_Rejects(t *testing.T) {
	today := mustDate(t, "2024-01-03")

	tests := []struct {
		name  string
		dates []Date
		today Date
	}{
		{name: "future date", dates: []Date{today.AddDays(1)}, today: today},
		{name: "zero date", dates: []Date{today, {}}, today: today},
		{name: "zero today", dates: []Date{today}, today: Date{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compute(tt.dates, tt.today)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Compute() error = %v, want *ValidationError", err)
			}
		})
	}
}

func TestParseDates(t *testing.T) {
	if _, err := ParseDates([]string{"2024-01-01", "2024-13-01"}); err == nil {
		t.Error("ParseDates() accepted month 13")
	}
	if _, err := ParseDates([]string{"2024-01-01T10:00:00Z"}); err == nil {
		t.Error("ParseDates() accepted a timestamp")
	}

	got, err := ParseDates([]string{"2024-02-29"})
	if err != nil {
		t.Fatalf("ParseDates() error = %v", err)
	}
	if got[0].String() != "2024-02-29" {
		t.Errorf("String() = %q", got[0].String())
	}
}

func TestToday(t *testing.T) {
	// 23:30 UTC on Jan 3 is already Jan 4 in Tokyo and still Jan 3 in New York.
	now := time.Date(2024, 1, 3, 23, 30, 0, 0, time.UTC)

	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	newYork, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	tests := []struct {
		loc  *time.Location
		want string
	}{
		{nil, "2024-01-03"},
		{time.UTC, "2024-01-03"},
		{tokyo, "2024-01-04"},
		{newYork, "2024-01-03"},
	}
	for _, tt := range tests {
		if got := Today(now, tt.loc).String(); got != tt.want {
			t.Errorf("Today(%v) = %s, want %s", tt.loc, got, tt.want)
		}
	}
}

func TestDateOf_KeepsRecordedDate(t *testing.T) {
	// A check-in stored as 2024-01-03 in a +09:00 zone stays on the 3rd.
	recorded := time.Date(2024, 1, 3, 0, 30, 0, 0, time.FixedZone("JST", 9*3600))
	if got := DateOf(recorded).String(); got != "2024-01-03" {
		t.Errorf("DateOf() = %s, want 2024-01-03", got)
	}
}
