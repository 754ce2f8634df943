package db

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kirakira-garden/kirakira-api/internal/auth"
)

func TestEscapeLike(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"hana", "hana"},
		{"100%", `100\%`},
		{"snake_case", `snake\_case`},
		{`back\slash`, `back\\slash`},
	}
	for _, tt := range tests {
		if got := escapeLike(tt.in); got != tt.want {
			t.Errorf("escapeLike(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUser_IsPremium(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name  string
		until *time.Time
		want  bool
	}{
		{name: "never premium", until: nil, want: false},
		{name: "expired", until: &past, want: false},
		{name: "active", until: &future, want: true},
		{name: "ends now", until: &now, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &User{PremiumUntil: tt.until}
			if got := u.IsPremium(now); got != tt.want {
				t.Errorf("IsPremium() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPgErrorClassification(t *testing.T) {
	unique := fmt.Errorf("inserting: %w", &pgconn.PgError{Code: "23505"})
	fk := fmt.Errorf("inserting: %w", &pgconn.PgError{Code: "23503"})

	if !isUniqueViolation(unique) || isUniqueViolation(fk) {
		t.Error("isUniqueViolation misclassified")
	}
	if !isForeignKeyViolation(fk) || isForeignKeyViolation(unique) {
		t.Error("isForeignKeyViolation misclassified")
	}
	if isUniqueViolation(nil) || isForeignKeyViolation(errors.New("plain")) {
		t.Error("non-Postgres errors classified as violations")
	}
}

func TestScoped_RequiresUser(t *testing.T) {
	db := &DB{}
	tests := []struct {
		name string
		id   auth.Identity
	}{
		{name: "zero identity", id: auth.Identity{}},
		{name: "service identity", id: auth.Identity{Role: auth.RoleService}},
		{name: "service identity with id", id: auth.Identity{UserID: 5, Role: auth.RoleService}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := db.Scoped(context.Background(), tt.id)
			if !errors.Is(err, ErrNoSubject) {
				t.Fatalf("Scoped() error = %v, want ErrNoSubject", err)
			}
			if h != nil {
				t.Error("Scoped() returned a handle on error")
			}
		})
	}
}

func TestAdmin_Unconfigured(t *testing.T) {
	db := &DB{}
	if db.HasAdmin() {
		t.Fatal("HasAdmin() = true without a service pool")
	}
	if _, err := db.Admin(context.Background()); !errors.Is(err, ErrAdminUnavailable) {
		t.Errorf("Admin() error = %v, want ErrAdminUnavailable", err)
	}
	if err := db.Migrate(context.Background()); !errors.Is(err, ErrAdminUnavailable) {
		t.Errorf("Migrate() error = %v, want ErrAdminUnavailable", err)
	}
}

func TestSchema_EnablesRowLevelSecurity(t *testing.T) {
	tables := []string{
		"users", "mood_entries", "garden_plants", "coin_ledger", "shop_items",
		"user_items", "friendships", "challenges", "challenge_participants", "user_stats",
	}
	for _, table := range tables {
		stmt := "ALTER TABLE " + table + " ENABLE ROW LEVEL SECURITY;"
		if !strings.Contains(schema, stmt) {
			t.Errorf("schema does not enable RLS on %s", table)
		}
	}
}

var (
	policyRe   = regexp.MustCompile(`^CREATE POLICY \w+ ON (\w+) .*\bTO ([\w, ]+?) (?:USING|WITH CHECK)`)
	fromRe     = regexp.MustCompile(`\bFROM (\w+)`)
	grantSelRe = regexp.MustCompile(`^GRANT ([\w, ]+) ON ([\w, ]+) TO ([\w, ]+)$`)
)

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Policies are evaluated with the querying role's privileges, so every table
// an anon policy reads must be selectable by anon.
func TestSchema_AnonPoliciesReadGrantedTables(t *testing.T) {
	granted := map[string]bool{}
	var policies [][]string
	for _, raw := range strings.Split(schema, ";") {
		var lines []string
		for _, line := range strings.Split(raw, "\n") {
			if !strings.HasPrefix(strings.TrimSpace(line), "--") {
				lines = append(lines, line)
			}
		}
		stmt := strings.Join(strings.Fields(strings.Join(lines, " ")), " ")

		if m := grantSelRe.FindStringSubmatch(stmt); m != nil {
			if contains(splitList(m[1]), "SELECT") && contains(splitList(m[3]), "anon") {
				for _, table := range splitList(m[2]) {
					granted[table] = true
				}
			}
			continue
		}
		if m := policyRe.FindStringSubmatch(stmt); m != nil && contains(splitList(m[2]), "anon") {
			tables := []string{m[1]}
			for _, f := range fromRe.FindAllStringSubmatch(stmt, -1) {
				tables = append(tables, f[1])
			}
			policies = append(policies, tables)
		}
	}

	if len(policies) == 0 {
		t.Fatal("no anon policies found in schema")
	}
	for _, tables := range policies {
		for _, table := range tables {
			if !granted[table] {
				t.Errorf("anon policy on %s reads %s, which is not granted to anon", tables[0], table)
			}
		}
	}
	if !granted["friendships"] {
		t.Error("users_read needs SELECT on friendships for anon")
	}
}
