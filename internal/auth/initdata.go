package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Launch data errors.
var (
	ErrInitDataMalformed = errors.New("init data is malformed")
	ErrInitDataHash      = errors.New("init data hash mismatch")
	ErrInitDataExpired   = errors.New("init data is too old")
	ErrInitDataNoUser    = errors.New("init data carries no user")
)

// InitData is the subset of Telegram Mini App launch parameters the API uses.
type InitData struct {
	QueryID  string
	AuthDate time.Time
	User     InitDataUser
}

// InitDataUser is the "user" field of the launch parameters.
type InitDataUser struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Username     string `json:"username"`
	LanguageCode string `json:"language_code"`
	IsPremium    bool   `json:"is_premium"`
	PhotoURL     string `json:"photo_url"`
}

// Identity converts the launch user into a caller identity.
func (u InitDataUser) Identity() Identity {
	return Identity{
		UserID:       u.ID,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Username:     u.Username,
		LanguageCode: u.LanguageCode,
		Role:         RoleAuthenticated,
	}
}

// ValidateInitData checks the launch parameters signed by Telegram with botToken.
// maxAge <= 0 disables the freshness check.
func ValidateInitData(raw, botToken string, maxAge time.Duration, now time.Time) (InitData, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return InitData{}, fmt.Errorf("%w: %v", ErrInitDataMalformed, err)
	}

	hash := values.Get("hash")
	if hash == "" {
		return InitData{}, fmt.Errorf("%w: missing hash", ErrInitDataMalformed)
	}
	got, err := hex.DecodeString(hash)
	if err != nil {
		return InitData{}, fmt.Errorf("%w: hash is not hex", ErrInitDataMalformed)
	}
	if !hmac.Equal(got, signInitData(values, botToken)) {
		return InitData{}, ErrInitDataHash
	}

	authUnix, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil {
		return InitData{}, fmt.Errorf("%w: bad auth_date", ErrInitDataMalformed)
	}
	authDate := time.Unix(authUnix, 0)
	if maxAge > 0 && now.Sub(authDate) > maxAge {
		return InitData{}, ErrInitDataExpired
	}

	data := InitData{
		QueryID:  values.Get("query_id"),
		AuthDate: authDate,
	}

	rawUser := values.Get("user")
	if rawUser == "" {
		return InitData{}, ErrInitDataNoUser
	}
	if err := json.Unmarshal([]byte(rawUser), &data.User); err != nil {
		return InitData{}, fmt.Errorf("%w: bad user: %v", ErrInitDataMalformed, err)
	}
	if data.User.ID <= 0 {
		return InitData{}, ErrInitDataNoUser
	}
	return data, nil
}

// SignInitData returns the hex hash Telegram would attach to values.
// It exists for tests and local tooling that need to fabricate launch data.
func SignInitData(values url.Values, botToken string) string {
	return hex.EncodeToString(signInitData(values, botToken))
}

// signInitData computes HMAC-SHA256 over the sorted "key=value" lines of every
// field except hash, keyed with HMAC-SHA256("WebAppData", botToken).
func signInitData(values url.Values, botToken string) []byte {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k != "hash" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = k + "=" + values.Get(k)
	}

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))

	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(strings.Join(lines, "\n")))
	return mac.Sum(nil)
}
