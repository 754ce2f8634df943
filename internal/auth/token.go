package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TokenIssuer is the "iss" claim on every token this service signs.
const TokenIssuer = "kirakira"

// ErrEmptySecret is returned when a signer or verifier is built without a secret.
var ErrEmptySecret = errors.New("token signing secret is empty")

// Claims is the JWT payload. "sub" holds the Telegram user id.
type Claims struct {
	Role         Role   `json:"role"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	Username     string `json:"username,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs bearer tokens at sign-in.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithClock overrides the issuer's time source.
func WithClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		i.now = now
	}
}

// NewIssuer creates an Issuer signing HS256 tokens valid for ttl.
func NewIssuer(secret []byte, ttl time.Duration, opts ...IssuerOption) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	i := &Issuer{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue signs a token for id and returns it with its expiry.
func (i *Issuer) Issue(id Identity) (string, time.Time, error) {
	now := i.now()
	expiry := now.Add(i.ttl)

	role := id.Role
	if role == "" {
		role = RoleAuthenticated
	}

	claims := Claims{
		Role:         role,
		FirstName:    id.FirstName,
		LastName:     id.LastName,
		Username:     id.Username,
		LanguageCode: id.LanguageCode,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    TokenIssuer,
			Subject:   Identity{UserID: id.UserID, Role: role}.Subject(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return token, expiry, nil
}

// Verifier checks bearer tokens against the signing secret.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
	log    *zap.SugaredLogger
}

// NewVerifier creates a Verifier. Only HS256 tokens are accepted.
func NewVerifier(secret []byte, log *zap.SugaredLogger) (*Verifier, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	return &Verifier{
		secret: secret,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
		log:    log,
	}, nil
}

// Verify returns the identity embedded in token. An empty, malformed, expired or
// forged token reports false; verification failure is an ordinary outcome.
func (v *Verifier) Verify(token string) (Identity, bool) {
	if token == "" {
		return Identity{}, false
	}

	id, err := v.verify(token)
	if err != nil {
		// The token itself is never logged.
		v.log.Debugw("bearer token rejected", "reason", err.Error())
		return Identity{}, false
	}
	return id, true
}

func (v *Verifier) verify(token string) (Identity, error) {
	var claims Claims
	parsed, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, classifyParseError(err)
	}
	if !parsed.Valid {
		return Identity{}, errors.New("invalid token")
	}
	if !claims.VerifyIssuer(TokenIssuer, true) {
		return Identity{}, errors.New("unexpected issuer")
	}
	if claims.ExpiresAt == nil {
		return Identity{}, errors.New("missing expiry")
	}

	id := Identity{
		FirstName:    claims.FirstName,
		LastName:     claims.LastName,
		Username:     claims.Username,
		LanguageCode: claims.LanguageCode,
		Role:         claims.Role,
	}

	switch claims.Role {
	case RoleAuthenticated:
		userID, err := strconv.ParseInt(claims.Subject, 10, 64)
		if err != nil || userID <= 0 {
			return Identity{}, errors.New("subject is not a user id")
		}
		id.UserID = userID
	case RoleService:
		// Operator tokens are not bound to a Telegram user.
	default:
		return Identity{}, fmt.Errorf("unknown role %q", claims.Role)
	}
	return id, nil
}

// classifyParseError reduces jwt errors to a loggable reason without token material.
func classifyParseError(err error) error {
	var verr *jwt.ValidationError
	if !errors.As(err, &verr) {
		return errors.New("unparseable token")
	}
	switch {
	case verr.Errors&jwt.ValidationErrorMalformed != 0:
		return errors.New("malformed token")
	case verr.Errors&jwt.ValidationErrorSignatureInvalid != 0:
		return errors.New("bad signature")
	case verr.Errors&jwt.ValidationErrorExpired != 0:
		return errors.New("expired")
	case verr.Errors&jwt.ValidationErrorNotValidYet != 0, verr.Errors&jwt.ValidationErrorIssuedAt != 0:
		return errors.New("not valid yet")
	default:
		return errors.New("invalid token")
	}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
// Any other scheme, or no header, yields "".
func BearerToken(r *http.Request) string {
	scheme, token, found := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
