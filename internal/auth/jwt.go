// Package auth issues and checks the signed session tokens that identify the
// acting doctor or admin.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/medicare-plus/frontdesk/internal/apperr"
)

// Role of the acting user
type Role string

const (
	RoleDoctor Role = "doctor"
	RoleAdmin  Role = "admin"
)

// Claims carried by a session token. RegisteredClaims.ID is the session id.
type Claims struct {
	SubjectID string `json:"subjectId"`
	Role      Role   `json:"role"`
	jwt.RegisteredClaims
}

// JWTService signs and validates HS256 session tokens
type JWTService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTService creates a token service
func NewJWTService(secret string, ttl time.Duration) *JWTService {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &JWTService{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Generate issues a token for subjectID with a fresh session id
func (j *JWTService) Generate(subjectID string, role Role) (string, *Claims, error) {
	now := j.now()
	claims := &Claims{
		SubjectID: subjectID,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Validate parses a token and rejects anything not signed with HMAC by us
func (j *JWTService) Validate(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return j.secret, nil
	}, jwt.WithTimeFunc(j.now))
	if err != nil {
		return nil, apperr.Unauthorized("invalid session token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.SubjectID == "" {
		return nil, apperr.Unauthorized("invalid session token")
	}
	return claims, nil
}

type identityKey struct{}

// WithClaims stores the authenticated identity in ctx
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, identityKey{}, c)
}

// FromContext returns the authenticated identity, if any
func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(identityKey{}).(*Claims)
	return c, ok
}
