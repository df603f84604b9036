// Package auth issues and verifies the session tokens players present to
// reclaim their identity after a reconnect.
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"voxelstrike/netcore/internal/state"
)

const (
	// DefaultTTL bounds how long a disconnected player may reclaim a slot.
	DefaultTTL = 5 * time.Minute

	tokenIssuer = "netcore"
)

// ErrInvalidToken reports a token that failed parsing, signature or expiry
// checks.
var ErrInvalidToken = errors.New("auth: invalid session token")

// Claims is the session token payload.
type Claims struct {
	PlayerID state.EntityID `json:"player_id"`
	Team     uint8          `json:"team"`
	jwt.RegisteredClaims
}

// Issuer signs HS256 session tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer constructs an issuer. An empty secret is replaced by a random key,
// which invalidates tokens across restarts.
func NewIssuer(secret string, ttl time.Duration, clock func() time.Time) (*Issuer, error) {
	key := []byte(strings.TrimSpace(secret))
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &Issuer{secret: key, ttl: ttl, now: clock}, nil
}

// Issue returns a token binding playerID to team.
func (i *Issuer) Issue(playerID state.EntityID, team uint8) (string, error) {
	now := i.now()
	claims := Claims{
		PlayerID: playerID,
		Team:     team,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   fmt.Sprintf("player-%d", playerID),
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Verify parses token and returns its claims.
func (i *Issuer) Verify(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// TTL reports the token lifetime.
func (i *Issuer) TTL() time.Duration { return i.ttl }
