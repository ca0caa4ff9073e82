// Package auth verifies the bearer credentials presented at the
// websocket handshake and on REST calls. Identity always derives from
// the token; client-asserted identities in payloads are never trusted.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"rally/pkg/types"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Verifier turns a bearer credential into a participant identity.
type Verifier interface {
	Verify(token string) (types.Player, error)
}

// playerClaims is the expected token shape: subject carries the player
// id, username the display name.
type playerClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
}

// JWTVerifier validates HS256-signed tokens against a shared secret.
type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), now: time.Now}
}

// Verify parses and validates the token and extracts the player
// identity from its claims.
func (v *JWTVerifier) Verify(token string) (types.Player, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return types.Player{}, ErrMissingToken
	}

	var claims playerClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return types.Player{}, ErrInvalidToken
	}

	if claims.Subject == "" || claims.Username == "" {
		return types.Player{}, ErrInvalidToken
	}
	return types.Player{ID: claims.Subject, Username: claims.Username}, nil
}

// Issue signs a token for the given player, valid for ttl. Used by
// deployments that front this server directly and by tests.
func (v *JWTVerifier) Issue(player types.Player, ttl time.Duration) (string, error) {
	now := v.now()
	claims := playerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   player.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Username: player.Username,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// BearerToken extracts the credential from an Authorization header
// value, accepting both "Bearer <token>" and a bare token.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if rest, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(rest)
	}
	return header
}
