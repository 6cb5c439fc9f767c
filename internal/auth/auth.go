// Package auth verifies the bearer tokens clients present on the REST API
// and the websocket endpoint. Tokens are issued elsewhere.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/empiretcg/empire-server-go/internal/apperrors"
	"github.com/empiretcg/empire-server-go/internal/config"
	"github.com/golang-jwt/jwt/v5"
)

// Identity is the caller a token vouches for.
type Identity struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// Verifier turns a bearer token into an identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// Claims is the token payload. The subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}

// JWTVerifier checks HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewJWTVerifier creates a verifier. An empty issuer accepts any issuer.
func NewJWTVerifier(secret, issuer string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &JWTVerifier{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// Verify implements Verifier.
func (v *JWTVerifier) Verify(_ context.Context, token string) (Identity, error) {
	const op = "Verify"
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, apperrors.Unauthorized(op, "token is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Identity{}, apperrors.Unauthorized(op, "token is expired")
		case errors.Is(err, jwt.ErrTokenInvalidIssuer):
			return Identity{}, apperrors.Unauthorized(op, "token issuer mismatch")
		default:
			return Identity{}, apperrors.Unauthorized(op, "invalid token")
		}
	}
	if claims.Subject == "" {
		return Identity{}, apperrors.Unauthorized(op, "token has no subject")
	}
	name := claims.Name
	if name == "" {
		name = claims.Subject
	}
	return Identity{UserID: claims.Subject, Name: name}, nil
}

// Sign issues a token for id that expires after ttl. The server itself
// never issues tokens; this exists for tooling and tests.
func (v *JWTVerifier) Sign(id Identity, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name: id.Name,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// InsecureVerifier trusts the token as "<user id>" or "<user id>:<name>".
// Development only.
type InsecureVerifier struct{}

// Verify implements Verifier.
func (InsecureVerifier) Verify(_ context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, apperrors.Unauthorized("Verify", "token is required")
	}
	id, name, found := strings.Cut(token, ":")
	if !found || name == "" {
		name = id
	}
	return Identity{UserID: id, Name: name}, nil
}

// NewVerifier picks the verifier for cfg: JWT when a secret is configured,
// otherwise the insecure verifier if allowed.
func NewVerifier(cfg config.AuthConfig) (Verifier, error) {
	if cfg.JWTSecret != "" {
		return NewJWTVerifier(cfg.JWTSecret, cfg.Issuer)
	}
	if cfg.AllowInsecure {
		return InsecureVerifier{}, nil
	}
	return nil, fmt.Errorf("auth: no jwt secret configured and insecure mode is off")
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
