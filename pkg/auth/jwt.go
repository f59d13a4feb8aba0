package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"chatwire/pkg/chaterr"
	"chatwire/pkg/config"
	"chatwire/pkg/models"
)

// Claims is the JWT payload chatwire issues and accepts. Subject carries
// the user id; Name and Role are chat-specific extensions.
type Claims struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verify parses and validates a signed token and returns the caller
// identity. Expired or malformed tokens map to unauthorized so the edge
// can answer 401 without inspecting the cause.
func Verify(token string) (models.Identity, error) {
	secret := config.GetJWTSecret()
	if secret == "" {
		return models.Identity{}, errors.New("jwt secret not configured")
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return models.Identity{}, chaterr.Unauthorized("token expired")
		}
		return models.Identity{}, chaterr.Wrap(chaterr.CodeUnauthorized, "invalid token", err)
	}
	id := models.Identity{
		ID:   strings.TrimSpace(claims.Subject),
		Name: claims.Name,
		Role: claims.Role,
	}
	if id.ID == "" {
		return models.Identity{}, chaterr.Unauthorized("token missing subject")
	}
	switch id.Role {
	case models.RoleCustomer, models.RoleAgent, models.RoleAdmin:
	default:
		return models.Identity{}, chaterr.Unauthorized("token carries unknown role")
	}
	if id.Name == "" {
		id.Name = id.ID
	}
	return id, nil
}

// Mint signs a token for the given identity. Used by the dev token
// endpoint and by tests; production deployments issue tokens upstream.
func Mint(id models.Identity, ttl time.Duration) (string, error) {
	secret := config.GetJWTSecret()
	if secret == "" {
		return "", errors.New("jwt secret not configured")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := time.Now()
	claims := Claims{
		Name: id.Name,
		Role: id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "chatwire",
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString([]byte(secret))
}
