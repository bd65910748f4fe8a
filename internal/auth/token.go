package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"ms-raffle/internal/models"
)

// ExtractTokenFromRequest extracts a bearer token from the Authorization
// header.
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("authorization header is missing")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("authorization header format must be 'Bearer {token}'")
	}

	return parts[1], nil
}

// identityFromClaims maps the auth service's claim set onto the caller
// identity the engine trusts. The auth service issues {id, name, email,
// phone, role}; "sub" is accepted as an id fallback for OIDC-shaped tokens.
func identityFromClaims(claims jwt.MapClaims) (models.Identity, error) {
	identity := models.Identity{
		ID:    stringClaim(claims, "id"),
		Name:  stringClaim(claims, "name"),
		Email: stringClaim(claims, "email"),
		Phone: stringClaim(claims, "phone"),
		Role:  stringClaim(claims, "role"),
	}
	if identity.ID == "" {
		identity.ID = stringClaim(claims, "sub")
	}
	if identity.ID == "" {
		return models.Identity{}, errors.New("token carries no user id")
	}
	return identity, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

// JWTVerifier validates HS256 tokens signed by the auth service.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(tokenString string) (models.Identity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return models.Identity{}, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return models.Identity{}, errors.New("invalid token claims")
	}
	return identityFromClaims(claims)
}
