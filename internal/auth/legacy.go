package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LegacyIssuer is the issuer of locally signed HMAC tokens
const LegacyIssuer = "onera-api"

// LegacyClaims represents legacy JWT claims (HMAC-signed tokens)
type LegacyClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// ValidateLegacyToken validates a token using HMAC signing
func ValidateLegacyToken(tokenString, secret string) (*LegacyClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &LegacyClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*LegacyClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}

	return claims, nil
}

// IssueLegacyToken signs an HMAC token for userID. A zero ttl yields a token without
// expiry.
func IssueLegacyToken(secret, userID, email string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", jwt.ErrInvalidKey
	}
	claims := LegacyClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   LegacyIssuer,
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
