package annotation

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const userIDKey = "userId"

// Claims identify the user a bearer token was issued to
type Claims struct {
	jwt.RegisteredClaims
}

// MintToken signs a token for userID. A zero ttl gives a token that never expires.
func MintToken(secret, userID string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("no auth secret configured")
	}
	now := time.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:  userID,
		IssuedAt: jwt.NewNumericDate(now),
	}}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken validates a token and returns the user id it carries
func ParseToken(secret, token string) (string, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", errors.New("token carries no user")
	}
	return claims.Subject, nil
}

func bearer(c *gin.Context) string {
	parts := strings.Fields(c.GetHeader("Authorization"))
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return ""
}

// authMiddleware rejects requests without a valid bearer token and stores the user id.
// A ?token= query is accepted too, <img> tags and EventSource cannot set headers.
func authMiddleware(secret string, status func(*gin.Context, int, string)) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearer(c)
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			status(c, http.StatusUnauthorized, localize(c, "unauthorized"))
			c.Abort()
			return
		}
		userID, err := ParseToken(secret, token)
		if err != nil {
			status(c, http.StatusUnauthorized, localize(c, "invalid_token"))
			c.Abort()
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

func currentUser(c *gin.Context) string {
	return c.GetString(userIDKey)
}
