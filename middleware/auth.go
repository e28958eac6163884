package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ContextAccountID   = "account_id"
	ContextDisplayName = "display_name"
)

var ErrMissingToken = errors.New("authorization token required")

// Claims identify an account issued by the identity provider, or a guest
// account issued by this server.
type Claims struct {
	AccountID   string `json:"account_id"`
	DisplayName string `json:"display_name"`
	Guest       bool   `json:"guest,omitempty"`
	jwt.RegisteredClaims
}

func GenerateToken(secret, accountID, displayName string, guest bool, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		AccountID:   accountID,
		DisplayName: displayName,
		Guest:       guest,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseToken(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.AccountID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// tokenFromRequest reads the bearer header, falling back to the token query
// parameter that browsers use for websockets.
func tokenFromRequest(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return c.Query("token")
}

func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := tokenFromRequest(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrMissingToken.Error()})
			return
		}

		claims, err := ParseToken(secret, tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set(ContextAccountID, claims.AccountID)
		c.Set(ContextDisplayName, claims.DisplayName)
		c.Next()
	}
}
