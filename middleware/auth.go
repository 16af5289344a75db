package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
)

const (
	ContextOwnerID = "ownerID"
	ContextIsAdmin = "isAdmin"
)

// Identity resolves the request's owner. A Bearer token signed with the
// shared secret wins; the X-User-ID header is honored as a fallback for
// traffic that already passed the gateway.
func Identity(secret string) gin.HandlerFunc {
	var key []byte
	if s := strings.TrimSpace(secret); s != "" {
		key = []byte(s)
	}
	return func(c *gin.Context) {
		if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") && key != nil {
			claims, err := parseToken(strings.TrimPrefix(auth, "Bearer "), key)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
				return
			}
			owner := claimString(claims, "sub")
			if owner == "" {
				owner = claimString(claims, "user_id")
			}
			if owner == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token missing subject"})
				return
			}
			c.Set(ContextOwnerID, owner)
			c.Set(ContextIsAdmin, claimString(claims, "role") == "admin")
			c.Next()
			return
		}

		if owner := strings.TrimSpace(c.GetHeader("X-User-ID")); owner != "" {
			c.Set(ContextOwnerID, owner)
			c.Set(ContextIsAdmin, strings.EqualFold(c.GetHeader("X-User-Role"), "admin"))
			c.Next()
			return
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
	}
}

func parseToken(tokenStr string, key []byte) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil || token == nil || !token.Valid {
		return nil, fmt.Errorf("invalid or expired token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

func claimString(claims jwt.MapClaims, name string) string {
	v, _ := claims[name].(string)
	return v
}

// OwnerID returns the identity set by Identity.
func OwnerID(c *gin.Context) string {
	return c.GetString(ContextOwnerID)
}

// AdminOnly rejects requests whose identity lacks the admin role.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(ContextIsAdmin) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access required"})
			return
		}
		c.Next()
	}
}
