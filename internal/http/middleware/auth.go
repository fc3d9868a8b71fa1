// Package middleware holds the cross-cutting gin middleware: identity,
// request logging and panic recovery.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/diegopirazabal/docproy/internal/infra"
)

const passengerKey = "passenger"

// Passenger is the identity extracted from a verified Firebase ID token.
// Custom claims carry the profile fields the booking flow snapshots onto
// tickets.
type Passenger struct {
	ID          string
	Name        string
	Email       string
	DeviceToken string
	Category    string
}

// Auth verifies the bearer token and stores the passenger identity on the
// request context. Requests without a valid token are rejected.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(passengerKey, Passenger{
			ID:          token.UID,
			Name:        claimString(token.Claims, "name"),
			Email:       claimString(token.Claims, "email"),
			DeviceToken: claimString(token.Claims, "device_token"),
			Category:    claimString(token.Claims, "category"),
		})
		c.Next()
	}
}

// PassengerFrom returns the identity stored by Auth.
func PassengerFrom(c *gin.Context) (Passenger, bool) {
	v, ok := c.Get(passengerKey)
	if !ok {
		return Passenger{}, false
	}
	p, ok := v.(Passenger)
	return p, ok
}

func claimString(claims map[string]interface{}, key string) string {
	s, _ := claims[key].(string)
	return s
}
