// Package middleware holds the gin middleware shared by the project API and
// the reference aggregator.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ErrorBody is the JSON shape of every error reply
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// BearerAuth rejects requests whose Authorization header does not carry
// token. An empty token disables the check, which is the local default.
func BearerAuth(token string) gin.HandlerFunc {
	if token == "" {
		return func(c *gin.Context) { c.Next() }
	}
	expected := []byte(token)
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		got, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), expected) != 1 {
			c.Header("WWW-Authenticate", `Bearer realm="nebula"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorBody{
				Error:   "unauthorized",
				Message: "missing or invalid bearer token",
			})
			return
		}
		c.Next()
	}
}
