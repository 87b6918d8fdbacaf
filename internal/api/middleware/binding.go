package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/quibex/botmother/internal/tenant"
)

const bindingKey = "binding"

// Binding resolves the execution context for the request: the mother
// instance by default, a tenant when the endpoint carries ?bot=<id>.
func Binding(resolver *tenant.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		var botID int64
		if raw := c.Query("bot"); raw != "" {
			// A malformed id simply resolves to the mother context; normal
			// authorization rejects the request further down.
			botID, _ = strconv.ParseInt(raw, 10, 64)
		}
		c.Set(bindingKey, resolver.Resolve(botID))
		c.Next()
	}
}

// GetBinding returns the binding set by the Binding middleware.
func GetBinding(c *gin.Context) *tenant.Binding {
	return c.MustGet(bindingKey).(*tenant.Binding)
}
