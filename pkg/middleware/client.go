package middleware

import (
	"github.com/gin-gonic/gin"
)

// HeaderClientID is sent by agents on every request.
const HeaderClientID = "X-Octopus-Client"

const clientIDKey = "octopus.client_id"

// ClientIdentity copies the agent identity header into the gin context.
func ClientIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := c.GetHeader(HeaderClientID); id != "" {
			c.Set(clientIDKey, id)
		}
		c.Next()
	}
}

// ClientID returns the identity set by ClientIdentity, or "".
func ClientID(c *gin.Context) string {
	return c.GetString(clientIDKey)
}
