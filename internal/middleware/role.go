package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mapmarket/backend/internal/lifecycle"
	"github.com/mapmarket/backend/internal/models"
	"github.com/mapmarket/backend/pkg/response"
)

// RequireRole returns a middleware that allows only the given roles.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	allowed := make(map[string]struct{})
	for _, r := range roles {
		allowed[string(r)] = struct{}{}
	}
	return func(c *gin.Context) {
		roleVal, ok := c.Get(ContextUserRole)
		if !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		role, _ := roleVal.(string)
		if _, ok := allowed[role]; !ok {
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireAdmin allows admins only.
func RequireAdmin() gin.HandlerFunc {
	return RequireRole(models.RoleAdmin)
}

// ActorFrom builds the lifecycle actor from the authenticated request.
// Requests without claims get the zero Actor, which owns nothing.
func ActorFrom(c *gin.Context) lifecycle.Actor {
	actor, _ := OptionalActor(c)
	return actor
}

// OptionalActor returns the actor and whether the request is authenticated.
func OptionalActor(c *gin.Context) (lifecycle.Actor, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return lifecycle.Actor{}, false
	}
	id, ok := v.(uuid.UUID)
	if !ok {
		return lifecycle.Actor{}, false
	}
	role := c.GetString(ContextUserRole)
	return lifecycle.Actor{UserID: id, IsAdmin: role == string(models.RoleAdmin)}, true
}
