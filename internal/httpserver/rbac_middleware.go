package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"mailsweep/internal/api"
	"mailsweep/pkg/rbac"
)

// RequirePermission 中间件：要求用户具有指定权限
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := c.GetString(api.SubjectKey)
		if subject == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
			c.Abort()
			return
		}

		if err := rbac.CheckPermission(subject, c.GetString(api.RoleKey), permission); err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Next()
	}
}
