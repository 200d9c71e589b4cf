package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"mailsweep/internal/api"
	"mailsweep/internal/util"
	"mailsweep/pkg/metrics"
	"mailsweep/pkg/rbac"
	"mailsweep/pkg/trace"
)

func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := util.ExtractToken(c.Request)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			c.Abort()
			return
		}

		claims, err := util.ParseJWT(token, jwtSecret)
		if err != nil || !rbac.ValidRole(claims.Role) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		// store the caller so handlers and RequirePermission can use it
		c.Set(api.SubjectKey, claims.Subject)
		c.Set(api.RoleKey, claims.Role)

		c.Next()
	}
}

// TraceMiddleware 从请求头取 trace id（没有则生成），写回响应头并放进 request context
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := trace.FromHeader(c.GetHeader(trace.HeaderName))
		c.Header(trace.HeaderName, traceID)
		c.Request = c.Request.WithContext(trace.WithContext(c.Request.Context(), traceID))
		c.Next()
	}
}

// MetricsMiddleware 按路由模板记录请求耗时
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequestDuration(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
