package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailsweep/internal/mailapi"
	"mailsweep/internal/model"
	"mailsweep/internal/rules"
	"mailsweep/internal/service"
	"mailsweep/pkg/logger"
)

// Keys under which the auth middleware stores the caller on the gin context.
const (
	SubjectKey = "subject"
	RoleKey    = "role"
)

// statusOf maps engine errors to HTTP status codes.
func statusOf(err error) int {
	var ces model.ConfigErrors
	switch {
	case model.IsConfigError(err), errors.As(err, &ces):
		return http.StatusBadRequest
	case errors.Is(err, rules.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrRuleDisabled), errors.Is(err, service.ErrRuleRunning):
		return http.StatusConflict
	case errors.Is(err, service.ErrNoRules):
		return http.StatusNotImplemented
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, service.ErrPlanIncomplete):
		return http.StatusServiceUnavailable
	}
	switch mailapi.KindOf(err) {
	case mailapi.KindAuthExpired, mailapi.KindPermanent:
		return http.StatusBadGateway
	case mailapi.KindQuota, mailapi.KindTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError writes err with its mapped status. partial, when non-nil, is the
// work that completed before the failure.
func respondError(c *gin.Context, log *zap.Logger, err error, partial any) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		logger.WithTrace(c.Request.Context(), log).Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	if d := mailapi.RetryAfter(err); d > 0 {
		c.Header("Retry-After", strconv.Itoa(int(d.Seconds()+0.5)))
	}
	body := gin.H{"error": err.Error()}
	if mailapi.IsAuthExpired(err) {
		body["error"] = "mail account authorization expired, run `sweep token` again"
	}
	if partial != nil {
		body["partial"] = partial
	}
	c.JSON(status, body)
}
