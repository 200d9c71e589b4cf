package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailsweep/internal/model"
	"mailsweep/internal/service"
	"mailsweep/pkg/logger"
)

const maxIDsPerRequest = 10_000

// CleanupHandler serves the mutating endpoints.
type CleanupHandler struct {
	svc    *service.CleanupService
	logger *zap.Logger
}

func NewCleanupHandler(svc *service.CleanupService, logger *zap.Logger) *CleanupHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CleanupHandler{svc: svc, logger: logger}
}

type idsRequest struct {
	IDs    []string `json:"ids" binding:"required"`
	DryRun bool     `json:"dry_run"`
}

func bindIDs(c *gin.Context) (*idsRequest, bool) {
	var req idsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return nil, false
	}
	if len(req.IDs) == 0 || len(req.IDs) > maxIDsPerRequest {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ids must hold between 1 and 10000 entries"})
		return nil, false
	}
	return &req, true
}

// Plan handles POST /api/plan
func (h *CleanupHandler) Plan(c *gin.Context) {
	var criteria model.CleanupCriteria
	if err := c.ShouldBindJSON(&criteria); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	plan, err := h.svc.Plan(c.Request.Context(), criteria)
	if err != nil {
		respondError(c, h.logger, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"query": plan.Query, "ids": plan.IDs, "count": len(plan.IDs)})
}

// Cleanup handles POST /api/cleanup
func (h *CleanupHandler) Cleanup(c *gin.Context) {
	var criteria model.CleanupCriteria
	if err := c.ShouldBindJSON(&criteria); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	out, err := h.svc.Cleanup(c.Request.Context(), criteria)
	if err != nil {
		respondError(c, h.logger, err, partialOf(out))
		return
	}
	h.logDone(c, out)
	c.JSON(http.StatusOK, out)
}

// Execute handles POST /api/execute
func (h *CleanupHandler) Execute(c *gin.Context) {
	req, ok := bindIDs(c)
	if !ok {
		return
	}
	out, err := h.svc.Execute(c.Request.Context(), req.IDs, req.DryRun)
	if err != nil {
		respondError(c, h.logger, err, partialOf(out))
		return
	}
	h.logDone(c, out)
	c.JSON(http.StatusOK, out)
}

// Restore handles POST /api/restore
func (h *CleanupHandler) Restore(c *gin.Context) {
	req, ok := bindIDs(c)
	if !ok {
		return
	}
	res, err := h.svc.Restore(c.Request.Context(), req.IDs)
	body := gin.H{
		"restored":  res.Restored,
		"not_found": res.NotFound,
		"errors":    res.Errors(),
	}
	if err != nil {
		respondError(c, h.logger, err, body)
		return
	}
	logger.WithTrace(c.Request.Context(), h.logger).Info("Restore finished",
		zap.String("subject", c.GetString(SubjectKey)),
		zap.Int("restored", len(res.Restored)),
		zap.Int("not_found", len(res.NotFound)),
		zap.Int("failed", len(res.Failed)),
	)
	c.JSON(http.StatusOK, body)
}

func (h *CleanupHandler) logDone(c *gin.Context, out *service.CleanupResult) {
	r := out.Result
	logger.WithTrace(logger.WithOperation(c.Request.Context(), out.OperationID), h.logger).Info("Cleanup finished",
		zap.String("subject", c.GetString(SubjectKey)),
		zap.Bool("dry_run", r.DryRun),
		zap.Int("requested", r.Requested),
		zap.Int("succeeded", len(r.Succeeded)),
		zap.Int("failed", len(r.Failed)),
		zap.Int("skipped", len(r.Skipped)),
		zap.Int("excluded", len(r.Excluded)),
	)
}

// partialOf keeps a nil result from being rendered as "partial": null.
func partialOf(out *service.CleanupResult) any {
	if out == nil || out.Result == nil {
		return nil
	}
	return out
}
