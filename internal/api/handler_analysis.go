package api

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailsweep/internal/service"
)

// AnalysisHandler serves the read-only endpoints.
type AnalysisHandler struct {
	svc    *service.CleanupService
	logger *zap.Logger
}

func NewAnalysisHandler(svc *service.CleanupService, logger *zap.Logger) *AnalysisHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalysisHandler{svc: svc, logger: logger}
}

// Senders handles GET /api/senders. The cached bytes are written as is, so
// identical requests get identical bodies.
func (h *AnalysisHandler) Senders(c *gin.Context) {
	q, err := queryFrom(c)
	if err != nil {
		respondError(c, h.logger, err, nil)
		return
	}
	_, b, err := h.svc.AnalyzeSenders(c.Request.Context(), q)
	if err != nil {
		respondError(c, h.logger, err, nil)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", b)
}

// Suggestions handles GET /api/suggestions
func (h *AnalysisHandler) Suggestions(c *gin.Context) {
	q, err := queryFrom(c)
	if err != nil {
		respondError(c, h.logger, err, nil)
		return
	}
	_, b, err := h.svc.Suggest(c.Request.Context(), q)
	if err != nil {
		respondError(c, h.logger, err, nil)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", b)
}

// Domains handles GET /api/domains
func (h *AnalysisHandler) Domains(c *gin.Context) {
	q, err := queryFrom(c)
	if err != nil {
		respondError(c, h.logger, err, nil)
		return
	}
	domains, err := h.svc.Domains(c.Request.Context(), q)
	if err != nil {
		respondError(c, h.logger, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"domains": domains})
}

// ExportCSV handles GET /api/export.csv
func (h *AnalysisHandler) ExportCSV(c *gin.Context) {
	q, err := queryFrom(c)
	if err != nil {
		respondError(c, h.logger, err, nil)
		return
	}
	// buffered so a failed analysis still gets a JSON error instead of a truncated file
	var buf bytes.Buffer
	if err := h.svc.ExportCSV(c.Request.Context(), q, &buf); err != nil {
		respondError(c, h.logger, err, nil)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="senders.csv"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// LargeAttachments handles GET /api/attachments/large?min_size_bytes=&limit=
func (h *AnalysisHandler) LargeAttachments(c *gin.Context) {
	minBytes, err := intParam(c, "min_size_bytes")
	if err != nil {
		respondError(c, h.logger, err, nil)
		return
	}
	limit, err := intParam(c, "limit")
	if err != nil {
		respondError(c, h.logger, err, nil)
		return
	}
	report, err := h.svc.LargeAttachments(c.Request.Context(), minBytes, int(limit))
	if err != nil {
		respondError(c, h.logger, err, nil)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Velocity handles GET /api/stats/velocity?days=&top=
func (h *AnalysisHandler) Velocity(c *gin.Context) {
	days, err := intParam(c, "days")
	if err != nil {
		respondError(c, h.logger, err, nil)
		return
	}
	top, err := intParam(c, "top")
	if err != nil {
		respondError(c, h.logger, err, nil)
		return
	}
	report, err := h.svc.Velocity(c.Request.Context(), int(days), int(top))
	if err != nil {
		respondError(c, h.logger, err, nil)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Summary handles GET /api/stats/summary
func (h *AnalysisHandler) Summary(c *gin.Context) {
	q, err := queryFrom(c)
	if err != nil {
		respondError(c, h.logger, err, nil)
		return
	}
	sum, err := h.svc.Summary(c.Request.Context(), q)
	if err != nil {
		respondError(c, h.logger, err, nil)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// Progress handles GET /api/progress
func (h *AnalysisHandler) Progress(c *gin.Context) {
	p, ok := h.svc.Progress()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"running": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"running": true, "progress": p})
}
