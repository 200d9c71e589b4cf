package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailsweep/internal/model"
	"mailsweep/internal/service"
)

type RuleHandler struct {
	svc    *service.CleanupService
	logger *zap.Logger
}

func NewRuleHandler(svc *service.CleanupService, logger *zap.Logger) *RuleHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuleHandler{svc: svc, logger: logger}
}

// List handles GET /api/rules
func (h *RuleHandler) List(c *gin.Context) {
	list, err := h.svc.Rules(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err, nil)
		return
	}
	if list == nil {
		list = []model.CleanupRule{}
	}
	c.JSON(http.StatusOK, gin.H{"rules": list})
}

// Put handles PUT /api/rules/:name. The path name wins over the body.
func (h *RuleHandler) Put(c *gin.Context) {
	var rule model.CleanupRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	rule.Name = c.Param("name")
	if err := h.svc.SaveRule(c.Request.Context(), &rule); err != nil {
		respondError(c, h.logger, err, nil)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// Delete handles DELETE /api/rules/:name
func (h *RuleHandler) Delete(c *gin.Context) {
	if err := h.svc.DeleteRule(c.Request.Context(), c.Param("name")); err != nil {
		respondError(c, h.logger, err, nil)
		return
	}
	c.Status(http.StatusNoContent)
}

// Run handles POST /api/rules/:name/run
func (h *RuleHandler) Run(c *gin.Context) {
	out, err := h.svc.RunRule(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, h.logger, err, partialOf(out))
		return
	}
	c.JSON(http.StatusOK, out)
}
