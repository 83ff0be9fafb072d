package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gestion-judicial/casefile-api/internal/authz"
	"github.com/gestion-judicial/casefile-api/internal/models"
	"github.com/gestion-judicial/casefile-api/internal/service"
	appErrors "github.com/gestion-judicial/casefile-api/pkg/errors"
	"github.com/gestion-judicial/casefile-api/pkg/response"
)

// AuditHandler handles audit trail endpoints. Access gates live here rather
// than in the service so the trail can also be written by services that hold
// no actor.
type AuditHandler struct {
	service   *service.AuditService
	evaluator *authz.Evaluator
}

// NewAuditHandler constructs an audit handler.
func NewAuditHandler(svc *service.AuditService, evaluator *authz.Evaluator) *AuditHandler {
	return &AuditHandler{service: svc, evaluator: evaluator}
}

// List godoc
// @Summary List audit trail entries
// @Tags Audit
// @Produce json
// @Param action query string false "Filter by action"
// @Param resource query string false "Filter by resource"
// @Param user_id query string false "Filter by acting user"
// @Param status query string false "Filter by outcome"
// @Param from query string false "From timestamp (RFC3339)"
// @Param to query string false "To timestamp (RFC3339)"
// @Param search query string false "Search keyword"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /audit [get]
func (h *AuditHandler) List(c *gin.Context) {
	if !h.evaluator.CanViewAudit(actorFromContext(c)) {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "role may not view the audit trail"))
		return
	}

	filter := h.parseFilter(c)
	entries, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, pagination)
}

// Get godoc
// @Summary Get a single audit entry
// @Tags Audit
// @Produce json
// @Param id path string true "Entry ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /audit/{id} [get]
func (h *AuditHandler) Get(c *gin.Context) {
	if !h.evaluator.CanViewAudit(actorFromContext(c)) {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "role may not view the audit trail"))
		return
	}

	entry, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}

// Stats godoc
// @Summary Audit activity statistics
// @Tags Audit
// @Produce json
// @Param days query int false "Period in days (default 7)"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /audit/stats [get]
func (h *AuditHandler) Stats(c *gin.Context) {
	if !h.evaluator.CanViewAudit(actorFromContext(c)) {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "role may not view the audit trail"))
		return
	}

	days, _ := strconv.Atoi(c.DefaultQuery("days", "0"))
	stats, err := h.service.Stats(c.Request.Context(), days)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// Export godoc
// @Summary Export the audit trail
// @Description Streams the filtered trail as CSV or PDF; the export itself is audited
// @Tags Audit
// @Produce octet-stream
// @Param format query string false "csv or pdf (default csv)"
// @Success 200 {file} binary
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /audit/export [get]
func (h *AuditHandler) Export(c *gin.Context) {
	actor := actorFromContext(c)
	if !h.evaluator.CanViewAudit(actor) {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "role may not export the audit trail"))
		return
	}

	filter := h.parseFilter(c)
	format := c.DefaultQuery("format", service.ExportFormatCSV)

	data, filename, err := h.service.Export(c.Request.Context(), filter, format, actor.ID, metaFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	contentType := "text/csv"
	if format == service.ExportFormatPDF {
		contentType = "application/pdf"
	}
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, contentType, data)
}

// Purge godoc
// @Summary Purge audit entries past retention
// @Tags Audit
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Security BearerAuth
// @Router /audit/purge [post]
func (h *AuditHandler) Purge(c *gin.Context) {
	actor := actorFromContext(c)
	if !h.evaluator.CanPurgeAudit(actor) {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "only an admin may purge the audit trail"))
		return
	}

	deleted, err := h.service.Purge(c.Request.Context(), actor.ID, metaFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"deleted": deleted}, nil)
}

func (h *AuditHandler) parseFilter(c *gin.Context) models.AuditFilter {
	var filter models.AuditFilter
	filter.Action = c.Query("action")
	filter.Resource = c.Query("resource")
	filter.UserID = c.Query("user_id")
	filter.Status = c.Query("status")
	filter.Search = strings.TrimSpace(c.Query("search"))
	if from := c.Query("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			filter.From = &t
		}
	}
	if to := c.Query("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filter.To = &t
		}
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil {
		filter.PageSize = limit
	}
	return filter
}
