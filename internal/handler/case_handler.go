package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/gestion-judicial/casefile-api/internal/models"
	"github.com/gestion-judicial/casefile-api/internal/service"
	appErrors "github.com/gestion-judicial/casefile-api/pkg/errors"
	"github.com/gestion-judicial/casefile-api/pkg/response"
)

// CaseHandler handles case endpoints.
type CaseHandler struct {
	service *service.CaseService
}

// NewCaseHandler constructs a case handler.
func NewCaseHandler(svc *service.CaseService) *CaseHandler {
	return &CaseHandler{service: svc}
}

// List godoc
// @Summary List cases visible to the caller
// @Tags Cases
// @Produce json
// @Param status query string false "Filter by status"
// @Param case_type query string false "Filter by case type"
// @Param search query string false "Search in title and case number"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /cases [get]
func (h *CaseHandler) List(c *gin.Context) {
	var filter models.CaseFilter
	if status := c.Query("status"); status != "" {
		s := models.CaseStatus(status)
		filter.Status = &s
	}
	filter.CaseType = c.Query("case_type")
	filter.Search = strings.TrimSpace(c.Query("search"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "0")); err == nil {
		filter.PageSize = limit
	}

	cases, pagination, err := h.service.List(c.Request.Context(), actorFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cases, pagination)
}

// Get godoc
// @Summary Get case by id
// @Tags Cases
// @Produce json
// @Param id path string true "Case ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /cases/{id} [get]
func (h *CaseHandler) Get(c *gin.Context) {
	caseRow, err := h.service.Get(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, caseRow, nil)
}

// Create godoc
// @Summary Open a new case
// @Tags Cases
// @Accept json
// @Produce json
// @Param payload body service.CreateCaseRequest true "Case payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /cases [post]
func (h *CaseHandler) Create(c *gin.Context) {
	var req service.CreateCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	caseRow, err := h.service.Create(c.Request.Context(), actorFromContext(c), req, metaFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, caseRow)
}

// Update godoc
// @Summary Update case attributes
// @Tags Cases
// @Accept json
// @Produce json
// @Param id path string true "Case ID"
// @Param payload body service.UpdateCaseRequest true "Case payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /cases/{id} [put]
func (h *CaseHandler) Update(c *gin.Context) {
	var req service.UpdateCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	caseRow, err := h.service.Update(c.Request.Context(), actorFromContext(c), c.Param("id"), req, metaFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, caseRow, nil)
}

// UpdateStatus godoc
// @Summary Move a case through its lifecycle
// @Tags Cases
// @Accept json
// @Produce json
// @Param id path string true "Case ID"
// @Param payload body service.UpdateCaseStatusRequest true "Target status"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Security BearerAuth
// @Router /cases/{id}/status [patch]
func (h *CaseHandler) UpdateStatus(c *gin.Context) {
	var req service.UpdateCaseStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	caseRow, err := h.service.UpdateStatus(c.Request.Context(), actorFromContext(c), c.Param("id"), req, metaFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, caseRow, nil)
}

// Assign godoc
// @Summary Assign a case to a judge
// @Description Assigns the given judge, or balances across active judges when none is given
// @Tags Cases
// @Accept json
// @Produce json
// @Param id path string true "Case ID"
// @Param payload body service.AssignCaseRequest true "Assignment payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Security BearerAuth
// @Router /cases/{id}/assign [post]
func (h *CaseHandler) Assign(c *gin.Context) {
	var req service.AssignCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	caseRow, err := h.service.Assign(c.Request.Context(), actorFromContext(c), c.Param("id"), req, metaFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, caseRow, nil)
}

// Delete godoc
// @Summary Delete case
// @Tags Cases
// @Produce json
// @Param id path string true "Case ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /cases/{id} [delete]
func (h *CaseHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), actorFromContext(c), c.Param("id"), metaFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Statistics godoc
// @Summary Case counts by status and type
// @Tags Cases
// @Produce json
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /cases/statistics [get]
func (h *CaseHandler) Statistics(c *gin.Context) {
	stats, err := h.service.Statistics(c.Request.Context(), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}
