package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bekzod-dev/tcenter-api/internal/models"
	"github.com/bekzod-dev/tcenter-api/internal/service"
	appErrors "github.com/bekzod-dev/tcenter-api/pkg/errors"
	"github.com/bekzod-dev/tcenter-api/pkg/response"
)

// BillingHandler exposes the snapshot lifecycle endpoints.
type BillingHandler struct {
	snapshots *service.SnapshotService
	metrics   *service.MetricsService
}

// NewBillingHandler constructs handler.
func NewBillingHandler(snapshots *service.SnapshotService, metrics *service.MetricsService) *BillingHandler {
	return &BillingHandler{snapshots: snapshots, metrics: metrics}
}

// Generate godoc
// @Summary Generate the month's snapshot batch
// @Tags Billing
// @Accept json
// @Produce json
// @Param payload body service.GenerateSnapshotsRequest true "Generation payload"
// @Success 201 {object} response.Envelope
// @Router /billing/snapshots [post]
func (h *BillingHandler) Generate(c *gin.Context) {
	var req service.GenerateSnapshotsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.snapshots.Generate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.metrics.RecordSnapshotsCreated(result.CreatedRecords)
	response.Created(c, result)
}

// Backfill godoc
// @Summary Create snapshot rows for late joiners
// @Tags Billing
// @Accept json
// @Produce json
// @Param payload body service.GenerateSnapshotsRequest true "Backfill payload"
// @Success 200 {object} response.Envelope
// @Router /billing/snapshots/backfill [post]
func (h *BillingHandler) Backfill(c *gin.Context) {
	var req service.GenerateSnapshotsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.snapshots.Backfill(c.Request.Context(), req.Month)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.metrics.RecordSnapshotsCreated(result.CreatedRecords)
	response.JSON(c, http.StatusOK, result, nil)
}

// List godoc
// @Summary List the month's snapshot rows with summary
// @Tags Billing
// @Produce json
// @Param month query string true "Billing month YYYY-MM"
// @Param group query string false "Filter by group"
// @Param monthlyStatus query string false "Filter by monthly status"
// @Param paymentStatus query string false "Filter by payment status"
// @Param teacher query string false "Filter by teacher name"
// @Param subject query string false "Filter by subject"
// @Success 200 {object} response.Envelope
// @Router /billing/snapshots [get]
func (h *BillingHandler) List(c *gin.Context) {
	filter := models.SnapshotFilter{
		Month:         c.Query("month"),
		GroupID:       c.Query("group"),
		MonthlyStatus: models.MonthlyStatus(c.Query("monthlyStatus")),
		PaymentStatus: models.PaymentStatus(c.Query("paymentStatus")),
		Teacher:       c.Query("teacher"),
		Subject:       c.Query("subject"),
		Page:          queryInt(c, "page", 1),
		PageSize:      queryInt(c, "pageSize", 50),
		SortBy:        c.Query("sortBy"),
		SortOrder:     c.Query("sortOrder"),
	}
	snapshots, pagination, summary, err := h.snapshots.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, snapshots, pagination, map[string]interface{}{"summary": summary})
}

// Get godoc
// @Summary Fetch one snapshot row
// @Tags Billing
// @Produce json
// @Param id path string true "Snapshot id"
// @Success 200 {object} response.Envelope
// @Router /billing/snapshots/{id} [get]
func (h *BillingHandler) Get(c *gin.Context) {
	snapshot, err := h.snapshots.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, snapshot, nil)
}

// Update godoc
// @Summary Partially update one snapshot row
// @Tags Billing
// @Accept json
// @Produce json
// @Param id path string true "Snapshot id"
// @Param payload body service.UpdateSnapshotRequest true "Patch payload"
// @Success 200 {object} response.Envelope
// @Router /billing/snapshots/{id} [patch]
func (h *BillingHandler) Update(c *gin.Context) {
	var req service.UpdateSnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	snapshot, err := h.snapshots.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, snapshot, nil)
}

// Purge godoc
// @Summary Destroy the month's billing data
// @Tags Billing
// @Accept json
// @Produce json
// @Param payload body service.GenerateSnapshotsRequest true "Purge payload"
// @Success 200 {object} response.Envelope
// @Router /billing/snapshots [delete]
func (h *BillingHandler) Purge(c *gin.Context) {
	var req service.GenerateSnapshotsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.snapshots.Purge(c.Request.Context(), req.Month)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Months godoc
// @Summary List months with a snapshot batch
// @Tags Billing
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /billing/months [get]
func (h *BillingHandler) Months(c *gin.Context) {
	months, err := h.snapshots.Months(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, months, nil)
}

// LateJoiners godoc
// @Summary List backfill candidates without creating rows
// @Tags Billing
// @Produce json
// @Param month query string true "Billing month YYYY-MM"
// @Success 200 {object} response.Envelope
// @Router /billing/late-joiners [get]
func (h *BillingHandler) LateJoiners(c *gin.Context) {
	candidates, err := h.snapshots.LateJoiners(c.Request.Context(), c.Query("month"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, candidates, nil)
}
