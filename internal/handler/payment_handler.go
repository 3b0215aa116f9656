package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bekzod-dev/tcenter-api/internal/models"
	"github.com/bekzod-dev/tcenter-api/internal/service"
	appErrors "github.com/bekzod-dev/tcenter-api/pkg/errors"
	"github.com/bekzod-dev/tcenter-api/pkg/response"
)

// PaymentHandler exposes the payment and reset endpoints.
type PaymentHandler struct {
	payments *service.PaymentService
	metrics  *service.MetricsService
}

// NewPaymentHandler constructs handler.
func NewPaymentHandler(payments *service.PaymentService, metrics *service.MetricsService) *PaymentHandler {
	return &PaymentHandler{payments: payments, metrics: metrics}
}

type resetRequest struct {
	StudentID string `json:"student_id" binding:"required"`
	GroupID   string `json:"group_id" binding:"required"`
	Month     string `json:"month" binding:"required"`
}

// Apply godoc
// @Summary Record a payment against a snapshot row
// @Tags Payments
// @Accept json
// @Produce json
// @Param payload body service.ApplyPaymentRequest true "Payment payload"
// @Success 201 {object} response.Envelope
// @Router /billing/payments [post]
func (h *PaymentHandler) Apply(c *gin.Context) {
	var req service.ApplyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	createdBy := ""
	if claims := claimsFromContext(c); claims != nil {
		createdBy = claims.UserID
	}
	result, err := h.payments.Apply(c.Request.Context(), req, createdBy)
	if err != nil {
		response.Error(c, err)
		return
	}
	amount, _ := req.Amount.Float64()
	h.metrics.RecordPayment(amount)
	response.Created(c, result)
}

// List godoc
// @Summary List ledger rows
// @Tags Payments
// @Produce json
// @Param student query string false "Filter by student"
// @Param group query string false "Filter by group"
// @Param month query string false "Filter by month YYYY-MM"
// @Success 200 {object} response.Envelope
// @Router /billing/payments [get]
func (h *PaymentHandler) List(c *gin.Context) {
	filter := models.PaymentFilter{
		StudentID: c.Query("student"),
		GroupID:   c.Query("group"),
		Month:     c.Query("month"),
		Page:      queryInt(c, "page", 1),
		PageSize:  queryInt(c, "pageSize", 50),
	}
	payments, pagination, err := h.payments.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payments, pagination)
}

// Verify godoc
// @Summary Cross-check the ledger against the aggregate cache
// @Tags Payments
// @Produce json
// @Param student query string true "Student id"
// @Param group query string true "Group id"
// @Param month query string true "Billing month YYYY-MM"
// @Success 200 {object} response.Envelope
// @Router /billing/payments/verify [get]
func (h *PaymentHandler) Verify(c *gin.Context) {
	studentID := c.Query("student")
	groupID := c.Query("group")
	if studentID == "" || groupID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "student and group are required"))
		return
	}
	check, err := h.payments.Verify(c.Request.Context(), c.Query("month"), studentID, groupID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, check, nil)
}

// Reset godoc
// @Summary Reset one student's financial state for a month
// @Tags Payments
// @Accept json
// @Produce json
// @Param payload body resetRequest true "Reset payload"
// @Success 200 {object} response.Envelope
// @Router /billing/reset [post]
func (h *PaymentHandler) Reset(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	snapshot, err := h.payments.Reset(c.Request.Context(), req.Month, req.StudentID, req.GroupID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, snapshot, nil)
}
