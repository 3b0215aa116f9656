package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bekzod-dev/tcenter-api/internal/service"
	appErrors "github.com/bekzod-dev/tcenter-api/pkg/errors"
	"github.com/bekzod-dev/tcenter-api/pkg/response"
)

// DiscountHandler exposes the discount endpoints.
type DiscountHandler struct {
	discounts *service.DiscountService
}

// NewDiscountHandler constructs handler.
func NewDiscountHandler(discounts *service.DiscountService) *DiscountHandler {
	return &DiscountHandler{discounts: discounts}
}

// Apply godoc
// @Summary Apply a discount to a snapshot row
// @Tags Discounts
// @Accept json
// @Produce json
// @Param payload body service.ApplyDiscountRequest true "Discount payload"
// @Success 200 {object} response.Envelope
// @Router /billing/discounts [post]
func (h *DiscountHandler) Apply(c *gin.Context) {
	var req service.ApplyDiscountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.discounts.Apply(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// RulesForStudent godoc
// @Summary List a student's discount rules within a group
// @Tags Discounts
// @Produce json
// @Param id path string true "Student id"
// @Param group query string true "Group id"
// @Success 200 {object} response.Envelope
// @Router /billing/discounts/students/{id} [get]
func (h *DiscountHandler) RulesForStudent(c *gin.Context) {
	rules, err := h.discounts.RulesForStudent(c.Request.Context(), c.Param("id"), c.Query("group"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rules, nil)
}
