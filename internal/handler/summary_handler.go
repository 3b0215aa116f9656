package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bekzod-dev/tcenter-api/internal/service"
	"github.com/bekzod-dev/tcenter-api/pkg/response"
)

// SummaryHandler exposes the cached month overview endpoint.
type SummaryHandler struct {
	summaries *service.SummaryService
}

// NewSummaryHandler constructs handler.
func NewSummaryHandler(summaries *service.SummaryService) *SummaryHandler {
	return &SummaryHandler{summaries: summaries}
}

// MonthSummary godoc
// @Summary Billing overview for one month
// @Tags Billing
// @Produce json
// @Param month query string true "Billing month YYYY-MM"
// @Success 200 {object} response.Envelope
// @Router /billing/summary [get]
func (h *SummaryHandler) MonthSummary(c *gin.Context) {
	summary, err := h.summaries.MonthSummary(c.Request.Context(), c.Query("month"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}
