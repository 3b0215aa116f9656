package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bekzod-dev/tcenter-api/internal/models"
	"github.com/bekzod-dev/tcenter-api/internal/service"
	"github.com/bekzod-dev/tcenter-api/pkg/response"
)

// ExportHandler streams rendered spreadsheet downloads.
type ExportHandler struct {
	exports *service.ExportService
}

// NewExportHandler constructs handler.
func NewExportHandler(exports *service.ExportService) *ExportHandler {
	return &ExportHandler{exports: exports}
}

// Export godoc
// @Summary Download the filtered snapshot set as a spreadsheet
// @Tags Billing
// @Produce application/octet-stream
// @Param month query string true "Billing month YYYY-MM"
// @Param group query string false "Filter by group"
// @Param monthlyStatus query string false "Filter by monthly status"
// @Param paymentStatus query string false "Filter by payment status"
// @Param teacher query string false "Filter by teacher name"
// @Param subject query string false "Filter by subject"
// @Param format query string false "xlsx (default), csv or pdf"
// @Success 200 {file} binary
// @Router /billing/export [get]
func (h *ExportHandler) Export(c *gin.Context) {
	filter := models.SnapshotFilter{
		Month:         c.Query("month"),
		GroupID:       c.Query("group"),
		MonthlyStatus: models.MonthlyStatus(c.Query("monthlyStatus")),
		PaymentStatus: models.PaymentStatus(c.Query("paymentStatus")),
		Teacher:       c.Query("teacher"),
		Subject:       c.Query("subject"),
		SortBy:        c.Query("sortBy"),
		SortOrder:     c.Query("sortOrder"),
	}
	file, err := h.exports.Export(c.Request.Context(), filter, c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	c.Data(http.StatusOK, file.ContentType, file.Content)
}
