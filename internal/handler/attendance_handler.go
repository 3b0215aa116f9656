package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bekzod-dev/tcenter-api/internal/service"
	appErrors "github.com/bekzod-dev/tcenter-api/pkg/errors"
	"github.com/bekzod-dev/tcenter-api/pkg/response"
)

// AttendanceHandler exposes the attendance report endpoint.
type AttendanceHandler struct {
	attendance *service.AttendanceService
}

// NewAttendanceHandler constructs handler.
func NewAttendanceHandler(attendance *service.AttendanceService) *AttendanceHandler {
	return &AttendanceHandler{attendance: attendance}
}

// Report godoc
// @Summary Attendance report for a student, group and month
// @Tags Attendance
// @Produce json
// @Param student query string true "Student id"
// @Param group query string true "Group id"
// @Param month query string true "Billing month YYYY-MM"
// @Success 200 {object} response.Envelope
// @Router /billing/attendance [get]
func (h *AttendanceHandler) Report(c *gin.Context) {
	studentID := c.Query("student")
	groupID := c.Query("group")
	if studentID == "" || groupID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "student and group are required"))
		return
	}
	report, err := h.attendance.Report(c.Request.Context(), c.Query("month"), studentID, groupID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}
