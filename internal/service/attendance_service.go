package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/bekzod-dev/tcenter-api/internal/models"
	appErrors "github.com/bekzod-dev/tcenter-api/pkg/errors"
)

type snapshotTripleReader interface {
	FindByTriple(ctx context.Context, month, studentID, groupID string) (*models.MonthlySnapshot, error)
}

type joinDateReader interface {
	JoinedAt(ctx context.Context, studentID, groupID string) (time.Time, error)
}

type attendanceBreakdownSource interface {
	Breakdown(ctx context.Context, groupID, studentID string, monthStart, monthEnd, joinedAt time.Time) ([]models.LessonAttendanceEntry, *models.AttendanceCounters, error)
}

// AttendanceService answers attendance queries for billing months. When a
// snapshot row exists the counters come from it, frozen; otherwise the
// report is computed live from the attendance source.
type AttendanceService struct {
	snapshots   snapshotTripleReader
	enrollments joinDateReader
	attendance  attendanceBreakdownSource
	logger      *zap.Logger
}

// NewAttendanceService constructs AttendanceService.
func NewAttendanceService(snapshots snapshotTripleReader, enrollments joinDateReader, attendance attendanceBreakdownSource, logger *zap.Logger) *AttendanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttendanceService{
		snapshots:   snapshots,
		enrollments: enrollments,
		attendance:  attendance,
		logger:      logger,
	}
}

// Report returns the student's attendance for the month. The per-lesson
// breakdown is always read live; the counters are frozen when a snapshot
// row exists so billing-time numbers never drift after the fact.
func (s *AttendanceService) Report(ctx context.Context, month, studentID, groupID string) (*models.AttendanceReport, error) {
	if !models.ValidMonth(month) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "month must match YYYY-MM")
	}
	monthStart, monthEnd, err := models.MonthRange(month)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "month must match YYYY-MM")
	}

	joinedAt, err := s.enrollments.JoinedAt(ctx, studentID, groupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student is not a member of the group")
		}
		s.logger.Error("failed to find join date", zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, appErrors.ErrInternal.Message)
	}

	lessons, liveCounters, err := s.attendance.Breakdown(ctx, groupID, studentID, monthStart, monthEnd, joinedAt)
	if err != nil {
		s.logger.Error("failed to compute attendance breakdown", zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, appErrors.ErrInternal.Message)
	}

	report := &models.AttendanceReport{
		Source:    models.AttendanceSourceLive,
		Month:     month,
		StudentID: studentID,
		GroupID:   groupID,
		Counters:  *liveCounters,
		Lessons:   lessons,
	}

	snapshot, err := s.snapshots.FindByTriple(ctx, month, studentID, groupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return report, nil
		}
		s.logger.Error("failed to find snapshot", zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, appErrors.ErrInternal.Message)
	}

	report.Source = models.AttendanceSourceSnapshot
	report.Counters = models.AttendanceCounters{
		TotalLessons:    snapshot.TotalLessons,
		AttendedLessons: snapshot.AttendedLessons,
		Percentage:      snapshot.AttendancePercentage,
	}
	return report, nil
}
