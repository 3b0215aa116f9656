package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/bekzod-dev/tcenter-api/internal/models"
	appErrors "github.com/bekzod-dev/tcenter-api/pkg/errors"
	"github.com/bekzod-dev/tcenter-api/pkg/export"
)

// Export formats.
const (
	ExportFormatXLSX = "xlsx"
	ExportFormatCSV  = "csv"
	ExportFormatPDF  = "pdf"
)

type exportSnapshotReader interface {
	ListForExport(ctx context.Context, filter models.SnapshotFilter) ([]models.MonthlySnapshot, error)
}

type datasetRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type titledRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportFile is a rendered spreadsheet ready to stream to the client.
type ExportFile struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Spreadsheet column headers, in output order. The sheet is read by
// administrators working in Uzbek, so labels stay localized.
var exportHeaders = []string{
	"O'quvchi",
	"Telefon",
	"Guruh",
	"Fan",
	"O'qituvchi",
	"Oy",
	"Holati",
	"To'lov holati",
	"To'lov summasi",
	"Chegirma",
	"To'langan",
	"Qarz",
	"Darslar",
	"Qatnashgan",
	"Davomat %",
}

var monthlyStatusLabels = map[models.MonthlyStatus]string{
	models.MonthlyStatusActive:   "Faol",
	models.MonthlyStatusStopped:  "To'xtatilgan",
	models.MonthlyStatusFinished: "Tugatgan",
}

var paymentStatusLabels = map[models.PaymentStatus]string{
	models.PaymentStatusPaid:     "To'langan",
	models.PaymentStatusPartial:  "Qisman to'langan",
	models.PaymentStatusUnpaid:   "To'lanmagan",
	models.PaymentStatusInactive: "Faol emas",
}

// ExportService renders filtered snapshot sets as downloadable files.
type ExportService struct {
	snapshots exportSnapshotReader
	xlsx      datasetRenderer
	csv       datasetRenderer
	pdf       titledRenderer
	prefix    string
	logger    *zap.Logger
}

// NewExportService constructs ExportService.
func NewExportService(snapshots exportSnapshotReader, xlsx, csv datasetRenderer, pdf titledRenderer, filenamePrefix string, logger *zap.Logger) *ExportService {
	if filenamePrefix == "" {
		filenamePrefix = "billing"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		snapshots: snapshots,
		xlsx:      xlsx,
		csv:       csv,
		pdf:       pdf,
		prefix:    filenamePrefix,
		logger:    logger,
	}
}

// Export renders the filtered snapshot set in the requested format. An
// empty result set is a not-found, not an empty file.
func (s *ExportService) Export(ctx context.Context, filter models.SnapshotFilter, format string) (*ExportFile, error) {
	if !models.ValidMonth(filter.Month) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "month must match YYYY-MM")
	}
	if format == "" {
		format = ExportFormatXLSX
	}

	snapshots, err := s.snapshots.ListForExport(ctx, filter)
	if err != nil {
		s.logger.Error("failed to list snapshots for export", zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, appErrors.ErrInternal.Message)
	}
	if len(snapshots) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no billing records match the export filters")
	}

	data := buildExportDataset(snapshots)
	filename := fmt.Sprintf("%s_%s.%s", s.prefix, filter.Month, format)

	switch format {
	case ExportFormatXLSX:
		content, err := s.xlsx.Render(data)
		if err != nil {
			return nil, s.renderError(err, format)
		}
		return &ExportFile{
			Filename:    filename,
			ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			Content:     content,
		}, nil
	case ExportFormatCSV:
		content, err := s.csv.Render(data)
		if err != nil {
			return nil, s.renderError(err, format)
		}
		return &ExportFile{Filename: filename, ContentType: "text/csv", Content: content}, nil
	case ExportFormatPDF:
		content, err := s.pdf.Render(data, fmt.Sprintf("To'lovlar %s", filter.Month))
		if err != nil {
			return nil, s.renderError(err, format)
		}
		return &ExportFile{Filename: filename, ContentType: "application/pdf", Content: content}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be xlsx, csv or pdf")
	}
}

func (s *ExportService) renderError(err error, format string) error {
	s.logger.Error("failed to render export", zap.String("format", format), zap.Error(err))
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, appErrors.ErrInternal.Message)
}

func buildExportDataset(snapshots []models.MonthlySnapshot) export.Dataset {
	rows := make([]map[string]string, 0, len(snapshots))
	for i := range snapshots {
		snap := &snapshots[i]
		rows = append(rows, map[string]string{
			"O'quvchi":       snap.StudentName,
			"Telefon":        snap.StudentPhone,
			"Guruh":          snap.GroupName,
			"Fan":            snap.Subject,
			"O'qituvchi":     snap.TeacherName,
			"Oy":             snap.Month,
			"Holati":         monthlyStatusLabel(snap.MonthlyStatus),
			"To'lov holati":  paymentStatusLabel(snap.PaymentStatus),
			"To'lov summasi": snap.RequiredAmount.StringFixed(2),
			"Chegirma":       snap.DiscountAmount.StringFixed(2),
			"To'langan":      snap.PaidAmount.StringFixed(2),
			"Qarz":           snap.DebtAmount.StringFixed(2),
			"Darslar":        fmt.Sprintf("%d", snap.TotalLessons),
			"Qatnashgan":     fmt.Sprintf("%d", snap.AttendedLessons),
			"Davomat %":      fmt.Sprintf("%.1f", snap.AttendancePercentage),
		})
	}
	return export.Dataset{Headers: exportHeaders, Rows: rows}
}

func monthlyStatusLabel(status models.MonthlyStatus) string {
	if label, ok := monthlyStatusLabels[status]; ok {
		return label
	}
	return string(status)
}

func paymentStatusLabel(status models.PaymentStatus) string {
	if label, ok := paymentStatusLabels[status]; ok {
		return label
	}
	return string(status)
}
