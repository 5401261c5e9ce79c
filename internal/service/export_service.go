package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/instructor-dispatch-api/internal/models"
	appErrors "github.com/noah-isme/instructor-dispatch-api/pkg/errors"
	"github.com/noah-isme/instructor-dispatch-api/pkg/export"
)

var historyHeaders = []string{"Date", "Unit", "Region", "Location", "Address", "Status"}

type historyReader interface {
	History(ctx context.Context, instructorID string) ([]models.AssignmentView, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// ExportFile is a rendered download.
type ExportFile struct {
	Filename    string
	ContentType string
	Content     []byte
}

// ExportService renders an instructor's work history as CSV or PDF.
type ExportService struct {
	history historyReader
	csv     csvRenderer
	pdf     pdfRenderer
	logger  *zap.Logger
	now     func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(history historyReader, csv csvRenderer, pdf pdfRenderer, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter("")
	}
	return &ExportService{history: history, csv: csv, pdf: pdf, logger: logger, now: time.Now}
}

// ExportHistory renders the work history in the requested format, CSV by default.
func (s *ExportService) ExportHistory(ctx context.Context, instructorID, format string) (*ExportFile, error) {
	f := export.Format(strings.ToLower(strings.TrimSpace(format)))
	if f == "" {
		f = export.FormatCSV
	}
	if f != export.FormatCSV && f != export.FormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	items, err := s.history.History(ctx, instructorID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Date.Before(items[j].Date) })

	data := export.Dataset{Title: "Work History", Headers: historyHeaders, Rows: make([]map[string]string, 0, len(items))}
	for _, item := range items {
		data.Rows = append(data.Rows, map[string]string{
			"Date":     item.Date.Format(models.DateLayout),
			"Unit":     item.UnitName,
			"Region":   item.Region,
			"Location": item.LocationName,
			"Address":  item.Address.String(),
			"Status":   string(item.Classification),
		})
	}

	var content []byte
	if f == export.FormatPDF {
		content, err = s.pdf.Render(data)
	} else {
		content, err = s.csv.Render(data)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	s.logger.Info("work history exported", zap.String("instructor_id", instructorID), zap.String("format", string(f)), zap.Int("rows", len(items)))
	return &ExportFile{
		Filename:    fmt.Sprintf("work-history-%s-%s.%s", instructorID, s.now().Format("20060102"), f),
		ContentType: f.ContentType(),
		Content:     content,
	}, nil
}
