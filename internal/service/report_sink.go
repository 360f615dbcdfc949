package service

import (
	"fmt"
	"sync"

	"juror_tax_report/internal/app/port"
	"juror_tax_report/internal/domain/entity"
)

// reportSinkImpl implements port.ReportSink as an in-memory ordered
// accumulator. Appends preserve emission order; the driver hands the
// finished sequence to the CSV writer.
type reportSinkImpl struct {
	mu   sync.Mutex
	rows []entity.ReportRow
}

// NewReportSink creates a new instance of reportSinkImpl.
func NewReportSink() port.ReportSink {
	return &reportSinkImpl{}
}

// Append implements the port.ReportSink interface.
func (s *reportSinkImpl) Append(rows ...entity.ReportRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, rows...)
}

// Rows implements the port.ReportSink interface.
func (s *reportSinkImpl) Rows() ([]entity.ReportRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rows) == 0 {
		return nil, fmt.Errorf("run produced no report rows: %w", entity.ErrEmptyReport)
	}
	out := make([]entity.ReportRow, len(s.rows))
	copy(out, s.rows)
	return out, nil
}
