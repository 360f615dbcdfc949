package port

import "juror_tax_report/internal/domain/entity"

// ReportSink accumulates report rows in emission order.
type ReportSink interface {
	Append(rows ...entity.ReportRow)

	// Rows returns the accumulated rows, or an error wrapping
	// entity.ErrEmptyReport when nothing was appended.
	Rows() ([]entity.ReportRow, error)
}
