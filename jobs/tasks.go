package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/revreport/internal/reports"
	"github.com/odyssey-erp/revreport/internal/revenue"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRevenueReport builds a revenue report from files on disk.
	TaskRevenueReport = "revenue:report"
)

// RevenueReportPayload describes one file based report run. Zero years run
// over the worker's configured range.
type RevenueReportPayload struct {
	Files       reports.Files `json:"files" validate:"required"`
	FirstYear   int           `json:"first_year,omitempty" validate:"required_with=LastYear,omitempty,gte=1900,lte=9999"`
	LastYear    int           `json:"last_year,omitempty" validate:"required_with=FirstYear,omitempty,gte=1900,lte=9999,gtefield=FirstYear"`
	Save        bool          `json:"save,omitempty"`
	RequestedBy string        `json:"requested_by,omitempty"`
}

// Years resolves the run's year range against fallback.
func (p RevenueReportPayload) Years(fallback revenue.YearRange) revenue.YearRange {
	if p.FirstYear == 0 && p.LastYear == 0 {
		return fallback
	}
	return revenue.YearRange{First: p.FirstYear, Last: p.LastYear}
}

// NewRevenueReportTask constructs an Asynq task.
func NewRevenueReportTask(payload RevenueReportPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode revenue report payload: %w", err)
	}
	return asynq.NewTask(TaskRevenueReport, data, asynq.Queue(QueueDefault)), nil
}
