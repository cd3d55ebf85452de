package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/revreport/internal/jobs"
	"github.com/odyssey-erp/revreport/internal/notify"
	"github.com/odyssey-erp/revreport/internal/reports"
	"github.com/odyssey-erp/revreport/internal/revenue"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ReportService is the subset of reports.Service the job needs.
type ReportService interface {
	Years() revenue.YearRange
	BuildFilesFor(ctx context.Context, years revenue.YearRange, files reports.Files) (reports.Outcome, error)
	Save(ctx context.Context, source string, outcome reports.Outcome) (uuid.UUID, error)
}

// Notifier announces finished reports.
type Notifier interface {
	PublishReportCompleted(ctx context.Context, event notify.ReportCompleted) error
}

// RevenueReportJob runs TaskRevenueReport tasks.
type RevenueReportJob struct {
	Service  ReportService
	Notifier Notifier
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	validate *validator.Validate
	clock    func() time.Time
}

// NewRevenueReportJob constructs the job handler. notifier may be nil.
func NewRevenueReportJob(service ReportService, notifier Notifier, logger *slog.Logger, metrics *jobmetrics.Metrics) *RevenueReportJob {
	return &RevenueReportJob{
		Service:  service,
		Notifier: notifier,
		Logger:   logger,
		Metrics:  metrics,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the revenue report job.
func (j *RevenueReportJob) Handle(ctx context.Context, task *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("revenue report: dependencies not configured")
	}
	var payload RevenueReportPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		j.log().Warn("decode payload", slog.Any("error", err))
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := j.validator().Struct(payload); err != nil {
		j.log().Warn("invalid payload", slog.Any("error", err))
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}
	years := payload.Years(j.Service.Years())
	if err := years.Validate(); err != nil {
		j.log().Warn("invalid payload", slog.Any("error", err))
		return fmt.Errorf("invalid payload: %w: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskRevenueReport)
	defer func() {
		err = tracker.End(err)
	}()

	start := j.now()
	outcome, err := j.Service.BuildFilesFor(ctx, years, payload.Files)
	if err != nil {
		j.log().Error("build report", slog.String("input", payload.Files.Input), slog.Any("error", err))
		if errors.Is(err, revenue.ErrInvalidDateRange) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}
	j.record(outcome)

	var runID uuid.UUID
	if payload.Save {
		runID, err = j.Service.Save(ctx, payload.Files.Input, outcome)
		if err != nil {
			j.log().Error("save report run", slog.Any("error", err))
			return err
		}
	}

	event := notify.ReportCompleted{
		TaskID:      taskID(task),
		RunID:       runID,
		Years:       years.String(),
		Product:     payload.Files.Product,
		Account:     payload.Files.Account,
		ProductRows: len(outcome.Report.Products),
		AccountRows: len(outcome.Report.Accounts),
		Skipped:     outcome.Skipped,
		Rejected:    outcome.Rejected,
		CompletedAt: j.now(),
	}
	if j.Notifier != nil {
		if err := j.Notifier.PublishReportCompleted(ctx, event); err != nil {
			j.log().Warn("notify report completed", slog.Any("error", err))
		}
	}

	j.log().Info("revenue report completed",
		slog.String("input", payload.Files.Input),
		slog.String("requested_by", payload.RequestedBy),
		slog.Int("product_rows", event.ProductRows),
		slog.Int("account_rows", event.AccountRows),
		slog.Int("skipped", outcome.Skipped),
		slog.Int("rejected", outcome.Rejected),
		slog.String("years", years.String()),
		slog.Duration("duration", j.now().Sub(start)))
	return nil
}

func (j *RevenueReportJob) record(outcome reports.Outcome) {
	m := j.metrics()
	m.AddReportRows("product", len(outcome.Report.Products))
	m.AddReportRows("account", len(outcome.Report.Accounts))
	m.AddInputRows("used", outcome.Records)
	m.AddInputRows("skipped", outcome.Skipped)
	m.AddInputRows("rejected", outcome.Rejected)
}

func taskID(task *asynq.Task) string {
	if task == nil || task.ResultWriter() == nil {
		return ""
	}
	return task.ResultWriter().TaskID()
}

func (j *RevenueReportJob) validator() *validator.Validate {
	if j.validate == nil {
		j.validate = validator.New(validator.WithRequiredStructEnabled())
	}
	return j.validate
}

func (j *RevenueReportJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *RevenueReportJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskRevenueReport))
	}
	return slog.Default().With(slog.String("job", TaskRevenueReport))
}

func (j *RevenueReportJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *RevenueReportJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
