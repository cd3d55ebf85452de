package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/revreport/internal/jobs"
	"github.com/odyssey-erp/revreport/internal/notify"
	"github.com/odyssey-erp/revreport/internal/reports"
	"github.com/odyssey-erp/revreport/internal/revenue"
)

type stubService struct {
	outcome reports.Outcome
	err     error
	runID   uuid.UUID
	built   []reports.Files
	years   []revenue.YearRange
	saved   []string
}

func (s *stubService) Years() revenue.YearRange {
	return revenue.YearRange{First: 2019, Last: 2021}
}

func (s *stubService) BuildFilesFor(_ context.Context, years revenue.YearRange, files reports.Files) (reports.Outcome, error) {
	s.built = append(s.built, files)
	s.years = append(s.years, years)
	return s.outcome, s.err
}

func (s *stubService) Save(_ context.Context, source string, _ reports.Outcome) (uuid.UUID, error) {
	s.saved = append(s.saved, source)
	return s.runID, nil
}

type stubNotifier struct {
	events []notify.ReportCompleted
	err    error
}

func (n *stubNotifier) PublishReportCompleted(_ context.Context, event notify.ReportCompleted) error {
	n.events = append(n.events, event)
	return n.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTask(t *testing.T, payload RevenueReportPayload) *asynq.Task {
	t.Helper()
	task, err := NewRevenueReportTask(payload)
	require.NoError(t, err)
	return task
}

func samplePayload() RevenueReportPayload {
	return RevenueReportPayload{
		Files: reports.Files{
			Input:   "/data/export.csv",
			Mapping: "/data/mapping.csv",
			Product: "/out/product.csv",
			Account: "/out/account.csv",
		},
		RequestedBy: "ops",
	}
}

func TestNewRevenueReportTaskEncodesPayload(t *testing.T) {
	task := newTask(t, samplePayload())
	require.Equal(t, TaskRevenueReport, task.Type())

	var decoded RevenueReportPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	require.Equal(t, samplePayload(), decoded)
}

func TestRevenueReportJobPublishesCompletion(t *testing.T) {
	service := &stubService{outcome: reports.Outcome{
		Report: revenue.Report{
			Products: make([]revenue.Row, 3),
			Accounts: make([]revenue.Row, 2),
		},
		Records: 7,
		Skipped: 1,
	}}
	notifier := &stubNotifier{}
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	job := NewRevenueReportJob(service, notifier, quietLogger(), metrics)
	fixed := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	job.WithClock(func() time.Time { return fixed })

	require.NoError(t, job.Handle(context.Background(), newTask(t, samplePayload())))

	require.Len(t, service.built, 1)
	require.Equal(t, []revenue.YearRange{{First: 2019, Last: 2021}}, service.years)
	require.Empty(t, service.saved)
	require.Len(t, notifier.events, 1)
	event := notifier.events[0]
	require.Equal(t, "2019-2021", event.Years)
	require.Equal(t, 3, event.ProductRows)
	require.Equal(t, 2, event.AccountRows)
	require.Equal(t, 1, event.Skipped)
	require.Equal(t, uuid.Nil, event.RunID)
	require.Equal(t, fixed, event.CompletedAt)

	count, err := testutil.GatherAndCount(registry, "revreport_jobs_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestRevenueReportJobUsesPayloadYears(t *testing.T) {
	service := &stubService{}
	notifier := &stubNotifier{}
	job := NewRevenueReportJob(service, notifier, quietLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	payload := samplePayload()
	payload.FirstYear, payload.LastYear = 2016, 2023
	require.NoError(t, job.Handle(context.Background(), newTask(t, payload)))

	require.Equal(t, []revenue.YearRange{{First: 2016, Last: 2023}}, service.years)
	require.Len(t, notifier.events, 1)
	require.Equal(t, "2016-2023", notifier.events[0].Years)
}

func TestRevenueReportJobRejectsBadYears(t *testing.T) {
	cases := map[string][2]int{
		"first only": {2020, 0},
		"last only":  {0, 2020},
		"inverted":   {2023, 2020},
		"too early":  {1800, 2020},
		"too wide":   {1900, 2020},
	}
	for name, years := range cases {
		t.Run(name, func(t *testing.T) {
			service := &stubService{}
			job := NewRevenueReportJob(service, nil, quietLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))
			payload := samplePayload()
			payload.FirstYear, payload.LastYear = years[0], years[1]

			err := job.Handle(context.Background(), newTask(t, payload))
			require.ErrorIs(t, err, asynq.SkipRetry)
			require.Empty(t, service.built)
		})
	}
}

func TestRevenueReportJobCountsFailures(t *testing.T) {
	registry := prometheus.NewRegistry()
	service := &stubService{err: errors.New("disk unavailable")}
	job := NewRevenueReportJob(service, nil, quietLogger(), jobmetrics.NewMetrics(registry))

	require.Error(t, job.Handle(context.Background(), newTask(t, samplePayload())))

	count, err := testutil.GatherAndCount(registry, "revreport_jobs_failures_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(`
# HELP revreport_jobs_total Total job executions partitioned by job name and status.
# TYPE revreport_jobs_total counter
revreport_jobs_total{job="revenue:report",status="failure"} 1
`), "revreport_jobs_total"))
}

func TestRevenueReportJobSavesWhenRequested(t *testing.T) {
	runID := uuid.New()
	service := &stubService{runID: runID}
	notifier := &stubNotifier{err: errors.New("broker down")}
	job := NewRevenueReportJob(service, notifier, quietLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	payload := samplePayload()
	payload.Save = true
	require.NoError(t, job.Handle(context.Background(), newTask(t, payload)))

	require.Equal(t, []string{"/data/export.csv"}, service.saved)
	require.Len(t, notifier.events, 1)
	require.Equal(t, runID, notifier.events[0].RunID)
}

func TestRevenueReportJobSkipsRetryOnBadPayload(t *testing.T) {
	job := NewRevenueReportJob(&stubService{}, nil, quietLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	err := job.Handle(context.Background(), asynq.NewTask(TaskRevenueReport, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	payload := samplePayload()
	payload.Files.Product = ""
	err = job.Handle(context.Background(), newTask(t, payload))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestRevenueReportJobRetriesTransientFailures(t *testing.T) {
	service := &stubService{err: errors.New("disk unavailable")}
	job := NewRevenueReportJob(service, nil, quietLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	err := job.Handle(context.Background(), newTask(t, samplePayload()))
	require.Error(t, err)
	require.False(t, errors.Is(err, asynq.SkipRetry))

	service.err = revenue.ErrInvalidDateRange
	err = job.Handle(context.Background(), newTask(t, samplePayload()))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.ErrorIs(t, err, revenue.ErrInvalidDateRange)
}

func TestRevenueReportJobRequiresService(t *testing.T) {
	var job *RevenueReportJob
	require.Error(t, job.Handle(context.Background(), newTask(t, samplePayload())))
}

func TestNewWorkerRequiresHandlers(t *testing.T) {
	_, err := NewWorker(WorkerConfig{RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:6379"}})
	require.Error(t, err)
}

func TestHealthWithoutInspector(t *testing.T) {
	router := chi.NewRouter()
	NewHandler(nil, quietLogger()).MountRoutes(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queue":"default","pending":0}`, rec.Body.String())
}
