package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/revreport/internal/revenue"
	"github.com/odyssey-erp/revreport/jobs"
)

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	return &JobsCLI{client: asynq.NewClient(opts), inspector: asynq.NewInspector(opts)}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// EnqueueOptions carries the run flags recorded on an enqueued task. A zero
// Years leaves the range to the worker.
type EnqueueOptions struct {
	Years       revenue.YearRange
	Save        bool
	RequestedBy string
}

// ReportPayload builds the task payload for the four run arguments.
func ReportPayload(args []string, opts EnqueueOptions) (jobs.RevenueReportPayload, error) {
	files, err := ParseFiles(args)
	if err != nil {
		return jobs.RevenueReportPayload{}, err
	}
	payload := jobs.RevenueReportPayload{Files: files, Save: opts.Save, RequestedBy: opts.RequestedBy}
	if opts.Years != (revenue.YearRange{}) {
		if err := opts.Years.Validate(); err != nil {
			return jobs.RevenueReportPayload{}, err
		}
		payload.FirstYear, payload.LastYear = opts.Years.First, opts.Years.Last
	}
	return payload, nil
}

// EnqueueReport submits a revenue report task built from the four run
// arguments.
func (c *JobsCLI) EnqueueReport(ctx context.Context, args []string, opts EnqueueOptions) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	payload, err := ReportPayload(args, opts)
	if err != nil {
		return nil, err
	}
	task, err := jobs.NewRevenueReportTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.MaxRetry(3))
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
	}
	return stats, nil
}

// WriteQueueStats prints stats in a fixed human readable layout.
func WriteQueueStats(w io.Writer, stats QueueStats) {
	if w == nil {
		w = os.Stdout
	}
	fmt.Fprintf(w, "Queue %s: pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
		stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
}
