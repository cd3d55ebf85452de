// Package reports wires ingest, mapping, the aggregation pipeline and the
// writers into the end-to-end report workflow shared by the CLI, the worker
// and the HTTP API.
package reports

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/odyssey-erp/revreport/internal/export"
	"github.com/odyssey-erp/revreport/internal/ingest"
	"github.com/odyssey-erp/revreport/internal/mapping"
	"github.com/odyssey-erp/revreport/internal/reportcache"
	"github.com/odyssey-erp/revreport/internal/revenue"
	"github.com/odyssey-erp/revreport/internal/store"
)

// ErrNoStore is returned by Save when no repository is configured.
var ErrNoStore = errors.New("reports: no run store configured")

// Files names the four paths of a file based run.
type Files struct {
	Input   string `json:"input" validate:"required"`
	Mapping string `json:"mapping,omitempty"`
	Product string `json:"product_output" validate:"required"`
	Account string `json:"account_output" validate:"required"`
}

// Outcome is a built report plus ingest statistics.
type Outcome struct {
	Report   revenue.Report `json:"-"`
	Rows     int            `json:"rows"`
	Records  int            `json:"records"`
	Skipped  int            `json:"skipped"`
	Rejected int            `json:"rejected"`
	Mappings int            `json:"mappings"`
}

// Config collects Service dependencies. Only Pipeline is required.
type Config struct {
	Pipeline *revenue.Pipeline
	Layout   ingest.Layout
	// Mappings supplies the default table when a run brings none.
	Mappings mapping.Loader
	Cache    *reportcache.Cache
	Store    store.Repository
	Logger   *slog.Logger
}

// Service runs reports.
type Service struct {
	pipeline *revenue.Pipeline
	layout   ingest.Layout
	mappings mapping.Loader
	cache    *reportcache.Cache
	store    store.Repository
	logger   *slog.Logger
}

// NewService validates cfg and constructs a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("reports: pipeline required")
	}
	layout := cfg.Layout
	if layout == (ingest.Layout{}) {
		layout = ingest.DefaultLayout()
	}
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		pipeline: cfg.Pipeline,
		layout:   layout,
		mappings: cfg.Mappings,
		cache:    cfg.Cache,
		store:    cfg.Store,
		logger:   logger,
	}, nil
}

// Years returns the pipeline year range.
func (s *Service) Years() revenue.YearRange {
	return s.pipeline.Years()
}

// DefaultMappings loads the configured default table, or an empty table when
// none is configured.
func (s *Service) DefaultMappings(ctx context.Context) (*mapping.Table, error) {
	if s.mappings == nil {
		return mapping.NewTable(nil), nil
	}
	table, err := s.mappings.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("reports: load mappings: %w", err)
	}
	return table, nil
}

// Build parses input with table applied and runs both aggregation passes.
func (s *Service) Build(ctx context.Context, input io.Reader, table *mapping.Table) (Outcome, error) {
	return s.build(ctx, s.pipeline, input, table)
}

func (s *Service) build(ctx context.Context, pipeline *revenue.Pipeline, input io.Reader, table *mapping.Table) (Outcome, error) {
	parser, err := ingest.NewParser(s.layout, table, s.logger)
	if err != nil {
		return Outcome{}, err
	}
	parsed, err := parser.Parse(ctx, input)
	if err != nil {
		return Outcome{}, err
	}
	report, err := pipeline.Run(ctx, parsed.Records)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Report:   report,
		Rows:     parsed.Rows,
		Records:  len(parsed.Records),
		Skipped:  parsed.Skipped + report.Skipped,
		Rejected: parsed.Rejected,
		Mappings: table.Len(),
	}, nil
}

// BuildFiles runs a report from files on disk and writes both outputs. An
// empty mapping path falls back to the default mappings.
func (s *Service) BuildFiles(ctx context.Context, files Files) (Outcome, error) {
	return s.BuildFilesFor(ctx, s.Years(), files)
}

// BuildFilesFor is BuildFiles over years instead of the configured range.
func (s *Service) BuildFilesFor(ctx context.Context, years revenue.YearRange, files Files) (Outcome, error) {
	pipeline := s.pipeline
	if years != pipeline.Years() {
		var err error
		if pipeline, err = pipeline.WithYears(years); err != nil {
			return Outcome{}, err
		}
	}
	table, err := s.tableFor(ctx, files.Mapping)
	if err != nil {
		return Outcome{}, err
	}
	in, err := os.Open(files.Input)
	if err != nil {
		return Outcome{}, fmt.Errorf("reports: open input: %w", err)
	}
	defer in.Close()

	outcome, err := s.build(ctx, pipeline, in, table)
	if err != nil {
		return Outcome{}, err
	}
	if err := export.WriteReportFiles(files.Product, files.Account, outcome.Report); err != nil {
		return Outcome{}, err
	}
	s.logger.Info("report files written",
		slog.String("product_output", files.Product),
		slog.String("account_output", files.Account),
		slog.Int("product_rows", len(outcome.Report.Products)),
		slog.Int("account_rows", len(outcome.Report.Accounts)))
	return outcome, nil
}

// BuildBytes serves in-memory uploads through the report cache. A nil
// mapping uses the default mappings.
func (s *Service) BuildBytes(ctx context.Context, input, mappingCSV []byte) (Outcome, bool, error) {
	var table *mapping.Table
	var err error
	if mappingCSV != nil {
		table, err = mapping.LoadCSV(bytes.NewReader(mappingCSV))
	} else {
		table, err = s.DefaultMappings(ctx)
	}
	if err != nil {
		return Outcome{}, false, err
	}
	fingerprint := reportcache.Fingerprint(input, mappingFingerprint(table), s.Years())
	entry, hit, err := s.cache.Fetch(ctx, fingerprint, func(ctx context.Context) (reportcache.Entry, error) {
		built, err := s.Build(ctx, bytes.NewReader(input), table)
		if err != nil {
			return reportcache.Entry{}, err
		}
		return reportcache.Entry{
			Report:   built.Report,
			Rows:     built.Rows,
			Records:  built.Records,
			Skipped:  built.Skipped,
			Rejected: built.Rejected,
		}, nil
	})
	if err != nil {
		return Outcome{}, false, err
	}
	return Outcome{
		Report:   entry.Report,
		Rows:     entry.Rows,
		Records:  entry.Records,
		Skipped:  entry.Skipped,
		Rejected: entry.Rejected,
		Mappings: table.Len(),
	}, hit, nil
}

// Save persists outcome when a store is configured.
func (s *Service) Save(ctx context.Context, source string, outcome Outcome) (uuid.UUID, error) {
	if s.store == nil {
		return uuid.Nil, ErrNoStore
	}
	return s.store.SaveRun(ctx, store.Run{
		Source:    source,
		InputRows: outcome.Rows,
		Skipped:   outcome.Skipped,
		Rejected:  outcome.Rejected,
		Report:    outcome.Report,
	})
}

// HasStore reports whether Save can persist runs.
func (s *Service) HasStore() bool {
	return s.store != nil
}

func (s *Service) tableFor(ctx context.Context, path string) (*mapping.Table, error) {
	if path == "" {
		return s.DefaultMappings(ctx)
	}
	return mapping.FileSource{Path: path}.Load(ctx)
}

// mappingFingerprint serialises table so equal tables hash equally whatever
// their source.
func mappingFingerprint(table *mapping.Table) []byte {
	var buf bytes.Buffer
	for _, e := range table.Entries() {
		fmt.Fprintf(&buf, "%d:%s%d:%s", len(e.From), e.From, len(e.To), e.To)
	}
	return buf.Bytes()
}
