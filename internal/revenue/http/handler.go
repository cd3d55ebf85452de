// Package revenuehttp exposes report building over HTTP.
package revenuehttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/revreport/internal/export"
	"github.com/odyssey-erp/revreport/internal/ingest"
	"github.com/odyssey-erp/revreport/internal/platform/httpx"
	"github.com/odyssey-erp/revreport/internal/reportcache"
	"github.com/odyssey-erp/revreport/internal/reports"
	"github.com/odyssey-erp/revreport/internal/revenue"
	"github.com/odyssey-erp/revreport/internal/store"
)

const multipartMemory = 8 << 20

// Service is the subset of reports.Service used by the handler.
type Service interface {
	Years() revenue.YearRange
	BuildBytes(ctx context.Context, input, mappingCSV []byte) (reports.Outcome, bool, error)
	Save(ctx context.Context, source string, outcome reports.Outcome) (uuid.UUID, error)
	HasStore() bool
}

// CacheRecorder counts report cache results.
type CacheRecorder interface {
	CacheResult(result string)
}

// Handler serves the report endpoints.
type Handler struct {
	logger    *slog.Logger
	service   Service
	runs      store.Repository
	metrics   CacheRecorder
	validator *validator.Validate
	maxBytes  int64
	builds    singleflight.Group
}

// NewHandler constructs a Handler. runs may be nil, which disables the run
// history endpoints.
func NewHandler(logger *slog.Logger, service Service, runs store.Repository, maxBytes int64) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	return &Handler{
		logger:    logger,
		service:   service,
		runs:      runs,
		validator: validator.New(),
		maxBytes:  maxBytes,
	}
}

// WithMetrics attaches a cache result recorder.
func (h *Handler) WithMetrics(m CacheRecorder) *Handler {
	h.metrics = m
	return h
}

type reportQuery struct {
	Level string `validate:"omitempty,oneof=product account summary"`
	First int    `validate:"omitempty,gte=1900,lte=9999"`
	Last  int    `validate:"omitempty,gte=1900,lte=9999"`
	Save  bool
}

func (h *Handler) parseQuery(r *http.Request) (reportQuery, revenue.Level, revenue.YearRange, error) {
	q := r.URL.Query()
	query := reportQuery{Level: strings.ToLower(strings.TrimSpace(q.Get("level")))}
	var err error
	if query.First, err = intParam(q.Get("first")); err != nil {
		return query, 0, revenue.YearRange{}, fmt.Errorf("first: %w", httpx.ErrValidation)
	}
	if query.Last, err = intParam(q.Get("last")); err != nil {
		return query, 0, revenue.YearRange{}, fmt.Errorf("last: %w", httpx.ErrValidation)
	}
	if v := q.Get("save"); v != "" {
		if query.Save, err = strconv.ParseBool(v); err != nil {
			return query, 0, revenue.YearRange{}, fmt.Errorf("save: %w", httpx.ErrValidation)
		}
	}
	if err := h.validator.Struct(query); err != nil {
		var fields []string
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields = append(fields, strings.ToLower(fe.Field())+" "+fe.Tag())
			}
		}
		return query, 0, revenue.YearRange{}, fmt.Errorf("%s: %w", strings.Join(fields, ", "), httpx.ErrValidation)
	}
	level, _ := revenue.ParseLevel(query.Level)

	configured := h.service.Years()
	years := configured
	if query.First != 0 {
		years.First = query.First
	}
	if query.Last != 0 {
		years.Last = query.Last
	}
	if err := years.Validate(); err != nil {
		return query, 0, revenue.YearRange{}, fmt.Errorf("%v: %w", err, httpx.ErrValidation)
	}
	if !configured.Contains(years.First) || !configured.Contains(years.Last) {
		return query, 0, revenue.YearRange{}, fmt.Errorf("years %s outside %s: %w", years, configured, httpx.ErrValidation)
	}
	return query, level, years, nil
}

func intParam(v string) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	query, level, years, err := h.parseQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if query.Save && !h.service.HasStore() {
		httpx.RespondError(w, fmt.Errorf("save requested but no run store configured: %w", httpx.ErrValidation))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	input, mappingCSV, err := readUpload(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if len(bytes.TrimSpace(input)) == 0 {
		httpx.RespondError(w, fmt.Errorf("empty export: %w", httpx.ErrValidation))
		return
	}

	result, shared, err := h.buildShared(r.Context(), input, mappingCSV)
	if err != nil {
		h.respondBuildError(w, err)
		return
	}

	if query.Save {
		id, err := h.service.Save(r.Context(), "http", result.outcome)
		if err != nil {
			h.logger.Error("save report run", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		w.Header().Set("X-Report-Run-ID", id.String())
	}

	cache := "miss"
	switch {
	case result.hit:
		cache = "hit"
	case shared:
		cache = "shared"
	}
	if h.metrics != nil {
		h.metrics.CacheResult(cache)
	}
	w.Header().Set("X-Report-Cache", cache)
	w.Header().Set("X-Report-Skipped", strconv.Itoa(result.outcome.Skipped))
	w.Header().Set("X-Report-Rejected", strconv.Itoa(result.outcome.Rejected))
	report := result.outcome.Report
	report.Years = years
	h.writeCSV(w, report, level, "revenue-"+level.String()+".csv")
}

type built struct {
	outcome reports.Outcome
	hit     bool
}

// buildShared collapses concurrent uploads of the same export and mapping
// into one build. The build outlives a caller that goes away so the other
// waiters and the report cache still get its result.
func (h *Handler) buildShared(ctx context.Context, input, mappingCSV []byte) (built, bool, error) {
	key := reportcache.Fingerprint(input, mappingCSV, h.service.Years())
	ch := h.builds.DoChan(key, func() (any, error) {
		outcome, hit, err := h.service.BuildBytes(context.WithoutCancel(ctx), input, mappingCSV)
		return built{outcome: outcome, hit: hit}, err
	})
	select {
	case <-ctx.Done():
		return built{}, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return built{}, false, res.Err
		}
		return res.Val.(built), res.Shared, nil
	}
}

func (h *Handler) respondBuildError(w http.ResponseWriter, err error) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		httpx.RespondError(w, err)
	case errors.Is(err, revenue.ErrInvalidDateRange), errors.Is(err, ingest.ErrMalformedCSV):
		httpx.RespondError(w, fmt.Errorf("%v: %w", err, httpx.ErrUnprocessable))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.logger.Warn("report build cancelled", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "report build did not finish")
	default:
		h.logger.Error("build report", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

// readUpload returns the export and optional mapping bytes. Multipart requests
// carry them as the "input" and "mapping" parts; any other body is the export.
func readUpload(r *http.Request) ([]byte, []byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		input, err := io.ReadAll(r.Body)
		return input, nil, err
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("multipart: %v: %w", err, httpx.ErrValidation)
	}
	input, err := formFile(r, "input")
	if err != nil {
		return nil, nil, err
	}
	if input == nil {
		return nil, nil, fmt.Errorf("multipart part input required: %w", httpx.ErrValidation)
	}
	mappingCSV, err := formFile(r, "mapping")
	if err != nil {
		return nil, nil, err
	}
	return input, mappingCSV, nil
}

func formFile(r *http.Request, name string) ([]byte, error) {
	f, _, err := r.FormFile(name)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", name, err, httpx.ErrValidation)
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("limit: %w", httpx.ErrValidation))
		return
	}
	runs, err := h.runs.ListRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("list report runs", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if runs == nil {
		runs = []store.Summary{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("run id: %w", httpx.ErrValidation))
		return
	}
	level, ok := revenue.ParseLevel(strings.ToLower(r.URL.Query().Get("level")))
	if !ok {
		httpx.RespondError(w, fmt.Errorf("level: %w", httpx.ErrValidation))
		return
	}
	run, err := h.runs.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			httpx.RespondError(w, fmt.Errorf("run %s: %w", id, httpx.ErrNotFound))
			return
		}
		h.logger.Error("get report run", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.writeCSV(w, run.Report, level, "revenue-"+id.String()+"-"+level.String()+".csv")
}

func (h *Handler) writeCSV(w http.ResponseWriter, report revenue.Report, level revenue.Level, filename string) {
	var buf bytes.Buffer
	if err := export.WriteLevel(&buf, report, level); err != nil {
		h.logger.Error("write report csv", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
