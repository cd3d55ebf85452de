package revenuehttp

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/revreport/internal/ingest"
	"github.com/odyssey-erp/revreport/internal/reports"
	"github.com/odyssey-erp/revreport/internal/revenue"
	"github.com/odyssey-erp/revreport/internal/store"
)

func exportBody(t *testing.T, rows ...[4]string) []byte {
	t.Helper()
	l := ingest.DefaultLayout()
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := make([]string, l.Width())
	header[0] = ingest.HeaderMarker
	require.NoError(t, w.Write(header))
	for _, r := range rows {
		row := make([]string, l.Width())
		row[l.StartDate], row[l.EndDate], row[l.Amount], row[l.UltimateAccount] = r[0], r[1], r[2], r[3]
		row[l.Owner] = "Dana"
		row[l.Pod] = "East"
		row[l.ProductLine] = "Cloud"
		row[l.ProductFamily] = "Platform"
		require.NoError(t, w.Write(row))
	}
	w.Flush()
	require.NoError(t, w.Error())
	return buf.Bytes()
}

type memoryRuns struct {
	runs map[uuid.UUID]store.Run
}

func (m *memoryRuns) SaveRun(_ context.Context, run store.Run) (uuid.UUID, error) {
	if m.runs == nil {
		m.runs = map[uuid.UUID]store.Run{}
	}
	run.ID = uuid.New()
	m.runs[run.ID] = run
	return run.ID, nil
}

func (m *memoryRuns) GetRun(_ context.Context, id uuid.UUID) (store.Run, error) {
	run, ok := m.runs[id]
	if !ok {
		return store.Run{}, store.ErrRunNotFound
	}
	return run, nil
}

func (m *memoryRuns) ListRuns(context.Context, int) ([]store.Summary, error) {
	out := make([]store.Summary, 0, len(m.runs))
	for id, run := range m.runs {
		out = append(out, store.Summary{ID: id, Source: run.Source, Years: run.Report.Years})
	}
	return out, nil
}

func newTestRouter(t *testing.T, runs *memoryRuns, maxBytes int64) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pipeline, err := revenue.NewPipeline(revenue.Config{Years: revenue.YearRange{First: 2019, Last: 2021}, Logger: logger})
	require.NoError(t, err)
	cfg := reports.Config{Pipeline: pipeline, Logger: logger}
	var repo store.Repository
	if runs != nil {
		cfg.Store = runs
		repo = runs
	}
	svc, err := reports.NewService(cfg)
	require.NoError(t, err)
	r := chi.NewRouter()
	NewHandler(logger, svc, repo, maxBytes).MountRoutes(r)
	return r
}

func TestCreateReportProductLevel(t *testing.T) {
	router := newTestRouter(t, nil, 0)
	body := exportBody(t,
		[4]string{"07/02/2019", "07/01/2020", "3660", "Acme"},
		[4]string{"01/01/2021", "12/31/2021", "10", "Globex"},
	)
	req := httptest.NewRequest(http.MethodPost, "/revenue/reports", bytes.NewReader(body))
	req.Header.Set("Content-Type", "text/csv")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, "text/csv; charset=utf-8", rr.Header().Get("Content-Type"))
	require.Equal(t, "miss", rr.Header().Get("X-Report-Cache"))
	require.Equal(t, "0", rr.Header().Get("X-Report-Skipped"))
	require.Contains(t, rr.Header().Get("Content-Disposition"), "revenue-product.csv")
	require.Equal(t,
		"\"East\",\"Dana\",\"Acme\",\"Platform\",\"Cloud\",1830.00,1830.00,0.00\n"+
			"\"East\",\"Dana\",\"Globex\",\"Platform\",\"Cloud\",0.00,0.00,10.00\n",
		rr.Body.String())
}

func TestCreateReportAccountLevelYearWindow(t *testing.T) {
	router := newTestRouter(t, nil, 0)
	body := exportBody(t,
		[4]string{"07/02/2019", "07/01/2020", "3660", "Acme"},
		[4]string{"01/01/2020", "12/31/2020", "5", "Acme"},
	)
	req := httptest.NewRequest(http.MethodPost, "/revenue/reports?level=account&first=2020&last=2020", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, "\"East\",\"Dana\",\"Acme\",1835.00\n", rr.Body.String())
}

func TestCreateReportRejectsBadQuery(t *testing.T) {
	router := newTestRouter(t, nil, 0)
	for _, target := range []string{
		"/revenue/reports?level=region",
		"/revenue/reports?first=abc",
		"/revenue/reports?first=2021&last=2019",
		"/revenue/reports?first=2015",
		"/revenue/reports?save=maybe",
		"/revenue/reports?save=true",
	} {
		req := httptest.NewRequest(http.MethodPost, target, strings.NewReader("x"))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		require.Equal(t, http.StatusBadRequest, rr.Code, target)
		require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"), target)
	}
}

func TestCreateReportEmptyBody(t *testing.T) {
	router := newTestRouter(t, nil, 0)
	req := httptest.NewRequest(http.MethodPost, "/revenue/reports", strings.NewReader("  \n"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCreateReportInvertedDates(t *testing.T) {
	router := newTestRouter(t, nil, 0)
	body := exportBody(t, [4]string{"12/31/2020", "01/01/2020", "10", "Acme"})
	req := httptest.NewRequest(http.MethodPost, "/revenue/reports", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())
}

func TestCreateReportTooLarge(t *testing.T) {
	router := newTestRouter(t, nil, 64)
	body := exportBody(t, [4]string{"01/01/2020", "12/31/2020", "10", "Acme"})
	req := httptest.NewRequest(http.MethodPost, "/revenue/reports", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestCreateReportMultipartMapping(t *testing.T) {
	router := newTestRouter(t, nil, 0)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("input", "export.csv")
	require.NoError(t, err)
	_, err = part.Write(exportBody(t, [4]string{"01/01/2020", "12/31/2020", "10", "acme inc"}))
	require.NoError(t, err)
	part, err = mw.CreateFormFile("mapping", "mapping.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte("ACME INC,Acme\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/revenue/reports?level=summary", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, "\"East\",\"Dana\",\"Acme\",0.00,10.00,0.00\n", rr.Body.String())
}

func TestCreateReportMultipartRequiresInput(t *testing.T) {
	router := newTestRouter(t, nil, 0)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "no file"))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/revenue/reports", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSavedRunRoundTrip(t *testing.T) {
	runs := &memoryRuns{}
	router := newTestRouter(t, runs, 0)
	body := exportBody(t, [4]string{"01/01/2020", "12/31/2020", "10", "Acme"})
	req := httptest.NewRequest(http.MethodPost, "/revenue/reports?save=true", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	id := rr.Header().Get("X-Report-Run-ID")
	require.NotEmpty(t, id)

	req = httptest.NewRequest(http.MethodGet, "/revenue/runs/"+id+"?level=account", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "\"East\",\"Dana\",\"Acme\",0.00,10.00,0.00\n", rr.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/revenue/runs", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	var listed struct {
		Runs []store.Summary `json:"runs"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&listed))
	require.Len(t, listed.Runs, 1)
	require.Equal(t, "http", listed.Runs[0].Source)
}

func TestGetRunErrors(t *testing.T) {
	router := newTestRouter(t, &memoryRuns{}, 0)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/revenue/runs/not-a-uuid", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/revenue/runs/"+uuid.NewString(), nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRunRoutesAbsentWithoutStore(t *testing.T) {
	router := newTestRouter(t, nil, 0)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/revenue/runs", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestWriteCSVUsesReportYears(t *testing.T) {
	h := NewHandler(nil, nil, nil, 0)
	years := revenue.YearRange{First: 2020, Last: 2020}
	report := revenue.Report{
		Years:    years,
		Accounts: []revenue.Row{{Pod: "P", Owner: "O", Account: "A", Years: years, Revenue: []decimal.Decimal{decimal.NewFromInt(3)}}},
	}
	rr := httptest.NewRecorder()
	h.writeCSV(rr, report, revenue.LevelAccount, "x.csv")
	require.Equal(t, "\"P\",\"O\",\"A\",3.00\n", rr.Body.String())
}

type gatedService struct {
	entered chan struct{}
	release chan struct{}
	ctxErr  chan error
}

func (g *gatedService) Years() revenue.YearRange { return revenue.YearRange{First: 2020, Last: 2020} }

func (g *gatedService) BuildBytes(ctx context.Context, _, _ []byte) (reports.Outcome, bool, error) {
	close(g.entered)
	<-g.release
	g.ctxErr <- ctx.Err()
	return reports.Outcome{Rows: 1}, false, nil
}

func (g *gatedService) Save(context.Context, string, reports.Outcome) (uuid.UUID, error) {
	return uuid.Nil, nil
}

func (g *gatedService) HasStore() bool { return false }

func TestBuildSharedOutlivesCancelledCaller(t *testing.T) {
	svc := &gatedService{entered: make(chan struct{}), release: make(chan struct{}), ctxErr: make(chan error, 1)}
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := h.buildShared(ctx, []byte("export"), nil)
		done <- err
	}()
	<-svc.entered
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	close(svc.release)
	require.NoError(t, <-svc.ctxErr)
}
