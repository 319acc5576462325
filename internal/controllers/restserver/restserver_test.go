package restserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chrissnell/climatology/internal/grid"
	"github.com/chrissnell/climatology/internal/metrics"
	"github.com/chrissnell/climatology/internal/storage"
	"github.com/chrissnell/climatology/internal/storage/catalog"
	"github.com/chrissnell/climatology/internal/timespan"
	"github.com/chrissnell/climatology/pkg/config"
)

type fakeCatalog struct {
	products  []catalog.Product
	anomalies map[string][]catalog.Anomaly
	fail      error
}

func (f *fakeCatalog) ListProducts(context.Context) ([]catalog.Product, error) {
	return f.products, f.fail
}

func (f *fakeCatalog) GetProduct(_ context.Context, name string) (catalog.Product, error) {
	if f.fail != nil {
		return catalog.Product{}, f.fail
	}
	for _, p := range f.products {
		if p.Name == name {
			return p, nil
		}
	}
	return catalog.Product{}, storage.ErrNotFound
}

func (f *fakeCatalog) AnomalyDates(context.Context) ([]catalog.DateSummary, error) {
	var out []catalog.DateSummary
	for d, as := range f.anomalies {
		out = append(out, catalog.DateSummary{Date: d, Count: len(as)})
	}
	return out, f.fail
}

func (f *fakeCatalog) AnomaliesForDate(_ context.Context, date time.Time) ([]catalog.Anomaly, error) {
	return f.anomalies[date.Format(timespan.DateLayout)], f.fail
}

func newTestController(t *testing.T, cat Catalog, health *storage.HealthManager) *Controller {
	t.Helper()
	ctrl, err := NewController(context.Background(), &sync.WaitGroup{}, config.ServerData{}, cat, health, metrics.New(), zap.NewNop().Sugar())
	require.NoError(t, err)
	return ctrl
}

func get(t *testing.T, ctrl *Controller, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	ctrl.Server.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func testCatalog() *fakeCatalog {
	return &fakeCatalog{
		products: []catalog.Product{
			{Name: "climate-ssmi-mean-none-1990-1999", Sensor: "ssmi", Statistic: "mean", Rows: 448, Cols: 304},
			{Name: "climate-ssmi-sd-none-1990-1999", Sensor: "ssmi", Statistic: "sd", Rows: 448, Cols: 304},
		},
		anomalies: map[string][]catalog.Anomaly{
			"2000-01-05": {
				{Anomaly: grid.Anomaly{Row: 10, Col: 11, Value: 300, ZScore: 4.2, Neighbors: 1}, Date: "2000-01-05"},
				{Anomaly: grid.Anomaly{Row: 10, Col: 12, Value: 298, ZScore: 3.9, Neighbors: 1}, Date: "2000-01-05"},
			},
		},
	}
}

func TestNewControllerDefaults(t *testing.T) {
	ctrl := newTestController(t, testCatalog(), nil)
	assert.Equal(t, "0.0.0.0:8080", ctrl.Server.Addr)

	_, err := NewController(context.Background(), &sync.WaitGroup{}, config.ServerData{}, nil, nil, nil, nil)
	assert.Error(t, err, "a catalog is required")

	_, err = NewController(context.Background(), &sync.WaitGroup{}, config.ServerData{HealthInterval: "soon"}, testCatalog(), nil, nil, nil)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestProducts(t *testing.T) {
	ctrl := newTestController(t, testCatalog(), nil)

	w := get(t, ctrl, "/api/v1/products")
	require.Equal(t, http.StatusOK, w.Code)
	var products []catalog.Product
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &products))
	assert.Len(t, products, 2)

	w = get(t, ctrl, "/api/v1/products/climate-ssmi-sd-none-1990-1999")
	require.Equal(t, http.StatusOK, w.Code)
	var p catalog.Product
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, "sd", p.Statistic)

	w = get(t, ctrl, "/api/v1/products/climate-avhrr-mean-none-1990-1999")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEmptyCatalogListsAreArrays(t *testing.T) {
	ctrl := newTestController(t, &fakeCatalog{}, nil)

	for _, path := range []string{"/api/v1/products", "/api/v1/anomalies", "/api/v1/anomalies/2000-01-01"} {
		w := get(t, ctrl, path)
		require.Equal(t, http.StatusOK, w.Code, path)
		assert.NotContains(t, w.Body.String(), "null", path)
	}
}

func TestAnomalies(t *testing.T) {
	ctrl := newTestController(t, testCatalog(), nil)

	w := get(t, ctrl, "/api/v1/anomalies")
	require.Equal(t, http.StatusOK, w.Code)
	var dates []catalog.DateSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dates))
	assert.Equal(t, []catalog.DateSummary{{Date: "2000-01-05", Count: 2}}, dates)

	w = get(t, ctrl, "/api/v1/anomalies/2000-01-05")
	require.Equal(t, http.StatusOK, w.Code)
	var day anomalyDay
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &day))
	assert.Equal(t, 2, day.Count)
	assert.Equal(t, 12, day.Anomalies[1].Col)

	w = get(t, ctrl, "/api/v1/anomalies/20000105")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCatalogFailureIs500(t *testing.T) {
	ctrl := newTestController(t, &fakeCatalog{fail: errors.New("database is locked")}, nil)

	w := get(t, ctrl, "/api/v1/products")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "locked", "internal errors stay in the log")
}

func TestHealth(t *testing.T) {
	hm := storage.NewHealthManager()
	hm.Record("catalog", nil)
	ctrl := newTestController(t, testCatalog(), hm)

	w := get(t, ctrl, "/healthz")
	require.Equal(t, http.StatusOK, w.Code)
	var report healthReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, storage.StatusHealthy, report.Status)
	assert.Contains(t, report.Sinks, "catalog")

	hm.Record("binary", errors.New("disk full"))
	w = get(t, ctrl, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ctrl := newTestController(t, testCatalog(), nil)
	ctrl.metrics.AnomaliesDetected("ssmi", 3)

	w := get(t, ctrl, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "anomalies")
}

func TestResponsesAreCompressedOnRequest(t *testing.T) {
	ctrl := newTestController(t, testCatalog(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	ctrl.Server.Handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
}
