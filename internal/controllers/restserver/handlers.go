package restserver

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/chrissnell/climatology/internal/storage"
	"github.com/chrissnell/climatology/internal/storage/catalog"
	"github.com/chrissnell/climatology/internal/timespan"
	"github.com/chrissnell/climatology/pkg/responseformat"
)

// Handlers contains all HTTP handlers for the results API
type Handlers struct {
	controller *Controller
	formatter  *responseformat.Formatter
}

// NewHandlers creates a new handlers instance
func NewHandlers(ctrl *Controller) *Handlers {
	return &Handlers{
		controller: ctrl,
		formatter:  responseformat.NewFormatter(),
	}
}

// anomalyDay is the response body for one date's anomalies
type anomalyDay struct {
	Date      string            `json:"date"`
	Count     int               `json:"count"`
	Anomalies []catalog.Anomaly `json:"anomalies"`
}

// healthReport is the response body for /healthz
type healthReport struct {
	Status string                        `json:"status"`
	Sinks  map[string]storage.HealthData `json:"sinks"`
}

// ListProducts returns every catalogued baseline grid
func (h *Handlers) ListProducts(w http.ResponseWriter, req *http.Request) {
	products, err := h.controller.catalog.ListProducts(req.Context())
	if err != nil {
		h.controller.logger.Errorf("error listing products: %v", err)
		h.formatter.WriteError(w, req, http.StatusInternalServerError, "could not list products")
		return
	}
	if products == nil {
		products = []catalog.Product{}
	}
	h.formatter.WriteResponse(w, req, products, nil)
}

// GetProduct returns one catalogued grid by name
func (h *Handlers) GetProduct(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]

	product, err := h.controller.catalog.GetProduct(req.Context(), name)
	if errors.Is(err, storage.ErrNotFound) {
		h.formatter.WriteError(w, req, http.StatusNotFound, "no product named "+name)
		return
	}
	if err != nil {
		h.controller.logger.Errorf("error fetching product %s: %v", name, err)
		h.formatter.WriteError(w, req, http.StatusInternalServerError, "could not fetch product")
		return
	}
	h.formatter.WriteResponse(w, req, product, nil)
}

// ListAnomalyDates returns the dates with stored anomalies and their counts
func (h *Handlers) ListAnomalyDates(w http.ResponseWriter, req *http.Request) {
	dates, err := h.controller.catalog.AnomalyDates(req.Context())
	if err != nil {
		h.controller.logger.Errorf("error listing anomaly dates: %v", err)
		h.formatter.WriteError(w, req, http.StatusInternalServerError, "could not list anomaly dates")
		return
	}
	if dates == nil {
		dates = []catalog.DateSummary{}
	}
	h.formatter.WriteResponse(w, req, dates, nil)
}

// GetAnomalies returns the anomalies stored for one date (YYYY-MM-DD)
func (h *Handlers) GetAnomalies(w http.ResponseWriter, req *http.Request) {
	raw := mux.Vars(req)["date"]
	date, err := timespan.ParseDate(raw)
	if err != nil {
		h.formatter.WriteError(w, req, http.StatusBadRequest, "date must be formatted as "+timespan.DateLayout)
		return
	}

	anomalies, err := h.controller.catalog.AnomaliesForDate(req.Context(), date)
	if err != nil {
		h.controller.logger.Errorf("error fetching anomalies for %s: %v", raw, err)
		h.formatter.WriteError(w, req, http.StatusInternalServerError, "could not fetch anomalies")
		return
	}
	if anomalies == nil {
		anomalies = []catalog.Anomaly{}
	}

	h.formatter.WriteResponse(w, req, anomalyDay{
		Date:      date.Format(timespan.DateLayout),
		Count:     len(anomalies),
		Anomalies: anomalies,
	}, nil)
}

// Health reports the last write or check of every sink. Any unhealthy or
// stale sink turns the response into a 503.
func (h *Handlers) Health(w http.ResponseWriter, req *http.Request) {
	report := healthReport{Status: storage.StatusHealthy, Sinks: map[string]storage.HealthData{}}
	if h.controller.health != nil {
		report.Sinks = h.controller.health.GetAllHealth()
	}

	for name := range report.Sinks {
		if !h.controller.health.IsHealthy(name, h.controller.healthMaxAge) {
			report.Status = storage.StatusUnhealthy
		}
	}

	if report.Status != storage.StatusHealthy {
		h.formatter.WriteResponseStatus(w, req, http.StatusServiceUnavailable, report)
		return
	}
	h.formatter.WriteResponse(w, req, report, nil)
}
