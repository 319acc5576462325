package restserver

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/chrissnell/climatology/internal/log"
	"github.com/chrissnell/climatology/internal/metrics"
	"github.com/chrissnell/climatology/internal/storage"
	"github.com/chrissnell/climatology/internal/storage/catalog"
	"github.com/chrissnell/climatology/pkg/config"
)

// Catalog is the read side of the product catalog served by the API.
type Catalog interface {
	ListProducts(ctx context.Context) ([]catalog.Product, error)
	GetProduct(ctx context.Context, name string) (catalog.Product, error)
	AnomalyDates(ctx context.Context) ([]catalog.DateSummary, error)
	AnomaliesForDate(ctx context.Context, date time.Time) ([]catalog.Anomaly, error)
}

// Controller represents the results API server
type Controller struct {
	ctx          context.Context
	wg           *sync.WaitGroup
	serverConfig config.ServerData
	Server       http.Server
	catalog      Catalog
	health       *storage.HealthManager
	healthMaxAge time.Duration
	metrics      *metrics.Metrics
	logger       *zap.SugaredLogger
	handlers     *Handlers
}

// NewController creates a new results API controller
func NewController(ctx context.Context, wg *sync.WaitGroup, sc config.ServerData, cat Catalog, health *storage.HealthManager, m *metrics.Metrics, logger *zap.SugaredLogger) (*Controller, error) {
	if cat == nil {
		return nil, fmt.Errorf("the results API needs the catalog output enabled")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	interval, err := sc.Health()
	if err != nil {
		return nil, err
	}

	ctrl := &Controller{
		ctx:          ctx,
		wg:           wg,
		serverConfig: sc,
		catalog:      cat,
		health:       health,
		healthMaxAge: 2 * interval,
		metrics:      m,
		logger:       logger,
	}

	// If a ListenAddr was not provided, listen on all interfaces
	if sc.ListenAddr == "" {
		logger.Info("server.listen-addr not provided; defaulting to 0.0.0.0 (all interfaces)")
		sc.ListenAddr = "0.0.0.0"
	}
	if sc.Port == 0 {
		logger.Infof("server.port not provided; defaulting to %d", config.DefaultPort)
		sc.Port = config.DefaultPort
	}
	ctrl.serverConfig = sc

	ctrl.handlers = NewHandlers(ctrl)
	ctrl.Server.Addr = fmt.Sprintf("%v:%v", sc.ListenAddr, sc.Port)
	ctrl.Server.Handler = handlers.CompressHandler(ctrl.setupRouter())
	ctrl.Server.ReadHeaderTimeout = 10 * time.Second

	return ctrl, nil
}

// StartController starts the results API server
func (c *Controller) StartController() error {
	log.Infof("Starting results API on %s...", c.Server.Addr)
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		if c.serverConfig.Cert != "" && c.serverConfig.Key != "" {
			if err := c.Server.ListenAndServeTLS(c.serverConfig.Cert, c.serverConfig.Key); err != http.ErrServerClosed {
				log.Errorf("results API error: %v", err)
			}
		} else {
			if err := c.Server.ListenAndServe(); err != http.ErrServerClosed {
				log.Errorf("results API error: %v", err)
			}
		}
	}()

	go func() {
		<-c.ctx.Done()
		log.Info("Shutting down the results API...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.Server.Shutdown(shutdownCtx)
	}()

	return nil
}

// setupRouter configures the HTTP router with all endpoints
func (c *Controller) setupRouter() *mux.Router {
	router := mux.NewRouter()
	router.Use(log.HTTPMiddleware(c.logger))
	router.Use(handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(c.logger.Desugar())),
		handlers.PrintRecoveryStack(true),
	))

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/products", c.handlers.ListProducts).Methods(http.MethodGet)
	api.HandleFunc("/products/{name}", c.handlers.GetProduct).Methods(http.MethodGet)
	api.HandleFunc("/anomalies", c.handlers.ListAnomalyDates).Methods(http.MethodGet)
	api.HandleFunc("/anomalies/{date}", c.handlers.GetAnomalies).Methods(http.MethodGet)

	router.HandleFunc("/healthz", c.handlers.Health).Methods(http.MethodGet)
	if c.metrics != nil {
		router.Handle("/metrics", c.metrics.Handler())
	}

	return router
}
