package managers

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/chrissnell/climatology/internal/controllers/restserver"
	"github.com/chrissnell/climatology/internal/metrics"
	"github.com/chrissnell/climatology/pkg/config"
)

// ControllerManager interface for the controller manager
type ControllerManager interface {
	StartControllers() error
}

// Controller is an interface that provides standard methods for various controller backends
type Controller interface {
	StartController() error
}

// NewControllerManager creates a controller manager serving the outputs held
// by s. The results API is the only controller; it needs the catalog.
func NewControllerManager(ctx context.Context, wg *sync.WaitGroup, c *config.ConfigData, s *StorageManager, m *metrics.Metrics, logger *zap.SugaredLogger) (ControllerManager, error) {
	cm := &controllerManager{
		ctx:         ctx,
		wg:          wg,
		config:      c,
		storage:     s,
		metrics:     m,
		logger:      logger,
		controllers: make([]Controller, 0),
	}

	controller, err := cm.createController("restserver")
	if err != nil {
		return nil, fmt.Errorf("error creating controller: %w", err)
	}
	cm.controllers = append(cm.controllers, controller)

	return cm, nil
}

type controllerManager struct {
	ctx         context.Context
	wg          *sync.WaitGroup
	config      *config.ConfigData
	storage     *StorageManager
	metrics     *metrics.Metrics
	logger      *zap.SugaredLogger
	controllers []Controller
}

func (c *controllerManager) StartControllers() error {
	c.logger.Info("Starting controller manager...")

	for _, controller := range c.controllers {
		err := controller.StartController()
		if err != nil {
			return fmt.Errorf("error starting controller: %w", err)
		}
	}

	c.logger.Infof("Started %d controllers successfully", len(c.controllers))
	return nil
}

// createController creates a controller by type name
func (c *controllerManager) createController(kind string) (Controller, error) {
	switch kind {
	case "restserver", "rest":
		if c.storage.Catalog == nil {
			return nil, fmt.Errorf("the results API needs output.catalog enabled")
		}
		return restserver.NewController(c.ctx, c.wg, c.config.Server, c.storage.Catalog, c.storage.Health, c.metrics, c.logger)
	default:
		return nil, fmt.Errorf("unknown controller type: %s", kind)
	}
}
