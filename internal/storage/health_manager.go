package storage

import (
	"sync"
	"time"
)

// Health states.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// HealthData is the last known state of one sink.
type HealthData struct {
	LastCheck time.Time `json:"last_check" msgpack:"last_check"`
	Status    string    `json:"status" msgpack:"status"`
	Message   string    `json:"message,omitempty" msgpack:"message,omitempty"`
	Error     string    `json:"error,omitempty" msgpack:"error,omitempty"`
}

// HealthManager keeps sink health in memory.
type HealthManager struct {
	mu     sync.RWMutex
	health map[string]HealthData
}

// NewHealthManager creates an empty health manager.
func NewHealthManager() *HealthManager {
	return &HealthManager{
		health: make(map[string]HealthData),
	}
}

// UpdateHealth records the state of a sink.
func (hm *HealthManager) UpdateHealth(sink string, health HealthData) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.health[sink] = health
}

// Record marks a sink healthy when err is nil and unhealthy otherwise.
func (hm *HealthManager) Record(sink string, err error) {
	h := HealthData{LastCheck: time.Now(), Status: StatusHealthy, Message: "last write succeeded"}
	if err != nil {
		h.Status = StatusUnhealthy
		h.Message = "last write failed"
		h.Error = err.Error()
	}
	hm.UpdateHealth(sink, h)
}

// GetHealth returns the state of one sink.
func (hm *HealthManager) GetHealth(sink string) (HealthData, bool) {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	h, ok := hm.health[sink]
	return h, ok
}

// GetAllHealth returns a copy of every sink's state.
func (hm *HealthManager) GetAllHealth() map[string]HealthData {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	result := make(map[string]HealthData, len(hm.health))
	for k, v := range hm.health {
		result[k] = v
	}
	return result
}

// IsHealthy reports whether a sink was healthy within maxAge.
func (hm *HealthManager) IsHealthy(sink string, maxAge time.Duration) bool {
	h, ok := hm.GetHealth(sink)
	if !ok {
		return false
	}
	if time.Since(h.LastCheck) > maxAge {
		return false
	}
	return h.Status == StatusHealthy
}
