package resource

import (
	"context"
	"sort"
	"sync"
	"time"

	"VersotechFeeEngine/internal/logger"
	"VersotechFeeEngine/internal/serviceiface"

	"github.com/rs/zerolog"
)

// Check probes one dependency; nil means healthy.
type Check func(ctx context.Context) error

// Status is the outcome of the latest probe of a dependency.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// ResourceManager probes registered dependencies on a heartbeat and keeps
// the latest status of each for the health endpoint.
type ResourceManager struct {
	mu                sync.RWMutex
	checks            map[string]Check
	status            map[string]Status
	stopChan          chan struct{}
	stopOnce          sync.Once
	heartbeatInterval time.Duration
	log               zerolog.Logger
}

func NewResourceManagerService(cfg map[string]interface{}) *ResourceManager {
	interval := 30 * time.Second
	if val, ok := cfg["heartbeat_interval"]; ok {
		switch v := val.(type) {
		case string:
			if d, err := time.ParseDuration(v); err == nil {
				interval = d
			}
		case int:
			interval = time.Duration(v) * time.Second
		case float64:
			interval = time.Duration(v) * time.Second
		}
	}
	return &ResourceManager{
		checks:            make(map[string]Check),
		status:            make(map[string]Status),
		stopChan:          make(chan struct{}),
		heartbeatInterval: interval,
		log:               logger.WithComponent("resourcemanager"),
	}
}

var _ serviceiface.Service = (*ResourceManager)(nil)

func (rm *ResourceManager) Name() string { return "resourcemanager" }

func (rm *ResourceManager) Start() error {
	rm.Probe(context.Background())
	logger.Audit("ResourceManager started")
	go rm.heartbeatLoop()
	return nil
}

func (rm *ResourceManager) Stop() error {
	rm.stopOnce.Do(func() { close(rm.stopChan) })
	return nil
}

func (rm *ResourceManager) heartbeatLoop() {
	ticker := time.NewTicker(rm.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rm.stopChan:
			return
		case <-ticker.C:
			rm.Probe(context.Background())
		}
	}
}

// AddCheck registers a dependency probe under name.
func (rm *ResourceManager) AddCheck(name string, check Check) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.checks[name] = check
}

// Probe runs every check once and records the results.
func (rm *ResourceManager) Probe(ctx context.Context) {
	rm.mu.RLock()
	checks := make(map[string]Check, len(rm.checks))
	for k, v := range rm.checks {
		checks[k] = v
	}
	rm.mu.RUnlock()

	for name, check := range checks {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := check(cctx)
		cancel()
		st := Status{Name: name, Healthy: err == nil, CheckedAt: time.Now().UTC()}
		if err != nil {
			st.Error = err.Error()
			rm.log.Warn().Err(err).Str("resource", name).Msg("health check failed")
		}
		rm.mu.Lock()
		rm.status[name] = st
		rm.mu.Unlock()
	}
}

// Snapshot returns the latest statuses sorted by name and whether all are
// healthy. A resource that was never probed counts as unhealthy.
func (rm *ResourceManager) Snapshot() ([]Status, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	out := make([]Status, 0, len(rm.checks))
	healthy := true
	for name := range rm.checks {
		st, ok := rm.status[name]
		if !ok {
			st = Status{Name: name, Error: "not probed yet"}
		}
		healthy = healthy && st.Healthy
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, healthy
}
