package appmanager

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"VersotechFeeEngine/api"
	"VersotechFeeEngine/internal/jobs"
	"VersotechFeeEngine/internal/logger"
	"VersotechFeeEngine/internal/resource"
	"VersotechFeeEngine/internal/serviceiface"
	"VersotechFeeEngine/internal/store"

	"gopkg.in/yaml.v3"
)

var (
	st     store.Store
	engine *EngineService
)

func SetStore(s store.Store) {
	st = s
}

// GetStore returns the repository the engine runs on
func GetStore() store.Store {
	return st
}

func requireEngine(name string) (*EngineService, error) {
	if engine == nil {
		return nil, fmt.Errorf("%s: the engine service must start before it", name)
	}
	return engine, nil
}

var serviceConstructors = map[string]func(map[string]interface{}) (serviceiface.Service, error){
	"logger": func(cfg map[string]interface{}) (serviceiface.Service, error) {
		l := logger.NewLoggerService(cfg)
		logger.SetGlobalLogger(l)
		return l, nil
	},
	"resourcemanager": func(cfg map[string]interface{}) (serviceiface.Service, error) {
		return resource.NewResourceManagerService(cfg), nil
	},
	"engine": func(cfg map[string]interface{}) (serviceiface.Service, error) {
		e, err := NewEngineService(cfg, st)
		if err != nil {
			return nil, err
		}
		engine = e
		return e, nil
	},
	"cron": func(cfg map[string]interface{}) (serviceiface.Service, error) {
		e, err := requireEngine("cron")
		if err != nil {
			return nil, err
		}
		return jobs.NewCronService(e.Config, e.Services.Matcher, e.Services.Invoices), nil
	},
	"gateway": func(cfg map[string]interface{}) (serviceiface.Service, error) {
		e, err := requireEngine("gateway")
		if err != nil {
			return nil, err
		}
		return api.NewGatewayService(cfg, e.Services), nil
	},
}

// ------------------- MANAGER -------------------

type AppManager struct {
	services []serviceiface.Service
	mu       sync.Mutex
}

func NewAppManager() *AppManager {
	return &AppManager{
		services: make([]serviceiface.Service, 0),
	}
}

func (am *AppManager) RegisterService(s serviceiface.Service) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.services = append(am.services, s)
}

func (am *AppManager) StartAll() error {
	am.mu.Lock()
	defer am.mu.Unlock()
	log := logger.WithComponent("appmanager")

	// First pass: start all except resourcemanager
	for _, service := range am.services {
		if service.Name() == "resourcemanager" {
			continue
		}
		log.Info().Str("service", service.Name()).Msg("starting service")
		if err := service.Start(); err != nil {
			return fmt.Errorf("failed to start service %s: %w", service.Name(), err)
		}
	}

	// Probes run against started dependencies
	for _, service := range am.services {
		if service.Name() == "resourcemanager" {
			log.Info().Str("service", service.Name()).Msg("starting service")
			if err := service.Start(); err != nil {
				return fmt.Errorf("failed to start service %s: %w", service.Name(), err)
			}
		}
	}
	return nil
}

func (am *AppManager) StopAll() error {
	am.mu.Lock()
	defer am.mu.Unlock()
	for i := len(am.services) - 1; i >= 0; i-- {
		svc := am.services[i]
		if err := svc.Stop(); err != nil {
			return fmt.Errorf("failed to stop service %s: %w", svc.Name(), err)
		}
	}
	return nil
}

// ------------------- YAML CONFIG -------------------

type ServiceSequencer struct {
	Services []ServiceConfig `yaml:"services"`
}

type ServiceConfig struct {
	Name       string                 `yaml:"name"`
	StartOrder int                    `yaml:"start_order"`
	Config     map[string]interface{} `yaml:"config"`
}

func LoadServiceSequence(path string) ([]ServiceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseServiceSequence(data)
}

func ParseServiceSequence(data []byte) ([]ServiceConfig, error) {
	var seq ServiceSequencer
	if err := yaml.Unmarshal(data, &seq); err != nil {
		return nil, err
	}

	// sort by start_order
	sort.SliceStable(seq.Services, func(i, j int) bool {
		return seq.Services[i].StartOrder < seq.Services[j].StartOrder
	})

	return seq.Services, nil
}

// AutoRegisterServices builds every known service in start order, then hands
// the engine's probes and health view to the resource manager and gateway.
func (am *AppManager) AutoRegisterServices(configs []ServiceConfig) error {
	log := logger.WithComponent("appmanager")
	for _, svc := range configs {
		constructor, ok := serviceConstructors[svc.Name]
		if !ok {
			log.Warn().Str("service", svc.Name).Msg("unknown service in sequence, skipping")
			continue
		}
		cfg := svc.Config
		if cfg == nil {
			cfg = map[string]interface{}{}
		}
		service, err := constructor(cfg)
		if err != nil {
			return fmt.Errorf("failed to build service %s: %w", svc.Name, err)
		}
		am.RegisterService(service)
	}

	rm, _ := am.GetServiceByName("resourcemanager").(*resource.ResourceManager)
	if rm == nil || engine == nil {
		return nil
	}
	for name, check := range engine.checks() {
		rm.AddCheck(name, check)
	}
	if gw, ok := am.GetServiceByName("gateway").(*api.GatewayService); ok {
		gw.SetHealth(rm)
	}
	return nil
}

func (am *AppManager) GetServiceByName(name string) serviceiface.Service {
	for _, svc := range am.services {
		if svc.Name() == name {
			return svc
		}
	}
	return nil
}
