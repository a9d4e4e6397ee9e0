package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"VersotechFeeEngine/internal/logger"
	"VersotechFeeEngine/internal/serviceiface"

	"github.com/rs/zerolog"
)

const defaultPort = 8081

// GatewayService hosts the engine's HTTP surface.
type GatewayService struct {
	config map[string]interface{}
	svc    Services
	log    zerolog.Logger

	mu     sync.Mutex
	server *http.Server
}

func NewGatewayService(cfg map[string]interface{}, svc Services) *GatewayService {
	return &GatewayService{config: cfg, svc: svc}
}

var _ serviceiface.Service = (*GatewayService)(nil)

func (s *GatewayService) Name() string {
	return "gateway"
}

// SetHealth attaches the dependency probes served on /health.
func (s *GatewayService) SetHealth(h HealthReporter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.svc.Health = h
}

func (s *GatewayService) port() int {
	switch v := s.config["port"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return defaultPort
}

func (s *GatewayService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = logger.WithComponent("gateway")

	addr := fmt.Sprintf(":%d", s.port())
	s.server = &http.Server{
		Addr:              addr,
		Handler:           NewRouter(s.svc),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      5 * time.Minute,
	}
	srv := s.server
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Fatal().Err(err).Str("addr", addr).Msg("gateway server failed")
		}
	}()
	s.log.Info().Str("addr", addr).Msg("API gateway started")
	return nil
}

func (s *GatewayService) Stop() error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
