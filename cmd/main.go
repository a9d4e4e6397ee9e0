package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"VersotechFeeEngine/internal/appmanager"
	"VersotechFeeEngine/internal/logger"
	"VersotechFeeEngine/internal/store"
	"VersotechFeeEngine/internal/store/memstore"
	"VersotechFeeEngine/internal/store/pgstore"
)

// databaseURL prefers DATABASE_URL and otherwise builds one from the DB_* vars.
// An empty result means no database is configured.
func databaseURL() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}
	host := os.Getenv("DB_HOST")
	if host == "" {
		return ""
	}
	port := os.Getenv("DB_PORT")
	if port == "" {
		port = "5432"
	}
	sslmode := os.Getenv("DB_SSLMODE")
	if sslmode == "" {
		sslmode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(os.Getenv("DB_USER"), os.Getenv("DB_PASSWORD")),
		Host:     fmt.Sprintf("%s:%s", host, port),
		Path:     os.Getenv("DB_NAME"),
		RawQuery: "sslmode=" + sslmode,
	}
	return u.String()
}

// InitStore connects to PostgreSQL when configured and falls back to the
// in-memory store for local runs.
func InitStore(ctx context.Context) (store.Store, error) {
	dsn := databaseURL()
	if dsn == "" {
		return memstore.New(), nil
	}
	maxConns := int32(10)
	if n, err := strconv.Atoi(os.Getenv("DB_MAX_CONNS")); err == nil && n > 0 {
		maxConns = int32(n)
	}
	pg, err := pgstore.Connect(ctx, dsn, maxConns)
	if err != nil {
		return nil, err
	}
	return pg, nil
}

func main() {
	log := logger.WithComponent("main")

	// Load .env for local dev (ignored when the environment is set)
	_ = godotenv.Load("../.env")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	st, err := InitStore(ctx)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to DB")
	}
	if _, ok := st.(*memstore.Store); ok {
		log.Warn().Msg("no database configured, running on the in-memory store")
	}
	appmanager.SetStore(st)

	manager := appmanager.NewAppManager()

	sequencePath := os.Getenv("SERVICES_FILE")
	if sequencePath == "" {
		sequencePath = "../services.yaml"
	}
	servicesCfg, err := appmanager.LoadServiceSequence(sequencePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", sequencePath).Msg("failed to load service sequence")
	}

	if err := manager.AutoRegisterServices(servicesCfg); err != nil {
		log.Fatal().Err(err).Msg("failed to register services")
	}

	if err := manager.StartAll(); err != nil {
		log.Fatal().Err(err).Msg("failed to start")
	}

	// Graceful shutdown handling
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	log = logger.WithComponent("main")
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	if err := manager.StopAll(); err != nil {
		log.Fatal().Err(err).Msg("failed to stop")
	}
}
