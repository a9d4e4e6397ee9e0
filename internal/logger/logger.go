package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"VersotechFeeEngine/internal/model"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// base is the process-wide logger. It writes to stderr until the logger
// service starts and redirects it to the rotating file.
var (
	baseMu sync.RWMutex
	base   = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// WithComponent returns a logger tagged with the component name.
func WithComponent(name string) zerolog.Logger {
	baseMu.RLock()
	defer baseMu.RUnlock()
	return base.With().Str("component", name).Logger()
}

func setBase(l zerolog.Logger) {
	baseMu.Lock()
	base = l
	baseMu.Unlock()
}

type LoggerService struct {
	Config        map[string]interface{}
	mu            sync.Mutex
	rotator       *lumberjack.Logger
	log           zerolog.Logger
	maxFileMB     int
	retentionDays int
	folderPath    string
	level         zerolog.Level
	console       bool
}

func intFrom(v interface{}) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	}
	return 0
}

func NewLoggerService(config map[string]interface{}) *LoggerService {
	maxMB := intFrom(config["max_file_mb"])
	if maxMB == 0 {
		maxMB = 50
	}
	folder, _ := config["folder_path"].(string)
	if folder == "" {
		folder = "./logs"
	}
	level := zerolog.InfoLevel
	if s, ok := config["level"].(string); ok && s != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(s)); err == nil {
			level = parsed
		}
	}
	console, _ := config["console"].(bool)
	return &LoggerService{
		Config:        config,
		maxFileMB:     maxMB,
		retentionDays: intFrom(config["retention_days"]),
		folderPath:    folder,
		level:         level,
		console:       console,
		log:           WithComponent("logger"),
	}
}

func (l *LoggerService) Name() string {
	return "logger"
}

func (l *LoggerService) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.folderPath, 0755); err != nil {
		return err
	}
	l.rotator = &lumberjack.Logger{
		Filename: filepath.Join(l.folderPath, "engine.log"),
		MaxSize:  l.maxFileMB,
		MaxAge:   l.retentionDays,
		Compress: true,
	}
	var out io.Writer = l.rotator
	if l.console {
		out = zerolog.MultiLevelWriter(l.rotator, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	setBase(zerolog.New(out).Level(l.level).With().Timestamp().Logger())
	l.log = WithComponent("logger")
	l.log.Info().Str("file", l.rotator.Filename).Msg("logger service started")
	return nil
}

func (l *LoggerService) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rotator == nil {
		return nil
	}
	l.log.Info().Msg("logger service stopping")
	setBase(zerolog.New(os.Stderr).With().Timestamp().Logger())
	err := l.rotator.Close()
	l.rotator = nil
	return err
}

func (l *LoggerService) LogAudit(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.log.Info().Bool("audit", true).Msg(msg)
}

// Record implements model.AuditSink.
func (l *LoggerService) Record(_ context.Context, e model.AuditEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ev := l.log.Info().
		Bool("audit", true).
		Str("actor", e.Actor).
		Str("action", e.Action).
		Str("entity", e.Entity).
		Str("entity_id", e.EntityID).
		Time("at", e.At)
	if len(e.Detail) > 0 {
		ev = ev.Fields(e.Detail)
	}
	ev.Msg(fmt.Sprintf("%s %s %s", e.Action, e.Entity, e.EntityID))
}

var GlobalLogger *LoggerService

func SetGlobalLogger(l *LoggerService) {
	GlobalLogger = l
}

// Audit writes to the global logger when one is registered.
func Audit(msg string) {
	if GlobalLogger != nil {
		GlobalLogger.LogAudit(msg)
		return
	}
	l := WithComponent("audit")
	l.Info().Bool("audit", true).Msg(msg)
}

// Sink forwards audit entries to the registered logger service, or to a
// component logger before one is registered.
type Sink struct{}

func (Sink) Record(ctx context.Context, e model.AuditEntry) {
	if GlobalLogger != nil {
		GlobalLogger.Record(ctx, e)
		return
	}
	l := WithComponent("audit")
	l.Info().Bool("audit", true).Str("actor", e.Actor).Str("action", e.Action).
		Str("entity", e.Entity).Str("entity_id", e.EntityID).Msg(e.Action)
}
