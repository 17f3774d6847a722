// Package config reads process settings from HW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"hidden-walnuts/server/logging"
)

// Server holds every process-level setting. NPC tuning and the species
// catalog live in their own YAML files referenced from here.
type Server struct {
	Addr      string `env:"HW_ADDR"       envDefault:":8080"`
	ClientDir string `env:"HW_CLIENT_DIR"`
	Seed      string `env:"HW_SEED"       envDefault:"hidden-walnuts"`

	TickRate             int           `env:"HW_TICK_RATE"                envDefault:"30"`
	CatchupMaxTicks      int           `env:"HW_CATCHUP_MAX_TICKS"        envDefault:"4"`
	CommandCapacity      int           `env:"HW_COMMAND_CAPACITY"         envDefault:"1024"`
	PerActorCommandLimit int           `env:"HW_PER_ACTOR_COMMAND_LIMIT"  envDefault:"8"`
	CommandWarningStep   int           `env:"HW_COMMAND_WARNING_STEP"     envDefault:"256"`
	BroadcastInterval    time.Duration `env:"HW_BROADCAST_INTERVAL"       envDefault:"100ms"`
	ShutdownTimeout      time.Duration `env:"HW_SHUTDOWN_TIMEOUT"         envDefault:"5s"`

	WorldSize        float64       `env:"HW_WORLD_SIZE"         envDefault:"200"`
	CellSize         float64       `env:"HW_CELL_SIZE"          envDefault:"2"`
	PathSearchBudget time.Duration `env:"HW_PATH_SEARCH_BUDGET" envDefault:"5ms"`
	CatalogPath      string        `env:"HW_CATALOG_PATH"`
	NPCConfigPath    string        `env:"HW_NPC_CONFIG_PATH"`

	LogSinks         []string      `env:"HW_LOG_SINKS"          envSeparator:"," envDefault:"console"`
	LogMinSeverity   string        `env:"HW_LOG_MIN_SEVERITY"   envDefault:"info"`
	LogJSONPath      string        `env:"HW_LOG_JSON_PATH"`
	LogArchiveDir    string        `env:"HW_LOG_ARCHIVE_DIR"    envDefault:"data/events"`
	LogZapFormat     string        `env:"HW_LOG_ZAP_FORMAT"     envDefault:"console"`
	LogZapLevel      string        `env:"HW_LOG_ZAP_LEVEL"      envDefault:"info"`
	LogFlushInterval time.Duration `env:"HW_LOG_FLUSH_INTERVAL" envDefault:"2s"`

	OTelEndpoint     string `env:"HW_OTEL_ENDPOINT"`
	OTelEnabled      bool   `env:"HW_OTEL_ENABLED"        envDefault:"true"`
	EnablePprofTrace bool   `env:"HW_ENABLE_PPROF_TRACE"`
}

// Load reads the optional dotenv files (".env" when none are named) without
// overriding variables already set, then parses the environment.
func Load(envFiles ...string) (Server, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Server{}, fmt.Errorf("load %s: %w", file, err)
		}
	}
	return Parse()
}

// Parse reads the environment only.
func Parse() (Server, error) {
	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return Server{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c Server) Validate() error {
	var errs []error
	if c.TickRate <= 0 {
		errs = append(errs, fmt.Errorf("HW_TICK_RATE must be positive, got %d", c.TickRate))
	}
	if c.WorldSize <= 0 || c.CellSize <= 0 || c.CellSize > c.WorldSize {
		errs = append(errs, fmt.Errorf("HW_WORLD_SIZE/HW_CELL_SIZE out of range: %v/%v", c.WorldSize, c.CellSize))
	}
	if c.CommandCapacity <= 0 {
		errs = append(errs, fmt.Errorf("HW_COMMAND_CAPACITY must be positive, got %d", c.CommandCapacity))
	}
	if _, err := logging.ParseSeverity(c.LogMinSeverity); err != nil {
		errs = append(errs, fmt.Errorf("HW_LOG_MIN_SEVERITY: %w", err))
	}
	for _, sink := range c.LogSinks {
		switch sink {
		case logging.SinkConsole, logging.SinkJSON, logging.SinkZap, logging.SinkArchive, logging.SinkMemory:
		default:
			errs = append(errs, fmt.Errorf("HW_LOG_SINKS: unknown sink %q", sink))
		}
	}
	return errors.Join(errs...)
}

// Logging maps the log settings onto the router configuration.
func (c Server) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	if len(c.LogSinks) > 0 {
		cfg.EnabledSinks = append([]string(nil), c.LogSinks...)
	}
	if sev, err := logging.ParseSeverity(c.LogMinSeverity); err == nil {
		cfg.MinimumSeverity = sev
	}
	cfg.JSON.FilePath = c.LogJSONPath
	if c.LogFlushInterval > 0 {
		cfg.JSON.FlushInterval = c.LogFlushInterval
	}
	if c.LogArchiveDir != "" {
		cfg.Archive.Dir = c.LogArchiveDir
	}
	cfg.Zap = logging.ZapConfig{Format: c.LogZapFormat, Level: c.LogZapLevel}
	cfg.Fields = map[string]any{"seed": c.Seed}
	return cfg
}
