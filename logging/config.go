package logging

import "time"

// Sink names accepted in Config.EnabledSinks.
const (
	SinkConsole = "console"
	SinkJSON    = "json"
	SinkZap     = "zap"
	SinkArchive = "archive"
	SinkMemory  = "memory"
)

type Config struct {
	EnabledSinks     []string
	BufferSize       int
	MinimumSeverity  Severity
	Fields           map[string]any
	JSON             JSONConfig
	Console          ConsoleConfig
	Zap              ZapConfig
	Archive          ArchiveConfig
	DropWarnInterval time.Duration
}

type JSONConfig struct {
	FilePath      string
	FlushInterval time.Duration
}

type ConsoleConfig struct {
	ShowPayload bool
}

// ZapConfig selects the zap encoder used by the zap sink and the router's
// own diagnostics.
type ZapConfig struct {
	Format string // "json" or "console"
	Level  string
}

// ArchiveConfig controls the compressed event archive.
type ArchiveConfig struct {
	Dir    string
	Prefix string
}

func DefaultConfig() Config {
	return Config{
		EnabledSinks:     []string{SinkConsole},
		BufferSize:       512,
		MinimumSeverity:  SeverityInfo,
		DropWarnInterval: 5 * time.Second,
		Console:          ConsoleConfig{ShowPayload: true},
		JSON: JSONConfig{
			FlushInterval: 2 * time.Second,
		},
		Zap: ZapConfig{
			Format: "console",
			Level:  "info",
		},
		Archive: ArchiveConfig{
			Dir:    "data/events",
			Prefix: "npc-events",
		},
	}
}

func (c Config) HasSink(name string) bool {
	for _, s := range c.EnabledSinks {
		if s == name {
			return true
		}
	}
	return false
}

func (c Config) CloneFields() map[string]any {
	if len(c.Fields) == 0 {
		return nil
	}
	cloned := make(map[string]any, len(c.Fields))
	for k, v := range c.Fields {
		cloned[k] = v
	}
	return cloned
}
