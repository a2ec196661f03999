package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Inference InferenceConfig `toml:"inference"`
	Agent     AgentConfig     `toml:"agent"`
	Comm      CommConfig      `toml:"comm"`
	Journal   JournalConfig   `toml:"journal"`
	Log       LogConfig       `toml:"log"`
	Observer  ObserverConfig  `toml:"observer"`
}

type InferenceConfig struct {
	Endpoint     string   `toml:"endpoint"`
	APIKey       string   `toml:"api_key"`
	Model        string   `toml:"model"`
	MaxRetries   int      `toml:"max_retries"`
	RetryDelayMS int      `toml:"retry_delay_ms"`
	TimeoutSecs  int      `toml:"timeout_secs"`
	MaxTokens    int      `toml:"max_tokens"`
	Temperature  *float64 `toml:"temperature"`
	TopP         *float64 `toml:"top_p"`
	TopK         *int     `toml:"top_k"`
}

type AgentConfig struct {
	MaxToolRounds       int    `toml:"max_tool_rounds"`
	StrictRounds        bool   `toml:"strict_rounds"`
	InitTimeoutSecs     int    `toml:"init_timeout_secs"`
	ShutdownTimeoutSecs int    `toml:"shutdown_timeout_secs"`
	HandleTimeoutSecs   int    `toml:"handle_timeout_secs"`
	ToolsFile           string `toml:"tools_file"`
}

type CommConfig struct {
	ListenAddr   string `toml:"listen_addr"`
	MaxPayload   int    `toml:"max_payload"`
	DedupCap     int    `toml:"dedup_capacity"`
	DedupTTLSecs int    `toml:"dedup_ttl_secs"`
	QueueSize    int    `toml:"queue_size"`
}

type JournalConfig struct {
	DBPath string `toml:"db_path"`
	DBDSN  string `toml:"db_dsn"`
}

type LogConfig struct {
	Level      string `toml:"level"`  // debug, info, warn, error
	Format     string `toml:"format"` // text or json
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Inference: InferenceConfig{
			MaxRetries:   3,
			RetryDelayMS: 1000,
			TimeoutSecs:  120,
			MaxTokens:    4096,
		},
		Agent: AgentConfig{
			MaxToolRounds:       20,
			InitTimeoutSecs:     120,
			ShutdownTimeoutSecs: 30,
			HandleTimeoutSecs:   300,
		},
		Comm: CommConfig{
			ListenAddr:   "0.0.0.0:9700",
			MaxPayload:   65536,
			DedupCap:     256,
			DedupTTLSecs: 300,
			QueueSize:    1024,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
// An empty path falls back to $SHELLY_CONFIG, then "shelly.toml".
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = os.Getenv("SHELLY_CONFIG")
	}
	if path == "" {
		path = "shelly.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			slog.Warn("ignoring malformed config file", "path", path, "error", err)
			cfg = Default()
		}
	}

	// Env overrides
	envString("INFERENCE_ENDPOINT", &cfg.Inference.Endpoint)
	envString("INFERENCE_API_KEY", &cfg.Inference.APIKey)
	envString("INFERENCE_MODEL", &cfg.Inference.Model)
	envInt("INFERENCE_MAX_RETRIES", &cfg.Inference.MaxRetries)
	envInt("INFERENCE_RETRY_DELAY_MS", &cfg.Inference.RetryDelayMS)
	envInt("INFERENCE_TIMEOUT_SECS", &cfg.Inference.TimeoutSecs)
	envInt("INFERENCE_MAX_TOKENS", &cfg.Inference.MaxTokens)
	envFloatPtr("INFERENCE_TEMPERATURE", &cfg.Inference.Temperature)
	envFloatPtr("INFERENCE_TOP_P", &cfg.Inference.TopP)
	envIntPtr("INFERENCE_TOP_K", &cfg.Inference.TopK)

	envInt("AGENT_MAX_TOOL_ROUNDS", &cfg.Agent.MaxToolRounds)
	envInt("AGENT_INIT_TIMEOUT_SECS", &cfg.Agent.InitTimeoutSecs)
	envInt("AGENT_SHUTDOWN_TIMEOUT_SECS", &cfg.Agent.ShutdownTimeoutSecs)
	envInt("AGENT_HANDLE_TIMEOUT_SECS", &cfg.Agent.HandleTimeoutSecs)

	envString("SHELLY_LISTEN_ADDR", &cfg.Comm.ListenAddr)
	envString("SHELLY_LOG_LEVEL", &cfg.Log.Level)
	envString("SHELLY_LOG_FILE", &cfg.Log.File)
	envString("SHELLY_DB_PATH", &cfg.Journal.DBPath)
	envString("SHELLY_DB_DSN", &cfg.Journal.DBDSN)
	if v := os.Getenv("SHELLY_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}

	return cfg
}

// Validate reports the required inference settings that are still unset.
func (c Config) Validate() error {
	var missing []string
	if c.Inference.Endpoint == "" {
		missing = append(missing, "INFERENCE_ENDPOINT")
	}
	if c.Inference.APIKey == "" {
		missing = append(missing, "INFERENCE_API_KEY")
	}
	if c.Inference.Model == "" {
		missing = append(missing, "INFERENCE_MODEL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring unparseable env value", "key", key, "value", v)
		return
	}
	*dst = n
}

func envIntPtr(key string, dst **int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring unparseable env value", "key", key, "value", v)
		return
	}
	*dst = &n
}

func envFloatPtr(key string, dst **float64) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("ignoring unparseable env value", "key", key, "value", v)
		return
	}
	*dst = &f
}
