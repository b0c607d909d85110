package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research assistant.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Ollama    OllamaConfig    `mapstructure:"ollama"`
	Search    SearchConfig    `mapstructure:"search"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug   bool   `mapstructure:"debug"`
	DataDir string `mapstructure:"data_dir"`
}

// Normalize expands the data directory, defaulting to ~/.ollahub.
func (g GeneralConfig) Normalize() GeneralConfig {
	dir := strings.TrimSpace(g.DataDir)
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dir = filepath.Join(home, ".ollahub")
	}
	if strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			dir = filepath.Join(home, dir[2:])
		}
	}
	g.DataDir = dir
	return g
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// OllamaConfig configures the local model runtime endpoint.
type OllamaConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	DefaultModel   string        `mapstructure:"default_model"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	TitleTimeout   time.Duration `mapstructure:"title_timeout"`
}

func (o OllamaConfig) Validate() error {
	if !strings.HasPrefix(o.BaseURL, "http://") && !strings.HasPrefix(o.BaseURL, "https://") {
		return fmt.Errorf("ollama.base_url must be an http(s) URL, got %q", o.BaseURL)
	}
	if o.Timeout <= 0 {
		return fmt.Errorf("ollama.timeout must be positive")
	}
	return nil
}

// SearchConfig tunes the multi-engine web search.
type SearchConfig struct {
	Engines           []string      `mapstructure:"engines"`
	MinResults        int           `mapstructure:"min_results"`
	TotalSourcesLimit int           `mapstructure:"total_sources_limit"`
	HTTPTimeout       time.Duration `mapstructure:"http_timeout"`
}

// ScraperConfig tunes the headless browser pool.
type ScraperConfig struct {
	MaxConcurrentTabs int           `mapstructure:"max_concurrent_tabs"`
	PageTimeout       time.Duration `mapstructure:"page_timeout"`
	TabTimeout        time.Duration `mapstructure:"tab_timeout"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	MinContentChars   int           `mapstructure:"min_content_chars"`
}

// EmbeddingConfig tunes semantic ranking and context pruning.
type EmbeddingConfig struct {
	Model     string  `mapstructure:"model"`
	MaxTokens int     `mapstructure:"max_tokens"`
	MinScore  float64 `mapstructure:"min_score"`
}

// SchedulerConfig configures the background task runner.
type SchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

func (s SchedulerConfig) Validate() error {
	if s.Enabled && s.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive when the scheduler is enabled")
	}
	return nil
}

// ToolsConfig configures external tool-server processes.
type ToolsConfig struct {
	ConfigFile  string        `mapstructure:"config_file"`
	ListTimeout time.Duration `mapstructure:"list_timeout"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

// TelemetryConfig contains monitoring settings.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)
	v.SetDefault("general.data_dir", "")
	v.SetDefault("server.address", "127.0.0.1:8090")
	v.SetDefault("ollama.base_url", "http://localhost:11434")
	v.SetDefault("ollama.timeout", 5*time.Minute)
	v.SetDefault("ollama.default_model", "llama3.2")
	v.SetDefault("ollama.embedding_model", "all-minilm")
	v.SetDefault("ollama.title_timeout", 10*time.Second)
	v.SetDefault("search.engines", []string{"duckduckgo", "bing", "google", "yahoo", "startpage"})
	v.SetDefault("search.min_results", 5)
	v.SetDefault("search.total_sources_limit", 10)
	v.SetDefault("search.http_timeout", 10*time.Second)
	v.SetDefault("scraper.max_concurrent_tabs", 5)
	v.SetDefault("scraper.page_timeout", 10*time.Second)
	v.SetDefault("scraper.tab_timeout", 8*time.Second)
	v.SetDefault("scraper.settle_delay", 1500*time.Millisecond)
	v.SetDefault("scraper.min_content_chars", 200)
	v.SetDefault("embedding.model", "all-minilm")
	v.SetDefault("embedding.max_tokens", 2048)
	v.SetDefault("embedding.min_score", 0.1)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", time.Second)
	v.SetDefault("tools.config_file", "")
	v.SetDefault("tools.list_timeout", 10*time.Second)
	v.SetDefault("tools.call_timeout", 30*time.Second)
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.metrics_path", "/metrics")
}

// LoadConfig loads configuration from file and OLLAHUB_* environment
// variables. A missing config file is fine; defaults apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".ollahub"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("OLLAHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.General = cfg.General.Normalize()

	if err := cfg.Ollama.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Scheduler.Validate(); err != nil {
		return nil, err
	}
	if cfg.Tools.ConfigFile == "" {
		cfg.Tools.ConfigFile = filepath.Join(cfg.General.DataDir, "mcp_config.json")
	}
	return &cfg, nil
}
