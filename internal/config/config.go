// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/chapterharvest/internal/harvest"
)

// EnvPrefix namespaces environment overrides, e.g. HARVEST_HARVEST_WORKERS=4.
const EnvPrefix = "HARVEST"

// DefaultSettingsFile is where settings are saved when no config file is in use.
const DefaultSettingsFile = "chapterharvest.yaml"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Harvest   HarvestConfig   `mapstructure:"harvest"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Timing    TimingConfig    `mapstructure:"timing"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Listing   ListingConfig   `mapstructure:"listing"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// HarvestConfig holds the per-run settings. BookLink and LocalDirectory are
// the persisted settings.
type HarvestConfig struct {
	BookLink       string `mapstructure:"book_link"`
	LocalDirectory string `mapstructure:"local_directory"`
	StartPage      int    `mapstructure:"start_page"`
	Workers        int    `mapstructure:"workers"`
	MaxWorkers     int    `mapstructure:"max_workers"`
	Partition      string `mapstructure:"partition"`
	IncludeTitle   bool   `mapstructure:"include_title"`
	SaveSettings   bool   `mapstructure:"save_settings"`
	MaxNameLength  int    `mapstructure:"max_name_length"`
}

// BrowserConfig selects and tunes the rendering session driver.
type BrowserConfig struct {
	// Driver is "chromedp" (JS rendering) or "colly" (static HTTP).
	Driver          string        `mapstructure:"driver"`
	Headless        bool          `mapstructure:"headless"`
	ExecPath        string        `mapstructure:"exec_path"`
	UserAgents      []string      `mapstructure:"user_agents"`
	PageLoadTimeout time.Duration `mapstructure:"page_load_timeout"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	WindowWidth     int           `mapstructure:"window_width"`
	WindowHeight    int           `mapstructure:"window_height"`
}

// TimingConfig holds delays and timeouts.
type TimingConfig struct {
	DiscoveryDelayMin time.Duration `mapstructure:"discovery_delay_min"`
	DiscoveryDelayMax time.Duration `mapstructure:"discovery_delay_max"`
	ItemDelayMin      time.Duration `mapstructure:"item_delay_min"`
	ItemDelayMax      time.Duration `mapstructure:"item_delay_max"`
	RetryDelayMin     time.Duration `mapstructure:"retry_delay_min"`
	RetryDelayMax     time.Duration `mapstructure:"retry_delay_max"`
	ContentTimeout    time.Duration `mapstructure:"content_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	WritePoll         time.Duration `mapstructure:"write_poll"`
}

// RateLimitConfig caps navigations per host. A zero RPS disables the cap.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// ListingConfig describes the listing layout.
type ListingConfig struct {
	PagePath     string `mapstructure:"page_path"`
	ItemSelector string `mapstructure:"item_selector"`
	LinkSelector string `mapstructure:"link_selector"`
	KeySelector  string `mapstructure:"key_selector"`
	KeyPattern   string `mapstructure:"key_pattern"`
	MaxPages     int    `mapstructure:"max_pages"`
}

// ExtractConfig describes the item page layout.
type ExtractConfig struct {
	ContentSelector   string   `mapstructure:"content_selector"`
	BookTitleSelector string   `mapstructure:"book_title_selector"`
	ItemTitleSelector string   `mapstructure:"item_title_selector"`
	NoiseSelectors    []string `mapstructure:"noise_selectors"`
}

// DetectorConfig lists block-page markers. Unset lists use the built-ins.
type DetectorConfig struct {
	TitleMarkers []string `mapstructure:"title_markers"`
	BodyMarkers  []string `mapstructure:"body_markers"`
}

// LedgerConfig locates the failure journal. An empty path disables it.
type LedgerConfig struct {
	JournalPath string `mapstructure:"journal_path"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	TailSize       int           `mapstructure:"tail_size"`
}

// ServerConfig controls the control-plane HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment. An empty path skips the file.
func Load(path string) (Config, error) {
	v, err := newViper(path)
	if err != nil {
		return Config{}, err
	}
	return decode(v)
}

// LoadViper decodes an already-populated Viper instance, such as one with
// bound command-line flags.
func LoadViper(v *viper.Viper) (Config, error) {
	return decode(v)
}

// NewViper returns a Viper instance with defaults, environment binding, and
// the optional config file applied.
func NewViper(path string) (*viper.Viper, error) {
	return newViper(path)
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("harvest.start_page", 1)
	v.SetDefault("harvest.workers", 2)
	v.SetDefault("harvest.max_workers", 16)
	v.SetDefault("harvest.partition", string(harvest.PartitionParity))
	v.SetDefault("harvest.include_title", false)
	v.SetDefault("harvest.save_settings", true)
	v.SetDefault("harvest.max_name_length", 120)
	v.SetDefault("browser.driver", "chromedp")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.page_load_timeout", "60s")
	v.SetDefault("browser.query_timeout", "15s")
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("timing.discovery_delay_min", "2s")
	v.SetDefault("timing.discovery_delay_max", "4s")
	v.SetDefault("timing.item_delay_min", "1s")
	v.SetDefault("timing.item_delay_max", "3s")
	v.SetDefault("timing.retry_delay_min", "2s")
	v.SetDefault("timing.retry_delay_max", "5s")
	v.SetDefault("timing.content_timeout", "5s")
	v.SetDefault("timing.write_timeout", "15s")
	v.SetDefault("timing.write_poll", "500ms")
	v.SetDefault("rate_limit.rps", 1.0)
	v.SetDefault("rate_limit.burst", 2)
	v.SetDefault("listing.page_path", "/chapters?page=%d")
	v.SetDefault("listing.item_selector", "ul.chapter-list li")
	v.SetDefault("listing.link_selector", "a")
	v.SetDefault("listing.key_selector", "span.chapter-no")
	v.SetDefault("listing.key_pattern", `/chapter-(\d+(\.\d+)?)`)
	v.SetDefault("extract.content_selector", "#content")
	v.SetDefault("extract.book_title_selector", "a.booktitle")
	v.SetDefault("extract.item_title_selector", "span.chapter-title")
	v.SetDefault("ledger.journal_path", "FailedChapters.log")
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait", "250ms")
	v.SetDefault("progress.tail_size", 500)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Harvest.MaxWorkers <= 0 {
		return fmt.Errorf("harvest.max_workers must be > 0")
	}
	if c.Harvest.Workers <= 0 || c.Harvest.Workers > c.Harvest.MaxWorkers {
		return fmt.Errorf("harvest.workers must be between 1 and %d", c.Harvest.MaxWorkers)
	}
	if c.Harvest.StartPage < 1 {
		return fmt.Errorf("harvest.start_page must be >= 1")
	}
	if _, err := harvest.ParsePartitionStrategy(c.Harvest.Partition); err != nil {
		return fmt.Errorf("harvest.partition: %w", err)
	}
	switch c.Browser.Driver {
	case "chromedp", "colly":
	default:
		return fmt.Errorf("browser.driver must be chromedp or colly, got %q", c.Browser.Driver)
	}
	if c.Browser.PageLoadTimeout <= 0 {
		return fmt.Errorf("browser.page_load_timeout must be > 0")
	}
	if c.Timing.ItemDelayMax < c.Timing.ItemDelayMin {
		return fmt.Errorf("timing.item_delay_max must be >= timing.item_delay_min")
	}
	if c.Timing.DiscoveryDelayMax < c.Timing.DiscoveryDelayMin {
		return fmt.Errorf("timing.discovery_delay_max must be >= timing.discovery_delay_min")
	}
	if c.Timing.RetryDelayMax < c.Timing.RetryDelayMin {
		return fmt.Errorf("timing.retry_delay_max must be >= timing.retry_delay_min")
	}
	if c.Timing.ContentTimeout <= 0 || c.Timing.WriteTimeout <= 0 {
		return fmt.Errorf("timing.content_timeout and timing.write_timeout must be > 0")
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("rate_limit.rps must be >= 0")
	}
	if !strings.Contains(c.Listing.PagePath, "%d") {
		return fmt.Errorf("listing.page_path must contain %%d")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// SaveSettings persists the book link and output directory to path, keeping
// any other keys already in the file. An empty path uses DefaultSettingsFile.
func SaveSettings(path, bookLink, dir string) error {
	if path == "" {
		path = DefaultSettingsFile
	}
	v := viper.New()
	v.SetConfigFile(path)
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read settings %s: %w", path, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat settings %s: %w", path, err)
	}
	v.Set("harvest.book_link", bookLink)
	v.Set("harvest.local_directory", dir)
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write settings %s: %w", path, err)
	}
	return nil
}
