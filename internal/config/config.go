package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is read when CONFIG_PATH is not set.
const DefaultPath = "config.yaml"

type ServerConfig struct {
	Host    string `yaml:"host"`
	Port    string `yaml:"port"`
	Prefork bool   `yaml:"prefork"`
}

type LimitsConfig struct {
	MaxTextBytes int `yaml:"max_text_bytes"`
}

type LoggerConfig struct {
	File       string `yaml:"file"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// RedisConfig is optional. With an empty Host the limiter store and the
// admission gate stay in process.
type RedisConfig struct {
	Host   string `yaml:"host"`
	RateDB int    `yaml:"rate_db"`
	GateDB int    `yaml:"gate_db"`
}

type RateLimiterConfig struct {
	UserLimit int           `yaml:"user_limit"`
	Interval  time.Duration `yaml:"interval"`
}

// BrowserConfig controls how sessions are launched and how many may run at once.
type BrowserConfig struct {
	Driver         string        `yaml:"driver"`
	ChromePath     string        `yaml:"chrome_path"`
	NoSandbox      bool          `yaml:"no_sandbox"`
	Headless       bool          `yaml:"headless"`
	WindowWidth    int           `yaml:"window_width"`
	WindowHeight   int           `yaml:"window_height"`
	UserDataDir    string        `yaml:"user_data_dir"`
	MaxSessions    int           `yaml:"max_sessions"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	GateBackend    string        `yaml:"gate_backend"`
}

// Slider is a range control adjusted by dragging it a fixed pixel offset.
// The offset encodes the preset value: the page has no other way to set it.
type Slider struct {
	Name    string  `yaml:"name"`
	ID      string  `yaml:"id"`
	OffsetX float64 `yaml:"offset_x"`
	OffsetY float64 `yaml:"offset_y"`
}

// TargetConfig describes the upstream handwriting page by element id.
type TargetConfig struct {
	URL             string        `yaml:"url"`
	TextInputID     string        `yaml:"text_input_id"`
	DrawButtonID    string        `yaml:"draw_button_id"`
	SaveButtonID    string        `yaml:"save_button_id"`
	CanvasID        string        `yaml:"canvas_id"`
	StyleSelectID   string        `yaml:"style_select_id"`
	StyleOption     string        `yaml:"style_option"`
	InteractTimeout time.Duration `yaml:"interact_timeout"`
	Sliders         []Slider      `yaml:"sliders"`
}

type RenderConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	StableSamples  int           `yaml:"stable_samples"`
	SettleDelay    time.Duration `yaml:"settle_delay"`
	ViewBoxMargin  float64       `yaml:"viewbox_margin"`
	DefaultViewBox string        `yaml:"default_viewbox"`
}

type PolylineConfig struct {
	Width      float64 `yaml:"width"`
	Height     float64 `yaml:"height"`
	Padding    bool    `yaml:"padding"`
	CurveSteps int     `yaml:"curve_steps"`
}

// Config holds the complete service configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Limits      LimitsConfig      `yaml:"limits"`
	Logger      LoggerConfig      `yaml:"logger"`
	Redis       RedisConfig       `yaml:"redis"`
	RateLimiter RateLimiterConfig `yaml:"rate_limiter"`
	Browser     BrowserConfig     `yaml:"browser"`
	Target      TargetConfig      `yaml:"target"`
	Render      RenderConfig      `yaml:"render"`
	Polylines   PolylineConfig    `yaml:"polylines"`
}

// Default returns the preset configuration. The target section reproduces the
// slider offsets and style choice the service was built against.
func Default() Config {
	return Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: ":5000"},
		Limits: LimitsConfig{MaxTextBytes: 4096},
		Logger: LoggerConfig{Level: "info", MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 7},
		RateLimiter: RateLimiterConfig{
			Interval: time.Minute,
		},
		Browser: BrowserConfig{
			Driver:         "chromedp",
			Headless:       true,
			WindowWidth:    1920,
			WindowHeight:   1080,
			MaxSessions:    2,
			AcquireTimeout: 30 * time.Second,
			GateBackend:    "local",
		},
		Target: TargetConfig{
			URL:             "https://www.calligrapher.ai",
			TextInputID:     "text-input",
			DrawButtonID:    "draw-button",
			SaveButtonID:    "save-button",
			CanvasID:        "canvas",
			StyleSelectID:   "select-style",
			StyleOption:     "9",
			InteractTimeout: 20 * time.Second,
			Sliders: []Slider{
				{Name: "speed", ID: "speed-slider", OffsetX: 40},
				{Name: "bias", ID: "bias-slider", OffsetX: 20},
				{Name: "width", ID: "width-slider", OffsetX: 20},
			},
		},
		Render: RenderConfig{
			Timeout:        90 * time.Second,
			PollInterval:   250 * time.Millisecond,
			StableSamples:  4,
			ViewBoxMargin:  10,
			DefaultViewBox: "0 0 100 100",
		},
		Polylines: PolylineConfig{Width: 100, Height: 100, Padding: true, CurveSteps: 16},
	}
}

// Load reads the file named by CONFIG_PATH, or DefaultPath. When CONFIG_PATH
// is unset and DefaultPath does not exist the defaults are returned.
func Load() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		if _, err := os.Stat(DefaultPath); errors.Is(err, os.ErrNotExist) {
			cfg := Default()
			applyEnv(&cfg)
			return cfg
		}
		path = DefaultPath
	}
	return LoadFrom(path)
}

// LoadFrom reads path on top of Default and panics on unreadable files or
// invalid values.
func LoadFrom(path string) Config {
	data, err := os.ReadFile(path)
	if err != nil {
		panic(fmt.Sprintf("config: read %s: %v", path, err))
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		panic(fmt.Sprintf("config: parse %s: %v", path, err))
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: %s: %v", path, err))
	}
	return cfg
}

func applyEnv(cfg *Config) {
	if cfg.Browser.ChromePath == "" {
		if v := os.Getenv("CHROME_BIN"); v != "" {
			cfg.Browser.ChromePath = v
		}
	}
}

// Validate reports the first invalid value.
func (c Config) Validate() error {
	switch c.Browser.Driver {
	case "chromedp", "playwright":
	default:
		return fmt.Errorf("browser.driver must be chromedp or playwright, got %q", c.Browser.Driver)
	}
	switch c.Browser.GateBackend {
	case "local", "redis":
	default:
		return fmt.Errorf("browser.gate_backend must be local or redis, got %q", c.Browser.GateBackend)
	}
	if c.Browser.GateBackend == "redis" && c.Redis.Host == "" {
		return errors.New("browser.gate_backend redis requires redis.host")
	}
	if c.Browser.MaxSessions < 0 {
		return errors.New("browser.max_sessions must be >= 0")
	}
	if c.Limits.MaxTextBytes <= 0 {
		return errors.New("limits.max_text_bytes must be > 0")
	}
	if c.RateLimiter.UserLimit < 0 {
		return errors.New("rate_limiter.user_limit must be >= 0")
	}
	if c.RateLimiter.UserLimit > 0 && c.RateLimiter.Interval <= 0 {
		return errors.New("rate_limiter.interval must be > 0")
	}
	if c.Target.URL == "" {
		return errors.New("target.url is empty")
	}
	for name, id := range map[string]string{
		"text_input_id":   c.Target.TextInputID,
		"draw_button_id":  c.Target.DrawButtonID,
		"save_button_id":  c.Target.SaveButtonID,
		"canvas_id":       c.Target.CanvasID,
		"style_select_id": c.Target.StyleSelectID,
	} {
		if id == "" {
			return fmt.Errorf("target.%s is empty", name)
		}
	}
	for i, s := range c.Target.Sliders {
		if s.ID == "" {
			return fmt.Errorf("target.sliders[%d].id is empty", i)
		}
	}
	if c.Target.InteractTimeout <= 0 {
		return errors.New("target.interact_timeout must be > 0")
	}
	if c.Render.Timeout <= 0 || c.Render.PollInterval <= 0 {
		return errors.New("render.timeout and render.poll_interval must be > 0")
	}
	if c.Render.StableSamples < 1 {
		return errors.New("render.stable_samples must be >= 1")
	}
	if c.Render.SettleDelay < 0 || c.Render.ViewBoxMargin < 0 {
		return errors.New("render.settle_delay and render.viewbox_margin must be >= 0")
	}
	if c.Polylines.Width <= 0 || c.Polylines.Height <= 0 || c.Polylines.CurveSteps < 1 {
		return errors.New("polylines width, height and curve_steps must be positive")
	}
	return nil
}
