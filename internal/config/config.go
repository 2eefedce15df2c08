package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/wb-go/wbf/zlog"
)

const (
	DefaultSheetID = "1Igj7ohYqH3TnrESbSQwMSRLMx2tfOqDwmoXEzrNarag"
	DefaultTab     = "VRBO"
	DefaultColumn  = "Main Image URL"
	DefaultBaseURL = "https://docs.google.com/spreadsheets/d"
)

// Config holds the resolved configuration for one pipeline run.
type Config struct {
	Sheet     Sheet     `mapstructure:"sheet"`
	Output    Output    `mapstructure:"output"`
	Image     Image     `mapstructure:"image"`
	Cache     Cache     `mapstructure:"cache"`
	HTTP      HTTP      `mapstructure:"http"`
	Watermark Watermark `mapstructure:"watermark"`
	Storage   Storage   `mapstructure:"storage"`
	Kafka     Kafka     `mapstructure:"kafka"`
	Retry     Retry     `mapstructure:"retry"`
	Server    Server    `mapstructure:"server"`
}

// Sheet identifies the published spreadsheet tab to read.
type Sheet struct {
	ID           string `mapstructure:"id"`
	Tab          string `mapstructure:"tab"`
	BaseURL      string `mapstructure:"base_url"`
	SourceColumn string `mapstructure:"source_column"` // header holding image URLs, exact match
}

// Output holds the local output location.
type Output struct {
	Dir string `mapstructure:"dir"`
}

// Image holds the target rendition settings.
type Image struct {
	Width  int    `mapstructure:"width"`
	Height int    `mapstructure:"height"`
	Anchor string `mapstructure:"anchor"` // attention / centre
}

// Cache controls the skip-if-exists behaviour.
type Cache struct {
	Mode      string `mapstructure:"mode"`  // dimensions / exists
	ForceFlag string `mapstructure:"force"` // raw FORCE_REBUILD value
	Force     bool   `mapstructure:"-"`     // rebuild every row, derived from ForceFlag
}

// HTTP holds outbound request settings.
type HTTP struct {
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"` // zero keeps the client default
}

// Watermark is drawn onto every rendition when Text is set.
type Watermark struct {
	Text     string `mapstructure:"text"`
	FontPath string `mapstructure:"font"`
}

// Storage holds the optional S3-compatible mirror. Empty Endpoint disables it.
type Storage struct {
	Endpoint   string `mapstructure:"endpoint"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	BucketName string `mapstructure:"bucket_name"`
	Prefix     string `mapstructure:"prefix"`
	UseSSL     bool   `mapstructure:"use_ssl"`
}

// Kafka holds the optional build notifier. No brokers disables it.
type Kafka struct {
	Topic   string   `mapstructure:"topic"`   // Kafka topic name
	Brokers []string `mapstructure:"brokers"` // List of Kafka broker addresses
}

// Retry defines the retry policy for the mirror and the notifier.
type Retry struct {
	Attempts int           `mapstructure:"attempts"` // Number of retry attempts
	Delay    time.Duration `mapstructure:"delay"`    // Initial delay between retries
	Backoff  float64       `mapstructure:"backoff"`  // Backoff multiplier for delays
}

// Server holds the preview API configuration.
type Server struct {
	HTTPPort string `mapstructure:"http_port"`
}

// TabProfile carries the per-tab defaults.
type TabProfile struct {
	SourceColumn string `mapstructure:"source_column"`
	Width        int    `mapstructure:"width"`
	Height       int    `mapstructure:"height"`
	OutDir       string `mapstructure:"out_dir"`
}

// builtinTabs is keyed by lower-cased tab name.
var builtinTabs = map[string]TabProfile{
	"vrbo": {SourceColumn: "Main Image URL", Width: 575, Height: 325, OutDir: "images/vrbo"},
	"etsy": {SourceColumn: "Product Image URL", Width: 325, Height: 575, OutDir: "images/etsy"},
}

var envBindings = map[string]string{
	"sheet.id":            "SHEET_ID",
	"sheet.tab":           "SHEET_TAB",
	"sheet.base_url":      "SHEET_BASE_URL",
	"sheet.source_column": "SOURCE_COLUMN",
	"output.dir":          "OUT_DIR",
	"image.width":         "WIDTH",
	"image.height":        "HEIGHT",
	"image.anchor":        "CROP_ANCHOR",
	"cache.mode":          "CACHE_MODE",
	"cache.force":         "FORCE_REBUILD",
	"http.user_agent":     "USER_AGENT",
	"http.timeout":        "HTTP_TIMEOUT",
	"watermark.text":      "WATERMARK_TEXT",
	"watermark.font":      "WATERMARK_FONT",
	"storage.endpoint":    "STORAGE_ENDPOINT",
	"storage.access_key":  "STORAGE_ACCESS_KEY",
	"storage.secret_key":  "STORAGE_SECRET_KEY",
	"storage.bucket_name": "STORAGE_BUCKET",
	"storage.prefix":      "STORAGE_PREFIX",
	"storage.use_ssl":     "STORAGE_USE_SSL",
	"kafka.topic":         "KAFKA_TOPIC",
	"kafka.brokers":       "KAFKA_BROKERS",
	"server.http_port":    "HTTP_PORT",
}

// Profile returns the defaults for tab, falling back to the default column,
// landscape dimensions and a directory named after the tab.
func Profile(tab string, overrides map[string]TabProfile) TabProfile {
	key := strings.ToLower(tab)

	p, ok := builtinTabs[key]
	if !ok {
		p = TabProfile{
			SourceColumn: DefaultColumn,
			Width:        575,
			Height:       325,
			OutDir:       "images/" + key,
		}
	}

	if o, ok := overrides[key]; ok {
		if o.SourceColumn != "" {
			p.SourceColumn = o.SourceColumn
		}
		if o.Width > 0 {
			p.Width = o.Width
		}
		if o.Height > 0 {
			p.Height = o.Height
		}
		if o.OutDir != "" {
			p.OutDir = o.OutDir
		}
	}

	return p
}

// Load resolves the configuration from defaults, the tab profile, the
// optional YAML file at path, a .env file and the process environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var overrides map[string]TabProfile
	if err := v.UnmarshalKey("tabs", &overrides); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tabs: %w", err)
	}

	p := Profile(v.GetString("sheet.tab"), overrides)
	v.SetDefault("sheet.source_column", p.SourceColumn)
	v.SetDefault("output.dir", p.OutDir)
	v.SetDefault("image.width", p.Width)
	v.SetDefault("image.height", p.Height)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Cache.Force = parseForce(cfg.Cache.ForceFlag)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// MustLoad is Load that stops the process on failure.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to load config")
	}

	return cfg
}

// parseForce turns the rebuild flag on for "1" or any true boolean spelling.
// Anything else, including unparseable values, leaves it off.
func parseForce(s string) bool {
	s = strings.TrimSpace(s)
	if s == "1" {
		return true
	}

	force, err := strconv.ParseBool(s)
	return err == nil && force
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sheet.id", DefaultSheetID)
	v.SetDefault("sheet.tab", DefaultTab)
	v.SetDefault("sheet.base_url", DefaultBaseURL)
	v.SetDefault("image.anchor", "attention")
	v.SetDefault("cache.mode", "dimensions")
	v.SetDefault("cache.force", "")
	v.SetDefault("http.user_agent", "img-bot")
	v.SetDefault("storage.bucket_name", "sheet-images")
	v.SetDefault("kafka.topic", "sheet-images.built")
	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.delay", 500*time.Millisecond)
	v.SetDefault("retry.backoff", 2.0)
	v.SetDefault("server.http_port", ":8080")
}

// Validate checks that the required fields are present and well formed.
func (c *Config) Validate() error {
	if c.Sheet.ID == "" {
		return fmt.Errorf("SHEET_ID is required")
	}
	if c.Sheet.Tab == "" {
		return fmt.Errorf("SHEET_TAB is required")
	}
	if c.Sheet.SourceColumn == "" {
		return fmt.Errorf("source column is required")
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("OUT_DIR is required")
	}
	if c.Image.Width <= 0 || c.Image.Height <= 0 {
		return fmt.Errorf("invalid target size %dx%d", c.Image.Width, c.Image.Height)
	}

	switch c.Image.Anchor {
	case "attention", "entropy", "centre", "center":
	default:
		return fmt.Errorf("unknown crop anchor %q", c.Image.Anchor)
	}

	switch c.Cache.Mode {
	case "dimensions", "exists":
	default:
		return fmt.Errorf("unknown cache mode %q", c.Cache.Mode)
	}

	return nil
}

// Enabled reports whether the object storage mirror is configured.
func (s Storage) Enabled() bool {
	return s.Endpoint != ""
}

// Enabled reports whether the build notifier is configured.
func (k Kafka) Enabled() bool {
	return len(k.Brokers) > 0
}
