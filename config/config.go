package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Renderers understood by the page source factory.
const (
	RendererHTTP     = "http"
	RendererChromedp = "chromedp"
	RendererRod      = "rod"
)

// Config holds scraper configuration.
type Config struct {
	BaseURL       string        `yaml:"base_url"`
	HomeURL       string        `yaml:"home_url"`
	Discover      bool          `yaml:"discover"`
	MaxCategories int           `yaml:"max_categories"`
	MaxPages      int           `yaml:"max_pages"`
	PageParam     string        `yaml:"page_param"`
	NextSelector  string        `yaml:"next_selector"`
	Parallelism   int           `yaml:"parallelism"`
	Delay         time.Duration `yaml:"delay"`
	RandomDelay   time.Duration `yaml:"random_delay"`
	Timeout       time.Duration `yaml:"timeout"`

	MaxRetries      int           `yaml:"max_retries"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	RetryBackoffMax time.Duration `yaml:"retry_backoff_max"`

	Renderer      string `yaml:"renderer"` // http, chromedp, or rod
	WaitSelector  string `yaml:"wait_selector"`
	ScrollPasses  int    `yaml:"scroll_passes"`
	CacheSize     int    `yaml:"cache_size"`
	DataElementID string `yaml:"data_element_id"`

	OutputFile     string `yaml:"output_file"`
	OutputFormat   string `yaml:"output_format"` // csv, json, or dual
	UserAgent      string `yaml:"user_agent"`
	AcceptLanguage string `yaml:"accept_language"`
	Verbose        bool   `yaml:"verbose"`
	LogFile        string `yaml:"log_file"`
	MetricsAddr    string `yaml:"metrics_addr"`
}

// DefaultConfig returns conservative defaults for the demo target.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:         "https://www.sodimac.com.br/sodimac-br/category/cat10008/pisos",
		HomeURL:         "https://www.sodimac.com.br",
		Discover:        false,
		MaxCategories:   3,
		MaxPages:        20,
		PageParam:       "currentpage",
		Parallelism:     1,
		Delay:           1 * time.Second,
		RandomDelay:     1 * time.Second,
		Timeout:         30 * time.Second,
		MaxRetries:      2,
		RetryBackoff:    200 * time.Millisecond,
		RetryBackoffMax: 2 * time.Second,
		Renderer:        RendererHTTP,
		WaitSelector:    "#__NEXT_DATA__",
		ScrollPasses:    2,
		CacheSize:       64,
		DataElementID:   "__NEXT_DATA__",
		OutputFile:      "output/produtos_sodimac.csv",
		OutputFormat:    "csv",
		UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/116.0.0.0 Safari/537.36",
		AcceptLanguage:  "pt-BR,pt;q=0.9",
	}
}

// LoadFile overlays the YAML document at path onto c. Keys absent from the
// file keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if err := ValidateListingURL(c.BaseURL); err != nil {
		return err
	}
	if c.Discover {
		if err := ValidateListingURL(c.HomeURL); err != nil {
			return fmt.Errorf("home URL: %w", err)
		}
		if c.MaxCategories <= 0 {
			return fmt.Errorf("max categories must be positive")
		}
	}

	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if strings.TrimSpace(c.PageParam) == "" {
		return fmt.Errorf("page param cannot be empty")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	switch c.Renderer {
	case RendererHTTP, RendererChromedp, RendererRod:
	default:
		return fmt.Errorf("renderer must be http, chromedp, or rod")
	}
	if c.ScrollPasses < 0 {
		return fmt.Errorf("scroll passes cannot be negative")
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cache size cannot be negative")
	}
	if c.DataElementID == "" {
		return fmt.Errorf("data element id cannot be empty")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}

// ValidateListingURL checks that raw is an absolute http(s) URL.
func ValidateListingURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	parsedURL, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("base URL must use http or https")
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}
	return nil
}

// EnvString returns the trimmed value of key when it is set and non-empty.
func EnvString(key string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer when it is set.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvDuration parses key as a time.Duration ("1500ms", "2s") when it is set.
func EnvDuration(key string) (time.Duration, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// ApplyEnv overlays SCRAPER_* environment variables onto c.
func (c *Config) ApplyEnv() error {
	texts := []struct {
		key string
		dst *string
	}{
		{"SCRAPER_BASE_URL", &c.BaseURL},
		{"SCRAPER_HOME_URL", &c.HomeURL},
		{"SCRAPER_PAGE_PARAM", &c.PageParam},
		{"SCRAPER_NEXT_SELECTOR", &c.NextSelector},
		{"SCRAPER_RENDERER", &c.Renderer},
		{"SCRAPER_OUTPUT", &c.OutputFile},
		{"SCRAPER_FORMAT", &c.OutputFormat},
		{"SCRAPER_USER_AGENT", &c.UserAgent},
		{"SCRAPER_LOG_FILE", &c.LogFile},
		{"SCRAPER_METRICS_ADDR", &c.MetricsAddr},
	}
	for _, s := range texts {
		if value, ok := EnvString(s.key); ok {
			*s.dst = value
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"SCRAPER_PAGES", &c.MaxPages},
		{"SCRAPER_CATEGORIES", &c.MaxCategories},
		{"SCRAPER_PARALLEL", &c.Parallelism},
		{"SCRAPER_MAX_RETRIES", &c.MaxRetries},
		{"SCRAPER_CACHE_SIZE", &c.CacheSize},
	}
	for _, i := range ints {
		value, ok, err := EnvInt(i.key)
		if err != nil {
			return err
		}
		if ok {
			*i.dst = value
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SCRAPER_DELAY", &c.Delay},
		{"SCRAPER_RANDOM_DELAY", &c.RandomDelay},
		{"SCRAPER_TIMEOUT", &c.Timeout},
	}
	for _, d := range durations {
		value, ok, err := EnvDuration(d.key)
		if err != nil {
			return err
		}
		if ok {
			*d.dst = value
		}
	}

	if value, ok := EnvString("SCRAPER_DISCOVER"); ok {
		discover, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("SCRAPER_DISCOVER: %w", err)
		}
		c.Discover = discover
	}
	return nil
}
