package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/evanofslack/dns-prefix-sync/internal/prefix"
)

const (
	defaultInterval       = 5 * time.Minute
	defaultTarget         = 5
	defaultTTL            = 120
	defaultListenAddr     = ":8080"
	defaultBaseURL        = "https://api.cloudflare.com/client/v4"
	defaultRequestTimeout = 30 * time.Second
	defaultMaxRetries     = 3
	defaultBackoffBase    = time.Second
	defaultBackoffCap     = 8 * time.Second
	defaultLogLevel       = "info"
	defaultLogEnv         = "prod"
)

// DefaultPrefixes are the address blocks managed when none are configured.
var DefaultPrefixes = []string{
	"108.162.198",
	"162.159.44",
	"172.64.229",
	"162.159.45",
	"162.159.38",
	"162.159.39",
	"172.64.52",
}

type Config struct {
	Interval    time.Duration `yaml:"interval"`
	RunOnStart  bool          `yaml:"runOnStart"`
	Target      *int          `yaml:"target"`
	Prefixes    []string      `yaml:"prefixes"`
	DryRun      bool          `yaml:"dryRun"`
	Concurrency int           `yaml:"concurrency"`
	Log         Log           `yaml:"log"`
	Server      Server        `yaml:"server"`
	Cloudflare  Cloudflare    `yaml:"cloudflare"`
	Retry       Retry         `yaml:"retry"`
}

type Log struct {
	Level string `yaml:"level"`
	Env   string `yaml:"env"`
}

type Server struct {
	Address string `yaml:"address"`
	Secret  string `yaml:"secret"`
}

type Cloudflare struct {
	BaseURL    string        `yaml:"baseUrl"`
	ZoneID     string        `yaml:"zoneId"`
	ZoneName   string        `yaml:"zoneName"`
	RecordName string        `yaml:"recordName"`
	Email      string        `yaml:"email"`
	APIKey     string        `yaml:"apiKey"`
	TTL        int           `yaml:"ttl"`
	Timeout    time.Duration `yaml:"timeout"`
}

type Retry struct {
	MaxRetries *int          `yaml:"maxRetries"`
	Base       time.Duration `yaml:"base"`
	Cap        time.Duration `yaml:"cap"`
}

// TargetCount returns the desired number of records per prefix.
func (c *Config) TargetCount() int {
	if c.Target == nil {
		return defaultTarget
	}
	return *c.Target
}

// RetryCeiling returns the number of retries allowed after the first attempt.
func (r Retry) RetryCeiling() int {
	if r.MaxRetries == nil {
		return defaultMaxRetries
	}
	return *r.MaxRetries
}

// Load reads the YAML file at path, an optional .env file next to the
// working directory, and finally environment overrides. A missing config
// file is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Default().Warn("fail load .env file", "error", err)
	}

	var cfg Config
	f, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Default().Warn("fail find config file, proceeding", "path", path)
	case err != nil:
		return nil, fmt.Errorf("open config: %w", err)
	default:
		decoder := yaml.NewDecoder(f)
		decodeErr := decoder.Decode(&cfg)
		if err := f.Close(); err != nil {
			slog.Default().Warn("fail close config file", "path", path, "error", err)
		}
		// an empty file decodes to io.EOF
		if decodeErr != nil && !errors.Is(decodeErr, io.EOF) {
			return nil, fmt.Errorf("parse config: %w", decodeErr)
		}
	}

	applyEnv(&cfg, os.Getenv)
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Interval == 0 {
		cfg.Interval = defaultInterval
	}
	if len(cfg.Prefixes) == 0 {
		cfg.Prefixes = append([]string(nil), DefaultPrefixes...)
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaultLogLevel
	}
	if cfg.Log.Env == "" {
		cfg.Log.Env = defaultLogEnv
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = defaultListenAddr
	}
	if cfg.Cloudflare.BaseURL == "" {
		cfg.Cloudflare.BaseURL = defaultBaseURL
	}
	if cfg.Cloudflare.TTL == 0 {
		cfg.Cloudflare.TTL = defaultTTL
	}
	if cfg.Cloudflare.Timeout == 0 {
		cfg.Cloudflare.Timeout = defaultRequestTimeout
	}
	if cfg.Retry.Base == 0 {
		cfg.Retry.Base = defaultBackoffBase
	}
	if cfg.Retry.Cap == 0 {
		cfg.Retry.Cap = defaultBackoffCap
	}
}

func applyEnv(cfg *Config, getenv func(string) string) {
	log := slog.Default()

	if email := getenv("CF_EMAIL"); email != "" {
		cfg.Cloudflare.Email = email
	}
	if key := getenv("CF_API_KEY"); key != "" {
		cfg.Cloudflare.APIKey = key
	}
	if zone := getenv("CF_ZONE_ID"); zone != "" {
		cfg.Cloudflare.ZoneID = zone
	}
	if zoneName := getenv("CF_ZONE_NAME"); zoneName != "" {
		cfg.Cloudflare.ZoneName = zoneName
	}
	if name := getenv("CF_RECORD_NAME"); name != "" {
		cfg.Cloudflare.RecordName = name
	}
	if secret := getenv("ACCESS_SECRET"); secret != "" {
		cfg.Server.Secret = secret
	}
	if baseURL := getenv("PREFIX_SYNC_API_URL"); baseURL != "" {
		cfg.Cloudflare.BaseURL = baseURL
	}
	if interval := getenv("PREFIX_SYNC_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.Interval = d
		} else {
			log.Warn("fail parse interval to duration from string", "interval", interval, "error", err)
		}
	}
	if target := getenv("PREFIX_SYNC_TARGET"); target != "" {
		if n, err := strconv.Atoi(target); err == nil {
			cfg.Target = &n
		} else {
			log.Warn("fail parse target to int from string", "target", target, "error", err)
		}
	}
	if prefixes := getenv("PREFIX_SYNC_PREFIXES"); prefixes != "" {
		var list []string
		for _, p := range strings.Split(prefixes, ",") {
			if p = strings.TrimSpace(p); p != "" {
				list = append(list, p)
			}
		}
		cfg.Prefixes = list
	}
	if ttl := getenv("PREFIX_SYNC_TTL"); ttl != "" {
		if n, err := strconv.Atoi(ttl); err == nil {
			cfg.Cloudflare.TTL = n
		} else {
			log.Warn("fail parse ttl to int from string", "ttl", ttl, "error", err)
		}
	}
	if concurrency := getenv("PREFIX_SYNC_CONCURRENCY"); concurrency != "" {
		if n, err := strconv.Atoi(concurrency); err == nil {
			cfg.Concurrency = n
		} else {
			log.Warn("fail parse concurrency to int from string", "concurrency", concurrency, "error", err)
		}
	}
	if retries := getenv("PREFIX_SYNC_MAX_RETRIES"); retries != "" {
		if n, err := strconv.Atoi(retries); err == nil {
			cfg.Retry.MaxRetries = &n
		} else {
			log.Warn("fail parse max retries to int from string", "retries", retries, "error", err)
		}
	}
	if dryRun := getenv("PREFIX_SYNC_DRYRUN"); dryRun != "" {
		if b, err := strconv.ParseBool(dryRun); err == nil {
			cfg.DryRun = b
		} else {
			log.Warn("fail parse dryrun to bool from string", "dryrun", dryRun)
		}
	}
	if addr := getenv("PREFIX_SYNC_LISTEN_ADDRESS"); addr != "" {
		cfg.Server.Address = addr
	}
	if level := getenv("PREFIX_SYNC_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if env := getenv("PREFIX_SYNC_LOG_ENV"); env != "" {
		cfg.Log.Env = env
	}
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Cloudflare.Email == "" {
		errs = append(errs, errors.New("cloudflare email required"))
	}
	if c.Cloudflare.APIKey == "" {
		errs = append(errs, errors.New("cloudflare api key required"))
	}
	if c.Cloudflare.ZoneID == "" && c.Cloudflare.ZoneName == "" {
		errs = append(errs, errors.New("cloudflare zone id or zone name required"))
	}
	if c.Cloudflare.RecordName == "" {
		errs = append(errs, errors.New("cloudflare record name required"))
	}
	if c.Cloudflare.TTL < 1 {
		errs = append(errs, fmt.Errorf("ttl must be positive, got %d", c.Cloudflare.TTL))
	}
	if c.TargetCount() < 0 {
		errs = append(errs, fmt.Errorf("target must not be negative, got %d", c.TargetCount()))
	}
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %s", c.Interval))
	}
	if c.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("concurrency must not be negative, got %d", c.Concurrency))
	}
	if c.Retry.RetryCeiling() < 0 {
		errs = append(errs, fmt.Errorf("max retries must not be negative, got %d", c.Retry.RetryCeiling()))
	}
	if c.Retry.Cap < c.Retry.Base {
		errs = append(errs, fmt.Errorf("retry cap %s is below retry base %s", c.Retry.Cap, c.Retry.Base))
	}
	if _, err := prefix.ParseList(c.Prefixes); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
