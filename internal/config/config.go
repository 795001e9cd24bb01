package config

import (
	"errors"
	"finscrape/internal/partition"
	"finscrape/internal/sources/meta"
	"finscrape/internal/sources/reddit"
	"finscrape/internal/sources/x"
	"finscrape/internal/telemetry"
	"finscrape/lib/configutil"
	configlibsql "finscrape/lib/configutil/libsql"
	"finscrape/lib/restyutil"
	otelsetup "finscrape/lib/telemetry"
	"finscrape/lib/textutil"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const FileName = "config.json5"

var DefaultTopics = []string{
	"Bitcoin", "Ethereum", "Litecoin",
	"Tesla", "Apple", "Microsoft", "Amazon", "Google",
	"CD Projekt", "Allegro", "XTB", "PZU", "zabka",
}

type RetryConfig struct {
	// negative disables retries
	MaxRetries  int `json:"max_retries"`
	BaseDelayMs int `json:"base_delay_ms"`
	MaxDelayMs  int `json:"max_delay_ms"`
}

type MetricsConfig struct {
	// ex. ":9464", prometheus metrics are not served when empty
	Addr string `json:"addr"`
}

type Config struct {
	DataDir  string `json:"data_dir"`
	Timezone string `json:"timezone"`
	Topics   []string `json:"topics"`
	// passed to every source for every topic
	MaxResults int `json:"max_results"`
	// replaces the default investment keywords when set
	Keywords []string `json:"keywords"`
	// cron spec the daemon collects on
	Schedule string `json:"schedule"`
	// when set, every http exchange is dumped into this directory
	HttpDumpDir string `json:"http_dump_dir"`

	Retry     RetryConfig         `json:"retry"`
	Reddit    reddit.Config       `json:"reddit"`
	X         x.Config            `json:"x"`
	Meta      meta.Config         `json:"meta"`
	Runlog    configlibsql.Struct `json:"runlog"`
	Log       telemetry.LogConfig `json:"log"`
	Metrics   MetricsConfig       `json:"metrics"`
	Telemetry otelsetup.Config    `json:"telemetry"`
}

func Default() Config {
	return Config{
		DataDir:    partition.DefaultRoot,
		Topics:     DefaultTopics,
		MaxResults: 1000,
		Schedule:   "0 */6 * * *",
		Retry: RetryConfig{
			MaxRetries:  3,
			BaseDelayMs: 500,
			MaxDelayMs:  10_000,
		},
		Runlog: configlibsql.Struct{File: "finscrape.db"},
	}
}

// ApplyEnv overrides credentials with the environment.
func (c *Config) ApplyEnv() {
	configutil.OverrideFromEnv(&c.Reddit.ClientId, "REDDIT_CLIENT_ID")
	configutil.OverrideFromEnv(&c.Reddit.ClientSecret, "REDDIT_CLIENT_SECRET")
	configutil.OverrideFromEnv(&c.Reddit.UserAgent, "REDDIT_USER_AGENT")
	configutil.OverrideFromEnv(&c.X.ClientId, "X_CLIENT_ID")
	configutil.OverrideFromEnv(&c.X.ClientSecret, "X_CLIENT_SECRET")
	configutil.OverrideFromEnv(&c.X.BearerToken, "X_BEARER_TOKEN")
	configutil.OverrideFromEnv(&c.Runlog.AuthToken, "RUNLOG_AUTH_TOKEN")
}

func (c *Config) fillDefaults() {
	def := Default()
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if len(c.Topics) == 0 {
		c.Topics = def.Topics
	}
	if c.MaxResults <= 0 {
		c.MaxResults = def.MaxResults
	}
	if c.Schedule == "" {
		c.Schedule = def.Schedule
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = def.Retry.MaxRetries
	}
	if c.Retry.BaseDelayMs <= 0 {
		c.Retry.BaseDelayMs = def.Retry.BaseDelayMs
	}
	if c.Retry.MaxDelayMs <= 0 {
		c.Retry.MaxDelayMs = def.Retry.MaxDelayMs
	}
	if c.Runlog.File == "" && c.Runlog.Url == "" {
		c.Runlog.File = def.Runlog.File
	}
}

// resolvePaths makes relative paths relative to dir.
func (c *Config) resolvePaths(dir string) {
	resolve := func(path string) string {
		if path == "" || path == ":memory:" || filepath.IsAbs(path) {
			return path
		}
		return filepath.Join(dir, path)
	}
	c.DataDir = resolve(c.DataDir)
	c.Runlog.File = resolve(c.Runlog.File)
	c.Log.File = resolve(c.Log.File)
	c.HttpDumpDir = resolve(c.HttpDumpDir)
}

// ValidateTopics rejects topics that cannot be used as a directory name
// under the data directory.
func ValidateTopics(topics []string) error {
	if len(topics) == 0 {
		return fmt.Errorf("no topics configured")
	}
	var errs []error
	for _, topic := range topics {
		switch {
		case strings.TrimSpace(topic) == "":
			errs = append(errs, fmt.Errorf("blank topic"))
		case strings.ContainsAny(topic, `/\`):
			errs = append(errs, fmt.Errorf("topic %q contains a path separator", topic))
		case topic == "." || topic == "..":
			errs = append(errs, fmt.Errorf("topic %q is not a valid directory name", topic))
		}
	}
	return errors.Join(errs...)
}

func (c Config) Validate() error {
	errs := []error{ValidateTopics(c.Topics)}
	if c.Timezone != "" {
		_, err := time.LoadLocation(c.Timezone)
		if err != nil {
			errs = append(errs, fmt.Errorf("timezone: %w", err))
		}
	}
	_, err := cron.ParseStandard(c.Schedule)
	if err != nil {
		errs = append(errs, fmt.Errorf("schedule: %w", err))
	}
	if c.Reddit.Enabled {
		errs = append(errs, c.Reddit.Validate())
	}
	if c.X.Enabled {
		errs = append(errs, c.X.Validate())
	}
	return errors.Join(errs...)
}

func (c Config) Vocabulary() textutil.Vocabulary {
	if len(c.Keywords) > 0 {
		return textutil.NewVocabulary(c.Keywords...)
	}
	return textutil.InvestmentVocabulary()
}

func (c Config) RetryOptions() restyutil.RetryOptions {
	return restyutil.RetryOptions{
		MaxRetries: max(c.Retry.MaxRetries, 0),
		BaseDelay:  time.Duration(c.Retry.BaseDelayMs) * time.Millisecond,
		MaxDelay:   time.Duration(c.Retry.MaxDelayMs) * time.Millisecond,
	}
}

// Load reads the config at path, or searches for config.json5 upwards from
// the working directory when path is empty. `.env` files next to the
// config are loaded before credentials are taken from the environment.
func Load(path string) (Config, error) {
	var cfg Config
	var dir string
	var err error
	if path == "" {
		cfg, dir, err = configutil.ReadRecursively[Config](FileName)
	} else {
		cfg, err = configutil.ReadConfig[Config](path)
		dir = filepath.Dir(path)
	}
	if errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("%s not found: %w", FileName, err)
	}
	if err != nil {
		return Config{}, err
	}

	configutil.LoadEnvFiles(dir, ".env", ".env.local")
	cfg.ApplyEnv()
	cfg.fillDefaults()
	cfg.resolvePaths(dir)

	err = cfg.Validate()
	if err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
