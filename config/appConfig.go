package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"gomarketplace_sync/config/values"
)

type PlatformConfig struct {
	BaseURL           string        `yaml:"base_url"`
	ApiVersion        string        `yaml:"api_version"`
	AccessToken       string        `yaml:"access_token"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Timeout           time.Duration `yaml:"timeout"`
}

type SyncConfig struct {
	// MaxDestructive bounds the changed, deleted and orphaned buckets; 0 disables the guard.
	MaxDestructive int      `yaml:"max_destructive"`
	ForceUpdate    bool     `yaml:"force_update"`
	SkipImages     bool     `yaml:"skip_images"`
	DevMode        bool     `yaml:"dev_mode"`
	DevReadCap     int      `yaml:"dev_read_cap"`
	ExcludedBrands []string `yaml:"excluded_brands"`
}

type FeedConfig struct {
	Location  string            `yaml:"location"`
	Charset   string            `yaml:"charset"`
	Delimiter string            `yaml:"delimiter"`
	Columns   map[string]string `yaml:"columns"`
	Timeout   time.Duration     `yaml:"timeout"`
}

type NotifyConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

type APIConfig struct {
	Listen    string `yaml:"listen"`
	JWTSecret string `yaml:"jwt_secret"`
}

type AppConfig struct {
	Platform    PlatformConfig          `yaml:"platform"`
	Postgres    PostgresConfig          `yaml:"postgres"`
	Sync        SyncConfig              `yaml:"sync"`
	Feed        FeedConfig              `yaml:"feed"`
	Notify      NotifyConfig            `yaml:"notify"`
	API         APIConfig               `yaml:"api"`
	Storefront  values.StorefrontValues `yaml:"storefront"`
	Collections []values.CollectionRule `yaml:"collections"`
}

func LoadConfig(filename string) (*AppConfig, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	config := &AppConfig{}
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filename, err)
	}
	config.applyEnv()
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnv lets secrets and connection settings come from the environment.
func (c *AppConfig) applyEnv() {
	c.Platform.AccessToken = getEnv("PLATFORM_ACCESS_TOKEN", c.Platform.AccessToken)
	c.API.JWTSecret = getEnv("JWT_SECRET", c.API.JWTSecret)
	c.Notify.Password = getEnv("SMTP_PASSWORD", c.Notify.Password)
	c.Postgres.FromEnv()
	if v := os.Getenv("SYNC_MAX_DESTRUCTIVE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Sync.MaxDestructive = n
		}
	}
}

func (c *AppConfig) applyDefaults() {
	if c.Platform.ApiVersion == "" {
		c.Platform.ApiVersion = "2024-01"
	}
	if c.Platform.RequestsPerSecond <= 0 {
		c.Platform.RequestsPerSecond = 2
	}
	if c.Platform.Burst <= 0 {
		c.Platform.Burst = 1
	}
	if c.Platform.Timeout <= 0 {
		c.Platform.Timeout = 30 * time.Second
	}
	if c.Feed.Timeout <= 0 {
		c.Feed.Timeout = time.Minute
	}
	if c.API.Listen == "" {
		c.API.Listen = ":8080"
	}
	c.Postgres.applyDefaults()
}

func (c *AppConfig) Validate() error {
	var errs []error
	if c.Platform.BaseURL == "" {
		errs = append(errs, errors.New("platform.base_url is required"))
	}
	if c.Feed.Location == "" {
		errs = append(errs, errors.New("feed.location is required"))
	}
	if len([]rune(c.Feed.Delimiter)) > 1 {
		errs = append(errs, fmt.Errorf("feed.delimiter must be one character, got %q", c.Feed.Delimiter))
	}
	if c.Sync.MaxDestructive < 0 {
		errs = append(errs, errors.New("sync.max_destructive must not be negative"))
	}
	if c.Sync.DevReadCap < 0 {
		errs = append(errs, errors.New("sync.dev_read_cap must not be negative"))
	}
	for i, rule := range c.Collections {
		if rule.Name == "" || rule.Rule == "" {
			errs = append(errs, fmt.Errorf("collections[%d] needs a name and a rule", i))
		}
	}
	return errors.Join(errs...)
}

// ReadCap is the feed cap in effect; it only applies in development mode.
func (c *AppConfig) ReadCap() int {
	if !c.Sync.DevMode {
		return 0
	}
	return c.Sync.DevReadCap
}

// FeedDelimiter returns the configured delimiter, ';' by default.
func (c *AppConfig) FeedDelimiter() rune {
	if r := []rune(c.Feed.Delimiter); len(r) == 1 {
		return r[0]
	}
	return ';'
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
