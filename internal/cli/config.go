package cli

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/pthm/remigrate/internal/verify"
	"github.com/pthm/remigrate/pkg/rewriter"
)

const (
	maxWalkDepth = 25

	// DefaultEnvFile is loaded from the working directory when present.
	DefaultEnvFile = ".env"
)

// Config represents the remigrate configuration from remigrate.yaml.
type Config struct {
	// Dir is the migrations directory.
	Dir string `mapstructure:"dir" json:"dir"`

	Database DatabaseConfig `mapstructure:"database" json:"database"`
	Apply    ApplyConfig    `mapstructure:"apply" json:"apply"`
	Rewrite  RewriteConfig  `mapstructure:"rewrite" json:"rewrite"`
	Verify   VerifyConfig   `mapstructure:"verify" json:"verify"`
	Metrics  MetricsConfig  `mapstructure:"metrics" json:"metrics"`
	Log      LogConfig      `mapstructure:"log" json:"log"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	URL            string        `mapstructure:"url" json:"url"`
	Driver         string        `mapstructure:"driver" json:"driver"`
	Host           string        `mapstructure:"host" json:"host"`
	Port           int           `mapstructure:"port" json:"port"`
	Name           string        `mapstructure:"name" json:"name"`
	User           string        `mapstructure:"user" json:"user"`
	Password       string        `mapstructure:"password" json:"password"`
	SSLMode        string        `mapstructure:"sslmode" json:"sslmode"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" json:"connect_timeout"`
}

// ApplyConfig holds apply command settings.
type ApplyConfig struct {
	From      string   `mapstructure:"from" json:"from"`
	To        string   `mapstructure:"to" json:"to"`
	Files     []string `mapstructure:"files" json:"files"`
	DryRun    bool     `mapstructure:"dry_run" json:"dry_run"`
	Verify    bool     `mapstructure:"verify" json:"verify"`
	NoRewrite bool     `mapstructure:"no_rewrite" json:"no_rewrite"`
	FailedDir string   `mapstructure:"failed_dir" json:"failed_dir"`
}

// RewriteConfig holds the rewrite pass options.
type RewriteConfig struct {
	SkipOwnerChanges bool `mapstructure:"skip_owner_changes" json:"skip_owner_changes"`
	SkipGrants       bool `mapstructure:"skip_grants" json:"skip_grants"`
	StripPairedDrops bool `mapstructure:"strip_paired_drops" json:"strip_paired_drops"`
	Notices          bool `mapstructure:"notices" json:"notices"`
}

// VerifyConfig holds verification settings.
type VerifyConfig struct {
	Queries []verify.Query `mapstructure:"queries" json:"queries"`
}

// MetricsConfig holds metrics export settings. Both outputs are optional.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url" json:"pushgateway_url"`
	Job            string `mapstructure:"job" json:"job"`
	Textfile       string `mapstructure:"textfile" json:"textfile"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// LoadConfig discovers and loads configuration with proper precedence:
// flags > env > config file > defaults.
//
// envFile is loaded into the process environment before binding; variables
// already set win over the file. An empty envFile loads .env from the
// working directory if it exists.
//
// Returns the loaded config, the path to the config file (empty if none found),
// and any error encountered.
func LoadConfig(explicitConfigPath, envFile string) (*Config, string, error) {
	if err := loadEnvFile(envFile); err != nil {
		return nil, "", err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("REMIGRATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath, err := findConfigFile(explicitConfigPath)
	if err != nil {
		return nil, "", err
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, configPath, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, configPath, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, configPath, nil
}

func loadEnvFile(path string) error {
	if path == "" {
		if _, err := os.Stat(DefaultEnvFile); err != nil {
			return nil
		}
		path = DefaultEnvFile
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dir", "migrations")

	// AutomaticEnv only resolves keys viper knows about, so every key
	// gets a default even when it is empty.
	v.SetDefault("database.url", "")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.sslmode", "prefer")
	v.SetDefault("database.connect_timeout", 10*time.Second)

	v.SetDefault("apply.from", "")
	v.SetDefault("apply.to", "")
	v.SetDefault("apply.files", []string{})
	v.SetDefault("apply.dry_run", false)
	v.SetDefault("apply.verify", false)
	v.SetDefault("apply.no_rewrite", false)
	v.SetDefault("apply.failed_dir", ".")

	defaults := rewriter.DefaultOptions()
	v.SetDefault("rewrite.skip_owner_changes", defaults.SkipOwnerChanges)
	v.SetDefault("rewrite.skip_grants", defaults.SkipGrants)
	v.SetDefault("rewrite.strip_paired_drops", defaults.StripPairedDrops)
	v.SetDefault("rewrite.notices", defaults.Notices)

	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "remigrate")
	v.SetDefault("metrics.textfile", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// findConfigFile finds the config file to use.
// If explicitPath is provided, it validates the file exists.
// Otherwise, it walks up from cwd looking for remigrate.yaml or remigrate.yml,
// stopping at a .git directory or after maxWalkDepth levels.
func findConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting cwd: %w", err)
	}

	dir := cwd
	for i := 0; i < maxWalkDepth; i++ {
		for _, name := range []string{"remigrate.yaml", "remigrate.yml"} {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}

		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// DSN returns the database connection string.
// If database.url is set, it's validated and returned directly.
// Otherwise, builds a DSN from discrete fields.
func (c *Config) DSN() (string, error) {
	db := c.Database

	if db.URL != "" {
		if err := validateURL(db.URL); err != nil {
			return "", err
		}
		return db.URL, nil
	}

	if db.Host == "" {
		return "", fmt.Errorf("database.host is required when database.url is not set")
	}
	if db.Name == "" {
		return "", fmt.Errorf("database.name is required when database.url is not set")
	}
	if db.User == "" {
		return "", fmt.Errorf("database.user is required when database.url is not set")
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   "/" + db.Name,
	}

	if db.Password != "" {
		u.User = url.UserPassword(db.User, db.Password)
	} else {
		u.User = url.User(db.User)
	}

	q := u.Query()
	if db.SSLMode != "" {
		q.Set("sslmode", db.SSLMode)
	}
	if secs := int(db.ConnectTimeout / time.Second); secs > 0 {
		q.Set("connect_timeout", strconv.Itoa(secs))
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func validateURL(dsn string) error {
	u, err := url.Parse(strings.TrimSpace(dsn))
	if err != nil {
		return fmt.Errorf("invalid database.url: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("database.url must use scheme postgres:// or postgresql:// (got %q)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("database.url is missing a host")
	}
	return nil
}

// DriverName returns the database/sql driver to open the DSN with.
func (c *Config) DriverName() (string, error) {
	switch strings.ToLower(c.Database.Driver) {
	case "", "postgres", "pq":
		return "postgres", nil
	case "pgx":
		return "pgx", nil
	default:
		return "", fmt.Errorf("unsupported database.driver %q (want postgres or pgx)", c.Database.Driver)
	}
}

// RewriteOptions returns the rewriter options the config selects.
func (c *Config) RewriteOptions() rewriter.Options {
	return rewriter.Options{
		SkipOwnerChanges: c.Rewrite.SkipOwnerChanges,
		SkipGrants:       c.Rewrite.SkipGrants,
		StripPairedDrops: c.Rewrite.StripPairedDrops,
		Notices:          c.Rewrite.Notices,
	}
}

// Redacted returns a copy of the config with credentials masked.
func (c *Config) Redacted() Config {
	out := *c
	if out.Database.Password != "" {
		out.Database.Password = "********"
	}
	if out.Database.URL != "" {
		if u, err := url.Parse(out.Database.URL); err == nil && u.User != nil {
			if _, ok := u.User.Password(); ok {
				u.User = url.UserPassword(u.User.Username(), "xxxxx")
				out.Database.URL = u.String()
			}
		}
	}
	return out
}
