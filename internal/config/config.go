package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	CRM        CRMConfig        `yaml:"crm" mapstructure:"crm"`
	Zoho       ZohoConfig       `yaml:"zoho" mapstructure:"zoho"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// CRMConfig selects the CRM backend and its shared limits.
type CRMConfig struct {
	Provider      string  `yaml:"provider" mapstructure:"provider"`
	SiteChunkSize int     `yaml:"site_chunk_size" mapstructure:"site_chunk_size"`
	RateLimit     float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Timeout returns the per-request timeout.
func (c CRMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// ZohoConfig holds Zoho CRM OAuth credentials and module names.
type ZohoConfig struct {
	APIBase      string `yaml:"api_base" mapstructure:"api_base"`
	AccountsURL  string `yaml:"accounts_url" mapstructure:"accounts_url"`
	ClientID     string `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string `yaml:"client_secret" mapstructure:"client_secret"`
	RefreshToken string `yaml:"refresh_token" mapstructure:"refresh_token"`
	ResultModule string `yaml:"result_module" mapstructure:"result_module"`
	SiteModule   string `yaml:"site_module" mapstructure:"site_module"`
	PerPage      int    `yaml:"per_page" mapstructure:"per_page"`
}

// SalesforceConfig holds Salesforce JWT auth settings and object names.
type SalesforceConfig struct {
	ClientID     string `yaml:"client_id" mapstructure:"client_id"`
	Username     string `yaml:"username" mapstructure:"username"`
	KeyPath      string `yaml:"key_path" mapstructure:"key_path"`
	LoginURL     string `yaml:"login_url" mapstructure:"login_url"`
	ResultObject string `yaml:"result_object" mapstructure:"result_object"`
	SiteObject   string `yaml:"site_object" mapstructure:"site_object"`
}

// PipelineConfig configures normalization and reconciliation policy.
type PipelineConfig struct {
	CutoffDate       string   `yaml:"cutoff_date" mapstructure:"cutoff_date"`
	FuzzyThreshold   float64  `yaml:"fuzzy_threshold" mapstructure:"fuzzy_threshold"`
	LocationAccounts []string `yaml:"location_accounts" mapstructure:"location_accounts"`
	ProfileFile      string   `yaml:"profile_file" mapstructure:"profile_file"`
}

// ServerConfig configures the review API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SCREENSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("crm.provider", "zoho")
	v.SetDefault("crm.site_chunk_size", 100)
	v.SetDefault("crm.rate_limit", 2.0)
	v.SetDefault("crm.timeout_secs", 60)
	v.SetDefault("zoho.api_base", "https://www.zohoapis.com")
	v.SetDefault("zoho.accounts_url", "https://accounts.zoho.com")
	v.SetDefault("zoho.result_module", "Drug_Tests")
	v.SetDefault("zoho.site_module", "Collection_Sites")
	v.SetDefault("zoho.per_page", 200)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.result_object", "Drug_Test__c")
	v.SetDefault("salesforce.site_object", "Collection_Site__c")
	v.SetDefault("pipeline.cutoff_date", "2025-01-01")
	v.SetDefault("pipeline.fuzzy_threshold", 0.70)
	v.SetDefault("pipeline.location_accounts", []string{"A1310"})
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the settings required by mode are present. Modes:
// "run", "sync" and "serve" need a store and CRM credentials; "dry-run" and
// "refs" need only a store.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "run", "sync", "serve":
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateCRM()...)
	case "dry-run", "refs":
		errs = append(errs, c.validateStore()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if mode == "serve" && c.Server.Port <= 0 {
		errs = append(errs, "server.port must be > 0")
	}
	if c.Pipeline.FuzzyThreshold <= 0 || c.Pipeline.FuzzyThreshold > 1 {
		errs = append(errs, "pipeline.fuzzy_threshold must be in (0, 1]")
	}
	if c.Pipeline.CutoffDate != "" {
		if _, err := time.Parse("2006-01-02", c.Pipeline.CutoffDate); err != nil {
			errs = append(errs, "pipeline.cutoff_date must be YYYY-MM-DD")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var errs []string
	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be postgres or sqlite", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	return errs
}

func (c *Config) validateCRM() []string {
	var errs []string
	switch c.CRM.Provider {
	case "zoho":
		if c.Zoho.ClientID == "" {
			errs = append(errs, "zoho.client_id is required")
		}
		if c.Zoho.ClientSecret == "" {
			errs = append(errs, "zoho.client_secret is required")
		}
		if c.Zoho.RefreshToken == "" {
			errs = append(errs, "zoho.refresh_token is required")
		}
	case "salesforce":
		if c.Salesforce.ClientID == "" {
			errs = append(errs, "salesforce.client_id is required")
		}
		if c.Salesforce.Username == "" {
			errs = append(errs, "salesforce.username is required")
		}
		if c.Salesforce.KeyPath == "" {
			errs = append(errs, "salesforce.key_path is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("crm.provider %q must be zoho or salesforce", c.CRM.Provider))
	}
	if c.CRM.SiteChunkSize < 1 || c.CRM.SiteChunkSize > 100 {
		errs = append(errs, "crm.site_chunk_size must be between 1 and 100")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
