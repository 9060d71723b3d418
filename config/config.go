package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// AuthConfig holds Azure DevOps API credentials. PAT auth needs only the
// token; OAuth needs the full Azure AD app registration.
type AuthConfig struct {
	// Type selects the auth mechanism: "pat" or "oauth"
	Type string `mapstructure:"type" validate:"required,oneof=pat oauth"`

	// PAT is the personal access token (ADVSEC_AUTH_PAT)
	PAT string `mapstructure:"pat"`

	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	TenantID     string `mapstructure:"tenant_id"`
}

// Config holds all configuration for the alert agent.
type Config struct {
	// Organization is the Azure DevOps organization name
	Organization string `mapstructure:"organization" validate:"required"`

	// Project is the Azure DevOps project name
	Project string `mapstructure:"project" validate:"required"`

	// Repositories limits collection to specific repositories.
	// Empty means every repository in the project.
	Repositories []string `mapstructure:"repositories"`

	Auth AuthConfig `mapstructure:"auth"`

	Database struct {
		// Path is the SQLite database file (ADVSEC_DATABASE_PATH)
		Path string `mapstructure:"path" validate:"required"`
	} `mapstructure:"database"`

	Fetch struct {
		// RequestsPerSecond caps outbound API request rate
		RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gt=0"`
		Burst             int     `mapstructure:"burst" validate:"gt=0"`
		// TimeoutSeconds is the per-request HTTP timeout
		TimeoutSeconds int `mapstructure:"timeout_seconds" validate:"gt=0"`
	} `mapstructure:"fetch"`

	Analysis struct {
		// LookbackDays is the default reporting window
		LookbackDays int `mapstructure:"lookback_days" validate:"gt=0"`
		// ReportsDir is where analysis reports are written
		ReportsDir string `mapstructure:"reports_dir"`
	} `mapstructure:"analysis"`

	API struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port" validate:"gt=0,lte=65535"`
	} `mapstructure:"api"`
}

func setDefaults() {
	viper.SetDefault("auth.type", "pat")
	viper.SetDefault("database.path", "./data/alerts.db")
	viper.SetDefault("fetch.requests_per_second", 5.0)
	viper.SetDefault("fetch.burst", 10)
	viper.SetDefault("fetch.timeout_seconds", 30)
	viper.SetDefault("analysis.lookback_days", 30)
	viper.SetDefault("analysis.reports_dir", "./reports")
	viper.SetDefault("api.host", "127.0.0.1")
	viper.SetDefault("api.port", 8080)
}

func loadFromEnv() {
	viper.SetEnvPrefix("ADVSEC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Explicit bindings so secrets never need to live in the config file
	_ = viper.BindEnv("organization", "ADVSEC_ORGANIZATION")
	_ = viper.BindEnv("project", "ADVSEC_PROJECT")
	_ = viper.BindEnv("auth.type", "ADVSEC_AUTH_TYPE")
	_ = viper.BindEnv("auth.pat", "ADVSEC_AUTH_PAT")
	_ = viper.BindEnv("auth.client_id", "ADVSEC_AUTH_CLIENT_ID")
	_ = viper.BindEnv("auth.client_secret", "ADVSEC_AUTH_CLIENT_SECRET")
	_ = viper.BindEnv("auth.tenant_id", "ADVSEC_AUTH_TENANT_ID")
	_ = viper.BindEnv("database.path", "ADVSEC_DATABASE_PATH")
}

// LoadConfig reads config.yaml from the working directory or ./config,
// overlays ADVSEC_* environment variables, and validates the result.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()
	loadFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, will use defaults and env vars
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks structural constraints and cross-field auth requirements.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	switch strings.ToLower(c.Auth.Type) {
	case "pat":
		if c.Auth.PAT == "" {
			return fmt.Errorf("invalid configuration: auth.pat is required when auth.type is pat")
		}
	case "oauth":
		if c.Auth.ClientID == "" || c.Auth.ClientSecret == "" || c.Auth.TenantID == "" {
			return fmt.Errorf("invalid configuration: auth.client_id, auth.client_secret and auth.tenant_id are required when auth.type is oauth")
		}
	}

	return nil
}

// ReportPath returns the path for a timestamped report file inside the
// configured reports directory.
func (c *Config) ReportPath(filename string) string {
	dir := c.Analysis.ReportsDir
	if dir == "" {
		dir = "./reports"
	}
	return filepath.Join(dir, filename)
}
