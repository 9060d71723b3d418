package bootstrap

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"advsec/config"
	"advsec/fetch"
	"advsec/storage"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger initializes the zap logger with colored console output.
func InitLogger() (*zap.Logger, *zap.SugaredLogger, error) {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)

	core := zapcore.NewCore(
		consoleEncoder,
		zapcore.AddSync(os.Stdout),
		zapcore.InfoLevel,
	)

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), nil
}

// InitConfig loads the application configuration.
func InitConfig(sugar *zap.SugaredLogger) (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load config: %v\n", err)
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if viper.ConfigFileUsed() == "" {
		sugar.Info("No config file found, using defaults and env vars")
	}

	sugar.Infow("Config loaded",
		"organization", cfg.Organization,
		"project", cfg.Project,
		"database_path", cfg.Database.Path,
		"auth_type", cfg.Auth.Type,
	)

	return cfg, nil
}

// InitStorage opens the SQLite database and the alert storage layer.
func InitStorage(cfg *config.Config, sugar *zap.SugaredLogger) (*storage.SQLite, *storage.SQLiteAlertStorage, error) {
	sqlite, err := storage.NewSQLite(cfg.Database.Path, sugar)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize SQLite: %w", err)
	}

	alertStorage, err := storage.NewSQLiteAlertStorage(sqlite, sugar)
	if err != nil {
		_ = sqlite.Close()
		return nil, nil, fmt.Errorf("failed to initialize alert storage: %w", err)
	}

	return sqlite, alertStorage, nil
}

// InitFetchClient builds the Advanced Security API client from config.
func InitFetchClient(cfg *config.Config, sugar *zap.SugaredLogger) (*fetch.Client, error) {
	provider, err := fetch.NewProvider(fetch.AuthConfig{
		Type:         cfg.Auth.Type,
		PAT:          cfg.Auth.PAT,
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		TenantID:     cfg.Auth.TenantID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create auth provider: %w", err)
	}

	client, err := fetch.NewClient(cfg.Organization, cfg.Project, provider, sugar,
		fetch.WithRateLimit(cfg.Fetch.RequestsPerSecond, cfg.Fetch.Burst),
		fetch.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch client: %w", err)
	}
	return client, nil
}
