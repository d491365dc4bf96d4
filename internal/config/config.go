// Package config loads stageflow settings from flags, STAGEFLOW_* environment variables,
// an optional stageflow.yaml file and .env files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"stageflow/internal/services"
	"stageflow/internal/version"
	"stageflow/pkg/flowtypes"
)

// EnvPrefix is the prefix of environment variables that override config keys.
const EnvPrefix = "STAGEFLOW"

// Config keys.
const (
	KeyProvider         = "provider"
	KeyModel            = "model"
	KeyTemperature      = "temperature"
	KeyMaxTokens        = "max_tokens"
	KeyTopP             = "top_p"
	KeyStagePolicy      = "stage_policy"
	KeyStore            = "store"
	KeyDBPath           = "db_path"
	KeyMaxHistoryTokens = "max_history_tokens"
	KeyBaseURL          = "base_url"
	KeyLogLevel         = "log_level"
	KeyLogFile          = "log_file"
	KeyColor            = "color"
	KeyCurrentPage      = "current_page"
	KeyUserRole         = "user_role"
	KeyWorkspaceName    = "workspace_name"
	KeyRequiredVersion  = "required_version"
)

// Config is the resolved application configuration.
type Config struct {
	Provider         string  `mapstructure:"provider"`
	Model            string  `mapstructure:"model"`
	Temperature      float64 `mapstructure:"temperature"`
	MaxTokens        int     `mapstructure:"max_tokens"`
	TopP             float64 `mapstructure:"top_p"`
	StagePolicy      string  `mapstructure:"stage_policy"`
	Store            string  `mapstructure:"store"`
	DBPath           string  `mapstructure:"db_path"`
	MaxHistoryTokens int     `mapstructure:"max_history_tokens"`
	BaseURL          string  `mapstructure:"base_url"`
	LogLevel         string  `mapstructure:"log_level"`
	LogFile          string  `mapstructure:"log_file"`
	Color            bool    `mapstructure:"color"`
	CurrentPage      string  `mapstructure:"current_page"`
	UserRole         string  `mapstructure:"user_role"`
	WorkspaceName    string  `mapstructure:"workspace_name"`

	// RequiredVersion is a semver constraint the running binary must satisfy, e.g. ">= 0.1".
	RequiredVersion string `mapstructure:"required_version"`

	// ConfigFile is the file that was read, if any.
	ConfigFile string `mapstructure:"-"`

	dotenv map[string]string
	getenv func(string) string
}

// Options controls where Load looks for configuration.
type Options struct {
	// ConfigFile is an explicit config file path. When empty stageflow.yaml is searched in the
	// working directory and the user config directory.
	ConfigFile string
	// EnvFiles are .env files read for API keys. Missing files are skipped.
	EnvFiles []string
	// Getenv overrides os.Getenv for key lookups.
	Getenv func(string) string
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyProvider, "openai")
	v.SetDefault(KeyModel, "")
	v.SetDefault(KeyTemperature, flowtypes.DefaultTemperature)
	v.SetDefault(KeyMaxTokens, flowtypes.DefaultMaxTokens)
	v.SetDefault(KeyTopP, 0.0)
	v.SetDefault(KeyStagePolicy, string(flowtypes.StagePolicyFreeJump))
	v.SetDefault(KeyStore, "sqlite")
	v.SetDefault(KeyDBPath, DefaultDBPath())
	v.SetDefault(KeyMaxHistoryTokens, 0)
	v.SetDefault(KeyBaseURL, "")
	v.SetDefault(KeyLogLevel, "")
	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeyColor, true)
	v.SetDefault(KeyCurrentPage, "")
	v.SetDefault(KeyUserRole, "")
	v.SetDefault(KeyWorkspaceName, "")
	v.SetDefault(KeyRequiredVersion, "")
}

// DefaultDBPath returns the SQLite path under the user config directory.
func DefaultDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".stageflow", "conversations.db")
	}
	return filepath.Join(dir, "stageflow", "conversations.db")
}

// Load resolves the configuration from v. Flags should already be bound to v.
// Priority (highest to lowest): flags > STAGEFLOW_* environment > config file > defaults.
func Load(v *viper.Viper, opts Options) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("stageflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "stageflow"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ConfigFile = v.ConfigFileUsed()
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	if cfg.Model == "" {
		cfg.Model = services.DefaultModel(cfg.Provider)
	}

	dotenv, err := loadDotEnvFiles(opts.EnvFiles)
	if err != nil {
		return nil, err
	}
	cfg.dotenv = dotenv
	cfg.getenv = opts.Getenv
	if cfg.getenv == nil {
		cfg.getenv = os.Getenv
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnvFiles reads .env files in order; later files override earlier ones.
func loadDotEnvFiles(paths []string) (map[string]string, error) {
	values := make(map[string]string)
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read .env file %s: %w", path, err)
		}
		envMap, err := godotenv.Unmarshal(string(data))
		if err != nil {
			return nil, fmt.Errorf("failed to parse .env file %s: %w", path, err)
		}
		for key, value := range envMap {
			values[key] = value
		}
	}
	return values, nil
}

// DefaultEnvFiles returns the user config .env followed by the working directory .env.
func DefaultEnvFiles() []string {
	var files []string
	if dir, err := os.UserConfigDir(); err == nil {
		files = append(files, filepath.Join(dir, "stageflow", ".env"))
	}
	return append(files, ".env")
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if _, err := flowtypes.ParseStagePolicy(c.StagePolicy); err != nil {
		return err
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0.0 and 2.0, got %g", c.Temperature)
	}
	if c.TopP < 0 || c.TopP > 1 {
		return fmt.Errorf("top_p must be between 0.0 and 1.0, got %g", c.TopP)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be non-negative, got %d", c.MaxTokens)
	}
	if c.MaxHistoryTokens < 0 {
		return fmt.Errorf("max_history_tokens must be non-negative, got %d", c.MaxHistoryTokens)
	}
	switch strings.ToLower(c.Store) {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unsupported store '%s'. Supported stores: memory, sqlite", c.Store)
	}
	if c.RequiredVersion != "" {
		ok, err := version.Satisfies(c.RequiredVersion)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("stageflow v%s does not satisfy required_version '%s'", version.Version, c.RequiredVersion)
		}
	}
	return nil
}

// Policy returns the parsed stage policy.
func (c *Config) Policy() flowtypes.StagePolicy {
	policy, _ := flowtypes.ParseStagePolicy(c.StagePolicy)
	return policy
}

// ModelConfig converts the generation settings for provider clients.
func (c *Config) ModelConfig() *flowtypes.ModelConfig {
	model := &flowtypes.ModelConfig{
		Provider:    c.Provider,
		BaseModel:   c.Model,
		Temperature: flowtypes.Float64(c.Temperature),
	}
	if c.MaxTokens > 0 {
		model.MaxTokens = flowtypes.Int(c.MaxTokens)
	}
	if c.TopP > 0 {
		model.TopP = flowtypes.Float64(c.TopP)
	}
	return model
}

// Metadata returns the conversation metadata seeded from config. Empty values are omitted so the
// prompt falls back to its defaults.
func (c *Config) Metadata() map[string]string {
	metadata := make(map[string]string)
	if c.CurrentPage != "" {
		metadata[flowtypes.MetadataCurrentPage] = c.CurrentPage
	}
	if c.UserRole != "" {
		metadata[flowtypes.MetadataUserRole] = c.UserRole
	}
	if c.WorkspaceName != "" {
		metadata[flowtypes.MetadataWorkspaceName] = c.WorkspaceName
	}
	return metadata
}

// LookupKey resolves a key from the process environment, then the loaded .env files.
func (c *Config) LookupKey(key string) string {
	if c.getenv != nil {
		if value := c.getenv(key); value != "" {
			return value
		}
	}
	return c.dotenv[key]
}
