package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	AI       AIConfig       `yaml:"ai" validate:"required"`
	Analysis AnalysisConfig `yaml:"analysis" validate:"required"`
	Limits   Limits         `yaml:"limits" validate:"required"`
	CacheDir string         `yaml:"cache_dir"`
}

type AIConfig struct {
	APIKey  string `yaml:"api_key" validate:"required,min=20"`
	BaseURL string `yaml:"base_url" validate:"required,url"`
	Timeout int    `yaml:"timeout" validate:"required,min=10,max=3600"`
}

// AnalysisConfig routes analysis depth onto concrete provider models and
// controls whether scene summaries come from the provider or a heuristic.
type AnalysisConfig struct {
	Models      DepthModels `yaml:"models" validate:"required"`
	ArcModel    string      `yaml:"arc_model" validate:"required"`
	AISummaries bool        `yaml:"ai_summaries"`
}

type DepthModels struct {
	Quick    string `yaml:"quick" validate:"required"`
	Standard string `yaml:"standard" validate:"required"`
	Thorough string `yaml:"thorough" validate:"required"`
}

// ModelForDepth returns the model name used by passes 1-3 and 5 at the
// given depth. The arc pass always uses ArcModel.
func (a AnalysisConfig) ModelForDepth(depth string) string {
	switch depth {
	case "quick":
		return a.Models.Quick
	case "thorough":
		return a.Models.Thorough
	default:
		return a.Models.Standard
	}
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	configPath := getConfigPath()

	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		cfg := Default()
		if err := cfg.applyEnv(); err != nil {
			return nil, err
		}
		if err := cfg.validate(); err != nil {
			return nil, fmt.Errorf("validating config: %w", err)
		}
		return cfg, nil
	} else if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func Default() *Config {
	return &Config{
		AI: AIConfig{
			BaseURL: "https://api.anthropic.com/v1",
			Timeout: 120,
		},
		Analysis: AnalysisConfig{
			Models: DepthModels{
				Quick:    "claude-3-haiku-20240307",
				Standard: "claude-3-5-sonnet-20241022",
				Thorough: "claude-3-5-sonnet-20241022",
			},
			ArcModel:    "claude-3-opus-20240229",
			AISummaries: true,
		},
		Limits:   DefaultLimits(),
		CacheDir: defaultCacheDir(),
	}
}

func (c *Config) applyEnv() error {
	if c.AI.APIKey == "" || c.AI.APIKey == "${COHERENCE_API_KEY}" {
		c.AI.APIKey = os.Getenv("COHERENCE_API_KEY")
	}
	if c.AI.APIKey == "" {
		c.AI.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if c.AI.APIKey == "" {
		c.AI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return nil
}

func (c *Config) validate() error {
	if c.Limits.TransitionBatchSize == 0 {
		c.Limits = DefaultLimits()
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir()
	}

	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

func getConfigPath() string {
	if path := os.Getenv("COHERENCE_CONFIG"); path != "" {
		return path
	}
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "coherence", "config.yaml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "coherence", "config.yaml")
}

func defaultCacheDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "coherence")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "coherence")
}

// Save writes the config with the API key replaced by an env placeholder.
func Save(cfg *Config, configPath string) error {
	cfgToSave := *cfg
	cfgToSave.AI.APIKey = "${COHERENCE_API_KEY}"

	data, err := yaml.Marshal(&cfgToSave)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return os.WriteFile(configPath, data, 0600)
}
