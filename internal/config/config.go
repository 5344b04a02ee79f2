package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/user/sandbench/internal/pricing"
)

type Config struct {
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`
	HTTP     struct {
		Enabled bool   `json:"enabled"`
		Listen  string `json:"listen"`
	} `json:"http"`
	Provider struct {
		BaseURL        string `json:"base_url"`
		APIKey         string `json:"api_key"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	} `json:"provider"`
	Auth struct {
		// Tokens maps bearer tokens to identity-provider subject ids for
		// the static resolver. Real deployments front this with the
		// identity collaborator instead.
		Tokens map[string]string `json:"tokens"`
	} `json:"auth"`
	Pricing struct {
		DefaultModel string                   `json:"default_model"`
		Models       map[string]pricing.Rates `json:"models"`
	} `json:"pricing"`
	Reaper struct {
		Schedule      string `json:"schedule"`
		MaxConcurrent int    `json:"max_concurrent"`
	} `json:"reaper"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		DataDir:  filepath.Join(os.Getenv("HOME"), ".sandbench"),
		LogLevel: "info",
	}
	cfg.HTTP.Enabled = true
	cfg.HTTP.Listen = "127.0.0.1:8470"
	cfg.Provider.BaseURL = "https://api.sandbox.example.com"
	cfg.Provider.TimeoutSeconds = 60
	cfg.Pricing.DefaultModel = pricing.DefaultModel
	cfg.Reaper.Schedule = "@every 5m"
	cfg.Reaper.MaxConcurrent = 4

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if apiKey := os.Getenv("SANDBOX_API_KEY"); apiKey != "" {
		cfg.Provider.APIKey = apiKey
	}
	if baseURL := os.Getenv("SANDBOX_BASE_URL"); baseURL != "" {
		cfg.Provider.BaseURL = baseURL
	}

	return cfg, nil
}

// Save writes the config to path atomically.
func Save(path string, cfg *Config) error {
	return writeDefaults(path, cfg)
}

func writeDefaults(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename default config: %w", err)
	}
	return nil
}
