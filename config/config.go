package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"auto_content_pipeline/depth"
)

const (
	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek"
	ProviderMock     = "mock"
)

type Config struct {
	LLM          LLMConfig      `yaml:"llm"`
	Depth        int            `yaml:"depth"`
	DraftWorkers int            `yaml:"draft_workers"`
	CallTimeout  time.Duration  `yaml:"call_timeout"`
	RunTimeout   time.Duration  `yaml:"run_timeout"` // serve 模式下单次任务上限，0 为不限
	Cache        CacheConfig    `yaml:"cache"`
	OutputDir    string         `yaml:"output_dir"`
	ServerAddr   string         `yaml:"server_addr"`
	Targets      map[string]int `yaml:"targets"`
}

type LLMConfig struct {
	Provider    string  `yaml:"provider"` // openai, deepseek, mock
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type CacheConfig struct {
	Backend string `yaml:"backend"` // file, sqlite
	Dir     string `yaml:"dir"`
	DSN     string `yaml:"dsn"`
}

// Default 返回未读取任何文件时的配置。
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:  ProviderOpenAI,
			Model:     "gpt-4o",
			MaxTokens: 4096,
		},
		Depth:        1,
		DraftWorkers: 1,
		CallTimeout:  2 * time.Minute,
		RunTimeout:   30 * time.Minute,
		Cache: CacheConfig{
			Backend: "file",
			Dir:     "./data/cache",
		},
		OutputDir:  "./out",
		ServerAddr: ":8080",
		Targets:    map[string]int{},
	}
}

// Load reads path over the defaults. An empty path or a missing file keeps
// the defaults; environment variables always win over the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// 环境变量优先级高于配置文件
func (c *Config) applyEnv() error {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		c.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		c.LLM.BaseURL = baseURL
	}
	if model := os.Getenv("OPENAI_MODEL_NAME"); model != "" {
		c.LLM.Model = model
	}
	if dir := os.Getenv("PIPELINE_CACHE_DIR"); dir != "" {
		c.Cache.Dir = dir
	}
	if v := os.Getenv("PIPELINE_DEPTH"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PIPELINE_DEPTH: %w", err)
		}
		c.Depth = d
	}
	return nil
}

func (c *Config) Validate() error {
	if err := depth.ValidateDepth(c.Depth); err != nil {
		return err
	}
	switch c.LLM.Provider {
	case ProviderOpenAI:
		if c.LLM.APIKey == "" {
			return errors.New("llm.api_key is required for provider openai (or set OPENAI_API_KEY)")
		}
	case ProviderDeepSeek:
		if c.LLM.APIKey == "" {
			return errors.New("llm.api_key is required for provider deepseek (or set OPENAI_API_KEY)")
		}
		// DeepSeek 提供 OpenAI 兼容接口，需填写 base_url。
		if c.LLM.BaseURL == "" {
			return errors.New("llm provider deepseek requires base_url (OpenAI-compatible endpoint)")
		}
	case ProviderMock:
	default:
		return fmt.Errorf("llm provider %q not supported", c.LLM.Provider)
	}
	if c.DraftWorkers < 1 {
		return fmt.Errorf("draft_workers must be >= 1, got %d", c.DraftWorkers)
	}
	if c.CallTimeout < 0 {
		return fmt.Errorf("call_timeout must not be negative, got %s", c.CallTimeout)
	}
	if c.RunTimeout < 0 {
		return fmt.Errorf("run_timeout must not be negative, got %s", c.RunTimeout)
	}
	if c.Cache.Dir == "" {
		return errors.New("cache.dir is required")
	}
	for stage, target := range c.Targets {
		if target < 0 {
			return fmt.Errorf("targets.%s must not be negative", stage)
		}
	}
	return nil
}
