package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Agent struct {
	CycleInterval   time.Duration `yaml:"cycle_interval"`    // how often the runner fires
	HistoryDays     int           `yaml:"history_days"`      // close-price lookback fed to signals
	RiskProfile     string        `yaml:"risk_profile"`      // normal | aggressive
	NormalListPath  string        `yaml:"normal_list_path"`  // curated symbols JSON
	VolatileCanPath string        `yaml:"volatile_candidates_path"`
	VolatileTopN    int           `yaml:"volatile_top_n"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Storage struct {
	DBPath string `yaml:"db_path"`
}

type Logging struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

type Providers struct {
	NewsBaseURL    string        `yaml:"news_base_url"`
	MacroBaseURL   string        `yaml:"macro_base_url"`
	LLMBaseURL     string        `yaml:"llm_base_url"`
	LLMModel       string        `yaml:"llm_model"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	QuoteRateLimit float64       `yaml:"quote_rate_limit"` // requests/sec to the quote API
}

type Backtest struct {
	Days int `yaml:"days"`
}

type Root struct {
	Agent     Agent     `yaml:"agent"`
	Server    Server    `yaml:"server"`
	Storage   Storage   `yaml:"storage"`
	Logging   Logging   `yaml:"logging"`
	Providers Providers `yaml:"providers"`
	Backtest  Backtest  `yaml:"backtest"`
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}

	if c.Agent.CycleInterval == 0 {
		c.Agent.CycleInterval = 15 * time.Minute
	}
	if c.Agent.HistoryDays == 0 {
		c.Agent.HistoryDays = 60
	}
	if c.Agent.RiskProfile == "" {
		c.Agent.RiskProfile = "normal"
	}
	if c.Agent.VolatileTopN == 0 {
		c.Agent.VolatileTopN = 25
	}
	if c.Server.Port == 0 {
		c.Server.Port = 5001
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = "data/agent.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Providers.NewsBaseURL == "" {
		c.Providers.NewsBaseURL = "https://newsapi.org/v2"
	}
	if c.Providers.MacroBaseURL == "" {
		c.Providers.MacroBaseURL = "https://www.alphavantage.co"
	}
	if c.Providers.LLMBaseURL == "" {
		c.Providers.LLMBaseURL = "https://openrouter.ai/api/v1"
	}
	if c.Providers.RequestTimeout == 0 {
		c.Providers.RequestTimeout = 15 * time.Second
	}
	if c.Providers.QuoteRateLimit == 0 {
		c.Providers.QuoteRateLimit = 2
	}
	if c.Providers.LLMModel == "" {
		c.Providers.LLMModel = "openai/gpt-4o-mini"
	}
	if c.Backtest.Days == 0 {
		c.Backtest.Days = 90
	}

	if c.Agent.RiskProfile != "normal" && c.Agent.RiskProfile != "aggressive" {
		return c, fmt.Errorf("invalid risk_profile %q (want normal or aggressive)", c.Agent.RiskProfile)
	}
	return c, nil
}

// ValidatePct rejects guardrail percentages outside (0, 100]. Zero disables a
// guardrail and is handled by the caller, so it is not accepted here.
func ValidatePct(name string, pct float64) error {
	if pct <= 0 || pct > 100 {
		return fmt.Errorf("%s must be in (0, 100], got %v", name, pct)
	}
	return nil
}
