// Package config loads the brain configuration from a yaml file, applying
// defaults for every tunable so a minimal file (or none at all) still
// yields a runnable setup.
package config

import (
	"flag"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// QueueConfig connects the brain to the executor's Redis lists.
type QueueConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	InboundList  string        `yaml:"inbound_list"`
	OutboundList string        `yaml:"outbound_list"`
	PopTimeout   time.Duration `yaml:"pop_timeout"`
}

// LLMConfig configures the reasoning service client. When Enabled is
// false the decision engine runs in deterministic rule mode.
type LLMConfig struct {
	Enabled     bool          `yaml:"enabled"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// EmbeddingsConfig configures the embedding function client.
type EmbeddingsConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// VectorIndexConfig configures the vector index backing experience memory.
type VectorIndexConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Collection string        `yaml:"collection"`
	Timeout    time.Duration `yaml:"timeout"`
}

// AnalyzerConfig holds the market analyzer windows.
type AnalyzerConfig struct {
	LookbackPeriods  int `yaml:"lookback_periods"`
	VolatilityWindow int `yaml:"volatility_window"`
	MomentumWindow   int `yaml:"momentum_window"`
}

// RiskConfig holds risk analyzer tunables. The weights are heuristic
// defaults, kept configurable so they can be recalibrated.
type RiskConfig struct {
	MaxPortfolioRisk    float64 `yaml:"max_portfolio_risk"`
	MaxPositionSize     float64 `yaml:"max_position_size"`
	MinPositionSize     float64 `yaml:"min_position_size"`
	VolatilityThreshold float64 `yaml:"volatility_threshold"`
	MarketWeight        float64 `yaml:"market_weight"`
	PositionWeight      float64 `yaml:"position_weight"`
	VolatilityWeight    float64 `yaml:"volatility_weight"`
	LiquidityWeight     float64 `yaml:"liquidity_weight"`
	CorrelationWeight   float64 `yaml:"correlation_weight"`
}

// EngineConfig holds decision engine tunables.
type EngineConfig struct {
	ConsensusAgents int `yaml:"consensus_agents"`
}

// BrainConfig holds cycle engine tunables.
type BrainConfig struct {
	MinDispatchConfidence float64       `yaml:"min_dispatch_confidence"`
	ErrorBackoff          time.Duration `yaml:"error_backoff"`
	HistoryDepth          int           `yaml:"history_depth"`
}

// WebConfig holds the status/control surface address.
type WebConfig struct {
	Addr string `yaml:"addr"`
}

// StorageConfig holds local persistence paths.
type StorageConfig struct {
	JournalDir string `yaml:"journal_dir"`
}

// Config is the full brain configuration.
type Config struct {
	Queue       QueueConfig       `yaml:"queue"`
	LLM         LLMConfig         `yaml:"llm"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings"`
	VectorIndex VectorIndexConfig `yaml:"vector_index"`
	Analyzer    AnalyzerConfig    `yaml:"analyzer"`
	Risk        RiskConfig        `yaml:"risk"`
	Engine      EngineConfig      `yaml:"engine"`
	Brain       BrainConfig       `yaml:"brain"`
	Web         WebConfig         `yaml:"web"`
	Storage     StorageConfig     `yaml:"storage"`
}

// Default returns a configuration that works against local services.
func Default() Config {
	return Config{
		Queue: QueueConfig{
			Addr:         "localhost:6379",
			InboundList:  "cortex:market_events",
			OutboundList: "cortex:trading_commands",
			PopTimeout:   time.Second,
		},
		LLM: LLMConfig{
			Enabled:     false,
			BaseURL:     "https://api.openai.com/v1/chat/completions",
			Model:       "gpt-4",
			Temperature: 0.1,
			MaxTokens:   1000,
			Timeout:     60 * time.Second,
		},
		Embeddings: EmbeddingsConfig{
			BaseURL: "https://api.openai.com/v1/embeddings",
			Model:   "text-embedding-3-small",
			Timeout: 30 * time.Second,
		},
		VectorIndex: VectorIndexConfig{
			BaseURL:    "http://localhost:8000",
			Collection: "cortex_memory",
			Timeout:    10 * time.Second,
		},
		Analyzer: AnalyzerConfig{
			LookbackPeriods:  20,
			VolatilityWindow: 14,
			MomentumWindow:   10,
		},
		Risk: RiskConfig{
			MaxPortfolioRisk:    0.02,
			MaxPositionSize:     0.1,
			MinPositionSize:     0.001,
			VolatilityThreshold: 0.05,
			MarketWeight:        0.25,
			PositionWeight:      0.25,
			VolatilityWeight:    0.20,
			LiquidityWeight:     0.15,
			CorrelationWeight:   0.15,
		},
		Engine: EngineConfig{
			ConsensusAgents: 3,
		},
		Brain: BrainConfig{
			MinDispatchConfidence: 0.6,
			ErrorBackoff:          5 * time.Second,
			HistoryDepth:          5,
		},
		Web: WebConfig{
			Addr: ":8090",
		},
		Storage: StorageConfig{
			JournalDir: "./wal/experiences",
		},
	}
}

// Get loads configuration from the path given by the -config flag,
// falling back to defaults when the flag is absent.
func Get() (Config, error) {
	path := flag.String("config", "", "path to yaml config")
	flag.Parse()

	if *path == "" {
		return Default(), nil
	}

	return Load(*path)
}

// Load reads a yaml file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "parse config %s", path)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	if c.Queue.Addr == "" {
		return errors.New("queue.addr is required")
	}
	if c.Queue.InboundList == "" || c.Queue.OutboundList == "" {
		return errors.New("queue list names are required")
	}
	if c.Risk.MaxPositionSize <= 0 {
		return errors.New("risk.max_position_size must be positive")
	}
	if c.Risk.MinPositionSize <= 0 || c.Risk.MinPositionSize > c.Risk.MaxPositionSize {
		return errors.New("risk.min_position_size must be positive and below max_position_size")
	}
	if c.Brain.MinDispatchConfidence < 0 || c.Brain.MinDispatchConfidence > 1 {
		return errors.New("brain.min_dispatch_confidence must be within [0,1]")
	}
	if c.LLM.Enabled && c.LLM.APIKey == "" {
		return errors.New("llm.api_key is required when llm is enabled")
	}
	return nil
}
