package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ducminhle1904/order-pipeline/internal/exchange"
	"github.com/ducminhle1904/order-pipeline/internal/execution"
	"github.com/ducminhle1904/order-pipeline/internal/risk"
	"github.com/ducminhle1904/order-pipeline/internal/safety"
	"github.com/ducminhle1904/order-pipeline/internal/sizing"
)

// Environment variables that override the file
const (
	EnvAPIKey    = "BYBIT_API_KEY"
	EnvAPISecret = "BYBIT_API_SECRET"
	EnvMode      = "PIPELINE_MODE"
	EnvDryRun    = "PIPELINE_DRY_RUN"
	EnvTelegram  = "TELEGRAM_TOKEN"
	EnvChatID    = "TELEGRAM_CHAT_ID"
)

// PipelineConfig is the complete configuration of one pipeline process
type PipelineConfig struct {
	Mode            string  `json:"mode" yaml:"mode"`
	InstrumentClass string  `json:"instrument_class" yaml:"instrument_class"`
	Capital         float64 `json:"capital" yaml:"capital"`
	Timezone        string  `json:"timezone" yaml:"timezone"`

	Sizing     sizing.Config           `json:"sizing" yaml:"sizing"`
	Risk       risk.Config             `json:"risk" yaml:"risk"`
	Guardian   GuardianConfig          `json:"guardian" yaml:"guardian"`
	Breakers   BreakerConfig           `json:"breakers" yaml:"breakers"`
	Execution  ExecutionConfig         `json:"execution" yaml:"execution"`
	Store      StoreConfig             `json:"store" yaml:"store"`
	Exchange   exchange.ExchangeConfig `json:"exchange" yaml:"exchange"`
	Monitoring MonitoringConfig        `json:"monitoring" yaml:"monitoring"`
}

// GuardianConfig mirrors safety.Config with durations written as strings ("2m")
type GuardianConfig struct {
	Enabled            bool    `json:"enabled" yaml:"enabled"`
	MaxLotSize         float64 `json:"max_lot_size" yaml:"max_lot_size"`
	MaxOrdersPerSecond int     `json:"max_orders_per_second" yaml:"max_orders_per_second"`
	StaleAfter         string  `json:"stale_after" yaml:"stale_after"`
	MaxSlippagePct     float64 `json:"max_slippage_pct" yaml:"max_slippage_pct"`
	MaxDrawdownPct     float64 `json:"max_drawdown_pct" yaml:"max_drawdown_pct"`
	MaxDayDropPct      float64 `json:"max_day_drop_pct" yaml:"max_day_drop_pct"`
}

// BreakerConfig holds the router's loss breakers and the broker transport breaker
type BreakerConfig struct {
	MaxDailyLoss     float64 `json:"max_daily_loss" yaml:"max_daily_loss"`
	MaxDrawdownPct   float64 `json:"max_drawdown_pct" yaml:"max_drawdown_pct"`
	FailureThreshold uint32  `json:"failure_threshold" yaml:"failure_threshold"`
	SuccessThreshold uint32  `json:"success_threshold" yaml:"success_threshold"`
	OpenTimeout      string  `json:"open_timeout" yaml:"open_timeout"`
}

type ExecutionConfig struct {
	SlippageBps      float64  `json:"slippage_bps" yaml:"slippage_bps"`
	DryRun           bool     `json:"dry_run" yaml:"dry_run"`
	QuantityDecimals int32    `json:"quantity_decimals" yaml:"quantity_decimals"`
	PriceDecimals    int32    `json:"price_decimals" yaml:"price_decimals"`
	RetrySchedule    []string `json:"retry_schedule" yaml:"retry_schedule"`
}

type StoreConfig struct {
	Root string `json:"root" yaml:"root"`
}

type MonitoringConfig struct {
	Addr            string `json:"addr" yaml:"addr"`
	PublishInterval string `json:"publish_interval" yaml:"publish_interval"`
	StaleAfter      string `json:"stale_after" yaml:"stale_after"`
	HaltFile        string `json:"halt_file" yaml:"halt_file"`
	LogDir          string `json:"log_dir" yaml:"log_dir"`
	Debug           bool   `json:"debug" yaml:"debug"`
	TelegramToken   string `json:"telegram_token" yaml:"telegram_token"`
	TelegramChat    string `json:"telegram_chat" yaml:"telegram_chat"`
}

// Default returns a paper trading configuration for the crypto class
func Default() *PipelineConfig {
	router := execution.DefaultConfig()
	guardian := safety.DefaultConfig()
	return &PipelineConfig{
		Mode:            execution.ModePaper,
		InstrumentClass: "crypto",
		Capital:         100000,
		Timezone:        "UTC",
		Sizing:          sizing.DefaultConfig(),
		Risk:            risk.DefaultConfig(),
		Guardian: GuardianConfig{
			Enabled:            guardian.Enabled,
			MaxOrdersPerSecond: guardian.MaxOrdersPerSecond,
			StaleAfter:         guardian.StaleAfter.String(),
			MaxSlippagePct:     guardian.MaxSlippagePct,
			MaxDrawdownPct:     guardian.MaxDrawdownPct,
			MaxDayDropPct:      guardian.MaxDayDropPct,
		},
		Breakers: BreakerConfig{
			MaxDailyLoss:     router.MaxDailyLoss,
			MaxDrawdownPct:   router.MaxDrawdownPct,
			FailureThreshold: 5,
			SuccessThreshold: 1,
			OpenTimeout:      "1m",
		},
		Execution: ExecutionConfig{
			SlippageBps:      router.SlippageBps,
			QuantityDecimals: router.Live.QuantityDecimals,
			PriceDecimals:    router.Live.PriceDecimals,
		},
		Store:    StoreConfig{Root: "state"},
		Exchange: exchange.ExchangeConfig{Name: "bybit"},
		Monitoring: MonitoringConfig{
			Addr:            ":9090",
			PublishInterval: "5s",
			StaleAfter:      "5m",
			HaltFile:        "state/HALT",
			LogDir:          "logs",
		},
	}
}

// LoadEnvFile loads variables from an env file. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// Load reads a JSON or YAML config (by extension) over the defaults, applies
// environment overrides, fills derived values and validates the result
func Load(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides credentials and mode from the environment
func (c *PipelineConfig) ApplyEnv() error {
	if mode := os.Getenv(EnvMode); mode != "" {
		c.Mode = strings.ToLower(mode)
	}
	if v := os.Getenv(EnvDryRun); v != "" {
		dry, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDryRun, err)
		}
		c.Execution.DryRun = dry
	}
	if token := os.Getenv(EnvTelegram); token != "" {
		c.Monitoring.TelegramToken = token
	}
	if chat := os.Getenv(EnvChatID); chat != "" {
		c.Monitoring.TelegramChat = chat
	}

	key, secret := os.Getenv(EnvAPIKey), os.Getenv(EnvAPISecret)
	if key == "" && secret == "" {
		return nil
	}
	if c.Exchange.Bybit == nil {
		c.Exchange.Bybit = &exchange.BybitConfig{Demo: true}
	}
	if key != "" {
		c.Exchange.Bybit.APIKey = key
	}
	if secret != "" {
		c.Exchange.Bybit.APISecret = secret
	}
	return nil
}

// setDefaults copies the shared fields into the component sections
func (c *PipelineConfig) setDefaults() {
	c.Risk.Capital = c.Capital
	if c.Risk.Timezone == "" {
		c.Risk.Timezone = c.Timezone
	}
	if c.Sizing.SafeEquity == 0 {
		c.Sizing.SafeEquity = c.Capital
	}
	if c.Exchange.Name == "" {
		c.Exchange.Name = "bybit"
	}
	if c.Exchange.Bybit != nil && c.Exchange.Bybit.Category == "" {
		c.Exchange.Bybit.Category = "linear"
	}
	c.shareLotSizes()
}

// builtinLotSize is the default lot size both sections start from
const builtinLotSize = 1.0

// shareLotSizes gives the sizer and the risk gate one lot table. A symbol listed
// in one section only is copied to the other, and a default lot size left at
// the built-in value takes the other section's.
func (c *PipelineConfig) shareLotSizes() {
	c.Sizing.LotSizes = mergeLots(c.Sizing.LotSizes, c.Risk.LotSizes)
	c.Risk.LotSizes = mergeLots(c.Risk.LotSizes, c.Sizing.LotSizes)

	if c.Sizing.DefaultLotSize > 0 && (c.Risk.DefaultLotSize <= 0 || c.Risk.DefaultLotSize == builtinLotSize) {
		c.Risk.DefaultLotSize = c.Sizing.DefaultLotSize
	}
	if c.Risk.DefaultLotSize > 0 && (c.Sizing.DefaultLotSize <= 0 || c.Sizing.DefaultLotSize == builtinLotSize) {
		c.Sizing.DefaultLotSize = c.Risk.DefaultLotSize
	}
}

func mergeLots(dst, src map[string]float64) map[string]float64 {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]float64, len(src))
	}
	for symbol, lot := range src {
		if _, ok := dst[symbol]; !ok {
			dst[symbol] = lot
		}
	}
	return dst
}

// checkLotSizes rejects a symbol the two sections round to different lots
func (c *PipelineConfig) checkLotSizes() error {
	if c.Sizing.DefaultLotSize != c.Risk.DefaultLotSize {
		return fmt.Errorf("sizing default lot size %g and risk default lot size %g disagree",
			c.Sizing.DefaultLotSize, c.Risk.DefaultLotSize)
	}
	for symbol, lot := range c.Sizing.LotSizes {
		if other, ok := c.Risk.LotSizes[symbol]; ok && other != lot {
			return fmt.Errorf("lot size for %s is %g in sizing and %g in risk", symbol, lot, other)
		}
	}
	return nil
}

// Validate checks every section
func (c *PipelineConfig) Validate() error {
	if c.Mode != execution.ModePaper && c.Mode != execution.ModeLive {
		return fmt.Errorf("mode must be %q or %q, got %q", execution.ModePaper, execution.ModeLive, c.Mode)
	}
	if strings.TrimSpace(c.InstrumentClass) == "" {
		return fmt.Errorf("instrument class is required")
	}
	if c.Capital <= 0 {
		return fmt.Errorf("capital must be greater than 0")
	}
	if _, err := risk.LoadLocation(c.Timezone); err != nil {
		return err
	}
	if err := c.Sizing.Validate(); err != nil {
		return fmt.Errorf("sizing: %w", err)
	}
	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	if err := c.checkLotSizes(); err != nil {
		return err
	}
	if _, err := c.GuardianSettings(); err != nil {
		return fmt.Errorf("guardian: %w", err)
	}
	if c.Breakers.MaxDailyLoss < 0 || c.Breakers.MaxDrawdownPct < 0 {
		return fmt.Errorf("breakers cannot be negative")
	}
	if _, err := c.BreakerSettings(); err != nil {
		return fmt.Errorf("breakers: %w", err)
	}
	if _, err := c.RetrySchedule(); err != nil {
		return fmt.Errorf("execution: %w", err)
	}
	if c.Execution.SlippageBps < 0 {
		return fmt.Errorf("slippage cannot be negative")
	}
	if strings.TrimSpace(c.Store.Root) == "" {
		return fmt.Errorf("store root is required")
	}
	if _, err := c.PublishInterval(); err != nil {
		return fmt.Errorf("monitoring: %w", err)
	}
	if _, err := c.HealthStaleAfter(); err != nil {
		return fmt.Errorf("monitoring: %w", err)
	}
	if c.Mode == execution.ModeLive && !c.Execution.DryRun {
		if err := exchange.ValidateConfig(c.Exchange); err != nil {
			return fmt.Errorf("exchange config validation failed: %w", err)
		}
	}
	return nil
}

// RouterConfig builds the execution router configuration
func (c *PipelineConfig) RouterConfig() execution.Config {
	return execution.Config{
		Mode:           c.Mode,
		MaxDailyLoss:   c.Breakers.MaxDailyLoss,
		MaxDrawdownPct: c.Breakers.MaxDrawdownPct,
		SlippageBps:    c.Execution.SlippageBps,
		Live: execution.LiveConfig{
			DryRun:           c.Execution.DryRun,
			QuantityDecimals: c.Execution.QuantityDecimals,
			PriceDecimals:    c.Execution.PriceDecimals,
		},
	}
}

// GuardianSettings converts the guardian section into safety.Config
func (c *PipelineConfig) GuardianSettings() (safety.Config, error) {
	stale, err := parseDuration(c.Guardian.StaleAfter, "stale_after")
	if err != nil {
		return safety.Config{}, err
	}
	return safety.Config{
		Enabled:            c.Guardian.Enabled,
		MaxLotSize:         c.Guardian.MaxLotSize,
		MaxOrdersPerSecond: c.Guardian.MaxOrdersPerSecond,
		StaleAfter:         stale,
		MaxSlippagePct:     c.Guardian.MaxSlippagePct,
		MaxDrawdownPct:     c.Guardian.MaxDrawdownPct,
		MaxDayDropPct:      c.Guardian.MaxDayDropPct,
	}, nil
}

// BreakerSettings is the broker transport circuit breaker configuration
func (c *PipelineConfig) BreakerSettings() (safety.CircuitBreakerConfig, error) {
	timeout, err := parseDuration(c.Breakers.OpenTimeout, "open_timeout")
	if err != nil {
		return safety.CircuitBreakerConfig{}, err
	}
	return safety.CircuitBreakerConfig{
		FailureThreshold: c.Breakers.FailureThreshold,
		SuccessThreshold: c.Breakers.SuccessThreshold,
		Timeout:          timeout,
	}, nil
}

// RetrySchedule returns the configured retry delays; nil keeps the default schedule
func (c *PipelineConfig) RetrySchedule() ([]time.Duration, error) {
	if len(c.Execution.RetrySchedule) == 0 {
		return nil, nil
	}
	schedule := make([]time.Duration, 0, len(c.Execution.RetrySchedule))
	for _, s := range c.Execution.RetrySchedule {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid retry delay %q", s)
		}
		schedule = append(schedule, d)
	}
	return schedule, nil
}

func (c *PipelineConfig) PublishInterval() (time.Duration, error) {
	d, err := parseDuration(c.Monitoring.PublishInterval, "publish_interval")
	if err == nil && d == 0 {
		d = 5 * time.Second
	}
	return d, err
}

func (c *PipelineConfig) HealthStaleAfter() (time.Duration, error) {
	return parseDuration(c.Monitoring.StaleAfter, "stale_after")
}

func parseDuration(s, field string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s cannot be negative", field)
	}
	return d, nil
}
