// Package config loads and validates the application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration. Values come from the
// YAML file (with ${VAR} expansion) and may be overridden by VG_* environment
// variables.
type Config struct {
	Environment string `yaml:"environment"`
	DryRun      bool   `yaml:"dry_run"`

	Broker   BrokerConfig   `yaml:"broker"`
	Capital  CapitalConfig  `yaml:"capital"`
	Risk     RiskConfig     `yaml:"risk"`
	Orders   OrdersConfig   `yaml:"orders"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Storage  StorageConfig  `yaml:"storage"`
	API      APIConfig      `yaml:"api"`
	Notify   NotifyConfig   `yaml:"notify"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// BrokerConfig holds broker credentials and endpoints.
type BrokerConfig struct {
	BaseURL      string `yaml:"base_url"`
	AccessToken  string `yaml:"access_token"`
	RefreshToken string `yaml:"refresh_token"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Timeout      string `yaml:"timeout"`
	MaxRetries   int    `yaml:"max_retries"`
}

// CapitalConfig bounds how much the system may deploy.
type CapitalConfig struct {
	BaseCapital          float64 `yaml:"base_capital"`
	MaxLossPerTrade      float64 `yaml:"max_loss_per_trade"`
	MaxCapitalPerTrade   float64 `yaml:"max_capital_per_trade"`
	MaxTradesPerDay      int     `yaml:"max_trades_per_day"`
	MaxContractsPerInstr int     `yaml:"max_contracts_per_instrument"`
	MaxAllocationPct     float64 `yaml:"max_allocation_pct"`
	MarginSellBase       float64 `yaml:"margin_sell_base"`
	MarginUtilizationCap float64 `yaml:"margin_utilization_cap"`
	BrokeragePerOrder    float64 `yaml:"brokerage_per_order"`
}

// RiskConfig parameterizes the circuit breaker.
type RiskConfig struct {
	MaxDailyLossPct      float64 `yaml:"max_daily_loss_pct"`
	MaxDrawdownPct       float64 `yaml:"max_drawdown_pct"`
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"`
	MaxSlippageEvents    int     `yaml:"max_slippage_events"`
	SlippageEventPct     float64 `yaml:"slippage_event_pct"`
	BreakerCooldown      string  `yaml:"breaker_cooldown"`
	KillSwitchFile       string  `yaml:"kill_switch_file"`
}

// OrdersConfig parameterizes the leg executor.
type OrdersConfig struct {
	OrderTimeout string  `yaml:"order_timeout"`
	PollInterval string  `yaml:"poll_interval"`
	TickSize     float64 `yaml:"tick_size"`
}

// MonitorConfig parameterizes the position monitor.
type MonitorConfig struct {
	BroadcastInterval string  `yaml:"broadcast_interval"`
	ExitCheckInterval string  `yaml:"exit_check_interval"`
	TargetProfitPct   float64 `yaml:"target_profit_pct"`
	StopLossPct       float64 `yaml:"stop_loss_pct"`
	ExitDTE           int     `yaml:"exit_dte"`
	MaxPortfolioDelta float64 `yaml:"max_portfolio_delta"`
	MinThetaVega      float64 `yaml:"min_theta_vega"`
}

// ScheduleConfig fixes the analysis cadence and market session.
type ScheduleConfig struct {
	AnalysisInterval string `yaml:"analysis_interval"`
	Timezone         string `yaml:"timezone"`
	MarketOpen       string `yaml:"market_open"`
	MarketClose      string `yaml:"market_close"`
	SquareOffTime    string `yaml:"square_off_time"`
}

// StorageConfig locates the sqlite database.
type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// APIConfig configures the HTTP/WebSocket surface.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// NotifyConfig holds optional notification-sink credentials.
type NotifyConfig struct {
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID int64  `yaml:"telegram_chat_id"`
}

// LoggingConfig selects the log level and optional file output directory.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// Default returns the configuration with all documented defaults applied.
func Default() *Config {
	return &Config{
		Environment: "PRODUCTION",
		Broker: BrokerConfig{
			BaseURL:    "https://api.upstox.com/v2",
			Timeout:    "10s",
			MaxRetries: 3,
		},
		Capital: CapitalConfig{
			BaseCapital:          1_000_000,
			MaxLossPerTrade:      50_000,
			MaxCapitalPerTrade:   300_000,
			MaxTradesPerDay:      3,
			MaxContractsPerInstr: 1800,
			MaxAllocationPct:     0.80,
			MarginSellBase:       120_000,
			MarginUtilizationCap: 0.90,
			BrokeragePerOrder:    25,
		},
		Risk: RiskConfig{
			MaxDailyLossPct:      0.03,
			MaxDrawdownPct:       0.15,
			MaxConsecutiveLosses: 3,
			MaxSlippageEvents:    5,
			SlippageEventPct:     0.02,
			BreakerCooldown:      "24h",
			KillSwitchFile:       "killswitch",
		},
		Orders: OrdersConfig{
			OrderTimeout: "10s",
			PollInterval: "200ms",
			TickSize:     0.05,
		},
		Monitor: MonitorConfig{
			BroadcastInterval: "1s",
			ExitCheckInterval: "5s",
			TargetProfitPct:   0.50,
			StopLossPct:       1.00,
			ExitDTE:           1,
			MaxPortfolioDelta: 50,
			MinThetaVega:      1.0,
		},
		Schedule: ScheduleConfig{
			AnalysisInterval: "1800s",
			Timezone:         "Asia/Kolkata",
			MarketOpen:       "09:15",
			MarketClose:      "15:30",
			SquareOffTime:    "15:00",
		},
		Storage: StorageConfig{DBPath: "volguard.db"},
		API:     APIConfig{ListenAddr: ":8000"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the YAML file at path, expands ${VAR} references, applies VG_*
// environment overrides, and validates the result. An empty path loads
// defaults plus environment overrides only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("VG_ENV"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("VG_DRY_RUN"); v != "" {
		c.DryRun, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("VG_ACCESS_TOKEN"); v != "" {
		c.Broker.AccessToken = v
	}
	if v := os.Getenv("VG_REFRESH_TOKEN"); v != "" {
		c.Broker.RefreshToken = v
	}
	if v := os.Getenv("VG_CLIENT_ID"); v != "" {
		c.Broker.ClientID = v
	}
	if v := os.Getenv("VG_CLIENT_SECRET"); v != "" {
		c.Broker.ClientSecret = v
	}
	envFloat("VG_BASE_CAPITAL", &c.Capital.BaseCapital)
	envFloat("VG_MAX_LOSS_PER_TRADE", &c.Capital.MaxLossPerTrade)
	envFloat("VG_MAX_CAPITAL_PER_TRADE", &c.Capital.MaxCapitalPerTrade)
	envInt("MAX_TRADES_PER_DAY", &c.Capital.MaxTradesPerDay)
	envFloat("VG_MAX_DRAWDOWN_PCT", &c.Risk.MaxDrawdownPct)
	if v := os.Getenv("VG_DB_PATH"); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv("VG_LOG_DIR"); v != "" {
		c.Logging.Dir = v
	}
	if v := os.Getenv("VG_KILL_SWITCH_FILE"); v != "" {
		c.Risk.KillSwitchFile = v
	}
	if v := os.Getenv("VG_TELEGRAM_TOKEN"); v != "" {
		c.Notify.TelegramToken = v
	}
	if v := os.Getenv("VG_TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Notify.TelegramChatID = id
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// Validate collects every configuration problem rather than stopping at the
// first one.
func (c *Config) Validate() error {
	var problems []string

	if c.Capital.BaseCapital <= 0 {
		problems = append(problems, "capital.base_capital must be positive")
	}
	if c.Capital.MaxLossPerTrade <= 0 {
		problems = append(problems, "capital.max_loss_per_trade must be positive")
	}
	if c.Capital.MaxCapitalPerTrade <= 0 {
		problems = append(problems, "capital.max_capital_per_trade must be positive")
	}
	if c.Capital.MaxTradesPerDay <= 0 {
		problems = append(problems, "capital.max_trades_per_day must be positive")
	}
	if c.Capital.MarginSellBase <= 0 {
		problems = append(problems, "capital.margin_sell_base must be positive")
	}
	if c.Risk.MaxDrawdownPct <= 0 || c.Risk.MaxDrawdownPct >= 1 {
		problems = append(problems, "risk.max_drawdown_pct must be in (0,1)")
	}
	if c.Risk.MaxDailyLossPct <= 0 || c.Risk.MaxDailyLossPct >= 1 {
		problems = append(problems, "risk.max_daily_loss_pct must be in (0,1)")
	}
	for name, v := range map[string]string{
		"broker.timeout":              c.Broker.Timeout,
		"risk.breaker_cooldown":       c.Risk.BreakerCooldown,
		"orders.order_timeout":        c.Orders.OrderTimeout,
		"orders.poll_interval":        c.Orders.PollInterval,
		"monitor.broadcast_interval":  c.Monitor.BroadcastInterval,
		"monitor.exit_check_interval": c.Monitor.ExitCheckInterval,
		"schedule.analysis_interval":  c.Schedule.AnalysisInterval,
	} {
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			problems = append(problems, fmt.Sprintf("%s: invalid duration %q", name, v))
		}
	}
	if c.Monitor.TargetProfitPct <= 0 {
		problems = append(problems, "monitor.target_profit_pct must be positive")
	}
	if c.Monitor.StopLossPct <= 0 {
		problems = append(problems, "monitor.stop_loss_pct must be positive")
	}
	if c.Storage.DBPath == "" {
		problems = append(problems, "storage.db_path is required")
	}
	if !c.DryRun && c.Broker.AccessToken == "" {
		problems = append(problems, "broker.access_token is required outside dry-run")
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		problems = append(problems, fmt.Sprintf("schedule.timezone: %v", err))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", joinLines(problems))
	}
	return nil
}

func joinLines(items []string) string {
	out := items[0]
	for _, s := range items[1:] {
		out += "\n  - " + s
	}
	return out
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// BrokerTimeout returns the per-call broker timeout.
func (c *Config) BrokerTimeout() time.Duration {
	return parseDuration(c.Broker.Timeout, 10*time.Second)
}

// BreakerCooldown returns how long a circuit-breaker trip lasts.
func (c *Config) BreakerCooldown() time.Duration {
	return parseDuration(c.Risk.BreakerCooldown, 24*time.Hour)
}

// OrderTimeout returns the per-leg fill deadline.
func (c *Config) OrderTimeout() time.Duration {
	return parseDuration(c.Orders.OrderTimeout, 10*time.Second)
}

// PollInterval returns the order-status polling cadence.
func (c *Config) PollInterval() time.Duration {
	return parseDuration(c.Orders.PollInterval, 200*time.Millisecond)
}

// BroadcastInterval returns the live-update push cadence.
func (c *Config) BroadcastInterval() time.Duration {
	return parseDuration(c.Monitor.BroadcastInterval, time.Second)
}

// ExitCheckInterval returns the exit-rule evaluation cadence.
func (c *Config) ExitCheckInterval() time.Duration {
	return parseDuration(c.Monitor.ExitCheckInterval, 5*time.Second)
}

// AnalysisInterval returns the controller cycle cadence.
func (c *Config) AnalysisInterval() time.Duration {
	return parseDuration(c.Schedule.AnalysisInterval, 30*time.Minute)
}

// Location returns the configured market timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
