package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vitos/listing-sniper/internal/domain"
)

// Duration is a time.Duration that unmarshals from "30s"-style strings.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std converts to the standard library representation.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds the full application configuration.
type Config struct {
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Stream    StreamConfig    `yaml:"stream"`
	Detector  DetectorConfig  `yaml:"detector"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Safety    SafetyConfig    `yaml:"safety"`
	Emergency EmergencyConfig `yaml:"emergency"`
	Logging   LoggingConfig   `yaml:"logging"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
}

type ExchangeConfig struct {
	APIKey       string `yaml:"api_key"`
	APISecret    string `yaml:"api_secret"`
	RESTEndpoint string `yaml:"rest_endpoint"`
	WSEndpoint   string `yaml:"ws_endpoint"`
	// Requests per second against the REST API.
	RateLimit float64 `yaml:"rate_limit"`
}

type StreamConfig struct {
	// WatchSymbols are subscribed on startup; more can be added at runtime.
	WatchSymbols      []string `yaml:"watch_symbols"`
	HandshakeTimeout  Duration `yaml:"handshake_timeout"`
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	StaleAfter        Duration `yaml:"stale_after"`
	ReconnectInitial  Duration `yaml:"reconnect_initial"`
	ReconnectMax      Duration `yaml:"reconnect_max"`
	MaxReconnects     int      `yaml:"max_reconnects"`
	BreakerThreshold  int      `yaml:"breaker_threshold"`
	BreakerCooldown   Duration `yaml:"breaker_cooldown"`
}

type DetectorConfig struct {
	HistorySize   int     `yaml:"history_size"`
	MinConfidence float64 `yaml:"min_confidence"`
	// Matches at or above this confidence trigger an automatic snipe.
	AutoSnipeConfidence float64 `yaml:"auto_snipe_confidence"`
	OrderQuoteSize      float64 `yaml:"order_quote_size"`
}

type MonitorConfig struct {
	PollInterval  Duration `yaml:"poll_interval"`
	MaxAttempts   int      `yaml:"max_attempts"`
	MaxPollErrors int      `yaml:"max_poll_errors"`
}

type SafetyConfig struct {
	AssessmentInterval Duration               `yaml:"assessment_interval"`
	AlertHistoryCap    int                    `yaml:"alert_history_cap"`
	Thresholds         []domain.ThresholdRule `yaml:"thresholds"`
	Emergency          EmergencyThresholds    `yaml:"emergency_thresholds"`
}

// EmergencyThresholds are the hard bounds behind IsSystemSafe.
type EmergencyThresholds struct {
	MaxVolatility  float64 `yaml:"max_volatility"`
	MinLiquidity   float64 `yaml:"min_liquidity"`
	MaxCorrelation float64 `yaml:"max_correlation"`
}

type EmergencyConfig struct {
	SendTimeout  Duration        `yaml:"send_timeout"`
	HistoryGrace Duration        `yaml:"history_grace"`
	Telegram     TelegramConfig  `yaml:"telegram"`
	Webhook      WebhookConfig   `yaml:"webhook"`
	Voice        VoiceConfig     `yaml:"voice"`
	Contacts     []ContactConfig `yaml:"contacts"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
}

type WebhookConfig struct {
	Endpoint string   `yaml:"endpoint"`
	Timeout  Duration `yaml:"timeout"`
}

type VoiceConfig struct {
	GatewayURL string   `yaml:"gateway_url"`
	Timeout    Duration `yaml:"timeout"`
}

type ContactConfig struct {
	ID       string                `yaml:"id"`
	Name     string                `yaml:"name"`
	Channels []ContactChannelEntry `yaml:"channels"`
}

type ContactChannelEntry struct {
	Type      string `yaml:"type"`
	Recipient string `yaml:"recipient"`
	Priority  int    `yaml:"priority"`
	Verified  bool   `yaml:"verified"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

// Load reads and validates a YAML config file, filling defaults for
// anything left unset.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg := Default()
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config populated with working defaults.
func Default() *Config {
	return &Config{
		Exchange: ExchangeConfig{
			RESTEndpoint: "https://api.mexc.com",
			WSEndpoint:   "wss://wbs.mexc.com/ws",
			RateLimit:    10,
		},
		Stream: StreamConfig{
			HandshakeTimeout:  Duration(10 * time.Second),
			HeartbeatInterval: Duration(30 * time.Second),
			StaleAfter:        Duration(60 * time.Second),
			ReconnectInitial:  Duration(1 * time.Second),
			ReconnectMax:      Duration(30 * time.Second),
			MaxReconnects:     10,
			BreakerThreshold:  5,
			BreakerCooldown:   Duration(30 * time.Second),
		},
		Detector: DetectorConfig{
			HistorySize:         100,
			MinConfidence:       85,
			AutoSnipeConfidence: 90,
			OrderQuoteSize:      50,
		},
		Monitor: MonitorConfig{
			PollInterval:  Duration(2 * time.Second),
			MaxAttempts:   30,
			MaxPollErrors: 5,
		},
		Safety: SafetyConfig{
			AssessmentInterval: Duration(30 * time.Second),
			AlertHistoryCap:    500,
			Emergency: EmergencyThresholds{
				MaxVolatility:  0.8,
				MinLiquidity:   0.2,
				MaxCorrelation: 0.9,
			},
		},
		Emergency: EmergencyConfig{
			SendTimeout:  Duration(10 * time.Second),
			HistoryGrace: Duration(24 * time.Hour),
		},
		Logging: LoggingConfig{Level: "info"},
		Server:  ServerConfig{Port: 8080},
		Storage: StorageConfig{Path: "sniper.db"},
	}
}

// Validate rejects configurations the services cannot run on.
func (c *Config) Validate() error {
	if c.Exchange.WSEndpoint == "" {
		return fmt.Errorf("exchange.ws_endpoint is required")
	}
	if c.Exchange.RESTEndpoint == "" {
		return fmt.Errorf("exchange.rest_endpoint is required")
	}
	if c.Detector.HistorySize <= 0 {
		return fmt.Errorf("detector.history_size must be positive, got %d", c.Detector.HistorySize)
	}
	if c.Monitor.MaxAttempts <= 0 || c.Monitor.PollInterval <= 0 {
		return fmt.Errorf("monitor poll_interval and max_attempts must be positive")
	}
	for i, rule := range c.Safety.Thresholds {
		if err := ValidateRule(rule); err != nil {
			return fmt.Errorf("safety.thresholds[%d]: %w", i, err)
		}
	}
	for _, contact := range c.Emergency.Contacts {
		if contact.ID == "" {
			return fmt.Errorf("emergency contact without id")
		}
		for _, ch := range contact.Channels {
			switch domain.ChannelType(ch.Type) {
			case domain.ChannelTelegram, domain.ChannelWebhook, domain.ChannelVoice:
			default:
				return fmt.Errorf("contact %s: unknown channel type %q", contact.ID, ch.Type)
			}
		}
	}
	return nil
}

// knownMetrics are the metric names threshold rules may reference.
var knownMetrics = map[string]bool{
	"drawdown":           true,
	"success_rate":       true,
	"consecutive_losses": true,
	"latency_ms":         true,
	"error_rate":         true,
	"volatility":         true,
	"overall":            true,
}

// ValidateRule checks a single threshold rule. Used both at load time and
// when the coordinator receives a runtime configuration update.
func ValidateRule(rule domain.ThresholdRule) error {
	if !knownMetrics[rule.Metric] {
		return fmt.Errorf("unknown metric %q", rule.Metric)
	}
	switch rule.Op {
	case domain.OpGreaterThan, domain.OpLessThan, domain.OpEqual:
	default:
		return fmt.Errorf("unknown operator %q", rule.Op)
	}
	if rule.Value < 0 {
		return fmt.Errorf("threshold value must be non-negative, got %v", rule.Value)
	}
	return nil
}
