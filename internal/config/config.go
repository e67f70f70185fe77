package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// PaymentHeaderBearer and PaymentHeaderXCashu name the two ways providers
// accept an ecash credential on an inference request.
const (
	PaymentHeaderBearer = "bearer"
	PaymentHeaderXCashu = "x-cashu"
)

// Config is the full monitor configuration: a YAML file for the provider
// fleet and selection policy, plus environment variables for secrets.
type Config struct {
	// Providers are the gateway base URLs probed each cycle, in order.
	Providers []string `yaml:"providers"`

	// Prompts are rotated across providers; prompt n seasons provider n's
	// request. Wraps around when there are more providers than prompts.
	Prompts []string `yaml:"prompts"`

	Relays  RelayConfig  `yaml:"relays"`
	Select  SelectConfig `yaml:"selection"`
	Wallet  WalletConfig `yaml:"wallet"`
	Probe   ProbeConfig  `yaml:"probe"`

	// Schedule is an optional cron expression; empty means run once and exit.
	Schedule string `yaml:"schedule"`

	// Nsec is the bot's Nostr private key (bech32 nsec or hex).
	// Env only, never YAML.
	Nsec string `yaml:"-"`
}

// RelayConfig lists the relays reports are published to and read from.
type RelayConfig struct {
	Main   []string `yaml:"main"`
	Backup []string `yaml:"backup"`
}

// All returns main relays followed by backups.
func (r RelayConfig) All() []string {
	return append(append([]string{}, r.Main...), r.Backup...)
}

// SelectConfig controls model selection and budgeting.
type SelectConfig struct {
	BracketFloor float64 `yaml:"bracket_floor"` // sats, inclusive
	BracketRange float64 `yaml:"bracket_range"` // sats, bracket width
	SafetyMargin int64   `yaml:"safety_margin"` // sats added to the ceiling
	Fallback     bool    `yaml:"fallback"`      // retry once with no floor
}

// WalletConfig points at the payment-wallet HTTP API.
type WalletConfig struct {
	BaseURL string `yaml:"base_url"`
}

// ProbeConfig controls the per-cycle probe loop.
type ProbeConfig struct {
	MaxProviders  int           `yaml:"max_providers"`
	PaymentHeader string        `yaml:"payment_header"` // "bearer" or "x-cashu"
	HTTPTimeout   time.Duration `yaml:"http_timeout"`
	DataPath      string        `yaml:"data_path"`
}

// Load reads .env (best effort), the YAML config file, and environment
// overrides, then validates. A missing config file is not an error: the
// defaults describe a usable single-shot run against an empty fleet, which
// Validate then rejects, so the failure message names the real problem.
func Load(path string) (*Config, error) {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.Nsec = os.Getenv("NOSTR_BOT_NSEC")
	if v := os.Getenv("WALLET_API_URL"); v != "" {
		cfg.Wallet.BaseURL = v
	}
	if v := os.Getenv("MONITOR_DATA_PATH"); v != "" {
		cfg.Probe.DataPath = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Relays: RelayConfig{
			Main:   []string{"wss://relay.damus.io", "wss://nos.lol"},
			Backup: []string{"wss://multiplexer.huszonegy.world"},
		},
		Select: SelectConfig{
			BracketFloor: DefaultBracketFloor,
			BracketRange: DefaultBracketRange,
			SafetyMargin: DefaultSafetyMargin,
			Fallback:     true,
		},
		Wallet: WalletConfig{BaseURL: DefaultWalletBaseURL},
		Probe: ProbeConfig{
			MaxProviders:  DefaultMaxProviders,
			PaymentHeader: PaymentHeaderBearer,
			HTTPTimeout:   DefaultHTTPTimeout,
			DataPath:      DefaultDataPath,
		},
	}
}

// Validate checks the configuration. Missing credentials are the only fatal
// startup condition; everything else fails per provider at probe time.
func (c *Config) Validate() error {
	if c.Nsec == "" {
		return fmt.Errorf("NOSTR_BOT_NSEC is not set")
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("no providers configured")
	}
	if len(c.Relays.All()) == 0 {
		return fmt.Errorf("no relays configured")
	}
	if c.Select.BracketRange <= 0 {
		return fmt.Errorf("selection.bracket_range must be > 0, got %f", c.Select.BracketRange)
	}
	if c.Select.BracketFloor < 0 {
		return fmt.Errorf("selection.bracket_floor must be >= 0, got %f", c.Select.BracketFloor)
	}
	if c.Select.SafetyMargin < 0 {
		return fmt.Errorf("selection.safety_margin must be >= 0, got %d", c.Select.SafetyMargin)
	}
	switch c.Probe.PaymentHeader {
	case PaymentHeaderBearer, PaymentHeaderXCashu:
	default:
		return fmt.Errorf("probe.payment_header must be %q or %q, got %q",
			PaymentHeaderBearer, PaymentHeaderXCashu, c.Probe.PaymentHeader)
	}
	if c.Probe.MaxProviders <= 0 {
		return fmt.Errorf("probe.max_providers must be > 0, got %d", c.Probe.MaxProviders)
	}
	if c.Probe.HTTPTimeout <= 0 {
		return fmt.Errorf("probe.http_timeout must be > 0, got %s", c.Probe.HTTPTimeout)
	}
	return nil
}
