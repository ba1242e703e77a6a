package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/torra/internal/domain"
)

const (
	envAPIKey           = "BINANCE_API_KEY"
	envAPISecret        = "BINANCE_API_SECRET"
	envTestnetAPIKey    = "BINANCE_TESTNET_API_KEY"
	envTestnetAPISecret = "BINANCE_TESTNET_API_SECRET"
)

type Config struct {
	Venue              domain.Venue `validate:"required,oneof=production sandbox paper"`
	Quote              string       `validate:"required,uppercase,alphanum,min=2,max=10"`
	ReadOnly           bool
	APIKey             string        `json:"-"`
	APISecret          string        `json:"-"`
	ListenAddr         string        `validate:"omitempty,hostname_port"`
	TLSDomains         []string      `validate:"dive,fqdn"`
	ScanInterval       time.Duration `validate:"gte=10s"`
	LogLevel           string        `validate:"oneof=debug info warn error"`
	Concurrency        int           `validate:"gte=1,lte=64"`
	SymbolTimeout      time.Duration `validate:"gte=1s"`
	RulesTTL           time.Duration `validate:"gte=1m"`
	SettleDelay        time.Duration `validate:"gte=0s"`
	SettlePollInterval time.Duration `validate:"gte=0s"`
	SettlePolls        int           `validate:"gte=1,lte=10"`
	PaperBalance       decimal.Decimal
	Blacklist          []string `validate:"dive,required,uppercase"`
	MinQuoteVolume     decimal.Decimal
	MaxSpreadBps       decimal.Decimal
	Strategy           domain.StrategyConfig
	TLSCacheDir        string
}

type ConfigTmp struct {
	Venue              string        `yaml:"venue"`
	Quote              string        `yaml:"quote"`
	ReadOnly           bool          `yaml:"read_only"`
	ListenAddr         string        `yaml:"listen_addr,omitempty"`
	ScanInterval       time.Duration `yaml:"scan_interval,omitempty"`
	LogLevel           string        `yaml:"log_level,omitempty"`
	Concurrency        int           `yaml:"concurrency,omitempty"`
	SymbolTimeout      time.Duration `yaml:"symbol_timeout,omitempty"`
	RulesTTL           time.Duration `yaml:"rules_ttl,omitempty"`
	SettleDelay        time.Duration `yaml:"settle_delay,omitempty"`
	SettlePollInterval time.Duration `yaml:"settle_poll_interval,omitempty"`
	SettlePolls        int           `yaml:"settle_polls,omitempty"`
	PaperBalanceStr    string        `yaml:"paper_balance,omitempty"`
	Blacklist          []string      `yaml:"blacklist,omitempty"`
	MinQuoteVolumeStr  string        `yaml:"min_quote_volume,omitempty"`
	MaxSpreadBpsStr    string        `yaml:"max_spread_bps,omitempty"`
	TLSDomains         []string      `yaml:"tls_domains,omitempty"`
	TLSCacheDir        string        `yaml:"tls_cache_dir,omitempty"`
	Strategy           StrategyTmp   `yaml:"strategy"`
}

type StrategyTmp struct {
	UniverseSize  int           `yaml:"universe_size,omitempty"`
	MinDropStr    string        `yaml:"min_drop,omitempty"`
	TakeProfitStr string        `yaml:"take_profit,omitempty"`
	StopLossStr   string        `yaml:"stop_loss,omitempty"`
	TimeStop      time.Duration `yaml:"time_stop,omitempty"`
	Cooldown      time.Duration `yaml:"cooldown,omitempty"`
	Lookback      time.Duration `yaml:"lookback,omitempty"`
}

// Default returns a paper-trading configuration against USDT.
func Default() Config {
	return Config{
		Venue:              domain.VenuePaper,
		Quote:              "USDT",
		ListenAddr:         "127.0.0.1:8080",
		ScanInterval:       time.Minute,
		LogLevel:           "info",
		Concurrency:        12,
		SymbolTimeout:      10 * time.Second,
		RulesTTL:           4 * time.Hour,
		SettleDelay:        3 * time.Second,
		SettlePollInterval: 2 * time.Second,
		SettlePolls:        3,
		PaperBalance:       decimal.NewFromInt(10000),
		MinQuoteVolume:     decimal.Zero,
		MaxSpreadBps:       decimal.Zero,
		Strategy:           domain.DefaultStrategyConfig(),
		TLSCacheDir:        "cert-cache",
	}
}

// Get reads the configuration from a yaml file when --config is given and from
// flags otherwise, then loads credentials from the environment. The returned
// warnings should be logged by the caller.
func Get(args []string, getenv func(string) string) (Config, []string, error) {
	fs := flag.NewFlagSet("torra", flag.ContinueOnError)
	path := fs.String("config", "", "path to yaml config")
	cliFlags := registerFlags(fs)
	if err := fs.Parse(args); err != nil {
		return Config{}, nil, err
	}

	var (
		conf Config
		err  error
	)
	if *path != "" {
		conf, err = getYaml(*path)
	} else {
		conf, err = cliFlags.config()
	}
	if err != nil {
		return Config{}, nil, err
	}

	conf.loadCredentials(getenv)
	warnings := conf.Finalize()
	if err := conf.Validate(); err != nil {
		return Config{}, nil, err
	}
	return conf, warnings, nil
}

func getYaml(path string) (Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return parseYaml(f)
}

func parseYaml(data []byte) (Config, error) {
	var c ConfigTmp
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, errors.Wrap(err, "failed to parse yaml config")
	}

	conf := Default()
	if c.Venue != "" {
		conf.Venue = domain.Venue(strings.ToLower(c.Venue))
	}
	if c.Quote != "" {
		conf.Quote = strings.ToUpper(c.Quote)
	}
	conf.ReadOnly = c.ReadOnly
	setIf(&conf.ListenAddr, c.ListenAddr)
	setIf(&conf.TLSCacheDir, c.TLSCacheDir)
	conf.TLSDomains = c.TLSDomains
	setIf(&conf.LogLevel, c.LogLevel)
	setIf(&conf.ScanInterval, c.ScanInterval)
	setIf(&conf.Concurrency, c.Concurrency)
	setIf(&conf.SymbolTimeout, c.SymbolTimeout)
	setIf(&conf.RulesTTL, c.RulesTTL)
	setIf(&conf.SettleDelay, c.SettleDelay)
	setIf(&conf.SettlePollInterval, c.SettlePollInterval)
	setIf(&conf.SettlePolls, c.SettlePolls)
	setIf(&conf.Strategy.UniverseSize, c.Strategy.UniverseSize)
	setIf(&conf.Strategy.TimeStop, c.Strategy.TimeStop)
	setIf(&conf.Strategy.Cooldown, c.Strategy.Cooldown)
	setIf(&conf.Strategy.Lookback, c.Strategy.Lookback)
	for _, s := range c.Blacklist {
		conf.Blacklist = append(conf.Blacklist, strings.ToUpper(strings.TrimSpace(s)))
	}

	decimals := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"paper_balance", c.PaperBalanceStr, &conf.PaperBalance},
		{"min_quote_volume", c.MinQuoteVolumeStr, &conf.MinQuoteVolume},
		{"max_spread_bps", c.MaxSpreadBpsStr, &conf.MaxSpreadBps},
		{"strategy.min_drop", c.Strategy.MinDropStr, &conf.Strategy.MinDrop},
		{"strategy.take_profit", c.Strategy.TakeProfitStr, &conf.Strategy.TakeProfit},
		{"strategy.stop_loss", c.Strategy.StopLossStr, &conf.Strategy.StopLoss},
	}
	for _, d := range decimals {
		if d.raw == "" {
			continue
		}
		v, err := decimal.NewFromString(d.raw)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect '%s' param in yaml config (must be a decimal), error: %w", d.name, err)
		}
		*d.dst = v
	}
	return conf, nil
}

func setIf[T comparable](dst *T, v T) {
	var zero T
	if v != zero {
		*dst = v
	}
}

func (c *Config) loadCredentials(getenv func(string) string) {
	switch c.Venue {
	case domain.VenueProduction:
		c.APIKey, c.APISecret = getenv(envAPIKey), getenv(envAPISecret)
	case domain.VenueSandbox:
		c.APIKey, c.APISecret = getenv(envTestnetAPIKey), getenv(envTestnetAPISecret)
	}
}

// KeysLoaded reports whether both credential halves are present.
func (c Config) KeysLoaded() bool {
	return c.APIKey != "" && c.APISecret != ""
}

// Finalize normalizes the strategy and forces read-only when a live venue has
// no credentials. It returns what it had to adjust.
func (c *Config) Finalize() []string {
	var warnings []string
	normalized := c.Strategy.Normalize()
	if normalized.String() != c.Strategy.String() {
		warnings = append(warnings, fmt.Sprintf("strategy adjusted to valid ranges: %s", normalized))
	}
	c.Strategy = normalized
	warnings = append(warnings, c.Strategy.Validate()...)

	if c.Venue != domain.VenuePaper && !c.KeysLoaded() && !c.ReadOnly {
		c.ReadOnly = true
		warnings = append(warnings, fmt.Sprintf("no API credentials for %s venue, running read-only", c.Venue))
	}
	return warnings
}

var validate = validator.New()

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	if c.Venue == domain.VenuePaper && !c.PaperBalance.IsPositive() {
		return errors.New("invalid config: paper_balance must be positive")
	}
	if c.MinQuoteVolume.IsNegative() {
		return errors.New("invalid config: min_quote_volume must not be negative")
	}
	if c.MaxSpreadBps.IsNegative() {
		return errors.New("invalid config: max_spread_bps must not be negative")
	}
	return nil
}
