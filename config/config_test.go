package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/torra/internal/domain"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestGet_Defaults(t *testing.T) {
	conf, warnings, err := Get(nil, env(nil))
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, domain.VenuePaper, conf.Venue)
	assert.Equal(t, "USDT", conf.Quote)
	assert.False(t, conf.ReadOnly)
	assert.True(t, decimal.NewFromInt(10000).Equal(conf.PaperBalance))
	assert.Equal(t, 150, conf.Strategy.UniverseSize)
}

func TestGet_Flags(t *testing.T) {
	args := []string{
		"--venue", "PRODUCTION",
		"--quote", "usdc",
		"--min-drop", "5",
		"--blacklist", "pepeusdc, wifusdc",
		"--scan-interval", "30s",
	}
	conf, warnings, err := Get(args, env(map[string]string{envAPIKey: "k", envAPISecret: "s"}))
	require.NoError(t, err)
	assert.Equal(t, domain.VenueProduction, conf.Venue)
	assert.Equal(t, "USDC", conf.Quote)
	assert.True(t, conf.KeysLoaded())
	assert.False(t, conf.ReadOnly)
	assert.Equal(t, []string{"PEPEUSDC", "WIFUSDC"}, conf.Blacklist)
	assert.Equal(t, 30*time.Second, conf.ScanInterval)
	assert.True(t, decimal.RequireFromString("-0.05").Equal(conf.Strategy.MinDrop))
	assert.Len(t, warnings, 1, "min drop was normalized")
}

func TestGet_TLSFlags(t *testing.T) {
	conf, _, err := Get([]string{"--tls-domains", "Bot.Example.com, ops.example.com", "--tls-cache-dir", "/var/lib/torra/certs"}, env(nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"bot.example.com", "ops.example.com"}, conf.TLSDomains)
	assert.Equal(t, "/var/lib/torra/certs", conf.TLSCacheDir)
}

func TestGet_ForcesReadOnlyWithoutKeys(t *testing.T) {
	conf, warnings, err := Get([]string{"--venue", "sandbox"}, env(map[string]string{envAPIKey: "prod-key", envAPISecret: "prod-secret"}))
	require.NoError(t, err)
	assert.True(t, conf.ReadOnly, "production keys are not used for the sandbox")
	assert.NotEmpty(t, warnings)
}

func TestGet_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown venue", []string{"--venue", "kraken"}},
		{"bad decimal", []string{"--take-profit", "abc"}},
		{"scan too fast", []string{"--scan-interval", "1s"}},
		{"bad log level", []string{"--log-level", "trace"}},
		{"zero paper balance", []string{"--paper-balance", "0"}},
		{"unknown flag", []string{"--pair", "BTC_USDT"}},
		{"bad tls domain", []string{"--tls-domains", "not_a_domain"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Get(tt.args, env(nil))
			assert.Error(t, err)
		})
	}
}

func TestGet_Yaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
venue: sandbox
quote: usdt
read_only: true
scan_interval: 2m
concurrency: 4
paper_balance: "500"
max_spread_bps: "25"
blacklist: [pepeusdt]
tls_domains: [bot.example.com]
strategy:
  universe_size: 80
  min_drop: "-0.03"
  take_profit: "0.03"
  stop_loss: "0.015"
  time_stop: 4h
`), 0o600))

	conf, warnings, err := Get([]string{"--config", path}, env(nil))
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, domain.VenueSandbox, conf.Venue)
	assert.True(t, conf.ReadOnly)
	assert.Equal(t, 2*time.Minute, conf.ScanInterval)
	assert.Equal(t, 4, conf.Concurrency)
	assert.Equal(t, 3*time.Second, conf.SettleDelay, "unset fields keep defaults")
	assert.True(t, decimal.NewFromInt(25).Equal(conf.MaxSpreadBps))
	assert.Equal(t, []string{"PEPEUSDT"}, conf.Blacklist)
	assert.Equal(t, []string{"bot.example.com"}, conf.TLSDomains)
	assert.Equal(t, "cert-cache", conf.TLSCacheDir)
	assert.Equal(t, 80, conf.Strategy.UniverseSize)
	assert.True(t, decimal.RequireFromString("0.015").Equal(conf.Strategy.StopLoss))
	assert.Equal(t, 4*time.Hour, conf.Strategy.TimeStop)
}

func TestParseYaml_BadDecimal(t *testing.T) {
	_, err := parseYaml([]byte("strategy:\n  take_profit: lots\n"))
	assert.ErrorContains(t, err, "strategy.take_profit")
}
