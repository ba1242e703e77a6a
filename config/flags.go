package config

import (
	"flag"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/torra/internal/domain"
)

type cliFlags struct {
	venue        *string
	quote        *string
	readOnly     *bool
	listen       *string
	tlsDomains   *string
	logLevel     *string
	paperBalance *string
	blacklist    *string
	universe     *int
	minDrop      *string
	takeProfit   *string
	stopLoss     *string
	base         Config
}

func registerFlags(fs *flag.FlagSet) *cliFlags {
	d := Default()
	f := &cliFlags{base: d}
	f.venue = fs.String("venue", string(d.Venue), "production, sandbox or paper")
	f.quote = fs.String("quote", d.Quote, "quote asset, example: USDT")
	f.readOnly = fs.Bool("read-only", false, "never place or cancel orders")
	f.listen = fs.String("listen", d.ListenAddr, "control surface address, empty disables it")
	f.tlsDomains = fs.String("tls-domains", "", "comma separated domains served over HTTPS with ACME certificates")
	fs.StringVar(&f.base.TLSCacheDir, "tls-cache-dir", d.TLSCacheDir, "directory for ACME certificates")
	f.logLevel = fs.String("log-level", d.LogLevel, "debug, info, warn or error")
	f.paperBalance = fs.String("paper-balance", d.PaperBalance.String(), "starting quote balance of the paper venue")
	f.blacklist = fs.String("blacklist", "", "comma separated symbols never ranked, example: PEPEUSDT,WIFUSDT")
	f.universe = fs.Int("universe", d.Strategy.UniverseSize, "number of most traded symbols ranked")
	f.minDrop = fs.String("min-drop", d.Strategy.MinDrop.String(), "entry threshold on the trailing return, example: -0.04")
	f.takeProfit = fs.String("take-profit", d.Strategy.TakeProfit.String(), "take-profit fraction, example: 0.02")
	f.stopLoss = fs.String("stop-loss", d.Strategy.StopLoss.String(), "stop-loss fraction, example: 0.02")
	fs.DurationVar(&f.base.ScanInterval, "scan-interval", d.ScanInterval, "scan interval")
	fs.DurationVar(&f.base.Strategy.TimeStop, "time-stop", d.Strategy.TimeStop, "close a position still open after this long")
	fs.DurationVar(&f.base.Strategy.Cooldown, "cooldown", d.Strategy.Cooldown, "wait after a decision without candidate")
	fs.IntVar(&f.base.Concurrency, "concurrency", d.Concurrency, "in-flight ranking requests")
	return f
}

func (f *cliFlags) config() (Config, error) {
	conf := f.base
	conf.Venue = domain.Venue(strings.ToLower(*f.venue))
	conf.Quote = strings.ToUpper(*f.quote)
	conf.ReadOnly = *f.readOnly
	conf.ListenAddr = *f.listen
	if *f.tlsDomains != "" {
		for _, s := range strings.Split(*f.tlsDomains, ",") {
			conf.TLSDomains = append(conf.TLSDomains, strings.ToLower(strings.TrimSpace(s)))
		}
	}
	conf.LogLevel = *f.logLevel
	conf.Strategy.UniverseSize = *f.universe
	if *f.blacklist != "" {
		for _, s := range strings.Split(*f.blacklist, ",") {
			conf.Blacklist = append(conf.Blacklist, strings.ToUpper(strings.TrimSpace(s)))
		}
	}

	decimals := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"paper-balance", *f.paperBalance, &conf.PaperBalance},
		{"min-drop", *f.minDrop, &conf.Strategy.MinDrop},
		{"take-profit", *f.takeProfit, &conf.Strategy.TakeProfit},
		{"stop-loss", *f.stopLoss, &conf.Strategy.StopLoss},
	}
	for _, d := range decimals {
		v, err := decimal.NewFromString(d.raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid --%s provided, --%s=%s", d.name, d.name, d.raw)
		}
		*d.dst = v
	}
	return conf, nil
}
