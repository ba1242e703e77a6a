// Command torra ranks the most traded spot symbols by trailing return, buys
// the deepest dip below a threshold and protects it with a bracket exit.
//
// Usage:
//
//	torra --config config.yaml
//	torra --venue paper --quote USDT (uses CLI arguments)
//	torra --listen :443 --tls-domains bot.example.com (control surface over HTTPS)
//
// Credentials are read from the environment:
//
//	production: BINANCE_API_KEY, BINANCE_API_SECRET
//	sandbox:    BINANCE_TESTNET_API_KEY, BINANCE_TESTNET_API_SECRET
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/torra/config"
	"github.com/vadiminshakov/torra/internal"
	"github.com/vadiminshakov/torra/internal/web"
)

func main() {
	conf, warnings, err := config.Get(os.Args[1:], os.Getenv)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := newLogger(conf.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	for _, w := range warnings {
		logger.Warn(w)
	}
	logger.Info("configuration loaded",
		zap.String("venue", string(conf.Venue)),
		zap.String("quote", conf.Quote),
		zap.Bool("read_only", conf.ReadOnly),
		zap.Bool("keys_loaded", conf.KeysLoaded()),
		zap.Stringer("strategy", conf.Strategy))

	bot, err := internal.NewFromConfig(logger, conf)
	if err != nil {
		logger.Fatal("failed to create trading bot", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bot.Run(ctx)
	})
	if conf.ListenAddr != "" {
		srv := web.NewServer(conf.ListenAddr, bot, logger.With(zap.String("component", "web")))
		g.Go(func() error {
			if len(conf.TLSDomains) > 0 {
				return srv.StartWithAutoTLS(ctx, conf.TLSDomains, conf.TLSCacheDir)
			}
			return srv.Start(ctx)
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal("stopped", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
