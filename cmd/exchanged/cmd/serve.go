package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cosmossdk.io/log"
	dbm "github.com/cosmos/cosmos-db"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Matty-7/StockTradingSystem/exchange/book"
	"github.com/Matty-7/StockTradingSystem/exchange/engine"
	"github.com/Matty-7/StockTradingSystem/exchange/protocol"
	"github.com/Matty-7/StockTradingSystem/exchange/store"
	"github.com/Matty-7/StockTradingSystem/feed"
	"github.com/Matty-7/StockTradingSystem/metrics"
	"github.com/Matty-7/StockTradingSystem/server"
)

const envPrefix = "EXCHANGE"

const shutdownGrace = 10 * time.Second

// ServeCmd returns the command that runs the exchange server
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the exchange server",
		Long: `Starts the TCP order server and the operational HTTP listener.

Settings resolve in order: flags, EXCHANGE_* environment variables,
the config file, then built-in defaults. Flag names map to environment
variables with dashes replaced by underscores (--ops-listen becomes
EXCHANGE_OPS_LISTEN).`,
		RunE: runServe,
	}

	cmd.Flags().String("listen", ":12345", "TCP listen address for the order protocol")
	cmd.Flags().String("ops-listen", ":8080", "HTTP listen address for metrics, health and the market-data feed")
	cmd.Flags().String("book", "btree", "order book implementation (btree|skiplist)")
	cmd.Flags().Int("max-payload-bytes", 1<<20, "maximum request payload size in bytes")
	cmd.Flags().Duration("read-timeout", 0, "per-connection idle read timeout (0 disables)")
	cmd.Flags().Duration("write-timeout", 30*time.Second, "per-reply write timeout")
	cmd.Flags().Duration("lock-timeout", 5*time.Second, "store row lock acquisition timeout")
	cmd.Flags().Duration("quote-interval", 100*time.Millisecond, "feed top-of-book flush interval")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	v, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	filter, err := log.ParseLogLevel(v.GetString("log-level"))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logger := log.NewLogger(os.Stderr, log.FilterOption(filter))

	kind, err := book.ParseKind(v.GetString("book"))
	if err != nil {
		return err
	}

	collector := metrics.GetCollector()

	storeCfg := store.DefaultConfig()
	if d := v.GetDuration("lock-timeout"); d > 0 {
		storeCfg.LockTimeout = d
	}
	st := store.New(dbm.NewMemDB(), storeCfg, logger)

	books := book.NewRegistry(kind)
	eng := engine.New(st, books, logger)
	eng.SetMetrics(collector)

	feedCfg := feed.DefaultConfig()
	if d := v.GetDuration("quote-interval"); d > 0 {
		feedCfg.QuoteInterval = d
	}
	hub := feed.NewHub(feedCfg, logger)
	hub.SetMetrics(collector)
	eng.SetEventSink(hub)

	if err := eng.RebuildBooks(); err != nil {
		return fmt.Errorf("rebuild books: %w", err)
	}

	handler := protocol.NewHandler(st, eng, logger)
	handler.SetMetrics(collector)

	srvCfg := server.DefaultConfig()
	srvCfg.Listen = v.GetString("listen")
	if n := v.GetInt("max-payload-bytes"); n > 0 {
		srvCfg.MaxPayloadBytes = n
	}
	srvCfg.ReadTimeout = v.GetDuration("read-timeout")
	srvCfg.WriteTimeout = v.GetDuration("write-timeout")
	srv := server.New(srvCfg, handler, logger)
	srv.SetMetrics(collector)

	opsCfg := server.DefaultOpsConfig()
	opsCfg.Listen = v.GetString("ops-listen")
	ops := server.NewOpsServer(opsCfg, hub, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go hub.Run(ctx)

	if err := srv.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	if err := ops.Start(); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = srv.Stop(shutdownCtx)
		return fmt.Errorf("start ops listener: %w", err)
	}

	logger.Info("exchange up",
		"listen", srv.Addr().String(),
		"ops_listen", ops.Addr().String(),
		"book", string(kind),
	)

	<-ctx.Done()
	stop()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("server shutdown", "err", err)
	}
	if err := ops.Stop(shutdownCtx); err != nil {
		logger.Error("ops shutdown", "err", err)
	}
	logger.Info("server exited")
	return nil
}

// loadConfig resolves settings from flags, environment and the config
// file, in that order of precedence.
func loadConfig(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	if err := v.BindPFlags(cmd.InheritedFlags()); err != nil {
		return nil, err
	}

	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
		return v, nil
	}

	v.SetConfigName("exchange")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.exchange")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}
	return v, nil
}
