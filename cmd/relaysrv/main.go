// Command relaysrv is the chat relay's entrypoint: a single-purpose daemon
// exposing one cobra subcommand, "serve", that wires configuration,
// logging, metrics, the shared client registry, and the TCP accept driver
// together. Grounded on meesudzu-jx2-paysys/cmd/paysys/main.go for the
// overall wiring order and the os/signal + SIGTERM graceful-shutdown
// pattern, and on sun977-NeoScan/neoAgent's go.mod for the choice of
// spf13/cobra as the CLI layer.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"chatrelay/internal/config"
	"chatrelay/internal/metrics"
	"chatrelay/internal/registry"
	"chatrelay/internal/server"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configFile   string
		listenFlag   string
		metricsFlag  string
		logLevelFlag string
	)

	root := &cobra.Command{
		Use:   "relaysrv",
		Short: "relaysrv runs the multi-user chat relay server",
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Accept connections and relay chat frames until terminated",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configFile, listenFlag, metricsFlag, logLevelFlag)
		},
	}

	serve.Flags().StringVar(&configFile, "config", "", "path to a config file (YAML or INI); defaults to a relay.{yaml,ini} file in . or /etc/chatrelay if present")
	serve.Flags().StringVar(&listenFlag, "listen", "", "TCP address to bind for chat connections (overrides config/env)")
	serve.Flags().StringVar(&metricsFlag, "metrics-listen", "", "address to serve Prometheus /metrics on (overrides config/env); an empty metrics.listen in the config file disables it")
	serve.Flags().StringVar(&logLevelFlag, "log-level", "", "logrus level: debug, info, warn, error")

	root.AddCommand(serve)
	return root
}

func runServe(configFile, listenFlag, metricsFlag, logLevelFlag string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.ApplyOverrides(listenFlag, metricsFlag, logLevelFlag)

	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parsing log level %q: %w", cfg.LogLevel, err)
	}
	log.SetLevel(level)

	m := metrics.New()
	reg := registry.New()

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Server.Listen, err)
	}
	log.WithField("addr", cfg.Server.Listen).Info("relay listening")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Metrics.Listen != "" {
		metricsSrv := &http.Server{Addr: cfg.Metrics.Listen, Handler: m.Handler()}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Warn("metrics server stopped unexpectedly")
			}
		}()
		go func() {
			<-ctx.Done()
			_ = metricsSrv.Close()
		}()
		log.WithField("addr", cfg.Metrics.Listen).Info("metrics listening")
	}

	srv := server.New(ln, reg, m, log)
	if err := srv.Serve(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	log.Info("relay shut down cleanly")
	return nil
}
