// Command ferret-mq runs a standalone broker.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	ferretmq "github.com/ferretmq/ferret-mq"
	"github.com/ferretmq/ferret-mq/amqp"
	"github.com/ferretmq/ferret-mq/config"
	"github.com/ferretmq/ferret-mq/logger"
	"github.com/ferretmq/ferret-mq/metrics"
)

const shutdownTimeout = 5 * time.Second

func main() {
	var (
		addr       string
		configPath string
		jsonLogs   bool
		credit     int
	)

	root := &cobra.Command{
		Use:   "ferret-mq",
		Short: "A simple multithreaded AMQP message broker",
		Long:  "ferret-mq is an in-memory AMQP message broker.\nQueues are created automatically for sender or receiver addresses.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				var err error
				cfg, err = config.Load(configPath)
				if err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("address") || cfg.Address == "" {
				cfg.Address = addr
			}
			if cmd.Flags().Changed("credit") {
				cfg.CreditWindow = credit
			}
			if jsonLogs {
				cfg.Logging.JSON = true
			}
			return run(cfg)
		},
	}

	root.Flags().StringVarP(&addr, "address", "a", "0.0.0.0", "listen on URL")
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	root.Flags().BoolVar(&jsonLogs, "json-logs", false, "emit structured JSON logs")
	root.Flags().IntVar(&credit, "credit", 100, "credit window granted per publishing link")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	var log logger.Logger
	if cfg.Logging.JSON {
		zl, err := logger.NewZapLogger(cfg.Logging.Level)
		if err != nil {
			return err
		}
		defer zl.Sync()
		log = zl
	}

	opts := []ferretmq.BrokerOption{
		ferretmq.WithCreditWindow(cfg.CreditWindow),
		ferretmq.WithContainerID(cfg.ContainerID),
	}
	if log != nil {
		opts = append(opts, ferretmq.WithLogger(log))
	}

	var reg *prometheus.Registry
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		m, err := metrics.NewMetrics(reg)
		if err != nil {
			return err
		}
		opts = append(opts, ferretmq.WithMetrics(m))
	}

	broker := ferretmq.NewBroker(opts...)

	if reg != nil {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(cfg.Metrics.Address, mux); err != nil {
				broker.Logger().Err("metrics endpoint failed: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		broker.Logger().Info("signal received, shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := broker.Shutdown(ctx); err != nil {
			broker.Logger().Err("shutdown: %v", err)
		}
	}()

	broker.Logger().Info("starting broker on %s", cfg.Address)
	if err := broker.Start(cfg.Address); err != nil {
		var cond amqp.Condition
		if errors.As(err, &cond) {
			broker.Logger().Info("broker shutdown: %s", cond.What())
		}
		return err
	}
	return nil
}
