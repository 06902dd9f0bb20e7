// Package federatord hosts the daemon commands that start and drive the
// federation components from the command line.
package federatord

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/absmach/supermq/pkg/prometheus"
	"github.com/absmach/supermq/pkg/server"
	httpserver "github.com/absmach/supermq/pkg/server/http"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	federator "github.com/amlnet/federator"
	"github.com/amlnet/federator/aggregator"
	"github.com/amlnet/federator/aggregator/api"
	"github.com/amlnet/federator/aggregator/middleware"
	"github.com/amlnet/federator/pkg/fl"
	"github.com/amlnet/federator/pkg/mqtt"
	"github.com/amlnet/federator/pkg/storage"
	"github.com/amlnet/federator/pkg/storage/sqlite"
)

const (
	aggregatorSvcName = "aggregator"
	defMQTTTimeout    = 30 * time.Second
	defMQTTQoS        = 2
)

var configPath = "config.toml"

var aggregatorCmd = []cobra.Command{
	{
		Use:   "start",
		Short: "Start aggregator",
		Long:  `Start the federation aggregator.`,
		Run: func(cmd *cobra.Command, _ []string) {
			cfg, err := federator.LoadConfig(configPath)
			if err != nil {
				cmd.PrintErrf("failed to load config: %s\n", err.Error())

				return
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if err := StartAggregator(ctx, cancel, cfg.Aggregator); err != nil {
				cmd.PrintErrf("failed to start aggregator: %s\n", err.Error())
			}
		},
	},
}

func NewAggregatorCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "aggregator [start]",
		Short: "Aggregator management",
		Long:  `Start the aggregator for a federation.`,
	}

	cmd.PersistentFlags().StringVarP(
		&configPath,
		"config",
		"c",
		configPath,
		"Path to the TOML configuration file",
	)

	for i := range aggregatorCmd {
		cmd.AddCommand(&aggregatorCmd[i])
	}

	return &cmd
}

func StartAggregator(ctx context.Context, cancel context.CancelFunc, cfg federator.AggregatorConfig) error {
	g, ctx := errgroup.WithContext(ctx)

	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	if cfg.FederationID == "" {
		cfg.FederationID = "aml-federation"
	}
	if cfg.MQTTAddress == "" {
		cfg.MQTTAddress = "tcp://localhost:1883"
	}
	if cfg.MetricsDB == "" {
		cfg.MetricsDB = "aggregator.db"
	}
	if cfg.HTTPPort == "" {
		cfg.HTTPPort = "7070"
	}

	// The empty federation ID leaves the last will unset: the offline
	// announcement is for bank agents, not the aggregator itself.
	mqttPubSub, err := mqtt.NewPubSub(cfg.MQTTAddress, defMQTTQoS, aggregatorSvcName, aggregatorSvcName, cfg.MQTTPassword, "", defMQTTTimeout, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize mqtt pubsub: %w", err)
	}

	db, err := sqlite.NewDatabase(cfg.MetricsDB)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics database: %w", err)
	}
	defer db.Close()

	svc := aggregator.NewService(
		storage.NewInMemoryStorage(),
		sqlite.NewRoundMetricsRepository(db),
		fl.NewFedAvg(),
		mqttPubSub,
		cfg.FederationID,
		logger,
	)
	svc = middleware.Logging(logger, svc)
	svc = middleware.Tracing(noop.NewTracerProvider().Tracer(aggregatorSvcName), svc)
	counter, latency := prometheus.MakeMetrics(aggregatorSvcName, "api")
	svc = middleware.Metrics(counter, latency, svc)

	if err := svc.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to federation topics: %w", err)
	}
	defer func() {
		if err := svc.Shutdown(context.Background()); err != nil {
			logger.Error("failed to shut down service", slog.Any("error", err))
		}
	}()

	instanceID := uuid.NewString()
	httpServerConfig := server.Config{Port: cfg.HTTPPort}
	hs := httpserver.NewServer(ctx, cancel, aggregatorSvcName, httpServerConfig, api.MakeHandler(svc, logger, instanceID), logger)

	g.Go(func() error {
		return hs.Start()
	})

	g.Go(func() error {
		return server.StopSignalHandler(ctx, cancel, logger, aggregatorSvcName, hs)
	})

	return g.Wait()
}
