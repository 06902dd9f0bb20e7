package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amlnet/federator/participant"
	"github.com/amlnet/federator/pkg/mqtt"
)

const (
	defConfigPath = "participant/config.json"
	defHidden     = 16
	mqttTimeout   = 30 * time.Second
	mqttQoS       = 2
)

var (
	configPath string
	logLevel   slog.Level
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	flag.StringVar(&configPath, "config", defConfigPath, "Path to the participant configuration file")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := configureLogger("info")
	slog.SetDefault(logger)

	logger.Info("Starting participant agent")

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	cfg, err := participant.LoadConfig(configPath)
	if err != nil {
		logger.Error("Failed to load configuration", slog.String("path", configPath), slog.Any("error", err))

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	dataset, err := participant.LoadDataset(participant.BankDatasetPath(cfg.DatasetPath, cfg.BankID))
	if err != nil {
		logger.Error("Failed to load dataset",
			slog.String("path", cfg.DatasetPath),
			slog.String("bank_id", cfg.BankID),
			slog.Any("error", err),
		)

		return fmt.Errorf("failed to load dataset: %w", err)
	}
	split := dataset.Split(cfg.TestFraction, cfg.Seed)

	logger.Info("Dataset loaded",
		slog.String("bank_id", cfg.BankID),
		slog.Int("train_samples", len(split.TrainFeatures)),
		slog.Int("test_samples", len(split.TestFeatures)),
	)

	hidden := cfg.HiddenUnits
	if hidden == 0 {
		hidden = defHidden
	}
	model := participant.NewModel(dataset.FeatureDim(), hidden, cfg.Seed)
	agent := participant.NewAgent(cfg.BankID, model, split)

	pubsub, err := mqtt.NewPubSub(cfg.BrokerURL, mqttQoS, cfg.BankID, cfg.BankID, cfg.Password, cfg.FederationID, mqttTimeout, logger)
	if err != nil {
		logger.Error("Failed to initialize mqtt pubsub", slog.Any("error", err))

		return fmt.Errorf("failed to initialize mqtt pubsub: %w", err)
	}

	svc := participant.NewService(cfg.FederationID, cfg.BankID, agent, pubsub, logger)

	if err := svc.Run(ctx); err != nil {
		logger.Error("Error running participant agent", slog.Any("error", err))

		return fmt.Errorf("participant agent error: %w", err)
	}

	return nil
}

func configureLogger(level string) *slog.Logger {
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		log.Printf("Invalid log level: %s. Defaulting to info.\n", level)
		logLevel = slog.LevelInfo
	}

	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})

	return slog.New(logHandler)
}
