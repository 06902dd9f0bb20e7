package federatord

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/amlnet/federator/participant"
	"github.com/amlnet/federator/pkg/mqtt"
)

const defHiddenUnits = 16

var participantConfigPath = "config.json"

var participantCmd = []cobra.Command{
	{
		Use:   "start",
		Short: "Start bank agent",
		Long:  `Start a bank's participant agent.`,
		Run: func(cmd *cobra.Command, _ []string) {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if err := StartParticipant(ctx, participantConfigPath); err != nil {
				cmd.PrintErrf("failed to start participant: %s\n", err.Error())
			}
		},
	},
}

func NewParticipantCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "participant [start]",
		Short: "Participant management",
		Long:  `Start a bank agent for a federation.`,
	}

	cmd.PersistentFlags().StringVarP(
		&participantConfigPath,
		"config",
		"c",
		participantConfigPath,
		"Path to the participant configuration file",
	)

	for i := range participantCmd {
		cmd.AddCommand(&participantCmd[i])
	}

	return &cmd
}

func StartParticipant(ctx context.Context, configPath string) error {
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	cfg, err := participant.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	dataset, err := participant.LoadDataset(participant.BankDatasetPath(cfg.DatasetPath, cfg.BankID))
	if err != nil {
		return fmt.Errorf("failed to load dataset: %w", err)
	}
	split := dataset.Split(cfg.TestFraction, cfg.Seed)

	hidden := cfg.HiddenUnits
	if hidden == 0 {
		hidden = defHiddenUnits
	}
	model := participant.NewModel(dataset.FeatureDim(), hidden, cfg.Seed)
	agent := participant.NewAgent(cfg.BankID, model, split)

	pubsub, err := mqtt.NewPubSub(cfg.BrokerURL, defMQTTQoS, cfg.BankID, cfg.BankID, cfg.Password, cfg.FederationID, 30*time.Second, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize mqtt pubsub: %w", err)
	}

	svc := participant.NewService(cfg.FederationID, cfg.BankID, agent, pubsub, logger)

	return svc.Run(ctx)
}
