package cli

import (
	"github.com/spf13/cobra"

	"github.com/amlnet/federator/pkg/sdk"
)

var (
	defOffset uint64 = 0
	defLimit  uint64 = 10

	totalRounds  int
	epochs       int
	batchSize    int
	learningRate float64
	proximalMu   float64
	fraction     float64
)

var fsdk sdk.SDK

func SetFederatorSDK(s sdk.SDK) {
	fsdk = s
}

func NewRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs [create|view|list|delete|start|stop|model|metrics]",
		Short: "Runs manager",
		Long:  `Create, view, list, delete, start, stop federation runs and fetch their models and metrics.`,
	}

	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create run",
		Long: `Create a federation run.

Examples:
  # Create a run with the default five rounds
  federator-cli runs create aml-q3

  # Create a run with a custom schedule
  federator-cli runs create aml-q3 --rounds=10 --epochs=50 --fraction=0.8`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			r, err := fsdk.CreateRun(sdk.Run{
				Name: args[0],
				Config: sdk.RunConfig{
					TotalRounds:       totalRounds,
					Epochs:            epochs,
					BatchSize:         batchSize,
					LearningRate:      learningRate,
					ProximalMu:        proximalMu,
					SelectionFraction: fraction,
				},
			})
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, r)
		},
	}

	createCmd.Flags().IntVar(&totalRounds, "rounds", 0, "Number of federation rounds")
	createCmd.Flags().IntVar(&epochs, "epochs", 0, "Local training epochs per round")
	createCmd.Flags().IntVar(&batchSize, "batch-size", 0, "Local training batch size")
	createCmd.Flags().Float64Var(&learningRate, "learning-rate", 0, "Local training learning rate")
	createCmd.Flags().Float64Var(&proximalMu, "proximal-mu", 0, "FedProx proximal term coefficient")
	createCmd.Flags().Float64Var(&fraction, "fraction", 0, "Fraction of participants selected per round")

	viewCmd := &cobra.Command{
		Use:   "view <id>",
		Short: "View run",
		Long:  `View run.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			r, err := fsdk.GetRun(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, r)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		Long:  `List runs.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			rp, err := fsdk.ListRuns(defOffset, defLimit)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, rp)
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete run",
		Long:  `Delete run.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			if err := fsdk.DeleteRun(args[0]); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logOKCmd(*cmd)
		},
	}

	startCmd := &cobra.Command{
		Use:   "start <id>",
		Short: "Start run",
		Long:  `Start run.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			if err := fsdk.StartRun(args[0]); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logOKCmd(*cmd)
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop <id>",
		Short: "Stop run",
		Long:  `Stop run.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			if err := fsdk.StopRun(args[0]); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logOKCmd(*cmd)
		},
	}

	modelCmd := &cobra.Command{
		Use:   "model <id>",
		Short: "Fetch run model",
		Long:  `Fetch the run's current global model parameters.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			m, err := fsdk.GetRunModel(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, m)
		},
	}

	metricsCmd := &cobra.Command{
		Use:   "metrics <id>",
		Short: "Fetch run metrics",
		Long:  `Fetch the run's per-round aggregated metric history.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			mp, err := fsdk.GetRunMetrics(args[0], defOffset, defLimit)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, mp)
		},
	}

	cmd.AddCommand(createCmd)
	cmd.AddCommand(viewCmd)
	cmd.AddCommand(listCmd)
	cmd.AddCommand(deleteCmd)
	cmd.AddCommand(startCmd)
	cmd.AddCommand(stopCmd)
	cmd.AddCommand(modelCmd)
	cmd.AddCommand(metricsCmd)

	return cmd
}

func NewParticipantsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "participants [list]",
		Short: "Participants manager",
		Long:  `List the banks connected to the aggregator.`,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List participants",
		Long:  `List participants.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			pp, err := fsdk.ListParticipants(defOffset, defLimit)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, pp)
		},
	}

	cmd.AddCommand(listCmd)

	return cmd
}
