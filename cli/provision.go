package cli

import (
	"encoding/json"
	"errors"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/amlnet/federator/participant"
)

const filePermission = 0o644

var errInvalidFraction = errors.New("test fraction must be between 0 and 1")

// provisionCmd walks an operator through generating a bank agent
// configuration file without touching JSON by hand.
var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Provision a bank agent",
	Long:  `Interactively generate a participant configuration file for a bank agent.`,
	Run: func(cmd *cobra.Command, _ []string) {
		var (
			brokerURL    = "tcp://localhost:1883"
			federationID = "aml-federation"
			bankID       string
			datasetPath  string
			testFraction = "0.2"
			outputPath   = "config.json"
		)

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("MQTT broker URL").
					Value(&brokerURL),
				huh.NewInput().
					Title("Federation ID").
					Value(&federationID),
				huh.NewInput().
					Title("Bank ID").
					Validate(func(s string) error {
						if s == "" {
							return errors.New("bank ID is required")
						}

						return nil
					}).
					Value(&bankID),
				huh.NewInput().
					Title("Dataset directory").
					Description("Directory holding Bank_<ID>_transactions.json files").
					Validate(func(s string) error {
						if s == "" {
							return errors.New("dataset directory is required")
						}

						return nil
					}).
					Value(&datasetPath),
				huh.NewInput().
					Title("Test fraction").
					Validate(func(s string) error {
						f, err := strconv.ParseFloat(s, 64)
						if err != nil || f <= 0 || f >= 1 {
							return errInvalidFraction
						}

						return nil
					}).
					Value(&testFraction),
				huh.NewInput().
					Title("Output file").
					Value(&outputPath),
			),
		)

		if err := form.Run(); err != nil {
			logErrorCmd(*cmd, err)

			return
		}

		fraction, err := strconv.ParseFloat(testFraction, 64)
		if err != nil {
			logErrorCmd(*cmd, err)

			return
		}

		cfg := participant.Config{
			BrokerURL:    brokerURL,
			FederationID: federationID,
			BankID:       bankID,
			DatasetPath:  datasetPath,
			TestFraction: fraction,
		}
		if err := cfg.Validate(); err != nil {
			logErrorCmd(*cmd, err)

			return
		}

		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			logErrorCmd(*cmd, err)

			return
		}
		if err := os.WriteFile(outputPath, data, filePermission); err != nil {
			logErrorCmd(*cmd, err)

			return
		}

		logSuccessCmd(*cmd, "Successfully wrote "+outputPath)
		logJSONCmd(*cmd, cfg)
	},
}

func NewProvisionCmd() *cobra.Command {
	return provisionCmd
}
