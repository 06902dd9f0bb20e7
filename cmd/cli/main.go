package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/amlnet/federator/cli"
	"github.com/amlnet/federator/federatord"
	"github.com/amlnet/federator/pkg/sdk"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "federator-cli",
		Short: "Federator CLI",
		Long:  `Federator CLI is a command line interface for interacting with the federation aggregator.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			sdkConf := sdk.Config{
				AggregatorURL:   federatord.DefAggregatorURL,
				TLSVerification: federatord.DefTLSVerification,
			}
			s := sdk.NewSDK(sdkConf)
			cli.SetFederatorSDK(s)
		},
	}

	rootCmd.AddCommand(cli.NewRunsCmd())
	rootCmd.AddCommand(cli.NewParticipantsCmd())
	rootCmd.AddCommand(cli.NewProvisionCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
