package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/amlnet/federator/federatord"
	"github.com/amlnet/federator/pkg/sdk"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "federatord",
		Short: "Federator Daemon",
		Long:  `Federator Daemon manages the lifecycle of the federation components.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			sdkConf := sdk.Config{
				AggregatorURL:   federatord.DefAggregatorURL,
				TLSVerification: federatord.DefTLSVerification,
			}
			s := sdk.NewSDK(sdkConf)
			federatord.SetSDK(s)
		},
	}

	rootCmd.AddCommand(federatord.NewAggregatorCmd())
	rootCmd.AddCommand(federatord.NewParticipantCmd())
	rootCmd.AddCommand(federatord.NewRunsCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
