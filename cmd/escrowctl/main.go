package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "escrowctl",
		Short: "Inspect and operate the review escrow",
		Long: `escrowctl reads escrow state straight from the database.
Jobs lock the client's payment until an approved review releases it to the reviewer,
or a three-arbitrator panel settles a dispute. Balances are credited, never pushed;
accounts withdraw them through the API.`,
		SilenceUsage: true,
	}
	addPersistentFlags(root)
	registerCommands(root)
	return root
}

func main() {
	cobra.OnInitialize(initConfig)
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ESCROWCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags(root *cobra.Command) {
	root.PersistentFlags().StringP("config", "c", "", "config file (defaults to $ESCROW_CONFIG)")
	root.PersistentFlags().StringP("output", "o", "table", "output format: table, json or yaml")
	_ = viper.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("output", root.PersistentFlags().Lookup("output"))
}

func registerCommands(root *cobra.Command) {
	root.AddCommand(
		migrateCmd(),
		jobIDCmd(),
		reportHashCmd(),
		jobCmd(),
		jobsCmd(),
		eventsCmd(),
		balanceCmd(),
		custodyCmd(),
		arbitratorsCmd(),
		paramsCmd(),
	)
}
