package main

import (
	"os"
	"strings"
	"time"

	"github.com/ahmadzakiakmal/escrow-ledger/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var ledger *client.Ledger

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "escrowctl",
		Short:         "Sign and send escrow ledger transactions",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			ledger = client.NewLedger(strings.TrimRight(viper.GetString("node"), "/"), viper.GetDuration("timeout"))
		},
	}

	root.PersistentFlags().String("node", "http://127.0.0.1:5000", "node HTTP address")
	root.PersistentFlags().String("key", "", "hex private key of the sender (or ESCROWCTL_KEY)")
	root.PersistentFlags().Duration("timeout", 45*time.Second, "request timeout")
	_ = viper.BindPFlag("node", root.PersistentFlags().Lookup("node"))
	_ = viper.BindPFlag("key", root.PersistentFlags().Lookup("key"))
	_ = viper.BindPFlag("timeout", root.PersistentFlags().Lookup("timeout"))
	viper.SetEnvPrefix("escrowctl")
	viper.AutomaticEnv()

	root.AddCommand(
		keygenCmd(),
		predictCmd(),
		deployCmd(),
		createItemCmd(),
		payCmd(),
		deliverCmd(),
		itemCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
