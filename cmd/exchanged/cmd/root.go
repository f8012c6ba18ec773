package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for exchanged
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "exchanged",
		Short: "Stock exchange matching engine daemon",
		Long: `exchanged runs a stock exchange: a TCP server speaking the
length-prefixed XML order protocol, a price-time priority matching
engine, and an operational HTTP listener with Prometheus metrics and a
WebSocket market-data feed.`,
	}

	rootCmd.PersistentFlags().String("config", "", "config file (default ./exchange.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level, a single level or module:level pairs (e.g. \"engine:debug,*:info\")")

	rootCmd.AddCommand(
		ServeCmd(),
		VersionCmd(),
	)
	return rootCmd
}

// VersionCmd returns a command to print the version
func VersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the application version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("exchanged v0.1.0")
		},
	}
}
