package main

import (
	"os"

	"cosmossdk.io/log"

	"github.com/Matty-7/StockTradingSystem/cmd/exchanged/cmd"
)

func main() {
	rootCmd := cmd.NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		log.NewLogger(os.Stderr).Error("failure when running exchanged", "err", err)
		os.Exit(1)
	}
}
