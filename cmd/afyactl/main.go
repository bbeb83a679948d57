package main

import (
	"os"

	"github.com/diagnosis/afyaplus/pkg/logger"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("Command failed", logger.Err(err))
		os.Exit(1)
	}
}
