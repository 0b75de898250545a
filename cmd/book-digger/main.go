package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/wafkaw/book-digger/internal/util"
	"github.com/wafkaw/book-digger/pkg/logger"
	"github.com/wafkaw/book-digger/pkg/logger/console"
)

var debug bool

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "book-digger",
		Short: "Turn reading highlights into a knowledge graph vault",
		Long: `book-digger extracts concepts, themes, people and emotions from the
highlights of a book and writes them as cross-linked markdown documents.

Configuration is read from the environment and an optional .env file.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			util.LoadEnv()
			logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
				Debug: debug || util.GetEnvBool("DEBUG", false),
			}))
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(analyzeCmd())
	return root
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
