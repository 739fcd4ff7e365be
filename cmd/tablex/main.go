// Command tablex extracts structured records from tabular data by letting
// a language model write and run Python scripts in a Docker sandbox.
//
// Usage:
//
//	export GEMINI_API_KEY="your-api-key"
//	tablex extract --table people.csv --schema person.yaml
//	tablex runs list
//	tablex serve
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vincentmin/table-agent/pkg/config"
)

var (
	configPath string
	cfg        *config.Config
	// logCloser is set when logs go to a file instead of stderr.
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:           "tablex",
	Short:         "Extract structured records from tables with an LLM-written script",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		return setupLogging(os.Stderr)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Path to the config file")
	rootCmd.AddCommand(extractCmd, runsCmd, serveCmd, modelsCmd)
}

// setupLogging installs the process-wide slog handler at the configured level.
func setupLogging(w io.Writer) error {
	level, err := cfg.LogLevel()
	if err != nil {
		return err
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
	return nil
}

// logToFile redirects logs to path so they do not corrupt a full-screen UI.
func logToFile(path string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	logCloser = f
	return setupLogging(f)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
