// Package main implements the atelier CLI: concurrent project sessions with
// signed persistence and resume.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "atelier",
	Short: "atelier - concurrent AI coding sessions with signed persistence",
	Long: `atelier runs several independent working sessions at once, one per
project directory, each with its own conversation history, filesystem
sandbox, and model worker.

Stopped sessions are persisted as HMAC-signed JSON files and can be
resumed later with their full history; tampered or corrupt files are
rejected, never partially restored.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	defaultConfig := filepath.Join(home, ".atelier", "config.yaml")

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfig, "path to config file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(cleanupCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
