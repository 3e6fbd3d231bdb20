package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var cleanupMaxAgeDays int

// cleanupCmd deletes persisted sessions past the age cutoff.
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete persisted sessions older than the age cutoff",
	RunE:  runCleanup,
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupMaxAgeDays, "max-age-days", 0,
		"age cutoff in days (default: config cleanup_max_age_days)")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	days := cleanupMaxAgeDays
	if days <= 0 {
		days = a.cfg.Persistence.CleanupMaxAgeDays
	}

	report, err := a.pipeline.Store().Cleanup(time.Duration(days) * 24 * time.Hour)
	if err != nil {
		return err
	}

	fmt.Printf("examined %d, deleted %d, failed %d\n",
		report.Examined, len(report.Deleted), len(report.Failed))
	for _, id := range report.Deleted {
		fmt.Printf("  deleted %s\n", id)
	}
	for id, ferr := range report.Failed {
		fmt.Printf("  failed  %s: %v\n", id, ferr)
	}
	return nil
}
