// Session listing and inspection commands.
package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// sessionsCmd lists live and resumable sessions.
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List active and resumable sessions",
	RunE:  runSessionsList,
}

var sessionsAuditCmd = &cobra.Command{
	Use:   "audit <session-id>",
	Short: "Show recent file operations recorded for a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsAudit,
}

func init() {
	sessionsCmd.AddCommand(sessionsAuditCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	active := a.top.ListActive()
	if len(active) > 0 {
		fmt.Println("Active sessions:")
		for _, s := range active {
			fmt.Printf("  %s  %-20s %s\n", s.ID, s.Name, s.ProjectPath)
		}
	}

	metas, err := a.pipeline.ListResumable()
	if err != nil {
		return err
	}
	if len(metas) == 0 && len(active) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}
	if len(metas) > 0 {
		fmt.Println("Resumable sessions:")
		for _, m := range metas {
			fmt.Printf("  %s  %-20s %s  (%d messages, closed %s)\n",
				m.ID, m.Name, m.ProjectPath, m.MessageCount,
				m.ClosedAt.Local().Format("2006-01-02 15:04"))
		}
	}
	return nil
}

func runSessionsAudit(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if a.audit == nil {
		return fmt.Errorf("audit store is not available")
	}
	events, err := a.audit.BySession(args[0], 50)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("No recorded file operations.")
		return nil
	}
	for _, e := range events {
		status := "ok"
		if e.Denied {
			status = "DENIED"
		} else if !e.Success {
			status = "failed"
		}
		fmt.Printf("  %s  %-5s %-6s %s\n",
			e.Timestamp.Local().Format("15:04:05"), e.Op, status, e.Path)
	}
	return nil
}
