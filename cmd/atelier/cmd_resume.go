package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var resumePrompt string

// resumeCmd restores a persisted session and optionally continues it.
var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Resume a persisted session with its full history",
	Long: `Loads the signed session file, verifies its integrity, restarts the
session's worker tree, and restores the conversation. On success the file is
consumed; on any failure it is left in place so the resume can be retried.

With --prompt, one more exchange is run before the session is saved again.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumePrompt, "prompt", "", "prompt to run after resuming")
}

func runResume(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	sess, err := a.pipeline.Resume(args[0])
	if err != nil {
		return err
	}
	logger.Info("session resumed",
		zap.String("id", sess.ID),
		zap.String("project", sess.ProjectPath))

	state, _ := a.top.GetState(sess.ID)
	msgs, err := state.GetMessages(0, 0)
	if err != nil {
		return err
	}
	fmt.Printf("resumed %s (%s) with %d messages\n", sess.Name, sess.ID, len(msgs))

	if resumePrompt != "" {
		agent, _ := a.top.GetAgent(sess.ID)
		if err := agent.Submit(resumePrompt); err != nil {
			return err
		}
		want := len(msgs) + 2
		deadline := time.Now().Add(2 * time.Minute)
		for {
			msgs, err = state.GetMessages(0, 0)
			if err != nil {
				return err
			}
			if len(msgs) >= want {
				fmt.Println(strings.TrimSpace(msgs[len(msgs)-1].Content))
				break
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("timed out waiting for a reply")
			}
			time.Sleep(20 * time.Millisecond)
		}
	}

	return a.pipeline.StopSession(sess.ID)
}
