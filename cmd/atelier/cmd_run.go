package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runProject string
	runName    string
	runDiscard bool
)

// runCmd starts a session, processes one prompt, and persists the session.
var runCmd = &cobra.Command{
	Use:   "run [prompt]",
	Short: "Run a prompt in a session rooted at a project directory",
	Long: `Starts a session for the project directory, streams the model's
reply for the given prompt, then stops the session and persists it.

The persisted session can be picked up again with 'atelier resume'.

Example:
  atelier run --project ~/src/myapp "explain the build pipeline"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPrompt,
}

func init() {
	runCmd.Flags().StringVarP(&runProject, "project", "p", "", "project directory (default: current directory)")
	runCmd.Flags().StringVarP(&runName, "name", "n", "", "session name (default: project directory name)")
	runCmd.Flags().BoolVar(&runDiscard, "discard", false, "do not persist the session on exit")
}

func runPrompt(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	project := runProject
	if project == "" {
		if project, err = os.Getwd(); err != nil {
			return err
		}
	}
	name := runName
	if name == "" {
		name = filepath.Base(project)
	}

	sess, err := a.top.CreateSession(name, project, a.sessionConfig())
	if err != nil {
		return err
	}
	logger.Info("session started",
		zap.String("id", sess.ID),
		zap.String("project", sess.ProjectPath))

	state, _ := a.top.GetState(sess.ID)
	agent, _ := a.top.GetAgent(sess.ID)

	prompt := strings.Join(args, " ")
	if err := agent.Submit(prompt); err != nil {
		return err
	}

	// The agent appends the user prompt and then the finished reply; wait for
	// both to land.
	deadline := time.Now().Add(2 * time.Minute)
	for {
		msgs, err := state.GetMessages(0, 0)
		if err != nil {
			return err
		}
		if len(msgs) >= 2 {
			fmt.Println(msgs[len(msgs)-1].Content)
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for a reply")
		}
		time.Sleep(20 * time.Millisecond)
	}

	if runDiscard {
		return a.top.StopSession(sess.ID)
	}
	if err := a.pipeline.StopSession(sess.ID); err != nil {
		return err
	}
	fmt.Printf("session %s saved; resume with: atelier resume %s\n", sess.ID, sess.ID)
	return nil
}
