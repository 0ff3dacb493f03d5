package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/overseer/internal/model"
	"github.com/steveyegge/overseer/internal/workflow"
)

var startCmd = &cobra.Command{
	Use:   "start <task-id>",
	Short: "Check out the task's bookmark and transition it to in_progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if current.workflow == nil {
			return fmt.Errorf("no jj repository found in the current directory")
		}
		followBlockers, _ := cmd.Flags().GetBool("follow-blockers")

		var (
			t   *model.Task
			err error
		)
		if followBlockers {
			t, err = current.workflow.StartFollowBlockers(cmd.Context(), args[0])
		} else {
			t, err = current.workflow.Start(cmd.Context(), args[0])
		}
		if err != nil {
			return err
		}
		printTask(t)
		return nil
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete <task-id>",
	Short: "Commit the working copy if dirty, then mark the task completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if current.workflow == nil {
			return fmt.Errorf("no jj repository found in the current directory")
		}
		result, _ := cmd.Flags().GetString("result")
		message, _ := cmd.Flags().GetString("message")
		learnings, _ := cmd.Flags().GetStringSlice("learn")

		req := workflow.CompleteRequest{
			TaskID:        args[0],
			Learnings:     learnings,
			CommitMessage: message,
		}
		if result != "" {
			req.Result = &result
		}

		t, err := current.workflow.Complete(cmd.Context(), req)
		if err != nil {
			return err
		}
		printTask(t)
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a task (does not satisfy blockers)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := current.tasks.Cancel(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printTask(t)
		return nil
	},
}

var archiveCmd = &cobra.Command{
	Use:   "archive <task-id>",
	Short: "Archive a finished task (milestones cascade to their descendants)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := current.tasks.Archive(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printTask(t)
		return nil
	},
}

var reopenCmd = &cobra.Command{
	Use:   "reopen <task-id>",
	Short: "Reopen a completed task back to pending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := current.tasks.Reopen(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printTask(t)
		return nil
	},
}

var readyCmd = &cobra.Command{
	Use:   "ready [root-task-id]",
	Short: "Show the next task ready to be worked, optionally scoped to a subtree",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var root *string
		if len(args) == 1 {
			root = &args[0]
		}
		t, err := current.tasks.NextReady(cmd.Context(), root)
		if err != nil {
			return err
		}
		if t == nil {
			fmt.Println("no ready task")
			return nil
		}
		printTask(t)
		return nil
	},
}

func init() {
	startCmd.Flags().Bool("follow-blockers", false, "start the first startable task under the given one, following unsatisfied blockers as needed")
	completeCmd.Flags().String("result", "", "short result note")
	completeCmd.Flags().String("message", "", "commit message, if the working copy is dirty")
	completeCmd.Flags().StringSlice("learn", nil, "learning content, repeatable")

	rootCmd.AddCommand(startCmd, completeCmd, cancelCmd, archiveCmd, reopenCmd, readyCmd)
}
