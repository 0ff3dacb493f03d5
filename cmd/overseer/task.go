package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steveyegge/overseer/internal/model"
	"github.com/steveyegge/overseer/internal/task"
)

var createCmd = &cobra.Command{
	Use:   "create <description>",
	Short: "Create a milestone, task, or subtask",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parent, _ := cmd.Flags().GetString("parent")
		priority, _ := cmd.Flags().GetInt("priority")
		taskCtx, _ := cmd.Flags().GetString("context")
		blockers, _ := cmd.Flags().GetStringSlice("blocks-on")

		in := task.CreateInput{
			Description: args[0],
			Context:     taskCtx,
			Priority:    model.Priority(priority),
			Blockers:    blockers,
		}
		if parent != "" {
			in.ParentID = &parent
		}

		t, err := current.tasks.Create(cmd.Context(), in)
		if err != nil {
			return err
		}
		fmt.Println(t.ID)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show a task's hydrated state, context chain, and inherited learnings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := current.tasks.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := current.tasks.Hydrate(cmd.Context(), t); err != nil {
			return err
		}
		printTask(t)
		return nil
	},
}

func printTask(t *model.Task) {
	fmt.Printf("%s  %s\n", t.ID, t.Description)
	fmt.Printf("  depth:    %d\n", t.Depth)
	fmt.Printf("  priority: %d\n", t.Priority)
	fmt.Printf("  blocked:  %v\n", t.EffectivelyBlocked)
	if t.ParentID != nil {
		fmt.Printf("  parent:   %s\n", *t.ParentID)
	}
	if t.Context != "" {
		fmt.Printf("  context:  %s\n", t.Context)
	}
	if len(t.InheritedLearnings) > 0 {
		fmt.Println("  inherited learnings:")
		for _, l := range t.InheritedLearnings {
			fmt.Printf("    - %s\n", l.Content)
		}
	}
}

var updateCmd = &cobra.Command{
	Use:   "update <task-id>",
	Short: "Update a task's description, context, priority, or parent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch := task.UpdatePatch{}
		if v, _ := cmd.Flags().GetString("description"); v != "" {
			patch.Description = &v
		}
		if v, _ := cmd.Flags().GetString("context"); cmd.Flags().Changed("context") {
			patch.Context = &v
		}
		if cmd.Flags().Changed("priority") {
			v, _ := cmd.Flags().GetInt("priority")
			p := model.Priority(v)
			patch.Priority = &p
		}
		if cmd.Flags().Changed("parent") {
			v, _ := cmd.Flags().GetString("parent")
			patch.ParentIDSet = true
			if v != "" {
				patch.ParentID = &v
			}
		}
		t, err := current.tasks.Update(cmd.Context(), args[0], patch)
		if err != nil {
			return err
		}
		printTask(t)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <task-id>",
	Short: "Permanently delete a task and its descendants",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return current.tasks.Delete(cmd.Context(), args[0])
	},
}

var blockCmd = &cobra.Command{
	Use:   "block <task-id> <blocker-id>",
	Short: "Add a blocker edge: task-id is blocked until blocker-id satisfies it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return current.tasks.AddBlocker(cmd.Context(), args[0], args[1])
	},
}

var unblockCmd = &cobra.Command{
	Use:   "unblock <task-id> <blocker-id>",
	Short: "Remove a blocker edge",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return current.tasks.RemoveBlocker(cmd.Context(), args[0], args[1])
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <substring>",
	Short: "Search task descriptions and context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		results, err := current.tasks.Search(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, t := range results {
			fmt.Printf("%s  %s\n", t.ID, t.Description)
		}
		return nil
	},
}

var blockerGraphCmd = &cobra.Command{
	Use:   "blocker-graph <task-id>",
	Short: "Print the blocker adjacency list reachable from task-id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := current.tasks.BlockerGraph(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, e := range entries {
			if len(e.Blockers) == 0 {
				continue
			}
			fmt.Printf("%s -> %s\n", e.TaskID, strings.Join(e.Blockers, ", "))
		}
		return nil
	},
}

func init() {
	createCmd.Flags().String("parent", "", "parent task id")
	createCmd.Flags().Int("priority", int(model.PriorityMedium), "priority (0=highest, 2=lowest)")
	createCmd.Flags().String("context", "", "task-local context note")
	createCmd.Flags().StringSlice("blocks-on", nil, "blocker task ids, comma-separated")

	updateCmd.Flags().String("description", "", "new description")
	updateCmd.Flags().String("context", "", "new context")
	updateCmd.Flags().Int("priority", 0, "new priority")
	updateCmd.Flags().String("parent", "", "new parent id (empty string clears it)")

	rootCmd.AddCommand(createCmd, showCmd, updateCmd, deleteCmd, blockCmd, unblockCmd, searchCmd, blockerGraphCmd)
}
