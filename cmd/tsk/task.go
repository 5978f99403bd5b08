package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/steveyegge/tasksync/internal/schema"
	"github.com/steveyegge/tasksync/internal/ui"
)

var (
	addDesc string
	addDue  string
)

var addCmd = &cobra.Command{
	Use:   "add [title]",
	Short: "Create a task",
	Long: `Create a task and queue its create operation for the next sync.

With no title argument an interactive form is shown. Due dates accept
natural language: --due "tomorrow 5pm".`,
	Run: func(cmd *cobra.Command, args []string) {
		title := strings.TrimSpace(strings.Join(args, " "))
		description := addDesc

		if title == "" {
			form := huh.NewForm(huh.NewGroup(
				huh.NewInput().
					Title("Title").
					Value(&title).
					Validate(func(s string) error {
						if strings.TrimSpace(s) == "" {
							return fmt.Errorf("title is required")
						}
						return nil
					}),
				huh.NewText().
					Title("Description").
					Value(&description),
			))
			if err := form.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			title = strings.TrimSpace(title)
		}

		var dueAt *time.Time
		if addDue != "" {
			due, err := parseDue(addDue)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing due date: %v\n", err)
				os.Exit(1)
			}
			dueAt = due
		}

		st := openStore()
		defer st.Close()

		task, err := st.CreateTask(context.Background(), title, description, dueAt)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating task: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Created %s\n", ui.RenderPass("✓"), task.ID)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Long:  `List all tasks that haven't been deleted, oldest first.`,
	Run: func(cmd *cobra.Command, args []string) {
		st := openStore()
		defer st.Close()

		tasks, err := st.ListTasks(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing tasks: %v\n", err)
			os.Exit(1)
		}
		if len(tasks) == 0 {
			fmt.Println("No tasks. Add one with 'tsk add'.")
			return
		}

		for _, t := range tasks {
			box := " "
			if t.Completed {
				box = "x"
			}
			line := fmt.Sprintf("[%s] %s  %s", box, syncMarker(t.SyncStatus), t.Title)
			if t.DueAt != nil {
				line += ui.RenderDim(fmt.Sprintf("  (due %s)", t.DueAt.Local().Format("2006-01-02 15:04")))
			}
			fmt.Println(line)
			fmt.Println(ui.RenderDim("    " + t.ID))
		}
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one task",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		st := openStore()
		defer st.Close()

		task, err := st.GetTask(context.Background(), args[0])
		if err != nil {
			exitTaskErr(err)
		}

		fmt.Printf("ID:          %s\n", task.ID)
		fmt.Printf("Title:       %s\n", task.Title)
		if task.Description != "" {
			fmt.Printf("Description: %s\n", task.Description)
		}
		fmt.Printf("Completed:   %v\n", task.Completed)
		fmt.Printf("Deleted:     %v\n", task.Deleted)
		fmt.Printf("Sync:        %s %s\n", syncMarker(task.SyncStatus), task.SyncStatus)
		if task.ServerID != "" {
			fmt.Printf("Server ID:   %s\n", task.ServerID)
		}
		fmt.Printf("Created:     %s\n", task.CreatedAt.Local().Format(time.RFC3339))
		fmt.Printf("Updated:     %s\n", task.UpdatedAt.Local().Format(time.RFC3339))
		if task.DueAt != nil {
			fmt.Printf("Due:         %s\n", task.DueAt.Local().Format(time.RFC3339))
		}
		if task.LastSyncedAt != nil {
			fmt.Printf("Last sync:   %s\n", task.LastSyncedAt.Local().Format(time.RFC3339))
		}
	},
}

var (
	editTitle    string
	editDesc     string
	editDue      string
	editClearDue bool
	editReopen   bool
)

var doneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Mark a task completed",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		completed := true
		applyPatch(args[0], schema.TaskPatch{Completed: &completed})
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Edit a task's fields",
	Long:  `Edit only the supplied fields; everything else is left alone.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var patch schema.TaskPatch
		if cmd.Flags().Changed("title") {
			patch.Title = &editTitle
		}
		if cmd.Flags().Changed("desc") {
			patch.Description = &editDesc
		}
		if editReopen {
			reopen := false
			patch.Completed = &reopen
		}
		if editClearDue {
			patch.ClearDue = true
		} else if editDue != "" {
			due, err := parseDue(editDue)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing due date: %v\n", err)
				os.Exit(1)
			}
			patch.DueAt = due
		}

		if patch.IsEmpty() {
			fmt.Fprintf(os.Stderr, "Error: nothing to change (see 'tsk edit --help')\n")
			os.Exit(1)
		}

		applyPatch(args[0], patch)
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a task",
	Long: `Soft-delete a task. The row is kept for audit and replay; a delete
operation is queued for the remote.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		st := openStore()
		defer st.Close()

		if err := st.DeleteTask(context.Background(), args[0]); err != nil {
			exitTaskErr(err)
		}
		fmt.Printf("%s Deleted %s\n", ui.RenderPass("✓"), args[0])
	},
}

// applyPatch runs an update and prints the outcome.
func applyPatch(id string, patch schema.TaskPatch) {
	st := openStore()
	defer st.Close()

	task, err := st.UpdateTask(context.Background(), id, patch)
	if err != nil {
		exitTaskErr(err)
	}
	fmt.Printf("%s Updated %s\n", ui.RenderPass("✓"), task.ID)
}

// exitTaskErr prints a task operation error and exits with the matching
// code: 2 for bad input, 3 for not found, 1 otherwise.
func exitTaskErr(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	switch {
	case schema.IsValidation(err):
		os.Exit(2)
	case errors.Is(err, schema.ErrNotFound):
		os.Exit(3)
	default:
		os.Exit(1)
	}
}

// parseDue turns natural-language input into a timestamp.
func parseDue(input string) (*time.Time, error) {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(input, time.Now())
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("could not understand %q", input)
	}
	t := r.Time
	return &t, nil
}

// syncMarker renders a one-glyph sync state indicator.
func syncMarker(status schema.SyncStatus) string {
	switch status {
	case schema.SyncSynced:
		return ui.RenderPass("✓")
	case schema.SyncError:
		return ui.RenderFail("✗")
	default:
		return ui.RenderWarn("●")
	}
}

func init() {
	addCmd.Flags().StringVar(&addDesc, "desc", "", "task description")
	addCmd.Flags().StringVar(&addDue, "due", "", `due date, e.g. "friday 17:00"`)

	editCmd.Flags().StringVar(&editTitle, "title", "", "new title")
	editCmd.Flags().StringVar(&editDesc, "desc", "", "new description")
	editCmd.Flags().StringVar(&editDue, "due", "", "new due date (natural language)")
	editCmd.Flags().BoolVar(&editClearDue, "clear-due", false, "remove the due date")
	editCmd.Flags().BoolVar(&editReopen, "reopen", false, "mark not completed")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(doneCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(rmCmd)
}
