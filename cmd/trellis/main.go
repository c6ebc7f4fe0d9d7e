package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Joseda-hg/trellis/internal/config"
	"github.com/Joseda-hg/trellis/internal/db"
	"github.com/Joseda-hg/trellis/internal/model"
	"github.com/Joseda-hg/trellis/internal/store"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath, dbPath string

	root := &cobra.Command{
		Use:           "trellis",
		Short:         "task graph with markers and undo",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	root.PersistentFlags().StringVar(&dbPath, "db", "", "sqlite db path")

	open := func() (*store.Store, error) {
		return openStore(configPath, dbPath)
	}

	result := func(cmd *cobra.Command, r model.OpResult) error {
		fmt.Fprintln(cmd.OutOrStdout(), r.Message)
		if r.Kind == model.ResultError || r.Kind == model.ResultNotFound {
			return fmt.Errorf("%s", r.Message)
		}
		return nil
	}

	var list string
	add := &cobra.Command{
		Use:   "add <description>",
		Short: "create a task; markers on the last line are applied",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open()
			if err != nil {
				return err
			}
			r, _ := s.CreateTask(cmd.Context(), strings.Join(args, " "), list)
			return result(cmd, r)
		},
	}
	add.Flags().StringVarP(&list, "list", "l", "", "target list")
	root.AddCommand(add)

	rename := &cobra.Command{
		Use:   "rename <id> <description>",
		Short: "replace a task's description",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open()
			if err != nil {
				return err
			}
			return result(cmd, s.RenameTask(cmd.Context(), args[0], strings.Join(args[1:], " ")))
		},
	}
	root.AddCommand(rename)
	root.AddCommand(taskCmd("status <id> <pending|in_progress|done>", "set task status", 2, open, result,
		func(ctx context.Context, s *store.Store, args []string) model.OpResult {
			return s.SetStatus(ctx, args[0], model.Status(args[1]))
		}))
	root.AddCommand(taskCmd("move <id> <list>", "move a task and its subtree to another list", 2, open, result,
		func(ctx context.Context, s *store.Store, args []string) model.OpResult {
			return s.MoveTask(ctx, args[0], args[1])
		}))
	root.AddCommand(taskCmd("trash <id>", "move a task and its descendants to the trash", 1, open, result,
		func(ctx context.Context, s *store.Store, args []string) model.OpResult {
			return s.TrashTask(ctx, args[0])
		}))
	root.AddCommand(taskCmd("restore <id>", "restore a trashed task", 1, open, result,
		func(ctx context.Context, s *store.Store, args []string) model.OpResult {
			return s.RestoreTask(ctx, args[0])
		}))
	root.AddCommand(taskCmd("purge", "hard-delete everything in the trash", 0, open, result,
		func(ctx context.Context, s *store.Store, args []string) model.OpResult {
			return s.PurgeTrash(ctx)
		}))
	root.AddCommand(taskCmd("parent <child-id> <parent-id>", "make one task a subtask of another", 2, open, result,
		func(ctx context.Context, s *store.Store, args []string) model.OpResult {
			return s.SetParent(ctx, args[0], args[1])
		}))
	root.AddCommand(taskCmd("unparent <id>", "detach a task from its parent", 1, open, result,
		func(ctx context.Context, s *store.Store, args []string) model.OpResult {
			return s.UnsetParent(ctx, args[0])
		}))
	root.AddCommand(taskCmd("block <blocker-id> <blocked-id>", "record that one task blocks another", 2, open, result,
		func(ctx context.Context, s *store.Store, args []string) model.OpResult {
			return s.AddBlocker(ctx, args[0], args[1])
		}))
	root.AddCommand(taskCmd("unblock <blocker-id> <blocked-id>", "remove a blocking edge", 2, open, result,
		func(ctx context.Context, s *store.Store, args []string) model.OpResult {
			return s.RemoveBlocker(ctx, args[0], args[1])
		}))
	root.AddCommand(taskCmd("relate <id> <id>", "link two tasks as related", 2, open, result,
		func(ctx context.Context, s *store.Store, args []string) model.OpResult {
			return s.AddRelated(ctx, args[0], args[1])
		}))
	root.AddCommand(taskCmd("unrelate <id> <id>", "remove a related link", 2, open, result,
		func(ctx context.Context, s *store.Store, args []string) model.OpResult {
			return s.RemoveRelated(ctx, args[0], args[1])
		}))
	root.AddCommand(taskCmd("priority <id> <p0|p1|p2|p3>", "set task priority; p0 clears it", 2, open, result,
		func(ctx context.Context, s *store.Store, args []string) model.OpResult {
			p, ok := parsePriority(args[1])
			if !ok {
				return model.Errorf("unknown priority %q", args[1])
			}
			return s.SetPriority(ctx, args[0], p)
		}))
	due := &cobra.Command{
		Use:   "due <id> [expr]",
		Short: "set a due date (today, tomorrow, weekday, YYYY-MM-DD); omit to clear",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open()
			if err != nil {
				return err
			}
			expr := ""
			if len(args) == 2 {
				expr = args[1]
			}
			return result(cmd, s.SetDueDate(cmd.Context(), args[0], expr))
		},
	}
	root.AddCommand(due)
	tags := &cobra.Command{
		Use:   "tags <id> [tag...]",
		Short: "replace a task's tags; no tags clears them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open()
			if err != nil {
				return err
			}
			return result(cmd, s.SetTags(cmd.Context(), args[0], args[1:]))
		},
	}
	root.AddCommand(tags)

	root.AddCommand(listCmd(open, result))

	root.AddCommand(taskCmd("undo", "reverse the last operation", 0, open, result,
		func(ctx context.Context, s *store.Store, args []string) model.OpResult {
			return s.Undo(ctx)
		}))
	root.AddCommand(taskCmd("redo", "reapply the last undone operation", 0, open, result,
		func(ctx context.Context, s *store.Store, args []string) model.OpResult {
			return s.Redo(ctx)
		}))

	history := &cobra.Command{
		Use:   "history",
		Short: "show the undo and redo stacks",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open()
			if err != nil {
				return err
			}
			undoLabels, redoLabels, err := s.History(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "undo:")
			for _, l := range undoLabels {
				fmt.Fprintf(out, "  %s\n", l)
			}
			fmt.Fprintln(out, "redo:")
			for _, l := range redoLabels {
				fmt.Fprintf(out, "  %s\n", l)
			}
			return nil
		},
	}
	root.AddCommand(history)

	show := &cobra.Command{
		Use:   "ls [list]",
		Short: "list tasks",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open()
			if err != nil {
				return err
			}
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			tasks, err := s.ListTasks(cmd.Context(), name, false)
			if err != nil {
				return err
			}
			for _, t := range tasks {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  [%s]  %s\n", t.ID, t.Status, s.DisplayDescription(t))
			}
			return nil
		},
	}
	root.AddCommand(show)

	trash := &cobra.Command{
		Use:   "trashed",
		Short: "list the contents of the trash",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open()
			if err != nil {
				return err
			}
			tasks, err := s.ListTrash(cmd.Context())
			if err != nil {
				return err
			}
			for _, t := range tasks {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", t.ID, s.DisplayDescription(t))
			}
			return nil
		},
	}
	root.AddCommand(trash)

	return root
}

func listCmd(open func() (*store.Store, error), result func(*cobra.Command, model.OpResult) error) *cobra.Command {
	list := &cobra.Command{
		Use:   "list",
		Short: "manage lists",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open()
			if err != nil {
				return err
			}
			lists, err := s.ListLists(cmd.Context())
			if err != nil {
				return err
			}
			for _, l := range lists {
				marker := " "
				if l.IsCollapsed {
					marker = "+"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, l.Name)
			}
			return nil
		},
	}

	list.AddCommand(taskCmd("create <name>", "create an empty list", 1, open, result,
		func(ctx context.Context, s *store.Store, args []string) model.OpResult {
			return s.CreateList(ctx, args[0])
		}))
	list.AddCommand(taskCmd("rename <old> <new>", "rename a list", 2, open, result,
		func(ctx context.Context, s *store.Store, args []string) model.OpResult {
			return s.RenameList(ctx, args[0], args[1])
		}))
	list.AddCommand(taskCmd("delete <name>", "delete a list and everything in it", 1, open, result,
		func(ctx context.Context, s *store.Store, args []string) model.OpResult {
			return s.DeleteList(ctx, args[0])
		}))
	list.AddCommand(taskCmd("collapse <name> <true|false>", "set a list's collapsed flag", 2, open, result,
		func(ctx context.Context, s *store.Store, args []string) model.OpResult {
			collapsed, err := strconv.ParseBool(args[1])
			if err != nil {
				return model.Errorf("expected true or false, got %q", args[1])
			}
			return s.SetListCollapsed(ctx, args[0], collapsed)
		}))
	return list
}

func parsePriority(s string) (model.Priority, bool) {
	switch strings.ToLower(s) {
	case "p0", "0", "none":
		return model.PriorityNone, true
	case "p1", "1", "high":
		return model.PriorityHigh, true
	case "p2", "2", "medium":
		return model.PriorityMedium, true
	case "p3", "3", "low":
		return model.PriorityLow, true
	}
	return model.PriorityNone, false
}

type opFunc func(ctx context.Context, s *store.Store, args []string) model.OpResult

func taskCmd(use, short string, nargs int, open func() (*store.Store, error), result func(*cobra.Command, model.OpResult) error, fn opFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open()
			if err != nil {
				return err
			}
			return result(cmd, fn(cmd.Context(), s, args))
		},
	}
}

func openStore(configPath, dbPath string) (*store.Store, error) {
	cfgPath := configPath
	if cfgPath == "" {
		var err error
		cfgPath, err = config.DefaultConfigPath()
		if err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(filepath.Dir(cfgPath), "trellis.db")
	}

	if err := config.EnsureDir(cfg.DBPath); err != nil {
		return nil, err
	}
	sqlDB, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	return store.NewStoreWith(sqlDB, store.Options{
		UndoDepth: cfg.UndoDepth,
		Retry: db.RetryPolicy{
			Attempts:       cfg.RetryAttempts,
			InitialBackoff: time.Duration(cfg.RetryInitialMS) * time.Millisecond,
		},
	}), nil
}
