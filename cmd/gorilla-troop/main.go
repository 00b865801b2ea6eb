// Package main implements the gorilla-troop CLI — the process that
// hosts the Agent Execution Engine, the Workflow Graph Driver, and the
// cross-cutting control paths for one or more projects.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aidlc/gorilla-troop/config"
	"github.com/aidlc/gorilla-troop/internal/app"
)

// Build information (set via ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     "gorilla-troop",
		Short:   "Multi-agent software delivery orchestrator",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")

	rootCmd.AddCommand(
		newProjectCmd(&configPath),
		newReviewCmd(&configPath),
		newAdvanceCmd(&configPath),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

func loadApp(configPath string) (*config.Config, *app.App, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	loader := config.NewLoader(logger)
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = loader.Load()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize app: %w", err)
	}
	return cfg, a, nil
}

func newProjectCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage tracked projects",
	}

	var name, workspacePath string
	createCmd := &cobra.Command{
		Use:   "create <key>",
		Short: "Register a new project and dispatch its first stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			_, a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			if _, err := a.Registry.CreateProject(key, name, workspacePath); err != nil {
				return err
			}
			msg, err := a.Supervisor.Initialize(cmd.Context(), key, workspacePath)
			if err != nil {
				return err
			}
			fmt.Println(msg)
			return nil
		},
	}
	createCmd.Flags().StringVar(&name, "name", "", "Human-readable project name")
	createCmd.Flags().StringVar(&workspacePath, "workspace", "", "Absolute workspace path")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			for _, p := range a.Registry.ListProjects("") {
				fmt.Printf("%s\t%s\t%s\n", p.Key, p.Status, p.WorkspacePath)
			}
			return nil
		},
	}

	pauseCmd := &cobra.Command{
		Use:   "pause <key>",
		Short: "Pause a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			return a.Registry.PauseProject(args[0])
		},
	}

	resumeCmd := &cobra.Command{
		Use:   "resume <key>",
		Short: "Resume a paused project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			return a.Registry.ResumeProject(args[0])
		},
	}

	cmd.AddCommand(createCmd, listCmd, pauseCmd, resumeCmd)
	return cmd
}

func newAdvanceCmd(configPath *string) *cobra.Command {
	var workspacePath string
	cmd := &cobra.Command{
		Use:   "advance <project-key>",
		Short: "Ask the supervisor to dispatch the next ready stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			msg, err := a.Supervisor.Advance(cmd.Context(), args[0], workspacePath)
			if err != nil {
				return err
			}
			fmt.Println(msg)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspacePath, "workspace", "", "Absolute workspace path")
	return cmd
}

func newReviewCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Approve or reject a review-gate issue",
	}

	var projectKey, workspacePath, feedback, editedContentPath string
	approveCmd := &cobra.Command{
		Use:   "approve <issue-id>",
		Short: "Approve a review gate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			edited := ""
			if editedContentPath != "" {
				data, err := os.ReadFile(editedContentPath)
				if err != nil {
					return fmt.Errorf("read edited content: %w", err)
				}
				edited = string(data)
			}
			machine := a.ReviewMachineFor(projectKey, workspacePath)
			res, err := machine.Approve(cmd.Context(), projectKey, args[0], feedback, edited)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	approveCmd.Flags().StringVar(&projectKey, "project", "", "Project key")
	approveCmd.Flags().StringVar(&workspacePath, "workspace", "", "Absolute workspace path")
	approveCmd.Flags().StringVar(&feedback, "feedback", "", "Optional approval feedback")
	approveCmd.Flags().StringVar(&editedContentPath, "edited-content", "", "Path to operator-edited artifact content")

	rejectCmd := &cobra.Command{
		Use:   "reject <issue-id>",
		Short: "Reject a review gate and dispatch rework",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			machine := a.ReviewMachineFor(projectKey, workspacePath)
			res, err := machine.Reject(cmd.Context(), projectKey, workspacePath, args[0], feedback)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	rejectCmd.Flags().StringVar(&projectKey, "project", "", "Project key")
	rejectCmd.Flags().StringVar(&workspacePath, "workspace", "", "Absolute workspace path")
	rejectCmd.Flags().StringVar(&feedback, "feedback", "", "Rejection feedback")

	cmd.AddCommand(approveCmd, rejectCmd)
	return cmd
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
