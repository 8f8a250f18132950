package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/agent"
	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/eventlog"
	"github.com/loomworks/loom/internal/identifier"
	"github.com/loomworks/loom/internal/logging"
	"github.com/loomworks/loom/internal/orchestrator"
	"github.com/loomworks/loom/internal/phase"
	"github.com/loomworks/loom/internal/policy"
	"github.com/loomworks/loom/internal/storage"
	"github.com/loomworks/loom/internal/tracker"
	"github.com/loomworks/loom/internal/tui"
	"github.com/loomworks/loom/internal/validation"
	"github.com/loomworks/loom/internal/workspace"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "loom",
		Short: "Multi-phase content pipeline orchestrator",
		Long:  "Loom turns a content brief into a finished artifact by coordinating phased agent invocations.",
		RunE:  runTUI,
	}

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newKillCommand())
	rootCmd.AddCommand(newDeleteCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openStore(cfg *config.Config) (*storage.Store, error) {
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	store, err := storage.New(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open run catalog: %w", err)
	}
	return store, nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	app := tui.NewApp(store, cfg.RunsDir())
	p := tea.NewProgram(app, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Open the interactive run monitor",
		Args:  cobra.NoArgs,
		RunE:  runTUI,
	}
}

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <brief-file>",
		Short: "Start a pipeline run from a content brief",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			briefPath := args[0]
			nameFlag, _ := cmd.Flags().GetString("name")
			pipelinePath, _ := cmd.Flags().GetString("pipeline")
			policySpec, _ := cmd.Flags().GetString("policy")
			profile, _ := cmd.Flags().GetString("profile")
			noExec, _ := cmd.Flags().GetBool("no-exec")
			validate, _ := cmd.Flags().GetBool("validate")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if profile != "" {
				cfg.AgentProfile = profile
			}

			runName, err := resolveRunName(briefPath, nameFlag)
			if err != nil {
				return err
			}

			registry := phase.Default(cfg.PhaseTimeout)
			pipelineName := "default"
			if pipelinePath != "" {
				registry, err = phase.Load(pipelinePath, cfg.PhaseTimeout)
				if err != nil {
					return err
				}
				pipelineName = strings.TrimSuffix(filepath.Base(pipelinePath), filepath.Ext(pipelinePath))
			}

			if noExec {
				return printPlan(cmd, runName, pipelineName, registry)
			}

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			ws, err := workspace.Create(cfg.RunsDir(), runName)
			if err != nil {
				return err
			}
			if _, err := ws.CopyBrief(briefPath); err != nil {
				return err
			}
			brief, err := os.ReadFile(ws.BriefPath())
			if err != nil {
				return err
			}

			if err := store.CreateRun(&storage.RunRecord{
				Name:          runName,
				Brief:         string(brief),
				Pipeline:      pipelineName,
				Status:        storage.RunStatusPending,
				WorkspacePath: ws.Root,
			}); err != nil {
				return err
			}

			logger, err := logging.NewRunLogger(ws.DiagnosticLogPath())
			if err != nil {
				return err
			}
			defer logger.Sync()

			log, err := eventlog.Open(ws.LogsDir)
			if err != nil {
				return err
			}

			provider, err := policy.FromSpec(policySpec, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}

			orch := &orchestrator.Orchestrator{
				RunName:   runName,
				Pipeline:  pipelineName,
				Registry:  registry,
				Log:       log,
				Workspace: ws,
				Commands: &agent.Builder{
					Command:   cfg.AgentCommand,
					Profile:   cfg.AgentProfile,
					RunName:   runName,
					Pipeline:  pipelineName,
					Workspace: ws,
				},
				Policy:        provider,
				Tracker:       tracker.New(cfg.TrackerCommand, logger),
				Catalog:       store,
				Logger:        logger,
				MaxAttempts:   cfg.MaxPhaseAttempts,
				BackoffFactor: cfg.BackoffFactor,
				Grace:         cfg.GracePeriod,
			}
			if validate {
				orch.Validation = &validation.Loop{
					Stages:      validation.DefaultStages(cfg.PhaseTimeout),
					MaxAttempts: cfg.ValidationAttempts,
					KB:          store,
					Dir:         ws.ArtifactDir,
					LogsDir:     ws.LogsDir,
					Logger:      logger,
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Starting run %q (%s pipeline)\n", runName, pipelineName)
			report, err := orch.Run(cmd.Context())
			if err != nil {
				store.SetRunStatus(runName, storage.RunStatusFailed)
				return err
			}
			report.Render(cmd.OutOrStdout())
			if code := report.ExitCode(); code != 0 {
				cmd.SilenceUsage = true
				cmd.SilenceErrors = true
				os.Exit(code)
			}
			return nil
		},
	}

	cmd.Flags().String("name", "", "run name (defaults to the brief file name)")
	cmd.Flags().String("pipeline", "", "pipeline definition YAML (defaults to the built-in pipeline)")
	cmd.Flags().String("policy", "", "failure policy: abort, retry, backoff, skip, interactive, or a .lua script")
	cmd.Flags().String("profile", "", "agent profile override")
	cmd.Flags().Bool("no-exec", false, "print the execution plan without running anything")
	cmd.Flags().Bool("validate", false, "run the validation gauntlet over the finished artifact")

	return cmd
}

// resolveRunName derives a run name from the brief file unless one was given
// explicitly. Either way the name passes identifier validation before it can
// become a path.
func resolveRunName(briefPath, nameFlag string) (string, error) {
	if nameFlag != "" {
		return identifier.Validate(nameFlag)
	}
	base := filepath.Base(briefPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	for _, prefix := range []string{"spec_", "spec-"} {
		if strings.HasPrefix(base, prefix) {
			return identifier.ValidateStripped(base, prefix)
		}
	}
	return identifier.Validate(base)
}

func printPlan(cmd *cobra.Command, runName, pipelineName string, registry *phase.Registry) error {
	waves, err := registry.Waves()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Run %q, %s pipeline, %d phase(s):\n", runName, pipelineName, len(registry.Names()))
	for i, wave := range waves {
		var names []string
		for _, p := range wave {
			names = append(names, p.Name)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  wave %d: %s\n", i+1, strings.Join(names, ", "))
	}
	return nil
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <run>",
		Short: "Show a run's phases and event coverage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := identifier.Validate(args[0])
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.GetRun(name)
			if err != nil {
				return fmt.Errorf("run %q not found", name)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Run %s: %s (%s pipeline)\n", run.Name, run.Status, run.Pipeline)

			phases, err := store.PhasesForRun(name)
			if err != nil {
				return err
			}
			for _, p := range phases {
				line := fmt.Sprintf("  %-12s %-10s attempts=%d", p.Phase, p.Status, p.Attempts)
				if p.ExitCode != nil {
					line += fmt.Sprintf(" exit=%d", *p.ExitCode)
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}

			ws, err := workspace.Open(cfg.RunsDir(), name)
			if err != nil {
				return nil
			}
			log, err := eventlog.Open(ws.LogsDir)
			if err != nil {
				return err
			}
			registry := phase.Default(cfg.PhaseTimeout)
			cov, err := log.Coverage(registry.Names())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Event log: %d complete, %d failed, %d missing\n",
				len(cov.Completed), len(cov.Failed), len(cov.Missing))
			return nil
		},
	}
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(20)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs yet.")
				return nil
			}
			for _, run := range runs {
				completed := ""
				if run.CompletedAt != nil {
					completed = run.CompletedAt.Format("2006-01-02 15:04")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %-10s %-10s %s\n",
					run.Name, run.Status, run.Pipeline, completed)
			}
			return nil
		},
	}
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <run>",
		Short: "Run the validation gauntlet over a finished run's artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := identifier.Validate(args[0])
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			ws, err := workspace.Open(cfg.RunsDir(), name)
			if err != nil {
				return err
			}
			logger, err := logging.NewRunLogger(ws.DiagnosticLogPath())
			if err != nil {
				return err
			}
			defer logger.Sync()

			loop := &validation.Loop{
				Stages:      validation.DefaultStages(cfg.PhaseTimeout),
				MaxAttempts: cfg.ValidationAttempts,
				KB:          store,
				Dir:         ws.ArtifactDir,
				LogsDir:     ws.LogsDir,
				Logger:      logger,
			}
			summary, err := loop.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Validation: %s after %d attempt(s)\n",
				summary.Outcome, len(summary.Attempts))
			for _, attempt := range summary.Attempts {
				if attempt.Signature != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "  attempt %d: %s", attempt.Number, attempt.Signature)
					if attempt.Remediation != "" {
						fmt.Fprintf(cmd.OutOrStdout(), " (%s)", attempt.Remediation)
					}
					fmt.Fprintln(cmd.OutOrStdout())
				}
			}
			if summary.Outcome != validation.OutcomeSucceeded {
				os.Exit(1)
			}
			return nil
		},
	}
}

func newKillCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "kill <run>",
		Short: "Force-terminate a run's live phases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := identifier.Validate(args[0])
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			ws, err := workspace.Open(cfg.RunsDir(), name)
			if err != nil {
				return err
			}
			log, err := eventlog.Open(ws.LogsDir)
			if err != nil {
				return err
			}
			killed, err := orchestrator.Kill(log)
			if err != nil {
				return err
			}
			if err := store.SetRunStatus(name, storage.RunStatusAborted); err != nil {
				return err
			}
			if len(killed) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No live phases.")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Killed phases: %s\n", strings.Join(killed, ", "))
			}
			return nil
		},
	}
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run>",
		Short: "Delete a run's workspace and catalog entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := identifier.Validate(args[0])
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if ws, err := workspace.Open(cfg.RunsDir(), name); err == nil {
				if err := os.RemoveAll(ws.Root); err != nil {
					return fmt.Errorf("remove workspace: %w", err)
				}
			}
			if err := store.DeleteRun(name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %q\n", name)
			return nil
		},
	}
}
