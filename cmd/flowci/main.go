package main

import (
	"fmt"
	"os"
	"time"

	"flowci/internal/config"
	"flowci/internal/engine"
	"flowci/internal/history"

	"github.com/spf13/cobra"
)

var (
	branch      string
	workspace   string
	workDir     string
	cacheDir    string
	logDir      string
	historyPath string
	stepTimeout time.Duration
)

func main() {
	root := &cobra.Command{
		Use:           "flowci",
		Short:         "flowci runs CI pipeline descriptions locally",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCmd(), validateCmd(), historyCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <pipeline.yml>",
		Short: "Run a pipeline and exit non-zero if it fails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pipeline, err := config.LoadPipeline(args[0])
			if err != nil {
				return err
			}

			eng := engine.New(engine.Options{
				Workspace:   workspace,
				WorkDir:     workDir,
				CacheDir:    cacheDir,
				LogDir:      logDir,
				HistoryPath: historyPath,
				StepTimeout: stepTimeout,
			})

			result := eng.Run(pipeline, branch)
			if result.Status != engine.StatusSucceeded {
				return fmt.Errorf("pipeline failed")
			}
			fmt.Println("✅ Pipeline succeeded")
			return nil
		},
	}

	cmd.Flags().StringVar(&branch, "branch", "master", "trigger branch for workflow filters")
	cmd.Flags().StringVar(&workspace, "workspace", ".", "checked-out source tree jobs copy from")
	cmd.Flags().StringVar(&workDir, "work-dir", ".flowci/work", "root for per-job workspaces")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", ".flowci/cache", "cache store directory (empty disables caching)")
	cmd.Flags().StringVar(&logDir, "log-dir", ".flowci/logs", "step log directory (empty disables log files)")
	cmd.Flags().StringVar(&historyPath, "history", ".flowci/history.jsonl", "run history file (empty disables history)")
	cmd.Flags().DurationVar(&stepTimeout, "step-timeout", 5*time.Minute, "per-step wall clock bound (0 disables)")
	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <pipeline.yml>",
		Short: "Parse and validate a pipeline description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pipeline, err := config.LoadPipeline(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("✅ %s is valid: %d job(s), %d workflow(s)\n", args[0], len(pipeline.Jobs), len(pipeline.Workflows))
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <history.jsonl>",
		Short: "Inspect recorded pipeline runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := history.Open(args[0])
			if err != nil {
				return err
			}
			for _, rec := range store.Records() {
				fmt.Printf("%s  branch=%s  status=%s  jobs=%d  at=%s\n",
					rec.RunID, rec.Branch, rec.Status, len(rec.Jobs),
					rec.FinishedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}
