package main

import (
	"context"
	"encoding/json"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"igharvest/pkg/config"
)

var (
	runLoop     bool
	runTargets  string
	runInterval int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the product extraction pipeline",
	Long: `Run one extraction batch over the configured targets and print its summary.

Targets are account names (stories) or post:<shortcode> entries. With --loop
the batch repeats every --interval seconds until interrupted.`,
	Example: `  # One batch over the configured targets
  igharvest run

  # One batch over explicit targets
  igharvest run --targets shop_a,post:CxYz123

  # Repeat every ten minutes
  igharvest run --loop --interval 600`,
	RunE: runPipeline,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runLoop, "loop", false, "repeat batches until interrupted")
	runCmd.Flags().StringVarP(&runTargets, "targets", "t", "", "comma separated targets (overrides pipeline.targets)")
	runCmd.Flags().IntVarP(&runInterval, "interval", "i", 0, "seconds between batches with --loop")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	extra := map[string]interface{}{"interval": runInterval}
	if runTargets != "" {
		extra["targets"] = config.SplitList(runTargets)
	}
	cfg, log, err := setup(extra)
	if err != nil {
		return err
	}
	if cfg.LLM.APIKey == "" {
		return errors.New("no llm api key configured (set llm.api_key or OPENAI_API_KEY)")
	}
	if len(cfg.Pipeline.Targets) == 0 && len(cfg.Pipeline.SnapshotTargets) == 0 {
		return errors.New("no targets configured (set pipeline.targets or --targets)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if runLoop {
		return a.pipeline.Loop(ctx, cfg.Pipeline.Interval(), true)
	}

	summary := a.pipeline.RunOnce(ctx)
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
