package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/openbdc/broadbandsync/pkg/config"
	"github.com/openbdc/broadbandsync/pkg/pipeline"
	"github.com/openbdc/broadbandsync/pkg/server"
)

func newRunCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once and exit",
		Long: `Run fetches, normalizes, indexes, compacts, and publishes every
configured layer once, then exits. The exit status is non-zero when any
layer failed. Interrupted or failed layers leave a resume checkpoint that
the next run picks up.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(timeout)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", config.DefaultRunTimeout, "overall run timeout")
	return cmd
}

func runOnce(timeout time.Duration) error {
	cfg, err := server.LoadPipelineConfig(resolveConfigPath())
	if err != nil {
		return err
	}

	features, checkpoints, err := server.InitializeStores(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open stores: %w", err)
	}
	defer features.Close()
	defer checkpoints.Close()

	// SIGINT aborts cleanly: layers finish their current stage and failed
	// layers keep their checkpoints.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	orch := pipeline.New(cfg, features, checkpoints)

	summary, err := orch.Run(ctx, uuid.NewString())
	if err != nil {
		return err
	}
	if failed := summary.Failed(); failed > 0 {
		return fmt.Errorf("%d of %d layers failed", failed, len(summary.Results))
	}
	return nil
}
