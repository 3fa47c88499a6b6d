package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"curator/internal/judge"
	"curator/internal/logging"
)

func newJudgeCommand(ctx *commandContext) *cobra.Command {
	judgeCmd := &cobra.Command{
		Use:   "judge",
		Short: "Judgment service utilities",
	}
	judgeCmd.AddCommand(newJudgeCheckCommand(ctx))
	return judgeCmd
}

func newJudgeCheckCommand(ctx *commandContext) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the judgment service answers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.Judge.APIKey == "" {
				return fmt.Errorf("judge.api_key is not set")
			}

			checkCtx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			client, err := judge.NewFromConfig(checkCtx, cfg.Judge, logging.NewNop(), nil)
			if err != nil {
				return err
			}
			defer client.Close()

			start := time.Now()
			if err := client.HealthCheck(checkCtx); err != nil {
				return fmt.Errorf("judge %s (%s) unreachable: %w", client.Backend(), cfg.Judge.Model, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Judge %s (%s) healthy in %s\n",
				client.Backend(), cfg.Judge.Model, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Maximum time to wait for the check")
	return cmd
}
