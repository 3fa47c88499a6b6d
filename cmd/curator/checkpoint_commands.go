package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"curator/internal/checkpoint"
)

func newCheckpointCommand(ctx *commandContext) *cobra.Command {
	checkpointCmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or reset run progress",
	}
	checkpointCmd.AddCommand(newCheckpointShowCommand(ctx))
	checkpointCmd.AddCommand(newCheckpointResetCommand(ctx))
	return checkpointCmd
}

func newCheckpointShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the saved checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cp, found, err := checkpoint.Read(cfg.Checkpoint.Backend, cfg.CheckpointPath())
			if err != nil {
				return fmt.Errorf("read checkpoint: %w", err)
			}
			if asJSON {
				if !found {
					return writeJSON(cmd, nil)
				}
				return writeJSON(cmd, cp)
			}

			out := cmd.OutOrStdout()
			if !found {
				fmt.Fprintf(out, "No checkpoint at %s\n", cfg.CheckpointPath())
				return nil
			}
			lastFlush := "never"
			if !cp.LastFlush.IsZero() {
				lastFlush = cp.LastFlush.Local().Format(time.DateTime)
			}
			rows := [][]string{
				{"Run", cp.RunID},
				{"Processed", strconv.Itoa(len(cp.ProcessedIDs))},
				{"Accepted", strconv.Itoa(cp.AcceptedCount)},
				{"Rejected", strconv.Itoa(cp.RejectedCount)},
				{"Runs", strconv.Itoa(len(cp.Runs))},
				{"Last flush", lastFlush},
			}
			fmt.Fprintf(out, "Checkpoint %s (%s)\n", cfg.CheckpointPath(), cfg.Checkpoint.Backend)
			fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))
			if len(cp.RejectionReasons) > 0 {
				fmt.Fprintln(out, renderReasons(cp.RejectionReasons))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newCheckpointResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Archive the checkpoint so the next run starts fresh",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			lock, err := checkpoint.AcquireLock(cfg.CheckpointPath())
			if err != nil {
				return err
			}
			defer lock.Release()

			archived, err := checkpoint.Reset(cfg.Checkpoint.Backend, cfg.CheckpointPath())
			if err != nil {
				return fmt.Errorf("reset checkpoint: %w", err)
			}
			out := cmd.OutOrStdout()
			if archived == "" {
				fmt.Fprintln(out, "No checkpoint to reset")
				return nil
			}
			fmt.Fprintf(out, "Checkpoint archived to %s\n", archived)
			return nil
		},
	}
}
