package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"curator/internal/config"
	"curator/internal/sink"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the training set and metadata from accepted records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			target := cfg.Paths.OutputDir
			if strings.TrimSpace(dir) != "" {
				target, err = config.ExpandPath(strings.TrimSpace(dir))
				if err != nil {
					return fmt.Errorf("resolve --dir: %w", err)
				}
			}

			if _, err := os.Stat(cfg.AcceptedPath()); os.IsNotExist(err) {
				return fmt.Errorf("no accepted output at %s; run 'curator run' first", cfg.AcceptedPath())
			}
			entries, err := sink.ReadAll(cfg.AcceptedPath(), cfg.Sink.Format)
			if err != nil {
				return fmt.Errorf("read accepted output: %w", err)
			}
			summary, err := sink.Export(entries, target)
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Exported %d examples (%d skipped)\n", summary.Exported, summary.Skipped)
			fmt.Fprintf(out, "Training: %s\n", summary.TrainingPath)
			fmt.Fprintf(out, "Metadata: %s\n", summary.MetadataPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Export directory (defaults to the output directory)")
	return cmd
}
