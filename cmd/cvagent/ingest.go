package main

import (
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (c *cli) newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Ingest PDF or DOCX resumes and print the created candidate ids",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, logger, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer closeApp(a, logger)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tEMAIL\tFILE")
			failed := 0
			for _, path := range args {
				res, err := a.Pipeline.IngestFile(ctx, path)
				if err != nil {
					failed++
					logger.Error("ingest failed", zap.String("file", path), zap.Error(err))
					continue
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\n", res.Candidate.ID, res.Candidate.Email, path)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(args))
			}
			return nil
		},
	}
}
