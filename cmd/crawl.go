package main

import (
	"fmt"
	"io"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/carefinder-cli/internal/model"
	"github.com/sells-group/carefinder-cli/internal/pipeline"
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Crawl sources for all 50 states and upsert the results",
}

var crawlLegalCmd = &cobra.Command{
	Use:   "legal",
	Short: "Crawl legal information for every state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return populate(cmd, "crawl", model.RunKindLegal)
	},
}

var crawlClinicsCmd = &cobra.Command{
	Use:   "clinics",
	Short: "Crawl clinic listings for every state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return populate(cmd, "crawl", model.RunKindClinics)
	},
}

// populate runs kind to completion and prints the report.
func populate(cmd *cobra.Command, mode string, kind model.RunKind) error {
	ctx, stop := signal.NotifyContext(contextOrBackground(cmd.Context()), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := initPipeline(ctx, mode)
	if err != nil {
		return err
	}
	defer env.Close()

	count, report, err := env.Driver.Populate(ctx, kind)
	if report != nil {
		printReport(cmd.OutOrStdout(), count, report)
	}
	if err != nil {
		return err
	}

	zap.L().Info("populate complete",
		zap.String("kind", string(kind)),
		zap.Int("stored", count),
	)
	return nil
}

func printReport(w io.Writer, count int, r *pipeline.Report) {
	fmt.Fprintf(w, "%s run %s in %s\n", r.Kind, r.Status, r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  states:    %d\n", r.Total)
	fmt.Fprintf(w, "  succeeded: %d\n", r.Succeeded)
	fmt.Fprintf(w, "  skipped:   %d\n", r.Skipped)
	fmt.Fprintf(w, "  failed:    %d\n", r.Failed)
	fmt.Fprintf(w, "  stored:    %d\n", count)

	var failed []string
	for name, s := range r.States {
		if s == model.EntityFailed {
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		fmt.Fprintf(w, "  failed states: %v\n", failed)
	}
}

func init() {
	crawlCmd.AddCommand(crawlLegalCmd, crawlClinicsCmd)
	rootCmd.AddCommand(crawlCmd)
}

