package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"TenderScanner/internal/app"
	"TenderScanner/internal/config"
	"TenderScanner/internal/domain"
	"TenderScanner/internal/logging"
	"TenderScanner/internal/usecase"
)

type globalFlags struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "tenderscanner",
		Short:         "Harvest and enrich public procurement notices",
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to the YAML configuration (default $TENDER_SCANNER_CONFIG)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override logging.level (debug|info|warn|error)")

	root.AddCommand(
		newServeCommand(flags),
		newScrapeCommand(flags),
		newEnrichCommand(flags),
		newCreditsCommand(flags),
		newSourcesCommand(flags),
	)
	return root
}

func (f *globalFlags) load() (config.Config, *slog.Logger) {
	cfg := config.Load(f.configPath)
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	return cfg, logging.New(cfg.Logging.Level, cfg.Logging.Format)
}

func (f *globalFlags) application(ctx context.Context) (*app.Application, error) {
	cfg, logger := f.load()
	return app.New(ctx, cfg, logger)
}

func newServeCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the scrape schedule and background sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := flags.application(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Serve(cmd.Context())
		},
	}
}

func newScrapeCommand(flags *globalFlags) *cobra.Command {
	var codes []string

	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrape the selected sources once and print per-source results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := flags.application(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.ScrapeOnce(cmd.Context(), codes)
			if err != nil {
				return err
			}
			renderScrapeRun(cmd.OutOrStdout(), run)
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&codes, "source", "s", nil, "source codes to scrape (default: all active)")
	return cmd
}

func newEnrichCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "enrich",
		Short: "Classify one batch of pending tenders if credits allow",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := flags.application(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.EnrichOnce(cmd.Context())
			if errors.Is(err, usecase.ErrInsufficientCredits) {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				renderCredits(cmd.OutOrStdout(), a.Credits(cmd.Context()))
				return err
			}
			if err != nil {
				return err
			}

			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Session", "Total", "Processed", "Failed", "Duration"})
			t.AppendRow(table.Row{run.SessionID, run.Total, run.Processed, run.Failed, run.Duration.Round(time.Millisecond)})
			t.Render()
			return nil
		},
	}
}

func newCreditsCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "credits",
		Short: "Show the classifier balance and what it admits",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := flags.application(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			renderCredits(cmd.OutOrStdout(), a.Credits(cmd.Context()))
			return nil
		},
	}
}

func newSourcesCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List the configured procurement sites",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _ := flags.load()

			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Code", "Name", "Strategy", "Active", "Listing URLs"})
			for _, s := range cfg.Sites {
				t.AppendRow(table.Row{s.Code, s.Name, s.Strategy, s.IsActive(), strings.Join(s.ListingURLs, "\n")})
			}
			t.Render()
			return nil
		},
	}
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func renderScrapeRun(w io.Writer, run domain.ScrapeRun) {
	t := newTable(w)
	t.SetTitle("Session " + run.SessionID)
	t.AppendHeader(table.Row{"Source", "Status", "Valid", "New", "URLs", "Duration", "Error"})
	for _, r := range run.Results {
		status := "ok"
		if !r.Success {
			status = "failed"
		}
		t.AppendRow(table.Row{r.Source, status, r.RecordsFound, r.RecordsCreated, r.URLsVisited, r.Duration.Round(time.Millisecond), r.Error})
	}
	t.AppendFooter(table.Row{
		fmt.Sprintf("%d/%d ok", run.Succeeded, run.Attempted), "",
		run.ValidRecords, run.CreatedRecords, "", run.Duration.Round(time.Millisecond), "",
	})
	t.Render()
}

func renderCredits(w io.Writer, s domain.CreditStatus) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Balance", "Batch (min)", "Single (min)", "Batch", "Single", "Reason"})
	t.AppendRow(table.Row{
		fmt.Sprintf("%.2f", s.Balance),
		fmt.Sprintf("%.2f", s.BatchThreshold),
		fmt.Sprintf("%.2f", s.SingleThreshold),
		s.CanProcessBatch,
		s.CanProcessSingle,
		s.Reason,
	})
	t.Render()
}
