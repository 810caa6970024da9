package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/turnosalon/salon-payments/internal/core/domain"
)

func webhooksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhooks",
		Short: "Inspect and replay stored Mercado Pago notifications",
	}
	cmd.AddCommand(webhooksRetryCmd())
	return cmd
}

func webhooksRetryCmd() *cobra.Command {
	var (
		olderThan time.Duration
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Reprocess received or failed events",
		Long: `Reprocess webhook events that are still "received" (queue full or
process restart) or "failed" (provider or storage error).

Examples:
  salon-payments webhooks retry
  salon-payments webhooks retry --older-than 10m --limit 500`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := exitOnSignal(cmd.Context())
			defer stop()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.dispatcher.Retry(ctx, olderThan, limit)
			if err != nil {
				return fmt.Errorf("retry sweep: %w", err)
			}

			log.Info("webhook retry finished",
				zap.Int("scanned", report.Scanned),
				zap.Int("processed", report.Outcome[domain.WebhookProcessed]),
				zap.Int("skipped", report.Outcome[domain.WebhookSkipped]),
				zap.Int("dropped", report.Outcome[domain.WebhookDropped]),
				zap.Int("failed", report.Outcome[domain.WebhookFailed]))
			fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d processed=%d skipped=%d dropped=%d failed=%d\n",
				report.Scanned,
				report.Outcome[domain.WebhookProcessed],
				report.Outcome[domain.WebhookSkipped],
				report.Outcome[domain.WebhookDropped],
				report.Outcome[domain.WebhookFailed])
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 5*time.Minute, "only events received at least this long ago")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum events to process")
	return cmd
}

func appointmentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "appointments",
		Short: "Appointment maintenance",
	}
	cmd.AddCommand(orphansCmd())
	return cmd
}

func orphansCmd() *cobra.Command {
	var (
		olderThan time.Duration
		limit     int
		deleteAll bool
	)

	cmd := &cobra.Command{
		Use:   "orphans",
		Short: "List pending appointments whose checkout never started",
		Long: `List pending appointments that have no payment record, left behind when
the compensating delete of a failed public booking did not go through.

Examples:
  salon-payments appointments orphans
  salon-payments appointments orphans --older-than 2h --delete`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := exitOnSignal(cmd.Context())
			defer stop()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			orphans, err := a.orphans.Find(ctx, olderThan, limit)
			if err != nil {
				return fmt.Errorf("find orphans: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tORG\tSALON\tSTARTS AT\tCREATED AT")
			for _, appt := range orphans {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					appt.ID, appt.OrgID, appt.SalonID,
					appt.StartsAt.Format(time.RFC3339), appt.CreatedAt.Format(time.RFC3339))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if !deleteAll || len(orphans) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%d orphaned appointment(s)\n", len(orphans))
				return nil
			}

			deleted, err := a.orphans.Delete(ctx, orphans)
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d of %d orphaned appointment(s)\n", deleted, len(orphans))
			return err
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", time.Hour, "only appointments created at least this long ago")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum appointments to list")
	cmd.Flags().BoolVar(&deleteAll, "delete", false, "delete the listed appointments")
	return cmd
}
