package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"mailsweep/internal/app"
	"mailsweep/internal/service"
)

func newAttachmentsCmd(g *globals) *cobra.Command {
	var (
		minSize string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "attachments",
		Short: "List the largest messages with attachments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			minBytes, err := humanize.ParseBytes(minSize)
			if err != nil {
				return fmt.Errorf("--min-size: %w", err)
			}
			return g.withApp(cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.Service.LargeAttachments(ctx, int64(minBytes), limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if g.jsonOut {
					return printJSON(out, report)
				}
				t := tablewriter.NewWriter(out)
				t.SetHeader([]string{"ID", "Sender", "Subject", "Size", "Age"})
				for _, m := range report.Messages {
					t.Append([]string{
						m.ID,
						m.Sender,
						m.Subject,
						humanize.Bytes(uint64(m.SizeBytes)),
						strconv.Itoa(m.AgeDays) + "d",
					})
				}
				t.Render()
				fmt.Fprintf(out, "\n%d messages over %s, %s in total\n",
					report.Matched, humanize.Bytes(uint64(report.MinSizeBytes)), humanize.Bytes(uint64(report.TotalSizeBytes)))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&minSize, "min-size", humanize.IBytes(service.DefaultAttachmentMinBytes), "smallest message size to list, e.g. 5MB")
	cmd.Flags().IntVarP(&limit, "limit", "n", service.DefaultAttachmentLimit, "show at most this many messages")
	return cmd
}

func newVelocityCmd(g *globals) *cobra.Command {
	var days, top int
	cmd := &cobra.Command{
		Use:   "velocity",
		Short: "Count incoming mail per day and name the busiest senders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.Service.Velocity(ctx, days, top)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if g.jsonOut {
					return printJSON(out, report)
				}
				t := tablewriter.NewWriter(out)
				t.SetHeader([]string{"Sender", "Total", "Per day"})
				for _, s := range report.TopSenders {
					t.Append([]string{
						s.Sender,
						strconv.Itoa(s.Total),
						strconv.FormatFloat(float64(s.Total)/float64(report.Days), 'f', 2, 64),
					})
				}
				t.Render()
				fmt.Fprintf(out, "\n%d messages over %d days, %d of them active\n", report.Total, report.Days, len(report.DailyTotals))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", service.DefaultVelocityDays, "look back this many days")
	cmd.Flags().IntVar(&top, "top", service.DefaultVelocityTop, "busiest senders to list")
	return cmd
}

func newSummaryCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show mailbox totals and recent deletions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd, func(ctx context.Context, a *app.App) error {
				sum, err := a.Service.Summary(ctx, g.modelQuery())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if g.jsonOut {
					return printJSON(out, sum)
				}
				fmt.Fprintf(out, "Senders:            %d\n", sum.TotalSenders)
				fmt.Fprintf(out, "Messages:           %d\n", sum.TotalMessages)
				fmt.Fprintf(out, "Size:               %s\n", humanize.Bytes(uint64(sum.TotalSizeBytes)))
				fmt.Fprintf(out, "Average spam score: %.2f\n", sum.AvgSpamScore)
				fmt.Fprintf(out, "Trashed this week:  %d\n", sum.DeletedLastWeek)
				return nil
			})
		},
	}
	g.addQueryFlags(cmd)
	return cmd
}
