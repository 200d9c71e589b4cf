package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"mailsweep/internal/aggregate"
	"mailsweep/internal/app"
	"mailsweep/internal/model"
)

func newAnalyzeCmd(g *globals) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Show per-sender statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, raw, err := a.Service.AnalyzeSenders(ctx, g.modelQuery())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if g.jsonOut {
					return writeRaw(out, raw)
				}
				stats := aggregate.Sorted(res.Stats)
				if limit > 0 && len(stats) > limit {
					stats = stats[:limit]
				}
				renderSenders(out, stats)
				fmt.Fprintf(out, "\n%d messages from %d senders", res.Messages, len(res.Stats))
				if res.Failed > 0 {
					fmt.Fprintf(out, ", %d could not be fetched", res.Failed)
				}
				fmt.Fprintln(out)
				return nil
			})
		},
	}
	g.addQueryFlags(cmd)
	cmd.Flags().IntVarP(&limit, "limit", "n", 25, "show at most this many senders (0 = all)")
	return cmd
}

func renderSenders(w io.Writer, stats []*model.SenderStats) {
	t := tablewriter.NewWriter(w)
	t.SetHeader([]string{"Sender", "Count", "Unread", "Size", "Spam", "Newest"})
	for _, s := range stats {
		t.Append([]string{
			s.Email,
			strconv.Itoa(s.TotalCount),
			strconv.Itoa(s.UnreadCount),
			humanize.Bytes(uint64(s.TotalSize)),
			strconv.FormatFloat(s.SpamScore, 'f', 2, 64),
			humanize.Time(s.Newest),
		})
	}
	t.Render()
}

func newDomainsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "domains",
		Short: "Show statistics rolled up per sender domain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd, func(ctx context.Context, a *app.App) error {
				domains, err := a.Service.Domains(ctx, g.modelQuery())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if g.jsonOut {
					return printJSON(out, domains)
				}
				t := tablewriter.NewWriter(out)
				t.SetHeader([]string{"Domain", "Count", "Unread", "Senders", "Size"})
				for _, d := range domains {
					t.Append([]string{
						d.Domain,
						strconv.Itoa(d.Count),
						strconv.Itoa(d.Unread),
						strconv.Itoa(d.UniqueSenders),
						humanize.Bytes(uint64(d.Size)),
					})
				}
				t.Render()
				return nil
			})
		},
	}
	g.addQueryFlags(cmd)
	return cmd
}

func newSuggestCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Rank senders worth cleaning up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd, func(ctx context.Context, a *app.App) error {
				report, raw, err := a.Service.Suggest(ctx, g.modelQuery())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if g.jsonOut {
					return writeRaw(out, raw)
				}
				if len(report.Suggestions) == 0 {
					fmt.Fprintf(out, "Nothing to suggest across %d senders.\n", report.Senders)
					return nil
				}
				t := tablewriter.NewWriter(out)
				t.SetHeader([]string{"Sender", "Action", "Confidence", "Emails", "Size", "Reason"})
				for _, s := range report.Suggestions {
					t.Append([]string{
						s.Sender,
						s.Action,
						fmt.Sprintf("%.0f%%", s.Confidence*100),
						humanize.Comma(int64(s.Impact.EmailCount)),
						fmt.Sprintf("%.1f MB", s.Impact.SizeMB),
						s.Reason,
					})
				}
				t.Render()
				ti := report.TotalImpact
				fmt.Fprintf(out, "\nActing on all suggestions removes %s emails (%.1f MB, %s unread).\n",
					humanize.Comma(int64(ti.EmailCount)), ti.SizeMB, humanize.Comma(int64(ti.UnreadCount)))
				return nil
			})
		},
	}
	g.addQueryFlags(cmd)
	return cmd
}

func newExportCmd(g *globals) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write per-sender statistics as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if path == "" || path == "-" {
					return a.Service.ExportCSV(ctx, g.modelQuery(), cmd.OutOrStdout())
				}
				f, err := os.Create(path)
				if err != nil {
					return err
				}
				w := bufio.NewWriter(f)
				if err := a.Service.ExportCSV(ctx, g.modelQuery(), w); err != nil {
					f.Close()
					return err
				}
				if err := w.Flush(); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Saved: %s\n", path)
				return nil
			})
		},
	}
	g.addQueryFlags(cmd)
	cmd.Flags().StringVarP(&path, "output", "o", "", "file to write, stdout when empty")
	return cmd
}
