package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"mailsweep/internal/app"
	"mailsweep/internal/rules"
)

func newRulesCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage named cleanup rules",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:     "list",
			Aliases: []string{"ls"},
			Short:   "List stored rules",
			Args:    cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return g.withApp(cmd, func(ctx context.Context, a *app.App) error {
					list, err := a.Service.Rules(ctx)
					if err != nil {
						return err
					}
					out := cmd.OutOrStdout()
					if g.jsonOut {
						return printJSON(out, list)
					}
					if len(list) == 0 {
						fmt.Fprintln(out, "No rules found.")
						return nil
					}
					t := tablewriter.NewWriter(out)
					t.SetHeader([]string{"Name", "Enabled", "Schedule", "Last run", "Description"})
					for _, r := range list {
						schedule := r.Schedule.Cron
						if schedule == "" {
							schedule = "every " + r.Schedule.Interval.String()
						}
						last := "never"
						if r.LastRun != nil {
							last = humanize.Time(*r.LastRun)
						}
						t.Append([]string{r.Name, fmt.Sprint(r.Enabled), schedule, last, r.Description})
					}
					t.Render()
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "apply <file>",
			Short: "Create or replace the rules of a rules.yaml document",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				parsed, err := rules.Parse(data)
				if err != nil {
					return err
				}
				return g.withApp(cmd, func(ctx context.Context, a *app.App) error {
					names := make([]string, 0, len(parsed))
					for i := range parsed {
						if err := a.Service.SaveRule(ctx, &parsed[i]); err != nil {
							return fmt.Errorf("%s: %w", parsed[i].Name, err)
						}
						names = append(names, parsed[i].Name)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Saved %d rules: %s\n", len(names), strings.Join(names, ", "))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "delete <name>",
			Short: "Delete a rule",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return g.withApp(cmd, func(ctx context.Context, a *app.App) error {
					if err := a.Service.DeleteRule(ctx, args[0]); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted rule %s.\n", args[0])
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "run <name>",
			Short: "Run a rule once",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return g.withApp(cmd, func(ctx context.Context, a *app.App) error {
					res, err := a.Service.RunRule(ctx, args[0])
					return g.printCleanup(cmd.OutOrStdout(), res, err)
				})
			},
		},
	)
	return cmd
}
