package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"mailsweep/internal/app"
	"mailsweep/internal/model"
	"mailsweep/internal/service"
)

// criteriaFlags maps command-line flags onto CleanupCriteria. Only flags the
// user actually set become predicates.
type criteriaFlags struct {
	file string

	sender, domain        string
	olderThan, newerThan  int
	unread, hasAttachment bool
	attachmentTypes       []string
	minSize, maxSize      int64
	labels, excludeLabels []string
	minSpam, maxSpam      float64
	excludeImportant      bool
	excludeStarred        bool
	excludeDomains        []string
	dryRun                bool
}

func (f *criteriaFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.file, "criteria", "f", "", "read criteria from a YAML or JSON file; flags override it")
	fs.StringVar(&f.sender, "sender", "", "sender address")
	fs.StringVar(&f.domain, "domain", "", "sender domain")
	fs.IntVar(&f.olderThan, "older-than", 0, "older than N days")
	fs.IntVar(&f.newerThan, "newer-than", 0, "newer than N days")
	fs.BoolVar(&f.unread, "unread", false, "unread state to match")
	fs.BoolVar(&f.hasAttachment, "has-attachment", false, "attachment presence to match")
	fs.StringSliceVar(&f.attachmentTypes, "attachment-type", nil, "attachment extension, e.g. pdf")
	fs.Int64Var(&f.minSize, "min-size", 0, "minimum size in bytes")
	fs.Int64Var(&f.maxSize, "max-size", 0, "maximum size in bytes")
	fs.StringSliceVar(&f.labels, "label", nil, "label every message must carry")
	fs.StringSliceVar(&f.excludeLabels, "exclude-label", nil, "label that excludes a message")
	fs.Float64Var(&f.minSpam, "min-spam", 0, "minimum sender spam score")
	fs.Float64Var(&f.maxSpam, "max-spam", 0, "maximum sender spam score")
	fs.BoolVar(&f.excludeImportant, "exclude-important", true, "never touch important messages")
	fs.BoolVar(&f.excludeStarred, "exclude-starred", true, "never touch starred messages")
	fs.StringSliceVar(&f.excludeDomains, "exclude-domain", nil, "domain that is never touched")
	fs.BoolVar(&f.dryRun, "dry-run", false, "report what would be trashed without trashing")
}

func (f *criteriaFlags) criteria(cmd *cobra.Command) (model.CleanupCriteria, error) {
	var c model.CleanupCriteria
	if f.file != "" {
		data, err := os.ReadFile(f.file)
		if err != nil {
			return c, err
		}
		// JSON is a subset of YAML
		if err := yaml.Unmarshal(data, &c); err != nil {
			return c, &model.ConfigError{Field: f.file, Reason: err.Error()}
		}
	} else {
		c.ExcludeImportant = f.excludeImportant
		c.ExcludeStarred = f.excludeStarred
	}

	set := cmd.Flags().Changed
	if set("sender") {
		c.Sender = &f.sender
	}
	if set("domain") {
		c.Domain = &f.domain
	}
	if set("older-than") {
		c.OlderThanDays = &f.olderThan
	}
	if set("newer-than") {
		c.NewerThanDays = &f.newerThan
	}
	if set("unread") {
		c.Unread = &f.unread
	}
	if set("has-attachment") {
		c.HasAttachment = &f.hasAttachment
	}
	if set("attachment-type") {
		c.AttachmentTypes = f.attachmentTypes
	}
	if set("min-size") {
		c.MinSizeBytes = &f.minSize
	}
	if set("max-size") {
		c.MaxSizeBytes = &f.maxSize
	}
	if set("label") {
		c.IncludeLabels = f.labels
	}
	if set("exclude-label") {
		c.ExcludeLabels = f.excludeLabels
	}
	if set("min-spam") {
		c.MinSpamScore = &f.minSpam
	}
	if set("max-spam") {
		c.MaxSpamScore = &f.maxSpam
	}
	if set("exclude-important") {
		c.ExcludeImportant = f.excludeImportant
	}
	if set("exclude-starred") {
		c.ExcludeStarred = f.excludeStarred
	}
	if set("exclude-domain") {
		c.ExcludeDomains = f.excludeDomains
	}
	if set("dry-run") {
		c.DryRun = f.dryRun
	}
	return c, nil
}

func newPlanCmd(g *globals) *cobra.Command {
	var cf criteriaFlags
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "List the message ids a criteria selects, without touching them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.criteria(cmd)
			if err != nil {
				return err
			}
			return g.withApp(cmd, func(ctx context.Context, a *app.App) error {
				plan, err := a.Service.Plan(ctx, c)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if g.jsonOut {
					return printJSON(out, map[string]any{"query": plan.Query, "ids": plan.IDs, "count": len(plan.IDs)})
				}
				for _, id := range plan.IDs {
					fmt.Fprintln(out, id)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "%d messages match (search: %q)\n", len(plan.IDs), plan.Query)
				return nil
			})
		},
	}
	cf.register(cmd)
	return cmd
}

func newCleanupCmd(g *globals) *cobra.Command {
	var cf criteriaFlags
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Move every message a criteria selects to the trash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.criteria(cmd)
			if err != nil {
				return err
			}
			return g.withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Service.Cleanup(ctx, c)
				return g.printCleanup(cmd.OutOrStdout(), res, err)
			})
		},
	}
	cf.register(cmd)
	return cmd
}

func newExecuteCmd(g *globals) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "execute <id>... | -",
		Short: "Trash the given message ids, as printed by plan",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := readIDs(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			return g.withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Service.Execute(ctx, ids, dryRun)
				return g.printCleanup(cmd.OutOrStdout(), res, err)
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be trashed without trashing")
	return cmd
}

// printCleanup reports res even when err is set: a failed run can still have
// trashed part of its ids.
func (g *globals) printCleanup(out io.Writer, res *service.CleanupResult, err error) error {
	if res == nil || res.Result == nil {
		return err
	}
	if g.jsonOut {
		if perr := printJSON(out, res); perr != nil {
			return perr
		}
		return err
	}
	r := res.Result
	verb := "Trashed"
	if r.DryRun {
		verb = "Would trash"
	}
	fmt.Fprintf(out, "%s %d of %d messages in %s (operation %s).\n",
		verb, r.Count(), r.Requested, r.Duration.Round(time.Millisecond), res.OperationID)
	if len(r.Excluded) > 0 {
		fmt.Fprintf(out, "Left %d messages alone: they changed since planning and no longer match.\n", len(r.Excluded))
	}
	if len(r.Skipped) > 0 {
		fmt.Fprintf(out, "Skipped %d messages after the run was stopped.\n", len(r.Skipped))
	}
	printErrors(out, res.Errors)
	if !r.DryRun && len(r.Succeeded) > 0 {
		fmt.Fprintln(out, "Undo with: sweep restore", strings.Join(r.Succeeded[:min(len(r.Succeeded), 3)], " "), "...")
	}
	return err
}

func newRestoreCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <id>... | -",
		Short: "Put trashed messages back with their original labels",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := readIDs(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			return g.withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Service.Restore(ctx, ids)
				out := cmd.OutOrStdout()
				if g.jsonOut {
					if perr := printJSON(out, map[string]any{
						"restored":  res.Restored,
						"not_found": res.NotFound,
						"errors":    res.Errors(),
					}); perr != nil {
						return perr
					}
					return err
				}
				fmt.Fprintf(out, "Restored %d messages.\n", len(res.Restored))
				if len(res.NotFound) > 0 {
					fmt.Fprintf(out, "No undo record for %d ids (never trashed here, or the window closed): %s\n",
						len(res.NotFound), strings.Join(res.NotFound, " "))
				}
				printErrors(out, res.Errors())
				return err
			})
		},
	}
}

func newPurgeCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Drop undo records whose window has closed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.Service.PurgeExpired(ctx)
				if err != nil {
					return err
				}
				if g.jsonOut {
					return printJSON(cmd.OutOrStdout(), map[string]int64{"purged": n})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Purged %d expired undo records.\n", n)
				return nil
			})
		},
	}
}

// readIDs takes ids from args, or one per line from in when the only arg is "-".
func readIDs(in io.Reader, args []string) ([]string, error) {
	if len(args) != 1 || args[0] != "-" {
		return args, nil
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return nil, err
	}
	ids := strings.Fields(string(data))
	if len(ids) == 0 {
		return nil, errors.New("no ids on stdin")
	}
	return ids, nil
}

func printErrors(out io.Writer, errs map[string]string) {
	if len(errs) == 0 {
		return
	}
	ids := make([]string, 0, len(errs))
	for id := range errs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	fmt.Fprintf(out, "%d messages failed:\n", len(ids))
	for _, id := range ids {
		fmt.Fprintf(out, "  %s: %s\n", id, errs[id])
	}
}
