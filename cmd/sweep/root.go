package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mailsweep/internal/app"
	"mailsweep/internal/config"
	"mailsweep/internal/mailapi"
	"mailsweep/internal/model"
	pkgconfig "mailsweep/pkg/config"
	"mailsweep/pkg/logger"
)

// globals are the persistent flags every command shares.
type globals struct {
	env       string
	configDir string
	demo      bool
	jsonOut   bool
	verbose   bool

	query     string
	max       int
	spamTrash bool
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "sweep",
		Short: "Analyze a mailbox by sender and clean it up",
		Long: `sweep folds a mailbox into per-sender statistics, ranks cleanup
candidates and moves the selected messages to the trash. Every trash
operation can be undone within the undo window.

Examples:
  sweep login                          # authorize Gmail access once
  sweep analyze --limit 20             # top senders by message count
  sweep suggest                        # ranked cleanup candidates
  sweep cleanup --sender news@x.com --older-than 30 --dry-run
  sweep restore <id>...                # undo a cleanup
  sweep --demo analyze                 # try it on a built-in sample mailbox`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.env, "env", pkgconfig.GetConfigEnv(), "config environment, selects <env>.yaml")
	pf.StringVar(&g.configDir, "config-dir", pkgconfig.GetEnv("CONFIG_DIR", "config"), "directory holding base.yaml")
	pf.BoolVar(&g.demo, "demo", false, "run against a built-in sample mailbox, offline")
	pf.BoolVar(&g.jsonOut, "json", false, "print JSON instead of tables")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		newAnalyzeCmd(g),
		newDomainsCmd(g),
		newSuggestCmd(g),
		newAttachmentsCmd(g),
		newVelocityCmd(g),
		newSummaryCmd(g),
		newExportCmd(g),
		newPlanCmd(g),
		newCleanupCmd(g),
		newExecuteCmd(g),
		newRestoreCmd(g),
		newPurgeCmd(g),
		newRulesCmd(g),
		newTokenCmd(g),
		newLoginCmd(g),
		newEventsCmd(g),
	)
	return root
}

// addQueryFlags registers the flags that narrow an analysis.
func (g *globals) addQueryFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&g.query, "query", "q", "", "remote search query, e.g. 'newer_than:1y'")
	cmd.Flags().IntVar(&g.max, "max", 0, "stop after this many messages (0 = all)")
	cmd.Flags().BoolVar(&g.spamTrash, "include-spam-trash", false, "include spam and trash")
}

func (g *globals) modelQuery() model.Query {
	return model.Query{Raw: g.query, MaxResults: g.max, IncludeSpamTrash: g.spamTrash}
}

func (g *globals) loadConfig() (*config.Config, error) {
	if g.demo {
		cfg := config.Default()
		cfg.Env = "demo"
		cfg.MailAPI.RequestsPerSecond = 1000
		cfg.MailAPI.Burst = 100
		cfg.Patterns.Watch = false
		return cfg, nil
	}
	return config.Load(g.env, g.configDir)
}

func (g *globals) newLogger(cfg *config.Config) (*zap.Logger, error) {
	lc := cfg.Log
	switch {
	case g.verbose:
		lc.Level = "debug"
	case lc.Level == "":
		// a terminal user wants results, not progress chatter
		lc.Level = "warn"
	}
	return logger.NewLogger(lc)
}

// open builds the engine. The caller must Close the returned app.
func (g *globals) open(ctx context.Context) (*app.App, *zap.Logger, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log, err := g.newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	opts := app.Options{}
	if g.demo {
		opts.Transport = mailapi.NewMemoryTransport(demoMessages(time.Now())...)
		opts.Offline = true
	}
	a, err := app.Build(ctx, cfg, opts, log)
	if err != nil {
		_ = log.Sync()
		return nil, nil, err
	}
	return a, log, nil
}

// withApp runs fn against a freshly built engine and releases it afterwards.
func (g *globals) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	a, log, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		a.Close()
		_ = log.Sync()
	}()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeRaw prints already encoded JSON, indented.
func writeRaw(w io.Writer, b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("decode cached result: %w", err)
	}
	return printJSON(w, v)
}
