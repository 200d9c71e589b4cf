package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mailsweep/internal/mq"
	pkgmq "mailsweep/pkg/mq"
)

func newEventsCmd(g *globals) *cobra.Command {
	var (
		queue   string
		pattern string
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print cleanup events as they are published",
		Long: `events binds a queue to the events exchange and prints every cleanup
event until interrupted. Without --queue the queue is temporary.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if !cfg.MQ.Enabled() {
				return errors.New("mq.url is not configured")
			}
			log, err := g.newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			consumer, err := pkgmq.NewConsumer(cfg.MQ.URL, queue, pattern, log)
			if err != nil {
				return err
			}
			defer consumer.Close()

			router := newEventPrinter(cmd.OutOrStdout(), g.jsonOut, log)
			consumer.SetHandler(func(ctx context.Context, _ string, body json.RawMessage) error {
				return router.Handle(ctx, body)
			})
			return consumer.StartConsuming(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&queue, "queue", "", "durable queue name")
	cmd.Flags().StringVar(&pattern, "pattern", "cleanup.*", "routing key pattern")
	return cmd
}

// newEventPrinter routes each known event type to a one-line summary.
func newEventPrinter(out io.Writer, asJSON bool, log *zap.Logger) *mq.Router {
	r := mq.NewRouter(log)
	stamp := func() string { return time.Now().Format(time.TimeOnly) }

	r.Register(mq.EventCleanupExecuted, func(_ context.Context, data json.RawMessage) error {
		var p mq.CleanupExecutedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		if asJSON {
			return printEvent(out, mq.EventCleanupExecuted, p)
		}
		rule := ""
		if p.Rule != "" {
			rule = " rule=" + p.Rule
		}
		_, err := fmt.Fprintf(out, "%s executed op=%s%s trashed=%d/%d failed=%d skipped=%d took=%dms\n",
			stamp(), p.OperationID, rule, p.Succeeded, p.Requested, p.Failed, p.Skipped, p.DurationMS)
		return err
	})
	r.Register(mq.EventCleanupRestored, func(_ context.Context, data json.RawMessage) error {
		var p mq.CleanupRestoredPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		if asJSON {
			return printEvent(out, mq.EventCleanupRestored, p)
		}
		_, err := fmt.Fprintf(out, "%s restored op=%s restored=%d not_found=%d failed=%d\n",
			stamp(), p.OperationID, p.Restored, p.NotFound, p.Failed)
		return err
	})
	return r
}

func printEvent(out io.Writer, typ string, payload any) error {
	return json.NewEncoder(out).Encode(map[string]any{"type": typ, "data": payload})
}
