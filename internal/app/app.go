// Package app wires the engine from a Config. The server and the CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mailsweep/internal/aggregate"
	"mailsweep/internal/cache"
	"mailsweep/internal/config"
	"mailsweep/internal/executor"
	"mailsweep/internal/httpserver"
	"mailsweep/internal/mailapi"
	"mailsweep/internal/repository"
	"mailsweep/internal/rules"
	"mailsweep/internal/scoring"
	"mailsweep/internal/service"
	"mailsweep/internal/undo"
	"mailsweep/pkg/db"
	"mailsweep/pkg/mq"
	"mailsweep/pkg/outbox"
	redisclient "mailsweep/pkg/redis"
	"mailsweep/pkg/util"
)

// Options changes what Build wires.
type Options struct {
	// Transport replaces the Gmail transport, e.g. with a MemoryTransport for demos.
	Transport mailapi.Transport
	// Offline skips Postgres, Redis and RabbitMQ even when configured.
	Offline bool
}

// App is a wired engine plus the background loops that keep it healthy.
type App struct {
	Service *service.CleanupService
	Client  *mailapi.Client
	Ledger  *undo.Ledger
	Scorers *scoring.Provider

	cfg        *config.Config
	logger     *zap.Logger
	pool       *pgxpool.Pool
	rdb        *goredis.Client
	publisher  *mq.Publisher
	dispatcher *outbox.Dispatcher
	closers    []func() error
	wg         sync.WaitGroup
}

func Build(ctx context.Context, cfg *config.Config, opts Options, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	built := false
	defer func() {
		if !built {
			a.Close()
		}
	}()

	transport := opts.Transport
	if transport == nil {
		svc, err := mailapi.NewGmailService(ctx, cfg.Gmail.CredentialsFile, cfg.Gmail.TokenFile)
		if err != nil {
			return nil, err
		}
		transport = mailapi.NewGmailTransport(svc, cfg.Gmail.Concurrency)
	}
	a.Client = mailapi.NewClient(transport, cfg.MailAPI, logger)

	var err error
	if cfg.DB.Enabled() && !opts.Offline {
		a.pool, err = db.NewConnection(ctx, cfg.DB, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { a.pool.Close(); return nil })
		if err := repository.Migrate(ctx, a.pool); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	if cfg.Redis.Enabled() && !opts.Offline {
		a.rdb, err = redisclient.Connect(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.rdb.Close)
	}

	a.Scorers, err = scoring.NewProvider(cfg.Patterns.File, nil, logger)
	if err != nil {
		return nil, err
	}

	store, err := a.undoStore()
	if err != nil {
		return nil, err
	}
	a.Ledger = undo.NewLedger(store, a.Client, cfg.Undo.Window, logger)

	ruleStore, err := a.ruleStore()
	if err != nil {
		return nil, err
	}

	deps := service.Deps{
		Scorers:   a.Scorers,
		Collector: aggregate.NewCollector(a.Client, cfg.Collector.Workers, cfg.MailAPI.BatchSize, logger),
		Memo:      cache.NewMemo(a.cacheStore(), logger),
		Executor:  executor.New(a.Client, a.Ledger, cfg.Executor, logger),
		Ledger:    a.Ledger,
		Rules:     ruleStore,
	}
	if a.pool != nil {
		deps.Snapshots = repository.NewSenderStatsRepository(a.pool)
	}
	if a.rdb != nil {
		// a rule run that outlives the lock ttl is already far past any sane schedule
		deps.Locker = util.NewDeduper(a.rdb, time.Hour, logger)
	}
	if cfg.MQ.Enabled() && !opts.Offline {
		if err := a.wireEvents(&deps); err != nil {
			return nil, err
		}
	}

	a.Service = service.NewCleanupService(deps, cfg.Engine, logger)
	built = true
	return a, nil
}

func (a *App) undoStore() (undo.Store, error) {
	switch {
	case a.pool != nil:
		return repository.NewUndoRepository(a.pool), nil
	case a.cfg.Undo.SQLitePath != "":
		s, err := undo.NewSQLiteStore(a.cfg.Undo.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	default:
		a.logger.Warn("Undo records are kept in memory and lost on exit")
		return undo.NewMemoryStore(), nil
	}
}

func (a *App) ruleStore() (rules.Store, error) {
	if a.pool != nil {
		return repository.NewRuleRepository(a.pool), nil
	}
	return rules.OpenFileStore(a.cfg.Rules.File)
}

func (a *App) cacheStore() cache.Store {
	if a.rdb != nil {
		return cache.NewRedisStore(a.rdb, a.logger)
	}
	e := a.cfg.Engine
	maxTTL := max(e.SendersTTL, e.SuggestionsTTL, e.IDsTTL)
	return cache.NewLRUStore(a.cfg.Cache.Size, maxTTL)
}

func (a *App) wireEvents(deps *service.Deps) error {
	pub, err := mq.NewPublisher(a.cfg.MQ.URL)
	if err != nil {
		return err
	}
	a.publisher = pub
	a.closers = append(a.closers, func() error { pub.Close(); return nil })

	if a.cfg.MQ.Outbox && a.pool != nil {
		repo := outbox.NewRepository(a.pool)
		deps.Events = outbox.NewWriter(repo)
		a.dispatcher = outbox.NewDispatcher(repo, pub, a.logger).
			WithInterval(a.cfg.Outbox.Interval).
			WithBatchSize(a.cfg.Outbox.BatchSize)
		return nil
	}
	deps.Events = pub
	return nil
}

// ReadyChecks returns a ping per configured backing service.
func (a *App) ReadyChecks() map[string]httpserver.ReadyCheck {
	checks := make(map[string]httpserver.ReadyCheck)
	if a.pool != nil {
		checks["db"] = a.pool.Ping
	}
	if a.rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return a.rdb.Ping(ctx).Err() }
	}
	if a.publisher != nil {
		checks["mq"] = func(context.Context) error {
			if !a.publisher.IsConnected() {
				return errors.New("connection closed")
			}
			return nil
		}
	}
	return checks
}

// Start runs the undo sweeper, the patterns watcher and the outbox dispatcher
// until ctx is done.
func (a *App) Start(ctx context.Context) {
	if a.cfg.Undo.SweepInterval > 0 {
		a.goLoop("undo sweeper", func() error { return a.Ledger.RunSweeper(ctx, a.cfg.Undo.SweepInterval) })
	}
	if a.cfg.Patterns.Watch {
		a.goLoop("patterns watcher", func() error { return a.Scorers.Watch(ctx) })
	}
	if a.dispatcher != nil {
		a.goLoop("outbox dispatcher", func() error { a.dispatcher.Start(ctx); return nil })
	}
}

func (a *App) goLoop(name string, fn func() error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("Background loop stopped", zap.String("loop", name), zap.Error(err))
		}
	}()
}

// Close waits for background loops and pending purges, then releases
// connections in reverse order.
func (a *App) Close() {
	a.wg.Wait()
	if a.Ledger != nil {
		a.Ledger.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
