// Command sessiond wires together the session/transaction coordination core's process-wide
// collaborators — the Redis-backed query cache and replica conflict resolver, the
// Cassandra-backed (or in-memory) transaction log, the lock manager, the YieldableScheduler, the
// Prometheus metrics collector and the admin HTTP API — and runs until signaled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	sqlcoord "github.com/sqlcoord/sessioncore"
	"github.com/sqlcoord/sessioncore/adminapi"
	"github.com/sqlcoord/sessioncore/lock"
	"github.com/sqlcoord/sessioncore/metrics"
	"github.com/sqlcoord/sessioncore/redis"
	"github.com/sqlcoord/sessioncore/replication"
	"github.com/sqlcoord/sessioncore/scheduler"
	"github.com/sqlcoord/sessioncore/session"
	"github.com/sqlcoord/sessioncore/txlog"
	"github.com/sqlcoord/sessioncore/txn"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON configuration file; defaults are used if omitted")
	flag.Parse()

	sqlcoord.ConfigureLogging()

	cfg := sqlcoord.DefaultConfiguration()
	if *configPath != "" {
		loaded, err := sqlcoord.LoadConfiguration(*configPath)
		if err != nil {
			slog.Error("failed loading configuration", "path", *configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	if _, err := redis.OpenConnection(redis.Options{
		Address:  cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}); err != nil {
		slog.Error("failed opening redis connection", "error", err)
		os.Exit(1)
	}
	l2Cache := redis.NewClient()

	var txLog txlog.TransactionLog
	if len(cfg.CassandraHosts) > 0 {
		conn, err := txlog.OpenConnection(txlog.ClusterConfig{
			Hosts:    cfg.CassandraHosts,
			Keyspace: cfg.CassandraKeyspace,
		})
		if err != nil {
			slog.Error("failed opening cassandra connection", "error", err)
			os.Exit(1)
		}
		txLog = txlog.NewLog(conn)
	} else {
		slog.Warn("no cassandra hosts configured, falling back to an in-memory transaction log (not crash-recoverable)")
		txLog = txlog.NewInMemoryLog()
	}

	lockManager := lock.NewManager(l2Cache)
	resolver := replication.NewResolver()
	coordinator := txn.NewCoordinator()
	directory := session.NewDirectory()
	collector := metrics.NewCollector()

	lockManager.SetObserver(collector)

	sched := scheduler.New(cfg.SchedulerHandlerCount, 0, timeoutLogger{})
	sched.SetObserver(collector)

	admin := adminapi.New(adminapi.Options{
		Directory:      directory,
		Verifier:       adminVerifier(cfg),
		MetricsHandler: collector.Handler(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error { return sched.Run(egCtx) })
	eg.Go(func() error { return recoverStaleTransactions(egCtx, txLog, coordinator) })
	eg.Go(func() error { return admin.Run(cfg.AdminAPIAddress) })

	// sessionFactory is what the wire/connection layer should use to build new sessions sharing
	// this process's collaborators, wired here but not driven by anything in this module since
	// the wire protocol itself is out of scope.
	_ = sessionFactory(cfg, lockManager, sched, coordinator, txLog, resolver, directory, collector, l2Cache)

	if err := eg.Wait(); err != nil && ctx.Err() == nil {
		slog.Error("sessiond exited with error", "error", err)
		os.Exit(1)
	}
}

// sessionFactory returns a constructor the wire layer can call once per new connection to build
// a Session sharing this process's collaborators, one session per connection for its lifecycle.
func sessionFactory(
	cfg sqlcoord.Configuration,
	lockManager *lock.Manager,
	sched *scheduler.Scheduler,
	coordinator *txn.Coordinator,
	txLog txlog.TransactionLog,
	resolver *replication.Resolver,
	directory *session.Directory,
	collector *metrics.Collector,
	l2Cache sqlcoord.L2Cache,
) func(user, schema string) *session.Session {
	return func(user, schema string) *session.Session {
		return session.New(session.Options{
			User:              user,
			Schema:            schema,
			LockTimeout:       cfg.DefaultLockTimeout,
			QueryTimeout:      cfg.DefaultQueryTimeout,
			CommitMaxDuration: cfg.CommitMaxDuration,
			AutoCommit:        true,
			IsRoot:            true,
			LockManager:       lockManager,
			Scheduler:         sched,
			Coordinator:       coordinator,
			TxLog:             txLog,
			Resolver:          resolver,
			Directory:         directory,
			TxObserver:        collector,
			L2Cache:           l2Cache,
		})
	}
}

// recoverStaleTransactions rolls back crashed-but-unfinished transactions from the transaction
// log once at startup, then exits — there is no
// periodic re-scan because new entries are only ever left behind by a crash, not steady-state
// operation. It stops at the first call that finds nothing, which happens as soon as the hour
// bucket picked by the first call is exhausted; entries in other hour buckets are not reached.
func recoverStaleTransactions(ctx context.Context, txLog txlog.TransactionLog, coordinator *txn.Coordinator) error {
	for {
		found, err := txlog.RecoverStaleTransactions(ctx, txLog, coordinator)
		if err != nil {
			return fmt.Errorf("transaction log recovery: %w", err)
		}
		if !found {
			return nil
		}
	}
}

// adminVerifier builds an Okta-backed Verifier from cfg, or nil if Okta is not configured — in
// that case the admin API does not check bearer tokens at all.
func adminVerifier(cfg sqlcoord.Configuration) adminapi.Verifier {
	if cfg.OktaIssuer == "" {
		return nil
	}
	return adminapi.NewOktaVerifier(cfg.OktaIssuer, cfg.OktaAudience)
}

type timeoutLogger struct{}

func (timeoutLogger) OnTimeout(sessionID sqlcoord.UUID, err error) {
	slog.Warn("session transaction timed out while waiting on a lock", "session", sessionID.String(), "error", err)
}
