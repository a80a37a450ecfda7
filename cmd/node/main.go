package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirgallo/cmdcore/pkg/blacklist"
	"github.com/sirgallo/cmdcore/pkg/clock"
	"github.com/sirgallo/cmdcore/pkg/command"
	"github.com/sirgallo/cmdcore/pkg/config"
	"github.com/sirgallo/cmdcore/pkg/connpool"
	"github.com/sirgallo/cmdcore/pkg/db"
	"github.com/sirgallo/cmdcore/pkg/escalation"
	"github.com/sirgallo/cmdcore/pkg/executor"
	"github.com/sirgallo/cmdcore/pkg/logger"
	"github.com/sirgallo/cmdcore/pkg/queue"
	"github.com/sirgallo/cmdcore/pkg/roleoracle"
	"github.com/sirgallo/cmdcore/pkg/server"
	"github.com/sirgallo/cmdcore/pkg/workerpool"
)

const NAME = "Main"

var Log = clog.NewCustomLog(NAME)

func main() {
	configPath := flag.String("config", "./node.yaml", "path to the node's YAML config file")
	startPrimary := flag.Bool("primary", false, "start this node already MASTERING instead of WAITING")
	flag.Parse()

	loader, err := config.Load(*configPath)
	if err != nil {
		Log.Fatal("unable to load config:", err.Error())
	}
	cfg := loader.Current()

	hostname, hostErr := os.Hostname()
	if hostErr != nil {
		Log.Fatal("unable to get hostname")
	}

	initialRole := roleoracle.Waiting
	if *startPrimary {
		initialRole = roleoracle.Mastering
	}
	oracle := roleoracle.NewStateOracle(hostname, initialRole)

	database, dbErr := db.NewBoltDatabase(cfg.DataDir, "cmdcore.db", oracle)
	if dbErr != nil {
		Log.Fatal("unable to open embedded database:", dbErr.Error())
	}
	defer database.Close()

	bl := blacklist.New()
	clk := clock.NewSystemClock()
	cmdQueue := queue.New[*command.Command](queue.Opts{})

	registry := executor.NewHandlerRegistry()
	registry.Register("Status", executor.NewStatusHandler(oracle, cmdQueue, cfg.DataDir))
	registry.Register("dieinpeek", executor.DieInPeekHandler{})
	registry.Register("dieinprocess", executor.DieInProcessHandler{})
	registry.SetFallback(executor.NewGenericHandler(database))

	exec := executor.NewExecutor(registry, bl, oracle)

	if dbErr := database.UpgradeDatabase(); dbErr != nil {
		Log.Fatal("database upgrade failed:", dbErr.Error())
	}
	if upErr := func() error {
		if !oracle.IsPrimary() {
			return nil
		}
		tx, txErr := database.BeginTransaction()
		if txErr != nil {
			return txErr
		}
		if err := exec.UpgradeDatabase(tx); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	}(); upErr != nil {
		Log.Fatal("handler schema upgrade failed:", upErr.Error())
	}

	pool := connpool.NewConnectionPool(connpool.ConnectionPoolOpts{MaxConn: 10})
	escalator := escalation.NewHTTPEscalator(escalation.Opts{
		Pool:       pool,
		Timeout:    cfg.EscalationTimeout(),
		MaxRetries: cfg.MaxProcessRetries,
	})

	peerAddr := func() (string, bool) {
		if len(cfg.Peers) == 0 {
			return "", false
		}
		// simplification: no real leader election is wired up (consensus
		// is an explicit non-goal), so the first configured peer stands
		// in for "the known primary" until a real membership layer
		// drives roleoracle.TransitionTo on this node.
		return cfg.Peers[0], true
	}

	srv := server.New(server.Opts{
		TCPAddr:  cfg.Listen,
		HTTPAddr: cfg.EscalationListen,
		Clock:    clk,
		Queue:    cmdQueue,
		Timeout:  cfg.EscalationTimeout(),
	})

	workerPool := workerpool.New(workerpool.Opts{
		Queue:      cmdQueue,
		Database:   database,
		Executor:   exec,
		Escalator:  escalator,
		Notifier:   srv,
		PeerAddr:   peerAddr,
		MaxRetries: cfg.MaxProcessRetries,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if watchErr := loader.Watch(ctx.Done()); watchErr != nil {
		Log.Warn("config hot-reload watcher failed to start:", watchErr.Error())
	}

	if startErr := srv.Start(ctx); startErr != nil {
		Log.Fatal("unable to start server:", startErr.Error())
	}

	workerPool.Start(ctx, cfg.WorkerCount)
	go runQueuePruner(ctx, loader, cmdQueue)
	Log.Info("node started as", hostname, "role:", string(oracle.Role()))

	<-ctx.Done()
	Log.Info("shutting down")
	workerPool.Wait()
	cmdQueue.Clear()
}

// runQueuePruner periodically discards queued work scheduled further than
// QueuePruneMSAhead into the future, keeping the queue from accumulating
// bulk scheduled commands that are never going to become due soon
// (SPEC_FULL.md §2, spec.md's "bulk pruning of future work"). Both the
// interval and the horizon are read fresh from the loader each tick so a
// hot-reloaded value takes effect without restarting this goroutine.
func runQueuePruner(ctx context.Context, loader *config.Loader, cmdQueue *queue.Queue[*command.Command]) {
	interval := loader.Current().QueuePruneInterval()
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cfg := loader.Current()
			if next := cfg.QueuePruneInterval(); next > 0 && next != interval {
				interval = next
				ticker.Reset(interval)
			}
			removed := cmdQueue.PruneFuture(cfg.QueuePruneMSAhead)
			if removed > 0 {
				Log.Info("pruned", removed, "future-scheduled commands from the queue")
			}
		}
	}
}
