package workerpool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sirgallo/cmdcore/pkg/blacklist"
	"github.com/sirgallo/cmdcore/pkg/clock"
	"github.com/sirgallo/cmdcore/pkg/command"
	"github.com/sirgallo/cmdcore/pkg/db"
	"github.com/sirgallo/cmdcore/pkg/executor"
	"github.com/sirgallo/cmdcore/pkg/queue"
	"github.com/sirgallo/cmdcore/pkg/roleoracle"
)

type fakeNotifier struct {
	mutex     sync.Mutex
	responses map[string]*command.Response
	done      chan struct{}
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{responses: make(map[string]*command.Response), done: make(chan struct{}, 64)}
}

func (f *fakeNotifier) Notify(cmd *command.Command) {
	f.mutex.Lock()
	f.responses[cmd.ID] = cmd.Response
	f.mutex.Unlock()
	f.done <- struct{}{}
}

func (f *fakeNotifier) waitFor(t *testing.T, n int, timeout time.Duration) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-f.done:
		case <-time.After(timeout):
			t.Fatalf("timed out waiting for notification %d/%d", i+1, n)
		}
	}
}

func (f *fakeNotifier) get(id string) *command.Response {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.responses[id]
}

type fakeEscalator struct {
	code   int
	reason string
	body   string
	err    error
}

func (f *fakeEscalator) Escalate(primaryAddr, methodLine string, headers map[string]string) (int, string, string, error) {
	return f.code, f.reason, f.body, f.err
}

func newTestPool(t *testing.T, primary bool, escalator *fakeEscalator) (*WorkerPool, *queue.Queue[*command.Command], *fakeNotifier, db.Database) {
	t.Helper()

	oracle := roleoracle.NewStateOracle("node1", roleoracle.Waiting)
	if primary {
		oracle.TransitionTo(roleoracle.Mastering)
	}

	database, err := db.NewBoltDatabase(t.TempDir(), "test.db", oracle)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	registry := executor.NewHandlerRegistry()
	registry.SetFallback(executor.NewGenericHandler(database))
	exec := executor.NewExecutor(registry, blacklist.New(), oracle)

	q := queue.New[*command.Command](queue.Opts{})
	notifier := newFakeNotifier()

	pool := New(Opts{
		Queue:     q,
		Database:  database,
		Executor:  exec,
		Escalator: escalator,
		Notifier:  notifier,
		PeerAddr:  func() (string, bool) { return "127.0.0.1:9999", true },
	})

	return pool, q, notifier, database
}

func TestWorkerPoolExpiredCommandGetsTimeoutResponse(t *testing.T) {
	pool, q, notifier, _ := newTestPool(t, true, &fakeEscalator{})

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx, 1)
	defer pool.Wait()
	defer cancel()

	clk := clock.NewFixedClock(1_000_000)
	cmd := command.NewCommand("expired-1", "Status", map[string]string{command.HeaderTimeout: "1"}, clk)
	clk.Advance(5_000)
	q.Push(cmd)

	notifier.waitFor(t, 1, 2*time.Second)
	resp := notifier.get("expired-1")
	require.NotNil(t, resp)
	require.Equal(t, 555, resp.Code)
	require.Equal(t, "Timeout", resp.Reason)
}

func TestWorkerPoolPrimaryProcessesSetCommand(t *testing.T) {
	pool, q, notifier, database := newTestPool(t, true, &fakeEscalator{})

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx, 1)
	defer pool.Wait()
	defer cancel()

	clk := clock.NewSystemClock()
	req := map[string]string{"op": executor.OpSet, "key": "k1", "value": "v1"}
	cmd := command.NewCommand("set-1", "AnyMethod", req, clk)
	q.Push(cmd)

	notifier.waitFor(t, 1, 2*time.Second)
	resp := notifier.get("set-1")
	require.NotNil(t, resp)
	require.Equal(t, 200, resp.Code)

	tx, err := database.BeginTransaction()
	require.NoError(t, err)
	defer tx.Rollback()
	val, err := tx.Get(db.DataBucket, "k1")
	require.NoError(t, err)
	require.Equal(t, "v1", string(val))
}

func TestWorkerPoolReplicaEscalates(t *testing.T) {
	esc := &fakeEscalator{code: 200, reason: "OK", body: "from-primary"}
	pool, q, notifier, _ := newTestPool(t, false, esc)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx, 1)
	defer pool.Wait()
	defer cancel()

	clk := clock.NewSystemClock()
	req := map[string]string{"op": executor.OpSet, "key": "k1", "value": "v1"}
	cmd := command.NewCommand("escalate-1", "AnyMethod", req, clk)
	q.Push(cmd)

	notifier.waitFor(t, 1, 2*time.Second)
	resp := notifier.get("escalate-1")
	require.NotNil(t, resp)
	require.Equal(t, 200, resp.Code)
	require.Equal(t, "from-primary", resp.Body)
}

func TestWorkerPoolReplicaWithNoKnownPrimaryReturns503(t *testing.T) {
	oracle := roleoracle.NewStateOracle("node1", roleoracle.Slaving)
	database, err := db.NewBoltDatabase(t.TempDir(), "test.db", oracle)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	registry := executor.NewHandlerRegistry()
	registry.SetFallback(executor.NewGenericHandler(database))
	exec := executor.NewExecutor(registry, blacklist.New(), oracle)

	q := queue.New[*command.Command](queue.Opts{})
	notifier := newFakeNotifier()

	pool := New(Opts{
		Queue:     q,
		Database:  database,
		Executor:  exec,
		Escalator: &fakeEscalator{},
		Notifier:  notifier,
		PeerAddr:  func() (string, bool) { return "", false },
	})

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx, 1)
	defer pool.Wait()
	defer cancel()

	clk := clock.NewSystemClock()
	req := map[string]string{"op": executor.OpSet, "key": "k1", "value": "v1"}
	cmd := command.NewCommand("no-primary-1", "AnyMethod", req, clk)
	q.Push(cmd)

	notifier.waitFor(t, 1, 2*time.Second)
	resp := notifier.get("no-primary-1")
	require.NotNil(t, resp)
	require.Equal(t, 503, resp.Code)
}

func TestWorkerPoolCommitConflictRetriesThenSucceeds(t *testing.T) {
	oracle := roleoracle.NewStateOracle("node1", roleoracle.Mastering)
	database, err := db.NewBoltDatabase(t.TempDir(), "test.db", oracle)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	database.ForceNextCommitConflict()

	registry := executor.NewHandlerRegistry()
	registry.SetFallback(executor.NewGenericHandler(database))
	exec := executor.NewExecutor(registry, blacklist.New(), oracle)

	q := queue.New[*command.Command](queue.Opts{})
	notifier := newFakeNotifier()

	pool := New(Opts{
		Queue:      q,
		Database:   database,
		Executor:   exec,
		Escalator:  &fakeEscalator{},
		Notifier:   notifier,
		PeerAddr:   func() (string, bool) { return "", false },
		MaxRetries: 3,
	})

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx, 1)
	defer pool.Wait()
	defer cancel()

	clk := clock.NewSystemClock()
	req := map[string]string{"op": executor.OpSet, "key": "k1", "value": "v1"}
	cmd := command.NewCommand("conflict-1", "AnyMethod", req, clk)
	q.Push(cmd)

	notifier.waitFor(t, 1, 2*time.Second)
	resp := notifier.get("conflict-1")
	require.NotNil(t, resp)
	require.Equal(t, 200, resp.Code, "the retry after a single forced conflict must succeed")
}
