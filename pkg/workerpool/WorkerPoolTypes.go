package workerpool

import (
	"context"
	"sync"
	"time"

	"github.com/sirgallo/cmdcore/pkg/command"
	"github.com/sirgallo/cmdcore/pkg/db"
	"github.com/sirgallo/cmdcore/pkg/escalation"
	"github.com/sirgallo/cmdcore/pkg/executor"
	"github.com/sirgallo/cmdcore/pkg/logger"
	"github.com/sirgallo/cmdcore/pkg/queue"
)

const NAME = "WorkerPool"

var Log = clog.NewCustomLog(NAME)

// ResponseNotifier delivers a finished Command's Response back to whatever
// is waiting on it (pkg/server's per-id response channel). Kept as a
// narrow interface so pkg/workerpool never has to import pkg/server.
type ResponseNotifier interface {
	Notify(cmd *command.Command)
}

// WorkerPool runs N worker goroutines pulling Commands off a shared
// queue.Queue and driving them through the Executor (spec.md §4.4).
// Grounded in the teacher's pkg/relay RelayListener goroutines: a `for`
// loop pulling work and dispatching it, logged the same way, except here
// the source is queue.Get's bounded wait instead of an unbounded channel
// receive.
type WorkerPool struct {
	queue      *queue.Queue[*command.Command]
	database   db.Database
	executor   *executor.Executor
	escalator  escalation.Escalator
	notifier   ResponseNotifier
	peerAddr   func() (string, bool)
	inFlight   int64
	maxRetries int

	wg sync.WaitGroup
}

type Opts struct {
	Queue      *queue.Queue[*command.Command]
	Database   db.Database
	Executor   *executor.Executor
	Escalator  escalation.Escalator
	Notifier   ResponseNotifier
	// PeerAddr returns the address of the current primary (for
	// escalation) and whether one is currently known.
	PeerAddr   func() (string, bool)
	MaxRetries int
}

func New(opts Opts) *WorkerPool {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	return &WorkerPool{
		queue:      opts.Queue,
		database:   opts.Database,
		executor:   opts.Executor,
		escalator:  opts.Escalator,
		notifier:   opts.Notifier,
		peerAddr:   opts.PeerAddr,
		maxRetries: maxRetries,
	}
}

// getTimeout is how long a worker blocks on queue.Get between checking ctx
// for cancellation — not a command-level timeout, purely a polling period.
const getTimeout = 250 * time.Millisecond

// Start launches n worker goroutines, returning immediately. Workers stop
// once ctx is cancelled.
func (p *WorkerPool) Start(ctx context.Context, n int) {
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx)
	}
}

// Wait blocks until every worker goroutine has returned (ctx cancelled and
// drained).
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}
