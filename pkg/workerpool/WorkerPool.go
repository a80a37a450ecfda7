package workerpool

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/sirgallo/cmdcore/pkg/command"
	"github.com/sirgallo/cmdcore/pkg/db"
	"github.com/sirgallo/cmdcore/pkg/queue"
)

//=========================================== Worker Loop
//
// One worker loop per goroutine (spec.md §4.4): block on the queue with a
// bounded timeout so ctx cancellation is noticed promptly, drive a
// dequeued Command through peek -> (process | escalate) -> notify.

func (p *WorkerPool) runWorker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		cmd, err := p.queue.Get(getTimeout, &p.inFlight)
		if err != nil {
			if errors.Is(err, queue.ErrTimeout) {
				continue
			}
			Log.Warn("unexpected error from queue.Get:", err.Error())
			continue
		}

		p.handle(cmd)
		atomic.AddInt64(&p.inFlight, -1)
	}
}

// handle drives a single dequeued Command to completion and notifies
// whoever is waiting on its response. A handler panicking with anything
// other than *handlerError (i.e. a crash) is intentionally left to
// propagate out of this goroutine and kill the process — see pkg/executor.
func (p *WorkerPool) handle(cmd *command.Command) {
	if cmd.IsExpired() {
		cmd.Response = command.NewResponse(555, "Timeout")
		p.notifier.Notify(cmd)
		return
	}

	complete, err := p.executor.PeekCommand(cmd)
	if err != nil {
		Log.Error("peek failed for", cmd.MethodLine, ":", err.Error())
		cmd.Response = command.NewResponse(500, "Internal Error")
		p.notifier.Notify(cmd)
		return
	}

	if complete {
		p.notifier.Notify(cmd)
		return
	}

	if p.database.IsPrimary() {
		p.processOnPrimary(cmd)
	} else {
		p.escalate(cmd)
	}

	p.notifier.Notify(cmd)
}

// processOnPrimary runs process() inside a transaction, retrying on
// CommitConflict up to maxRetries (spec.md §7).
func (p *WorkerPool) processOnPrimary(cmd *command.Command) {
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		tx, err := p.database.BeginTransaction()
		if err != nil {
			cmd.Response = command.NewResponse(503, "Database Unavailable")
			return
		}

		cmd.StartTiming(command.PhaseCommit)
		modified, err := p.executor.ProcessCommand(cmd, tx)
		if err != nil {
			tx.Rollback()
			cmd.StopTiming(command.PhaseCommit)
			cmd.Response = command.NewResponse(500, "Internal Error")
			return
		}

		if !modified {
			tx.Rollback()
			cmd.StopTiming(command.PhaseCommit)
			return
		}

		commitErr := tx.Commit()
		cmd.StopTiming(command.PhaseCommit)

		if commitErr == nil {
			return
		}

		if errors.Is(commitErr, db.ErrCommitConflict) && attempt < p.maxRetries {
			continue
		}

		cmd.Response = command.NewResponse(500, "Commit Failed")
		return
	}
}

// escalate forwards a command this replica cannot complete itself to the
// known primary, copying its wire response back onto cmd.Response.
func (p *WorkerPool) escalate(cmd *command.Command) {
	addr, ok := p.peerAddr()
	if !ok {
		cmd.Response = command.NewResponse(503, "No Primary Known")
		return
	}

	code, reason, body, err := p.escalator.Escalate(addr, cmd.MethodLine, cmd.Request)
	if err != nil {
		cmd.Response = command.NewResponse(503, "Escalation Failed")
		return
	}

	resp := command.NewResponse(code, reason)
	resp.Body = body
	cmd.Response = resp
}
