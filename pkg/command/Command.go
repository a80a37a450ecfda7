package command

import (
	"math"
	"strconv"

	"github.com/sirgallo/cmdcore/pkg/clock"
)

// noTimeout marks a Command that never participates in queue rule 1
// (timeout-preemption) — the default when no "timeout" header is given.
// Without this, a no-timeout Command's timeoutTimestamp would default to
// executeTimestamp, which is already <= now by the time it's dequeued,
// making rule 1 fire on nearly every command and defeat priority ordering.
const noTimeout = math.MaxUint64

//=========================================== Command

// NewCommand builds a Command from a parsed wire request (methodLine +
// headers), resolving the scheduling headers per spec.md §3:
//   - commandExecuteTime: absolute µs, default now
//   - timeout: relative ms, resolved to an absolute timeoutTimestamp
//     (see SPEC_FULL.md §9 for why "relative ms" was chosen over
//     "absolute µs" — the original source left this inconsistent)
//   - userID: free-form string, default empty (empty is itself a valid,
//     distinct blacklist key component)
//   - priority: integer, default DefaultPriority
func NewCommand(id string, methodLine string, request map[string]string, clk clock.Clock) *Command {
	now := clk.NowUS()

	executeTimestamp := now
	if raw, ok := request[HeaderCommandExecuteTime]; ok {
		if parsed, err := strconv.ParseUint(raw, 10, 64); err == nil {
			executeTimestamp = parsed
		}
	}

	timeoutTimestamp := uint64(noTimeout)
	if raw, ok := request[HeaderTimeout]; ok {
		if parsed, err := strconv.ParseUint(raw, 10, 64); err == nil {
			timeoutTimestamp = executeTimestamp + parsed*1000
			if timeoutTimestamp < executeTimestamp {
				// overflow guard; invariant timeoutTimestamp >= executeTimestamp always holds
				timeoutTimestamp = executeTimestamp
			}
		}
	}

	priority := DefaultPriority
	if raw, ok := request[HeaderPriority]; ok {
		if parsed, err := strconv.Atoi(raw); err == nil {
			priority = parsed
		}
	}

	return &Command{
		ID:               id,
		MethodLine:       methodLine,
		Request:          request,
		Response:         NewResponse(0, ""),
		Priority:         priority,
		ExecuteTimestamp: executeTimestamp,
		TimeoutTimestamp: timeoutTimestamp,
		clk:              clk,
		timing:           newTiming(),
	}
}

func (c *Command) UserID() string {
	return c.Request[HeaderUserID]
}

// IsExpired reports whether this command's timeout has already passed. A
// worker that dequeues an already-expired command (queue rule 1,
// timeout-preemption) checks this before dispatching it to the executor,
// synthesizing a 555 Timeout response instead (spec.md §7 CommandTimeout).
func (c *Command) IsExpired() bool {
	return c.TimeoutTimestamp != noTimeout && c.clk.NowUS() >= c.TimeoutTimestamp
}

// StartTiming and StopTiming record when a Command enters/exits a named
// phase. Calling StopTiming for a phase that was never started is a no-op.
func (c *Command) StartTiming(phase Phase) {
	c.timing.mutex.Lock()
	defer c.timing.mutex.Unlock()
	c.timing.start[phase] = c.clk.NowUS()
}

func (c *Command) StopTiming(phase Phase) {
	c.timing.mutex.Lock()
	defer c.timing.mutex.Unlock()

	started, ok := c.timing.start[phase]
	if !ok {
		return
	}

	now := c.clk.NowUS()
	if now >= started {
		c.timing.spent[phase] += now - started
	}
	delete(c.timing.start, phase)
}

func (c *Command) TimeSpent(phase Phase) uint64 {
	c.timing.mutex.Lock()
	defer c.timing.mutex.Unlock()
	return c.timing.spent[phase]
}

//=========================================== Schedulable

// The queue package is generic over anything implementing Schedulable, so
// it never has to import the command package directly and could in
// principle schedule other payloads. Command is the only real instance.
func (c *Command) SchedulingPriority() int           { return c.Priority }
func (c *Command) SchedulingExecuteTimestamp() uint64 { return c.ExecuteTimestamp }
func (c *Command) SchedulingTimeoutTimestamp() uint64 { return c.TimeoutTimestamp }
func (c *Command) SchedulingID() string               { return c.ID }
func (c *Command) SchedulingMethodLine() string       { return c.MethodLine }

// StartQueueTiming and StopQueueTiming satisfy pkg/queue's optional
// commandStarter/commandStopper interfaces, so Push/dequeue bracket the
// QUEUE_WORKER phase without the queue package importing pkg/command.
func (c *Command) StartQueueTiming() { c.StartTiming(PhaseQueueWorker) }
func (c *Command) StopQueueTiming()  { c.StopTiming(PhaseQueueWorker) }
