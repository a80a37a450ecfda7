package executor

import (
	"github.com/sirgallo/cmdcore/pkg/blacklist"
	"github.com/sirgallo/cmdcore/pkg/command"
	"github.com/sirgallo/cmdcore/pkg/db"
	"github.com/sirgallo/cmdcore/pkg/logger"
	"github.com/sirgallo/cmdcore/pkg/roleoracle"
)

const NAME = "Executor"

var Log = clog.NewCustomLog(NAME)

// handlerError is the only panic value the executor's recover() treats as
// ordinary control flow — a handler's way of unwinding straight to
// ProcessCommand/PeekCommand's single recover point without every nested
// call having to check and propagate an error by hand. Anything else
// panicking (notably crashSignal, below) is deliberately re-panicked.
type handlerError struct {
	code   int
	reason string
}

func (h *handlerError) Error() string { return h.reason }

// throwHandlerError is how a Handler bails out of deep call stacks with a
// specific status code instead of threading an error return through every
// helper it calls.
func throwHandlerError(code int, reason string) {
	panic(&handlerError{code: code, reason: reason})
}

// crashSignal is the sentinel panic type the dieinpeek/dieinprocess test
// handlers throw to stand in for "an uncatchable fault." The recover() in
// PeekCommand/ProcessCommand only handles *handlerError; any other panic
// value is recovered just long enough to record the blacklist sighting and
// is then re-panicked, so a crashSignal panic propagates out of the worker
// goroutine and, being unhandled, kills the process. That process death is
// the Go-idiomatic realization of "the node crashed."
type crashSignal struct {
	reason string
}

func (c crashSignal) String() string { return "crash: " + c.reason }

// Handler peeks and/or processes a single methodLine. Either method may
// call throwHandlerError to short-circuit with a specific status, or panic
// with crashSignal (only ever done by the built-in dieinpeek/dieinprocess
// test handlers) to simulate an uncatchable fault.
type Handler interface {
	// Peek attempts to answer the command without a transaction. Returning
	// true means the response is complete and Process will not be called.
	Peek(cmd *command.Command) (complete bool)

	// Process is only ever invoked on the primary, inside an open
	// transaction. Returning true means the transaction modified the
	// database and must be committed; false means it should be rolled
	// back without replication.
	Process(cmd *command.Command, tx db.Transaction) (modified bool)
}

// HandlerRegistry maps methodLine to the Handler responsible for it. Not
// part of spec.md's contract — this expansion's answer to "how does the
// executor find the right peek/process pair for a methodLine" (SPEC_FULL.md
// §4.3), mirroring how the embedded DB and escalation transport are also
// injected collaborators rather than hardcoded.
type HandlerRegistry struct {
	handlers map[string]Handler
	fallback Handler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

func (r *HandlerRegistry) Register(methodLine string, h Handler) {
	r.handlers[methodLine] = h
}

// SetFallback installs the handler used for any methodLine with no
// explicit registration (a generic SQL-shaped command dispatch, say).
func (r *HandlerRegistry) SetFallback(h Handler) {
	r.fallback = h
}

func (r *HandlerRegistry) Lookup(methodLine string) (Handler, bool) {
	if h, ok := r.handlers[methodLine]; ok {
		return h, true
	}
	if r.fallback != nil {
		return r.fallback, true
	}
	return nil, false
}

// Executor is the Core Executor (spec.md §4.3): peek/process dispatch,
// blacklist enforcement, and crash containment.
type Executor struct {
	registry  *HandlerRegistry
	blacklist *blacklist.Blacklist
	oracle    roleoracle.Oracle
}

func NewExecutor(registry *HandlerRegistry, bl *blacklist.Blacklist, oracle roleoracle.Oracle) *Executor {
	return &Executor{registry: registry, blacklist: bl, oracle: oracle}
}
