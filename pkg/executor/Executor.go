package executor

import (
	"fmt"

	"github.com/sirgallo/cmdcore/pkg/command"
	"github.com/sirgallo/cmdcore/pkg/db"
)

//=========================================== Core Executor
//
// PeekCommand and ProcessCommand are the two halves of spec.md §4.3's
// contract. Both are wrapped in the same recover pattern: a handler that
// calls throwHandlerError unwinds cleanly to the status it asked for; a
// handler that panics with anything else (crashSignal, a runtime nil
// dereference, whatever) is allowed to keep propagating, because that is
// what "HandlerCrash" means in this expansion (§7).

// PeekCommand runs the registered handler's Peek. Returns true if the
// response is complete and Process does not need to run. The blacklist is
// consulted first — a blacklisted (methodLine, userID) never reaches the
// handler at all.
func (e *Executor) PeekCommand(cmd *command.Command) (complete bool, err error) {
	if e.blacklist.IsBlacklisted(cmd.MethodLine, cmd.UserID()) {
		cmd.Response = command.NewResponse(500, "Blacklisted")
		return true, nil
	}

	handler, ok := e.registry.Lookup(cmd.MethodLine)
	if !ok {
		cmd.Response = command.NewResponse(404, "No Handler")
		return true, nil
	}

	cmd.StartTiming(command.PhasePeek)
	defer cmd.StopTiming(command.PhasePeek)

	defer func() {
		if r := recover(); r != nil {
			if herr, ok := r.(*handlerError); ok {
				cmd.Response = command.NewResponse(herr.code, herr.reason)
				complete, err = true, nil
				return
			}

			// not a handlerError — record the sighting before letting the
			// panic keep propagating. The blacklist lives only in this
			// process's memory, so the entry is observable only where the
			// panic is recovered further up; a restarted process starts
			// with an empty blacklist.
			e.blacklist.Record(cmd.MethodLine, cmd.UserID())
			panic(r)
		}
	}()

	complete = handler.Peek(cmd)
	return complete, nil
}

// ProcessCommand runs the registered handler's Process inside tx, which
// the caller has already begun and will Commit or Rollback depending on
// the returned bool. Only ever called on the primary (spec.md §4.3).
func (e *Executor) ProcessCommand(cmd *command.Command, tx db.Transaction) (modified bool, err error) {
	if !e.oracle.IsPrimary() {
		return false, fmt.Errorf("executor: ProcessCommand called while not primary")
	}

	if e.blacklist.IsBlacklisted(cmd.MethodLine, cmd.UserID()) {
		cmd.Response = command.NewResponse(500, "Blacklisted")
		return false, nil
	}

	handler, ok := e.registry.Lookup(cmd.MethodLine)
	if !ok {
		cmd.Response = command.NewResponse(404, "No Handler")
		return false, nil
	}

	cmd.StartTiming(command.PhaseProcess)
	defer cmd.StopTiming(command.PhaseProcess)

	defer func() {
		if r := recover(); r != nil {
			if herr, ok := r.(*handlerError); ok {
				cmd.Response = command.NewResponse(herr.code, herr.reason)
				modified, err = false, nil
				return
			}

			e.blacklist.Record(cmd.MethodLine, cmd.UserID())
			panic(r)
		}
	}()

	modified = handler.Process(cmd, tx)
	return modified, nil
}

// UpgradeDatabase runs every registered handler's schema upgrade, if it
// implements the optional Upgrader interface. Mirrors BedrockCore's
// upgradeDatabase — called once at primary startup before any command is
// processed.
type Upgrader interface {
	Upgrade(tx db.Transaction) error
}

func (e *Executor) UpgradeDatabase(tx db.Transaction) error {
	for methodLine, handler := range e.registry.handlers {
		upgrader, ok := handler.(Upgrader)
		if !ok {
			continue
		}
		if err := upgrader.Upgrade(tx); err != nil {
			return fmt.Errorf("executor: upgrade failed for %s: %w", methodLine, err)
		}
	}

	return nil
}
