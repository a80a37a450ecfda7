package executor

import (
	"fmt"

	"github.com/sirgallo/cmdcore/pkg/command"
	"github.com/sirgallo/cmdcore/pkg/db"
)

//=========================================== Generic KV Dispatch
//
// The fallback handler for any methodLine not explicitly registered,
// grounded in the teacher's generated/keyvalstore (GET/SET/DELETE
// dispatched by an Ops string), adapted from a raft state-machine
// operation to a peek/process command: GET is answerable from Peek (a
// read never modifies the database); SET/DELETE report Peek incomplete so
// Process runs them inside the primary's open transaction.

const (
	OpGet    = "GET"
	OpSet    = "SET"
	OpDelete = "DELETE"
)

// GenericHandler is registered as the HandlerRegistry's fallback so any
// methodLine not claimed by a more specific handler is treated as a
// key/value operation against the embedded database's DataBucket,
// selected by the request's "op" header.
type GenericHandler struct {
	database db.Database
}

func NewGenericHandler(database db.Database) *GenericHandler {
	return &GenericHandler{database: database}
}

func (h *GenericHandler) Peek(cmd *command.Command) bool {
	op := cmd.Request["op"]
	if op != OpGet {
		return false
	}

	key, ok := cmd.Request["key"]
	if !ok {
		throwHandlerError(400, "missing key header")
	}

	tx, err := h.database.BeginTransaction()
	if err != nil {
		throwHandlerError(503, "database unavailable")
	}
	defer tx.Rollback()

	value, err := tx.Get(db.DataBucket, key)
	if err != nil {
		throwHandlerError(500, fmt.Sprintf("get failed: %s", err.Error()))
	}

	resp := command.NewResponse(200, "OK")
	if value == nil {
		resp.Code = 404
		resp.Reason = "Not Found"
	} else {
		resp.Body = string(value)
	}
	cmd.Response = resp

	return true
}

func (h *GenericHandler) Process(cmd *command.Command, tx db.Transaction) bool {
	key, ok := cmd.Request["key"]
	if !ok {
		throwHandlerError(400, "missing key header")
	}

	switch cmd.Request["op"] {
	case OpSet:
		value, ok := cmd.Request["value"]
		if !ok {
			throwHandlerError(400, "missing value header")
		}
		if err := tx.Put(db.DataBucket, key, []byte(value)); err != nil {
			throwHandlerError(500, fmt.Sprintf("set failed: %s", err.Error()))
		}
		cmd.Response = command.NewResponse(200, "OK")
		return true

	case OpDelete:
		if err := tx.Delete(db.DataBucket, key); err != nil {
			throwHandlerError(500, fmt.Sprintf("delete failed: %s", err.Error()))
		}
		cmd.Response = command.NewResponse(200, "OK")
		return true

	default:
		throwHandlerError(400, "unrecognized op header")
		return false
	}
}
