package executor

import (
	"fmt"
	"strings"

	"github.com/sirgallo/cmdcore/pkg/command"
	"github.com/sirgallo/cmdcore/pkg/db"
	"github.com/sirgallo/cmdcore/pkg/queue"
	"github.com/sirgallo/cmdcore/pkg/roleoracle"
	"github.com/sirgallo/cmdcore/pkg/stats"
	"github.com/sirgallo/cmdcore/pkg/utils"
)

//=========================================== Built-in Handlers
//
// Status and the two crash-test handlers named in spec.md §8's scenarios
// (dieinpeek, dieinprocess). Status completes in Peek and dieinpeek crashes
// there; dieinprocess reports Peek incomplete so that it crashes in Process.

// StatusHandler answers the Status command entirely from Peek: role,
// queued methodLines, and (SPEC_FULL.md §6) disk usage for the embedded
// database's data directory.
type StatusHandler struct {
	oracle  roleoracle.Oracle
	queue   *queue.Queue[*command.Command]
	dataDir string
}

func NewStatusHandler(oracle roleoracle.Oracle, q *queue.Queue[*command.Command], dataDir string) *StatusHandler {
	return &StatusHandler{oracle: oracle, queue: q, dataDir: dataDir}
}

func (h *StatusHandler) Peek(cmd *command.Command) bool {
	var methodLines []string
	if h.queue != nil {
		// a blank scheduling method line names no command, so it is left
		// out of the diagnostic snapshot of "what's queued".
		methodLines = utils.Filter(h.queue.SnapshotMethodLines(), func(m string) bool { return m != "" })
	}

	var body strings.Builder
	body.WriteString(`{"state":"`)
	body.WriteString(string(h.oracle.Role()))
	body.WriteString(`","queuedCommands":[`)
	for i, m := range methodLines {
		if i > 0 {
			body.WriteString(",")
		}
		fmt.Fprintf(&body, "%q", m)
	}
	body.WriteString("]")

	if diskStats, err := stats.CalculateCurrentStats(h.dataDir); err == nil {
		if encoded, encErr := stats.EncodeStatObjectToBytes(*diskStats); encErr == nil {
			fmt.Fprintf(&body, `,"diskStats":%s`, encoded)
		}
	}
	body.WriteString("}")

	cmd.Response = command.NewResponse(200, "OK")
	cmd.Response.Headers["Content-Type"] = "application/json"
	cmd.Response.Body = body.String()

	return true
}

func (h *StatusHandler) Process(cmd *command.Command, tx db.Transaction) bool {
	throwHandlerError(500, "Status never reaches Process")
	return false
}

// DieInPeekHandler exists purely to exercise crash containment and
// blacklisting (spec.md §8 scenario 1): it panics with crashSignal from
// inside Peek, which the executor deliberately does not recover from.
type DieInPeekHandler struct{}

func (DieInPeekHandler) Peek(cmd *command.Command) bool {
	panic(crashSignal{reason: "dieinpeek: simulated uncatchable fault during peek"})
}

func (DieInPeekHandler) Process(cmd *command.Command, tx db.Transaction) bool {
	throwHandlerError(500, "dieinpeek never reaches Process")
	return false
}

// DieInProcessHandler is dieinpeek's counterpart for scenario 2: Peek
// reports incomplete so Process runs (only on the primary), where it
// crashes instead.
type DieInProcessHandler struct{}

func (DieInProcessHandler) Peek(cmd *command.Command) bool {
	return false
}

func (DieInProcessHandler) Process(cmd *command.Command, tx db.Transaction) bool {
	panic(crashSignal{reason: "dieinprocess: simulated uncatchable fault during process"})
}
