package escalation

import (
	"time"

	"github.com/sirgallo/cmdcore/pkg/connpool"
	"github.com/sirgallo/cmdcore/pkg/logger"
)

const NAME = "Escalation"

var Log = clog.NewCustomLog(NAME)

// Escalator forwards a command that needs process() from a replica to the
// primary (spec.md §4.3 state machine: NEEDS_PROCESS (replica) -> ESCALATED).
type Escalator interface {
	Escalate(primaryAddr string, methodLine string, headers map[string]string) (code int, reason string, body string, err error)
}

// HTTPEscalator posts the command's wire form to the primary's front door
// (pkg/server) and decodes the wire response — escalation reuses the same
// protocol a direct client request would use (SPEC_FULL.md §4.7), so there
// is no separate escalation wire format or server handler to maintain.
// Grounded in the teacher's pkg/relay RelayClientRPC, including its
// exponential-backoff retry, adapted from a gRPC unary call to an HTTP
// POST through the adapted connection pool (pkg/connpool, DESIGN.md).
type HTTPEscalator struct {
	pool       *connpool.ConnectionPool
	timeout    time.Duration
	maxRetries int
}

type Opts struct {
	Pool       *connpool.ConnectionPool
	Timeout    time.Duration
	MaxRetries int
}

func NewHTTPEscalator(opts Opts) *HTTPEscalator {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}

	return &HTTPEscalator{
		pool:       opts.Pool,
		timeout:    opts.Timeout,
		maxRetries: maxRetries,
	}
}
