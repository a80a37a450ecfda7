package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sirgallo/cmdcore/pkg/clock"
	"github.com/sirgallo/cmdcore/pkg/command"
	"github.com/sirgallo/cmdcore/pkg/logger"
	"github.com/sirgallo/cmdcore/pkg/queue"
)

const NAME = "Server"

var Log = clog.NewCustomLog(NAME)

// CommandRoute is the HTTP path escalated commands are posted to — the
// same route name a direct TCP client's command is logically submitted
// to, just reached a different way (SPEC_FULL.md §4.7, §4.9).
const CommandRoute = "/command"

// Server is the wire-protocol front door (spec.md §6): a raw TCP listener
// for direct clients and an HTTP listener for escalated commands, both
// funneling into the same submit-and-wait pipeline. Grounded in the
// teacher's pkg/httpservice (mux + per-request response channel keyed by
// a google/uuid request id) and pkg/request (the same idea duplicated),
// merged into one package since this module only needs one front door.
type Server struct {
	tcpAddr  string
	httpAddr string
	clk      clock.Clock
	queue    *queue.Queue[*command.Command]
	timeout  time.Duration

	mutex    sync.Mutex
	pending  map[string]chan *command.Response

	mux *http.ServeMux
}

type Opts struct {
	TCPAddr  string
	HTTPAddr string
	Clock    clock.Clock
	Queue    *queue.Queue[*command.Command]
	Timeout  time.Duration
}

func New(opts Opts) *Server {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	s := &Server{
		tcpAddr:  opts.TCPAddr,
		httpAddr: opts.HTTPAddr,
		clk:      opts.Clock,
		queue:    opts.Queue,
		timeout:  timeout,
		pending:  make(map[string]chan *command.Response),
		mux:      http.NewServeMux(),
	}

	s.mux.HandleFunc(CommandRoute, s.handleHTTPCommand)
	return s
}

// Notify implements workerpool.ResponseNotifier: a worker finishing a
// Command delivers its Response here, to be routed to whichever
// connection (TCP or HTTP) is blocked waiting on that id.
func (s *Server) Notify(cmd *command.Command) {
	s.mutex.Lock()
	ch, ok := s.pending[cmd.ID]
	s.mutex.Unlock()

	if !ok {
		Log.Warn("no channel for response associated with command id:", cmd.ID)
		return
	}

	ch <- cmd.Response
}

func (s *Server) register(id string) chan *command.Response {
	ch := make(chan *command.Response, 1)
	s.mutex.Lock()
	s.pending[id] = ch
	s.mutex.Unlock()
	return ch
}

func (s *Server) unregister(id string) {
	s.mutex.Lock()
	delete(s.pending, id)
	s.mutex.Unlock()
}

func (s *Server) newCommandID() string {
	return uuid.New().String()
}

// listenTCP is split out so tests can point it at an ephemeral port.
func (s *Server) listenTCP() (net.Listener, error) {
	return net.Listen("tcp", s.tcpAddr)
}
