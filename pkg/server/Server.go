package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/sirgallo/cmdcore/pkg/command"
	"github.com/sirgallo/cmdcore/pkg/wireproto"
)

//=========================================== Front Door
//
// Both entry points (raw TCP, escalation-over-HTTP) decode a request into
// a methodLine + headers, hand it to submit, then encode whatever Response
// comes back (or, on timeout/crash, write nothing — spec.md §7 "empty
// response").

// Start launches the TCP and HTTP listeners as background goroutines.
// Returns once both are listening, so callers know the service is ready.
func (s *Server) Start(ctx context.Context) error {
	tcpListener, err := s.listenTCP()
	if err != nil {
		return err
	}

	go s.serveTCP(ctx, tcpListener)

	httpServer := &http.Server{Addr: s.httpAddr, Handler: s.mux}
	go func() {
		Log.Info("escalation HTTP listener starting on", s.httpAddr)
		if srvErr := httpServer.ListenAndServe(); srvErr != nil && srvErr != http.ErrServerClosed {
			Log.Error("escalation listener failed:", srvErr.Error())
		}
	}()

	go func() {
		<-ctx.Done()
		tcpListener.Close()
		httpServer.Close()
	}()

	Log.Info("wire protocol listener starting on", s.tcpAddr)
	return nil
}

func (s *Server) serveTCP(ctx context.Context, listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				Log.Warn("tcp accept error:", err.Error())
				continue
			}
		}

		go s.handleTCPConn(conn)
	}
}

// handleTCPConn decodes exactly one request off conn, submits it, writes
// the wire response, and closes the connection — mirroring the teacher's
// one-shot request/response cycle (no pipelining across a connection).
func (s *Server) handleTCPConn(conn net.Conn) {
	defer conn.Close()

	methodLine, headers, err := wireproto.DecodeRequest(conn)
	if err != nil {
		return
	}

	resp, crashed := s.submit(methodLine, headers)
	if crashed {
		// nothing written: an unreachable/crashed handler produces no
		// response line, and the client observes this as a closed
		// connection with an empty read (spec.md §7, §8 scenario 1).
		return
	}

	conn.Write(wireproto.EncodeResponse(resp))
}

// handleHTTPCommand is the /command route escalated requests arrive on.
// Same submit pipeline, same wire encoding — an escalated command is
// indistinguishable from a direct client request once decoded.
func (s *Server) handleHTTPCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	methodLine, headers, err := wireproto.DecodeRequest(r.Body)
	if err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}

	resp, crashed := s.submit(methodLine, headers)
	if crashed {
		// close with nothing written; escalation.HTTPEscalator reads this
		// as io.EOF and reports it to its caller as a HandlerCrash, not a
		// transport failure.
		hj, ok := w.(http.Hijacker)
		if !ok {
			return
		}
		conn, _, hjErr := hj.Hijack()
		if hjErr == nil {
			conn.Close()
		}
		return
	}

	w.Write(wireproto.EncodeResponse(resp))
}

// submit pushes a parsed request onto the queue and blocks for a response,
// bounded by s.timeout. crashed reports the worker died without producing
// a Response at all (distinct from the command's own 555 Timeout, which is
// a normal Response).
func (s *Server) submit(methodLine string, headers map[string]string) (resp *command.Response, crashed bool) {
	id := s.newCommandID()
	cmd := command.NewCommand(id, methodLine, headers, s.clk)

	ch := s.register(id)
	defer s.unregister(id)

	s.queue.Push(cmd)

	select {
	case r := <-ch:
		return r, false
	case <-time.After(s.timeout):
		return nil, true
	}
}
