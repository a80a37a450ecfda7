package connpool

import (
	"net/http"
	"time"
)

//=========================================== Connection Pool
//
// The purpose of the connection pool is to reuse connections once they
// have been made, minimizing overhead for reconnecting to a host every
// time an escalation call is made. The pool has the following structure:
//   { [key: address/host]: *http.Client }
// one client (and therefore one capped, keep-alive transport) per host.

func NewConnectionPool(opts ConnectionPoolOpts) *ConnectionPool {
	return &ConnectionPool{
		minConn: opts.MinConn,
		maxConn: opts.MaxConn,
		timeout: 5 * time.Second,
	}
}

// GetConnection returns the pooled *http.Client for addr, creating one on
// first use.
func (cp *ConnectionPool) GetConnection(addr string) (*http.Client, error) {
	if existing, ok := cp.clients.Load(addr); ok {
		return existing.(*http.Client), nil
	}

	newClient := cp.newClient()
	actual, _ := cp.clients.LoadOrStore(addr, newClient)
	return actual.(*http.Client), nil
}

// CloseConnections evicts addr's pooled client and closes its idle
// connections, used when a peer is observed as unreachable (mirrors the
// teacher's relay package closing the connection pool entry for a peer it
// marked Dead).
func (cp *ConnectionPool) CloseConnections(addr string) {
	existing, ok := cp.clients.LoadAndDelete(addr)
	if !ok {
		return
	}

	if client, ok := existing.(*http.Client); ok {
		client.CloseIdleConnections()
	}
}
