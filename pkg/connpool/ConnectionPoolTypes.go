package connpool

import (
	"net/http"
	"sync"
	"time"
)

// ConnectionPoolOpts mirrors the teacher's options exactly (MinConn is
// kept for parity even though, like the teacher's own implementation, it
// is not currently enforced).
type ConnectionPoolOpts struct {
	MinConn int
	MaxConn int
}

// ConnectionPool reuses one *http.Client per peer host rather than dialing
// a fresh connection per escalation call. Adapted from the teacher's grpc
// ConnectionPool (SPEC_FULL.md §4.8, DESIGN.md): same sync.Map-keyed-by-
// host structure and the same "ceiling on concurrent connections per host"
// idea, realized through http.Transport.MaxConnsPerHost instead of a
// manually managed slice of *grpc.ClientConn.
type ConnectionPool struct {
	clients sync.Map
	minConn int
	maxConn int
	timeout time.Duration
}

func (cp *ConnectionPool) newClient() *http.Client {
	return &http.Client{
		Timeout: cp.timeout,
		Transport: &http.Transport{
			MaxConnsPerHost:     cp.maxConn,
			MaxIdleConnsPerHost: cp.maxConn,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
