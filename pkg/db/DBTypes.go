package db

import (
	"errors"
	"sync"

	bolt "go.etcd.io/bbolt"
)

//=========================================== Embedded DB Types

// ErrCommitConflict is returned from Transaction.Commit when the caller
// should retry process() later (spec.md §7 CommitConflict). bbolt itself
// serializes writers so a real write/write conflict can't occur the way it
// would against a concurrent SQL engine; ForceNextCommitConflict exists so
// tests can exercise the retry path the spec requires regardless.
var ErrCommitConflict = errors.New("db: commit conflict, caller may retry process")

const (
	RootBucket = "core"
	DataBucket = "data"
)

// Database is the Core Executor's view of the embedded transactional
// engine standing in for "the replicated SQL engine" (spec.md §6,
// SPEC_FULL.md §4.5).
type Database interface {
	BeginTransaction() (Transaction, error)
	IsPrimary() bool
	Close() error
}

// Transaction is a single begin/commit-or-rollback unit. process() is
// handed one already begun and must never call Commit/Rollback itself —
// that's the caller's job (the worker pool's, not the executor's).
type Transaction interface {
	Get(bucket, key string) ([]byte, error)
	Put(bucket, key string, value []byte) error
	Delete(bucket, key string) error
	Commit() error
	Rollback() error
}

// RoleSource is the minimal thing Database needs from the cluster to
// answer IsPrimary() — satisfied by pkg/roleoracle.Oracle.
type RoleSource interface {
	IsPrimary() bool
}

type BoltDatabase struct {
	mutex sync.Mutex
	inner *bolt.DB
	role  RoleSource

	forceConflictOnce bool
}
