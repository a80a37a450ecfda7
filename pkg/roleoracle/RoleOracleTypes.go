package roleoracle

import (
	"sync"

	"github.com/sirgallo/cmdcore/pkg/logger"
)

//=========================================== Role Oracle Types

// Role is one of the cluster states a node can report over Status
// (spec.md §6). This package does not implement consensus, quorum voting
// or log replication — those are the explicit non-goals in spec.md §1;
// TransitionTo exists so an external membership/leader-election layer
// (assumed provided) can push this node's role in as it changes.
type Role string

const (
	Mastering     Role = "MASTERING"
	Slaving       Role = "SLAVING"
	StandingUp    Role = "STANDINGUP"
	StandingDown  Role = "STANDINGDOWN"
	Waiting       Role = "WAITING"
	Searching     Role = "SEARCHING"
	Synchronizing Role = "SYNCHRONIZING"
)

const NAME = "RoleOracle"

var Log = clog.NewCustomLog(NAME)

// Oracle is what the Core Executor and the Status handler need to know
// about this node's place in the cluster.
type Oracle interface {
	Role() Role
	IsPrimary() bool
	TransitionTo(Role)
}

// StateOracle is a bare state holder: a mutex-guarded Role with logged
// transitions, grounded in the teacher's system.System.TransitionToFollower
// / TransitionToCandidate / TransitionToLeader (which logged with
// Log.Warn on every change) but with no term, no vote, no RPC — the
// consensus machinery those methods sat inside is out of scope here.
type StateOracle struct {
	mutex sync.RWMutex
	host  string
	role  Role
}
