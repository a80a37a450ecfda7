package blacklist

import (
	"sync"
	"time"
)

//=========================================== Blacklist
//
// Process-wide registry of (methodLine, userID) tuples whose handlers have
// previously crashed this node (spec.md §4.2). Entries are deliberately
// not replicated and not persisted: they exist only to stop this node from
// replaying the exact command that just killed it, and are gone the moment
// the process restarts — a peer that observes the same command records its
// own entry independently the first time it sees it (spec.md §4.3).
//
// This is process-wide by design (every worker must consult it), so it is
// encapsulated behind the Blacklist type rather than package-level globals,
// which also lets tests inject a pre-seeded instance.

type key struct {
	methodLine string
	userID     string
}

// sighting is diagnostic only; presence of the key is what matters.
type sighting struct {
	count     int
	firstSeen time.Time
}

type Blacklist struct {
	mutex   sync.RWMutex
	entries map[key]*sighting
}

func New() *Blacklist {
	return &Blacklist{entries: make(map[key]*sighting)}
}

// IsBlacklisted reports whether this exact (methodLine, userID) pair has
// previously crashed this node. Different userID values for the same
// methodLine are independent keys (spec.md §4.2, §8 blacklist key identity).
func (b *Blacklist) IsBlacklisted(methodLine, userID string) bool {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	_, ok := b.entries[key{methodLine: methodLine, userID: userID}]
	return ok
}

// Record marks (methodLine, userID) as having crashed this node. Called
// only for handler crashes, never for ordinary caught errors (spec.md §4.3).
func (b *Blacklist) Record(methodLine, userID string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	k := key{methodLine: methodLine, userID: userID}
	if s, ok := b.entries[k]; ok {
		s.count++
		return
	}

	b.entries[k] = &sighting{count: 1, firstSeen: time.Now()}
}

// Size returns the number of distinct blacklisted keys, for diagnostics.
func (b *Blacklist) Size() int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.entries)
}
