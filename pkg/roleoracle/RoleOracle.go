package roleoracle

//=========================================== Role Oracle

func NewStateOracle(host string, initial Role) *StateOracle {
	return &StateOracle{host: host, role: initial}
}

func (o *StateOracle) Role() Role {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return o.role
}

func (o *StateOracle) IsPrimary() bool {
	return o.Role() == Mastering
}

// TransitionTo moves this node to a new role, logging the change the way
// the teacher's TransitionToFollower/Candidate/Leader did.
func (o *StateOracle) TransitionTo(next Role) {
	o.mutex.Lock()
	prev := o.role
	o.role = next
	o.mutex.Unlock()

	if prev != next {
		Log.Warn("service with hostname:", o.host, "transitioned from", string(prev), "to", string(next))
	}
}
