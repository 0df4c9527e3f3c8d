package cluster

import (
	"sync"

	"github.com/yndnr/fencevirt-go/internal/core/domain"
)

// Ownership holds the local and remote VM ownership tables. The tables
// are routing hints only: the local table is rebuilt from the hypervisors
// before each routing decision and the remote table from announcements.
type Ownership struct {
	mu     sync.RWMutex
	self   NodeID
	local  []VMRecord
	remote map[NodeID][]VMRecord
}

// NewOwnership creates empty tables for member self.
func NewOwnership(self NodeID) *Ownership {
	return &Ownership{self: self, remote: make(map[NodeID][]VMRecord)}
}

// ReplaceLocal replaces the local table.
func (o *Ownership) ReplaceLocal(records []VMRecord) {
	local := make([]VMRecord, len(records))
	for i, r := range records {
		r.Owner = o.self
		local[i] = r
	}
	o.mu.Lock()
	o.local = local
	o.mu.Unlock()
}

// Local returns a copy of the local table.
func (o *Ownership) Local() []VMRecord {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]VMRecord(nil), o.local...)
}

// StoreRemote replaces everything known about owner with records. An
// announcement always carries the owner's whole table.
func (o *Ownership) StoreRemote(owner NodeID, records []VMRecord) {
	if owner == o.self {
		return
	}
	stored := make([]VMRecord, len(records))
	for i, r := range records {
		r.Owner = owner
		stored[i] = r
	}
	o.mu.Lock()
	o.remote[owner] = stored
	o.mu.Unlock()
}

// Purge forgets every VM owned by owner.
func (o *Ownership) Purge(owner NodeID) {
	o.mu.Lock()
	delete(o.remote, owner)
	o.mu.Unlock()
}

// Remote returns a copy of the remote table.
func (o *Ownership) Remote() []VMRecord {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []VMRecord
	for _, recs := range o.remote {
		out = append(out, recs...)
	}
	return out
}

// Sizes returns the number of local and remote entries.
func (o *Ownership) Sizes() (local, remote int) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, recs := range o.remote {
		remote += len(recs)
	}
	return len(o.local), remote
}

// Lookup finds the member that should act on target. A VM running
// somewhere wins over a stopped definition. Among equals the local
// table wins, so a VM defined on several members but running nowhere is
// handled locally.
func (o *Ownership) Lookup(target string, byUUID bool) (VMRecord, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var stopped *VMRecord
	match := func(r VMRecord) bool {
		return r.HostState().Matches(target, byUUID)
	}

	for i := range o.local {
		if !match(o.local[i]) {
			continue
		}
		if o.local[i].State == domain.PowerOn {
			return o.local[i], true
		}
		if stopped == nil {
			stopped = &o.local[i]
		}
	}
	for _, recs := range o.remote {
		for i := range recs {
			if !match(recs[i]) {
				continue
			}
			if recs[i].State == domain.PowerOn {
				return recs[i], true
			}
			if stopped == nil {
				stopped = &recs[i]
			}
		}
	}
	if stopped != nil {
		return *stopped, true
	}
	return VMRecord{}, false
}
