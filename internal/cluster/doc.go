// Package cluster lets cooperating fencevirtd daemons agree on which member
// acts on a fencing request.
//
// Members join a process group that delivers messages and membership
// changes to every member in one consistent order. Three group transports
// are provided:
//
//   - Hub: in-process, used by tests and single-process simulations
//   - GossipGroup: hashicorp/memberlist membership with reliable fan-out
//   - RaftGroup: hashicorp/raft totally ordered log, memberlist discovery
//
// The Router runs the request protocol on top of a group. Each member keeps
// a local ownership table built from its hypervisors and a remote table
// built from other members' STORE_VM announcements. A member that finds a
// requested VM locally performs the action and replies. When nobody owns
// the VM, only the member with the highest node id answers, treating the VM
// as not running anywhere. That answer can be wrong when the real owner has
// not announced its VMs yet.
//
// The Router implements backend.Backend and is registered as the "group"
// backend.
package cluster
