package domain

// PowerState is the numeric power state carried in host records.
type PowerState uint32

const (
	PowerOff PowerState = 0
	PowerOn  PowerState = 1
)

// String returns "on" or "off".
func (s PowerState) String() string {
	if s == PowerOn {
		return "on"
	}
	return "off"
}

// HostState is one entry of a host list snapshot.
// It is regenerated from the backend's live view on every request.
type HostState struct {
	Domain string
	UUID   string
	State  PowerState
}

// Matches reports whether the host is the target named by name or UUID.
func (h HostState) Matches(target string, byUUID bool) bool {
	if byUUID {
		return h.UUID == target
	}
	return h.Domain == target
}
