package domain

import (
	"fmt"
	"strings"
)

// Action is a fencing request code.
type Action uint8

const (
	// ActionNull checks that the backend is reachable.
	ActionNull Action = 0

	// ActionOff forcibly powers a domain off.
	ActionOff Action = 1

	// ActionReboot destroys and recreates a domain.
	ActionReboot Action = 2

	// ActionOn starts a domain.
	ActionOn Action = 3

	// ActionStatus reports a domain's power state.
	ActionStatus Action = 4

	// ActionDevStatus reports the health of the fencing device itself.
	ActionDevStatus Action = 5

	// ActionHostList enumerates the domains the requester may see.
	ActionHostList Action = 6

	// ActionMetadata prints agent metadata. Requester-side only.
	ActionMetadata Action = 7

	// ActionValidateAll validates requester options. Requester-side only.
	ActionValidateAll Action = 8
)

var actionNames = map[Action]string{
	ActionNull:        "null",
	ActionOff:         "off",
	ActionReboot:      "reboot",
	ActionOn:          "on",
	ActionStatus:      "status",
	ActionDevStatus:   "monitor",
	ActionHostList:    "list",
	ActionMetadata:    "metadata",
	ActionValidateAll: "validate-all",
}

// String returns the requester-facing action name.
func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// OnWire reports whether the action is ever carried in a request frame.
func (a Action) OnWire() bool {
	return a <= ActionHostList
}

// NeedsDomain reports whether the action targets a specific domain.
func (a Action) NeedsDomain() bool {
	switch a {
	case ActionOff, ActionReboot, ActionOn, ActionStatus:
		return true
	default:
		return false
	}
}

// ParseAction maps a requester-facing name to an action code.
// "devstatus" and "hostlist" are accepted as aliases of "monitor" and "list".
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "null":
		return ActionNull, nil
	case "off":
		return ActionOff, nil
	case "reboot":
		return ActionReboot, nil
	case "on":
		return ActionOn, nil
	case "status":
		return ActionStatus, nil
	case "monitor", "devstatus":
		return ActionDevStatus, nil
	case "list", "hostlist":
		return ActionHostList, nil
	case "metadata":
		return ActionMetadata, nil
	case "validate-all":
		return ActionValidateAll, nil
	}
	return 0, ErrUnknownAction.WithDetails(s)
}

// HashType selects the keyed hash. Larger values are stronger.
type HashType uint8

const (
	HashNone   HashType = 0
	HashSHA1   HashType = 1
	HashSHA256 HashType = 2
	HashSHA512 HashType = 3
)

// String returns the configuration name of the hash type.
func (h HashType) String() string {
	switch h {
	case HashNone:
		return "none"
	case HashSHA1:
		return "sha1"
	case HashSHA256:
		return "sha256"
	case HashSHA512:
		return "sha512"
	}
	return fmt.Sprintf("hash(%d)", uint8(h))
}

// Size returns the digest length in bytes, 0 for none or unknown types.
func (h HashType) Size() int {
	switch h {
	case HashSHA1:
		return 20
	case HashSHA256:
		return 32
	case HashSHA512:
		return 64
	}
	return 0
}

// Valid reports whether h is a known hash type.
func (h HashType) Valid() bool {
	return h <= HashSHA512
}

// ParseHashType maps a configuration name to a hash type.
func ParseHashType(s string) (HashType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return HashNone, nil
	case "sha1":
		return HashSHA1, nil
	case "sha256":
		return HashSHA256, nil
	case "sha512":
		return HashSHA512, nil
	}
	return 0, ErrUnsupportedHash.WithDetails(s)
}

// Response is the result code returned to a requester.
type Response uint8

const (
	ResponseSuccess    Response = 0
	ResponseFail       Response = 1
	ResponseOff        Response = 2
	ResponsePermission Response = 3
	ResponseHostList   Response = 253
)

// String describes the response. Unknown codes are reported verbatim.
func (r Response) String() string {
	switch r {
	case ResponseSuccess:
		return "success"
	case ResponseFail:
		return "failed"
	case ResponseOff:
		return "off"
	case ResponsePermission:
		return "permission denied"
	case ResponseHostList:
		return "host list follows"
	}
	return fmt.Sprintf("unknown response code %d", uint8(r))
}

// Known reports whether r is one of the defined response codes.
func (r Response) Known() bool {
	switch r {
	case ResponseSuccess, ResponseFail, ResponseOff, ResponsePermission, ResponseHostList:
		return true
	}
	return false
}

// Request flag bits.
const (
	// FlagUUID marks the domain field as a UUID rather than a name.
	FlagUUID uint8 = 0x01
)
