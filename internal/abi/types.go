package abi

import "fmt"

// EngineHandle identifies an engine instance. It is valid only for the lifetime
// of the engine and carries no meaning outside of it.
type EngineHandle int64

// StreamHandle identifies an outstanding stream. It is valid only until the
// stream's terminal event has been delivered; values may be reused afterwards.
type StreamHandle int64

// Status is the result code returned by every call made across the boundary.
type Status int

const (
	StatusSuccess Status = 0
	StatusFailure Status = 1
)

// SuccessCode and FailureCode equal the Status values for contexts where the
// typed enum cannot be used.
const (
	SuccessCode = 0
	FailureCode = 1
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusFailure:
		return "FAILURE"
	default:
		return fmt.Sprintf("STATUS_%d", int(s))
	}
}

// NetworkType classifies networks by last physical link.
type NetworkType int

const (
	// NetworkGeneric is the default and covers networks with unknown characteristics.
	NetworkGeneric NetworkType = iota
	// NetworkWLAN covers WiFi and other local area wireless networks.
	NetworkWLAN
	// NetworkWWAN covers mobile phone networks.
	NetworkWWAN
)

func (n NetworkType) String() string {
	switch n {
	case NetworkGeneric:
		return "generic"
	case NetworkWLAN:
		return "wlan"
	case NetworkWWAN:
		return "wwan"
	default:
		return fmt.Sprintf("network_%d", int(n))
	}
}

// ParseNetworkType maps the textual form used in configuration onto a NetworkType.
func ParseNetworkType(s string) (NetworkType, error) {
	switch s {
	case "", "generic":
		return NetworkGeneric, nil
	case "wlan":
		return NetworkWLAN, nil
	case "wwan":
		return NetworkWWAN, nil
	default:
		return NetworkGeneric, fmt.Errorf("unknown network type %q", s)
	}
}
