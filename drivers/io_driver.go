package drivers

import (
	"context"
	"fmt"
	"strings"
)

// PortDirection is fixed per port once configured.
type PortDirection int

const (
	Input PortDirection = iota
	Output
)

func (pd PortDirection) String() string {
	switch pd {
	case Input:
		return "input"
	case Output:
		return "output"
	default:
		return fmt.Sprintf("direction(%d)", int(pd))
	}
}

// ParseDirection converts "input"/"output" (any case) into a PortDirection.
func ParseDirection(s string) (PortDirection, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "input", "in":
		return Input, nil
	case "output", "out":
		return Output, nil
	}
	return Input, fmt.Errorf("unknown port direction %q", s)
}

// Channel is a bound logical channel, e.g. Dev1/port0 or Dev4/ai0.
type Channel struct {
	Board     string
	Id        string
	Direction PortDirection
}

func (ch Channel) String() string {
	return ch.Board + "/" + ch.Id
}

// Identity describes a physical board.
type Identity struct {
	Type   string `json:"type"`
	Serial int64  `json:"serial"`
	Port   string `json:"port"`
}

func (id Identity) String() string {
	return fmt.Sprintf("%s #%d (%s)", id.Type, id.Serial, id.Port)
}

// Provider performs the actual channel I/O against hardware.
// All calls are synchronous and may block for the hardware round-trip.
type Provider interface {
	Setup(ctx context.Context) error
	Close() error
	String() string
	IsReady() bool

	BindChannel(board string, channel string, dir PortDirection) (Channel, error)
	WriteDigital(ch Channel, value byte) error
	ReadDigital(ch Channel) (byte, error)
	ReadAnalog(ch Channel) (float64, error)
	ResolveIdentity(board string) (Identity, error)
}

// AnalogChannelId returns the channel id used for analog input n.
func AnalogChannelId(n int) string {
	return fmt.Sprintf("ai%d", n)
}

// PortIndex parses "portN" into N.
func PortIndex(port string) (int, error) {
	var idx int
	if _, err := fmt.Sscanf(port, "port%d", &idx); err != nil || idx < 0 {
		return 0, fmt.Errorf("invalid port name %q", port)
	}
	if fmt.Sprintf("port%d", idx) != port {
		return 0, fmt.Errorf("invalid port name %q", port)
	}
	return idx, nil
}

// MapProviders indexes the non-nil providers by their String() name.
func MapProviders(providers ...Provider) map[string]Provider {
	mapped := make(map[string]Provider)
	for _, p := range providers {
		if p == nil {
			continue
		}
		mapped[p.String()] = p
	}
	return mapped
}
