package ictboard

import (
	"fmt"
	"os"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/hubertat/ictboard/drivers"
	"github.com/hubertat/ictboard/errcode"
	"github.com/pkg/errors"
)

// BoardKind is the closed set of board variants. Only SensorBoard carries analog inputs.
type BoardKind int

const (
	RelayBoard BoardKind = iota
	StatusBoard
	SensorBoard
)

func (k BoardKind) String() string {
	switch k {
	case RelayBoard:
		return "relay"
	case StatusBoard:
		return "status"
	case SensorBoard:
		return "sensor"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Direction is the port direction every digital port of this kind must have.
func (k BoardKind) Direction() drivers.PortDirection {
	if k == RelayBoard {
		return drivers.Output
	}
	return drivers.Input
}

func (k BoardKind) HasAnalog() bool {
	return k == SensorBoard
}

// PortSpec describes a port to bind when a board is constructed.
type PortSpec struct {
	Name      string
	Direction drivers.PortDirection
	Width     uint8
}

// Board owns a fixed set of ports (and for sensor boards, analog channels) on one
// physical device. Direction is checked before any call reaches the provider.
//
// Board is not safe for concurrent use.
type Board struct {
	name     string
	kind     BoardKind
	provider drivers.Provider

	ports  map[string]*Port
	order  []string
	analog map[int]drivers.Channel
	logger *log.Logger
}

// NewBoard binds every port and analog channel through provider. The port set is fixed afterwards.
func NewBoard(name string, kind BoardKind, provider drivers.Provider, ports []PortSpec, analogChannels []int) (*Board, error) {
	if provider == nil {
		return nil, errors.Wrapf(errcode.Configuration, "board %s: no provider", name)
	}
	if len(analogChannels) > 0 && !kind.HasAnalog() {
		return nil, errors.Wrapf(errcode.Configuration, "board %s: %s board cannot have analog channels", name, kind)
	}

	b := &Board{
		name:     name,
		kind:     kind,
		provider: provider,
		ports:    make(map[string]*Port),
		analog:   make(map[int]drivers.Channel),
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "Board " + name + ": ",
			Level:  log.GetLevel(),
		}),
	}

	for _, spec := range ports {
		if err := b.configure(spec.Name, spec.Direction, spec.Width); err != nil {
			return nil, err
		}
	}

	for _, n := range analogChannels {
		ch, err := provider.BindChannel(name, drivers.AnalogChannelId(n), drivers.Input)
		if err != nil {
			return nil, errors.Wrapf(err, "board %s: bind analog channel %d", name, n)
		}
		b.analog[n] = ch
	}

	return b, nil
}

// configure binds a port to its direction. Repeating the same binding is a no-op;
// rebinding a port to the other direction fails.
func (b *Board) configure(name string, dir drivers.PortDirection, width uint8) error {
	if width > 8 {
		return errors.Wrapf(errcode.Configuration, "board %s: port %s width %d exceeds 8", b.name, name, width)
	}
	if existing, found := b.ports[name]; found {
		if existing.Direction != dir {
			return errors.Wrapf(errcode.Configuration, "board %s: port %s already configured as %s", b.name, name, existing.Direction)
		}
		return nil
	}

	ch, err := b.provider.BindChannel(b.name, name, dir)
	if err != nil {
		if errcode.Of(err) != errcode.Configuration {
			err = errcode.Wrap(err, errcode.Configuration, "bind failed")
		}
		return errors.Wrapf(err, "board %s: bind %s", b.name, name)
	}

	if width == 0 {
		width = 8
	}
	b.ports[name] = &Port{Name: name, Direction: dir, Width: width, channel: ch}
	b.order = append(b.order, name)
	b.logger.Debug("port configured", "port", name, "direction", dir, "width", width)
	return nil
}

func (b *Board) Name() string {
	return b.name
}

func (b *Board) Kind() BoardKind {
	return b.kind
}

// WriteByte writes value to an output port and returns once the provider acknowledged it.
func (b *Board) WriteByte(name string, value byte) error {
	p, found := b.ports[name]
	if !found {
		return errors.Wrapf(errcode.Direction, "port %s on %s not configured", name, b.name)
	}
	if p.Direction != drivers.Output {
		return errors.Wrapf(errcode.Direction, "cannot write to %s on %s: port is configured as input", name, b.name)
	}

	value &= p.mask()
	if err := b.provider.WriteDigital(p.channel, value); err != nil {
		return errors.Wrapf(err, "board %s: write %s", b.name, name)
	}
	p.remember(value)

	b.logger.Debug("set", "port", name, "value", fmt.Sprintf("0x%02X", value))
	return nil
}

// lastValue is the byte last written to or read from name, zero if none.
func (b *Board) lastValue(name string) byte {
	if p, found := b.ports[name]; found {
		v, _ := p.LastValue()
		return v
	}
	return 0
}

// ReadByte samples an input port once.
func (b *Board) ReadByte(name string) (byte, error) {
	p, found := b.ports[name]
	if !found {
		return 0, errors.Wrapf(errcode.Direction, "port %s on %s not configured", name, b.name)
	}
	if p.Direction != drivers.Input {
		return 0, errors.Wrapf(errcode.Direction, "cannot read from %s on %s: port is configured as output", name, b.name)
	}

	value, err := b.provider.ReadDigital(p.channel)
	if err != nil {
		return 0, errors.Wrapf(err, "board %s: read %s", b.name, name)
	}
	value &= p.mask()
	p.remember(value)

	b.logger.Debug("read", "port", name, "value", fmt.Sprintf("0x%02X", value))
	return value, nil
}

// ReadVoltage reads one differential analog channel. Only sensor boards have them.
func (b *Board) ReadVoltage(channel int) (float64, error) {
	if !b.kind.HasAnalog() {
		return 0, errors.Wrapf(errcode.Capability, "%s: cannot read voltage, %s board has no analog inputs", b.name, b.kind)
	}
	ch, found := b.analog[channel]
	if !found {
		return 0, errors.Wrapf(errcode.Capability, "%s: analog channel %d not configured", b.name, channel)
	}

	v, err := b.provider.ReadAnalog(ch)
	if err != nil {
		return 0, errors.Wrapf(err, "board %s: read ai%d", b.name, channel)
	}

	b.logger.Debug("voltage", "channel", channel, "volts", fmt.Sprintf("%.3f", v))
	return v, nil
}

// Identity queries the provider every time; nothing is cached.
func (b *Board) Identity() (drivers.Identity, error) {
	id, err := b.provider.ResolveIdentity(b.name)
	if err != nil {
		if errcode.Of(err) != errcode.DeviceUnavailable {
			err = errors.Wrapf(errcode.DeviceUnavailable, "%v", err)
		}
		return drivers.Identity{}, errors.Wrapf(err, "board %s: identity", b.name)
	}
	return id, nil
}

// Ports returns the configured ports in configuration order.
func (b *Board) Ports() []*Port {
	ports := make([]*Port, 0, len(b.order))
	for _, name := range b.order {
		ports = append(ports, b.ports[name])
	}
	return ports
}

// AnalogChannels returns the bound analog channel numbers in ascending order.
func (b *Board) AnalogChannels() []int {
	channels := make([]int, 0, len(b.analog))
	for n := range b.analog {
		channels = append(channels, n)
	}
	sort.Ints(channels)
	return channels
}
