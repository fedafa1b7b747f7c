package drivers

import (
	"context"

	"github.com/hubertat/ictboard/errcode"
	"github.com/pkg/errors"
	"github.com/stianeikeland/go-rpio/v4"
)

const gpioDriverName = "gpio"

// GpioBoard groups Raspberry Pi BCM pins into up to three logical 8-bit ports.
// Ports["port0"][i] is the pin carrying bit i; shorter lists give narrower ports.
type GpioBoard struct {
	Name   string             `yaml:"Name"`
	Serial int64              `yaml:"Serial"`
	Ports  map[string][]uint8 `yaml:"Ports"`
}

type GpIO struct {
	Boards []*GpioBoard `yaml:"Boards"`

	InvertInputs  bool `yaml:"InvertInputs"`
	InvertOutputs bool `yaml:"InvertOutputs"`

	outputs []rpio.Pin
	isReady bool
}

func (gp *GpIO) String() string {
	return gpioDriverName
}

func (gp *GpIO) IsReady() bool {
	return gp.isReady
}

func (gp *GpIO) Setup(ctx context.Context) error {
	for _, board := range gp.Boards {
		for port, pins := range board.Ports {
			if len(pins) > 8 {
				return errors.Wrapf(errcode.Configuration, "gpio: %s/%s has %d pins, max 8", board.Name, port, len(pins))
			}
		}
	}

	err := rpio.Open()
	if err != nil {
		return errors.Wrapf(errcode.DeviceUnavailable, "gpio: failed to open gpio memory: %v", err)
	}

	gp.isReady = true
	return nil
}

func (gp *GpIO) Close() error {
	if !gp.isReady {
		return nil
	}
	gp.isReady = false
	for _, pin := range gp.outputs {
		pin.Low()
	}
	return rpio.Close()
}

func (gp *GpIO) pins(ch Channel) ([]uint8, error) {
	if !gp.isReady {
		return nil, errors.Wrap(errcode.DeviceUnavailable, "gpio: not set up")
	}
	for _, board := range gp.Boards {
		if board.Name != ch.Board {
			continue
		}
		pins, found := board.Ports[ch.Id]
		if !found {
			return nil, errors.Errorf("gpio: %s not mapped to pins", ch)
		}
		return pins, nil
	}
	return nil, errors.Wrapf(errcode.DeviceUnavailable, "gpio: board %s not configured", ch.Board)
}

func (gp *GpIO) BindChannel(board string, channel string, dir PortDirection) (Channel, error) {
	ch := Channel{Board: board, Id: channel, Direction: dir}

	pins, err := gp.pins(ch)
	if err != nil {
		return ch, errcode.Wrapf(err, errcode.Configuration, "gpio: bind %s", ch)
	}

	for _, p := range pins {
		pin := rpio.Pin(p)
		if dir == Output {
			pin.Output()
			gp.outputs = append(gp.outputs, pin)
		} else {
			pin.Input()
			pin.PullUp()
		}
	}
	return ch, nil
}

func (gp *GpIO) WriteDigital(ch Channel, value byte) error {
	pins, err := gp.pins(ch)
	if err != nil {
		return err
	}

	if gp.InvertOutputs {
		value = ^value
	}
	for bit, p := range pins {
		if value&(1<<uint(bit)) != 0 {
			rpio.Pin(p).High()
		} else {
			rpio.Pin(p).Low()
		}
	}
	return nil
}

func (gp *GpIO) ReadDigital(ch Channel) (value byte, err error) {
	pins, err := gp.pins(ch)
	if err != nil {
		return
	}

	for bit, p := range pins {
		high := rpio.Pin(p).Read() == rpio.High
		if gp.InvertInputs {
			high = !high
		}
		if high {
			value |= 1 << uint(bit)
		}
	}
	return
}

func (gp *GpIO) ReadAnalog(ch Channel) (float64, error) {
	return 0, errors.Wrapf(errcode.Capability, "gpio: %s has no analog inputs", ch.Board)
}

func (gp *GpIO) ResolveIdentity(board string) (Identity, error) {
	if !gp.isReady {
		return Identity{}, errors.Wrap(errcode.DeviceUnavailable, "gpio: not set up")
	}
	for _, b := range gp.Boards {
		if b.Name == board {
			return Identity{Type: "RPI-GPIO", Serial: b.Serial, Port: b.Name}, nil
		}
	}
	return Identity{}, errors.Wrapf(errcode.DeviceUnavailable, "gpio: board %s not configured", board)
}
