package drivers

import (
	"context"
	"fmt"

	"github.com/hubertat/ictboard/errcode"
	"github.com/pkg/errors"
	"github.com/racerxdl/go-mcp23017"
)

const mcpioDriverName = "mcpio"
const mcpPinsPerPort = 8
const mcpPortsPerExpander = 2

// mcpPins is the part of *mcp23017.Device the provider drives.
type mcpPins interface {
	PinMode(pin uint8, mode mcp23017.PinMode) error
	SetPullUp(pin uint8, enabled bool) error
	DigitalWrite(pin uint8, level mcp23017.PinLevel) error
	DigitalRead(pin uint8) (mcp23017.PinLevel, error)
	Close() error
}

// McpDevice is a board built from MCP23017 expanders on one bus: port0 is GPA and
// port1 is GPB of DevNo, port2 is GPA of the expander at ExtraDevNo.
type McpDevice struct {
	Name          string `yaml:"Name"`
	BusNo         uint8  `yaml:"BusNo"`
	DevNo         uint8  `yaml:"DevNo"`
	ExtraDevNo    *uint8 `yaml:"ExtraDevNo"`
	Serial        int64  `yaml:"Serial"`
	InvertInputs  bool   `yaml:"InvertInputs"`
	InvertOutputs bool   `yaml:"InvertOutputs"`

	expanders []mcpPins
}

func (dev *McpDevice) portCount() int {
	return len(dev.expanders) * mcpPortsPerExpander
}

// pins returns the expander and first pin of port idx.
func (dev *McpDevice) pins(idx int) (mcpPins, uint8, error) {
	if idx < 0 || idx >= dev.portCount() {
		return nil, 0, errors.Wrapf(errcode.Configuration, "mcpio: %s has no channel port%d", dev.Name, idx)
	}
	return dev.expanders[idx/mcpPortsPerExpander], uint8((idx % mcpPortsPerExpander) * mcpPinsPerPort), nil
}

type McpIO struct {
	Devices []*McpDevice `yaml:"Devices"`

	isReady bool
}

func (mcp *McpIO) String() string {
	return mcpioDriverName
}

func (mcp *McpIO) IsReady() bool {
	return mcp.isReady
}

func (mcp *McpIO) Setup(ctx context.Context) (err error) {
	for _, dev := range mcp.Devices {
		devNos := []uint8{dev.DevNo}
		if dev.ExtraDevNo != nil {
			devNos = append(devNos, *dev.ExtraDevNo)
		}
		for _, devNo := range devNos {
			device, err := mcp23017.Open(dev.BusNo, devNo)
			if err != nil {
				return errors.Wrapf(errcode.DeviceUnavailable, "mcpio: open %s (bus %d, dev %d): %v", dev.Name, dev.BusNo, devNo, err)
			}
			dev.expanders = append(dev.expanders, device)
		}
	}

	mcp.isReady = true
	return nil
}

func (mcp *McpIO) Close() (err error) {
	mcp.isReady = false
	for _, dev := range mcp.Devices {
		for _, exp := range dev.expanders {
			closeErr := exp.Close()
			if closeErr != nil {
				err = errors.Wrapf(closeErr, "mcpio: close %s", dev.Name)
			}
		}
		dev.expanders = nil
	}
	return
}

func (mcp *McpIO) find(board string) (*McpDevice, error) {
	for _, dev := range mcp.Devices {
		if dev.Name == board {
			if len(dev.expanders) == 0 {
				return nil, errors.Wrapf(errcode.DeviceUnavailable, "mcpio: device %s not open", board)
			}
			return dev, nil
		}
	}
	return nil, errors.Wrapf(errcode.DeviceUnavailable, "mcpio: device %s not configured", board)
}

func (mcp *McpIO) BindChannel(board string, channel string, dir PortDirection) (Channel, error) {
	ch := Channel{Board: board, Id: channel, Direction: dir}

	dev, err := mcp.find(board)
	if err != nil {
		return ch, errcode.Wrapf(err, errcode.Configuration, "mcpio: bind %s", ch)
	}
	idx, err := PortIndex(channel)
	if err != nil {
		return ch, errors.Wrapf(errcode.Configuration, "mcpio: %s has no channel %s", board, channel)
	}
	exp, base, err := dev.pins(idx)
	if err != nil {
		return ch, err
	}

	mode := mcp23017.INPUT
	if dir == Output {
		mode = mcp23017.OUTPUT
	}
	for pin := base; pin < base+mcpPinsPerPort; pin++ {
		err = exp.PinMode(pin, mode)
		if err != nil {
			return ch, errors.Wrapf(errcode.Configuration, "mcpio: pin mode %s pin %d: %v", board, pin, err)
		}
		if dir == Input {
			err = exp.SetPullUp(pin, true)
			if err != nil {
				return ch, errors.Wrapf(errcode.Configuration, "mcpio: pull-up %s pin %d: %v", board, pin, err)
			}
		}
	}

	return ch, nil
}

func (mcp *McpIO) WriteDigital(ch Channel, value byte) error {
	dev, err := mcp.find(ch.Board)
	if err != nil {
		return err
	}
	idx, err := PortIndex(ch.Id)
	if err != nil {
		return errors.Wrap(err, "mcpio")
	}
	exp, base, err := dev.pins(idx)
	if err != nil {
		return err
	}

	if dev.InvertOutputs {
		value = ^value
	}
	for bit := uint8(0); bit < mcpPinsPerPort; bit++ {
		level := mcp23017.PinLevel(value&(1<<bit) != 0)
		err = exp.DigitalWrite(base+bit, level)
		if err != nil {
			return errors.Wrapf(err, "mcpio: write %s pin %d", ch, base+bit)
		}
	}
	return nil
}

func (mcp *McpIO) ReadDigital(ch Channel) (value byte, err error) {
	dev, err := mcp.find(ch.Board)
	if err != nil {
		return
	}
	idx, err := PortIndex(ch.Id)
	if err != nil {
		err = errors.Wrap(err, "mcpio")
		return
	}
	exp, base, err := dev.pins(idx)
	if err != nil {
		return
	}

	for bit := uint8(0); bit < mcpPinsPerPort; bit++ {
		rawState, readErr := exp.DigitalRead(base + bit)
		if readErr != nil {
			err = errors.Wrapf(readErr, "mcpio: read %s pin %d", ch, base+bit)
			return 0, err
		}
		if bool(rawState) {
			value |= 1 << bit
		}
	}

	if dev.InvertInputs {
		value = ^value
	}
	return
}

func (mcp *McpIO) ReadAnalog(ch Channel) (float64, error) {
	return 0, errors.Wrapf(errcode.Capability, "mcpio: %s has no analog inputs", ch.Board)
}

func (mcp *McpIO) ResolveIdentity(board string) (Identity, error) {
	dev, err := mcp.find(board)
	if err != nil {
		return Identity{}, err
	}

	serial := dev.Serial
	if serial == 0 {
		serial = int64(dev.BusNo)<<8 | int64(dev.DevNo)
	}
	return Identity{
		Type:   "MCP23017",
		Serial: serial,
		Port:   fmt.Sprintf("i2c-%d/0x%02x", dev.BusNo, 0x20+dev.DevNo),
	}, nil
}
