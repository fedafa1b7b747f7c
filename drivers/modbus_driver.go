package drivers

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"github.com/hubertat/ictboard/errcode"
	"github.com/pkg/errors"
)

const modbusDriverName = "modbus"
const modbusDefaultTimeout = 2 * time.Second

// Full scale of a signed 16-bit register for a +/-10 V input module.
const modbusDefaultAnalogScale = 10.0 / 32768.0

// ModbusDevice is a Modbus TCP remote I/O module acting as one board.
// Output port N maps to 8 coils at CoilBase+8N, input port N to 8 discrete inputs at
// DiscreteBase+8N, analog channel N to the signed input register AnalogBase+N.
type ModbusDevice struct {
	Name      string `yaml:"Name"`
	Endpoint  string `yaml:"Endpoint"`
	SlaveId   uint8  `yaml:"SlaveId"`
	TimeoutMs int    `yaml:"TimeoutMs"`

	CoilBase     uint16  `yaml:"CoilBase"`
	DiscreteBase uint16  `yaml:"DiscreteBase"`
	AnalogBase   uint16  `yaml:"AnalogBase"`
	AnalogScale  float64 `yaml:"AnalogScale"`

	Type string `yaml:"Type"`
	// SerialRegister, when set, holds a 32-bit serial number in two holding registers.
	SerialRegister *uint16 `yaml:"SerialRegister"`
	Serial         int64   `yaml:"Serial"`

	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

type ModbusIO struct {
	Devices []*ModbusDevice `yaml:"Devices"`

	isReady bool
}

func (mio *ModbusIO) String() string {
	return modbusDriverName
}

func (mio *ModbusIO) IsReady() bool {
	return mio.isReady
}

func (mio *ModbusIO) Setup(ctx context.Context) error {
	for _, dev := range mio.Devices {
		if dev.Endpoint == "" {
			return errors.Wrapf(errcode.Configuration, "modbus: %s endpoint required", dev.Name)
		}

		h := modbus.NewTCPClientHandler(dev.Endpoint)
		h.SlaveId = dev.SlaveId
		h.Timeout = modbusDefaultTimeout
		if dev.TimeoutMs > 0 {
			h.Timeout = time.Duration(dev.TimeoutMs) * time.Millisecond
		}

		if err := h.Connect(); err != nil {
			return errors.Wrapf(errcode.DeviceUnavailable, "modbus: connect %s (%s): %v", dev.Name, dev.Endpoint, err)
		}
		dev.handler = h
		dev.client = modbus.NewClient(h)
	}

	mio.isReady = true
	return nil
}

func (mio *ModbusIO) Close() (err error) {
	mio.isReady = false
	for _, dev := range mio.Devices {
		dev.mu.Lock()
		if dev.handler != nil {
			if closeErr := dev.handler.Close(); closeErr != nil {
				err = errors.Wrapf(closeErr, "modbus: close %s", dev.Name)
			}
			dev.handler = nil
			dev.client = nil
		}
		dev.mu.Unlock()
	}
	return
}

func (mio *ModbusIO) find(board string) (*ModbusDevice, error) {
	for _, dev := range mio.Devices {
		if dev.Name == board {
			if dev.client == nil {
				return nil, errors.Wrapf(errcode.DeviceUnavailable, "modbus: device %s not connected", board)
			}
			return dev, nil
		}
	}
	return nil, errors.Wrapf(errcode.DeviceUnavailable, "modbus: device %s not configured", board)
}

func (mio *ModbusIO) BindChannel(board string, channel string, dir PortDirection) (Channel, error) {
	ch := Channel{Board: board, Id: channel, Direction: dir}

	if _, err := mio.find(board); err != nil {
		return ch, errcode.Wrapf(err, errcode.Configuration, "modbus: bind %s", ch)
	}
	if _, err := PortIndex(channel); err == nil {
		return ch, nil
	}
	var ai int
	if _, err := fmt.Sscanf(channel, "ai%d", &ai); err != nil || dir != Input {
		return ch, errors.Wrapf(errcode.Configuration, "modbus: unsupported channel %s", ch)
	}
	return ch, nil
}

func (mio *ModbusIO) WriteDigital(ch Channel, value byte) error {
	dev, err := mio.find(ch.Board)
	if err != nil {
		return err
	}
	idx, err := PortIndex(ch.Id)
	if err != nil {
		return errors.Wrap(err, "modbus")
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	_, err = dev.client.WriteMultipleCoils(dev.CoilBase+uint16(idx*8), 8, []byte{value})
	if err != nil {
		return errors.Wrapf(err, "modbus: write coils %s", ch)
	}
	return nil
}

func (mio *ModbusIO) ReadDigital(ch Channel) (byte, error) {
	dev, err := mio.find(ch.Board)
	if err != nil {
		return 0, err
	}
	idx, err := PortIndex(ch.Id)
	if err != nil {
		return 0, errors.Wrap(err, "modbus")
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	var raw []byte
	if ch.Direction == Output {
		raw, err = dev.client.ReadCoils(dev.CoilBase+uint16(idx*8), 8)
	} else {
		raw, err = dev.client.ReadDiscreteInputs(dev.DiscreteBase+uint16(idx*8), 8)
	}
	if err != nil {
		return 0, errors.Wrapf(err, "modbus: read %s", ch)
	}
	if len(raw) < 1 {
		return 0, errors.Errorf("modbus: short response reading %s", ch)
	}
	return raw[0], nil
}

func (mio *ModbusIO) ReadAnalog(ch Channel) (float64, error) {
	dev, err := mio.find(ch.Board)
	if err != nil {
		return 0, err
	}
	var n int
	if _, err := fmt.Sscanf(ch.Id, "ai%d", &n); err != nil {
		return 0, errors.Wrapf(errcode.Capability, "modbus: %s is not an analog channel", ch)
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	raw, err := dev.client.ReadInputRegisters(dev.AnalogBase+uint16(n), 1)
	if err != nil {
		return 0, errors.Wrapf(err, "modbus: read %s", ch)
	}
	if len(raw) < 2 {
		return 0, errors.Errorf("modbus: short response reading %s", ch)
	}

	scale := dev.AnalogScale
	if scale == 0 {
		scale = modbusDefaultAnalogScale
	}
	return float64(int16(binary.BigEndian.Uint16(raw))) * scale, nil
}

func (mio *ModbusIO) ResolveIdentity(board string) (Identity, error) {
	dev, err := mio.find(board)
	if err != nil {
		return Identity{}, err
	}

	id := Identity{Type: dev.Type, Serial: dev.Serial, Port: dev.Endpoint}
	if id.Type == "" {
		id.Type = "MODBUS-TCP"
	}
	if dev.SerialRegister == nil {
		return id, nil
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	raw, err := dev.client.ReadHoldingRegisters(*dev.SerialRegister, 2)
	if err != nil {
		return Identity{}, errors.Wrapf(errcode.DeviceUnavailable, "modbus: read serial of %s: %v", board, err)
	}
	if len(raw) < 4 {
		return Identity{}, errors.Wrapf(errcode.DeviceUnavailable, "modbus: short serial response from %s", board)
	}
	id.Serial = int64(binary.BigEndian.Uint32(raw))
	return id, nil
}
