package drivers

import (
	"fmt"
	"testing"

	"github.com/goburrow/modbus"
	"github.com/pkg/errors"

	"github.com/hubertat/ictboard/errcode"
)

// fakeModbus records every request; unused client methods panic through the nil embedded interface.
type fakeModbus struct {
	modbus.Client

	calls   []string
	reply   []byte
	written []byte
	err     error
}

func (f *fakeModbus) record(format string, args ...interface{}) ([]byte, error) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}

func (f *fakeModbus) ReadCoils(address, quantity uint16) ([]byte, error) {
	return f.record("coils %d/%d", address, quantity)
}

func (f *fakeModbus) ReadDiscreteInputs(address, quantity uint16) ([]byte, error) {
	return f.record("discrete %d/%d", address, quantity)
}

func (f *fakeModbus) WriteMultipleCoils(address, quantity uint16, value []byte) ([]byte, error) {
	f.written = value
	return f.record("write coils %d/%d", address, quantity)
}

func (f *fakeModbus) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	return f.record("input registers %d/%d", address, quantity)
}

func (f *fakeModbus) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	return f.record("holding registers %d/%d", address, quantity)
}

func newTestModbus(dev *ModbusDevice) (*ModbusIO, *fakeModbus) {
	fake := &fakeModbus{}
	dev.Name = "Dev4"
	dev.Endpoint = "10.0.0.7:502"
	dev.client = fake
	return &ModbusIO{Devices: []*ModbusDevice{dev}, isReady: true}, fake
}

func assertCalls(t testing.TB, got []string, want ...string) {
	t.Helper()

	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("got calls %q want %q", got, want)
	}
}

func TestModbusWriteCoils(t *testing.T) {
	mio, fake := newTestModbus(&ModbusDevice{CoilBase: 100})

	ch, err := mio.BindChannel("Dev4", "port2", Output)
	if err != nil {
		t.Fatal(err)
	}
	if err := mio.WriteDigital(ch, 0x5A); err != nil {
		t.Fatal(err)
	}

	assertCalls(t, fake.calls, "write coils 116/8")
	if len(fake.written) != 1 {
		t.Fatalf("got %d coil bytes want 1", len(fake.written))
	}
	assertBytes(t, fake.written[0], 0x5A)
}

func TestModbusReadDigital(t *testing.T) {
	t.Run("input port reads discrete inputs", func(t *testing.T) {
		mio, fake := newTestModbus(&ModbusDevice{CoilBase: 100, DiscreteBase: 200})
		fake.reply = []byte{0x81}

		got, err := mio.ReadDigital(Channel{Board: "Dev4", Id: "port1", Direction: Input})
		if err != nil {
			t.Fatal(err)
		}
		assertBytes(t, got, 0x81)
		assertCalls(t, fake.calls, "discrete 208/8")
	})

	t.Run("output port reads coils", func(t *testing.T) {
		mio, fake := newTestModbus(&ModbusDevice{CoilBase: 100, DiscreteBase: 200})
		fake.reply = []byte{0x0F}

		got, err := mio.ReadDigital(Channel{Board: "Dev4", Id: "port0", Direction: Output})
		if err != nil {
			t.Fatal(err)
		}
		assertBytes(t, got, 0x0F)
		assertCalls(t, fake.calls, "coils 100/8")
	})

	t.Run("short response", func(t *testing.T) {
		mio, _ := newTestModbus(&ModbusDevice{})

		if _, err := mio.ReadDigital(Channel{Board: "Dev4", Id: "port0", Direction: Input}); err == nil {
			t.Error("empty reply should fail")
		}
	})
}

func TestModbusReadAnalog(t *testing.T) {
	t.Run("signed register times scale", func(t *testing.T) {
		mio, fake := newTestModbus(&ModbusDevice{AnalogBase: 30, AnalogScale: 0.5})
		fake.reply = []byte{0xFF, 0xFC}

		ch, err := mio.BindChannel("Dev4", AnalogChannelId(1), Input)
		if err != nil {
			t.Fatal(err)
		}
		got, err := mio.ReadAnalog(ch)
		if err != nil {
			t.Fatal(err)
		}
		if got != -2.0 {
			t.Errorf("got %v want -2", got)
		}
		assertCalls(t, fake.calls, "input registers 31/1")
	})

	t.Run("default scale is 10 V full range", func(t *testing.T) {
		mio, fake := newTestModbus(&ModbusDevice{})
		fake.reply = []byte{0x40, 0x00}

		got, err := mio.ReadAnalog(Channel{Board: "Dev4", Id: AnalogChannelId(0), Direction: Input})
		if err != nil {
			t.Fatal(err)
		}
		if got != 5.0 {
			t.Errorf("got %v want 5", got)
		}
	})

	t.Run("digital port is not analog", func(t *testing.T) {
		mio, _ := newTestModbus(&ModbusDevice{})

		_, err := mio.ReadAnalog(Channel{Board: "Dev4", Id: "port0", Direction: Input})
		assertCode(t, err, errcode.Capability)
	})

	t.Run("analog output rejected at bind", func(t *testing.T) {
		mio, _ := newTestModbus(&ModbusDevice{})

		_, err := mio.BindChannel("Dev4", AnalogChannelId(0), Output)
		assertCode(t, err, errcode.Configuration)
	})
}

func TestModbusIdentity(t *testing.T) {
	t.Run("configured serial", func(t *testing.T) {
		mio, fake := newTestModbus(&ModbusDevice{Serial: 4711})

		id, err := mio.ResolveIdentity("Dev4")
		if err != nil {
			t.Fatal(err)
		}
		want := Identity{Type: "MODBUS-TCP", Serial: 4711, Port: "10.0.0.7:502"}
		if id != want {
			t.Errorf("got %+v want %+v", id, want)
		}
		assertCalls(t, fake.calls)
	})

	t.Run("serial from two holding registers", func(t *testing.T) {
		register := uint16(10)
		mio, fake := newTestModbus(&ModbusDevice{Type: "ET-7050", SerialRegister: &register})
		fake.reply = []byte{0x00, 0x01, 0x02, 0x03}

		id, err := mio.ResolveIdentity("Dev4")
		if err != nil {
			t.Fatal(err)
		}
		if id.Type != "ET-7050" || id.Serial != 0x00010203 {
			t.Errorf("got %+v", id)
		}
		assertCalls(t, fake.calls, "holding registers 10/2")
	})

	t.Run("serial read failure", func(t *testing.T) {
		register := uint16(10)
		mio, fake := newTestModbus(&ModbusDevice{SerialRegister: &register})
		fake.err = errors.New("timeout")

		_, err := mio.ResolveIdentity("Dev4")
		assertCode(t, err, errcode.DeviceUnavailable)
	})
}
