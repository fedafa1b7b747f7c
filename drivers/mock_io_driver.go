package drivers

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/hubertat/ictboard/errcode"
	"github.com/pkg/errors"
)

const mockProviderName = "mock"
const mockDefaultSerial = 1248

const (
	mockTypeAnalog  = "USB-6002"
	mockTypeDigital = "USB-6501"
)

// MockProvider keeps port values in memory. Written bytes on an output port can be
// read back through Value; input ports are driven from tests or the mock daemon via SetInput.
type MockProvider struct {
	// Boards lists the device names the mock pretends are connected.
	// Empty means every name resolves.
	Boards  []string         `yaml:"Boards"`
	Serials map[string]int64 `yaml:"Serials"`

	ports   map[string]byte
	analog  map[string]bool
	fixed   map[string]float64
	fail    map[string]error
	writeTo io.Writer
	ready   bool
	now     func() time.Time

	lock sync.Mutex
}

func (mp *MockProvider) String() string {
	return mockProviderName
}

func (mp *MockProvider) Setup(ctx context.Context) error {
	mp.lock.Lock()
	defer mp.lock.Unlock()

	mp.init()
	mp.ready = true
	return nil
}

func (mp *MockProvider) init() {
	if mp.ports == nil {
		mp.ports = make(map[string]byte)
	}
	if mp.analog == nil {
		mp.analog = make(map[string]bool)
	}
	if mp.fixed == nil {
		mp.fixed = make(map[string]float64)
	}
	if mp.fail == nil {
		mp.fail = make(map[string]error)
	}
	if mp.now == nil {
		mp.now = time.Now
	}
}

func (mp *MockProvider) Close() error {
	mp.lock.Lock()
	defer mp.lock.Unlock()

	mp.ready = false
	return nil
}

func (mp *MockProvider) IsReady() bool {
	return mp.ready
}

func (mp *MockProvider) known(board string) bool {
	if len(mp.Boards) == 0 {
		return true
	}
	for _, name := range mp.Boards {
		if name == board {
			return true
		}
	}
	return false
}

func (mp *MockProvider) BindChannel(board string, channel string, dir PortDirection) (Channel, error) {
	mp.lock.Lock()
	defer mp.lock.Unlock()
	mp.init()

	ch := Channel{Board: board, Id: channel, Direction: dir}
	if !mp.known(board) {
		return ch, errors.Wrapf(errcode.Configuration, "mock: device %s not present", board)
	}
	if err := mp.fail[ch.String()]; err != nil {
		return ch, errors.Wrapf(errcode.Configuration, "mock: binding %s failed: %v", ch, err)
	}

	if _, err := PortIndex(channel); err != nil {
		var ai int
		if _, scanErr := fmt.Sscanf(channel, "ai%d", &ai); scanErr != nil {
			return ch, errors.Wrapf(errcode.Configuration, "mock: unknown channel %s", ch)
		}
		mp.analog[board] = true
		return ch, nil
	}

	if _, found := mp.ports[ch.String()]; !found {
		mp.ports[ch.String()] = 0
	}
	return ch, nil
}

func (mp *MockProvider) WriteDigital(ch Channel, value byte) error {
	mp.lock.Lock()
	defer mp.lock.Unlock()
	mp.init()

	if err := mp.fail[ch.String()]; err != nil {
		return errors.Wrapf(err, "mock: write %s", ch)
	}

	old := mp.ports[ch.String()]
	mp.ports[ch.String()] = value
	if mp.writeTo != nil && old != value {
		fmt.Fprintf(mp.writeTo, "[%s] changed 0x%02X -> 0x%02X\n", ch, old, value)
	}
	return nil
}

func (mp *MockProvider) ReadDigital(ch Channel) (byte, error) {
	mp.lock.Lock()
	defer mp.lock.Unlock()
	mp.init()

	if err := mp.fail[ch.String()]; err != nil {
		return 0, errors.Wrapf(err, "mock: read %s", ch)
	}
	return mp.ports[ch.String()], nil
}

// ReadAnalog returns a fixed value when one was set, otherwise a 1 Hz sine between 0 and 5 V.
func (mp *MockProvider) ReadAnalog(ch Channel) (float64, error) {
	mp.lock.Lock()
	defer mp.lock.Unlock()
	mp.init()

	if err := mp.fail[ch.String()]; err != nil {
		return 0, errors.Wrapf(err, "mock: read %s", ch)
	}
	if v, found := mp.fixed[ch.String()]; found {
		return v, nil
	}

	t := float64(mp.now().Nanosecond()) / 1e9
	return 2.5*math.Sin(2*math.Pi*t) + 2.5, nil
}

func (mp *MockProvider) ResolveIdentity(board string) (Identity, error) {
	mp.lock.Lock()
	defer mp.lock.Unlock()
	mp.init()

	if !mp.known(board) {
		return Identity{}, errors.Wrapf(errcode.DeviceUnavailable, "mock: device %s not found", board)
	}
	if err := mp.fail[board]; err != nil {
		return Identity{}, errors.Wrapf(errcode.DeviceUnavailable, "mock: device %s: %v", board, err)
	}

	id := Identity{Type: mockTypeDigital, Serial: mockDefaultSerial, Port: board}
	if mp.analog[board] {
		id.Type = mockTypeAnalog
	}
	if serial, found := mp.Serials[board]; found {
		id.Serial = serial
	}
	return id, nil
}

// SetInput sets the byte an input port reports, e.g. SetInput("Dev3", "port0", 0xA5).
func (mp *MockProvider) SetInput(board, port string, value byte) {
	mp.lock.Lock()
	defer mp.lock.Unlock()
	mp.init()

	mp.ports[board+"/"+port] = value
}

// SetVoltage pins analog channel n of board to a fixed value.
func (mp *MockProvider) SetVoltage(board string, n int, volts float64) {
	mp.lock.Lock()
	defer mp.lock.Unlock()
	mp.init()

	mp.fixed[board+"/"+AnalogChannelId(n)] = volts
}

// Value returns the last byte stored for board/port.
func (mp *MockProvider) Value(board, port string) byte {
	mp.lock.Lock()
	defer mp.lock.Unlock()
	mp.init()

	return mp.ports[board+"/"+port]
}

// FailOn makes every operation on target fail with err. Target is either a
// channel ("Dev1/port2") or a board name for identity lookups. A nil err clears it.
func (mp *MockProvider) FailOn(target string, err error) {
	mp.lock.Lock()
	defer mp.lock.Unlock()
	mp.init()

	if err == nil {
		delete(mp.fail, target)
		return
	}
	mp.fail[target] = err
}

// MonitorStateChanges prints every changed output byte to writer.
func (mp *MockProvider) MonitorStateChanges(writer io.Writer) {
	mp.lock.Lock()
	defer mp.lock.Unlock()

	mp.writeTo = writer
}
