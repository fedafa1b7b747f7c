package ictboard

import (
	"sync"
	"testing"

	"github.com/hubertat/ictboard/drivers"
	"github.com/hubertat/ictboard/errcode"
	"github.com/pkg/errors"
)

func newTestManager(t testing.TB, names ...string) (*BoardManager, *drivers.MockProvider) {
	t.Helper()

	if len(names) == 0 {
		names = []string{"Dev1", "Dev2", "Dev3", "Dev4"}
	}
	mp := newMock(t)

	relayA, err := NewBoard(names[0], RelayBoard, mp, threePorts(drivers.Output), nil)
	assertNoError(t, err)
	relayB, err := NewBoard(names[1], RelayBoard, mp, threePorts(drivers.Output), nil)
	assertNoError(t, err)
	status, err := NewBoard(names[2], StatusBoard, mp, threePorts(drivers.Input), nil)
	assertNoError(t, err)
	sensor, err := NewBoard(names[3], SensorBoard, mp, threePorts(drivers.Input), []int{0, 1})
	assertNoError(t, err)

	bm, err := NewBoardManager(relayA, relayB, status, sensor)
	assertNoError(t, err)
	return bm, mp
}

func TestSetBitsLowField(t *testing.T) {
	bm, mp := newTestManager(t)

	for _, port := range []string{"port0", "port1", "port2"} {
		assertNoError(t, bm.Board(RelayA).WriteByte(port, 0x55))
		assertNoError(t, bm.Board(RelayB).WriteByte(port, 0x55))
	}

	assertNoError(t, bm.SetBits(0x0000000000FF))

	want := map[string]byte{
		"Dev1/port0": 0xFF, "Dev1/port1": 0, "Dev1/port2": 0,
		"Dev2/port0": 0, "Dev2/port1": 0, "Dev2/port2": 0,
	}
	for target, w := range want {
		ch := target[5:]
		if got := mp.Value(target[:4], ch); got != w {
			t.Errorf("%s: got 0x%02X want 0x%02X", target, got, w)
		}
	}
}

func TestSetBitsLayout(t *testing.T) {
	bm, mp := newTestManager(t)

	assertNoError(t, bm.SetBits(0xCCBBAA332211))

	checks := []struct {
		board, port string
		want        byte
	}{
		{"Dev1", "port0", 0x11},
		{"Dev1", "port1", 0x22},
		{"Dev1", "port2", 0x33},
		{"Dev2", "port0", 0xAA},
		{"Dev2", "port1", 0xBB},
		{"Dev2", "port2", 0xCC},
	}
	for _, c := range checks {
		if got := mp.Value(c.board, c.port); got != c.want {
			t.Errorf("%s/%s: got 0x%02X want 0x%02X", c.board, c.port, got, c.want)
		}
	}
}

func TestSetBitsIdempotent(t *testing.T) {
	bm, mp := newTestManager(t)

	read := func() (out [6]byte) {
		i := 0
		for _, board := range []string{"Dev1", "Dev2"} {
			for _, port := range []string{"port0", "port1", "port2"} {
				out[i] = mp.Value(board, port)
				i++
			}
		}
		return
	}

	assertNoError(t, bm.SetBits(0x123456789ABC))
	once := read()
	assertNoError(t, bm.SetBits(0x123456789ABC))
	twice := read()

	if once != twice {
		t.Errorf("got %X after second call, want %X", twice, once)
	}
}

func TestSetBitsPartialFailure(t *testing.T) {
	bm, mp := newTestManager(t)
	mp.FailOn("Dev2/port0", errors.Wrap(errcode.DeviceUnavailable, "usb reset"))

	err := bm.SetBits(0xFFFFFFFFFFFF)
	assertCode(t, err, errcode.DeviceUnavailable)

	// Relay-A fields were written before the failure and stay written.
	for _, port := range []string{"port0", "port1", "port2"} {
		if got := mp.Value("Dev1", port); got != 0xFF {
			t.Errorf("Dev1/%s: got 0x%02X want 0xFF", port, got)
		}
	}
	for _, port := range []string{"port1", "port2"} {
		if got := mp.Value("Dev2", port); got != 0 {
			t.Errorf("Dev2/%s: got 0x%02X want untouched 0x00", port, got)
		}
	}
}

func TestGetBitsLayout(t *testing.T) {
	bm, mp := newTestManager(t)

	inputs := map[string]byte{
		"Dev3/port0": 0x01, "Dev3/port1": 0x80, "Dev3/port2": 0xA5,
		"Dev4/port0": 0x5A, "Dev4/port1": 0xFF, "Dev4/port2": 0x3C,
	}
	for target, v := range inputs {
		mp.SetInput(target[:4], target[5:], v)
	}

	got, err := bm.GetBits()
	assertNoError(t, err)

	want := AggregateBits(0x01) | 0x80<<8 | 0xA5<<16 | 0x5A<<24 | 0xFF<<32 | 0x3C<<40
	if got != want {
		t.Errorf("got %#x want %#x", uint64(got), uint64(want))
	}
}

func TestGetBitsAllOrNothing(t *testing.T) {
	bm, mp := newTestManager(t)
	mp.SetInput("Dev3", "port0", 0xFF)
	mp.FailOn("Dev4/port2", errors.Wrap(errcode.DeviceUnavailable, "timeout"))

	got, err := bm.GetBits()
	assertCode(t, err, errcode.DeviceUnavailable)
	if got != 0 {
		t.Errorf("got partial result %#x", uint64(got))
	}
}

func TestGetVoltages(t *testing.T) {
	bm, mp := newTestManager(t)
	mp.SetVoltage("Dev4", 0, 1.25)
	mp.SetVoltage("Dev4", 1, 4.5)

	got, err := bm.GetVoltages()
	assertNoError(t, err)
	if got != (Voltages{1.25, 4.5}) {
		t.Errorf("got %v want [1.25 4.5]", got)
	}

	mp.FailOn("Dev4/ai1", errors.Wrap(errcode.DeviceUnavailable, "adc"))
	got, err = bm.GetVoltages()
	assertCode(t, err, errcode.DeviceUnavailable)
	if got != (Voltages{}) {
		t.Errorf("got partial result %v", got)
	}
}

func TestGetBoardInfoRoleOrder(t *testing.T) {
	bm, mp := newTestManager(t, "Zeta", "Alpha", "Mid", "Beta")
	mp.Serials = map[string]int64{"Zeta": 1, "Alpha": 2, "Mid": 3, "Beta": 4}

	info, err := bm.GetBoardInfo()
	assertNoError(t, err)

	if len(info) != 4 {
		t.Fatalf("got %d identities want 4", len(info))
	}
	for i, want := range []string{"Zeta", "Alpha", "Mid", "Beta"} {
		if info[i].Port != want || info[i].Serial != int64(i+1) {
			t.Errorf("info[%d] = %+v, want port %s serial %d", i, info[i], want, i+1)
		}
	}
	if info[3].Type != "USB-6002" {
		t.Errorf("sensor type %s want USB-6002", info[3].Type)
	}

	mp.FailOn("Mid", errors.New("gone"))
	_, err = bm.GetBoardInfo()
	assertCode(t, err, errcode.DeviceUnavailable)
}

func TestIndexOperations(t *testing.T) {
	bm, mp := newTestManager(t)
	mp.SetInput("Dev3", "port1", 0x42)

	assertNoError(t, bm.WriteByte(2, "port2", 0x81))
	if got := mp.Value("Dev2", "port2"); got != 0x81 {
		t.Errorf("got 0x%02X want 0x81", got)
	}

	got, err := bm.ReadByte(3, "port1")
	assertNoError(t, err)
	if got != 0x42 {
		t.Errorf("got 0x%02X want 0x42", got)
	}

	_, err = bm.ReadVoltage(1, 0)
	assertCode(t, err, errcode.Capability)

	for _, index := range []int{0, 5, -1} {
		_, err = bm.Identity(index)
		assertCode(t, err, errcode.Protocol)
	}
}

func TestNewBoardManagerRejectsWrongRoles(t *testing.T) {
	mp := newMock(t)

	relay, err := NewBoard("Dev1", RelayBoard, mp, threePorts(drivers.Output), nil)
	assertNoError(t, err)
	status, err := NewBoard("Dev3", StatusBoard, mp, threePorts(drivers.Input), nil)
	assertNoError(t, err)
	sensor, err := NewBoard("Dev4", SensorBoard, mp, threePorts(drivers.Input), []int{0, 1})
	assertNoError(t, err)
	short, err := NewBoard("Dev2", RelayBoard, mp, threePorts(drivers.Output)[:2], nil)
	assertNoError(t, err)

	t.Run("status as relay", func(t *testing.T) {
		_, err := NewBoardManager(relay, status, status, sensor)
		assertCode(t, err, errcode.Configuration)
	})
	t.Run("missing board", func(t *testing.T) {
		_, err := NewBoardManager(relay, nil, status, sensor)
		assertCode(t, err, errcode.Configuration)
	})
	t.Run("two ports", func(t *testing.T) {
		_, err := NewBoardManager(relay, short, status, sensor)
		assertCode(t, err, errcode.Configuration)
	})
}

func TestRoleForIndex(t *testing.T) {
	for i, want := range Roles {
		got, err := RoleForIndex(i + 1)
		assertNoError(t, err)
		if got != want || got.Index() != i+1 {
			t.Errorf("RoleForIndex(%d) = %s", i+1, got)
		}
	}
}

func TestSyncManagerSerializes(t *testing.T) {
	bm, mp := newTestManager(t)
	sm := NewSyncManager(bm)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(v AggregateBits) {
			defer wg.Done()
			if err := sm.SetBits(v); err != nil {
				t.Errorf("SetBits: %v", err)
			}
		}(AggregateBits(i) * 0x010101010101)
	}
	wg.Wait()

	// Every call writes all six fields under the lock, so the outputs hold one whole word.
	first := mp.Value("Dev1", "port0")
	for _, board := range []string{"Dev1", "Dev2"} {
		for _, port := range []string{"port0", "port1", "port2"} {
			if got := mp.Value(board, port); got != first {
				t.Errorf("%s/%s: got 0x%02X want 0x%02X", board, port, got, first)
			}
		}
	}

	var touched int
	err := sm.Do(func(ctrl Controller) error {
		touched++
		return ctrl.WriteByte(1, "port0", 0)
	})
	assertNoError(t, err)
	if touched != 1 {
		t.Error("Do did not run fn")
	}
}

func TestPortOrderDoesNotMoveBits(t *testing.T) {
	mp := newMock(t)
	reversed := func(dir drivers.PortDirection) []PortSpec {
		return []PortSpec{
			{Name: "port2", Direction: dir},
			{Name: "port1", Direction: dir},
			{Name: "port0", Direction: dir},
		}
	}

	relayA, err := NewBoard("Dev1", RelayBoard, mp, reversed(drivers.Output), nil)
	assertNoError(t, err)
	relayB, err := NewBoard("Dev2", RelayBoard, mp, threePorts(drivers.Output), nil)
	assertNoError(t, err)
	status, err := NewBoard("Dev3", StatusBoard, mp, reversed(drivers.Input), nil)
	assertNoError(t, err)
	sensor, err := NewBoard("Dev4", SensorBoard, mp, threePorts(drivers.Input), []int{0, 1})
	assertNoError(t, err)
	bm, err := NewBoardManager(relayA, relayB, status, sensor)
	assertNoError(t, err)

	mp.SetInput("Dev3", "port0", 0x11)
	mp.SetInput("Dev3", "port1", 0x22)
	mp.SetInput("Dev3", "port2", 0x33)

	got, err := bm.GetBits()
	assertNoError(t, err)
	if got != 0x332211 {
		t.Errorf("GetBits got %#012x want 0x000000332211", uint64(got))
	}

	assertNoError(t, bm.SetBits(0x332211))
	for port, want := range map[string]byte{"port0": 0x11, "port1": 0x22, "port2": 0x33} {
		if v := mp.Value("Dev1", port); v != want {
			t.Errorf("Dev1/%s got 0x%02X want 0x%02X", port, v, want)
		}
	}
}

func TestNewBoardManagerRejectsPortNames(t *testing.T) {
	mp := newMock(t)

	relayA, err := NewBoard("Dev1", RelayBoard, mp, threePorts(drivers.Output), nil)
	assertNoError(t, err)
	relayB, err := NewBoard("Dev2", RelayBoard, mp, threePorts(drivers.Output), nil)
	assertNoError(t, err)
	status, err := NewBoard("Dev3", StatusBoard, mp, []PortSpec{
		{Name: "port0", Direction: drivers.Input},
		{Name: "port1", Direction: drivers.Input},
		{Name: "port3", Direction: drivers.Input},
	}, nil)
	assertNoError(t, err)
	sensor, err := NewBoard("Dev4", SensorBoard, mp, threePorts(drivers.Input), []int{0, 1})
	assertNoError(t, err)

	_, err = NewBoardManager(relayA, relayB, status, sensor)
	assertCode(t, err, errcode.Configuration)
}

func TestOutputsTracksWrites(t *testing.T) {
	bm, _ := newTestManager(t)

	if got := bm.Outputs(); got != 0 {
		t.Errorf("fresh outputs got %#x want 0", uint64(got))
	}

	assertNoError(t, bm.SetBits(0xCCBBAA332211))
	if got := bm.Outputs(); got != 0xCCBBAA332211 {
		t.Errorf("got %#012x want 0xccbbaa332211", uint64(got))
	}

	assertNoError(t, bm.WriteByte(2, "port1", 0x00))
	if got := bm.Outputs(); got != 0xCC00AA332211 {
		t.Errorf("got %#012x want 0xcc00aa332211", uint64(got))
	}
}
