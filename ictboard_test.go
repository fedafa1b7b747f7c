package ictboard

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/hubertat/ictboard/drivers"
	"github.com/hubertat/ictboard/errcode"
)

func newTestIctBoard(t testing.TB) (*IctBoard, *drivers.MockProvider) {
	t.Helper()

	mp := &drivers.MockProvider{}
	cfg := &Config{Mock: mp, Mapping: &SignalMap{OutputMapping: []string{"LAMP"}}}
	cfg.Normalize()
	assertNoError(t, cfg.Validate())

	ib := New(cfg)
	assertNoError(t, ib.InitProviders(context.Background()))
	assertNoError(t, ib.InitBoards())
	return ib, mp
}

func TestIctBoardInit(t *testing.T) {
	ib, mp := newTestIctBoard(t)

	if !mp.IsReady() {
		t.Error("mock provider not set up")
	}
	if ib.Name() != defaultName {
		t.Errorf("name %s want %s", ib.Name(), defaultName)
	}

	assertNoError(t, ib.Latch().Set("LAMP", true))
	if got := mp.Value("Dev1", "port0"); got != 0x01 {
		t.Errorf("got 0x%02X want 0x01", got)
	}

	info, err := ib.Controller().GetBoardInfo()
	assertNoError(t, err)
	if len(info) != 4 || info[3].Type != "USB-6002" {
		t.Errorf("unexpected board info %v", info)
	}

	assertNoError(t, ib.Close())
	if got := mp.Value("Dev1", "port0"); got != 0 {
		t.Errorf("outputs not cleared on close: 0x%02X", got)
	}
	if mp.IsReady() {
		t.Error("mock provider still ready after Close")
	}
}

func TestIctBoardMissingProvider(t *testing.T) {
	cfg := &Config{Mock: &drivers.MockProvider{}}
	cfg.Normalize()
	cfg.Boards.Status.Driver = "modbus"

	err := New(cfg).InitProviders(context.Background())
	assertCode(t, err, errcode.Configuration)
}

func TestIctBoardInitBoardsBeforeProviders(t *testing.T) {
	cfg := &Config{Mock: &drivers.MockProvider{}}
	cfg.Normalize()

	assertCode(t, New(cfg).InitBoards(), errcode.Configuration)
}

func TestPrintIoStatus(t *testing.T) {
	ib, _ := newTestIctBoard(t)
	assertNoError(t, ib.Controller().SetBits(0xFF))

	buf := &bytes.Buffer{}
	ib.PrintIoStatus(buf)
	out := buf.String()

	for _, want := range []string{"| mock ready: true", "| 1 RelayA: Dev1 (relay board)", "| port0 output width 8 last 0xFF", "| analog channels: [0 1]"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}
