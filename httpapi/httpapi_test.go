package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hubertat/ictboard"
	"github.com/hubertat/ictboard/drivers"
	"github.com/hubertat/ictboard/errcode"
	"github.com/pkg/errors"
)

func newTestApi(t testing.TB, token string) (*Api, *drivers.MockProvider) {
	t.Helper()

	mp := &drivers.MockProvider{}
	cfg := &ictboard.Config{
		Mock:    mp,
		Mapping: &ictboard.SignalMap{InputMapping: []string{"DOOR", "ESTOP"}, OutputMapping: []string{"LAMP", "EMPTY", "PUMP"}},
	}
	cfg.Normalize()

	ib := ictboard.New(cfg)
	if err := ib.InitProviders(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := ib.InitBoards(); err != nil {
		t.Fatal(err)
	}
	return New("", token, ib.Controller(), ib.Latch()), mp
}

func do(t testing.TB, h http.Handler, method, path string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t testing.TB, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()

	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("bad body %q: %v", rec.Body.String(), err)
	}
}

func assertStatus(t testing.TB, rec *httptest.ResponseRecorder, want int) {
	t.Helper()

	if rec.Code != want {
		t.Errorf("got status %d want %d (body %s)", rec.Code, want, rec.Body.String())
	}
}

func TestGetBits(t *testing.T) {
	api, mp := newTestApi(t, "")
	mp.SetInput("Dev3", "port0", 0x03)
	mp.SetInput("Dev4", "port2", 0x80)

	rec := do(t, api.Handler(), http.MethodGet, "/bits", nil)
	assertStatus(t, rec, http.StatusOK)

	var body BitsBody
	decode(t, rec, &body)
	if want := uint64(0x800000000003); body.Bits != want {
		t.Errorf("got %#x want %#x", body.Bits, want)
	}
	if len(body.Binary) != ictboard.AggregateWidth {
		t.Errorf("binary %q", body.Binary)
	}
}

func TestSetBits(t *testing.T) {
	api, mp := newTestApi(t, "")

	rec := do(t, api.Handler(), http.MethodPut, "/bits/0xFF0000000001", nil)
	assertStatus(t, rec, http.StatusOK)
	if got := mp.Value("Dev1", "port0"); got != 0x01 {
		t.Errorf("Dev1/port0 got 0x%02X want 0x01", got)
	}
	if got := mp.Value("Dev2", "port2"); got != 0xFF {
		t.Errorf("Dev2/port2 got 0x%02X want 0xFF", got)
	}

	rec = do(t, api.Handler(), http.MethodPut, "/bits/banana", nil)
	assertStatus(t, rec, http.StatusBadRequest)

	var body ErrorBody
	decode(t, rec, &body)
	if body.Code != string(errcode.Protocol) {
		t.Errorf("code %s want %s", body.Code, errcode.Protocol)
	}
}

func TestVoltagesAndBoards(t *testing.T) {
	api, mp := newTestApi(t, "")
	mp.SetVoltage("Dev4", 0, 1.5)
	mp.SetVoltage("Dev4", 1, 3.0)

	rec := do(t, api.Handler(), http.MethodGet, "/voltages", nil)
	assertStatus(t, rec, http.StatusOK)
	var volts map[string]float64
	decode(t, rec, &volts)
	if volts["v1"] != 1.5 || volts["v2"] != 3.0 {
		t.Errorf("got %v", volts)
	}

	rec = do(t, api.Handler(), http.MethodGet, "/boards", nil)
	assertStatus(t, rec, http.StatusOK)
	var boards []BoardBody
	decode(t, rec, &boards)
	if len(boards) != 4 || boards[0].Role != "RelayA" || boards[3].Index != 4 || boards[3].Type != "USB-6002" {
		t.Errorf("got %+v", boards)
	}

	mp.FailOn("Dev2", errors.New("unplugged"))
	rec = do(t, api.Handler(), http.MethodGet, "/boards", nil)
	assertStatus(t, rec, http.StatusServiceUnavailable)
}

func TestSignals(t *testing.T) {
	api, mp := newTestApi(t, "")
	mp.SetInput("Dev3", "port0", 0x02)

	rec := do(t, api.Handler(), http.MethodPut, "/signals/PUMP/on", nil)
	assertStatus(t, rec, http.StatusOK)
	if got := mp.Value("Dev1", "port0"); got != 0x04 {
		t.Errorf("Dev1/port0 got 0x%02X want 0x04", got)
	}

	rec = do(t, api.Handler(), http.MethodPut, "/signals/LAMP/toggle", nil)
	assertStatus(t, rec, http.StatusOK)
	var sig ictboard.Signal
	decode(t, rec, &sig)
	if !sig.On || sig.Bit != 0 {
		t.Errorf("got %+v", sig)
	}

	rec = do(t, api.Handler(), http.MethodGet, "/signals", nil)
	assertStatus(t, rec, http.StatusOK)
	var body SignalsBody
	decode(t, rec, &body)
	if len(body.Inputs) != 2 || body.Inputs[0].On || !body.Inputs[1].On {
		t.Errorf("inputs %+v", body.Inputs)
	}
	if len(body.Outputs) != 2 || !body.Outputs[0].On || !body.Outputs[1].On {
		t.Errorf("outputs %+v", body.Outputs)
	}

	rec = do(t, api.Handler(), http.MethodPut, "/signals/HORN/on", nil)
	assertStatus(t, rec, http.StatusBadRequest)

	rec = do(t, api.Handler(), http.MethodPut, "/signals/LAMP/maybe", nil)
	assertStatus(t, rec, http.StatusBadRequest)
}

func TestDeviceFailureStatus(t *testing.T) {
	api, mp := newTestApi(t, "")
	mp.FailOn("Dev4/ai1", errors.Wrap(errcode.DeviceUnavailable, "adc"))

	rec := do(t, api.Handler(), http.MethodGet, "/voltages", nil)
	assertStatus(t, rec, http.StatusServiceUnavailable)
}

func TestToken(t *testing.T) {
	api, _ := newTestApi(t, "s3cret")

	rec := do(t, api.Handler(), http.MethodGet, "/bits", nil)
	assertStatus(t, rec, http.StatusUnauthorized)

	rec = do(t, api.Handler(), http.MethodGet, "/bits", map[string]string{TokenHeader: "s3cret"})
	assertStatus(t, rec, http.StatusOK)
}

func TestStatusFor(t *testing.T) {
	cases := map[errcode.Code]int{
		errcode.Direction:         http.StatusBadRequest,
		errcode.Capability:        http.StatusUnprocessableEntity,
		errcode.DeviceUnavailable: http.StatusServiceUnavailable,
		errcode.Error:             http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := statusFor(code); got != want {
			t.Errorf("statusFor(%s) = %d want %d", code, got, want)
		}
	}
}
