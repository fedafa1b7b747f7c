// Package httpapi serves the aggregate interface over HTTP with JSON bodies.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"

	"github.com/hubertat/ictboard"
	"github.com/hubertat/ictboard/errcode"
)

const httpTimeoutsMs = 3000

// TokenHeader carries the shared secret when a token is configured.
const TokenHeader = "Token"

type Api struct {
	Addr  string
	Token string

	ctrl   ictboard.Controller
	latch  *ictboard.OutputLatch
	server *http.Server
	logger *log.Logger
}

type BitsBody struct {
	Bits   uint64 `json:"bits"`
	Binary string `json:"binary"`
}

type BoardBody struct {
	Index  int    `json:"index"`
	Role   string `json:"role"`
	Type   string `json:"type"`
	Serial int64  `json:"serial"`
	Port   string `json:"port"`
}

type SignalsBody struct {
	Inputs  []ictboard.Signal `json:"inputs"`
	Outputs []ictboard.Signal `json:"outputs"`
}

type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func New(addr, token string, ctrl ictboard.Controller, latch *ictboard.OutputLatch) *Api {
	return &Api{
		Addr:  addr,
		Token: token,
		ctrl:  ctrl,
		latch: latch,
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "HttpApi: ",
			Level:  log.GetLevel(),
		}),
	}
}

func (a *Api) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/bits", a.auth(a.handleGetBits))
	router.PUT("/bits/:value", a.auth(a.handleSetBits))
	router.GET("/voltages", a.auth(a.handleVoltages))
	router.GET("/boards", a.auth(a.handleBoards))
	router.GET("/signals", a.auth(a.handleSignals))
	router.PUT("/signals/:label/:state", a.auth(a.handleSetSignal))
	return router
}

// ListenAndServe runs until ctx is done.
func (a *Api) ListenAndServe(ctx context.Context) error {
	httpTimeout := httpTimeoutsMs * time.Millisecond

	a.server = &http.Server{
		Addr:              a.Addr,
		Handler:           a.Handler(),
		ReadTimeout:       httpTimeout,
		ReadHeaderTimeout: httpTimeout,
		WriteTimeout:      httpTimeout,
		IdleTimeout:       2 * httpTimeout,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpTimeout)
		defer cancel()
		a.server.Shutdown(shutdownCtx)
	})
	defer stop()

	a.logger.Info("listening", "addr", a.Addr)
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return errors.Wrap(err, "http api")
}

func (a *Api) auth(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		if len(a.Token) > 0 && r.Header.Get(TokenHeader) != a.Token {
			http.Error(w, "token mismatch", http.StatusUnauthorized)
			return
		}
		next(w, r, p)
	}
}

func statusFor(code errcode.Code) int {
	switch code {
	case errcode.Direction, errcode.Protocol, errcode.Configuration:
		return http.StatusBadRequest
	case errcode.Capability:
		return http.StatusUnprocessableEntity
	case errcode.DeviceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *Api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errcode.Of(err)
	a.logger.Warn("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	a.writeJson(w, statusFor(code), ErrorBody{Error: err.Error(), Code: string(code)})
}

func (a *Api) writeJson(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Error("encode response", "err", err)
	}
}

func bitsBody(v ictboard.AggregateBits) BitsBody {
	return BitsBody{Bits: uint64(v), Binary: v.String()}
}

func (a *Api) handleGetBits(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	bits, err := a.ctrl.GetBits()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJson(w, http.StatusOK, bitsBody(bits))
}

func (a *Api) handleSetBits(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	bits, err := ictboard.ParseAggregateBits(p.ByName("value"))
	if err != nil {
		a.writeError(w, r, errcode.Wrap(err, errcode.Protocol, "bits value"))
		return
	}
	if err := a.latch.Apply(bits); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJson(w, http.StatusOK, bitsBody(a.latch.State()))
}

func (a *Api) handleVoltages(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	v, err := a.ctrl.GetVoltages()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJson(w, http.StatusOK, map[string]float64{"v1": v[0], "v2": v[1]})
}

func (a *Api) handleBoards(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	info, err := a.ctrl.GetBoardInfo()
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	boards := make([]BoardBody, 0, len(info))
	for i, id := range info {
		role := ictboard.Roles[i]
		boards = append(boards, BoardBody{Index: role.Index(), Role: role.String(), Type: id.Type, Serial: id.Serial, Port: id.Port})
	}
	a.writeJson(w, http.StatusOK, boards)
}

func (a *Api) handleSignals(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	inputs, err := a.ctrl.GetBits()
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	signals := a.latch.Signals()
	a.writeJson(w, http.StatusOK, SignalsBody{
		Inputs:  signals.DecodeInputs(inputs),
		Outputs: signals.DecodeOutputs(a.latch.State()),
	})
}

func (a *Api) handleSetSignal(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	label := p.ByName("label")

	var err error
	on := false
	switch strings.ToLower(p.ByName("state")) {
	case "on":
		on = true
		err = a.latch.Set(label, true)
	case "off":
		err = a.latch.Set(label, false)
	case "toggle":
		on, err = a.latch.Toggle(label)
	default:
		err = errors.Wrapf(errcode.Protocol, "unrecognized signal state %q", p.ByName("state"))
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	a.writeJson(w, http.StatusOK, ictboard.Signal{Label: label, Bit: outputBit(a.latch.Signals(), label), On: on})
}

func outputBit(signals *ictboard.SignalMap, label string) int {
	bit, _ := signals.OutputBit(label)
	return bit
}
