// Package remote exposes board operations to other processes: one JSON request
// line in, one JSON response line out, one exchange per connection.
package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/hubertat/ictboard/drivers"
	"github.com/hubertat/ictboard/errcode"
)

// MaxLineSize bounds a single request or response line.
const MaxLineSize = 64 * 1024

type Command int

const (
	GetBits Command = iota
	SetBits
	GetVoltage
	GetIdentity
)

var commandNames = [...]string{"GetBits", "SetBits", "GetVoltage", "GetIdentity"}

func (c Command) String() string {
	if c < 0 || int(c) >= len(commandNames) {
		return fmt.Sprintf("Command(%d)", int(c))
	}
	return commandNames[c]
}

// ParseCommand accepts a command name in any case, "GetIOID" as an alias of
// GetIdentity, or the ordinal 0..3.
func ParseCommand(s string) (Command, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "GetIOID") {
		return GetIdentity, nil
	}
	for i, name := range commandNames {
		if strings.EqualFold(s, name) {
			return Command(i), nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && n < len(commandNames) {
		return Command(n), nil
	}
	return 0, errors.Wrapf(errcode.Protocol, "unknown command %q", s)
}

func (c Command) MarshalJSON() ([]byte, error) {
	if c < 0 || int(c) >= len(commandNames) {
		return nil, errors.Wrapf(errcode.Protocol, "unknown command %d", int(c))
	}
	return json.Marshal(c.String())
}

// UnmarshalJSON leaves c unchanged on null, the same as a missing field.
func (c *Command) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		s = string(bytes.TrimSpace(data))
	}
	parsed, err := ParseCommand(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// PortSelector picks port N of a board. It decodes from 0, "0" or "port0" and encodes as a number.
type PortSelector int

func (ps PortSelector) Name() string {
	return fmt.Sprintf("port%d", int(ps))
}

func (ps *PortSelector) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		if n < 0 {
			return errors.Wrapf(errcode.Protocol, "invalid port %d", n)
		}
		*ps = PortSelector(n)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrapf(errcode.Protocol, "invalid port %s", data)
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		*ps = PortSelector(n)
		return nil
	}
	n, err := drivers.PortIndex(s)
	if err != nil {
		return errcode.Wrap(err, errcode.Protocol, "port selector")
	}
	*ps = PortSelector(n)
	return nil
}

// Request targets one board by its 1-based index. Port and Value are required by
// SetBits, Port by GetBits. GetVoltage reads channel 0 when Channel is absent.
type Request struct {
	BoardIndex int           `json:"BoardIndex"`
	Command    Command       `json:"Command"`
	Port       *PortSelector `json:"Port,omitempty"`
	Value      *byte         `json:"Value,omitempty"`
	Channel    *int          `json:"Channel,omitempty"`
}

// Response carries exactly one of Bits, Voltage or (for GetIdentity) Message on success.
// On failure Message describes the error and Code holds its class.
type Response struct {
	Success bool     `json:"Success"`
	Message string   `json:"Message,omitempty"`
	Bits    *byte    `json:"Bits,omitempty"`
	Voltage *float64 `json:"Voltage,omitempty"`
	Code    string   `json:"Code,omitempty"`
}

// Err turns a failed response back into an error carrying its code.
func (r Response) Err() error {
	if r.Success {
		return nil
	}
	code := errcode.Code(r.Code)
	if len(code) == 0 || code == errcode.OK {
		code = errcode.Error
	}
	return errors.Wrap(code, r.Message)
}

func failure(err error) Response {
	return Response{Success: false, Message: err.Error(), Code: string(errcode.Of(err))}
}

// DecodeRequest parses one request line.
func DecodeRequest(line []byte) (Request, error) {
	var req Request
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return req, errors.Wrap(errcode.Protocol, "empty request")
	}
	if err := json.Unmarshal(line, &req); err != nil {
		if errcode.Of(err) == errcode.Protocol {
			return req, err
		}
		return req, errors.Wrap(errcode.Protocol, fmt.Sprintf("malformed request: %v", err))
	}
	return req, nil
}

// EncodeLine renders v as one newline-terminated JSON line.
func EncodeLine(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encode")
	}
	return append(data, '\n'), nil
}
