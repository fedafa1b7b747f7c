package remote

import (
	"github.com/pkg/errors"

	"github.com/hubertat/ictboard"
	"github.com/hubertat/ictboard/errcode"
)

// Dispatch runs one request against ctrl. Errors never escape: every failure,
// including a panic inside a provider, becomes a failed Response.
func Dispatch(ctrl ictboard.Controller, req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			resp = failure(errors.Errorf("%s on board %d panicked: %v", req.Command, req.BoardIndex, r))
		}
	}()

	if _, err := ictboard.RoleForIndex(req.BoardIndex); err != nil {
		return failure(err)
	}

	switch req.Command {
	case GetBits:
		if req.Port == nil {
			return failure(errors.Wrap(errcode.Protocol, "GetBits requires Port"))
		}
		bits, err := ctrl.ReadByte(req.BoardIndex, req.Port.Name())
		if err != nil {
			return failure(err)
		}
		return Response{Success: true, Bits: &bits}

	case SetBits:
		if req.Port == nil || req.Value == nil {
			return failure(errors.Wrap(errcode.Protocol, "SetBits requires Port and Value"))
		}
		if err := ctrl.WriteByte(req.BoardIndex, req.Port.Name(), *req.Value); err != nil {
			return failure(err)
		}
		return Response{Success: true}

	case GetVoltage:
		channel := 0
		if req.Channel != nil {
			channel = *req.Channel
		}
		volts, err := ctrl.ReadVoltage(req.BoardIndex, channel)
		if err != nil {
			return failure(err)
		}
		return Response{Success: true, Voltage: &volts}

	case GetIdentity:
		id, err := ctrl.Identity(req.BoardIndex)
		if err != nil {
			return failure(err)
		}
		return Response{Success: true, Message: id.String()}
	}

	return failure(errors.Wrapf(errcode.Protocol, "unknown command %s", req.Command))
}
