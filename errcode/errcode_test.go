package errcode

import (
	"testing"

	"github.com/pkg/errors"
)

func TestOf(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		if got := Of(nil); got != OK {
			t.Errorf("got %s want %s", got, OK)
		}
	})

	t.Run("wrapped", func(t *testing.T) {
		err := errors.Wrapf(Direction, "cannot write to %s", "port0")
		err = errors.Wrap(err, "board Dev1")

		if got := Of(err); got != Direction {
			t.Errorf("got %s want %s", got, Direction)
		}
		if !Is(err, Direction) {
			t.Error("Is(err, Direction) returned false")
		}
		if Is(err, Capability) {
			t.Error("Is(err, Capability) returned true")
		}
	})

	t.Run("foreign error", func(t *testing.T) {
		if got := Of(errors.New("boom")); got != Error {
			t.Errorf("got %s want %s", got, Error)
		}
	})
}

func TestWrap(t *testing.T) {
	cause := errors.Wrap(DeviceUnavailable, "mcpio: device Dev9 not configured")
	err := Wrapf(cause, Configuration, "mcpio: bind %s", "Dev9/port0")

	if got := Of(err); got != Configuration {
		t.Errorf("got %s want %s", got, Configuration)
	}
	if !Is(err, DeviceUnavailable) {
		t.Error("cause lost from the chain")
	}

	got := err.Error()
	want := "mcpio: bind Dev9/port0: mcpio: device Dev9 not configured: device_unavailable"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}

	if Wrap(nil, Protocol, "nothing") != nil {
		t.Error("Wrap(nil) should be nil")
	}
}
