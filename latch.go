package ictboard

import (
	"sync"

	"github.com/pkg/errors"
)

// OutputLatch keeps the master output word. Every change sends the whole word to
// the controller and is only kept when SetBits succeeds. Writes made around the
// latch are picked up by Refresh, which IctBoard runs after every single port write.
type OutputLatch struct {
	ctrl    Controller
	signals *SignalMap

	state    AggregateBits
	onChange []func(AggregateBits)
	lock     sync.Mutex
}

func NewOutputLatch(ctrl Controller, signals *SignalMap) *OutputLatch {
	if signals == nil {
		signals = &SignalMap{}
	}
	return &OutputLatch{ctrl: ctrl, signals: signals}
}

// OnChange registers fn to be called with every committed word.
func (ol *OutputLatch) OnChange(fn func(AggregateBits)) {
	ol.lock.Lock()
	defer ol.lock.Unlock()

	ol.onChange = append(ol.onChange, fn)
}

func (ol *OutputLatch) Signals() *SignalMap {
	return ol.signals
}

func (ol *OutputLatch) State() AggregateBits {
	ol.lock.Lock()
	defer ol.lock.Unlock()

	return ol.state
}

// IsOn reports the latched state of an output label.
func (ol *OutputLatch) IsOn(label string) (bool, error) {
	bit, err := ol.signals.OutputBit(label)
	if err != nil {
		return false, err
	}
	return ol.State().Bit(bit), nil
}

func (ol *OutputLatch) commit(next AggregateBits) error {
	next &= aggregateMask
	if err := ol.ctrl.SetBits(next); err != nil {
		return errors.Wrap(err, "output latch")
	}
	ol.state = next
	for _, fn := range ol.onChange {
		fn(next)
	}
	return nil
}

// Refresh takes over the word the controller last wrote, for writes that went around
// the latch such as single port writes from the remote protocol.
func (ol *OutputLatch) Refresh() {
	ol.lock.Lock()
	defer ol.lock.Unlock()

	current := ol.ctrl.Outputs() & aggregateMask
	if current == ol.state {
		return
	}
	ol.state = current
	for _, fn := range ol.onChange {
		fn(current)
	}
}

// Apply replaces the whole word.
func (ol *OutputLatch) Apply(bits AggregateBits) error {
	ol.lock.Lock()
	defer ol.lock.Unlock()

	return ol.commit(bits)
}

// Set switches one labelled output.
func (ol *OutputLatch) Set(label string, on bool) error {
	bit, err := ol.signals.OutputBit(label)
	if err != nil {
		return err
	}

	ol.lock.Lock()
	defer ol.lock.Unlock()

	return ol.commit(ol.state.WithBit(bit, on))
}

// Toggle flips one labelled output and returns its new state.
func (ol *OutputLatch) Toggle(label string) (bool, error) {
	bit, err := ol.signals.OutputBit(label)
	if err != nil {
		return false, err
	}

	ol.lock.Lock()
	defer ol.lock.Unlock()

	on := !ol.state.Bit(bit)
	if err := ol.commit(ol.state.WithBit(bit, on)); err != nil {
		return !on, err
	}
	return on, nil
}

// Clear drives every output low.
func (ol *OutputLatch) Clear() error {
	return ol.Apply(0)
}
