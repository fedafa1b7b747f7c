package ictboard

import (
	"sync"

	"github.com/hubertat/ictboard/drivers"
)

// SyncManager serializes every call into a Controller. The daemon shares one
// SyncManager between all of its front-ends.
type SyncManager struct {
	ctrl    Controller
	onWrite []func()
	lock    sync.Mutex
}

func NewSyncManager(ctrl Controller) *SyncManager {
	return &SyncManager{ctrl: ctrl}
}

// Do runs fn with the lock held, for callers that need several operations to be applied together.
func (sm *SyncManager) Do(fn func(ctrl Controller) error) error {
	sm.lock.Lock()
	defer sm.lock.Unlock()

	return fn(sm.ctrl)
}

func (sm *SyncManager) SetBits(v AggregateBits) error {
	sm.lock.Lock()
	defer sm.lock.Unlock()

	return sm.ctrl.SetBits(v)
}

func (sm *SyncManager) GetBits() (AggregateBits, error) {
	sm.lock.Lock()
	defer sm.lock.Unlock()

	return sm.ctrl.GetBits()
}

func (sm *SyncManager) GetVoltages() (Voltages, error) {
	sm.lock.Lock()
	defer sm.lock.Unlock()

	return sm.ctrl.GetVoltages()
}

func (sm *SyncManager) GetBoardInfo() ([]drivers.Identity, error) {
	sm.lock.Lock()
	defer sm.lock.Unlock()

	return sm.ctrl.GetBoardInfo()
}

// OnWrite registers fn to run after every successful single port write. fn runs
// without the lock held, so it may call back into the SyncManager.
func (sm *SyncManager) OnWrite(fn func()) {
	sm.lock.Lock()
	defer sm.lock.Unlock()

	sm.onWrite = append(sm.onWrite, fn)
}

func (sm *SyncManager) WriteByte(index int, port string, value byte) error {
	sm.lock.Lock()
	err := sm.ctrl.WriteByte(index, port, value)
	observers := sm.onWrite
	sm.lock.Unlock()

	if err != nil {
		return err
	}
	for _, fn := range observers {
		fn()
	}
	return nil
}

func (sm *SyncManager) ReadByte(index int, port string) (byte, error) {
	sm.lock.Lock()
	defer sm.lock.Unlock()

	return sm.ctrl.ReadByte(index, port)
}

func (sm *SyncManager) ReadVoltage(index int, channel int) (float64, error) {
	sm.lock.Lock()
	defer sm.lock.Unlock()

	return sm.ctrl.ReadVoltage(index, channel)
}

func (sm *SyncManager) Outputs() AggregateBits {
	sm.lock.Lock()
	defer sm.lock.Unlock()

	return sm.ctrl.Outputs()
}

func (sm *SyncManager) Identity(index int) (drivers.Identity, error) {
	sm.lock.Lock()
	defer sm.lock.Unlock()

	return sm.ctrl.Identity(index)
}
