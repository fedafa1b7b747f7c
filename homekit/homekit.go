// Package homekit publishes every labelled relay output as a HomeKit outlet on one bridge.
package homekit

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"

	dnslog "github.com/brutella/dnssd/log"
	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	hklog "github.com/brutella/hap/log"
	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/hubertat/ictboard"
)

const defaultHomeKitDirectory = "./homekit"
const homeKitBridgeName = "ictboard"
const homeKitBridgeAuthor = "github.com/hubertat"

// Relay is one output signal exposed as an outlet.
type Relay struct {
	Label string
	Bit   int

	latch *ictboard.OutputLatch
	hk    *accessory.Outlet
	fault *characteristic.StatusFault
}

func newRelay(label string, bit int, latch *ictboard.OutputLatch) *Relay {
	r := &Relay{Label: label, Bit: bit, latch: latch}

	r.hk = accessory.NewOutlet(accessory.Info{
		Name:         label,
		SerialNumber: fmt.Sprintf("relay:%02d", bit),
	})
	r.fault = characteristic.NewStatusFault()
	r.fault.SetValue(characteristic.StatusFaultNoFault)
	r.hk.Outlet.AddC(r.fault.C)

	r.hk.Outlet.On.OnValueRemoteUpdate(r.SetValue)
	return r
}

func (r *Relay) GetUniqueId() uint64 {
	hash := fnv.New64()
	hash.Write([]byte("Relay_" + r.Label))
	return hash.Sum64()
}

func (r *Relay) GetHk() *accessory.A {
	return r.hk.A
}

// SetValue switches the output through the latch. On failure the accessory is
// flagged faulty and reverted to the latched state.
func (r *Relay) SetValue(on bool) {
	if err := r.latch.Set(r.Label, on); err != nil {
		r.fault.SetValue(characteristic.StatusFaultGeneralFault)
		r.hk.Outlet.On.SetValue(r.latch.State().Bit(r.Bit))
		return
	}
	r.fault.SetValue(characteristic.StatusFaultNoFault)
}

func (r *Relay) IsOn() bool {
	return r.hk.Outlet.On.Value()
}

func (r *Relay) Sync(state ictboard.AggregateBits) {
	on := state.Bit(r.Bit)
	if r.hk.Outlet.On.Value() != on {
		r.hk.Outlet.On.SetValue(on)
	}
}

type Bridge struct {
	Name      string
	Pin       string
	Directory string
	Address   string
	Debug     bool

	relays []*Relay
	logger *log.Logger
}

// NewBridge builds one outlet per labelled output and keeps them in step with the latch.
func NewBridge(cfg ictboard.HomeKitConfig, name string, latch *ictboard.OutputLatch) *Bridge {
	b := &Bridge{
		Name:      name,
		Pin:       cfg.Pin,
		Directory: cfg.Directory,
		Address:   cfg.Address,
		Debug:     cfg.Debug,
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "HomeKit: ",
			Level:  log.GetLevel(),
		}),
	}

	signals := latch.Signals()
	for _, label := range signals.Outputs() {
		bit, _ := signals.OutputBit(label)
		b.relays = append(b.relays, newRelay(label, bit, latch))
	}
	latch.OnChange(b.Sync)
	b.Sync(latch.State())
	return b
}

// Enabled reports whether a valid 8 digit pin is configured.
func (b *Bridge) Enabled() bool {
	return len(b.Pin) == 8
}

func (b *Bridge) Relays() []*Relay {
	return b.relays
}

func (b *Bridge) Sync(state ictboard.AggregateBits) {
	for _, r := range b.relays {
		r.Sync(state)
	}
}

func (b *Bridge) Accessories(firmwareVersion string) (acc []*accessory.A) {
	for _, r := range b.relays {
		a := r.GetHk()
		if a.Info != nil && a.Info.FirmwareRevision != nil {
			a.Info.FirmwareRevision.SetValue(firmwareVersion)
		}
		a.Id = r.GetUniqueId()
		acc = append(acc, a)
	}
	return
}

// ListenAndServe runs the HomeKit server until ctx is done.
func (b *Bridge) ListenAndServe(ctx context.Context, firmwareVersion string) error {
	if !b.Enabled() {
		return errors.New("HomeKit pin must have 8 digits")
	}

	hkName := b.Name
	if len(hkName) < 1 {
		hkName = homeKitBridgeName
	}
	bridge := accessory.NewBridge(accessory.Info{
		Name:         hkName,
		Manufacturer: homeKitBridgeAuthor,
		Firmware:     firmwareVersion,
	})

	directory := b.Directory
	if len(directory) < 1 {
		directory = defaultHomeKitDirectory
	}
	store := hap.NewFsStore(directory)

	hkServer, err := hap.NewServer(store, bridge.A, b.Accessories(firmwareVersion)...)
	if err != nil {
		return errors.Wrap(err, "failed to create HomeKit server")
	}
	hkServer.Pin = b.Pin
	if len(b.Address) > 0 {
		hkServer.Addr = b.Address
	}

	if b.Debug {
		hklog.Debug.Enable()
		dnslog.Debug.Enable()
	}

	b.logger.Info("starting bridge", "name", hkName, "outlets", len(b.relays))
	return hkServer.ListenAndServe(ctx)
}
