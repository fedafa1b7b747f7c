package ictboard

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/hubertat/ictboard/drivers"
	"github.com/hubertat/ictboard/errcode"
)

const defaultName = "ictboard"

// IctBoard wires a configuration to running providers, boards and the shared controller.
type IctBoard struct {
	Config *Config

	providers map[string]drivers.Provider
	manager   *BoardManager
	sync      *SyncManager
	latch     *OutputLatch
	logger    *log.Logger
}

func New(cfg *Config) *IctBoard {
	return &IctBoard{
		Config: cfg,
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "IctBoard: ",
			Level:  log.GetLevel(),
		}),
	}
}

func (ib *IctBoard) Name() string {
	if len(ib.Config.Name) > 0 {
		return ib.Config.Name
	}
	return defaultName
}

// InitProviders sets up every configured provider and checks each board's driver is among them.
func (ib *IctBoard) InitProviders(ctx context.Context) error {
	ib.providers = drivers.MapProviders(ib.Config.Providers()...)

	for _, provider := range ib.providers {
		err := provider.Setup(ctx)
		if err != nil {
			return errors.Wrapf(err, "failed to setup %s provider", provider)
		}
		ib.logger.Info("provider ready", "provider", provider.String())
	}

	for _, role := range Roles {
		bc := ib.Config.Boards.ForRole(role)
		if _, found := ib.providers[bc.Driver]; !found {
			return errors.Wrapf(errcode.Configuration, "provider %s for %s not set up", bc.Driver, role)
		}
	}

	return nil
}

// InitBoards binds all four boards and builds the manager, sync wrapper and output latch.
func (ib *IctBoard) InitBoards() error {
	if ib.providers == nil {
		return errors.Wrap(errcode.Configuration, "providers not initialised")
	}

	var boards [4]*Board
	for _, role := range Roles {
		bc := ib.Config.Boards.ForRole(role)
		b, err := NewBoard(bc.Name, role.Kind(), ib.providers[bc.Driver], bc.PortSpecs(), bc.AnalogChannels)
		if err != nil {
			return errors.Wrapf(err, "failed to init %s board", role)
		}
		boards[role] = b
	}

	manager, err := NewBoardManager(boards[RelayA], boards[RelayB], boards[Status], boards[Sensor])
	if err != nil {
		return err
	}

	ib.manager = manager
	ib.sync = NewSyncManager(manager)
	ib.latch = NewOutputLatch(ib.sync, ib.Config.Mapping)
	ib.sync.OnWrite(ib.latch.Refresh)
	return nil
}

func (ib *IctBoard) Manager() *BoardManager {
	return ib.manager
}

// Controller is the serialized entry point every front-end shares.
func (ib *IctBoard) Controller() *SyncManager {
	return ib.sync
}

func (ib *IctBoard) Latch() *OutputLatch {
	return ib.latch
}

// Close drives the outputs low and releases every provider.
func (ib *IctBoard) Close() error {
	var failed []string

	if ib.latch != nil {
		if err := ib.latch.Clear(); err != nil {
			failed = append(failed, err.Error())
		}
	}
	for _, provider := range ib.providers {
		if err := provider.Close(); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", provider, err))
		}
	}

	if len(failed) > 0 {
		return errors.Errorf("close: %s", strings.Join(failed, "; "))
	}
	return nil
}

func (ib *IctBoard) PrintIoStatus(writer io.Writer) {
	fmt.Fprintln(writer)
	fmt.Fprintln(writer, "=== active providers ===")
	for name, provider := range ib.providers {
		fmt.Fprintf(writer, "| %s ready: %v\n", name, provider.IsReady())
	}

	if ib.manager != nil {
		fmt.Fprintln(writer, "=== boards ===")
		for _, role := range Roles {
			b := ib.manager.Board(role)
			fmt.Fprintln(writer, "________")
			fmt.Fprintf(writer, "| %d %s: %s (%s board)\n", role.Index(), role, b.Name(), b.Kind())
			for _, p := range b.Ports() {
				fmt.Fprintf(writer, "| %s %s width %d", p.Name, p.Direction, p.Width)
				if last, ok := p.LastValue(); ok {
					fmt.Fprintf(writer, " last 0x%02X", last)
				}
				fmt.Fprintln(writer)
			}
			if channels := b.AnalogChannels(); len(channels) > 0 {
				fmt.Fprintf(writer, "| analog channels: %v\n", channels)
			}
			fmt.Fprintln(writer, "--------")
		}
	}
	fmt.Fprintln(writer, "-----------------------------")
	fmt.Fprintln(writer)
}
