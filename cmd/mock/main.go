package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/hubertat/ictboard"
	"github.com/hubertat/ictboard/drivers"
	"github.com/hubertat/ictboard/service"
)

var (
	Version string
	Build   string

	address = flag.String("address", "127.0.0.1:7010", "remote protocol tcp address")
	httpApi = flag.String("http", "127.0.0.1:7080", "http api address, empty disables")
	hkPin   = flag.String("pin", "88008800", "HomeKit pin, empty disables")
	mapping = flag.String("mapping", "", "optional signal mapping file")
)

// mock runs the whole service over in-memory boards, should work on any os.
func main() {
	flag.Parse()
	log.SetLevel(log.DebugLevel)
	log.Info("ictboard mock instance for testing purposes", "version", Version)

	mp := &drivers.MockProvider{}
	mp.MonitorStateChanges(os.Stdout)

	cfg := &ictboard.Config{
		Name:        "ictboard-mock",
		Mock:        mp,
		Remote:      ictboard.RemoteConfig{Network: "tcp", Address: *address},
		Http:        ictboard.HttpConfig{Addr: *httpApi},
		HomeKit:     ictboard.HomeKitConfig{Pin: *hkPin, Directory: "./mock_homekit"},
		MappingFile: *mapping,
	}
	if len(cfg.MappingFile) > 0 {
		signals, err := ictboard.LoadSignalMap(cfg.MappingFile)
		if err != nil {
			log.Fatal("mapping", "err", err)
		}
		cfg.Mapping = signals
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		log.Fatal("config", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ib := ictboard.New(cfg)
	defer ib.Close()

	if err := ib.InitProviders(ctx); err != nil {
		log.Fatal("providers", "err", err)
	}
	if err := ib.InitBoards(); err != nil {
		log.Fatal("boards", "err", err)
	}

	ib.PrintIoStatus(os.Stdout)

	if err := service.New(ib, "mock: "+Version).Run(ctx); err != nil {
		log.Error("service stopped", "err", err)
	}
}
