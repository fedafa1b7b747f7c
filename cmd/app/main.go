package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/hubertat/servicemaker"

	"github.com/hubertat/ictboard"
	"github.com/hubertat/ictboard/service"
)

var (
	Version string
	Build   string

	config      = flag.String("config", "config.toml", "path of the configuration file (toml, yaml or json)")
	flagInstall = flag.Bool("install", false, "Install service in os")
	flagDebug   = flag.Bool("debug", false, "debug logging, overrides LogLevel")

	ictService = servicemaker.ServiceMaker{
		User:               "ictboard",
		UserGroups:         []string{"gpio", "i2c", "dialout"},
		ServicePath:        "/etc/systemd/system/ictboard.service",
		ServiceDescription: "IctBoard service: 48 bit relay and sensor aggregate over four I/O boards. github.com/hubertat/ictboard",
		ExecDir:            "/srv/ictboard",
		ExecName:           "ictboard",
	}
)

func main() {
	flag.Parse()
	log.Info("ictboard started", "version", Version, "build", Build)

	if *flagInstall {
		err := ictService.InstallService()
		if err != nil {
			log.Fatal("service install failed", "err", err)
		}
		log.Info("service installed!")
		return
	}

	cfg, err := ictboard.LoadConfig(*config)
	if err != nil {
		log.Fatal("failed loading config", "path", *config, "err", err)
	}
	if len(cfg.LogLevel) > 0 {
		level, _ := log.ParseLevel(cfg.LogLevel)
		log.SetLevel(level)
	}
	if *flagDebug {
		log.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ib := ictboard.New(cfg)
	defer func() {
		if err := ib.Close(); err != nil {
			log.Warn("close", "err", err)
		}
	}()

	log.Info("will init providers...")
	if err = ib.InitProviders(ctx); err != nil {
		log.Error("providers failed", "err", err)
		return
	}
	log.Info("will init boards...")
	if err = ib.InitBoards(); err != nil {
		log.Error("boards failed", "err", err)
		return
	}

	ib.PrintIoStatus(os.Stdout)

	err = service.New(ib, Version).Run(ctx)
	if err != nil {
		log.Error("service stopped", "err", err)
		return
	}
	log.Info("ictboard stopped")
}
