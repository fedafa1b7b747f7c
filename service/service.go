// Package service starts every configured front end of an initialized IctBoard
// and keeps them running until the context is done.
package service

import (
	"context"
	"os"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/hubertat/ictboard"
	"github.com/hubertat/ictboard/homekit"
	"github.com/hubertat/ictboard/httpapi"
	"github.com/hubertat/ictboard/mqtt"
	"github.com/hubertat/ictboard/remote"
	"github.com/hubertat/ictboard/telemetry"
)

type Service struct {
	Version string

	ib     *ictboard.IctBoard
	logger *log.Logger
}

// New expects ib with providers and boards already initialized.
func New(ib *ictboard.IctBoard, version string) *Service {
	return &Service{
		Version: version,
		ib:      ib,
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "Service: ",
			Level:  log.GetLevel(),
		}),
	}
}

type task struct {
	name string
	run  func(ctx context.Context) error
}

// Run blocks until ctx is done or one of the tasks fails; a failing task stops the others.
func (s *Service) Run(ctx context.Context) error {
	tasks, cleanup, err := s.tasks(ctx)
	defer cleanup()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var firstErr error
	var once sync.Once

	for _, t := range tasks {
		wg.Add(1)
		go func(t task) {
			defer wg.Done()

			s.logger.Info("starting", "task", t.name)
			err := t.run(ctx)
			if err != nil && ctx.Err() == nil {
				s.logger.Error("task failed", "task", t.name, "err", err)
				once.Do(func() {
					firstErr = errors.Wrap(err, t.name)
					cancel()
				})
			}
		}(t)
	}

	wg.Wait()
	return firstErr
}

func (s *Service) tasks(ctx context.Context) (tasks []task, cleanup func(), err error) {
	cfg := s.ib.Config
	ctrl := s.ib.Controller()
	latch := s.ib.Latch()

	var closers []func()
	cleanup = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	listener, err := remote.Listen(cfg.Remote.Network, cfg.Remote.Address)
	if err != nil {
		return
	}
	closers = append(closers, func() { listener.Close() })
	server := remote.NewServer(ctrl)
	tasks = append(tasks, task{"remote", func(ctx context.Context) error {
		return server.Serve(ctx, listener)
	}})

	if len(cfg.Http.Addr) > 0 {
		api := httpapi.New(cfg.Http.Addr, cfg.Http.Token, ctrl, latch)
		tasks = append(tasks, task{"http", api.ListenAndServe})
	}

	interval, err := cfg.TelemetryInterval()
	if err != nil {
		return
	}
	sampler := telemetry.NewSampler(ctrl, latch, interval)

	if len(cfg.Influx.Host) > 0 {
		sink := telemetry.NewInfluxSink(cfg.Influx, s.ib.Name())
		closers = append(closers, sink.Close)
		sampler.AddSink(sink)
	}

	if len(cfg.Mqtt.Broker) > 0 {
		var client *mqtt.MqttClient
		client, err = mqtt.NewMqttClient(cfg.Mqtt.Broker, s.ib.Name())
		if err != nil {
			return
		}
		handlers := []mqtt.MqttHandler{
			&mqtt.BitsHandler{Topic: cfg.Mqtt.Topic, Latch: latch},
			&mqtt.SignalHandler{Topic: cfg.Mqtt.Topic, Latch: latch},
		}
		err = client.Connect(ctx, handlers)
		if err != nil {
			return
		}
		closers = append(closers, func() {
			if err := client.Disconnect(context.Background()); err != nil {
				s.logger.Warn("mqtt disconnect", "err", err)
			}
		})
		sampler.AddSink(&mqtt.StatePublisher{Topic: cfg.Mqtt.Topic, Signals: latch.Signals(), Publisher: client})
	}

	if len(cfg.Influx.Host) > 0 || len(cfg.Mqtt.Broker) > 0 {
		tasks = append(tasks, task{"telemetry", sampler.Run})
	}

	bridge := homekit.NewBridge(cfg.HomeKit, s.ib.Name(), latch)
	if bridge.Enabled() {
		tasks = append(tasks, task{"homekit", func(ctx context.Context) error {
			return bridge.ListenAndServe(ctx, s.Version)
		}})
	} else {
		s.logger.Info("HomeKit not configured, disabled")
	}

	return
}
