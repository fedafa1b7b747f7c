// Package telemetry samples the aggregate interface periodically and fans the
// samples out to sinks (InfluxDB, MQTT).
package telemetry

import (
	"context"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/hubertat/ictboard"
)

// Snapshot is one sample. When Err is set the other values are zero.
type Snapshot struct {
	Time     time.Time
	Inputs   ictboard.AggregateBits
	Outputs  ictboard.AggregateBits
	Voltages ictboard.Voltages
	Err      error
}

type Sink interface {
	String() string
	Push(ctx context.Context, snap Snapshot) error
}

type Sampler struct {
	Interval time.Duration

	ctrl  ictboard.Controller
	latch *ictboard.OutputLatch
	sinks []Sink
	now   func() time.Time

	logger *log.Logger
}

// NewSampler samples ctrl every interval. latch may be nil, then Outputs stays zero.
func NewSampler(ctrl ictboard.Controller, latch *ictboard.OutputLatch, interval time.Duration, sinks ...Sink) *Sampler {
	return &Sampler{
		Interval: interval,
		ctrl:     ctrl,
		latch:    latch,
		sinks:    sinks,
		now:      time.Now,
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "Sampler: ",
			Level:  log.GetLevel(),
		}),
	}
}

func (s *Sampler) AddSink(sink Sink) {
	s.sinks = append(s.sinks, sink)
}

// Sample reads inputs and voltages. A failure of either fails the whole sample.
func (s *Sampler) Sample() Snapshot {
	snap := Snapshot{Time: s.now()}

	inputs, err := s.ctrl.GetBits()
	if err != nil {
		snap.Err = errors.Wrap(err, "sample inputs")
		return snap
	}
	voltages, err := s.ctrl.GetVoltages()
	if err != nil {
		snap.Err = errors.Wrap(err, "sample voltages")
		return snap
	}

	snap.Inputs = inputs
	snap.Voltages = voltages
	if s.latch != nil {
		snap.Outputs = s.latch.State()
	}
	return snap
}

// Publish delivers snap to every sink. Sink errors are logged, not returned.
func (s *Sampler) Publish(ctx context.Context, snap Snapshot) {
	for _, sink := range s.sinks {
		if err := sink.Push(ctx, snap); err != nil {
			s.logger.Warn("push failed", "sink", sink.String(), "err", err)
		}
	}
}

// Run samples and publishes until ctx is done.
func (s *Sampler) Run(ctx context.Context) error {
	if s.Interval <= 0 {
		return errors.Errorf("sampler interval %s must be positive", s.Interval)
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			snap := s.Sample()
			if snap.Err != nil {
				s.logger.Warn("sample failed", "err", snap.Err)
			}
			s.Publish(ctx, snap)
		}
	}
}
