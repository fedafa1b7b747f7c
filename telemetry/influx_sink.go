package telemetry

import (
	"context"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/pkg/errors"

	"github.com/hubertat/ictboard"
)

const influxSinkName = "influx"

// InfluxSink writes every successful snapshot as one point. Failed samples are skipped.
type InfluxSink struct {
	Host         string
	Token        string
	Organization string
	Bucket       string
	Measurement  string
	System       string

	client   influxdb2.Client
	writeApi api.WriteAPIBlocking
}

func NewInfluxSink(cfg ictboard.InfluxConfig, system string) *InfluxSink {
	is := &InfluxSink{
		Host:         cfg.Host,
		Token:        cfg.Token,
		Organization: cfg.Organization,
		Bucket:       cfg.Bucket,
		Measurement:  cfg.Measurement,
		System:       system,
	}
	is.client = influxdb2.NewClient(is.Host, is.Token)
	is.writeApi = is.client.WriteAPIBlocking(is.Organization, is.Bucket)
	return is
}

func (is *InfluxSink) String() string {
	return influxSinkName
}

func (is *InfluxSink) point(snap Snapshot) *write.Point {
	return influxdb2.NewPoint(
		is.Measurement,
		map[string]string{"system": is.System},
		map[string]interface{}{
			"inputs":  int64(snap.Inputs),
			"outputs": int64(snap.Outputs),
			"v1":      snap.Voltages[0],
			"v2":      snap.Voltages[1],
		},
		snap.Time,
	)
}

func (is *InfluxSink) Push(ctx context.Context, snap Snapshot) error {
	if snap.Err != nil {
		return nil
	}
	if err := is.writeApi.WritePoint(ctx, is.point(snap)); err != nil {
		return errors.Wrap(err, "failed to write point to influx")
	}
	return nil
}

func (is *InfluxSink) Close() {
	is.client.Close()
}
