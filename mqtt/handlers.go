package mqtt

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/eclipse/paho.golang/paho"
	"github.com/pkg/errors"

	"github.com/hubertat/ictboard"
	"github.com/hubertat/ictboard/errcode"
	"github.com/hubertat/ictboard/telemetry"
)

func handlerLogger() *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{
		Prefix: "MqttHandler: ",
		Level:  log.GetLevel(),
	})
}

// BitsHandler applies a whole output word published to <topic>/bits/set.
type BitsHandler struct {
	Topic string
	Latch *ictboard.OutputLatch
}

func (bh *BitsHandler) MqttSubscribeTopic() string {
	return bh.Topic + "/bits/set"
}

func (bh *BitsHandler) MqttHandle(pub *paho.Publish) {
	if err := bh.Handle(pub.Payload); err != nil {
		handlerLogger().Warn("set bits failed", "topic", pub.Topic, "err", err)
	}
}

func (bh *BitsHandler) Handle(payload []byte) error {
	bits, err := ictboard.ParseAggregateBits(string(payload))
	if err != nil {
		return errcode.Wrap(err, errcode.Protocol, "bits payload")
	}
	return bh.Latch.Apply(bits)
}

// SignalHandler switches one labelled output from <topic>/signal/<label>/set with on, off or toggle.
type SignalHandler struct {
	Topic string
	Latch *ictboard.OutputLatch
}

func (sh *SignalHandler) MqttSubscribeTopic() string {
	return sh.Topic + "/signal/+/set"
}

func (sh *SignalHandler) MqttHandle(pub *paho.Publish) {
	if err := sh.Handle(pub.Topic, pub.Payload); err != nil {
		handlerLogger().Warn("set signal failed", "topic", pub.Topic, "err", err)
	}
}

func (sh *SignalHandler) Handle(topic string, payload []byte) error {
	label := strings.TrimSuffix(strings.TrimPrefix(topic, sh.Topic+"/signal/"), "/set")
	if len(label) == 0 || strings.Contains(label, "/") {
		return errors.Wrapf(errcode.Protocol, "no signal label in topic %s", topic)
	}

	switch strings.ToLower(strings.TrimSpace(string(payload))) {
	case "on", "1", "true":
		return sh.Latch.Set(label, true)
	case "off", "0", "false":
		return sh.Latch.Set(label, false)
	case "toggle":
		_, err := sh.Latch.Toggle(label)
		return err
	}
	return errors.Wrapf(errcode.Protocol, "unrecognized signal state %q", payload)
}

// StateMessage is the JSON body published to <topic>/state.
type StateMessage struct {
	Time    time.Time       `json:"time"`
	Inputs  uint64          `json:"inputs"`
	Outputs uint64          `json:"outputs"`
	V1      float64         `json:"v1"`
	V2      float64         `json:"v2"`
	Signals map[string]bool `json:"signals,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// StatePublisher is a telemetry sink publishing every snapshot to <topic>/state.
type StatePublisher struct {
	Topic     string
	Signals   *ictboard.SignalMap
	Publisher Publisher
}

func (sp *StatePublisher) String() string {
	return "mqtt"
}

func (sp *StatePublisher) message(snap telemetry.Snapshot) StateMessage {
	msg := StateMessage{Time: snap.Time}
	if snap.Err != nil {
		msg.Error = snap.Err.Error()
		return msg
	}

	msg.Inputs = uint64(snap.Inputs)
	msg.Outputs = uint64(snap.Outputs)
	msg.V1, msg.V2 = snap.Voltages[0], snap.Voltages[1]

	if sp.Signals != nil {
		msg.Signals = make(map[string]bool)
		for _, s := range sp.Signals.DecodeInputs(snap.Inputs) {
			msg.Signals[s.Label] = s.On
		}
		for _, s := range sp.Signals.DecodeOutputs(snap.Outputs) {
			msg.Signals[s.Label] = s.On
		}
	}
	return msg
}

func (sp *StatePublisher) Push(ctx context.Context, snap telemetry.Snapshot) error {
	payload, err := json.Marshal(sp.message(snap))
	if err != nil {
		return errors.Wrap(err, "encode state")
	}
	return sp.Publisher.Publish(sp.Topic+"/state", payload)
}
