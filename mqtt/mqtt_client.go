package mqtt

import (
	"context"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/pkg/errors"
)

const subscribeTimeoutSeconds = 15
const connectionTimeoutSeconds = 5
const publishTimeoutSeconds = 4

type MqttHandler interface {
	MqttHandle(pub *paho.Publish)
	MqttSubscribeTopic() string
}

type Publisher interface {
	Publish(topic string, payload []byte) error
}

type MqttClient struct {
	config   autopaho.ClientConfig
	conn     *autopaho.ConnectionManager
	logger   *log.Logger
	handlers []MqttHandler
	lock     sync.RWMutex
}

func (mc *MqttClient) Publish(topic string, payload []byte) (err error) {
	if mc.conn == nil {
		return errors.New("mqtt not connected")
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeoutSeconds*time.Second)
	defer cancel()

	_, err = mc.conn.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     1,
		Payload: payload,
	})
	return
}

func (mc *MqttClient) topics() (topics []string) {
	mc.lock.RLock()
	defer mc.lock.RUnlock()

	for _, h := range mc.handlers {
		topics = append(topics, h.MqttSubscribeTopic())
	}
	return
}

func (mc *MqttClient) onConnUp(cm *autopaho.ConnectionManager, connAck *paho.Connack) {
	mc.logger.Info("Connected to MQTT broker")

	subs := []paho.SubscribeOptions{}
	for _, topic := range mc.topics() {
		subs = append(subs, paho.SubscribeOptions{
			QoS:   1,
			Topic: topic,
		})
	}
	if len(subs) == 0 {
		return
	}

	mc.logger.Debug("subscribing mqtt", "subs", subs)

	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeoutSeconds*time.Second)
	defer cancel()

	_, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: subs,
	})
	if err != nil {
		mc.logger.Error("Failed to subscribe to topics", "err", err)
	}
}

func (mc *MqttClient) onConnError(err error) {
	mc.logger.Error("Received Mqtt connection error", "err", err)
}

func (mc *MqttClient) onSrvDisconnect(d *paho.Disconnect) {
	mc.logger.Info("Disconnected from MQTT broker")
}

// route hands pub to every handler whose subscription matches its topic.
func (mc *MqttClient) route(pub *paho.Publish) bool {
	mc.lock.RLock()
	defer mc.lock.RUnlock()

	handled := false
	for _, h := range mc.handlers {
		if MatchTopic(h.MqttSubscribeTopic(), pub.Topic) {
			h.MqttHandle(pub)
			handled = true
		}
	}
	if !handled {
		mc.logger.Debug("no handler", "topic", pub.Topic)
	}
	return handled
}

func (mc *MqttClient) onPublishRecv() []func(paho.PublishReceived) (bool, error) {
	return []func(paho.PublishReceived) (bool, error){
		func(pr paho.PublishReceived) (bool, error) {
			mc.logger.Debug("received message", "topic", pr.Packet.Topic, "payload", string(pr.Packet.Payload), "retain", pr.Packet.Retain)
			return mc.route(pr.Packet), nil
		},
	}
}

func (mc *MqttClient) Connect(ctx context.Context, handlers []MqttHandler) error {
	mc.lock.Lock()
	mc.handlers = handlers
	mc.lock.Unlock()

	cm, err := autopaho.NewConnection(ctx, mc.config)
	if err != nil {
		return errors.Wrap(err, "mqtt connection")
	}
	mc.conn = cm

	awaitCtx, cancel := context.WithTimeout(ctx, connectionTimeoutSeconds*time.Second)
	defer cancel()

	err = cm.AwaitConnection(awaitCtx)
	if err != nil {
		return errors.Wrap(err, "mqtt await connection")
	}
	return nil
}

func (mc *MqttClient) Disconnect(ctx context.Context) error {
	mc.lock.Lock()
	mc.handlers = nil
	mc.lock.Unlock()

	if mc.conn == nil {
		return nil
	}
	return mc.conn.Disconnect(ctx)
}

func NewMqttClient(broker string, clientId string) (mc *MqttClient, err error) {
	addr, err := url.Parse(broker)
	if err != nil {
		err = errors.Wrapf(err, "invalid broker url %s", broker)
		return
	}

	mc = &MqttClient{
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "MqttClient: ",
			Level:  log.GetLevel(),
		}),
	}

	mc.config = autopaho.ClientConfig{
		ServerUrls:            []*url.URL{addr},
		KeepAlive:             20,
		SessionExpiryInterval: 60,
		OnConnectionUp:        mc.onConnUp,
		OnConnectError:        mc.onConnError,
		ClientConfig: paho.ClientConfig{
			ClientID:           clientId,
			OnClientError:      mc.onConnError,
			OnServerDisconnect: mc.onSrvDisconnect,
			OnPublishReceived:  mc.onPublishRecv(),
		},
	}

	return
}

// MatchTopic reports whether topic matches an MQTT subscription filter with + and # wildcards.
func MatchTopic(filter, topic string) bool {
	fParts := strings.Split(filter, "/")
	tParts := strings.Split(topic, "/")

	for i, f := range fParts {
		if f == "#" {
			return true
		}
		if i >= len(tParts) {
			return false
		}
		if f != "+" && f != tParts[i] {
			return false
		}
	}
	return len(fParts) == len(tParts)
}
