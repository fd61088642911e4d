package telemetry

import (
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// Publisher is the part of an MQTT client the sink needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes each value to <prefix>/<key>. Publishing never waits for the broker;
// a failed delivery is only logged.
type MQTT struct {
	client Publisher
	prefix string
	logger logging.Logger
}

// NewMQTT returns a sink publishing through client under prefix.
func NewMQTT(client Publisher, prefix string, logger logging.Logger) *MQTT {
	return &MQTT{client: client, prefix: prefix, logger: logger}
}

// PutNumber publishes value at QoS 0.
func (m *MQTT) PutNumber(key string, value float64) {
	topic := key
	if m.prefix != "" {
		topic = m.prefix + "/" + key
	}
	token := m.client.Publish(topic, 0, false, strconv.FormatFloat(value, 'f', -1, 64))
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			m.logger.Warnw("telemetry publish failed", "topic", topic, "error", err)
		}
	}()
}

// DialMQTT connects to broker (for example tcp://localhost:1883), giving up after
// timeout. The client reconnects on its own once connected.
func DialMQTT(broker, clientID string, timeout time.Duration, logger logging.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		logger.Infow("connected to MQTT broker", "broker", broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warnw("MQTT connection lost", "broker", broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		client.Disconnect(0)
		return nil, errors.Errorf("timed out connecting to MQTT broker %s", broker)
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrapf(err, "connecting to MQTT broker %s", broker)
	}
	return client, nil
}
