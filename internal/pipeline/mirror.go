package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/evtlab/iohub/eventapi"
)

// MirrorConfig configures the optional MQTT event mirror.
type MirrorConfig struct {
	Enable      bool   `json:"enable,omitempty"`
	Broker      string `json:"broker,omitempty"`
	ClientID    string `json:"client_id,omitempty"`
	TopicPrefix string `json:"topic_prefix,omitempty"`
	QOS         byte   `json:"qos,omitempty"`
}

// Mirror republishes every delivered event as JSON on an MQTT topic per
// event type, for live dashboards watching a session from outside the
// experiment process. Publishes are fire-and-forget at the configured QoS;
// the mirror must never stall the pipeline.
type Mirror struct {
	log    *zap.Logger
	client mqtt.Client
	prefix string
	qos    byte
}

func NewMirror(log *zap.Logger, cfg MirrorConfig) (*Mirror, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt mirror requires a broker address")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "iohub-mirror"
	}
	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = "iohub/events"
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("timed out connecting to mqtt broker %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker %s: %w", cfg.Broker, err)
	}
	return &Mirror{log: log, client: client, prefix: prefix, qos: cfg.QOS}, nil
}

func (m *Mirror) HandleEvent(ev eventapi.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event %d: %w", ev.ID, err)
	}
	topic := fmt.Sprintf("%s/%s", m.prefix, ev.Type.String())
	m.client.Publish(topic, m.qos, false, payload)
	return nil
}

func (m *Mirror) Close() {
	m.client.Disconnect(250)
}
