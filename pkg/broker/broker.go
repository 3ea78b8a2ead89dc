// Package broker defines the transport seam C4 is built against. No MQTT
// client exists anywhere in the retrieved corpus, so the bridge depends only
// on this interface — the same shape the teacher uses for its own broker
// client, injected into consumers rather than a concrete socket type.
package broker

import "context"

// Topic families, per the wire contract. Device-scoped topics have their
// trailing segment substituted with a deviceId by the caller.
const (
	TopicRegistration     = "device/registration/+"
	TopicSensorData       = "device/sensordata/+"
	TopicStatus           = "device/status/+"
	TopicDiscoveryRequest = "device/discovery/request"
	TopicCommandPrefix    = "device/command/"
)

// CommandTopic returns the per-device outbound command topic.
func CommandTopic(deviceID string) string { return TopicCommandPrefix + deviceID }

// QoS mirrors the broker's delivery guarantee levels; PureTrack only ever
// publishes at QoS 1 (at-least-once).
type QoS int

const QoS1 QoS = 1

// Message is one inbound delivery, already demultiplexed by topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Publisher is the narrow outbound seam C2's sendCommand and approve/recover
// best-effort publishes depend on, so the device registry never imports a
// concrete transport.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, qos QoS) error
}

// Transport is the full seam C4 drives: connection lifecycle plus publish
// and subscribe. Both pkg/broker/inproc and pkg/broker/mqtt implement it.
type Transport interface {
	Publisher
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Subscribe(ctx context.Context, topic string, handler func(Message)) error
	Connected() bool
}
