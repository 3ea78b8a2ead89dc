package broker

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/minio/highwayhash"

	"github.com/Buchi-dev/puretrack/internal/logging"
	"github.com/Buchi-dev/puretrack/internal/metrics"
	"github.com/Buchi-dev/puretrack/internal/models"
)

// SensorPayload is the inbound wire shape on device/sensordata/+.
type SensorPayload struct {
	PH            *float64 `json:"pH,omitempty"`
	PHValid       bool     `json:"pH_valid,omitempty"`
	Turbidity     *float64 `json:"turbidity,omitempty"`
	TurbidityValid bool    `json:"turbidity_valid,omitempty"`
	TDS           *float64 `json:"tds,omitempty"`
	TDSValid      bool     `json:"tds_valid,omitempty"`
	TimestampMS   int64    `json:"timestamp,omitempty"`
}

// RegistrationPayload is the inbound wire shape on device/registration/+.
type RegistrationPayload struct {
	Name            string   `json:"name"`
	Type            string   `json:"type"`
	FirmwareVersion string   `json:"firmwareVersion,omitempty"`
	MACAddress      string   `json:"macAddress,omitempty"`
	IPAddress       string   `json:"ipAddress,omitempty"`
	Sensors         []string `json:"sensors,omitempty"`
}

// StatusPayload is the inbound wire shape on device/status/+.
type StatusPayload struct {
	Status string `json:"status"`
}

// ReadingIngester is the C1 seam the bridge calls for each sensor message.
type ReadingIngester interface {
	Insert(ctx context.Context, rd *models.Reading) error
}

// DeviceRegistry is the C2 seam the bridge calls for registration/presence.
type DeviceRegistry interface {
	AutoRegister(ctx context.Context, d *models.Device) (*models.Device, error)
	UpdateHeartbeat(ctx context.Context, deviceID string) error
	UpdateLastSeenOnly(ctx context.Context, deviceID string) error
	UpdateDeviceStatus(ctx context.Context, deviceID string, status models.DeviceStatus) error
}

// AlertEvaluator is the C3 seam the bridge calls after every sensor message.
type AlertEvaluator interface {
	Evaluate(ctx context.Context, deviceID string, reading *models.Reading) ([]*models.Alert, error)
}

// ReadingEmitter fans a successfully-ingested reading out to C5. A nil
// emitter is a valid no-op configuration.
type ReadingEmitter interface {
	BroadcastReading(reading *models.Reading)
}

// Bridge implements C4: it owns a Transport, subscribes to the device topic
// family, and routes each inbound message to C1/C2/C3 via a per-device
// striped worker pool so messages for one device are always processed in
// arrival order while different devices proceed concurrently — the same
// "shard owns its key range" idea as a consumer-shard pool, scaled down to
// an in-process goroutine-per-stripe.
type Bridge struct {
	transport Transport
	readings  ReadingIngester
	registry  DeviceRegistry
	alerts    AlertEvaluator
	emitter   ReadingEmitter

	stripes    []chan Message
	stripeDone chan struct{}

	messageDeadline time.Duration
}

// NewBridge builds a Bridge with the given stripe count (worker goroutines).
// A nil emitter disables the realtime reading push.
func NewBridge(transport Transport, readings ReadingIngester, registry DeviceRegistry, alerts AlertEvaluator, emitter ReadingEmitter, stripeCount int) *Bridge {
	if stripeCount < 1 {
		stripeCount = 8
	}
	b := &Bridge{
		transport:       transport,
		readings:        readings,
		registry:        registry,
		alerts:          alerts,
		emitter:         emitter,
		stripes:         make([]chan Message, stripeCount),
		stripeDone:      make(chan struct{}),
		messageDeadline: 10 * time.Second,
	}
	for i := range b.stripes {
		b.stripes[i] = make(chan Message, 256)
	}
	return b
}

// Start connects the transport, subscribes to every inbound topic family,
// and launches one worker goroutine per stripe.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.transport.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}
	for _, topic := range []string{TopicRegistration, TopicSensorData, TopicStatus} {
		if err := b.transport.Subscribe(ctx, topic, b.enqueue); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}
	for i := range b.stripes {
		go b.worker(ctx, b.stripes[i])
	}
	return nil
}

// Stop signals every stripe worker to exit and disconnects the transport.
// It does not wait for workers to return, and messages still queued in a
// stripe are not processed.
func (b *Bridge) Stop(ctx context.Context) error {
	close(b.stripeDone)
	return b.transport.Disconnect(ctx)
}

// enqueue routes an inbound message to the stripe owning its deviceId,
// dropping (and counting as failed) if the stripe's buffer is full rather
// than blocking the transport's read loop.
func (b *Bridge) enqueue(msg Message) {
	deviceID := deviceIDFromTopic(msg.Topic)
	stripe := b.stripes[stripeIndex(deviceID, len(b.stripes))]
	select {
	case stripe <- msg:
	default:
		metrics.BridgeFailed.WithLabelValues(topicFamily(msg.Topic), "stripe_full").Inc()
	}
}

func (b *Bridge) worker(ctx context.Context, in chan Message) {
	for {
		select {
		case <-b.stripeDone:
			return
		case msg := <-in:
			b.process(ctx, msg)
		}
	}
}

func (b *Bridge) process(ctx context.Context, msg Message) {
	family := topicFamily(msg.Topic)
	metrics.BridgeReceived.WithLabelValues(family).Inc()

	deadlineCtx, cancel := context.WithTimeout(ctx, b.messageDeadline)
	defer cancel()

	var err error
	switch family {
	case "sensordata":
		err = b.processSensorData(deadlineCtx, msg)
	case "registration":
		err = b.processRegistration(deadlineCtx, msg)
	case "status":
		err = b.processStatus(deadlineCtx, msg)
	default:
		err = fmt.Errorf("unrouted topic family %q", family)
	}

	if err != nil {
		metrics.BridgeFailed.WithLabelValues(family, "processing_error").Inc()
		logging.Component("broker-bridge").WithError(err).WithField("topic", msg.Topic).Warn("message processing failed")
	}
}

// processSensorData assembles a Reading and calls C1.insert, C2.updateLastSeenOnly,
// and C3.evaluate concurrently, acknowledging only once all three return or
// the message deadline elapses.
func (b *Bridge) processSensorData(ctx context.Context, msg Message) error {
	deviceID := deviceIDFromTopic(msg.Topic)
	var payload SensorPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("parsing sensor payload: %w", err)
	}

	reading := &models.Reading{
		DeviceID:    deviceID,
		PH:          payload.PH,
		PHValid:     payload.PHValid,
		Turbidity:   payload.Turbidity,
		TurbidValid: payload.TurbidityValid,
		TDS:         payload.TDS,
		TDSValid:    payload.TDSValid,
	}
	if payload.TimestampMS > 0 {
		reading.Timestamp = time.UnixMilli(payload.TimestampMS).UTC()
	} else {
		reading.Timestamp = time.Now().UTC()
	}

	type result struct{ err error }
	results := make(chan result, 3)

	go func() { results <- result{b.readings.Insert(ctx, reading)} }()
	go func() { results <- result{b.registry.UpdateLastSeenOnly(ctx, deviceID)} }()
	go func() {
		_, err := b.alerts.Evaluate(ctx, deviceID, reading)
		results <- result{err}
	}()

	var firstErr error
	for i := 0; i < 3; i++ {
		select {
		case r := <-results:
			if r.err != nil && firstErr == nil {
				firstErr = r.err
			}
		case <-ctx.Done():
			return fmt.Errorf("sensor data processing deadline exceeded: %w", ctx.Err())
		}
	}
	if firstErr == nil && b.emitter != nil {
		b.emitter.BroadcastReading(reading)
	}
	return firstErr
}

// processRegistration calls C2.autoRegister, then C2.updateHeartbeat on success.
func (b *Bridge) processRegistration(ctx context.Context, msg Message) error {
	deviceID := deviceIDFromTopic(msg.Topic)
	var payload RegistrationPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("parsing registration payload: %w", err)
	}

	_, err := b.registry.AutoRegister(ctx, &models.Device{
		DeviceID:        deviceID,
		Name:            payload.Name,
		Type:            payload.Type,
		FirmwareVersion: payload.FirmwareVersion,
		MACAddress:      payload.MACAddress,
		IPAddress:       payload.IPAddress,
		Sensors:         payload.Sensors,
	})
	if err != nil {
		return fmt.Errorf("auto-registering device: %w", err)
	}
	return b.registry.UpdateHeartbeat(ctx, deviceID)
}

// processStatus calls C2.updateHeartbeat when online, else updateDeviceStatus(offline).
func (b *Bridge) processStatus(ctx context.Context, msg Message) error {
	deviceID := deviceIDFromTopic(msg.Topic)
	var payload StatusPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("parsing status payload: %w", err)
	}

	if models.DeviceStatus(payload.Status) == models.DeviceOnline {
		return b.registry.UpdateHeartbeat(ctx, deviceID)
	}
	return b.registry.UpdateDeviceStatus(ctx, deviceID, models.DeviceOffline)
}

// deviceIDFromTopic extracts the trailing segment of a device-scoped topic,
// which is the deviceId.
func deviceIDFromTopic(topic string) string {
	for i := len(topic) - 1; i >= 0; i-- {
		if topic[i] == '/' {
			return topic[i+1:]
		}
	}
	return topic
}

// stripeHashKey is HighwayHash's required fixed 32-byte key. Any constant
// value is fine since this hash is used only to pick a partition, never as a
// security boundary.
var stripeHashKey, _ = hex.DecodeString("ba737e89155238d47d8067c35aad4d25ecdd1c3488227e011ffa480c022bd3ba")

// stripeIndex hashes deviceId to a stable stripe, giving per-device ordering
// without a single global sequence.
func stripeIndex(deviceID string, stripes int) int {
	sum := highwayhash.Sum64([]byte(deviceID), stripeHashKey)
	return int(uint32(sum>>32)) % stripes
}
