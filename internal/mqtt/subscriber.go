package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/AaronLay10/OverlayEngine/internal/events"
	"github.com/AaronLay10/OverlayEngine/internal/model"
)

// Subscriber is the part of Client the telemetry subscriber needs.
type Subscriber interface {
	Subscribe(topic string, handler paho.MessageHandler) error
}

// Recorder persists telemetry for history charts.
type Recorder interface {
	AppendTelemetry(ctx context.Context, m *model.SensorMessage) error
}

// TelemetrySubscriber keeps the latest telemetry message per device.
// It serves as the overlay's telemetry source.
type TelemetrySubscriber struct {
	mu         sync.RWMutex
	client     Subscriber
	registry   *DeviceRegistry
	monitor    *Monitor
	recorder   Recorder
	subscribed map[string]bool // topic -> subscribed
	latest     map[string]*model.SensorMessage
}

// NewTelemetrySubscriber creates a subscriber. registry and monitor may
// be nil.
func NewTelemetrySubscriber(client Subscriber, registry *DeviceRegistry, monitor *Monitor) *TelemetrySubscriber {
	return &TelemetrySubscriber{
		client:     client,
		registry:   registry,
		monitor:    monitor,
		subscribed: make(map[string]bool),
		latest:     make(map[string]*model.SensorMessage),
	}
}

// SetRecorder stores every accepted message through r.
func (s *TelemetrySubscriber) SetRecorder(r Recorder) {
	s.mu.Lock()
	s.recorder = r
	s.mu.Unlock()
}

// SubscribeTopic subscribes to a telemetry topic, which may contain
// wildcards. This is idempotent.
func (s *TelemetrySubscriber) SubscribeTopic(topic string) error {
	return s.subscribe(topic, "")
}

// SubscribeDevice subscribes to a device's telemetry topic.
func (s *TelemetrySubscriber) SubscribeDevice(dev *RegisteredDevice) error {
	if dev.TelemetryTopic == "" {
		return nil
	}
	return s.subscribe(dev.TelemetryTopic, dev.DeviceID)
}

func (s *TelemetrySubscriber) subscribe(topic, deviceID string) error {
	s.mu.Lock()
	if s.subscribed[topic] {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.client.Subscribe(topic, s.createHandler(deviceID)); err != nil {
		return err
	}

	s.mu.Lock()
	s.subscribed[topic] = true
	s.mu.Unlock()
	return nil
}

// SubscribeAll subscribes to all devices in the registry.
func (s *TelemetrySubscriber) SubscribeAll() error {
	if s.registry == nil {
		return nil
	}
	for _, dev := range s.registry.All() {
		if err := s.SubscribeDevice(dev); err != nil {
			events.Emit("error", "device.error", "failed to subscribe to device telemetry", map[string]interface{}{
				"device_id": dev.DeviceID,
				"topic":     dev.TelemetryTopic,
				"error":     err.Error(),
			})
		}
	}
	return nil
}

// deviceFromTopic takes the segment after "devices/" as the device id.
func deviceFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "devices" {
			return parts[i+1]
		}
	}
	return ""
}

func (s *TelemetrySubscriber) createHandler(deviceID string) paho.MessageHandler {
	return func(client paho.Client, msg paho.Message) {
		var m model.SensorMessage
		if err := json.Unmarshal(msg.Payload(), &m); err != nil {
			events.Emit("warning", "device.error", "invalid telemetry payload", map[string]interface{}{
				"topic": msg.Topic(),
				"error": err.Error(),
			})
			return
		}
		if m.DeviceID == "" {
			m.DeviceID = deviceID
		}
		if m.DeviceID == "" {
			m.DeviceID = deviceFromTopic(msg.Topic())
		}
		if m.DeviceID == "" {
			return
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = time.Now().UTC()
		}
		s.store(&m)
	}
}

func (s *TelemetrySubscriber) store(m *model.SensorMessage) {
	s.mu.Lock()
	if cur, ok := s.latest[m.DeviceID]; ok && cur.Timestamp.After(m.Timestamp) {
		s.mu.Unlock()
		return
	}
	s.latest[m.DeviceID] = m
	rec := s.recorder
	s.mu.Unlock()

	if s.monitor != nil {
		s.monitor.Seen(m.DeviceID)
	}
	if rec != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := rec.AppendTelemetry(ctx, m); err != nil {
			events.Emit("warning", "telemetry.error", "failed to record telemetry", map[string]interface{}{
				"device_id": m.DeviceID,
				"error":     err.Error(),
			})
		}
	}
}

// Latest returns a copy of the newest message for deviceID, or nil when
// none has arrived.
func (s *TelemetrySubscriber) Latest(ctx context.Context, deviceID string) (*model.SensorMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.latest[deviceID]
	if !ok {
		return nil, nil
	}
	cpy := *m
	cpy.Values = make(map[string]float64, len(m.Values))
	for k, v := range m.Values {
		cpy.Values[k] = v
	}
	return &cpy, nil
}

// IsSubscribed returns true if the topic is already subscribed.
func (s *TelemetrySubscriber) IsSubscribed(topic string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscribed[topic]
}

// SubscribedTopics returns a list of all subscribed topics.
func (s *TelemetrySubscriber) SubscribedTopics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	topics := make([]string, 0, len(s.subscribed))
	for topic := range s.subscribed {
		topics = append(topics, topic)
	}
	return topics
}

// ClearSubscriptions clears the subscription tracking.
// Call this on disconnect to allow re-subscription on reconnect.
func (s *TelemetrySubscriber) ClearSubscriptions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = make(map[string]bool)
}
