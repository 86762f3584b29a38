package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/BorikGor/ESEProject/internal/config"
	"github.com/BorikGor/ESEProject/internal/types"
)

// MQTTEmitter publishes plate events and status snapshots to an MQTT broker.
type MQTTEmitter struct {
	cfg    *config.Config
	Client mqtt.Client

	topicPlates string
	topicStatus string

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	connected bool
}

// plateMessage is the wire payload for plate transitions.
type plateMessage struct {
	InstanceID string    `json:"instance_id"`
	Event      string    `json:"event"` // resolved, cleared
	Plate      string    `json:"plate"`
	FrameSeq   uint64    `json:"frame_seq"`
	TraceID    string    `json:"trace_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewMQTTEmitter creates a new MQTT emitter.
func NewMQTTEmitter(cfg *config.Config) *MQTTEmitter {
	return &MQTTEmitter{
		cfg:         cfg,
		topicPlates: fmt.Sprintf("%s/plates/%s", cfg.MQTT.TopicPrefix, cfg.InstanceID),
		topicStatus: fmt.Sprintf("%s/status/%s", cfg.MQTT.TopicPrefix, cfg.InstanceID),
		published:   make(map[string]uint64),
	}
}

// Connect establishes connection to the MQTT broker.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(e.cfg.MQTT.Broker)
	opts.SetClientID(e.cfg.MQTT.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.mu.Lock()
		e.connected = true
		e.mu.Unlock()
		slog.Info("mqtt connection established",
			"broker", e.cfg.MQTT.Broker,
			"client_id", e.cfg.MQTT.ClientID,
			"auto_reconnect", "enabled")
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.mu.Lock()
		e.connected = false
		e.mu.Unlock()
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.MQTT.Broker,
			"max_retry_interval", "30s")
	}

	e.Client = mqtt.NewClient(opts)

	slog.Info("connecting to mqtt broker", "broker", e.cfg.MQTT.Broker)

	token := e.Client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.mu.Lock()
	e.connected = true
	e.mu.Unlock()

	return nil
}

// PlateResolved publishes a newly stabilized plate.
func (e *MQTTEmitter) PlateResolved(event types.PlateEvent) error {
	return e.publishPlate(plateMessage{
		InstanceID: event.InstanceID,
		Event:      "resolved",
		Plate:      event.Plate,
		FrameSeq:   event.FrameSeq,
		TraceID:    event.TraceID,
		Timestamp:  event.Timestamp,
	})
}

// PlateCleared publishes the loss of a previously stable plate. The
// event's Plate names the plate that was lost.
func (e *MQTTEmitter) PlateCleared(event types.PlateEvent) error {
	return e.publishPlate(plateMessage{
		InstanceID: event.InstanceID,
		Event:      "cleared",
		Plate:      event.Plate,
		FrameSeq:   event.FrameSeq,
		TraceID:    event.TraceID,
		Timestamp:  event.Timestamp,
	})
}

func (e *MQTTEmitter) publishPlate(msg plateMessage) error {
	if !e.isConnected() {
		e.recordError()
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		e.recordError()
		return fmt.Errorf("failed to marshal plate event: %w", err)
	}

	token := e.Client.Publish(e.topicPlates, e.cfg.MQTT.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.recordError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.recordError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[e.topicPlates]++
	e.mu.Unlock()

	slog.Debug("plate event published",
		"topic", e.topicPlates,
		"event", msg.Event,
		"plate", msg.Plate,
		"size", len(payload),
	)

	return nil
}

// PublishStatus publishes a pipeline status snapshot. Status is telemetry,
// so it goes out at QoS 0 regardless of the configured event QoS.
func (e *MQTTEmitter) PublishStatus(status types.PipelineStatus) error {
	if !e.isConnected() {
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	token := e.Client.Publish(e.topicStatus, 0, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return err
	}

	e.mu.Lock()
	e.published[e.topicStatus]++
	e.mu.Unlock()

	return nil
}

// Disconnect closes the MQTT connection.
func (e *MQTTEmitter) Disconnect() error {
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250) // 250ms grace period
		slog.Info("mqtt disconnected")
	}

	e.mu.Lock()
	e.connected = false
	e.mu.Unlock()

	return nil
}

// Stats returns emitter statistics.
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64)
	for k, v := range e.published {
		published[k] = v
	}

	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
	}
}

// Stats contains emitter statistics.
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) recordError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
