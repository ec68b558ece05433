package events

import (
	"context"
	"time"

	"github.com/nerrad567/microcoaster-core/internal/infrastructure/logging"
	"github.com/nerrad567/microcoaster-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/microcoaster-core/internal/presence"
)

// MQTTPublisher is the subset of *mqtt.Client used by the mirror.
type MQTTPublisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// TelemetryWriter is the subset of *influxdb.Client used by the mirror.
type TelemetryWriter interface {
	WriteTelemetry(moduleID, moduleType string, sample map[string]any, at time.Time)
	WritePresence(moduleID, moduleType string, online bool, at time.Time)
	WriteFleetStats(online, known, clients int)
}

type mirrorKind int

const (
	mirrorPresence mirrorKind = iota
	mirrorTelemetry
	mirrorAck
	mirrorStats
)

type mirrorEntry struct {
	kind  mirrorKind
	state presence.DeviceState
	data  map[string]any
	stats StatsSnapshot
}

// presenceMessage is the retained MQTT presence payload.
type presenceMessage struct {
	ModuleID   string    `json:"module_id"`
	ModuleType string    `json:"module_type"`
	Online     bool      `json:"online"`
	LastSeen   time.Time `json:"last_seen"`
}

// telemetryMessage is the MQTT telemetry and ack payload.
type telemetryMessage struct {
	ModuleID  string         `json:"module_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// mirror republishes events to MQTT and InfluxDB from a single goroutine.
type mirror struct {
	queue  chan mirrorEntry
	mqtt   MQTTPublisher
	influx TelemetryWriter
	topics mqtt.Topics
	logger *logging.Logger
}

func newMirror(buffer int, pub MQTTPublisher, writer TelemetryWriter, logger *logging.Logger) *mirror {
	return &mirror{
		queue:  make(chan mirrorEntry, buffer),
		mqtt:   pub,
		influx: writer,
		logger: logger,
	}
}

// enqueue never blocks; a full queue drops the entry.
func (m *mirror) enqueue(e mirrorEntry) {
	select {
	case m.queue <- e:
	default:
		m.logger.Warn("mirror queue full, dropping entry", "device_id", e.state.DeviceID, "kind", int(e.kind))
	}
}

// run publishes entries until ctx is cancelled, then flushes whatever is
// still queued.
func (m *mirror) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.drain()
			return
		case e := <-m.queue:
			m.publish(e)
		}
	}
}

func (m *mirror) drain() {
	for {
		select {
		case e := <-m.queue:
			m.publish(e)
		default:
			return
		}
	}
}

func (m *mirror) publish(e mirrorEntry) {
	id := e.state.DeviceID

	switch e.kind {
	case mirrorPresence:
		if m.mqtt != nil {
			m.publishMQTT(m.topics.ModulePresence(id), presenceMessage{
				ModuleID:   id,
				ModuleType: e.state.DeviceType,
				Online:     e.state.Online,
				LastSeen:   e.state.LastSeen,
			}, true)
		}
		if m.influx != nil {
			m.influx.WritePresence(id, e.state.DeviceType, e.state.Online, e.state.LastSeen)
		}

	case mirrorTelemetry:
		if m.mqtt != nil {
			m.publishMQTT(m.topics.ModuleTelemetry(id), telemetryMessage{
				ModuleID:  id,
				Timestamp: e.state.LastSeen,
				Data:      e.data,
			}, false)
		}
		if m.influx != nil {
			m.influx.WriteTelemetry(id, e.state.DeviceType, e.data, e.state.LastSeen)
		}

	case mirrorAck:
		if m.mqtt != nil {
			m.publishMQTT(m.topics.ModuleAck(id), telemetryMessage{
				ModuleID:  id,
				Timestamp: time.Now().UTC(),
				Data:      e.data,
			}, false)
		}

	case mirrorStats:
		if m.influx != nil {
			m.influx.WriteFleetStats(e.stats.ModulesOnline, e.stats.ModulesKnown, e.stats.Clients.Connections)
		}
	}
}

func (m *mirror) publishMQTT(topic string, v any, retained bool) {
	if err := m.mqtt.PublishJSON(topic, v, retained); err != nil {
		m.logger.Debug("mqtt mirror publish failed", "topic", topic, "error", err)
	}
}
