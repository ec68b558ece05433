package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementTelemetry = "module_telemetry"
	MeasurementPresence  = "module_presence"
	MeasurementFleet     = "fleet_stats"
)

// WriteTelemetry records the numeric and boolean fields of a telemetry
// sample. Strings and nested values are skipped; a sample with no usable
// fields writes nothing.
//
//	client.WriteTelemetry("MC-0001-ST", "switch-track",
//	    map[string]any{"uptime": 1200.0, "wifiRSSI": -61.0, "position": "left"})
//	// writes uptime and wifiRSSI
func (c *Client) WriteTelemetry(moduleID, moduleType string, sample map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}

	fields := TelemetryFields(sample)
	if len(fields) == 0 {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementTelemetry,
		moduleTags(moduleID, moduleType),
		fields,
		at,
	))
}

// WritePresence records a presence transition as 1 (online) or 0 (offline).
func (c *Client) WritePresence(moduleID, moduleType string, online bool, at time.Time) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementPresence,
		moduleTags(moduleID, moduleType),
		map[string]any{"online": boolToFloat(online)},
		at,
	))
}

// WriteFleetStats records aggregate counts published to admins.
func (c *Client) WriteFleetStats(online, known, clients int) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementFleet,
		nil,
		map[string]any{
			"modules_online": online,
			"modules_known":  known,
			"clients":        clients,
		},
		time.Now(),
	))
}

// TelemetryFields extracts the fields InfluxDB can store from a sample.
// Numbers become floats and booleans become 0/1.
func TelemetryFields(sample map[string]any) map[string]any {
	fields := make(map[string]any, len(sample))
	for k, v := range sample {
		switch val := v.(type) {
		case float64:
			fields[k] = val
		case float32:
			fields[k] = float64(val)
		case int:
			fields[k] = float64(val)
		case int64:
			fields[k] = float64(val)
		case bool:
			fields[k] = boolToFloat(val)
		}
	}
	return fields
}

func moduleTags(moduleID, moduleType string) map[string]string {
	tags := map[string]string{"module_id": moduleID}
	if moduleType != "" {
		tags["module_type"] = moduleType
	}
	return tags
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
