// Package influxdb records module telemetry and presence in InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. The event router
// mirrors every telemetry sample and presence transition here when the
// integration is enabled, so dashboards can chart uptime, signal strength
// and availability over time. Nothing in MicroCoaster reads the data back.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // integration turned off
//	}
//	defer client.Close()
//
//	client.WriteTelemetry("MC-0001-ST", "switch-track", sample, time.Now())
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched (batch_size, flush_interval); batch failures are reported
// through SetOnError.
package influxdb
