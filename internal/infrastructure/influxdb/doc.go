// Package influxdb provides InfluxDB connectivity for device telemetry.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes, and health monitoring.
//
// # Purpose
//
// The telemetry recorder writes numeric fields of routed feed and shadow
// updates here:
//   - feed_data: one point per "feed/data/updated" event
//   - shadow_data: one point per "shadow/data/updated" event
//
// Both measurements are tagged with device_id.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry is optional
//	}
//	defer client.Close()
//
//	client.WriteDeviceFields(influxdb.MeasurementFeed, "dev-1",
//	    map[string]any{"temperature": 21.5}, time.Now())
//
// # Error Handling
//
// Write operations are non-blocking; batch errors are delivered to the
// SetOnError callback. Connection and health check errors are returned
// directly.
package influxdb
