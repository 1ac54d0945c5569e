package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names for device telemetry.
const (
	MeasurementFeed   = "feed_data"
	MeasurementShadow = "shadow_data"
)

// TagDeviceID tags every telemetry point with its device.
const TagDeviceID = "device_id"

// WritePoint queues one point. The write is non-blocking; points are
// batched and failures are delivered to the SetOnError callback.
//
// Example:
//
//	client.WritePoint("feed_data",
//	    map[string]string{"device_id": "dev-1"},
//	    map[string]any{"temperature": 21.5},
//	    time.Now())
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}

// WriteDeviceFields writes fields for one device under measurement.
func (c *Client) WriteDeviceFields(measurement, deviceID string, fields map[string]any, ts time.Time) {
	c.WritePoint(measurement, map[string]string{TagDeviceID: deviceID}, fields, ts)
}
