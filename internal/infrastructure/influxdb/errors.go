package influxdb

import "errors"

// Sentinel errors returned by Connect and HealthCheck, and wrapped around
// the asynchronous failures passed to the SetOnError callback.
var (
	// ErrDisabled is returned by Connect when telemetry is switched off.
	ErrDisabled = errors.New("influxdb: telemetry disabled")

	// ErrConnectionFailed wraps the ping failure seen by Connect.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned after Close.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrWriteFailed wraps batch write failures.
	ErrWriteFailed = errors.New("influxdb: batch write failed")
)
