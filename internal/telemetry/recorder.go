// Package telemetry turns routed device updates into time-series points.
package telemetry

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"github.com/chavee/netpie-flowchannel/internal/eventbus"
	"github.com/chavee/netpie-flowchannel/internal/infrastructure/influxdb"
	"github.com/chavee/netpie-flowchannel/internal/topic"
)

// PointWriter receives telemetry points. *influxdb.Client satisfies it.
type PointWriter interface {
	WriteDeviceFields(measurement, deviceID string, fields map[string]any, ts time.Time)
}

// EventSource is where routed events come from. *session.Session satisfies it.
type EventSource interface {
	On(name string, l *eventbus.Listener) bool
	Off(name string, l *eventbus.Listener)
}

// Logger is the logging surface the recorder needs.
type Logger interface {
	Debug(msg string, args ...any)
}

// Stats counts points written since Start.
type Stats struct {
	Feed    int64 `json:"feed"`
	Shadow  int64 `json:"shadow"`
	Skipped int64 `json:"skipped"`
}

// Recorder writes the numeric and boolean fields of every "feed/data/updated"
// and "shadow/data/updated" event. Feed fields come from "newdata", shadow
// fields from "data"; nested objects are flattened with dotted keys.
type Recorder struct {
	src    EventSource
	w      PointWriter
	logger Logger
	now    func() time.Time

	feedL   *eventbus.Listener
	shadowL *eventbus.Listener

	feed    atomic.Int64
	shadow  atomic.Int64
	skipped atomic.Int64
}

// NewRecorder creates a Recorder. logger may be nil.
func NewRecorder(src EventSource, w PointWriter, logger Logger) *Recorder {
	r := &Recorder{
		src:    src,
		w:      w,
		logger: logger,
		now:    time.Now,
	}
	r.feedL = eventbus.NewListener(r.onFeed)
	r.shadowL = eventbus.NewListener(r.onShadow)
	return r
}

// Start subscribes the recorder to update events of every device.
func (r *Recorder) Start() {
	r.src.On(string(topic.EventFeedUpdated), r.feedL)
	r.src.On(string(topic.EventShadowUpdated), r.shadowL)
}

// Stop removes the recorder's listeners.
func (r *Recorder) Stop() {
	r.src.Off(string(topic.EventFeedUpdated), r.feedL)
	r.src.Off(string(topic.EventShadowUpdated), r.shadowL)
}

// Stats returns the current counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		Feed:    r.feed.Load(),
		Shadow:  r.shadow.Load(),
		Skipped: r.skipped.Load(),
	}
}

func (r *Recorder) onFeed(e eventbus.Event) error {
	if r.record(influxdb.MeasurementFeed, "newdata", e.Payload) {
		r.feed.Add(1)
	}
	return nil
}

func (r *Recorder) onShadow(e eventbus.Event) error {
	if r.record(influxdb.MeasurementShadow, "data", e.Payload) {
		r.shadow.Add(1)
	}
	return nil
}

func (r *Recorder) record(measurement, field string, payload any) bool {
	raw, ok := payloadJSON(payload)
	if !ok {
		r.skip(measurement, "payload is not JSON")
		return false
	}

	deviceID := gjson.GetBytes(raw, topic.OwnerField).String()
	if deviceID == "" {
		r.skip(measurement, "payload has no device id")
		return false
	}

	fields := Fields(gjson.GetBytes(raw, field))
	if len(fields) == 0 {
		r.skip(measurement, "no numeric fields")
		return false
	}

	ts := r.now()
	if ms := gjson.GetBytes(raw, "timestamp"); ms.Type == gjson.Number {
		ts = time.UnixMilli(ms.Int())
	}

	r.w.WriteDeviceFields(measurement, deviceID, fields, ts)
	return true
}

func (r *Recorder) skip(measurement, reason string) {
	r.skipped.Add(1)
	if r.logger != nil {
		r.logger.Debug("telemetry point skipped", "measurement", measurement, "reason", reason)
	}
}

// payloadJSON returns payload as JSON bytes. Raw payloads are accepted only
// when they hold valid JSON.
func payloadJSON(payload any) ([]byte, bool) {
	switch v := payload.(type) {
	case []byte:
		return v, gjson.ValidBytes(v)
	case nil:
		return nil, false
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, false
	}
	return b, true
}

// Fields flattens the numeric and boolean members of obj. Nested objects
// contribute "parent.child" keys; strings, arrays and nulls are dropped.
func Fields(obj gjson.Result) map[string]any {
	fields := make(map[string]any)
	if obj.IsObject() {
		flatten("", obj, fields)
	}
	return fields
}

func flatten(prefix string, obj gjson.Result, into map[string]any) {
	obj.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if prefix != "" {
			name = prefix + "." + name
		}

		switch {
		case value.Type == gjson.Number:
			into[name] = value.Float()
		case value.Type == gjson.True || value.Type == gjson.False:
			into[name] = value.Bool()
		case value.IsObject():
			flatten(name, value, into)
		}
		return true
	})
}
