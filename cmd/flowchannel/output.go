package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/chavee/netpie-flowchannel/internal/topic"
)

// printEvent writes one event line: time, event name, payload.
func printEvent(w io.Writer, at time.Time, name string, payload any) {
	nameColor := color.CyanString
	switch name {
	case string(topic.EventError):
		nameColor = color.RedString
	case string(topic.EventConnect):
		nameColor = color.GreenString
	case string(topic.EventDisconnect):
		nameColor = color.YellowString
	}

	line := color.GreenString(at.Format("15:04:05.000")) + " " + nameColor(name)
	if payload != nil {
		line += " " + formatPayload(payload)
	}
	fmt.Fprintln(w, line)
}

// formatPayload renders a payload for the terminal: errors by message, raw
// bytes as text, everything else as compact JSON.
func formatPayload(payload any) string {
	switch p := payload.(type) {
	case error:
		return p.Error()
	case []byte:
		return string(p)
	case string:
		return p
	case topic.Packet:
		return p.Topic + " " + formatPayload(p.Payload)
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%v", payload)
	}
	return string(b)
}

func printSuccess(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, color.GreenString("✓ ")+fmt.Sprintf(format, args...))
}
