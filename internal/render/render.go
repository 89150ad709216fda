// Package render writes decoded envelopes to the terminal.
package render

import (
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"

	"github.com/ppiankov/topicrelay/internal/envelope"
)

// Format selects how a received event is printed.
type Format string

const (
	// Text prints the payload followed by a newline.
	Text Format = "text"
	// JSON prints one JSON object per event.
	JSON Format = "json"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case Text, JSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown format %q (want text or json)", s)
	}
}

type eventJSON struct {
	EventID        string `json:"event_id"`
	EventName      string `json:"event_name"`
	ServiceName    string `json:"service_name"`
	ServiceVersion string `json:"service_version"`
	Timestamp      string `json:"timestamp"`
	Payload        string `json:"payload"`
}

// Event writes e to w in format f.
func Event(w io.Writer, f Format, e envelope.AnalyticsEvent) error {
	switch f {
	case JSON:
		out, err := json.Marshal(eventJSON{
			EventID:        e.EventID,
			EventName:      e.EventName,
			ServiceName:    e.ServiceName,
			ServiceVersion: e.ServiceVersion,
			Timestamp:      e.Timestamp.Time().Format(time.RFC3339Nano),
			Payload:        e.Payload,
		})
		if err != nil {
			return err
		}
		out = append(out, '\n')
		_, err = w.Write(out)
		return err
	default:
		_, err := io.WriteString(w, e.Payload+"\n")
		return err
	}
}
