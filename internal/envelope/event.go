package envelope

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// EventName is the logical event type stamped on operator input.
// The ".v1" suffix is the schema version.
const EventName = "analytics.publish.v1"

var versionSuffix = regexp.MustCompile(`\.v([1-9][0-9]*)$`)

// Timestamp is a wall-clock instant as seconds and nanoseconds since the Unix epoch, UTC.
// Nanos is always in [0, 1e9).
type Timestamp struct {
	Seconds int64
	Nanos   int32
}

// TimestampOf converts t to a Timestamp.
func TimestampOf(t time.Time) Timestamp {
	return Timestamp{Seconds: t.Unix(), Nanos: int32(t.Nanosecond())}
}

// Time returns the instant in UTC.
func (ts Timestamp) Time() time.Time {
	return time.Unix(ts.Seconds, int64(ts.Nanos)).UTC()
}

// IsZero reports whether ts is the Unix epoch.
func (ts Timestamp) IsZero() bool {
	return ts.Seconds == 0 && ts.Nanos == 0
}

// AnalyticsEvent is the structured unit exchanged over the topic.
// It is a value type: two events are the same event when their fields are equal.
type AnalyticsEvent struct {
	EventID        string
	EventName      string
	ServiceName    string
	ServiceVersion string
	Timestamp      Timestamp
	Payload        string
}

// Codec stamps operator input with the emitting service's identity.
type Codec struct {
	EventName      string
	ServiceName    string
	ServiceVersion string

	// NewID generates event_id values. Defaults to NewEventID.
	NewID func() string
}

// Build wraps text in an AnalyticsEvent stamped at now.
func (c Codec) Build(text string, now time.Time) AnalyticsEvent {
	newID := c.NewID
	if newID == nil {
		newID = NewEventID
	}
	name := c.EventName
	if name == "" {
		name = EventName
	}
	return AnalyticsEvent{
		EventID:        newID(),
		EventName:      name,
		ServiceName:    c.ServiceName,
		ServiceVersion: c.ServiceVersion,
		Timestamp:      TimestampOf(now.UTC()),
		Payload:        text,
	}
}

// Encode builds the envelope for text and returns its wire bytes.
func (c Codec) Encode(text string, now time.Time) []byte {
	return Marshal(c.Build(text, now))
}

// Encode wraps text in an envelope and serializes it.
func Encode(text, serviceName, serviceVersion, eventName string, now time.Time) []byte {
	c := Codec{EventName: eventName, ServiceName: serviceName, ServiceVersion: serviceVersion}
	return c.Encode(text, now)
}

// Decode parses wire bytes into an AnalyticsEvent.
func Decode(b []byte) (AnalyticsEvent, error) {
	return Unmarshal(b)
}

// NewEventID returns a fresh random identifier for one event.
func NewEventID() string {
	return uuid.NewString()
}

// SchemaVersion extracts N from an event name ending in ".vN".
func SchemaVersion(eventName string) (int, bool) {
	m := versionSuffix.FindStringSubmatch(eventName)
	if m == nil {
		return 0, false
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return v, true
}

// ValidateEventName rejects event names that carry no schema version.
func ValidateEventName(eventName string) error {
	if eventName == "" {
		return fmt.Errorf("event name is empty")
	}
	if _, ok := SchemaVersion(eventName); !ok {
		return fmt.Errorf("event name %q has no .vN version suffix", eventName)
	}
	return nil
}
