package envelope

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformedEnvelope is returned when bytes are not a valid AnalyticsEvent encoding.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Field numbers of analytics.v1.AnalyticsEvent (api/proto/analytics/v1/analytics.proto).
const (
	fieldEventID        protowire.Number = 1
	fieldEventName      protowire.Number = 2
	fieldServiceName    protowire.Number = 3
	fieldServiceVersion protowire.Number = 4
	fieldTimestamp      protowire.Number = 5
	fieldPayload        protowire.Number = 6
)

// Field numbers of google.protobuf.Timestamp.
const (
	fieldSeconds protowire.Number = 1
	fieldNanos   protowire.Number = 2
)

// Range of google.protobuf.Timestamp: 0001-01-01T00:00:00Z to 9999-12-31T23:59:59Z.
const (
	minSeconds = -62135596800
	maxSeconds = 253402300799
)

// Marshal returns the canonical proto3 encoding of e: fields in tag order,
// default values omitted.
func Marshal(e AnalyticsEvent) []byte {
	b := make([]byte, 0, size(e))
	b = appendString(b, fieldEventID, e.EventID)
	b = appendString(b, fieldEventName, e.EventName)
	b = appendString(b, fieldServiceName, e.ServiceName)
	b = appendString(b, fieldServiceVersion, e.ServiceVersion)
	if !e.Timestamp.IsZero() {
		b = protowire.AppendTag(b, fieldTimestamp, protowire.BytesType)
		b = protowire.AppendVarint(b, uint64(timestampSize(e.Timestamp)))
		b = appendTimestamp(b, e.Timestamp)
	}
	b = appendString(b, fieldPayload, e.Payload)
	return b
}

// Unmarshal parses b. Unknown fields are skipped. On failure the zero event is
// returned together with an error wrapping ErrMalformedEnvelope.
func Unmarshal(b []byte) (AnalyticsEvent, error) {
	var e AnalyticsEvent
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return AnalyticsEvent{}, malformed("tag", protowire.ParseError(n))
		}
		b = b[n:]

		var dst *string
		switch num {
		case fieldEventID:
			dst = &e.EventID
		case fieldEventName:
			dst = &e.EventName
		case fieldServiceName:
			dst = &e.ServiceName
		case fieldServiceVersion:
			dst = &e.ServiceVersion
		case fieldPayload:
			dst = &e.Payload
		case fieldTimestamp:
			if typ != protowire.BytesType {
				return AnalyticsEvent{}, malformed("timestamp", fmt.Errorf("wire type %d", typ))
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return AnalyticsEvent{}, malformed("timestamp", protowire.ParseError(n))
			}
			if err := mergeTimestamp(v, &e.Timestamp); err != nil {
				return AnalyticsEvent{}, malformed("timestamp", err)
			}
			b = b[n:]
			continue
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return AnalyticsEvent{}, malformed(fmt.Sprintf("field %d", num), protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		if typ != protowire.BytesType {
			return AnalyticsEvent{}, malformed(fmt.Sprintf("field %d", num), fmt.Errorf("wire type %d", typ))
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return AnalyticsEvent{}, malformed(fmt.Sprintf("field %d", num), protowire.ParseError(n))
		}
		if !utf8.Valid(v) {
			return AnalyticsEvent{}, malformed(fmt.Sprintf("field %d", num), errors.New("invalid UTF-8"))
		}
		*dst = string(v)
		b = b[n:]
	}

	if e.Timestamp.Nanos < 0 || e.Timestamp.Nanos >= 1e9 {
		return AnalyticsEvent{}, malformed("timestamp", fmt.Errorf("nanos %d out of range", e.Timestamp.Nanos))
	}
	if e.Timestamp.Seconds < minSeconds || e.Timestamp.Seconds > maxSeconds {
		return AnalyticsEvent{}, malformed("timestamp", fmt.Errorf("seconds %d out of range", e.Timestamp.Seconds))
	}
	return e, nil
}

func mergeTimestamp(b []byte, ts *Timestamp) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if (num == fieldSeconds || num == fieldNanos) && typ != protowire.VarintType {
			return fmt.Errorf("field %d: wire type %d", num, typ)
		}
		switch num {
		case fieldSeconds:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			ts.Seconds = int64(v)
			b = b[n:]
		case fieldNanos:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			ts.Nanos = int32(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

func malformed(where string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformedEnvelope, where, err)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendTimestamp(b []byte, ts Timestamp) []byte {
	if ts.Seconds != 0 {
		b = protowire.AppendTag(b, fieldSeconds, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(ts.Seconds))
	}
	if ts.Nanos != 0 {
		b = protowire.AppendTag(b, fieldNanos, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(ts.Nanos)))
	}
	return b
}

func timestampSize(ts Timestamp) int {
	n := 0
	if ts.Seconds != 0 {
		n += protowire.SizeTag(fieldSeconds) + protowire.SizeVarint(uint64(ts.Seconds))
	}
	if ts.Nanos != 0 {
		n += protowire.SizeTag(fieldNanos) + protowire.SizeVarint(uint64(int64(ts.Nanos)))
	}
	return n
}

func stringSize(num protowire.Number, s string) int {
	if s == "" {
		return 0
	}
	return protowire.SizeTag(num) + protowire.SizeBytes(len(s))
}

func size(e AnalyticsEvent) int {
	n := stringSize(fieldEventID, e.EventID) +
		stringSize(fieldEventName, e.EventName) +
		stringSize(fieldServiceName, e.ServiceName) +
		stringSize(fieldServiceVersion, e.ServiceVersion) +
		stringSize(fieldPayload, e.Payload)
	if !e.Timestamp.IsZero() {
		n += protowire.SizeTag(fieldTimestamp) + protowire.SizeBytes(timestampSize(e.Timestamp))
	}
	return n
}
