package envelope

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

func fixedID() string { return "evt-1" }

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		e    AnalyticsEvent
	}{
		{"zero", AnalyticsEvent{}},
		{"empty payload", AnalyticsEvent{EventID: "a", EventName: EventName, ServiceName: "svc", ServiceVersion: "1.0.0", Timestamp: Timestamp{Seconds: 1700000000, Nanos: 5}}},
		{"full", AnalyticsEvent{EventID: "id", EventName: EventName, ServiceName: "svc", ServiceVersion: "0.1.0", Timestamp: Timestamp{Seconds: 1700000000, Nanos: 999999999}, Payload: "hello"}},
		{"unicode payload", AnalyticsEvent{EventName: EventName, Payload: "héllo wörld ✓"}},
		{"whitespace kept", AnalyticsEvent{Payload: "  padded\t"}},
		{"pre-epoch", AnalyticsEvent{Timestamp: Timestamp{Seconds: -86400, Nanos: 1}}},
		{"nanos only", AnalyticsEvent{Timestamp: Timestamp{Nanos: 42}}},
		{"large payload", AnalyticsEvent{Payload: strings.Repeat("x", 1<<16)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode(Marshal(tc.e))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got != tc.e {
				t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, tc.e)
			}
		})
	}
}

func TestMarshalGolden(t *testing.T) {
	e := AnalyticsEvent{EventName: "a", Timestamp: Timestamp{Seconds: 1, Nanos: 2}, Payload: "hi"}
	want := []byte{
		0x12, 0x01, 'a', // event_name
		0x2a, 0x04, 0x08, 0x01, 0x10, 0x02, // timestamp {seconds: 1, nanos: 2}
		0x32, 0x02, 'h', 'i', // payload
	}
	if got := Marshal(e); !bytes.Equal(got, want) {
		t.Errorf("Marshal = % x, want % x", got, want)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	e := AnalyticsEvent{EventID: "x", EventName: EventName, ServiceName: "s", ServiceVersion: "v", Timestamp: Timestamp{Seconds: 10}, Payload: "p"}
	first := Marshal(e)
	for i := 0; i < 10; i++ {
		if !bytes.Equal(Marshal(e), first) {
			t.Fatal("encoding is not deterministic")
		}
	}
	if len(first) != size(e) {
		t.Errorf("size() = %d, encoded %d bytes", size(e), len(first))
	}
}

func TestCodecEncode(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 123, time.FixedZone("X", 3600))
	c := Codec{EventName: EventName, ServiceName: "topicrelay", ServiceVersion: "1.2.3", NewID: fixedID}

	got, err := Decode(c.Encode("hello", now))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := AnalyticsEvent{
		EventID:        "evt-1",
		EventName:      "analytics.publish.v1",
		ServiceName:    "topicrelay",
		ServiceVersion: "1.2.3",
		Timestamp:      Timestamp{Seconds: now.Unix(), Nanos: 123},
		Payload:        "hello",
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if !got.Timestamp.Time().Equal(now) {
		t.Errorf("timestamp %v does not match %v", got.Timestamp.Time(), now)
	}
	if got.Timestamp.Time().Location() != time.UTC {
		t.Error("timestamp should convert to UTC")
	}
}

func TestPackageEncode(t *testing.T) {
	got, err := Decode(Encode("world", "svc", "9", EventName, time.Unix(5, 0)))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Payload != "world" || got.ServiceName != "svc" || got.ServiceVersion != "9" || got.EventName != EventName {
		t.Errorf("unexpected event %+v", got)
	}
	if got.EventID == "" {
		t.Error("expected generated event id")
	}
}

func TestEventIDsAreFresh(t *testing.T) {
	c := Codec{ServiceName: "svc"}
	now := time.Now()
	a := c.Build("same", now)
	b := c.Build("same", now)
	if a.EventID == b.EventID {
		t.Errorf("expected distinct event ids, both %q", a.EventID)
	}
	if a.EventName != EventName {
		t.Errorf("default event name = %q", a.EventName)
	}
}

func TestUnknownFieldsSkipped(t *testing.T) {
	b := Marshal(AnalyticsEvent{Payload: "keep"})
	b = protowire.AppendTag(b, 99, protowire.VarintType)
	b = protowire.AppendVarint(b, 7)
	b = protowire.AppendTag(b, 100, protowire.BytesType)
	b = protowire.AppendString(b, "future")
	b = protowire.AppendTag(b, 101, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, 1)

	got, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Payload != "keep" {
		t.Errorf("payload = %q", got.Payload)
	}
}

func TestRepeatedScalarLastWins(t *testing.T) {
	b := Marshal(AnalyticsEvent{Payload: "first"})
	b = append(b, Marshal(AnalyticsEvent{Payload: "second"})...)
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Payload != "second" {
		t.Errorf("payload = %q, want second", got.Payload)
	}
}

func TestMalformedRejected(t *testing.T) {
	valid := Marshal(AnalyticsEvent{EventName: EventName, Payload: "hello", Timestamp: Timestamp{Seconds: 1}})

	wrongWire := protowire.AppendTag(nil, fieldPayload, protowire.VarintType)
	wrongWire = protowire.AppendVarint(wrongWire, 1)

	wrongTimestampWire := protowire.AppendTag(nil, fieldTimestamp, protowire.Fixed64Type)
	wrongTimestampWire = protowire.AppendFixed64(wrongTimestampWire, 1)

	nanosWrongWire := protowire.AppendTag(nil, fieldNanos, protowire.BytesType)
	nanosWrongWire = protowire.AppendString(nanosWrongWire, "x")
	nanosWrongWire = append(protowire.AppendVarint(protowire.AppendTag(nil, fieldTimestamp, protowire.BytesType), uint64(len(nanosWrongWire))), nanosWrongWire...)

	badUTF8 := protowire.AppendTag(nil, fieldPayload, protowire.BytesType)
	badUTF8 = protowire.AppendBytes(badUTF8, []byte{0xff, 0xfe})

	negNanos := protowire.AppendTag(nil, fieldTimestamp, protowire.BytesType)
	inner := protowire.AppendTag(nil, fieldNanos, protowire.VarintType)
	inner = protowire.AppendVarint(inner, ^uint64(0))
	negNanos = protowire.AppendBytes(negNanos, inner)

	bigNanos := protowire.AppendTag(nil, fieldTimestamp, protowire.BytesType)
	inner = protowire.AppendTag(nil, fieldNanos, protowire.VarintType)
	inner = protowire.AppendVarint(inner, 1e9)
	bigNanos = protowire.AppendBytes(bigNanos, inner)

	farFuture := protowire.AppendTag(nil, fieldTimestamp, protowire.BytesType)
	inner = protowire.AppendTag(nil, fieldSeconds, protowire.VarintType)
	inner = protowire.AppendVarint(inner, maxSeconds+1)
	farFuture = protowire.AppendBytes(farFuture, inner)

	cases := []struct {
		name string
		b    []byte
	}{
		{"truncated string", valid[:len(valid)-2]},
		{"truncated length", []byte{0x32}},
		{"invalid varint", []byte{0x32, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
		{"field number zero", []byte{0x02, 0x00}},
		{"wrong wire type", wrongWire},
		{"wrong timestamp wire type", wrongTimestampWire},
		{"wrong nanos wire type", nanosWrongWire},
		{"invalid utf8", badUTF8},
		{"negative nanos", negNanos},
		{"nanos overflow", bigNanos},
		{"seconds out of range", farFuture},
		{"truncated timestamp", []byte{0x2a, 0x04, 0x08}},
		{"plain text", []byte("hello world")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode(tc.b)
			if !errors.Is(err, ErrMalformedEnvelope) {
				t.Fatalf("expected ErrMalformedEnvelope, got %v", err)
			}
			if got != (AnalyticsEvent{}) {
				t.Errorf("expected zero event on failure, got %+v", got)
			}
		})
	}
}

func TestEmptyInputDecodesToZero(t *testing.T) {
	got, err := Decode(nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != (AnalyticsEvent{}) {
		t.Errorf("expected zero event, got %+v", got)
	}
}

func TestSchemaVersion(t *testing.T) {
	cases := []struct {
		name    string
		version int
		ok      bool
	}{
		{"analytics.publish.v1", 1, true},
		{"analytics.publish.v12", 12, true},
		{"analytics.publish", 0, false},
		{"analytics.publish.v0", 0, false},
		{"analytics.publish.v", 0, false},
		{"analytics.publish.v1beta", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		v, ok := SchemaVersion(tc.name)
		if v != tc.version || ok != tc.ok {
			t.Errorf("SchemaVersion(%q) = %d, %v; want %d, %v", tc.name, v, ok, tc.version, tc.ok)
		}
	}
}

func TestValidateEventName(t *testing.T) {
	if err := ValidateEventName(EventName); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateEventName(""); err == nil {
		t.Error("expected error for empty name")
	}
	if err := ValidateEventName("analytics.publish"); err == nil {
		t.Error("expected error for unversioned name")
	}
}
