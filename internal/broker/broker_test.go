package broker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewGroupIDIsFreshPerCall(t *testing.T) {
	a, b := NewGroupID(), NewGroupID()
	if a == b {
		t.Fatalf("expected distinct group ids, both %q", a)
	}
	if !strings.HasPrefix(a, "consumer-") {
		t.Errorf("group id %q missing consumer- prefix", a)
	}
	if len(a) != len("consumer-")+36 {
		t.Errorf("group id %q is not consumer-<uuid>", a)
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(string(k))
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %q, %v", k, got, err)
		}
	}
	if _, err := ParseKind("rabbitmq"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestOpenRequiresTopics(t *testing.T) {
	if _, _, err := Open(context.Background(), Options{Kind: KindMemory}); err == nil {
		t.Error("expected error without topics")
	}
}

func TestOpenUnknownKind(t *testing.T) {
	_, _, err := Open(context.Background(), Options{Kind: "nats", Topics: []string{"t"}})
	if err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestOpenMemoryLoopback(t *testing.T) {
	hub := NewMemory()
	p, c, err := Open(context.Background(), Options{Kind: KindMemory, Topics: []string{"events"}, Memory: hub})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()
	defer c.Close()

	if err := p.Publish(context.Background(), "events", []byte("ping")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	msg := receive(t, c)
	if string(msg.Value) != "ping" || msg.Topic != "events" {
		t.Errorf("unexpected message %+v", msg)
	}
}

func TestMemoryDeliveryOrder(t *testing.T) {
	hub := NewMemory()
	c := hub.Subscribe("g1", "events")
	defer c.Close()

	for _, v := range []string{"a", "b", "c", "d"} {
		hub.Publish("events", []byte(v))
	}
	for i, want := range []string{"a", "b", "c", "d"} {
		msg := receive(t, c)
		if string(msg.Value) != want {
			t.Errorf("message %d = %q, want %q", i, msg.Value, want)
		}
		if msg.Offset != int64(i) {
			t.Errorf("message %d offset = %d", i, msg.Offset)
		}
	}
}

func TestMemoryEachGroupGetsACopy(t *testing.T) {
	hub := NewMemory()
	c1 := hub.Subscribe("g1", "events")
	c2 := hub.Subscribe("g2", "events")
	defer c1.Close()
	defer c2.Close()

	hub.Publish("events", []byte("x"))
	if string(receive(t, c1).Value) != "x" || string(receive(t, c2).Value) != "x" {
		t.Error("both groups should receive the message")
	}
}

func TestMemorySameGroupSharesMessages(t *testing.T) {
	hub := NewMemory()
	c1 := hub.Subscribe("shared", "events")
	c2 := hub.Subscribe("shared", "events")
	defer c1.Close()
	defer c2.Close()

	hub.Publish("events", []byte("once"))

	got := 0
	for _, c := range []Consumer{c1, c2} {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		if msg, err := c.Receive(ctx); err == nil && string(msg.Value) == "once" {
			got++
		}
		cancel()
	}
	if got != 1 {
		t.Errorf("consumers in one group received the message %d times, want 1", got)
	}
}

func TestMemorySameGroupDrainsAcrossMembers(t *testing.T) {
	hub := NewMemory()
	c1 := hub.Subscribe("shared", "events")
	c2 := hub.Subscribe("shared", "events")
	defer c2.Close()

	for _, v := range []string{"a", "b", "c"} {
		hub.Publish("events", []byte(v))
	}
	if got := string(receive(t, c1).Value); got != "a" {
		t.Errorf("first = %q, want a", got)
	}
	c1.Close()

	// The group stays subscribed while a member remains.
	hub.Publish("events", []byte("d"))
	var rest []string
	for i := 0; i < 3; i++ {
		rest = append(rest, string(receive(t, c2).Value))
	}
	if strings.Join(rest, ",") != "b,c,d" {
		t.Errorf("remaining = %v, want [b c d]", rest)
	}
}

func TestMemoryGroupRemovedWithLastMember(t *testing.T) {
	hub := NewMemory()
	c1 := hub.Subscribe("shared", "events")
	c2 := hub.Subscribe("shared", "events")
	c1.Close()
	if len(hub.groups) != 1 || len(hub.subs) != 1 {
		t.Fatalf("group dropped while a member remains: groups=%d topics=%d", len(hub.groups), len(hub.subs))
	}
	c2.Close()
	if len(hub.groups) != 0 || len(hub.subs) != 0 {
		t.Errorf("expected empty hub, got groups=%d topics=%d", len(hub.groups), len(hub.subs))
	}
}

func TestErrorHelpersKeepCause(t *testing.T) {
	cause := errors.New("connection reset")

	perr := publishErr("events", cause)
	if !errors.Is(perr, ErrPublishFailed) || !errors.Is(perr, cause) {
		t.Errorf("publishErr lost a wrapped error: %v", perr)
	}
	if !strings.Contains(perr.Error(), "topic events") {
		t.Errorf("publishErr missing topic: %v", perr)
	}

	rerr := receiveErr(ErrClosed)
	if !errors.Is(rerr, ErrReceiveFailed) || !errors.Is(rerr, ErrClosed) {
		t.Errorf("receiveErr lost a wrapped error: %v", rerr)
	}
}

func TestMemoryIgnoresOtherTopicsAndEarlierMessages(t *testing.T) {
	hub := NewMemory()
	hub.Publish("events", []byte("before"))
	c := hub.Subscribe("g", "events")
	defer c.Close()

	hub.Publish("other", []byte("elsewhere"))
	hub.Publish("events", []byte("after"))
	if got := string(receive(t, c).Value); got != "after" {
		t.Errorf("got %q, want after", got)
	}
}

func TestMemoryPublishCopiesValue(t *testing.T) {
	hub := NewMemory()
	c := hub.Subscribe("g", "events")
	defer c.Close()

	buf := []byte("abc")
	hub.Publish("events", buf)
	buf[0] = 'z'
	if got := string(receive(t, c).Value); got != "abc" {
		t.Errorf("got %q, want abc", got)
	}
}

func TestMemoryReceiveHonoursContext(t *testing.T) {
	hub := NewMemory()
	c := hub.Subscribe("g", "events")
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestMemoryReceiveAfterClose(t *testing.T) {
	hub := NewMemory()
	c := hub.Subscribe("g", "events")

	done := make(chan error, 1)
	go func() {
		_, err := c.Receive(context.Background())
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	c.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrReceiveFailed) || !errors.Is(err, ErrClosed) {
			t.Errorf("expected receive failed / closed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not return after Close")
	}

	// Closed consumers are no longer delivered to.
	hub.Publish("events", []byte("late"))
	if len(hub.subs) != 0 {
		t.Errorf("expected no subscribers, got %d topics", len(hub.subs))
	}
}

func TestMemoryProducerClosed(t *testing.T) {
	p := NewMemory().Producer()
	p.Close()
	err := p.Publish(context.Background(), "events", []byte("x"))
	if !errors.Is(err, ErrPublishFailed) || !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrPublishFailed wrapping ErrClosed, got %v", err)
	}
}

func receive(t *testing.T, c Consumer) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := c.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	return msg
}
