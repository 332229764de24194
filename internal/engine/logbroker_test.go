package engine_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/seantiz/drafter/internal/engine"
)

func TestLogBrokerSingleSubscriber(t *testing.T) {
	b := engine.NewLogBroker()
	ch, unsub := b.Subscribe("exec-1")
	defer unsub()

	lines := []string{"line 1", "line 2", "line 3"}
	for _, l := range lines {
		b.Publish("exec-1", l)
	}
	b.Close("exec-1")

	var got []string
	for l := range ch {
		got = append(got, l)
	}

	if len(got) != len(lines) {
		t.Fatalf("got %d lines, want %d", len(got), len(lines))
	}
	for i, l := range got {
		if l != lines[i] {
			t.Errorf("line[%d] = %q, want %q", i, l, lines[i])
		}
	}
}

func TestLogBrokerMultipleSubscribers(t *testing.T) {
	b := engine.NewLogBroker()
	ch1, unsub1 := b.Subscribe("exec-1")
	defer unsub1()
	ch2, unsub2 := b.Subscribe("exec-1")
	defer unsub2()

	b.Publish("exec-1", "hello")
	b.Close("exec-1")

	var got1, got2 []string
	for l := range ch1 {
		got1 = append(got1, l)
	}
	for l := range ch2 {
		got2 = append(got2, l)
	}

	if len(got1) != 1 || got1[0] != "hello" {
		t.Errorf("subscriber 1 got %v, want [hello]", got1)
	}
	if len(got2) != 1 || got2[0] != "hello" {
		t.Errorf("subscriber 2 got %v, want [hello]", got2)
	}
}

func TestLogBrokerCloseClosesChannels(t *testing.T) {
	b := engine.NewLogBroker()
	ch, unsub := b.Subscribe("exec-1")
	defer unsub()

	b.Close("exec-1")

	// Channel should be closed; reading should return zero value immediately.
	_, ok := <-ch
	if ok {
		t.Error("channel should be closed after Close()")
	}
}

func TestLogBrokerLateSubscriberGetsClosed(t *testing.T) {
	b := engine.NewLogBroker()
	b.Publish("exec-1", "early")
	b.Close("exec-1")

	// Subscribing after Close yields a closed channel.
	ch, unsub := b.Subscribe("exec-1")
	defer unsub()

	_, ok := <-ch
	if ok {
		t.Error("late subscriber should get a closed channel")
	}
}

func TestLogBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := engine.NewLogBroker()
	ch, unsub := b.Subscribe("exec-1")
	unsub()

	b.Publish("exec-1", "after unsub")
	b.Close("exec-1")

	// The channel should have no messages (we unsubscribed before publish).
	select {
	case l, ok := <-ch:
		if ok {
			t.Errorf("got unexpected line %q after unsubscribe", l)
		}
	default:
		// Nothing delivered.
	}
}

func TestLogBrokerPublishWithoutSubscribers(t *testing.T) {
	b := engine.NewLogBroker()
	b.Publish("nonexistent", "line")
	b.Close("nonexistent")
	b.Close("nonexistent")
	b.Publish("nonexistent", "after close")
}

func TestLogBrokerLateSubscriberReplaysBacklog(t *testing.T) {
	b := engine.NewLogBroker()
	ch1, unsub1 := b.Subscribe("exec-1")
	defer unsub1()

	b.Publish("exec-1", "line 1")

	// Joins after line 1 was published.
	ch2, unsub2 := b.Subscribe("exec-1")
	defer unsub2()

	b.Publish("exec-1", "line 2")
	b.Close("exec-1")

	var got1, got2 []string
	for l := range ch1 {
		got1 = append(got1, l)
	}
	for l := range ch2 {
		got2 = append(got2, l)
	}

	if len(got1) != 2 {
		t.Errorf("subscriber 1 got %d lines, want 2", len(got1))
	}
	if len(got2) != 2 || got2[0] != "line 1" || got2[1] != "line 2" {
		t.Errorf("late subscriber got %v, want [line 1 line 2]", got2)
	}
}

func TestLogBrokerBacklogKeepsMostRecentLines(t *testing.T) {
	b := engine.NewLogBroker()
	for i := range 100 {
		b.Publish("exec-1", fmt.Sprintf("line %d", i))
	}

	ch, unsub := b.Subscribe("exec-1")
	defer unsub()
	b.Close("exec-1")

	var got []string
	for l := range ch {
		got = append(got, l)
	}
	if len(got) == 0 || len(got) >= 100 {
		t.Fatalf("replayed %d lines, want a bounded backlog", len(got))
	}
	if got[len(got)-1] != "line 99" {
		t.Errorf("last replayed line = %q, want line 99", got[len(got)-1])
	}
	first := 100 - len(got)
	if got[0] != fmt.Sprintf("line %d", first) {
		t.Errorf("first replayed line = %q, want line %d", got[0], first)
	}
}

func TestLogBrokerSlowSubscriberDoesNotBlock(t *testing.T) {
	b := engine.NewLogBroker()
	ch, unsub := b.Subscribe("exec-1")
	defer unsub()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 1000 {
			b.Publish("exec-1", fmt.Sprintf("line %d", i))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a subscriber that never reads")
	}

	b.Close("exec-1")
	n := 0
	for range ch {
		n++
	}
	if n == 0 || n >= 1000 {
		t.Errorf("subscriber received %d lines, want some dropped", n)
	}
}
