package events

import (
	"sync"
	"testing"
	"time"
)

func TestHubFanOut(t *testing.T) {
	h := NewHub()
	ch1, cancel1 := h.Subscribe()
	ch2, cancel2 := h.Subscribe()
	defer cancel1()
	defer cancel2()

	h.Publish(Event{Type: "reading", DeviceID: "esp32-001", FarmerID: 1})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case evt := <-ch:
			if evt.DeviceID != "esp32-001" || evt.TSUnixMillis == 0 {
				t.Fatalf("subscriber %d: unexpected event %+v", i, evt)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: no event", i)
		}
	}
}

func TestHubDropsWhenSubscriberFull(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe()
	defer cancel()

	// Over-fill the buffer; Publish must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			h.Publish(Event{Type: "reading", DeviceID: "esp32-001"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a slow subscriber")
	}

	if len(ch) != cap(ch) {
		t.Fatalf("expected a full buffer, got %d/%d", len(ch), cap(ch))
	}
}

// Publishing must survive subscribers leaving at any moment: a send on a
// channel that cancel just closed would panic the publishing goroutine, which
// in production is the MQTT ingest path.
func TestHubPublishDuringUnsubscribe(t *testing.T) {
	h := NewHub()
	stop := make(chan struct{})

	var pub sync.WaitGroup
	pub.Add(1)
	go func() {
		defer pub.Done()
		for {
			select {
			case <-stop:
				return
			default:
				h.Publish(Event{Type: "reading", DeviceID: "esp32-001"})
			}
		}
	}()

	var subs sync.WaitGroup
	for i := 0; i < 4; i++ {
		subs.Add(1)
		go func() {
			defer subs.Done()
			for j := 0; j < 500; j++ {
				_, cancel := h.Subscribe()
				subs.Add(1)
				go func() {
					defer subs.Done()
					cancel()
				}()
			}
		}()
	}
	subs.Wait()
	close(stop)
	pub.Wait()
}

func TestHubCancelIsIdempotent(t *testing.T) {
	h := NewHub()
	_, cancel := h.Subscribe()
	cancel()
	cancel()

	// Publishing after cancel must not panic on the closed channel.
	h.Publish(Event{Type: "alert"})
}
