package events

import "testing"

func TestHubFanOut(t *testing.T) {
	h := NewHub()
	a := h.Subscribe()
	b := h.Subscribe()
	defer h.Unsubscribe(b)

	h.Publish("one")
	if got := <-a; got != "one" {
		t.Errorf("subscriber a got %q, want %q", got, "one")
	}
	if got := <-b; got != "one" {
		t.Errorf("subscriber b got %q, want %q", got, "one")
	}

	h.Unsubscribe(a)
	if _, ok := <-a; ok {
		t.Error("channel still open after unsubscribe")
	}
}

func TestHubDropsWhenSubscriberIsSlow(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe()
	defer h.Unsubscribe(ch)

	// nobody drains; publishing past the buffer must not block
	for i := 0; i < 40; i++ {
		h.Publish("evt")
	}
	if n := len(ch); n != cap(ch) {
		t.Errorf("buffered = %d, want a full buffer of %d", n, cap(ch))
	}
}
