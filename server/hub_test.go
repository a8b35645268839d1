package server

import (
	"testing"

	"github.com/onnwee/chatpoll/ledger"
)

func TestHubSubscribeGetsLatest(t *testing.T) {
	h := NewHub()
	h.Publish(ledger.Snapshot{{Text: "a", Count: 1}})

	ch, cancel := h.Subscribe()
	defer cancel()
	if got := string(<-ch); got != `[{"text":"a","count":1}]` {
		t.Errorf("first frame = %s", got)
	}
	if h.Clients() != 1 {
		t.Errorf("clients = %d", h.Clients())
	}
}

func TestHubSlowClientGetsNewestFrame(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe()
	defer cancel()

	// nobody reads while three frames are published
	h.Publish(ledger.Snapshot{{Text: "a", Count: 1}})
	h.Publish(ledger.Snapshot{{Text: "a", Count: 2}})
	h.Publish(nil)

	if got := string(<-ch); got != `[]` {
		t.Errorf("frame = %s, want newest", got)
	}
	select {
	case f := <-ch:
		t.Errorf("unexpected extra frame %s", f)
	default:
	}
}

func TestHubUnsubscribe(t *testing.T) {
	h := NewHub()
	_, cancel := h.Subscribe()
	cancel()
	cancel()
	if h.Clients() != 0 {
		t.Errorf("clients = %d", h.Clients())
	}
	h.Publish(ledger.Snapshot{})
}

func TestHubAttachFollowsLedger(t *testing.T) {
	l, err := ledger.New(ledger.DefaultSettings())
	if err != nil {
		t.Fatal(err)
	}
	l.Ingest("first")

	h := NewHub()
	h.Attach(l)
	if got := string(h.Latest()); got != `[{"text":"first","count":1}]` {
		t.Errorf("seeded frame = %s", got)
	}
	l.Ingest("first")
	if got := string(h.Latest()); got != `[{"text":"first","count":2}]` {
		t.Errorf("followed frame = %s", got)
	}

	h.Close()
	l.Ingest("first")
	if got := string(h.Latest()); got != `[{"text":"first","count":2}]` {
		t.Errorf("closed hub still updated: %s", got)
	}
}
