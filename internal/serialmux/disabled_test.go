package serialmux

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// waitClosed fails the test unless ch is closed without delivering a line.
func waitClosed(t *testing.T, ch chan string, what string) {
	t.Helper()
	select {
	case line, ok := <-ch:
		if ok {
			t.Fatalf("%s: got line %q from a receiver that is not attached", what, line)
		}
	case <-time.After(time.Second):
		t.Fatalf("%s: channel still open", what)
	}
}

func TestDisabledReceiverUnsubscribeEndsFeed(t *testing.T) {
	var lm LineMux = NewDisabledSerialMux()
	id, lines := lm.Subscribe()
	lm.Unsubscribe(id)
	waitClosed(t, lines, "unsubscribed feed")

	// Unknown and repeated ids are ignored.
	lm.Unsubscribe(id)
	lm.Unsubscribe("no-such-subscriber")
}

func TestDisabledReceiverCloseEndsEveryFeed(t *testing.T) {
	d := NewDisabledSerialMux()
	_, decoder := d.Subscribe()
	_, logger := d.Subscribe()

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	waitClosed(t, decoder, "decoder feed")
	waitClosed(t, logger, "logger feed")

	if err := d.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	_, late := d.Subscribe()
	waitClosed(t, late, "subscription after Close")
}

func TestDisabledReceiverAcceptsCommands(t *testing.T) {
	d := NewDisabledSerialMux()
	if err := d.Initialise(); err != nil {
		t.Errorf("Initialise: %v", err)
	}
	if err := d.SendCommand(Sentence("PMTK220,1000")); err != nil {
		t.Errorf("SendCommand: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Monitor(ctx) }()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Monitor returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
}

func TestDisabledReceiverAdminRoutes(t *testing.T) {
	d := NewDisabledSerialMux()
	mux := http.NewServeMux()
	d.AttachAdminRoutes(mux)

	// The routes are registered even without a receiver.
	_, pattern := mux.Handler(httptest.NewRequest(http.MethodGet, "/debug/gps/tail", nil))
	if pattern == "" {
		t.Error("no handler registered for /debug/gps/tail")
	}
}
