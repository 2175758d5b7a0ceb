package localchannel_test

import (
	"sync"
	"testing"
	"time"

	"github.com/dnovik/scheduler"
	"github.com/dnovik/scheduler/drivers/localchannel"
)

func TestConnectTransitionsToConnected(t *testing.T) {
	ch := localchannel.New()
	if ch.State() != scheduler.ChannelDisconnected {
		t.Fatalf("expected initial state disconnected, got %s", ch.State())
	}
	if err := ch.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if ch.State() != scheduler.ChannelConnected {
		t.Fatalf("expected connected, got %s", ch.State())
	}
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	ch := localchannel.New()
	if err := ch.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer ch.Disconnect()

	var mu sync.Mutex
	var got *scheduler.JobNotification
	done := make(chan struct{})
	ch.Subscribe(func(n scheduler.JobNotification) {
		mu.Lock()
		got = &n
		mu.Unlock()
		close(done)
	})

	if err := ch.Publish(scheduler.JobNotification{JobID: "j1", JobName: "send-email"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	if got == nil || got.JobID != "j1" {
		t.Fatalf("expected delivered notification for j1, got %+v", got)
	}
}

func TestPublishAfterDisconnectReturnsErrClosed(t *testing.T) {
	ch := localchannel.New()
	if err := ch.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := ch.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := ch.Publish(scheduler.JobNotification{JobID: "j2"}); err != localchannel.ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestOnStateChangeFiresOnTransitions(t *testing.T) {
	ch := localchannel.New()
	seen := make(chan scheduler.ChannelState, 4)
	ch.OnStateChange(func(s scheduler.ChannelState) { seen <- s })

	if err := ch.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	select {
	case s := <-seen:
		if s != scheduler.ChannelConnected {
			t.Fatalf("expected connected, got %s", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for state change")
	}
}
