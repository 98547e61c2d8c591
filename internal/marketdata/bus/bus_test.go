package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	b := New()
	var got int32
	var wg sync.WaitGroup
	wg.Add(2)

	b.Subscribe("ch", func(ctx context.Context, channel string, payload interface{}) {
		defer wg.Done()
		atomic.AddInt32(&got, 1)
	})
	b.Subscribe("ch", func(ctx context.Context, channel string, payload interface{}) {
		defer wg.Done()
		atomic.AddInt32(&got, 1)
	})

	b.Publish(context.Background(), "ch", "hello")

	waitOrTimeout(t, &wg, time.Second)
	if atomic.LoadInt32(&got) != 2 {
		t.Fatalf("expected both subscribers invoked, got %d", got)
	}
}

func TestPublishToUnknownChannelIsNoop(t *testing.T) {
	b := New()
	b.Publish(context.Background(), "nobody-listening", 42)
}

func TestPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	b := New()
	release := make(chan struct{})
	b.Subscribe("ch", func(ctx context.Context, channel string, payload interface{}) {
		<-release
	})

	done := make(chan struct{})
	go func() {
		b.Publish(context.Background(), "ch", "x")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	close(release)
}

func TestPanickingHandlerDoesNotCrashPublisher(t *testing.T) {
	b := New()
	var wg sync.WaitGroup
	wg.Add(1)
	b.Subscribe("ch", func(ctx context.Context, channel string, payload interface{}) {
		defer wg.Done()
		panic("boom")
	})
	b.Publish(context.Background(), "ch", "x")
	waitOrTimeout(t, &wg, time.Second)
}

func TestHealthReflectsLifecycleAndSubscriptions(t *testing.T) {
	b := New()
	if b.Health().Healthy {
		t.Fatal("expected unhealthy before Start")
	}
	_ = b.Start(context.Background())
	b.Subscribe("a", func(ctx context.Context, channel string, payload interface{}) {})
	b.Subscribe("b", func(ctx context.Context, channel string, payload interface{}) {})

	h := b.Health()
	if !h.Healthy {
		t.Fatal("expected healthy after Start")
	}
	if h.ActiveChannels != 2 || h.ActiveHandlers != 2 {
		t.Fatalf("expected 2 channels / 2 handlers, got %+v", h)
	}
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for async delivery")
	}
}
