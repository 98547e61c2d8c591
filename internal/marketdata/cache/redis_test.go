package cache

import (
	"context"
	"testing"
	"time"
)

func TestHealthReturnsErrorWhenUnreachable(t *testing.T) {
	s := New("127.0.0.1:1", "", 0)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := s.Health(ctx); err == nil {
		t.Fatal("expected an error pinging a closed port")
	}
}
