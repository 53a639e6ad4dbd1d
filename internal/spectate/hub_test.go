package spectate

import (
	"testing"
	"time"

	"kitchen-sim/internal/events"
)

func TestHubBroadcastDoesNotBlockWithNoClients(t *testing.T) {
	h := NewHub()
	go h.Run()
	defer h.Stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 512; i++ {
			h.Broadcast(events.OrderEvent{Kind: events.Completed, RecipeID: uint32(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked with no connected clients")
	}
}

func TestHubClientCount(t *testing.T) {
	h := NewHub()
	if got := h.ClientCount(); got != 0 {
		t.Errorf("ClientCount() = %d, want 0", got)
	}
}
