package kitchen

import (
	"context"
	"sync"
	"testing"
	"time"

	"kitchen-sim/internal/catalog"
	"kitchen-sim/internal/nodebus/localbus"
)

func oneRecipeCatalog() *catalog.Catalog {
	return &catalog.Catalog{Recipes: map[uint32]catalog.Recipe{
		1: {ID: 1, DishName: "soup", Actions: []catalog.Action{{Name: "chop"}, {Name: "fry"}}},
	}}
}

type chooseCall struct {
	at                time.Time
	recipeID          uint32
	requesterEndpoint string
	requesterType     string
}

type fakeController struct {
	mu    sync.Mutex
	calls []chooseCall
}

func (f *fakeController) ChooseNextRobot(ctx context.Context, recipeID, processedSteps uint32, requesterEndpoint, requesterType string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, chooseCall{time.Now(), recipeID, requesterEndpoint, requesterType})
	return true, nil
}

func (f *fakeController) snapshot() []chooseCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]chooseCall, len(f.calls))
	copy(out, f.calls)
	return out
}

type fakeRobots struct {
	accept bool
}

func (f *fakeRobots) ReceiveTask(ctx context.Context, endpoint string, recipeID, processedSteps, addressedPosition uint32) (uint32, bool, error) {
	return addressedPosition, f.accept, nil
}

func newTestKitchen(t *testing.T, robotCount uint32, placingRate time.Duration, controller *fakeController, robots *fakeRobots) *Kitchen {
	t.Helper()
	bus := localbus.NewBus(localbus.NewRegistry(), "kitchen-1")
	k := New("kitchen-1", robotCount, placingRate, oneRecipeCatalog(), bus, nil, nil, controller, robots, nil)
	if err := k.Register(); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return k
}

// TestPlaceRandomOrderRateLimitsController covers spec.md §8's Rate
// property: consecutive choose_next_robot calls arrive no closer than
// PLACING_RATE apart, except the very first.
func TestPlaceRandomOrderRateLimitsController(t *testing.T) {
	controller := &fakeController{}
	k := newTestKitchen(t, 1, 30*time.Millisecond, controller, &fakeRobots{accept: true})
	defer k.Stop()

	const n = 4
	for i := 0; i < n; i++ {
		if ok := k.PlaceRandomOrder(); !ok {
			t.Fatalf("PlaceRandomOrder call %d returned false", i)
		}
	}

	deadline := time.After(2 * time.Second)
	for len(controller.snapshot()) < n {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d choose_next_robot calls, got %d", n, len(controller.snapshot()))
		case <-time.After(10 * time.Millisecond):
		}
	}

	calls := controller.snapshot()
	for i := 1; i < len(calls); i++ {
		gap := calls[i].at.Sub(calls[i-1].at)
		if gap < 25*time.Millisecond { // small slack below the 30ms rate
			t.Errorf("call %d arrived only %v after call %d, want >= ~placing_rate", i, gap, i-1)
		}
	}
}

func TestReceiveNextRobotDropsWhenNoCapableRobot(t *testing.T) {
	controller := &fakeController{}
	k := newTestKitchen(t, 1, time.Second, controller, &fakeRobots{accept: true})
	defer k.Stop()

	if ok := k.ReceiveNextRobot(Output, "", 1); !ok {
		t.Fatal("ReceiveNextRobot returned false")
	}
	_, _, dropped, _ := k.pub.snapshot()
	if dropped != 1 {
		t.Errorf("dropped_orders = %d, want 1", dropped)
	}
}

func TestReceiveNextRobotAssignsAcceptingRobot(t *testing.T) {
	controller := &fakeController{}
	k := newTestKitchen(t, 1, time.Second, controller, &fakeRobots{accept: true})
	defer k.Stop()
	// Pre-populate the session so ReceiveNextRobot skips
	// ensureRobotSession (which needs a live nodebus.Client).
	k.worker.Post(func() {
		k.byEndpoint["robot-A"] = &remoteRobot{endpoint: "robot-A", position: 1}
		k.membership[1] = k.byEndpoint["robot-A"]
	})

	if ok := k.ReceiveNextRobot(1, "robot-A", 1); !ok {
		t.Fatal("ReceiveNextRobot returned false")
	}
	_, assigned, _, _ := k.pub.snapshot()
	if assigned != 1 {
		t.Errorf("assigned_orders = %d, want 1", assigned)
	}
}

func TestReceiveNextRobotDropsWhenRobotRejects(t *testing.T) {
	controller := &fakeController{}
	k := newTestKitchen(t, 1, time.Second, controller, &fakeRobots{accept: false})
	defer k.Stop()
	k.worker.Post(func() {
		k.byEndpoint["robot-A"] = &remoteRobot{endpoint: "robot-A", position: 1}
		k.membership[1] = k.byEndpoint["robot-A"]
	})

	if ok := k.ReceiveNextRobot(1, "robot-A", 1); !ok {
		t.Fatal("ReceiveNextRobot returned false")
	}
	_, _, dropped, _ := k.pub.snapshot()
	if dropped != 1 {
		t.Errorf("dropped_orders = %d, want 1", dropped)
	}
}

// TestOnRobotPositionChangeSwapsMembership is spec.md §8 seed scenario
// 6: two robots trade physical positions and the kitchen's
// position -> robot mirror must follow, not duplicate or drop either.
func TestOnRobotPositionChangeSwapsMembership(t *testing.T) {
	controller := &fakeController{}
	k := newTestKitchen(t, 2, time.Second, controller, &fakeRobots{accept: true})
	defer k.Stop()

	done := make(chan struct{})
	k.worker.Post(func() {
		a := &remoteRobot{endpoint: "robot-A", position: 1}
		b := &remoteRobot{endpoint: "robot-B", position: 2}
		k.membership[1] = a
		k.membership[2] = b
		k.byEndpoint["robot-A"] = a
		k.byEndpoint["robot-B"] = b

		// robot-A reports it is now at position 2, where robot-B sits.
		k.onRobotPositionChange(1, 2)
		close(done)
	})
	<-done

	verify := make(chan struct{})
	k.worker.Post(func() {
		defer close(verify)
		atTwo, ok := k.membership[2]
		if !ok || atTwo.endpoint != "robot-A" {
			t.Errorf("membership[2] = %+v, want robot-A", atTwo)
		}
		atOne, ok := k.membership[1]
		if !ok || atOne.endpoint != "robot-B" {
			t.Errorf("membership[1] = %+v, want robot-B (displaced)", atOne)
		}
		if len(k.membership) != 2 {
			t.Errorf("len(membership) = %d, want 2 (no duplicate/drop)", len(k.membership))
		}
	})
	<-verify
}

func TestReceiveCompletedAndDroppedOrderCounters(t *testing.T) {
	controller := &fakeController{}
	k := newTestKitchen(t, 1, time.Second, controller, &fakeRobots{accept: true})
	defer k.Stop()

	if ok := k.ReceiveCompletedOrder(1); !ok {
		t.Fatal("ReceiveCompletedOrder returned false")
	}
	if ok := k.ReceiveDroppedOrder(2); !ok {
		t.Fatal("ReceiveDroppedOrder returned false")
	}
	_, _, dropped, completed := k.pub.snapshot()
	if completed != 1 || dropped != 1 {
		t.Errorf("completed=%d dropped=%d, want 1 and 1", completed, dropped)
	}
}
