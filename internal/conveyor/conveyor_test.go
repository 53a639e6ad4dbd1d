package conveyor

import (
	"context"
	"sync"
	"testing"
	"time"

	"kitchen-sim/internal/nodebus/localbus"
)

type handoverCall struct {
	endpoint string
}

type receiveTaskCall struct {
	endpoint                                     string
	recipeID, processedSteps, addressedPosition uint32
}

type handoverResult struct {
	recipeID, processedSteps uint32
	isFinished               bool
	err                      error
}

// fakeRobots is a scriptable RobotCaller: callers configure per-endpoint
// results up front, and every call is recorded for assertions.
type fakeRobots struct {
	mu sync.Mutex

	handoverResults map[string]handoverResult
	handoverCalls   []handoverCall

	receiveTaskAccept bool
	receiveTaskCalls  []receiveTaskCall
}

func newFakeRobots() *fakeRobots {
	return &fakeRobots{
		handoverResults:   make(map[string]handoverResult),
		receiveTaskAccept: true,
	}
}

func (f *fakeRobots) HandoverFinishedOrder(ctx context.Context, endpoint string) (uint32, uint32, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handoverCalls = append(f.handoverCalls, handoverCall{endpoint})
	res := f.handoverResults[endpoint]
	return res.recipeID, res.processedSteps, res.isFinished, res.err
}

func (f *fakeRobots) ReceiveTask(ctx context.Context, endpoint string, recipeID, processedSteps, addressedPosition uint32) (uint32, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiveTaskCalls = append(f.receiveTaskCalls, receiveTaskCall{endpoint, recipeID, processedSteps, addressedPosition})
	return addressedPosition, f.receiveTaskAccept, nil
}

func (f *fakeRobots) handoverCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handoverCalls)
}

func (f *fakeRobots) receiveTaskCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.receiveTaskCalls)
}

type chooseNextRobotCall struct {
	recipeID, processedSteps uint32
	requesterEndpoint        string
	requesterType            string
}

// fakeController records every choose_next_robot request; tests reply
// by invoking Conveyor.ReceiveNextRobot directly, mimicking the
// Controller's asynchronous callback.
type fakeController struct {
	calls chan chooseNextRobotCall
}

func newFakeController() *fakeController {
	return &fakeController{calls: make(chan chooseNextRobotCall, 8)}
}

func (f *fakeController) ChooseNextRobot(ctx context.Context, recipeID, processedSteps uint32, requesterEndpoint, requesterType string) (bool, error) {
	f.calls <- chooseNextRobotCall{recipeID, processedSteps, requesterEndpoint, requesterType}
	return true, nil
}

type fakeKitchen struct {
	completed chan uint32
	dropped   chan uint32
}

func newFakeKitchen() *fakeKitchen {
	return &fakeKitchen{completed: make(chan uint32, 8), dropped: make(chan uint32, 8)}
}

func (f *fakeKitchen) ReceiveCompletedOrder(ctx context.Context, recipeID uint32) (bool, error) {
	f.completed <- recipeID
	return true, nil
}

func (f *fakeKitchen) ReceiveDroppedOrder(ctx context.Context, recipeID uint32) (bool, error) {
	f.dropped <- recipeID
	return true, nil
}

func newTestConveyor(t *testing.T, robotCount uint32, robots *fakeRobots, controller *fakeController, kitchen *fakeKitchen) *Conveyor {
	t.Helper()
	bus := localbus.NewBus(localbus.NewRegistry(), "conveyor-1")
	c := New("conveyor-1", robotCount, 10*time.Millisecond, bus, robots, controller, kitchen, nil, nil)
	if err := c.Register(); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return c
}

// TestIdempotentNotification covers spec.md §8's "Idempotent
// notifications" property: rapid repeated calls for the same position
// collapse into a single retrieval.
func TestIdempotentNotification(t *testing.T) {
	robots := newFakeRobots()
	robots.handoverResults["robot-A"] = handoverResult{recipeID: 1, processedSteps: 2, isFinished: true}
	controller := newFakeController()
	kitchen := newFakeKitchen()
	c := newTestConveyor(t, 2, robots, controller, kitchen)
	defer c.Stop()

	// Plate at position 1 belongs to robot-A per the ring's initial
	// layout (plate i starts at position i).
	for i := 0; i < 5; i++ {
		if ok := c.FinishedOrderNotification("robot-A", 1); !ok {
			t.Fatalf("FinishedOrderNotification call %d returned false", i)
		}
	}

	deadline := time.After(1 * time.Second)
	for robots.handoverCallCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for handover_finished_order retrieval")
		case <-time.After(5 * time.Millisecond):
		}
	}
	time.Sleep(20 * time.Millisecond) // let any duplicate retrievals (bug) surface
	if got := robots.handoverCallCount(); got != 1 {
		t.Errorf("handoverCallCount = %d, want 1 (idempotent)", got)
	}

	select {
	case recipeID := <-kitchen.completed:
		if recipeID != 1 {
			t.Errorf("completed recipeID = %d, want 1", recipeID)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for receive_completed_order delivery")
	}
}

// TestNotificationDuringTransitDrains covers spec.md §8's Progress
// property: a notification that arrives while the belt is mid-transit
// (state == Moving) must still drain once the belt returns to Idling,
// not just when a later, differently-positioned notification happens
// to arrive while already Idling.
func TestNotificationDuringTransitDrains(t *testing.T) {
	robots := newFakeRobots()
	robots.handoverResults["robot-A"] = handoverResult{recipeID: 1, processedSteps: 2, isFinished: true}
	robots.handoverResults["robot-B"] = handoverResult{recipeID: 2, processedSteps: 3, isFinished: true}
	controller := newFakeController()
	kitchen := newFakeKitchen()
	c := newTestConveyor(t, 2, robots, controller, kitchen)
	defer c.Stop()

	// robot-A's notification is retrieved immediately (belt was
	// Idling) and starts the belt moving toward OUTPUT. robot-B's
	// notification, posted right after, lands on the worker while the
	// belt is already Moving and must only be queued.
	if ok := c.FinishedOrderNotification("robot-A", 1); !ok {
		t.Fatal("FinishedOrderNotification(robot-A) returned false")
	}
	if ok := c.FinishedOrderNotification("robot-B", 2); !ok {
		t.Fatal("FinishedOrderNotification(robot-B) returned false")
	}

	seen := map[uint32]bool{}
	deadline := time.After(2 * time.Second)
	for len(seen) < 2 {
		select {
		case recipeID := <-kitchen.completed:
			seen[recipeID] = true
		case <-deadline:
			t.Fatalf("timed out waiting for both deliveries, got %v", seen)
		}
	}
	if !seen[1] || !seen[2] {
		t.Errorf("completed recipes = %v, want both 1 and 2", seen)
	}
	if got := robots.handoverCallCount(); got != 2 {
		t.Errorf("handoverCallCount = %d, want 2 (robot-B's mid-transit notification must still drain)", got)
	}
}

// TestHandoverToNextRobot covers spec.md §8 seed scenario 2's belt
// side: a partially-finished plate is retrieved, the controller is
// asked for the next robot, and once it replies the plate is handed
// on and freed once accepted.
func TestHandoverToNextRobot(t *testing.T) {
	robots := newFakeRobots()
	robots.handoverResults["robot-A"] = handoverResult{recipeID: 7, processedSteps: 1, isFinished: false}
	controller := newFakeController()
	kitchen := newFakeKitchen()
	c := newTestConveyor(t, 2, robots, controller, kitchen)
	defer c.Stop()

	c.FinishedOrderNotification("robot-A", 1)

	var req chooseNextRobotCall
	select {
	case req = <-controller.calls:
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for choose_next_robot request")
	}
	if req.recipeID != 7 || req.processedSteps != 1 || req.requesterType != "conveyor" {
		t.Fatalf("unexpected choose_next_robot request: %+v", req)
	}

	if ok := c.ReceiveNextRobot(2, "robot-B", 7); !ok {
		t.Fatal("ReceiveNextRobot returned false")
	}

	deadline := time.After(1 * time.Second)
	for robots.receiveTaskCallCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for receive_task handover to robot-B")
		case <-time.After(5 * time.Millisecond):
		}
	}
	calls := robots.receiveTaskCalls
	if len(calls) != 1 {
		t.Fatalf("receiveTaskCalls = %d, want 1", len(calls))
	}
	if calls[0].endpoint != "robot-B" || calls[0].recipeID != 7 || calls[0].processedSteps != 1 {
		t.Errorf("receive_task call = %+v, want endpoint=robot-B recipeID=7 processedSteps=1", calls[0])
	}
}

// TestDeadRobotDropsPlate covers spec.md §8 seed scenario 5: a
// handover-retrieval RPC failure (dead robot) routes the plate to
// OUTPUT and the Kitchen sees it as dropped.
func TestDeadRobotDropsPlate(t *testing.T) {
	robots := newFakeRobots()
	robots.handoverResults["robot-dead"] = handoverResult{err: errTransport{}}
	controller := newFakeController()
	kitchen := newFakeKitchen()
	c := newTestConveyor(t, 1, robots, controller, kitchen)
	defer c.Stop()

	c.FinishedOrderNotification("robot-dead", 1)

	select {
	case recipeID := <-kitchen.dropped:
		if recipeID != 0 {
			t.Errorf("dropped recipeID = %d, want 0 (unknown, robot died before reporting)", recipeID)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for receive_dropped_order delivery")
	}
}

type errTransport struct{}

func (errTransport) Error() string { return "transport: robot unreachable" }
