package robot

import (
	"context"
	"testing"
	"time"

	"kitchen-sim/internal/catalog"
	"kitchen-sim/internal/nodebus"
	"kitchen-sim/internal/nodebus/localbus"
)

func chopFryCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	reg := catalog.NewRegistry()
	reg.Add(catalog.ActionDef{Name: "chop", Tool: "PEELER", Kind: catalog.Autonomous, AutonomousDuration: 30 * time.Millisecond})
	reg.Add(catalog.ActionDef{Name: "fry", Tool: "PAN", Kind: catalog.Autonomous, AutonomousDuration: 50 * time.Millisecond})
	reg.Add(catalog.ActionDef{Name: "serve", Tool: "PAN", Kind: catalog.Autonomous, AutonomousDuration: 10 * time.Millisecond})

	cat := &catalog.Catalog{Registry: reg, Recipes: map[uint32]catalog.Recipe{}}
	cat.Recipes[1] = catalog.Recipe{
		ID:       1,
		DishName: "Veg Stir Fry",
		Actions: []catalog.Action{
			{Name: "chop", Tool: "PEELER", Ingredients: "veg", Duration: 30 * time.Millisecond},
			{Name: "fry", Tool: "PAN", Ingredients: "veg", Duration: 50 * time.Millisecond},
		},
	}
	cat.Recipes[2] = catalog.Recipe{
		ID:       2,
		DishName: "Quick Plate",
		Actions: []catalog.Action{
			{Name: "chop", Tool: "PEELER", Ingredients: "veg", Duration: 30 * time.Millisecond},
			{Name: "fry", Tool: "PAN", Ingredients: "veg", Duration: 50 * time.Millisecond},
			{Name: "serve", Tool: "PAN", Ingredients: "plate", Duration: 10 * time.Millisecond},
		},
	}
	return cat
}

// fakeConveyor records every finished_order_notification call it
// receives, for assertions, without needing a real Conveyor agent.
type fakeConveyor struct {
	notified chan struct {
		endpoint string
		position uint32
	}
}

func newFakeConveyor() *fakeConveyor {
	return &fakeConveyor{notified: make(chan struct {
		endpoint string
		position uint32
	}, 8)}
}

func (f *fakeConveyor) FinishedOrderNotification(ctx context.Context, endpoint string, position uint32) (bool, error) {
	f.notified <- struct {
		endpoint string
		position uint32
	}{endpoint, position}
	return true, nil
}

// TestSingleRobotSingleRecipe is spec.md §8 seed scenario 1: a single
// robot capable of a recipe's entire action list cooks it end to end.
func TestSingleRobotSingleRecipe(t *testing.T) {
	cat := chopFryCatalog(t)
	conveyor := newFakeConveyor()

	reg := localbus.NewRegistry()
	bus := localbus.NewBus(reg, "robot-1")

	caps := map[string]bool{"chop": true, "fry": true}
	r := New("robot-1", 1, caps, cat, 200*time.Millisecond, bus, conveyor)
	if err := r.Register(); err != nil {
		t.Fatalf("Register: %v", err)
	}
	defer r.Stop()

	actualPos, accepted := r.ReceiveTask(1, 0, 1)
	if !accepted {
		t.Fatalf("ReceiveTask: not accepted")
	}
	if actualPos != 1 {
		t.Fatalf("actualPos = %d, want 1", actualPos)
	}

	select {
	case notif := <-conveyor.notified:
		if notif.endpoint != "robot-1" || notif.position != 1 {
			t.Errorf("notification = %+v, want endpoint=robot-1 position=1", notif)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for finished_order_notification")
	}

	res := r.HandoverFinishedOrder()
	if res.recipeID != 1 {
		t.Errorf("recipeID = %d, want 1", res.recipeID)
	}
	if res.processedSteps != 2 {
		t.Errorf("processedSteps = %d, want 2", res.processedSteps)
	}
	if !res.isFinished {
		t.Errorf("isFinished = false, want true")
	}
}

// TestReceiveTaskStalePosition covers spec.md §4.2 step 1: a task
// addressed to a stale position is rejected without mutating state.
func TestReceiveTaskStalePosition(t *testing.T) {
	cat := chopFryCatalog(t)
	conveyor := newFakeConveyor()
	reg := localbus.NewRegistry()
	bus := localbus.NewBus(reg, "robot-1")

	r := New("robot-1", 1, map[string]bool{"chop": true}, cat, 200*time.Millisecond, bus, conveyor)
	if err := r.Register(); err != nil {
		t.Fatalf("Register: %v", err)
	}
	defer r.Stop()

	actualPos, accepted := r.ReceiveTask(1, 0, 2)
	if accepted {
		t.Fatalf("expected rejection for stale position, got accepted=true")
	}
	if actualPos != 1 {
		t.Errorf("actualPos = %d, want 1 (robot's real position)", actualPos)
	}
}

// TestHandoverAcrossTwoRobots is spec.md §8 seed scenario 2: robot A
// cooks a prefix, hands it over on notification, robot B (not wired
// here directly — only its receive_task entrypoint is exercised)
// finishes the rest.
func TestHandoverAcrossTwoRobots(t *testing.T) {
	cat := chopFryCatalog(t)

	regA := localbus.NewRegistry()
	busA := localbus.NewBus(regA, "robot-A")
	convA := newFakeConveyor()
	robotA := New("robot-A", 2, map[string]bool{"chop": true}, cat, 50*time.Millisecond, busA, convA)
	if err := robotA.Register(); err != nil {
		t.Fatalf("Register A: %v", err)
	}
	defer robotA.Stop()

	busB := localbus.NewBus(localbus.NewRegistry(), "robot-B")
	convB := newFakeConveyor()
	robotB := New("robot-B", 1, map[string]bool{"fry": true, "serve": true}, cat, 50*time.Millisecond, busB, convB)
	if err := robotB.Register(); err != nil {
		t.Fatalf("Register B: %v", err)
	}
	defer robotB.Stop()

	// Recipe 2: chop, fry, serve. A does chop only.
	actualPos, accepted := robotA.ReceiveTask(2, 0, 2)
	if !accepted || actualPos != 2 {
		t.Fatalf("robotA.ReceiveTask: actualPos=%d accepted=%v", actualPos, accepted)
	}
	select {
	case notif := <-convA.notified:
		if notif.position != 2 {
			t.Errorf("notif.position = %d, want 2", notif.position)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for robot A's finished_order_notification")
	}
	resA := robotA.HandoverFinishedOrder()
	if resA.isFinished {
		t.Errorf("resA.isFinished = true, want false (only chop done)")
	}
	if resA.processedSteps != 1 {
		t.Errorf("resA.processedSteps = %d, want 1", resA.processedSteps)
	}

	// Conveyor would move the plate and call robotB.receive_task with
	// the updated processed_steps.
	actualPosB, acceptedB := robotB.ReceiveTask(2, resA.processedSteps, 1)
	if !acceptedB || actualPosB != 1 {
		t.Fatalf("robotB.ReceiveTask: actualPos=%d accepted=%v", actualPosB, acceptedB)
	}
	select {
	case notif := <-convB.notified:
		if notif.position != 1 {
			t.Errorf("notif.position = %d, want 1", notif.position)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for robot B's finished_order_notification")
	}
	resB := robotB.HandoverFinishedOrder()
	if !resB.isFinished {
		t.Errorf("resB.isFinished = false, want true")
	}
	if resB.processedSteps != 3 {
		t.Errorf("resB.processedSteps = %d, want 3", resB.processedSteps)
	}
}

// TestOverallTimeAttributePublished exercises the nodebus attribute
// surface rather than the Go struct directly, confirming the reply is
// readable via the bus like any remote peer would see it.
func TestOverallTimeAttributePublished(t *testing.T) {
	cat := chopFryCatalog(t)
	conveyor := newFakeConveyor()
	reg := localbus.NewRegistry()
	bus := localbus.NewBus(reg, "robot-1")
	client := localbus.NewClient(reg)

	r := New("robot-1", 1, map[string]bool{"chop": true, "fry": true}, cat, 200*time.Millisecond, bus, conveyor)
	if err := r.Register(); err != nil {
		t.Fatalf("Register: %v", err)
	}
	defer r.Stop()

	ctx := context.Background()
	sess, err := client.Connect(ctx, "robot-1")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	r.ReceiveTask(1, 0, 1)

	val, err := client.Read(ctx, sess, "Robot", "overall_time")
	if err != nil {
		t.Fatalf("Read overall_time: %v", err)
	}
	if val.Kind != nodebus.KindU32 {
		t.Fatalf("Kind = %v, want KindU32", val.Kind)
	}
	if val.U32 == 0 {
		t.Errorf("overall_time = 0, want > 0 immediately after receive_task")
	}
}
