package controller

import (
	"context"
	"testing"
	"time"

	"kitchen-sim/internal/catalog"
	"kitchen-sim/internal/nodebus/localbus"
)

func twoStepRecipe() catalog.Recipe {
	return catalog.Recipe{
		ID:       7,
		DishName: "soup",
		Actions: []catalog.Action{
			{Name: "chop", Tool: "knife", Duration: time.Second},
			{Name: "fry", Tool: "pan", Duration: time.Second},
		},
	}
}

func robot(position uint32, overallTimeMS uint32, caps ...string) RemoteRobot {
	set := make(map[string]bool, len(caps))
	for _, c := range caps {
		set[c] = true
	}
	return RemoteRobot{
		Endpoint:      "robot-" + string(rune('A'+position)),
		Position:      position,
		Capabilities:  set,
		OverallTimeMS: overallTimeMS,
	}
}

func TestPrefixStrategyPrefersLongerUsablePrefix(t *testing.T) {
	membership := map[uint32]RemoteRobot{
		1: robot(1, 500, "chop"),
		2: robot(2, 500, "chop", "fry"),
	}
	sel, swap, reconfig := prefixStrategy{}.OnNewOrder(membership, twoStepRecipe(), 0)
	if !sel.Found {
		t.Fatal("expected a selection")
	}
	if sel.Robot.Position != 2 {
		t.Errorf("chosen position = %d, want 2 (longer usable prefix)", sel.Robot.Position)
	}
	if swap != nil || reconfig != nil {
		t.Error("default strategy must never request a swap or reconfig")
	}
}

func TestPrefixStrategyTieBreaksByOverallTimeThenPosition(t *testing.T) {
	membership := map[uint32]RemoteRobot{
		1: robot(1, 1000, "chop"),
		2: robot(2, 500, "chop"),
		3: robot(3, 500, "chop"),
	}
	sel, _, _ := prefixStrategy{}.OnNewOrder(membership, twoStepRecipe(), 0)
	if !sel.Found {
		t.Fatal("expected a selection")
	}
	// positions 2 and 3 tie on usable prefix (1) and overall_time
	// (500); position 3 wins the final tie-break.
	if sel.Robot.Position != 3 {
		t.Errorf("chosen position = %d, want 3 (tie-break: lower time then higher position)", sel.Robot.Position)
	}
}

func TestPrefixStrategyNoCapableRobot(t *testing.T) {
	membership := map[uint32]RemoteRobot{
		1: robot(1, 500, "fry"),
	}
	sel, _, _ := prefixStrategy{}.OnNewOrder(membership, twoStepRecipe(), 0)
	if sel.Found {
		t.Fatalf("expected no selection, got %+v", sel.Robot)
	}
}

func TestPrefixStrategyAllStepsDone(t *testing.T) {
	membership := map[uint32]RemoteRobot{1: robot(1, 500, "chop", "fry")}
	sel, _, _ := prefixStrategy{}.OnNewOrder(membership, twoStepRecipe(), 2)
	if sel.Found {
		t.Fatal("expected no selection once processed_steps reaches the recipe length")
	}
}

type fakeResponder struct {
	calls chan receiveNextRobotCall
}

type receiveNextRobotCall struct {
	requesterEndpoint, requesterType string
	position                         uint32
	chosenEndpoint                   string
	recipeID                         uint32
}

func newFakeResponder() *fakeResponder {
	return &fakeResponder{calls: make(chan receiveNextRobotCall, 8)}
}

func (f *fakeResponder) ReceiveNextRobot(ctx context.Context, requesterEndpoint, requesterType string, position uint32, chosenEndpoint string, recipeID uint32) (bool, error) {
	f.calls <- receiveNextRobotCall{requesterEndpoint, requesterType, position, chosenEndpoint, recipeID}
	return true, nil
}

func newTestController(t *testing.T) (*Controller, *fakeResponder) {
	t.Helper()
	cat := &catalog.Catalog{Recipes: map[uint32]catalog.Recipe{7: twoStepRecipe()}}
	responder := newFakeResponder()
	bus := localbus.NewBus(localbus.NewRegistry(), "controller-1")
	c := New("controller-1", time.Second, cat, nil, bus, nil, nil, responder)
	if err := c.Register(); err != nil {
		t.Fatalf("Register: %v", err)
	}
	c.membership[2] = robot(2, 500, "chop", "fry")
	return c, responder
}

// TestChooseNextRobotRepliesAsynchronously covers spec.md §4.4's
// admission-vs-selection split: the method returns accepted=true
// immediately, and the actual choice arrives later via ReceiveNextRobot
// on the requester.
func TestChooseNextRobotRepliesAsynchronously(t *testing.T) {
	c, responder := newTestController(t)
	defer c.Stop()

	ctx := context.Background()
	accepted, err := c.ChooseNextRobot(ctx, 7, 0, "kitchen-1", "kitchen")
	if err != nil {
		t.Fatalf("ChooseNextRobot: %v", err)
	}
	if !accepted {
		t.Fatal("ChooseNextRobot returned accepted=false")
	}

	select {
	case call := <-responder.calls:
		if call.requesterEndpoint != "kitchen-1" || call.requesterType != "kitchen" {
			t.Errorf("reply went to %+v, want kitchen-1/kitchen", call)
		}
		if call.chosenEndpoint != "robot-C" || call.position != 2 {
			t.Errorf("reply chose %+v, want position 2 (robot-C)", call)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for receive_next_robot reply")
	}
}

// TestChooseNextRobotNoCapableRobot covers spec.md §8's no-capable-
// robot drop scenario from the controller's side: the reply carries
// the Output sentinel and an empty endpoint.
func TestChooseNextRobotNoCapableRobot(t *testing.T) {
	cat := &catalog.Catalog{Recipes: map[uint32]catalog.Recipe{7: twoStepRecipe()}}
	responder := newFakeResponder()
	bus := localbus.NewBus(localbus.NewRegistry(), "controller-1")
	c := New("controller-1", time.Second, cat, nil, bus, nil, nil, responder)
	if err := c.Register(); err != nil {
		t.Fatalf("Register: %v", err)
	}
	defer c.Stop()

	if _, err := c.ChooseNextRobot(context.Background(), 7, 0, "conveyor-1", "conveyor"); err != nil {
		t.Fatalf("ChooseNextRobot: %v", err)
	}

	select {
	case call := <-responder.calls:
		if call.chosenEndpoint != "" || call.position != Output {
			t.Errorf("reply = %+v, want empty endpoint and Output position", call)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for receive_next_robot reply")
	}
}
