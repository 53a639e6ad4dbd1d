// Package robot implements the Robot agent: it holds a capability
// profile, executes recipe actions with simulated durations and
// retooling costs, and hands finished (or partially finished) plates
// off to the Conveyor. See spec.md §4.2 for the full state machine.
package robot

import (
	"context"
	"log"
	"sync"
	"time"

	"kitchen-sim/internal/catalog"
	"kitchen-sim/internal/nodebus"
	"kitchen-sim/internal/worker"
)

// State is the robot's coarse-grained state machine (spec.md §4.2).
type State int

const (
	Idle State = iota
	Cooking
	Retooling
	Finished
	AwaitingPickup
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Cooking:
		return "COOKING"
	case Retooling:
		return "RETOOLING"
	case Finished:
		return "FINISHED"
	case AwaitingPickup:
		return "AWAITING_PICKUP"
	default:
		return "UNKNOWN"
	}
}

const noneSentinel = "None"

// ConveyorNotifier is the narrow collaborator interface a Robot uses
// to reach its Conveyor — kept separate from the conveyor package to
// avoid an import cycle (the conveyor in turn calls back into robots).
type ConveyorNotifier interface {
	FinishedOrderNotification(ctx context.Context, robotEndpoint string, position uint32) (bool, error)
}

// order is one round of work queued on the robot: either reserved
// (not yet cooking) or the round currently in progress.
type order struct {
	recipeID         uint32
	processedBefore  uint32 // overall_processed_steps on arrival
	processableSteps uint32 // k: steps this round will perform
	actions          []catalog.Action
}

// published is the robot's bus-visible attribute snapshot, guarded
// separately from domain state because Bus.Read can be invoked from
// any client goroutine concurrently with the worker.
type published struct {
	mu               sync.RWMutex
	recipeID         uint32
	dishName         string
	actionName       string
	ingredients      string
	overallTimeMS    uint32
	currentTool      string
	lastEquippedTool string
	availability     bool
}

// Robot is one Robot agent instance.
type Robot struct {
	endpoint   string
	position   uint32
	caps       map[string]bool
	catalog    *catalog.Catalog
	retoolCost time.Duration

	worker   *worker.Queue
	bus      nodebus.Bus
	conveyor ConveyorNotifier

	pub published

	// Domain state — mutated only on the worker goroutine.
	state           State
	orderQueue      []order
	current         *order
	actionsInRound  []catalog.Action
	pendingPickup   bool
	isDishFinished  bool
	cancelTimer     func()
}

// New constructs a Robot at position with the given capability set,
// wired to bus (its own server) and conveyor (its notification
// target). Callers must call Register before the robot accepts
// traffic.
func New(endpoint string, position uint32, caps map[string]bool, cat *catalog.Catalog, retoolCost time.Duration, bus nodebus.Bus, conveyor ConveyorNotifier) *Robot {
	r := &Robot{
		endpoint:   endpoint,
		position:   position,
		caps:       caps,
		catalog:    cat,
		retoolCost: retoolCost,
		worker:     worker.NewQueue(64),
		bus:        bus,
		conveyor:   conveyor,
		state:      Idle,
	}
	r.pub.actionName = noneSentinel
	r.pub.ingredients = noneSentinel
	r.pub.availability = true
	return r
}

// Register installs this robot's address space on its bus: the
// Robot object's attributes and methods per spec.md §4.2/§6.
func (r *Robot) Register() error {
	if err := r.bus.RegisterObject("Robot", "Robot"); err != nil {
		return err
	}

	r.bus.RegisterAttribute("Robot", "position", func() nodebus.Value { return nodebus.U32(r.position) }, nil)
	r.bus.RegisterAttribute("Robot", "capabilities", func() nodebus.Value { return nodebus.StringArray(r.capabilityNames()) }, nil)

	r.bus.RegisterAttribute("Robot", "availability", func() nodebus.Value {
		r.pub.mu.RLock()
		defer r.pub.mu.RUnlock()
		return nodebus.Bool(r.pub.availability)
	}, nil)
	r.bus.RegisterAttribute("Robot", "recipe_id", func() nodebus.Value {
		r.pub.mu.RLock()
		defer r.pub.mu.RUnlock()
		return nodebus.U32(r.pub.recipeID)
	}, nil)
	r.bus.RegisterAttribute("Robot", "dish_name", func() nodebus.Value {
		r.pub.mu.RLock()
		defer r.pub.mu.RUnlock()
		return nodebus.String(r.pub.dishName)
	}, nil)
	r.bus.RegisterAttribute("Robot", "action_name", func() nodebus.Value {
		r.pub.mu.RLock()
		defer r.pub.mu.RUnlock()
		return nodebus.String(r.pub.actionName)
	}, nil)
	r.bus.RegisterAttribute("Robot", "ingredients", func() nodebus.Value {
		r.pub.mu.RLock()
		defer r.pub.mu.RUnlock()
		return nodebus.String(r.pub.ingredients)
	}, nil)
	r.bus.RegisterAttribute("Robot", "overall_time", func() nodebus.Value {
		r.pub.mu.RLock()
		defer r.pub.mu.RUnlock()
		return nodebus.U32(r.pub.overallTimeMS)
	}, nil)
	r.bus.RegisterAttribute("Robot", "current_tool", func() nodebus.Value {
		r.pub.mu.RLock()
		defer r.pub.mu.RUnlock()
		return nodebus.String(r.pub.currentTool)
	}, nil)
	r.bus.RegisterAttribute("Robot", "last_equipped_tool", func() nodebus.Value {
		r.pub.mu.RLock()
		defer r.pub.mu.RUnlock()
		return nodebus.String(r.pub.lastEquippedTool)
	}, nil)

	if err := r.bus.RegisterMethod("Robot", "receive_task", r.handleReceiveTask); err != nil {
		return err
	}
	if err := r.bus.RegisterMethod("Robot", "handover_finished_order", r.handleHandoverFinishedOrder); err != nil {
		return err
	}
	return nil
}

func (r *Robot) capabilityNames() []string {
	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	return names
}

// Position returns the robot's fixed, immutable post-registration
// position.
func (r *Robot) Position() uint32 { return r.position }

// Endpoint returns this robot's own bus address.
func (r *Robot) Endpoint() string { return r.endpoint }

// Stop drains the worker queue and cancels any pending timer.
func (r *Robot) Stop() {
	r.worker.Post(func() {
		if r.cancelTimer != nil {
			r.cancelTimer()
			r.cancelTimer = nil
		}
	})
	r.worker.Stop()
}

func (r *Robot) setPublished(fn func(*published)) {
	r.pub.mu.Lock()
	fn(&r.pub)
	r.pub.mu.Unlock()
}

func (r *Robot) publish(attribute string, value nodebus.Value) {
	r.bus.PublishAttribute("Robot", attribute, value)
}

// notifyConveyor fires the finished_order_notification call off the
// worker goroutine — per spec.md §5, a suspending RPC must never be
// invoked with domain state "locked" (i.e. from inside the worker
// itself). A failure here is a Transport error; it is logged and not
// retried. The Conveyor retrieves only positions it was notified
// about, so after a failed notification the robot stays in
// AwaitingPickup.
func (r *Robot) notifyConveyor(position uint32) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := r.conveyor.FinishedOrderNotification(ctx, r.endpoint, position); err != nil {
			log.Printf("robot %s: finished_order_notification failed: %v", r.endpoint, err)
		}
	}()
}
