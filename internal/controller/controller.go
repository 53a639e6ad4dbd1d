// Package controller implements the Controller agent: it tracks robot
// membership via discovery and selects the best robot to continue a
// partially-cooked recipe. See spec.md §4.4.
package controller

import (
	"context"
	"time"

	"kitchen-sim/internal/catalog"
	"kitchen-sim/internal/nodebus"
	"kitchen-sim/internal/worker"
)

// RemoteRobot is the Controller's view of one robot peer (spec.md §3
// "Remote-robot view").
type RemoteRobot struct {
	Endpoint         string
	Position         uint32
	Capabilities     map[string]bool
	OverallTimeMS    uint32
	LastEquippedTool string
}

// SwapRequest and ReconfigRequest are the optional side effects a
// Strategy may request alongside its chosen robot (spec.md §9's
// MAPE-K hook). The default strategy never issues either.
type SwapRequest struct {
	PositionA, PositionB uint32
}

type ReconfigRequest struct {
	Position     uint32
	Capabilities []string
}

// Selection is a Strategy's chosen robot, or Found==false if none
// qualifies.
type Selection struct {
	Robot RemoteRobot
	Found bool
}

// Strategy is the optional MAPE-K hook of spec.md §9: given the
// current membership and the recipe/processed_steps needing a next
// robot, decide who gets it — and, optionally, request a position
// swap or capability reconfiguration alongside the choice. Without an
// injected Strategy, the Controller falls back to prefixStrategy,
// which implements §4.4's algorithm verbatim.
type Strategy interface {
	OnNewOrder(membership map[uint32]RemoteRobot, recipe catalog.Recipe, processedSteps uint32) (chosen Selection, swap *SwapRequest, reconfig *ReconfigRequest)
}

// ResponderCaller delivers the Controller's asynchronous selection
// reply to whichever peer requested it — the Kitchen or the Conveyor,
// distinguished by requesterType.
type ResponderCaller interface {
	ReceiveNextRobot(ctx context.Context, requesterEndpoint, requesterType string, position uint32, chosenEndpoint string, recipeID uint32) (bool, error)
}

// Controller is the single Controller agent instance — spec.md has no
// notion of more than one per deployment.
type Controller struct {
	endpoint  string
	tDiscover time.Duration
	catalog   *catalog.Catalog
	strategy  Strategy

	worker    *worker.Queue
	bus       nodebus.Bus
	directory nodebus.Directory
	client    nodebus.Client
	responder ResponderCaller

	// Domain state — mutated only on the worker goroutine.
	membership     map[uint32]RemoteRobot
	sessions       map[uint32]nodebus.Session
	unsubscribes   map[uint32][]func()
	pendingRemoval map[uint32]bool

	discoveryCancel func()
}

// New constructs a Controller. strategy may be nil, in which case the
// default §4.4 selection algorithm is used.
func New(endpoint string, tDiscover time.Duration, cat *catalog.Catalog, strategy Strategy, bus nodebus.Bus, directory nodebus.Directory, client nodebus.Client, responder ResponderCaller) *Controller {
	if strategy == nil {
		strategy = prefixStrategy{}
	}
	return &Controller{
		endpoint:       endpoint,
		tDiscover:      tDiscover,
		catalog:        cat,
		strategy:       strategy,
		worker:         worker.NewQueue(256),
		bus:            bus,
		directory:      directory,
		client:         client,
		responder:      responder,
		membership:     make(map[uint32]RemoteRobot),
		sessions:       make(map[uint32]nodebus.Session),
		unsubscribes:   make(map[uint32][]func()),
		pendingRemoval: make(map[uint32]bool),
	}
}

func (c *Controller) Endpoint() string { return c.endpoint }

// Register installs the Controller object's two methods (spec.md §6).
func (c *Controller) Register() error {
	if err := c.bus.RegisterObject("Controller", "Controller"); err != nil {
		return err
	}
	if err := c.bus.RegisterMethod("Controller", "register_robot", c.handleRegisterRobot); err != nil {
		return err
	}
	if err := c.bus.RegisterMethod("Controller", "choose_next_robot", c.handleChooseNextRobot); err != nil {
		return err
	}
	return nil
}

// StartDiscovery kicks off the periodic membership discovery loop
// (spec.md §4.4: every T_DISCOVER, enumerate and connect to new
// robots). ctx governs the loop's lifetime, not individual RPCs.
func (c *Controller) StartDiscovery(ctx context.Context) {
	c.worker.Post(func() { c.discoveryTick(ctx) })
}

func (c *Controller) discoveryTick(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	default:
	}
	c.runDiscovery(ctx)
	c.sweepPendingRemoval()
	c.discoveryCancel = c.worker.Schedule(c.tDiscover, func() { c.discoveryTick(ctx) })
}

// Stop cancels the discovery loop and drains the worker.
func (c *Controller) Stop() {
	c.worker.Post(func() {
		if c.discoveryCancel != nil {
			c.discoveryCancel()
			c.discoveryCancel = nil
		}
	})
	c.worker.Stop()
}

func (c *Controller) markDead(position uint32) {
	c.pendingRemoval[position] = true
}

// sweepPendingRemoval is spec.md §9's two-phase mark/sweep: removal
// happens only here, between selection/discovery rounds, so a
// selection never observes a map mutated mid-iteration.
func (c *Controller) sweepPendingRemoval() {
	for position := range c.pendingRemoval {
		for _, unsub := range c.unsubscribes[position] {
			unsub()
		}
		delete(c.unsubscribes, position)
		delete(c.sessions, position)
		delete(c.membership, position)
	}
	c.pendingRemoval = make(map[uint32]bool)
}
