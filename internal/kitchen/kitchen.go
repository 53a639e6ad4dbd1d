// Package kitchen implements the Kitchen agent: admits orders at a
// rate-limited gate, tracks robot membership via a rediscovery loop,
// and is the single place where lost orders become countable. See
// spec.md §4.5.
package kitchen

import (
	"context"
	"strconv"
	"sync"
	"time"

	"kitchen-sim/internal/catalog"
	"kitchen-sim/internal/events"
	"kitchen-sim/internal/nodebus"
	"kitchen-sim/internal/worker"
)

// Output is the sentinel position a receive_next_robot reply carries
// when the controller found no capable robot.
const Output = 0

// ControllerCaller is the narrow collaborator interface the Kitchen
// uses to request a robot for a freshly admitted order.
type ControllerCaller interface {
	ChooseNextRobot(ctx context.Context, recipeID, processedSteps uint32, requesterEndpoint, requesterType string) (bool, error)
}

// RobotCaller is what the Kitchen uses to hand a brand-new order's
// first round of work to the chosen robot.
type RobotCaller interface {
	ReceiveTask(ctx context.Context, endpoint string, recipeID, processedSteps, addressedPosition uint32) (actualPosition uint32, accepted bool, err error)
}

type remoteRobot struct {
	endpoint    string
	position    uint32
	unsubscribe func()
}

// counterPub is the bus-visible counter snapshot, guarded separately
// from domain state because attribute getters run off the worker
// goroutine (mirrors robot.published / conveyor.platePub).
type counterPub struct {
	mu                                     sync.RWMutex
	received, assigned, dropped, completed uint32
}

func (p *counterPub) snapshot() (received, assigned, dropped, completed uint32) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.received, p.assigned, p.dropped, p.completed
}

func (p *counterPub) set(received, assigned, dropped, completed uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.received, p.assigned, p.dropped, p.completed = received, assigned, dropped, completed
}

// connectivityPub is the mirror-object connectivity snapshot for
// RemoteRobot_i / RemoteController / RemoteConveyor.
type connectivityPub struct {
	mu         sync.RWMutex
	perRobot   map[uint32]bool
	controller bool
	conveyor   bool
}

func newConnectivityPub() *connectivityPub {
	return &connectivityPub{perRobot: make(map[uint32]bool)}
}

func (p *connectivityPub) robot(position uint32) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.perRobot[position]
}

func (p *connectivityPub) setRobots(live map[uint32]bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.perRobot = live
}

func (p *connectivityPub) setController(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.controller = v
}

func (p *connectivityPub) getController() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.controller
}

func (p *connectivityPub) setConveyor(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conveyor = v
}

func (p *connectivityPub) getConveyor() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.conveyor
}

// Kitchen is the single Kitchen agent instance.
type Kitchen struct {
	endpoint    string
	robotCount  uint32
	placingRate time.Duration
	catalog     *catalog.Catalog

	worker     *worker.Queue
	bus        nodebus.Bus
	directory  nodebus.Directory
	client     nodebus.Client
	controller ControllerCaller
	robots     RobotCaller
	sink       *events.Sink

	pub  counterPub
	conn *connectivityPub

	// Domain state — mutated only on the worker goroutine.
	receivedOrders, assignedOrders, droppedOrders, completedOrders uint32

	gateBusy  bool
	gateQueue []func()

	membership map[uint32]*remoteRobot // position -> robot
	byEndpoint map[string]*remoteRobot

	pendingRemoval    map[uint32]bool
	rediscoveryParked bool

	gateCancel        func()
	rediscoveryCancel func()
	livenessCancel    func()
}

// New constructs a Kitchen agent.
func New(endpoint string, robotCount uint32, placingRate time.Duration, cat *catalog.Catalog, bus nodebus.Bus, directory nodebus.Directory, client nodebus.Client, controller ControllerCaller, robots RobotCaller, sink *events.Sink) *Kitchen {
	return &Kitchen{
		endpoint:       endpoint,
		robotCount:     robotCount,
		placingRate:    placingRate,
		catalog:        cat,
		worker:         worker.NewQueue(256),
		bus:            bus,
		directory:      directory,
		client:         client,
		controller:     controller,
		robots:         robots,
		sink:           sink,
		conn:           newConnectivityPub(),
		membership:     make(map[uint32]*remoteRobot),
		byEndpoint:     make(map[string]*remoteRobot),
		pendingRemoval: make(map[uint32]bool),
	}
}

func (k *Kitchen) Endpoint() string { return k.endpoint }

// Register installs the Kitchen object plus its RemoteRobot_i /
// RemoteController / RemoteConveyor mirror objects (spec.md §6).
func (k *Kitchen) Register() error {
	if err := k.bus.RegisterObject("Kitchen", "Kitchen"); err != nil {
		return err
	}
	counterAttrs := []struct {
		name string
		get  func() nodebus.Value
	}{
		{"received_orders", func() nodebus.Value { r, _, _, _ := k.pub.snapshot(); return nodebus.U32(r) }},
		{"assigned_orders", func() nodebus.Value { _, a, _, _ := k.pub.snapshot(); return nodebus.U32(a) }},
		{"dropped_orders", func() nodebus.Value { _, _, d, _ := k.pub.snapshot(); return nodebus.U32(d) }},
		{"completed_orders", func() nodebus.Value { _, _, _, c := k.pub.snapshot(); return nodebus.U32(c) }},
	}
	for _, a := range counterAttrs {
		if err := k.bus.RegisterAttribute("Kitchen", a.name, a.get, nil); err != nil {
			return err
		}
	}
	if err := k.bus.RegisterMethod("Kitchen", "place_random_order", k.handlePlaceRandomOrder); err != nil {
		return err
	}
	if err := k.bus.RegisterMethod("Kitchen", "receive_next_robot", k.handleReceiveNextRobot); err != nil {
		return err
	}
	if err := k.bus.RegisterMethod("Kitchen", "receive_completed_order", k.handleReceiveCompletedOrder); err != nil {
		return err
	}
	if err := k.bus.RegisterMethod("Kitchen", "receive_dropped_order", k.handleReceiveDroppedOrder); err != nil {
		return err
	}

	for i := uint32(1); i <= k.robotCount; i++ {
		position := i
		name := mirrorName("RemoteRobot", position)
		if err := k.bus.RegisterObject("RemoteRobot", name); err != nil {
			return err
		}
		if err := k.bus.RegisterAttribute(name, "connectivity", func() nodebus.Value {
			return nodebus.Bool(k.conn.robot(position))
		}, nil); err != nil {
			return err
		}
	}
	if err := k.bus.RegisterObject("RemoteController", "RemoteController"); err != nil {
		return err
	}
	if err := k.bus.RegisterAttribute("RemoteController", "connectivity", func() nodebus.Value {
		return nodebus.Bool(k.conn.getController())
	}, nil); err != nil {
		return err
	}
	if err := k.bus.RegisterObject("RemoteConveyor", "RemoteConveyor"); err != nil {
		return err
	}
	if err := k.bus.RegisterAttribute("RemoteConveyor", "connectivity", func() nodebus.Value {
		return nodebus.Bool(k.conn.getConveyor())
	}, nil); err != nil {
		return err
	}
	return nil
}

func mirrorName(prefix string, position uint32) string {
	return prefix + "_" + strconv.FormatUint(uint64(position), 10)
}

func (k *Kitchen) publishCounters() {
	k.pub.set(k.receivedOrders, k.assignedOrders, k.droppedOrders, k.completedOrders)
	k.bus.PublishAttribute("Kitchen", "received_orders", nodebus.U32(k.receivedOrders))
	k.bus.PublishAttribute("Kitchen", "assigned_orders", nodebus.U32(k.assignedOrders))
	k.bus.PublishAttribute("Kitchen", "dropped_orders", nodebus.U32(k.droppedOrders))
	k.bus.PublishAttribute("Kitchen", "completed_orders", nodebus.U32(k.completedOrders))
}

func (k *Kitchen) publishConnectivity() {
	live := make(map[uint32]bool, len(k.membership))
	for position := range k.membership {
		live[position] = true
	}
	k.conn.setRobots(live)
	for i := uint32(1); i <= k.robotCount; i++ {
		k.bus.PublishAttribute(mirrorName("RemoteRobot", i), "connectivity", nodebus.Bool(live[i]))
	}
}

// Stop drains the worker and cancels all outstanding timers.
func (k *Kitchen) Stop() {
	k.worker.Post(func() {
		for _, cancel := range []func(){k.gateCancel, k.rediscoveryCancel, k.livenessCancel} {
			if cancel != nil {
				cancel()
			}
		}
	})
	k.worker.Stop()
}
