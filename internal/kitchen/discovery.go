package kitchen

import (
	"context"
	"log"
	"time"

	"kitchen-sim/internal/nodebus"
)

// StartRediscovery kicks off the rediscovery loop (spec.md §4.5): it
// enumerates available Robot endpoints every 1s, adopting any not yet
// held, and parks once membership reaches robot_count — woken again
// only when removeMarkedRobots drops membership below that.
func (k *Kitchen) StartRediscovery(ctx context.Context) {
	k.worker.Post(func() { k.rediscoveryTick(ctx) })
}

func (k *Kitchen) rediscoveryTick(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	default:
	}
	k.runRediscovery(ctx)
	if uint32(len(k.membership)) >= k.robotCount {
		k.rediscoveryParked = true
		k.rediscoveryCancel = nil
		return
	}
	k.rediscoveryCancel = k.worker.Schedule(1*time.Second, func() { k.rediscoveryTick(ctx) })
}

func (k *Kitchen) runRediscovery(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, 2*time.Second)
	defer cancel()

	endpoints, err := k.directory.FindServers(ctx, "Robot")
	if err != nil {
		log.Printf("kitchen: find_servers failed: %v", err)
		return
	}
	for _, endpoint := range endpoints {
		if _, ok := k.byEndpoint[endpoint]; ok {
			continue
		}
		sess, err := k.client.Connect(ctx, endpoint)
		if err != nil {
			log.Printf("kitchen: connect to %s failed: %v", endpoint, err)
			continue
		}
		avail, err := k.client.Read(ctx, sess, "Robot", "availability")
		if err != nil || !avail.Bool {
			continue
		}
		posVal, err := k.client.Read(ctx, sess, "Robot", "position")
		if err != nil {
			continue
		}
		k.adoptRobot(ctx, sess, posVal.U32, endpoint)
	}
}

// ensureRobotSession is the assignment path's on-demand counterpart to
// adoptRobot (spec.md §4.5 step 2): a robot chosen by the controller
// that the kitchen has never talked to yet gets connected and
// subscribed right away, rather than waiting for the next rediscovery
// tick.
func (k *Kitchen) ensureRobotSession(position uint32, endpoint string) {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	sess, err := k.client.Connect(ctx, endpoint)
	if err != nil {
		log.Printf("kitchen: connect to chosen robot %s failed: %v", endpoint, err)
		return
	}
	k.adoptRobot(ctx, sess, position, endpoint)
}

func (k *Kitchen) adoptRobot(ctx context.Context, sess nodebus.Session, position uint32, endpoint string) {
	r := &remoteRobot{endpoint: endpoint, position: position}
	k.membership[position] = r
	k.byEndpoint[endpoint] = r

	unsub, err := k.client.Subscribe(ctx, sess, "Robot", "position", func(change nodebus.ValueChange) {
		k.worker.Post(func() { k.onRobotPositionChange(position, change.Value.U32) })
	})
	if err == nil {
		r.unsubscribe = unsub
	}
	k.publishConnectivity()
}

// onRobotPositionChange is spec.md §4.5's position-swap callback: a
// robot reporting a new position swaps the two map entries so the
// kitchen's position -> robot mirror stays consistent with physical
// rearrangement.
func (k *Kitchen) onRobotPositionChange(oldPosition, newPosition uint32) {
	if oldPosition == newPosition {
		return
	}
	moving, ok := k.membership[oldPosition]
	if !ok {
		return
	}
	displaced, occupied := k.membership[newPosition]

	delete(k.membership, oldPosition)
	moving.position = newPosition
	k.membership[newPosition] = moving

	if occupied {
		displaced.position = oldPosition
		k.membership[oldPosition] = displaced
	}
	k.publishConnectivity()
}

// StartLivenessChecks runs independently of the rediscovery loop (it
// must keep detecting dead robots even while rediscovery is parked) —
// mirrors spec.md §5's separate "Resilience" vs "Rediscovery" threads.
func (k *Kitchen) StartLivenessChecks(ctx context.Context) {
	k.worker.Post(func() { k.livenessTick(ctx) })
}

func (k *Kitchen) livenessTick(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	default:
	}
	k.checkRobotLiveness(ctx)
	k.removeMarkedRobots()
	k.livenessCancel = k.worker.Schedule(1*time.Second, func() { k.livenessTick(ctx) })
}

func (k *Kitchen) checkRobotLiveness(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, 2*time.Second)
	defer cancel()
	for position := range k.membership {
		sess, err := k.client.Connect(ctx, k.membership[position].endpoint)
		if err != nil {
			k.markRobotDead(position)
			continue
		}
		if _, err := k.client.Read(ctx, sess, "Robot", "position"); err != nil {
			k.markRobotDead(position)
		}
	}
}

func (k *Kitchen) markRobotDead(position uint32) {
	k.pendingRemoval[position] = true
}

// removeMarkedRobots is the sweep half of spec.md §9-style two-phase
// membership cleanup; it also wakes a parked rediscovery loop.
func (k *Kitchen) removeMarkedRobots() {
	removed := false
	for position := range k.pendingRemoval {
		r, ok := k.membership[position]
		if ok {
			if r.unsubscribe != nil {
				r.unsubscribe()
			}
			delete(k.byEndpoint, r.endpoint)
			delete(k.membership, position)
			removed = true
		}
	}
	k.pendingRemoval = make(map[uint32]bool)
	if removed {
		k.publishConnectivity()
	}
	if removed && k.rediscoveryParked {
		k.rediscoveryParked = false
		k.worker.Post(func() { k.rediscoveryTick(context.Background()) })
	}
}
