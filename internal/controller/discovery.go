package controller

import (
	"context"
	"log"
	"time"

	"kitchen-sim/internal/nodebus"
)

// runDiscovery enumerates Robot-hosting endpoints via the directory
// and connects to any not already known, per spec.md §4.4.
func (c *Controller) runDiscovery(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, 2*time.Second)
	defer cancel()

	endpoints, err := c.directory.FindServers(ctx, "Robot")
	if err != nil {
		log.Printf("controller: find_servers failed: %v", err)
		return
	}

	known := make(map[string]bool, len(c.membership))
	for _, r := range c.membership {
		known[r.Endpoint] = true
	}
	for _, endpoint := range endpoints {
		if known[endpoint] {
			continue
		}
		c.connectRobot(ctx, endpoint)
	}

	c.checkLiveness(ctx)
}

// checkLiveness probes every known robot with a cheap attribute read;
// a failure marks it for removal by the next sweep, per spec.md §9's
// two-phase mark/sweep membership cleanup.
func (c *Controller) checkLiveness(ctx context.Context) {
	for position, sess := range c.sessions {
		if _, err := c.client.Read(ctx, sess, "Robot", "position"); err != nil {
			log.Printf("controller: position %d unreachable, marking dead: %v", position, err)
			c.markDead(position)
		}
	}
}

// connectRobot dials a newly-discovered robot, reads its initial
// position/capabilities/tool/overall_time, and subscribes to the
// attributes that change over the robot's lifetime.
func (c *Controller) connectRobot(ctx context.Context, endpoint string) {
	sess, err := c.client.Connect(ctx, endpoint)
	if err != nil {
		log.Printf("controller: connect to %s failed: %v", endpoint, err)
		return
	}

	posVal, err := c.client.Read(ctx, sess, "Robot", "position")
	if err != nil {
		log.Printf("controller: read position on %s failed: %v", endpoint, err)
		return
	}
	capsVal, err := c.client.Read(ctx, sess, "Robot", "capabilities")
	if err != nil {
		log.Printf("controller: read capabilities on %s failed: %v", endpoint, err)
		return
	}
	toolVal, _ := c.client.Read(ctx, sess, "Robot", "last_equipped_tool")
	timeVal, _ := c.client.Read(ctx, sess, "Robot", "overall_time")

	position := posVal.U32
	caps := make(map[string]bool, len(capsVal.Strs))
	for _, name := range capsVal.Strs {
		caps[name] = true
	}

	c.membership[position] = RemoteRobot{
		Endpoint:         endpoint,
		Position:         position,
		Capabilities:     caps,
		OverallTimeMS:    timeVal.U32,
		LastEquippedTool: toolVal.Str,
	}
	c.sessions[position] = sess

	c.subscribe(ctx, sess, position, "overall_time", func(change nodebus.ValueChange) {
		c.worker.Post(func() { c.onOverallTimeChange(position, change.Value.U32) })
	})
	c.subscribe(ctx, sess, position, "last_equipped_tool", func(change nodebus.ValueChange) {
		c.worker.Post(func() { c.onToolChange(position, change.Value.Str) })
	})
	c.subscribe(ctx, sess, position, "position", func(change nodebus.ValueChange) {
		c.worker.Post(func() { c.onPositionChange(position, change.Value.U32) })
	})
}

func (c *Controller) subscribe(ctx context.Context, sess nodebus.Session, position uint32, attr string, cb func(nodebus.ValueChange)) {
	unsub, err := c.client.Subscribe(ctx, sess, "Robot", attr, cb)
	if err != nil {
		log.Printf("controller: subscribe to %s on position %d failed: %v", attr, position, err)
		return
	}
	c.unsubscribes[position] = append(c.unsubscribes[position], unsub)
}

func (c *Controller) onOverallTimeChange(position uint32, value uint32) {
	r, ok := c.membership[position]
	if !ok {
		return
	}
	r.OverallTimeMS = value
	c.membership[position] = r
}

func (c *Controller) onToolChange(position uint32, tool string) {
	r, ok := c.membership[position]
	if !ok {
		return
	}
	r.LastEquippedTool = tool
	c.membership[position] = r
}

// onPositionChange re-keys membership when a robot reports a new
// position (spec.md §4.5's position-swap callback, mirrored here so
// the Controller's own view of "who sits where" stays correct
// independently of the Kitchen/Conveyor's own reconciliation).
func (c *Controller) onPositionChange(oldPosition, newPosition uint32) {
	if oldPosition == newPosition {
		return
	}
	r, ok := c.membership[oldPosition]
	if !ok {
		return
	}
	delete(c.membership, oldPosition)
	r.Position = newPosition
	c.membership[newPosition] = r

	c.sessions[newPosition] = c.sessions[oldPosition]
	delete(c.sessions, oldPosition)
	c.unsubscribes[newPosition] = c.unsubscribes[oldPosition]
	delete(c.unsubscribes, oldPosition)
}
