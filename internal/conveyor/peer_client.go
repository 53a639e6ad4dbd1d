package conveyor

import (
	"context"
	"sync"

	"kitchen-sim/internal/nodebus"
)

// NodebusRobotCaller adapts a generic nodebus.Client into RobotCaller,
// lazily dialing and caching one session per robot endpoint — the
// Conveyor talks to however many robots are on the ring, not a single
// fixed peer.
type NodebusRobotCaller struct {
	client nodebus.Client

	mu       sync.Mutex
	sessions map[string]nodebus.Session
}

func NewNodebusRobotCaller(client nodebus.Client) *NodebusRobotCaller {
	return &NodebusRobotCaller{client: client, sessions: make(map[string]nodebus.Session)}
}

func (n *NodebusRobotCaller) session(ctx context.Context, endpoint string) (nodebus.Session, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if sess, ok := n.sessions[endpoint]; ok && sess.Connected() {
		return sess, nil
	}
	sess, err := n.client.Connect(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	n.sessions[endpoint] = sess
	return sess, nil
}

func (n *NodebusRobotCaller) HandoverFinishedOrder(ctx context.Context, endpoint string) (uint32, uint32, bool, error) {
	sess, err := n.session(ctx, endpoint)
	if err != nil {
		return 0, 0, false, err
	}
	results, err := n.client.Call(ctx, sess, "Robot", "handover_finished_order", nil)
	if err != nil {
		return 0, 0, false, err
	}
	if len(results) != 3 {
		return 0, 0, false, nodebus.NewError(nodebus.ErrTypeMismatch, "handover_finished_order", nil)
	}
	return results[0].U32, results[1].U32, results[2].Bool, nil
}

func (n *NodebusRobotCaller) ReceiveTask(ctx context.Context, endpoint string, recipeID, processedSteps, addressedPosition uint32) (uint32, bool, error) {
	sess, err := n.session(ctx, endpoint)
	if err != nil {
		return 0, false, err
	}
	results, err := n.client.Call(ctx, sess, "Robot", "receive_task", nodebus.MethodArgs{
		nodebus.U32(recipeID), nodebus.U32(processedSteps), nodebus.U32(addressedPosition),
	})
	if err != nil {
		return 0, false, err
	}
	if len(results) != 2 {
		return 0, false, nodebus.NewError(nodebus.ErrTypeMismatch, "receive_task", nil)
	}
	return results[0].U32, results[1].Bool, nil
}

// NodebusControllerCaller adapts a single nodebus.Client/Session pair
// to ControllerCaller — the Conveyor has exactly one Controller peer.
type NodebusControllerCaller struct {
	client  nodebus.Client
	session nodebus.Session
}

func NewNodebusControllerCaller(client nodebus.Client, session nodebus.Session) *NodebusControllerCaller {
	return &NodebusControllerCaller{client: client, session: session}
}

func (n *NodebusControllerCaller) ChooseNextRobot(ctx context.Context, recipeID, processedSteps uint32, requesterEndpoint, requesterType string) (bool, error) {
	results, err := n.client.Call(ctx, n.session, "Controller", "choose_next_robot", nodebus.MethodArgs{
		nodebus.U32(recipeID), nodebus.U32(processedSteps), nodebus.String(requesterEndpoint), nodebus.String(requesterType),
	})
	if err != nil {
		return false, err
	}
	if len(results) != 1 {
		return false, nodebus.NewError(nodebus.ErrTypeMismatch, "choose_next_robot", nil)
	}
	return results[0].Bool, nil
}

// NodebusKitchenCaller adapts a single nodebus.Client/Session pair to
// KitchenCaller — the Conveyor has exactly one Kitchen peer.
type NodebusKitchenCaller struct {
	client  nodebus.Client
	session nodebus.Session
}

func NewNodebusKitchenCaller(client nodebus.Client, session nodebus.Session) *NodebusKitchenCaller {
	return &NodebusKitchenCaller{client: client, session: session}
}

func (n *NodebusKitchenCaller) ReceiveCompletedOrder(ctx context.Context, recipeID uint32) (bool, error) {
	results, err := n.client.Call(ctx, n.session, "Kitchen", "receive_completed_order", nodebus.MethodArgs{nodebus.U32(recipeID)})
	if err != nil {
		return false, err
	}
	if len(results) != 1 {
		return false, nodebus.NewError(nodebus.ErrTypeMismatch, "receive_completed_order", nil)
	}
	return results[0].Bool, nil
}

func (n *NodebusKitchenCaller) ReceiveDroppedOrder(ctx context.Context, recipeID uint32) (bool, error) {
	results, err := n.client.Call(ctx, n.session, "Kitchen", "receive_dropped_order", nodebus.MethodArgs{nodebus.U32(recipeID)})
	if err != nil {
		return false, err
	}
	if len(results) != 1 {
		return false, nodebus.NewError(nodebus.ErrTypeMismatch, "receive_dropped_order", nil)
	}
	return results[0].Bool, nil
}
