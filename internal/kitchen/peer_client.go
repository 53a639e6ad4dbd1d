package kitchen

import (
	"context"
	"sync"

	"kitchen-sim/internal/nodebus"
)

// NodebusControllerCaller adapts a single nodebus.Client/Session pair
// to ControllerCaller — the Kitchen has exactly one Controller peer.
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

// NodebusRobotCaller adapts a generic nodebus.Client into RobotCaller,
// lazily dialing and caching one session per robot endpoint.
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
