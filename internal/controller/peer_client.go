package controller

import (
	"context"
	"sync"

	"kitchen-sim/internal/nodebus"
)

// NodebusResponderCaller adapts a generic nodebus.Client into
// ResponderCaller, lazily dialing and caching a session per requester
// endpoint — the Controller replies to however many distinct
// Kitchen/Conveyor peers have asked it for a robot.
type NodebusResponderCaller struct {
	client nodebus.Client

	mu       sync.Mutex
	sessions map[string]nodebus.Session
}

func NewNodebusResponderCaller(client nodebus.Client) *NodebusResponderCaller {
	return &NodebusResponderCaller{client: client, sessions: make(map[string]nodebus.Session)}
}

func (n *NodebusResponderCaller) session(ctx context.Context, endpoint string) (nodebus.Session, error) {
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

func (n *NodebusResponderCaller) ReceiveNextRobot(ctx context.Context, requesterEndpoint, requesterType string, position uint32, chosenEndpoint string, recipeID uint32) (bool, error) {
	sess, err := n.session(ctx, requesterEndpoint)
	if err != nil {
		return false, err
	}
	object := "Kitchen"
	if requesterType == "conveyor" {
		object = "Conveyor"
	}
	results, err := n.client.Call(ctx, sess, object, "receive_next_robot", nodebus.MethodArgs{
		nodebus.U32(position), nodebus.String(chosenEndpoint), nodebus.U32(recipeID),
	})
	if err != nil {
		return false, err
	}
	if len(results) != 1 {
		return false, nodebus.NewError(nodebus.ErrTypeMismatch, "receive_next_robot", nil)
	}
	return results[0].Bool, nil
}
