package robot

import (
	"context"

	"kitchen-sim/internal/nodebus"
)

// ConveyorClient adapts a nodebus.Client session to the
// ConveyorNotifier interface robots call on round completion.
type ConveyorClient struct {
	client  nodebus.Client
	session nodebus.Session
}

func NewConveyorClient(client nodebus.Client, session nodebus.Session) *ConveyorClient {
	return &ConveyorClient{client: client, session: session}
}

func (c *ConveyorClient) FinishedOrderNotification(ctx context.Context, robotEndpoint string, position uint32) (bool, error) {
	results, err := c.client.Call(ctx, c.session, "Conveyor", "finished_order_notification", nodebus.MethodArgs{
		nodebus.String(robotEndpoint),
		nodebus.U32(position),
	})
	if err != nil {
		return false, err
	}
	if len(results) != 1 {
		return false, nodebus.NewError(nodebus.ErrTypeMismatch, "finished_order_notification", nil)
	}
	return results[0].Bool, nil
}
