package grpcbus

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"kitchen-sim/internal/nodebus"
)

// Client is the networked nodebus.Client implementation, backed by a
// real grpc.ClientConn per session. Transport security is out of
// scope per spec.md §1 non-goal (d); connections use plaintext
// credentials, same as the reference stack's intra-cluster gRPC
// traffic.
type Client struct {
	connectTimeout time.Duration
	callTimeout    time.Duration
}

func NewClient(connectTimeout, callTimeout time.Duration) *Client {
	return &Client{connectTimeout: connectTimeout, callTimeout: callTimeout}
}

// session wraps a grpc.ClientConn and tracks liveness observed by the
// most recent RPC, so callers can branch on Connected() without
// issuing a fresh probe.
type session struct {
	endpoint string
	conn     *grpc.ClientConn
	alive    atomic.Bool
}

func (s *session) Endpoint() string { return s.endpoint }
func (s *session) Connected() bool  { return s.alive.Load() }
func (s *session) Close() error     { return s.conn.Close() }

func (c *Client) Connect(ctx context.Context, endpoint string) (nodebus.Session, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	conn, err := grpc.DialContext(dialCtx, endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, nodebus.NewError(nodebus.ErrTransport, "Connect", err)
	}
	s := &session{endpoint: endpoint, conn: conn}
	s.alive.Store(true)
	return s, nil
}

func (c *Client) toSession(sess nodebus.Session) (*session, error) {
	s, ok := sess.(*session)
	if !ok {
		return nil, nodebus.NewError(nodebus.ErrTransport, "", fmt.Errorf("foreign session"))
	}
	return s, nil
}

func (c *Client) callTimeoutCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.callTimeout)
}

func (c *Client) Read(ctx context.Context, sess nodebus.Session, object, attribute string) (nodebus.Value, error) {
	s, err := c.toSession(sess)
	if err != nil {
		return nodebus.Value{}, err
	}
	req, err := structpb.NewStruct(map[string]interface{}{"object": object, "attribute": attribute})
	if err != nil {
		return nodebus.Value{}, nodebus.NewError(nodebus.ErrBadArgs, "Read", err)
	}
	cctx, cancel := c.callTimeoutCtx(ctx)
	defer cancel()
	reply := new(structpb.Struct)
	if err := s.conn.Invoke(cctx, "/kitchen.NodeBus/Read", req, reply); err != nil {
		s.alive.Store(false)
		return nodebus.Value{}, nodebus.NewError(classifyCtx(cctx, err), "Read", err)
	}
	s.alive.Store(true)
	return structToValue(reply)
}

func (c *Client) Write(ctx context.Context, sess nodebus.Session, object, attribute string, value nodebus.Value) error {
	s, err := c.toSession(sess)
	if err != nil {
		return err
	}
	valueStruct, err := valueToStruct(value)
	if err != nil {
		return nodebus.NewError(nodebus.ErrBadArgs, "Write", err)
	}
	req, err := structpb.NewStruct(map[string]interface{}{
		"object": object, "attribute": attribute, "value": valueStruct.AsMap(),
	})
	if err != nil {
		return nodebus.NewError(nodebus.ErrBadArgs, "Write", err)
	}
	cctx, cancel := c.callTimeoutCtx(ctx)
	defer cancel()
	reply := new(structpb.Struct)
	if err := s.conn.Invoke(cctx, "/kitchen.NodeBus/Write", req, reply); err != nil {
		s.alive.Store(false)
		return nodebus.NewError(classifyCtx(cctx, err), "Write", err)
	}
	s.alive.Store(true)
	return nil
}

func (c *Client) Call(ctx context.Context, sess nodebus.Session, object, method string, args nodebus.MethodArgs) (nodebus.MethodResults, error) {
	s, err := c.toSession(sess)
	if err != nil {
		return nil, err
	}
	argsStruct, err := argsToStruct(args)
	if err != nil {
		return nil, nodebus.NewError(nodebus.ErrBadArgs, "Call", err)
	}
	req, err := structpb.NewStruct(map[string]interface{}{
		"object": object, "method": method, "args": argsStruct.Fields["args"].AsInterface(),
	})
	if err != nil {
		return nil, nodebus.NewError(nodebus.ErrBadArgs, "Call", err)
	}
	cctx, cancel := c.callTimeoutCtx(ctx)
	defer cancel()
	reply := new(structpb.Struct)
	if err := s.conn.Invoke(cctx, "/kitchen.NodeBus/Call", req, reply); err != nil {
		s.alive.Store(false)
		return nil, nodebus.NewError(classifyCtx(cctx, err), "Call", err)
	}
	s.alive.Store(true)
	results, err := structToArgs(reply)
	if err != nil {
		return nil, nodebus.NewError(nodebus.ErrTypeMismatch, "Call", err)
	}
	return nodebus.MethodResults(results), nil
}

func (c *Client) Subscribe(ctx context.Context, sess nodebus.Session, object, attribute string, callback func(nodebus.ValueChange)) (func(), error) {
	s, err := c.toSession(sess)
	if err != nil {
		return nil, err
	}
	req, err := structpb.NewStruct(map[string]interface{}{"object": object, "attribute": attribute})
	if err != nil {
		return nil, nodebus.NewError(nodebus.ErrBadArgs, "Subscribe", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := s.conn.NewStream(streamCtx, &grpc.StreamDesc{ServerStreams: true}, "/kitchen.NodeBus/Subscribe")
	if err != nil {
		cancel()
		return nil, nodebus.NewError(nodebus.ErrTransport, "Subscribe", err)
	}
	if err := stream.SendMsg(req); err != nil {
		cancel()
		return nil, nodebus.NewError(nodebus.ErrTransport, "Subscribe", err)
	}

	go func() {
		for {
			envelope := new(structpb.Struct)
			if err := stream.RecvMsg(envelope); err != nil {
				return
			}
			v, err := structToValue(envelope)
			if err != nil {
				continue
			}
			callback(nodebus.ValueChange{Object: object, Attribute: attribute, Value: v})
		}
	}()

	return cancel, nil
}

func classifyCtx(ctx context.Context, err error) nodebus.ErrorKind {
	if ctx.Err() == context.DeadlineExceeded || ctx.Err() == context.Canceled {
		return nodebus.ErrCancelled
	}
	return nodebus.ErrTransport
}
