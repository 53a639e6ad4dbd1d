package grpcbus

import (
	"context"
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"kitchen-sim/internal/nodebus"
)

type attrEntry struct {
	get func() nodebus.Value
	set func(nodebus.Value) error
}

type methodEntry struct {
	handler func(ctx context.Context, args nodebus.MethodArgs) (nodebus.MethodResults, error)
}

type subscriber struct {
	id uint64
	ch chan nodebus.Value
}

// Server is the networked nodebus.Bus implementation: a real
// google.golang.org/grpc.Server listening on addr, dispatching to
// handlers registered the same way localbus.Bus's are.
type Server struct {
	listenAddr string
	grpcServer *grpc.Server
	listener   net.Listener

	mu        sync.RWMutex
	attrs     map[string]map[string]*attrEntry
	methods   map[string]map[string]*methodEntry
	subs      map[string]map[string][]subscriber
	nextSubID uint64
}

// Listen starts a Server bound to addr (e.g. "0.0.0.0:0" to pick a free
// port) and begins serving in a background goroutine.
func Listen(addr string) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpcbus: listen on %s: %w", addr, err)
	}
	s := &Server{
		listenAddr: lis.Addr().String(),
		listener:   lis,
		attrs:      make(map[string]map[string]*attrEntry),
		methods:    make(map[string]map[string]*methodEntry),
		subs:       make(map[string]map[string][]subscriber),
	}
	s.grpcServer = grpc.NewServer()
	s.grpcServer.RegisterService(&ServiceDesc, s)

	go func() {
		_ = s.grpcServer.Serve(lis)
	}()
	return s, nil
}

func (s *Server) Endpoint() string { return s.listenAddr }

func (s *Server) RegisterObject(objectType, objectName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attrs[objectName]; !ok {
		s.attrs[objectName] = make(map[string]*attrEntry)
	}
	if _, ok := s.methods[objectName]; !ok {
		s.methods[objectName] = make(map[string]*methodEntry)
	}
	if _, ok := s.subs[objectName]; !ok {
		s.subs[objectName] = make(map[string][]subscriber)
	}
	return nil
}

func (s *Server) RegisterMethod(object, method string, handler func(ctx context.Context, args nodebus.MethodArgs) (nodebus.MethodResults, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.methods[object]
	if !ok {
		return nodebus.NewError(nodebus.ErrNotFound, "RegisterMethod", fmt.Errorf("object %q not registered", object))
	}
	m[method] = &methodEntry{handler: handler}
	return nil
}

func (s *Server) RegisterAttribute(object, attribute string, get func() nodebus.Value, set func(nodebus.Value) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attrs[object]
	if !ok {
		return nodebus.NewError(nodebus.ErrNotFound, "RegisterAttribute", fmt.Errorf("object %q not registered", object))
	}
	a[attribute] = &attrEntry{get: get, set: set}
	return nil
}

func (s *Server) PublishAttribute(object, attribute string, value nodebus.Value) {
	s.mu.RLock()
	subs := append([]subscriber(nil), s.subs[object][attribute]...)
	s.mu.RUnlock()
	for _, sub := range subs {
		select {
		case sub.ch <- value:
		default:
		}
	}
}

func (s *Server) Close() error {
	s.grpcServer.GracefulStop()
	return nil
}

// --- serviceServer implementation: dispatches wire calls to the
// registered handlers above. ---

func (s *Server) Call(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	object := req.Fields["object"].GetStringValue()
	method := req.Fields["method"].GetStringValue()
	args, err := structToArgs(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	s.mu.RLock()
	m, objOK := s.methods[object]
	s.mu.RUnlock()
	if !objOK {
		return nil, status.Errorf(codes.NotFound, "object %q not found", object)
	}
	entry, ok := m[method]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "method %s.%s not found", object, method)
	}

	results, err := entry.handler(ctx, args)
	if err != nil {
		return nil, toGRPCStatus(err)
	}
	return argsToStruct(nodebus.MethodArgs(results))
}

func (s *Server) Read(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	object := req.Fields["object"].GetStringValue()
	attribute := req.Fields["attribute"].GetStringValue()

	s.mu.RLock()
	a, ok := s.attrs[object]
	s.mu.RUnlock()
	if !ok {
		return nil, status.Errorf(codes.NotFound, "object %q not found", object)
	}
	entry, ok := a[attribute]
	if !ok || entry.get == nil {
		return nil, status.Errorf(codes.NotFound, "attribute %s.%s not found", object, attribute)
	}
	return valueToStruct(entry.get())
}

func (s *Server) Write(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	object := req.Fields["object"].GetStringValue()
	attribute := req.Fields["attribute"].GetStringValue()
	valueStruct := req.Fields["value"].GetStructValue()
	value, err := structToValue(valueStruct)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	s.mu.RLock()
	a, ok := s.attrs[object]
	s.mu.RUnlock()
	if !ok {
		return nil, status.Errorf(codes.NotFound, "object %q not found", object)
	}
	entry, ok := a[attribute]
	if !ok || entry.set == nil {
		return nil, status.Errorf(codes.InvalidArgument, "attribute %s.%s is not writable", object, attribute)
	}
	if err := entry.set(value); err != nil {
		return nil, toGRPCStatus(err)
	}
	s.PublishAttribute(object, attribute, value)
	return structpb.NewStruct(nil)
}

func (s *Server) Subscribe(req *structpb.Struct, stream grpc.ServerStream) error {
	object := req.Fields["object"].GetStringValue()
	attribute := req.Fields["attribute"].GetStringValue()

	s.mu.Lock()
	if _, ok := s.attrs[object]; !ok {
		s.mu.Unlock()
		return status.Errorf(codes.NotFound, "object %q not found", object)
	}
	s.nextSubID++
	id := s.nextSubID
	ch := make(chan nodebus.Value, 32)
	s.subs[object][attribute] = append(s.subs[object][attribute], subscriber{id: id, ch: ch})
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		list := s.subs[object][attribute]
		for i, sub := range list {
			if sub.id == id {
				s.subs[object][attribute] = append(list[:i], list[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
	}()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case v := <-ch:
			envelope, err := valueToStruct(v)
			if err != nil {
				return err
			}
			if err := stream.SendMsg(envelope); err != nil {
				return err
			}
		}
	}
}

func toGRPCStatus(err error) error {
	kind := nodebus.ErrTransport
	var be *nodebus.Error
	if e, ok := err.(*nodebus.Error); ok {
		be = e
		kind = be.Kind
	}
	switch kind {
	case nodebus.ErrNotFound:
		return status.Error(codes.NotFound, err.Error())
	case nodebus.ErrBadArgs, nodebus.ErrTypeMismatch:
		return status.Error(codes.InvalidArgument, err.Error())
	case nodebus.ErrServiceBusy:
		return status.Error(codes.Unavailable, err.Error())
	case nodebus.ErrCancelled:
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Unknown, err.Error())
	}
}
