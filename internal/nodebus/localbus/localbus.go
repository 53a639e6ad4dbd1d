// Package localbus is the in-process reference implementation of
// nodebus.Bus/Client: plain function calls and channels, no network.
// It is the default wiring for tests and for single-process demo runs
// — every agent package is written against nodebus.Bus/Client, so
// swapping this for nodebus/grpcbus never touches agent code.
package localbus

import (
	"context"
	"fmt"
	"sync"

	"kitchen-sim/internal/nodebus"
)

type attrEntry struct {
	get func() nodebus.Value
	set func(nodebus.Value) error
}

type methodEntry struct {
	handler func(ctx context.Context, args nodebus.MethodArgs) (nodebus.MethodResults, error)
}

type subscription struct {
	id       uint64
	callback func(nodebus.ValueChange)
}

// Registry is the process-wide switchboard: it maps endpoints to the
// Bus registered at them, so a local Client can "dial" an endpoint
// without any real socket. Agents in the same process share one
// Registry; agents in separate processes use nodebus/grpcbus instead.
type Registry struct {
	mu    sync.RWMutex
	buses map[string]*Bus
}

func NewRegistry() *Registry {
	return &Registry{buses: make(map[string]*Bus)}
}

func (r *Registry) put(b *Bus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buses[b.endpoint] = b
}

func (r *Registry) lookup(endpoint string) (*Bus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.buses[endpoint]
	return b, ok
}

// Bus is the local nodebus.Bus implementation.
type Bus struct {
	reg      *Registry
	endpoint string

	mu          sync.RWMutex
	attrs       map[string]map[string]*attrEntry
	methods     map[string]map[string]*methodEntry
	subs        map[string]map[string][]subscription
	nextSubID   uint64
	closed      bool
}

func NewBus(reg *Registry, endpoint string) *Bus {
	b := &Bus{
		reg:      reg,
		endpoint: endpoint,
		attrs:    make(map[string]map[string]*attrEntry),
		methods:  make(map[string]map[string]*methodEntry),
		subs:     make(map[string]map[string][]subscription),
	}
	reg.put(b)
	return b
}

func (b *Bus) Endpoint() string { return b.endpoint }

func (b *Bus) RegisterObject(objectType, objectName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.attrs[objectName]; !ok {
		b.attrs[objectName] = make(map[string]*attrEntry)
	}
	if _, ok := b.methods[objectName]; !ok {
		b.methods[objectName] = make(map[string]*methodEntry)
	}
	if _, ok := b.subs[objectName]; !ok {
		b.subs[objectName] = make(map[string][]subscription)
	}
	return nil
}

func (b *Bus) RegisterMethod(object, method string, handler func(ctx context.Context, args nodebus.MethodArgs) (nodebus.MethodResults, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.methods[object]
	if !ok {
		return nodebus.NewError(nodebus.ErrNotFound, "RegisterMethod", fmt.Errorf("object %q not registered", object))
	}
	m[method] = &methodEntry{handler: handler}
	return nil
}

func (b *Bus) RegisterAttribute(object, attribute string, get func() nodebus.Value, set func(nodebus.Value) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.attrs[object]
	if !ok {
		return nodebus.NewError(nodebus.ErrNotFound, "RegisterAttribute", fmt.Errorf("object %q not registered", object))
	}
	a[attribute] = &attrEntry{get: get, set: set}
	return nil
}

func (b *Bus) PublishAttribute(object, attribute string, value nodebus.Value) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[object][attribute]...)
	b.mu.RUnlock()
	for _, s := range subs {
		s.callback(nodebus.ValueChange{Object: object, Attribute: attribute, Value: value})
	}
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *Bus) call(ctx context.Context, object, method string, args nodebus.MethodArgs) (nodebus.MethodResults, error) {
	b.mu.RLock()
	closed := b.closed
	m, objOK := b.methods[object]
	b.mu.RUnlock()
	if closed {
		return nil, nodebus.NewError(nodebus.ErrCancelled, "Call", fmt.Errorf("bus %s shutting down", b.endpoint))
	}
	if !objOK {
		return nil, nodebus.NewError(nodebus.ErrNotFound, "Call", fmt.Errorf("object %q not found on %s", object, b.endpoint))
	}
	entry, ok := m[method]
	if !ok {
		return nil, nodebus.NewError(nodebus.ErrNotFound, "Call", fmt.Errorf("method %s.%s not found on %s", object, method, b.endpoint))
	}
	return entry.handler(ctx, args)
}

func (b *Bus) read(object, attribute string) (nodebus.Value, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	a, ok := b.attrs[object]
	if !ok {
		return nodebus.Value{}, nodebus.NewError(nodebus.ErrNotFound, "Read", fmt.Errorf("object %q not found", object))
	}
	entry, ok := a[attribute]
	if !ok || entry.get == nil {
		return nodebus.Value{}, nodebus.NewError(nodebus.ErrNotFound, "Read", fmt.Errorf("attribute %s.%s not found", object, attribute))
	}
	return entry.get(), nil
}

func (b *Bus) write(object, attribute string, value nodebus.Value) error {
	b.mu.RLock()
	a, ok := b.attrs[object]
	b.mu.RUnlock()
	if !ok {
		return nodebus.NewError(nodebus.ErrNotFound, "Write", fmt.Errorf("object %q not found", object))
	}
	entry, ok := a[attribute]
	if !ok || entry.set == nil {
		return nodebus.NewError(nodebus.ErrBadArgs, "Write", fmt.Errorf("attribute %s.%s is not writable", object, attribute))
	}
	if err := entry.set(value); err != nil {
		return err
	}
	b.PublishAttribute(object, attribute, value)
	return nil
}

func (b *Bus) subscribe(object, attribute string, callback func(nodebus.ValueChange)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.attrs[object]; !ok {
		return nil, nodebus.NewError(nodebus.ErrNotFound, "Subscribe", fmt.Errorf("object %q not found", object))
	}
	b.nextSubID++
	id := b.nextSubID
	b.subs[object][attribute] = append(b.subs[object][attribute], subscription{id: id, callback: callback})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[object][attribute]
		for i, s := range list {
			if s.id == id {
				b.subs[object][attribute] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}, nil
}

// session is the local nodebus.Session: it holds a reference to the
// target Bus directly, so "transport" failure only happens if the peer
// closed or was never registered.
type session struct {
	endpoint string
	bus      *Bus
}

func (s *session) Endpoint() string { return s.endpoint }
func (s *session) Connected() bool  { return s.bus != nil && !s.bus.closed }
func (s *session) Close() error     { return nil }

// Client is the local nodebus.Client implementation.
type Client struct {
	reg *Registry
}

func NewClient(reg *Registry) *Client {
	return &Client{reg: reg}
}

func (c *Client) Connect(ctx context.Context, endpoint string) (nodebus.Session, error) {
	bus, ok := c.reg.lookup(endpoint)
	if !ok {
		return nil, nodebus.NewError(nodebus.ErrTransport, "Connect", fmt.Errorf("no local bus registered at %s", endpoint))
	}
	return &session{endpoint: endpoint, bus: bus}, nil
}

func (c *Client) Read(ctx context.Context, sess nodebus.Session, object, attribute string) (nodebus.Value, error) {
	s, ok := sess.(*session)
	if !ok {
		return nodebus.Value{}, nodebus.NewError(nodebus.ErrTransport, "Read", fmt.Errorf("foreign session"))
	}
	return s.bus.read(object, attribute)
}

func (c *Client) Write(ctx context.Context, sess nodebus.Session, object, attribute string, value nodebus.Value) error {
	s, ok := sess.(*session)
	if !ok {
		return nodebus.NewError(nodebus.ErrTransport, "Write", fmt.Errorf("foreign session"))
	}
	return s.bus.write(object, attribute, value)
}

func (c *Client) Call(ctx context.Context, sess nodebus.Session, object, method string, args nodebus.MethodArgs) (nodebus.MethodResults, error) {
	s, ok := sess.(*session)
	if !ok {
		return nil, nodebus.NewError(nodebus.ErrTransport, "Call", fmt.Errorf("foreign session"))
	}
	return s.bus.call(ctx, object, method, args)
}

func (c *Client) Subscribe(ctx context.Context, sess nodebus.Session, object, attribute string, callback func(nodebus.ValueChange)) (func(), error) {
	s, ok := sess.(*session)
	if !ok {
		return nil, nodebus.NewError(nodebus.ErrTransport, "Subscribe", fmt.Errorf("foreign session"))
	}
	return s.bus.subscribe(object, attribute, callback)
}
