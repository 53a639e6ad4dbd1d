// Package nodebus is the collaborator contract every agent programs
// against: a typed address space of objects (attributes + methods +
// value-change subscriptions) plus a discovery directory, reachable
// over a client/server RPC bus. The core never depends on a transport
// directly — only on Bus and Client below. See localbus for the
// in-process reference implementation and grpcbus for the networked
// one.
package nodebus

import (
	"context"
	"errors"
	"fmt"
)

// Kind enumerates the fixed set of wire types the bus carries.
type Kind int

const (
	KindBool Kind = iota
	KindU16
	KindU32
	KindU64
	KindString
	KindByteArray
)

// Value is a typed scalar or array value read from / written to an
// attribute, or passed as a method argument/result.
type Value struct {
	Kind   Kind
	Bool   bool
	U16    uint16
	U32    uint32
	U64    uint64
	Str    string
	Bytes  []byte
	Strs   []string // string array, used for capabilities
}

func Bool(v bool) Value          { return Value{Kind: KindBool, Bool: v} }
func U16(v uint16) Value         { return Value{Kind: KindU16, U16: v} }
func U32(v uint32) Value         { return Value{Kind: KindU32, U32: v} }
func U64(v uint64) Value         { return Value{Kind: KindU64, U64: v} }
func String(v string) Value      { return Value{Kind: KindString, Str: v} }
func Bytes(v []byte) Value       { return Value{Kind: KindByteArray, Bytes: v} }
func StringArray(v []string) Value { return Value{Kind: KindString, Strs: v} }

// ErrorKind classifies bus failures per spec.md §4.1/§7.
type ErrorKind int

const (
	ErrTransport ErrorKind = iota
	ErrNotFound
	ErrTypeMismatch
	ErrBadArgs
	ErrServiceBusy
	ErrCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case ErrTransport:
		return "Transport"
	case ErrNotFound:
		return "NotFound"
	case ErrTypeMismatch:
		return "TypeMismatch"
	case ErrBadArgs:
		return "BadArgs"
	case ErrServiceBusy:
		return "ServiceBusy"
	case ErrCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Error wraps a bus failure with its taxonomy kind so callers can
// errors.As into it and branch on Kind, per spec.md §7's policy table.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("nodebus: %s %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("nodebus: %s %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind == kind
	}
	return false
}

// MethodArgs/MethodResults are the ordered argument/result lists of an
// RPC method call — every node-bus method in spec.md §6 takes and
// returns a small fixed tuple, so a slice is enough; no reflection is
// needed to describe the shape.
type MethodArgs []Value
type MethodResults []Value

// ValueChange is the payload handed to a Subscribe callback.
type ValueChange struct {
	Object    string
	Attribute string
	Value     Value
}

// ServerDescriptor is what a process registers with the discovery
// directory: its own reachable endpoint plus the object types it
// hosts, so peers can filter find_servers by capability.
type ServerDescriptor struct {
	Endpoint    string
	ObjectTypes []string
}

// Directory is the discovery service contract of spec.md §4.1: register
// (periodically renewed), deregister, and find_servers with an optional
// object-type filter.
type Directory interface {
	Register(ctx context.Context, desc ServerDescriptor) error
	Deregister(ctx context.Context, endpoint string) error
	FindServers(ctx context.Context, objectTypeFilter string) ([]string, error)
	Close() error
}

// Bus is the server side of an agent's address space: it owns named
// object instances and dispatches incoming method calls and
// attribute reads/writes to registered handlers, and fans out
// attribute writes to subscribers.
type Bus interface {
	// RegisterObject creates a named object instance of the given type;
	// registering a name that already exists keeps its existing
	// handlers. Handlers are supplied via RegisterMethod /
	// RegisterAttribute afterwards.
	RegisterObject(objectType, objectName string) error

	// RegisterMethod installs the handler invoked by Client.Call for
	// object.method.
	RegisterMethod(object, method string, handler func(ctx context.Context, args MethodArgs) (MethodResults, error)) error

	// RegisterAttribute installs the getter (and optional setter) for
	// object.attribute. A nil setter makes the attribute read-only.
	RegisterAttribute(object, attribute string, get func() Value, set func(Value) error) error

	// PublishAttribute pushes a new value for object.attribute to any
	// current subscribers, without going through a Client round trip —
	// this is how attribute writes driven by domain logic (not by a
	// remote Write call) become visible to subscribers.
	PublishAttribute(object, attribute string, value Value)

	// Endpoint is this bus's own address, used when registering with
	// the discovery directory.
	Endpoint() string

	// Close tears down the server side; in-flight calls are allowed to
	// drain per spec.md §5's shutdown discipline.
	Close() error
}

// Session is an established, possibly-reconnecting connection to one
// peer endpoint.
type Session interface {
	Endpoint() string
	// Connected reports the last-observed transport liveness; callers
	// use this to decide whether to wait on reconnection rather than
	// fail fast.
	Connected() bool
	Close() error
}

// Client is the caller side of the bus: dial, read/write attributes,
// call methods, subscribe to value changes — all per spec.md §4.1.
type Client interface {
	Connect(ctx context.Context, endpoint string) (Session, error)
	Read(ctx context.Context, sess Session, object, attribute string) (Value, error)
	Write(ctx context.Context, sess Session, object, attribute string, value Value) error
	Call(ctx context.Context, sess Session, object, method string, args MethodArgs) (MethodResults, error)
	// Subscribe registers callback for every ValueChange on
	// object.attribute until the returned cancel func is invoked or the
	// session is closed.
	Subscribe(ctx context.Context, sess Session, object, attribute string, callback func(ValueChange)) (cancel func(), err error)
}
