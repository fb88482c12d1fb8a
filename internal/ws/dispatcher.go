package ws

import (
	"errors"
	"fmt"
)

// ErrUnknownType is returned by Dispatch for a message type with no route.
var ErrUnknownType = errors.New("unknown message type")

// Cost is what a request is charged against its connection's rate limit.
type Cost int

const (
	// CostFree requests are never limited.
	CostFree Cost = iota
	// CostMessage requests draw one token from the connection's bucket.
	CostMessage
	// CostBoot requests start an interpreter. They draw a token and take a
	// slot in the boot window.
	CostBoot
)

func (c Cost) String() string {
	switch c {
	case CostFree:
		return "free"
	case CostMessage:
		return "message"
	case CostBoot:
		return "boot"
	}
	return fmt.Sprintf("Cost(%d)", int(c))
}

// Handler answers one request. msg.Raw holds the full JSON so handlers can
// decode the specific request type.
type Handler func(c *Conn, msg Message)

type route struct {
	cost   Cost
	handle Handler
}

// Dispatcher routes requests by message type. Routes are registered while
// the server is built and only read afterwards.
type Dispatcher struct {
	routes map[string]route
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{routes: make(map[string]route)}
}

// Register routes msgType to h at the given cost, replacing an earlier route.
func (d *Dispatcher) Register(msgType string, cost Cost, h Handler) {
	d.routes[msgType] = route{cost: cost, handle: h}
}

// Cost returns what a request of msgType is charged. Unrouted types still
// cost a token so garbage cannot be sent for free.
func (d *Dispatcher) Cost(msgType string) Cost {
	if r, ok := d.routes[msgType]; ok {
		return r.cost
	}
	return CostMessage
}

// Dispatch runs the handler for msg.Type.
func (d *Dispatcher) Dispatch(c *Conn, msg Message) error {
	r, ok := d.routes[msg.Type]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownType, msg.Type)
	}
	r.handle(c, msg)
	return nil
}
