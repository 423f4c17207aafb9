package core

import (
	"errors"
	"sync/atomic"

	"github.com/najoast/taskrt/memory"
	"go.uber.org/zap"
)

// Channel is a cloneable send handle bound to one port. It can be used
// from any task. Dropping the last reference releases the channel's
// reference on the port.
type Channel struct {
	port   *Port
	refs   atomic.Int32
	remote bool

	// guarded by port.mu
	pending []*memory.Block
	queued  bool
}

// NewChannel binds a new channel to p.
func NewChannel(p *Port) (*Channel, error) {
	if err := p.bind(); err != nil {
		return nil, err
	}
	c := &Channel{port: p}
	c.refs.Store(1)
	return c, nil
}

// Port returns the bound port.
func (c *Channel) Port() *Port {
	return c.port
}

// TaskID returns the identity of the task owning the bound port.
func (c *Channel) TaskID() TaskID {
	return c.port.owner.id
}

// PortID returns the identity of the bound port.
func (c *Channel) PortID() PortID {
	return c.port.id
}

// UnitSize returns the message size of the bound port.
func (c *Channel) UnitSize() int {
	return c.port.unitSize
}

// RefCount returns the number of references to the channel.
func (c *Channel) RefCount() int32 {
	return c.refs.Load()
}

// Clone takes a reference and returns an equivalent handle.
func (c *Channel) Clone() *Channel {
	c.refs.Add(1)
	return c
}

// Take takes a reference.
func (c *Channel) Take() {
	c.refs.Add(1)
}

// Drop releases a reference.
func (c *Channel) Drop() error {
	for {
		n := c.refs.Load()
		if n <= 0 {
			return ErrChannelDropped
		}
		if !c.refs.CompareAndSwap(n, n-1) {
			continue
		}
		if n == 1 && !c.remote {
			return c.port.Drop()
		}
		return nil
	}
}

// Send copies the port's unit size from data to the bound port.
func (c *Channel) Send(data []byte) error {
	if c.refs.Load() <= 0 {
		return ErrChannelDropped
	}
	return c.port.send(c, data)
}

// Send sends data on ch. A closed destination drops the message; other
// errors fail the task.
func (t *Task) Send(ch *Channel, data []byte) {
	err := ch.Send(data)
	switch {
	case err == nil:
		t.sent.Add(1)
	case errors.Is(err, ErrPortClosed):
		t.kernel.commLog.Debug("dropped message for closed port",
			zap.Uint32("task", uint32(ch.TaskID())),
			zap.Uint32("port", uint32(ch.PortID())))
	default:
		t.fail("send", err)
	}
}

// SendByID sends data to a port addressed by task and port identity.
// Missing destinations drop the message silently.
func (t *Task) SendByID(task TaskID, port PortID, data []byte) {
	delivered, err := t.kernel.sendByID(task, port, data)
	if err != nil {
		t.fail("send", err)
	}
	if delivered {
		t.sent.Add(1)
	}
}
