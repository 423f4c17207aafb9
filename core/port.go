package core

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Port is the inbound mailbox of one task. Every message is exactly
// unitSize bytes. The port is referenced once per bound channel and may
// only be deleted when no channel is bound.
type Port struct {
	id       PortID
	owner    *Task
	unitSize int

	mu sync.Mutex
	// channels with buffered data, each appears at most once
	queue []*Channel
	// destination of a blocked receive, nil when none is pending
	dst     []byte
	refs    int32
	deleted bool

	// used for sends addressed by task and port identity
	remote *Channel

	rendezvous uint64
	buffered   uint64
}

func newPort(owner *Task, id PortID, unitSize int) *Port {
	p := &Port{
		id:       id,
		owner:    owner,
		unitSize: unitSize,
	}
	p.remote = &Channel{port: p, remote: true}
	p.remote.refs.Store(1)
	return p
}

// ID returns the port's identity within its owning task.
func (p *Port) ID() PortID {
	return p.id
}

// Owner returns the task that receives on the port.
func (p *Port) Owner() *Task {
	return p.owner
}

// UnitSize returns the size of every message in bytes.
func (p *Port) UnitSize() int {
	return p.unitSize
}

// RefCount returns the number of bound channels.
func (p *Port) RefCount() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refs
}

// String names the port as a blocking resource.
func (p *Port) String() string {
	return fmt.Sprintf("port %d of task %d", p.id, p.owner.id)
}

// Stats returns delivery statistics for the port.
func (p *Port) Stats() PortStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	queued := 0
	for _, c := range p.queue {
		queued += len(c.pending)
	}
	return PortStats{
		ID:         p.id,
		Owner:      p.owner.id,
		UnitSize:   p.unitSize,
		RefCount:   p.refs,
		Queued:     queued,
		Rendezvous: p.rendezvous,
		Buffered:   p.buffered,
	}
}

// bind adds a channel reference.
func (p *Port) bind() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.deleted {
		return ErrPortClosed
	}
	p.refs++
	return nil
}

// Drop releases one channel reference.
func (p *Port) Drop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.refs == 0 {
		return ErrPortRefCount
	}
	p.refs--
	return nil
}

// send delivers one unit from c. A waiting receiver gets the bytes
// directly; otherwise they are queued on c in the shared arena.
func (p *Port) send(c *Channel, data []byte) error {
	if len(data) < p.unitSize {
		return fmt.Errorf("%w: %d < %d", ErrUnitSize, len(data), p.unitSize)
	}
	data = data[:p.unitSize]

	p.mu.Lock()
	if p.deleted {
		p.mu.Unlock()
		return ErrPortClosed
	}

	if p.dst != nil {
		copy(p.dst, data)
		p.dst = nil
		p.rendezvous++
		p.mu.Unlock()

		p.owner.Wakeup(p)
		return nil
	}

	blk, err := p.owner.kernel.shared.Alloc(p.unitSize, "port message")
	if err != nil {
		p.mu.Unlock()
		return err
	}
	copy(blk.Data, data)
	c.pending = append(c.pending, blk)
	if !c.queued {
		c.queued = true
		p.queue = append(p.queue, c)
	}
	p.mu.Unlock()
	return nil
}

// dequeueLocked copies the next buffered unit into dst. Channels are
// served round-robin and each channel's messages in order.
func (p *Port) dequeueLocked(dst []byte) bool {
	for len(p.queue) > 0 {
		c := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]

		if len(c.pending) == 0 {
			c.queued = false
			continue
		}

		blk := c.pending[0]
		c.pending[0] = nil
		c.pending = c.pending[1:]
		copy(dst, blk.Data)
		p.owner.kernel.shared.Free(blk)
		p.buffered++

		if len(c.pending) > 0 {
			p.queue = append(p.queue, c)
		} else {
			c.queued = false
		}
		return true
	}
	return false
}

// drainLocked frees every buffered message.
func (p *Port) drainLocked() {
	shared := p.owner.kernel.shared
	for _, c := range p.queue {
		for _, blk := range c.pending {
			shared.Free(blk)
		}
		c.pending = nil
		c.queued = false
	}
	p.queue = nil
}

// delete tears the port down if no channel is bound.
func (p *Port) delete() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.deleted {
		return ErrPortClosed
	}
	if p.refs > 0 {
		return fmt.Errorf("%w: %d", ErrPortInUse, p.refs)
	}
	p.deleted = true
	p.dst = nil
	p.drainLocked()
	return nil
}

// close tears the port down regardless of bound channels and returns
// how many were still bound.
func (p *Port) close() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.deleted {
		p.deleted = true
		p.dst = nil
		p.drainLocked()
	}
	return p.refs
}

// NewPort creates a port receiving units of unitSize bytes. The port
// holds a reference on the task until it is deleted.
func (t *Task) NewPort(unitSize int) (*Port, error) {
	if unitSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidUnitSize, unitSize)
	}

	t.portsMu.Lock()
	t.nextPort++
	p := newPort(t, t.nextPort, unitSize)
	t.ports[p.id] = p
	t.portsMu.Unlock()

	t.Ref()
	t.kernel.commLog.Debug("port created",
		zap.Uint32("task", uint32(t.id)),
		zap.Uint32("port", uint32(p.id)),
		zap.Int("unit_size", unitSize))
	return p, nil
}

// DeletePort destroys a port owned by t. Deleting a port that still has
// bound channels fails the task.
func (t *Task) DeletePort(p *Port) {
	if p.owner != t {
		t.fail("delete port", ErrPortNotOwned)
	}
	if err := p.delete(); err != nil {
		t.fail("delete port", err)
	}

	t.portsMu.Lock()
	delete(t.ports, p.id)
	t.portsMu.Unlock()

	t.Deref()
}

// Port looks up one of the task's live ports by identity.
func (t *Task) Port(id PortID) (*Port, bool) {
	t.portsMu.Lock()
	defer t.portsMu.Unlock()
	p, ok := t.ports[id]
	return p, ok
}

// Receive copies the next message on p into dst, blocking until one
// arrives. len(dst) must be at least the port's unit size.
func (t *Task) Receive(p *Port, dst []byte) {
	t.checkKilled()
	if p.owner != t {
		t.fail("receive", ErrPortNotOwned)
	}
	if len(dst) < p.unitSize {
		t.fail("receive", fmt.Errorf("%w: %d < %d", ErrUnitSize, len(dst), p.unitSize))
	}
	dst = dst[:p.unitSize]

	p.mu.Lock()
	if p.deleted {
		p.mu.Unlock()
		t.fail("receive", ErrPortClosed)
	}
	if p.dequeueLocked(dst) {
		p.mu.Unlock()
		t.received.Add(1)
		return
	}
	p.dst = dst
	t.pending = p
	t.Block(p, "waiting for message")
	p.mu.Unlock()

	// The port lock is never held while suspended.
	t.Yield(CheckpointReceive)
	t.pending = nil
	t.received.Add(1)
}
