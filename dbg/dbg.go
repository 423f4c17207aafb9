// Package dbg prints the structure of runtime values for debugging.
//
// Nothing in the runtime depends on these printers. Output goes to the
// "stdlib" logger at debug level.
package dbg

import (
	"fmt"
	"reflect"

	"github.com/najoast/taskrt/memory"
	"go.uber.org/zap"
)

// Printer writes diagnostic dumps to a logger.
type Printer struct {
	log  *zap.Logger
	trap func()
}

// New returns a Printer logging to l. A nil l discards output.
func New(l *zap.Logger) *Printer {
	if l == nil {
		l = zap.NewNop()
	}
	return &Printer{log: l.Named("stdlib"), trap: raiseTrap}
}

// SetTrapHook replaces what Trap does after logging.
func (p *Printer) SetTrapHook(fn func()) {
	p.trap = fn
}

func (p *Printer) desc(t *memory.TypeDesc) {
	if t == nil {
		p.log.Debug("  no type descriptor")
		return
	}
	p.log.Debug(fmt.Sprintf("  size %d, align %d, stateful %t, first_param %#x",
		t.Size, t.Align, t.Stateful, t.FirstParam))
}

func (p *Printer) bytes(prefix string, data []byte) {
	for i, b := range data {
		p.log.Debug(fmt.Sprintf("  %s %d: %#02x", prefix, i, b))
	}
}

// TypeDesc prints a type descriptor.
func (p *Printer) TypeDesc(t *memory.TypeDesc) {
	p.log.Debug("debug_tydesc")
	p.desc(t)
}

// Opaque prints the first t.Size bytes of data.
func (p *Printer) Opaque(t *memory.TypeDesc, data []byte) {
	p.log.Debug("debug_opaque")
	p.desc(t)
	p.bytes("byte", clip(data, t))
}

// Box prints a box with its reference count and payload.
func (p *Printer) Box(t *memory.TypeDesc, b *memory.Box) {
	p.log.Debug(fmt.Sprintf("debug_box(%p)", b))
	p.desc(t)
	p.log.Debug(fmt.Sprintf("  refcount %d", b.RefCount()))
	p.bytes("byte", clip(b.Payload(), t))
}

// Tag prints a tagged union value: its discriminant and variant bytes.
func (p *Printer) Tag(t *memory.TypeDesc, discriminant uintptr, variant []byte) {
	p.log.Debug("debug_tag")
	p.desc(t)
	p.log.Debug(fmt.Sprintf("  discriminant %d", discriminant))
	p.bytes("byte", variant)
}

// Obj prints a dispatch object: its dynamic type, method set and body.
func (p *Printer) Obj(t *memory.TypeDesc, obj any, body []byte) {
	typ := reflect.TypeOf(obj)
	n := 0
	if typ != nil {
		n = typ.NumMethod()
	}
	p.log.Debug(fmt.Sprintf("debug_obj with %d methods", n))
	p.desc(t)
	p.log.Debug(fmt.Sprintf("  type %v", typ))
	for i := 0; i < n; i++ {
		p.log.Debug("  method " + typ.Method(i).Name)
	}
	p.bytes("body byte", body)
}

// Fn prints a function value and, when given, its closure box.
func (p *Printer) Fn(t *memory.TypeDesc, fn any, closure *memory.Box) {
	p.log.Debug("debug_fn")
	p.desc(t)

	v := reflect.ValueOf(fn)
	if v.Kind() == reflect.Func && !v.IsNil() {
		p.log.Debug(fmt.Sprintf("  thunk at %#x", v.Pointer()))
	} else {
		p.log.Debug("  thunk at 0x0")
	}
	p.log.Debug(fmt.Sprintf("  closure at %p", closure))
	if closure != nil {
		p.log.Debug(fmt.Sprintf("    refcount %d", closure.RefCount()))
	}
}

// PtrCast prints both descriptors of a reinterpretation and returns v.
func (p *Printer) PtrCast(from, to *memory.TypeDesc, v any) any {
	p.log.Debug("debug_ptrcast from")
	p.desc(from)
	p.log.Debug("to")
	p.desc(to)
	return v
}

// PtrEq reports whether a and b are the same box.
func (p *Printer) PtrEq(a, b *memory.Box) bool {
	return memory.PtrEq(a, b)
}

// Trap logs msg and stops in the debugger.
func (p *Printer) Trap(msg string) {
	p.log.Warn("trapping: " + msg)
	if p.trap != nil {
		p.trap()
	}
}

func clip(data []byte, t *memory.TypeDesc) []byte {
	if t != nil && uintptr(len(data)) > t.Size {
		return data[:t.Size]
	}
	return data
}
