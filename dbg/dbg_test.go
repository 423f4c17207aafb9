package dbg

import (
	"strings"
	"testing"

	"github.com/najoast/taskrt/memory"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObserved() (*Printer, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return New(zap.New(core)), logs
}

func messages(logs *observer.ObservedLogs) []string {
	var out []string
	for _, e := range logs.All() {
		out = append(out, e.Message)
	}
	return out
}

func TestTypeDesc(t *testing.T) {
	p, logs := newObserved()
	p.TypeDesc(&memory.TypeDesc{Size: 16, Align: 8, Stateful: true, FirstParam: 0x40})

	got := messages(logs)
	want := []string{"debug_tydesc", "  size 16, align 8, stateful true, first_param 0x40"}
	if len(got) != len(want) {
		t.Fatalf("Expected %d lines, got %d: %q", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Line %d: expected %q, got %q", i, want[i], got[i])
		}
	}
	if logs.All()[0].LoggerName != "stdlib" {
		t.Errorf("Expected logger 'stdlib', got %q", logs.All()[0].LoggerName)
	}
}

func TestOpaqueClipsToSize(t *testing.T) {
	p, logs := newObserved()
	p.Opaque(&memory.TypeDesc{Size: 2, Align: 1}, []byte{0xab, 0xcd, 0xef})

	if n := logs.FilterMessageSnippet("byte ").Len(); n != 2 {
		t.Errorf("Expected 2 byte lines, got %d", n)
	}
	if logs.FilterMessage("  byte 1: 0xcd").Len() != 1 {
		t.Errorf("Expected second byte line, got %q", messages(logs))
	}
}

func TestBox(t *testing.T) {
	p, logs := newObserved()
	td := &memory.TypeDesc{Size: 4, Align: 4}

	static := memory.StaticBox(td, []byte{1, 2, 3, 4})
	p.Box(td, static)

	if logs.FilterMessageSnippet("refcount 2074999502").Len() != 1 {
		t.Errorf("Expected immortal refcount, got %q", messages(logs))
	}

	arena := memory.NewLocalArena("dbg", 0)
	box, err := memory.NewBox(arena, td)
	if err != nil {
		t.Fatalf("NewBox failed: %v", err)
	}
	box.Ref()
	p.Box(td, box)
	if logs.FilterMessage("  refcount 2").Len() != 1 {
		t.Errorf("Expected refcount 2, got %q", messages(logs))
	}

	if !p.PtrEq(box, box) || p.PtrEq(box, static) {
		t.Error("PtrEq does not compare identity")
	}
}

type greeter struct{}

func (greeter) Hello() string { return "hello" }
func (greeter) Bye() string   { return "bye" }

func TestObjAndFn(t *testing.T) {
	p, logs := newObserved()

	p.Obj(nil, greeter{}, []byte{7})
	if logs.FilterMessage("debug_obj with 2 methods").Len() != 1 {
		t.Errorf("Expected method count line, got %q", messages(logs))
	}
	if logs.FilterMessage("  method Hello").Len() != 1 {
		t.Errorf("Expected method name line, got %q", messages(logs))
	}

	p.Fn(nil, TestObjAndFn, nil)
	if logs.FilterMessage("  closure at 0x0").Len() != 1 {
		t.Errorf("Expected nil closure line, got %q", messages(logs))
	}
	if logs.FilterMessage("  thunk at 0x0").Len() != 0 {
		t.Error("Expected non-nil thunk address")
	}
}

func TestTagAndPtrCast(t *testing.T) {
	p, logs := newObserved()

	p.Tag(&memory.TypeDesc{Size: 16, Align: 8}, 3, []byte{9})
	if logs.FilterMessage("  discriminant 3").Len() != 1 {
		t.Errorf("Expected discriminant line, got %q", messages(logs))
	}

	v := p.PtrCast(memory.ByteDesc, &memory.TypeDesc{Size: 8, Align: 8}, 42)
	if v != 42 {
		t.Errorf("Expected PtrCast to return its input, got %v", v)
	}
	if logs.FilterMessage("to").Len() != 1 {
		t.Errorf("Expected 'to' separator, got %q", messages(logs))
	}
}

func TestTrapUsesHook(t *testing.T) {
	p, logs := newObserved()

	trapped := false
	p.SetTrapHook(func() { trapped = true })
	p.Trap("invariant broken")

	if !trapped {
		t.Error("Expected trap hook to run")
	}
	entries := logs.FilterLevelExact(zapcore.WarnLevel).All()
	if len(entries) != 1 || !strings.Contains(entries[0].Message, "invariant broken") {
		t.Errorf("Expected trap warning, got %q", messages(logs))
	}
}
