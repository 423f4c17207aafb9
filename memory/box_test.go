package memory

import (
	"errors"
	"sync"
	"testing"
)

var wordDesc = &TypeDesc{Size: 8, Align: 8}

func TestBoxRefCounting(t *testing.T) {
	arena := NewLocalArena("test", 0)

	box, err := NewBox(arena, wordDesc)
	if err != nil {
		t.Fatalf("NewBox failed: %v", err)
	}
	if box.Ownership() != OwnershipUnique {
		t.Errorf("Expected unique ownership, got %s", box.Ownership())
	}
	if len(box.Payload()) != 8 {
		t.Errorf("Expected 8 payload bytes, got %d", len(box.Payload()))
	}

	if err := box.Ref(); err != nil {
		t.Fatalf("Ref failed: %v", err)
	}
	if box.Ownership() != OwnershipShared || box.RefCount() != 2 {
		t.Errorf("Expected shared with 2 refs, got %s with %d", box.Ownership(), box.RefCount())
	}

	freed, err := box.Deref()
	if err != nil || freed {
		t.Fatalf("First Deref: freed=%v err=%v", freed, err)
	}
	freed, err = box.Deref()
	if err != nil || !freed {
		t.Fatalf("Second Deref: freed=%v err=%v", freed, err)
	}
	if arena.Stats().Live != 0 {
		t.Error("Box payload should have been freed")
	}

	if _, err := box.Deref(); !errors.Is(err, ErrRefCount) {
		t.Errorf("Expected ErrRefCount on underflow, got %v", err)
	}
}

func TestBoxImmortal(t *testing.T) {
	box := StaticBox(wordDesc, make([]byte, 8))

	if box.RefCount() != ImmortalRefCount {
		t.Errorf("Expected immortal count %#x, got %#x", ImmortalRefCount, box.RefCount())
	}
	if err := box.Ref(); !errors.Is(err, ErrImmortal) {
		t.Errorf("Expected ErrImmortal from Ref, got %v", err)
	}
	if _, err := box.Deref(); !errors.Is(err, ErrImmortal) {
		t.Errorf("Expected ErrImmortal from Deref, got %v", err)
	}
	if box.RefCount() != ImmortalRefCount {
		t.Error("Immortal count changed")
	}
}

func TestBoxLeak(t *testing.T) {
	arena := NewLocalArena("test", 0)
	box, err := NewBox(arena, wordDesc)
	if err != nil {
		t.Fatalf("NewBox failed: %v", err)
	}

	box.Leak()

	if leaks := arena.Release(); len(leaks) != 0 {
		t.Errorf("Leaked box should not be reported, got %v", leaks)
	}
	if !box.Leaked() {
		t.Error("Box should report leaked")
	}
}

func TestBoxConcurrentRefs(t *testing.T) {
	box, err := NewBox(NewSharedArena("shared", 0), wordDesc)
	if err != nil {
		t.Fatalf("NewBox failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			box.Ref()
			box.Deref()
		}()
	}
	wg.Wait()

	if box.RefCount() != 1 {
		t.Errorf("Expected count 1 after balanced refs, got %d", box.RefCount())
	}
}

func TestPtrEqAndTypeDesc(t *testing.T) {
	arena := NewLocalArena("test", 0)
	a, _ := NewBox(arena, wordDesc)
	b, _ := NewBox(arena, wordDesc)

	if !PtrEq(a, a) || PtrEq(a, b) {
		t.Error("PtrEq should compare identity")
	}
	if SizeOf(wordDesc) != 8 || AlignOf(wordDesc) != 8 {
		t.Error("Unexpected type descriptor layout")
	}
}
