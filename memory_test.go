package vkr

import (
	"testing"
)

func TestAlignUp(t *testing.T) {
	if alignUp(12, 4) != 12 {
		t.Fail()
	}
	if alignUp(10, 4) != 12 {
		t.Fail()
	}
	if alignUp(0, 16) != 0 {
		t.Fail()
	}
	if alignUp(7, 1) != 7 {
		t.Fail()
	}
}

func TestLinearAllocator(t *testing.T) {
	a := LinearAllocator{Size: 1024}

	ra := a.Allocate(2048, 1)
	if ra != nil {
		t.Error("oversized allocation must fail")
	}

	ra = a.Allocate(512, 1)
	fa := ra
	if ra == nil {
		t.Error("failed 2nd allocation")
	}

	ra = a.Allocate(768, 1)
	if ra != nil {
		t.Error("3rd allocation must not fit")
	}

	ra = a.Allocate(500, 1)
	k := ra
	if ra == nil {
		t.Error("failed 4th allocation")
	}

	ra = a.Allocate(50, 1)
	if ra != nil {
		t.Error("5th allocation must not fit")
	}

	ra = a.Allocate(5, 1)
	if ra == nil {
		t.Error("failed 6th allocation")
	}

	ra = a.Allocate(20, 1)
	if ra != nil {
		t.Error("7th allocation must not fit")
	}

	a.Free(fa)

	ra = a.Allocate(512, 1)
	if ra == nil {
		t.Error("head gap not reused after free")
	}
	if ra.Offset != 0 {
		t.Errorf("head gap allocation at %d, want 0", ra.Offset)
	}

	a.Free(k)

	ra = a.Allocate(400, 1)
	if ra == nil {
		t.Error("gap between neighbours not reused")
	}
	if ra.Offset != 512 {
		t.Errorf("gap allocation at %d, want 512", ra.Offset)
	}
}

func TestLinearAllocatorResetAndUsed(t *testing.T) {
	a := LinearAllocator{Size: 1024}
	if a.Used() != 0 {
		t.Errorf("fresh allocator reports %d used", a.Used())
	}

	a.Allocate(100, 1)
	a.Allocate(100, 64)
	if a.Used() != 228 {
		t.Errorf("used = %d, want 228", a.Used())
	}

	a.Reset()
	if a.Used() != 0 {
		t.Errorf("used after reset = %d", a.Used())
	}
	ra := a.Allocate(1024, 1)
	if ra == nil || ra.Offset != 0 {
		t.Error("reset must recycle the full range")
	}
}

func TestLinearAllocatorAlignment(t *testing.T) {
	a := LinearAllocator{Size: 1024}

	first := a.Allocate(10, 1)
	if first == nil || first.Offset != 0 {
		t.Fatal("first allocation must sit at offset 0")
	}

	next := a.Allocate(100, 256)
	if next == nil {
		t.Fatal("aligned allocation failed")
	}
	if next.Offset != 256 {
		t.Errorf("aligned allocation at %d, want 256", next.Offset)
	}

	tail := a.Allocate(100, 256)
	if tail == nil {
		t.Fatal("second aligned allocation failed")
	}
	if tail.Offset != 512 {
		t.Errorf("aligned tail allocation at %d, want 512", tail.Offset)
	}
}
