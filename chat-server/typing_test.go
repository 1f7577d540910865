package main

import (
	"sort"
	"testing"
)

func TestTypingStartIsIdempotent(t *testing.T) {
	reg := newTypingRegistry()

	if !reg.start("conv-1", "alice") {
		t.Error("Expected first start to report a new entry")
	}
	if reg.start("conv-1", "alice") {
		t.Error("Expected repeated start to report no change")
	}
	if !reg.isTyping("conv-1", "alice") {
		t.Error("Expected alice to be typing in conv-1")
	}
}

func TestTypingStopIsIdempotent(t *testing.T) {
	reg := newTypingRegistry()
	reg.start("conv-1", "alice")

	if !reg.stop("conv-1", "alice") {
		t.Error("Expected first stop to report removal")
	}
	if reg.stop("conv-1", "alice") {
		t.Error("Expected second stop to be a no-op")
	}
	if reg.stop("conv-9", "alice") {
		t.Error("Expected stop in an unknown conversation to be a no-op")
	}
}

func TestTypingEmptySetIsDeleted(t *testing.T) {
	reg := newTypingRegistry()
	reg.start("conv-1", "alice")
	reg.start("conv-1", "bob")

	reg.stop("conv-1", "alice")
	if reg.activeConversations() != 1 {
		t.Errorf("Expected conv-1 to remain while bob is typing, got %d conversations", reg.activeConversations())
	}

	reg.stop("conv-1", "bob")
	if reg.activeConversations() != 0 {
		t.Errorf("Expected empty typing set to be deleted, got %d conversations", reg.activeConversations())
	}
}

func TestTypingConversationsFor(t *testing.T) {
	reg := newTypingRegistry()
	reg.start("conv-1", "alice")
	reg.start("conv-2", "alice")
	reg.start("conv-3", "bob")

	got := reg.conversationsFor("alice")
	sort.Strings(got)
	want := []string{"conv-1", "conv-2"}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, got)
			break
		}
	}

	if reg.conversationsFor("carol") != nil {
		t.Error("Expected no conversations for a user who never typed")
	}
}
