package main

import "testing"

func TestRoomJoinAndLeave(t *testing.T) {
	r := newRoomRegistry()
	c := &Client{}

	if !r.join("conv-1", c) {
		t.Error("Expected first join to change membership")
	}
	if r.join("conv-1", c) {
		t.Error("Expected repeated join to be a no-op")
	}
	if !r.contains("conv-1", c) {
		t.Error("Expected connection to be a room member")
	}

	if !r.leave("conv-1", c) {
		t.Error("Expected leave to change membership")
	}
	if r.leave("conv-1", c) {
		t.Error("Expected repeated leave to be a no-op")
	}
	if r.contains("conv-1", c) {
		t.Error("Expected connection to be out of the room")
	}
}

func TestRoomLeaveNeverJoined(t *testing.T) {
	r := newRoomRegistry()
	if r.leave("conv-1", &Client{}) {
		t.Error("Expected leave of a never-joined room to be a no-op")
	}
}

func TestRoomEmptyRoomIsDeleted(t *testing.T) {
	r := newRoomRegistry()
	a := &Client{}
	b := &Client{}
	r.join("conv-1", a)
	r.join("conv-1", b)

	r.leave("conv-1", a)
	if r.roomCount() != 1 {
		t.Errorf("Expected room to remain with one member, got %d rooms", r.roomCount())
	}
	r.leave("conv-1", b)
	if r.roomCount() != 0 {
		t.Errorf("Expected empty room to be deleted, got %d rooms", r.roomCount())
	}
}

func TestRoomMembersSnapshot(t *testing.T) {
	r := newRoomRegistry()
	a := &Client{}
	b := &Client{}
	r.join("conv-1", a)
	r.join("conv-1", b)

	members := r.members("conv-1")
	if len(members) != 2 {
		t.Fatalf("Expected 2 members, got %d", len(members))
	}
	if r.members("conv-9") != nil {
		t.Error("Expected nil members for an unknown room")
	}
}

func TestRoomRemoveAll(t *testing.T) {
	r := newRoomRegistry()
	a := &Client{}
	b := &Client{}
	r.join("conv-1", a)
	r.join("conv-2", a)
	r.join("conv-1", b)

	affected := r.removeAll(a)
	if len(affected) != 2 {
		t.Fatalf("Expected 2 affected conversations, got %v", affected)
	}
	if r.contains("conv-1", a) || r.contains("conv-2", a) {
		t.Error("Expected connection removed from every room")
	}
	if !r.contains("conv-1", b) {
		t.Error("Expected other connection's membership untouched")
	}
	if r.roomCount() != 1 {
		t.Errorf("Expected only conv-1 to survive, got %d rooms", r.roomCount())
	}

	if r.removeAll(&Client{}) != nil {
		t.Error("Expected removeAll of an unknown connection to return nil")
	}
}
