package main

import "sync"

// roomRegistry tracks which connections are currently viewing which
// conversations, with both a forward and a reverse index.
// Forward: conversation -> set of connections (for fan-out)
// Reverse: connection -> set of conversations (for O(1) teardown on disconnect)
type roomRegistry struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]bool
	conns map[*Client]map[string]bool
}

func newRoomRegistry() *roomRegistry {
	return &roomRegistry{
		rooms: make(map[string]map[*Client]bool),
		conns: make(map[*Client]map[string]bool),
	}
}

// join adds the connection to the conversation's room. Joining a room the
// connection already belongs to is a no-op; reports whether membership
// changed.
func (r *roomRegistry) join(conversationId string, c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[conversationId][c] {
		return false
	}
	if r.rooms[conversationId] == nil {
		r.rooms[conversationId] = make(map[*Client]bool)
	}
	r.rooms[conversationId][c] = true
	if r.conns[c] == nil {
		r.conns[c] = make(map[string]bool)
	}
	r.conns[c][conversationId] = true
	return true
}

// leave removes the connection from the room. Leaving a room never joined is
// a no-op; reports whether membership changed.
func (r *roomRegistry) leave(conversationId string, c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.rooms[conversationId]
	if !ok || !members[c] {
		return false
	}
	delete(members, c)
	if len(members) == 0 {
		delete(r.rooms, conversationId)
	}
	if rooms, ok := r.conns[c]; ok {
		delete(rooms, conversationId)
		if len(rooms) == 0 {
			delete(r.conns, c)
		}
	}
	return true
}

// members returns a snapshot of the room's connections.
func (r *roomRegistry) members(conversationId string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[conversationId]
	if len(members) == 0 {
		return nil
	}
	result := make([]*Client, 0, len(members))
	for c := range members {
		result = append(result, c)
	}
	return result
}

// contains reports whether the connection is a member of the room.
func (r *roomRegistry) contains(conversationId string, c *Client) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[conversationId][c]
}

// removeAll discards every room membership of the connection, returning the
// conversations it belonged to.
func (r *roomRegistry) removeAll(c *Client) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	rooms, ok := r.conns[c]
	if !ok {
		return nil
	}
	affected := make([]string, 0, len(rooms))
	for conversationId := range rooms {
		affected = append(affected, conversationId)
		if members, ok := r.rooms[conversationId]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(r.rooms, conversationId)
			}
		}
	}
	delete(r.conns, c)
	return affected
}

func (r *roomRegistry) roomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
