package main

import "sync"

// typingRegistry tracks which users are composing in which conversations.
// Typing state is advisory UI sugar: stop is always safe to call redundantly,
// and an empty set is deleted rather than retained.
type typingRegistry struct {
	mu   sync.RWMutex
	sets map[string]map[string]bool // conversationId -> set of typing userIds
}

func newTypingRegistry() *typingRegistry {
	return &typingRegistry{sets: make(map[string]map[string]bool)}
}

// start adds the user to the conversation's typing set. Reports whether the
// user was newly added (false means the call was a redundant repeat).
func (t *typingRegistry) start(conversationId, userId string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sets[conversationId] == nil {
		t.sets[conversationId] = make(map[string]bool)
	}
	if t.sets[conversationId][userId] {
		return false
	}
	t.sets[conversationId][userId] = true
	return true
}

// stop removes the user from the conversation's typing set, deleting the set
// when it empties. Idempotent; reports whether the user was actually removed.
func (t *typingRegistry) stop(conversationId, userId string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.sets[conversationId]
	if !ok || !set[userId] {
		return false
	}
	delete(set, userId)
	if len(set) == 0 {
		delete(t.sets, conversationId)
	}
	return true
}

// conversationsFor returns every conversation with a typing entry for the
// user, for teardown on disconnect.
func (t *typingRegistry) conversationsFor(userId string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var result []string
	for conversationId, set := range t.sets {
		if set[userId] {
			result = append(result, conversationId)
		}
	}
	return result
}

// isTyping reports whether the user currently has a typing entry in the
// conversation.
func (t *typingRegistry) isTyping(conversationId, userId string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sets[conversationId][userId]
}

func (t *typingRegistry) activeConversations() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sets)
}
