package main

import "sync"

// presenceRegistry maps a user id to its single live connection. The last
// connection to announce online wins; a superseded connection keeps running
// but no longer owns the presence entry, so its later disconnect must not
// tear the entry down.
type presenceRegistry struct {
	mu    sync.RWMutex
	conns map[string]*Client
}

func newPresenceRegistry() *presenceRegistry {
	return &presenceRegistry{conns: make(map[string]*Client)}
}

// set registers or overwrites the user's connection.
func (p *presenceRegistry) set(userId string, c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns[userId] = c
}

// clear removes the entry only if c is still the connection on record. This
// guards against a stale disconnect racing a newer connection's announce.
// Reports whether the entry was removed.
func (p *presenceRegistry) clear(userId string, c *Client) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conns[userId] != c {
		return false
	}
	delete(p.conns, userId)
	return true
}

// lookup returns the live connection for a user. An absent entry is the
// normal offline case, not an error.
func (p *presenceRegistry) lookup(userId string) (*Client, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.conns[userId]
	return c, ok
}

func (p *presenceRegistry) onlineCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}
