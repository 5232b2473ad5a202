package auth

import "sync"

// credentialCache is a bounded read-through accelerator for store lookups. It
// is never consulted as a second source of truth: mutation paths evict the
// entry after the backing store accepts the write, and entries repopulate
// lazily on the next successful lookup.
type credentialCache struct {
	mu      sync.RWMutex
	maxSize int
	entries map[string]Credential
}

const defaultCacheSize = 1024

func newCredentialCache(maxSize int) *credentialCache {
	if maxSize <= 0 {
		maxSize = defaultCacheSize
	}
	return &credentialCache{
		maxSize: maxSize,
		entries: make(map[string]Credential),
	}
}

func (c *credentialCache) Get(username string) (Credential, bool) {
	c.mu.RLock()
	cred, ok := c.entries[username]
	c.mu.RUnlock()
	return cred, ok
}

func (c *credentialCache) Put(cred Credential) {
	c.mu.Lock()
	if _, exists := c.entries[cred.Username]; !exists && len(c.entries) >= c.maxSize {
		// Map iteration order is unspecified, which is a good enough
		// eviction victim for a lookup accelerator.
		for victim := range c.entries {
			delete(c.entries, victim)
			break
		}
	}
	c.entries[cred.Username] = cred
	c.mu.Unlock()
}

func (c *credentialCache) Evict(username string) {
	c.mu.Lock()
	delete(c.entries, username)
	c.mu.Unlock()
}

func (c *credentialCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
