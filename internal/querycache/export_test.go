package querycache

// TrackedKeys returns how many keys have invalidation state held for them.
func TrackedKeys(c *Client) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}
