package bookmark

// Cache holds decoded bookmarks by slot id. Replacing or dropping an entry
// releases its decoded screenshot. Not safe for concurrent use.
type Cache struct {
	entries map[int]*Bookmark
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[int]*Bookmark)}
}

// Get returns the cached bookmark of a slot.
func (c *Cache) Get(id int) (*Bookmark, bool) {
	b, ok := c.entries[id]
	return b, ok
}

// Put caches b for a slot, releasing the bookmark it replaces.
func (c *Cache) Put(id int, b *Bookmark) {
	if old, ok := c.entries[id]; ok && old != b {
		old.Release()
	}
	c.entries[id] = b
}

// Invalidate drops a slot and releases its screenshot.
func (c *Cache) Invalidate(id int) {
	if old, ok := c.entries[id]; ok {
		old.Release()
		delete(c.entries, id)
	}
}

// Clear drops every slot.
func (c *Cache) Clear() {
	for id := range c.entries {
		c.Invalidate(id)
	}
}

// Len returns the number of cached slots.
func (c *Cache) Len() int {
	return len(c.entries)
}
