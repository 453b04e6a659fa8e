package listsync

import "github.com/idilsaglam/groceries/internal/model"

// Cache holds the last-known-good items of one list in creation order.
// Not safe for concurrent use; the owning Session serializes access.
type Cache struct {
	items []model.Item
	index map[string]int
}

func NewCache() *Cache {
	return &Cache{index: map[string]int{}}
}

// ReplaceAll swaps the whole snapshot. Duplicate ids keep the last row.
func (c *Cache) ReplaceAll(items []model.Item) {
	c.items = make([]model.Item, 0, len(items))
	c.index = make(map[string]int, len(items))
	for _, it := range items {
		c.Upsert(it)
	}
}

// Upsert patches an existing row in place or appends a new one.
func (c *Cache) Upsert(it model.Item) {
	if it.ID == "" {
		return
	}
	if i, ok := c.index[it.ID]; ok {
		c.items[i] = it
		return
	}
	c.index[it.ID] = len(c.items)
	c.items = append(c.items, it)
}

// Remove drops id and reports whether it was present.
func (c *Cache) Remove(id string) bool {
	i, ok := c.index[id]
	if !ok {
		return false
	}
	c.items = append(c.items[:i], c.items[i+1:]...)
	delete(c.index, id)
	for j := i; j < len(c.items); j++ {
		c.index[c.items[j].ID] = j
	}
	return true
}

func (c *Cache) Get(id string) (model.Item, bool) {
	i, ok := c.index[id]
	if !ok {
		return model.Item{}, false
	}
	return c.items[i], true
}

func (c *Cache) Contains(id string) bool {
	_, ok := c.index[id]
	return ok
}

// Items returns a copy of the snapshot.
func (c *Cache) Items() []model.Item {
	out := make([]model.Item, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Cache) Len() int { return len(c.items) }
