package syncer

import "github.com/idilsaglam/livetodo/internal/model"

// Collection is the local mirror of the remote table.
// Every method returns a fresh slice; the receiver is never written to,
// so older copies held by the view stay valid.
type Collection []model.Item

// NewCollection copies items, keeping the first occurrence of each id.
func NewCollection(items []model.Item) Collection {
	out := make(Collection, 0, len(items))
	seen := make(map[int64]struct{}, len(items))
	for _, it := range items {
		if _, dup := seen[it.ID]; dup {
			continue
		}
		seen[it.ID] = struct{}{}
		out = append(out, it)
	}
	return out
}

func (c Collection) Index(id int64) int {
	for i, it := range c {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func (c Collection) Has(id int64) bool { return c.Index(id) >= 0 }

// Add appends it unless an item with the same id is already present.
func (c Collection) Add(it model.Item) Collection {
	if c.Has(it.ID) {
		return c
	}
	out := make(Collection, len(c), len(c)+1)
	copy(out, c)
	return append(out, it)
}

// Replace swaps the item with a matching id. No-op on miss.
func (c Collection) Replace(it model.Item) Collection {
	i := c.Index(it.ID)
	if i < 0 {
		return c
	}
	out := make(Collection, len(c))
	copy(out, c)
	out[i] = it
	return out
}

// Remove drops the item with the given id. No-op on miss.
func (c Collection) Remove(id int64) Collection {
	if !c.Has(id) {
		return c
	}
	out := make(Collection, 0, len(c)-1)
	for _, it := range c {
		if it.ID != id {
			out = append(out, it)
		}
	}
	return out
}

// Items returns a copy safe for the caller to keep.
func (c Collection) Items() []model.Item {
	out := make([]model.Item, len(c))
	copy(out, c)
	return out
}

// Stats counts done and pending items.
func (c Collection) Stats() (done, pending int) {
	for _, it := range c {
		if it.IsCompleted {
			done++
		} else {
			pending++
		}
	}
	return
}
