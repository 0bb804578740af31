package supervision

import (
	"slices"
	"sync"

	"github.com/nerrad567/gray-logic-monitor/internal/tag"
)

type ownerKey struct {
	family Family
	id     int64
}

// OwnedTags maps each supervised entity to the data and rule tags it owns.
// Control tags are not indexed; the manager never flags them.
//
// Thread Safety: safe for concurrent use.
type OwnedTags struct {
	mu      sync.RWMutex
	byOwner map[ownerKey]map[int64]struct{}
	byTag   map[int64]ownerKey
}

// NewOwnedTags creates an empty index.
func NewOwnedTags() *OwnedTags {
	return &OwnedTags{
		byOwner: make(map[ownerKey]map[int64]struct{}),
		byTag:   make(map[int64]ownerKey),
	}
}

// Set records the owner of t. It reports whether the owner changed, which
// includes a previously unknown tag gaining an owner.
func (x *OwnedTags) Set(t *tag.Tag) bool {
	level, id := t.Owner()
	var key ownerKey
	if level != "" && !t.IsControl() {
		key = ownerKey{family: Family(level), id: id}
	}

	x.mu.RLock()
	prev, known := x.byTag[t.ID]
	x.mu.RUnlock()
	if known && prev == key {
		return false
	}
	if !known && key == (ownerKey{}) {
		return false
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.removeLocked(t.ID)
	if key == (ownerKey{}) {
		return false
	}
	set, ok := x.byOwner[key]
	if !ok {
		set = make(map[int64]struct{})
		x.byOwner[key] = set
	}
	set[t.ID] = struct{}{}
	x.byTag[t.ID] = key
	return true
}

// Remove forgets a tag.
func (x *OwnedTags) Remove(tagID int64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.removeLocked(tagID)
}

func (x *OwnedTags) removeLocked(tagID int64) {
	key, ok := x.byTag[tagID]
	if !ok {
		return
	}
	if set := x.byOwner[key]; set != nil {
		delete(set, tagID)
		if len(set) == 0 {
			delete(x.byOwner, key)
		}
	}
	delete(x.byTag, tagID)
}

// Tags returns the tags owned by an entity in ascending order.
func (x *OwnedTags) Tags(f Family, id int64) []int64 {
	x.mu.RLock()
	set := x.byOwner[ownerKey{family: f, id: id}]
	out := make([]int64, 0, len(set))
	for tid := range set {
		out = append(out, tid)
	}
	x.mu.RUnlock()
	slices.Sort(out)
	return out
}

// Owner returns the entity owning a tag.
func (x *OwnedTags) Owner(tagID int64) (Family, int64, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	key, ok := x.byTag[tagID]
	return key.family, key.id, ok
}
