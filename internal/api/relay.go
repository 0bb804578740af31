package api

import (
	"fmt"

	"github.com/nerrad567/gray-logic-monitor/internal/cache"
	"github.com/nerrad567/gray-logic-monitor/internal/supervision"
	"github.com/nerrad567/gray-logic-monitor/internal/tag"
)

// Broadcast channels.
const (
	ChannelTagUpdated         = "tag.updated"
	ChannelSupervisionChanged = "supervision.changed"
)

// WSSubscribePayload is the payload of subscribe and unsubscribe frames.
//
// TagIDs narrows tag.updated to the listed tags and Families narrows
// supervision.changed to the listed families. Empty lists match all.
type WSSubscribePayload struct {
	Channels []string             `json:"channels"`
	TagIDs   []int64              `json:"tag_ids,omitempty"`
	Families []supervision.Family `json:"families,omitempty"`
}

// TagEvent is the payload of a tag.updated broadcast.
type TagEvent struct {
	ID      int64    `json:"id"`
	Removed bool     `json:"removed,omitempty"`
	Tag     *tag.Tag `json:"tag,omitempty"`
}

// EntityEvent is the payload of a supervision.changed broadcast.
type EntityEvent struct {
	Family  supervision.Family  `json:"family"`
	ID      int64               `json:"id"`
	Removed bool                `json:"removed,omitempty"`
	Entity  *supervision.Entity `json:"entity,omitempty"`
}

// eventKey identifies what an event is about, for filter matching.
type eventKey struct {
	tagID  int64
	family supervision.Family
}

// filter narrows one channel subscription. A nil set matches everything.
type filter struct {
	tagIDs   map[int64]struct{}
	families map[supervision.Family]struct{}
}

func newFilter(sub WSSubscribePayload) (*filter, error) {
	for _, ch := range sub.Channels {
		if ch != ChannelTagUpdated && ch != ChannelSupervisionChanged {
			return nil, fmt.Errorf("unknown channel: %s", ch)
		}
	}

	f := &filter{}
	if len(sub.TagIDs) > 0 {
		f.tagIDs = make(map[int64]struct{}, len(sub.TagIDs))
		for _, id := range sub.TagIDs {
			f.tagIDs[id] = struct{}{}
		}
	}
	if len(sub.Families) > 0 {
		f.families = make(map[supervision.Family]struct{}, len(sub.Families))
		for _, name := range sub.Families {
			fam, err := supervision.ParseFamily(string(name))
			if err != nil {
				return nil, err
			}
			f.families[fam] = struct{}{}
		}
	}
	return f, nil
}

func (f *filter) match(k eventKey) bool {
	if k.family == "" && f.tagIDs != nil {
		if _, ok := f.tagIDs[k.tagID]; !ok {
			return false
		}
	}
	if k.family != "" && f.families != nil {
		if _, ok := f.families[k.family]; !ok {
			return false
		}
	}
	return true
}

// Relay subscribes the hub to the tag and entity stores. Each store gets a
// buffered listener, so at most the latest state per key is broadcast per
// batch. Close the returned subscriptions to detach.
func (h *Hub) Relay(tags *cache.Store[*tag.Tag], entities supervision.Stores, opts cache.BufferOptions) []cache.Subscription {
	tagOpts := opts
	tagOpts.Name = "ws_tags"
	subs := []cache.Subscription{tags.SubscribeBuffered(h.relayTags, tagOpts)}

	for _, f := range supervision.Families {
		store, err := entities.Of(f)
		if err != nil {
			continue
		}
		entityOpts := opts
		entityOpts.Name = "ws_" + string(f)
		subs = append(subs, store.SubscribeBuffered(h.relayEntities(f), entityOpts))
	}
	return subs
}

func (h *Hub) relayTags(events []cache.Event[*tag.Tag]) {
	if h.ClientCount() == 0 {
		return
	}
	for _, ev := range events {
		payload := TagEvent{ID: ev.Key}
		if ev.Kind == cache.EventRemoved {
			payload.Removed = true
		} else {
			payload.Tag = ev.Value
		}
		h.Broadcast(ChannelTagUpdated, eventKey{tagID: ev.Key}, payload)
	}
}

func (h *Hub) relayEntities(f supervision.Family) func([]cache.Event[*supervision.Entity]) {
	return func(events []cache.Event[*supervision.Entity]) {
		if h.ClientCount() == 0 {
			return
		}
		for _, ev := range events {
			payload := EntityEvent{Family: f, ID: ev.Key}
			if ev.Kind == cache.EventRemoved {
				payload.Removed = true
			} else {
				payload.Entity = ev.Value
			}
			h.Broadcast(ChannelSupervisionChanged, eventKey{family: f}, payload)
		}
	}
}
