package core

import "time"

// PendingAttachment is an overlay whose region has not registered yet.
// The overlay result from the clip service can legitimately arrive before
// the browser finishes registering the region it was requested for; the
// queue makes that ordering a first-class state instead of a timer hack.
type PendingAttachment struct {
	OverlayID  string    `json:"overlayId"`
	RegionID   string    `json:"regionId"`
	ImageRef   string    `json:"imageRef"`
	Bounds     Bounds    `json:"bounds"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	Retried    bool      `json:"retried"`
}

// PendingQueue holds attach requests waiting for their region. When a
// region registers, its pending overlays attach in the order they were
// enqueued.
type PendingQueue struct {
	entries []*PendingAttachment
	byID    map[string]*PendingAttachment
}

func newPendingQueue() *PendingQueue {
	return &PendingQueue{byID: make(map[string]*PendingAttachment)}
}

// Enqueue stores an attach request. Duplicate overlay ids are ignored so
// a re-delivered producer callback does not double-queue; the second
// return reports whether the entry is new.
func (q *PendingQueue) Enqueue(overlayID, regionID, imageRef string, bounds Bounds, now time.Time) (*PendingAttachment, bool) {
	if p, ok := q.byID[overlayID]; ok {
		return p, false
	}
	p := &PendingAttachment{
		OverlayID:  overlayID,
		RegionID:   regionID,
		ImageRef:   imageRef,
		Bounds:     bounds,
		EnqueuedAt: now,
	}
	q.entries = append(q.entries, p)
	q.byID[overlayID] = p
	return p, true
}

// TakeForRegion removes and returns all entries waiting on regionID, in
// enqueue order.
func (q *PendingQueue) TakeForRegion(regionID string) []*PendingAttachment {
	var taken []*PendingAttachment
	kept := q.entries[:0]
	for _, p := range q.entries {
		if p.RegionID == regionID {
			taken = append(taken, p)
			delete(q.byID, p.OverlayID)
		} else {
			kept = append(kept, p)
		}
	}
	q.entries = kept
	return taken
}

// Get returns the pending entry for an overlay id.
func (q *PendingQueue) Get(overlayID string) (*PendingAttachment, bool) {
	p, ok := q.byID[overlayID]
	return p, ok
}

// Discard drops a pending entry. This is the only way a queued overlay
// leaves without its region appearing; there is no timeout eviction
// because an orphan is a reportable condition, not noise.
func (q *PendingQueue) Discard(overlayID string) bool {
	if _, ok := q.byID[overlayID]; !ok {
		return false
	}
	delete(q.byID, overlayID)
	kept := q.entries[:0]
	for _, p := range q.entries {
		if p.OverlayID != overlayID {
			kept = append(kept, p)
		}
	}
	q.entries = kept
	return true
}

// Entries returns a snapshot of the queue in enqueue order.
func (q *PendingQueue) Entries() []PendingAttachment {
	out := make([]PendingAttachment, 0, len(q.entries))
	for _, p := range q.entries {
		out = append(out, *p)
	}
	return out
}

// Len returns the number of queued entries.
func (q *PendingQueue) Len() int {
	return len(q.entries)
}
