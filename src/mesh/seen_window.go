package mesh

import "sync"

// SeenWindow is the bounded dedup set of message IDs a node has already
// processed. It retains the last 2*size IDs and rolls the oldest half away
// when full, so memory stays bounded on a long-running node while recent
// duplicates are still caught.
type SeenWindow struct {
	sync.Mutex
	size int
	ids  []string
	set  map[string]struct{}
}

// NewSeenWindow creates a SeenWindow retaining up to 2*size entries.
func NewSeenWindow(size int) *SeenWindow {
	return &SeenWindow{
		size: size,
		ids:  make([]string, 0, 2*size),
		set:  make(map[string]struct{}),
	}
}

// Witness records an ID and reports whether it had been seen before.
func (w *SeenWindow) Witness(id string) bool {
	w.Lock()
	defer w.Unlock()

	if _, ok := w.set[id]; ok {
		return true
	}

	if len(w.ids) >= 2*w.size {
		w.roll()
	}

	w.ids = append(w.ids, id)
	w.set[id] = struct{}{}

	return false
}

// Seen reports whether an ID is in the window without recording it.
func (w *SeenWindow) Seen(id string) bool {
	w.Lock()
	defer w.Unlock()

	_, ok := w.set[id]
	return ok
}

// Len returns the number of retained IDs.
func (w *SeenWindow) Len() int {
	w.Lock()
	defer w.Unlock()

	return len(w.ids)
}

// roll discards the oldest half of the window. Caller holds the lock.
func (w *SeenWindow) roll() {
	for _, id := range w.ids[:w.size] {
		delete(w.set, id)
	}
	newIDs := make([]string, 0, 2*w.size)
	newIDs = append(newIDs, w.ids[w.size:]...)
	w.ids = newIDs
}
