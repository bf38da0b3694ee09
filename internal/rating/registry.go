package rating

import "sync"

// Registry hands out one flow per pending review item and retires it once
// the item has been rated.
type Registry struct {
	mu      sync.Mutex
	flows   map[string]*Flow
	api     API
	onRated func(internID, lessonID string)
}

// NewRegistry creates a registry. onRated runs after every successful
// submission, typically to remove the item from the queue.
func NewRegistry(api API, onRated func(internID, lessonID string)) *Registry {
	r := &Registry{
		flows: make(map[string]*Flow),
		api:   api,
	}
	r.onRated = func(internID, lessonID string) {
		r.drop(internID, lessonID)
		if onRated != nil {
			onRated(internID, lessonID)
		}
	}
	return r
}

// Get returns the flow for the given item, creating it on first use.
func (r *Registry) Get(internID, lessonID string) *Flow {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := internID + "\x00" + lessonID
	if flow, ok := r.flows[key]; ok {
		return flow
	}
	flow := newFlow(internID, lessonID, r.api, r.onRated)
	r.flows[key] = flow
	return flow
}

// Reset drops all flows, used on logout.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flows = make(map[string]*Flow)
}

func (r *Registry) drop(internID, lessonID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.flows, internID+"\x00"+lessonID)
}
