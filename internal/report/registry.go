package report

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Outcome is the settled result of one section flush during save-all.
type Outcome struct {
	Section SectionID `json:"section"`
	Err     error     `json:"-"`
}

func (o Outcome) OK() bool {
	return o.Err == nil
}

// Registry is the per-editor table of mounted section handles.
type Registry struct {
	mu      sync.RWMutex
	handles map[SectionID]SectionHandle
}

func NewRegistry() *Registry {
	return &Registry{handles: make(map[SectionID]SectionHandle)}
}

// Register installs handle for id, replacing any previous handle.
func (r *Registry) Register(id SectionID, handle SectionHandle) error {
	if !id.Valid() {
		return fmt.Errorf("register %q: %w", id, ErrUnknownSection)
	}
	if handle == nil {
		return fmt.Errorf("register %s: nil handle", id)
	}
	r.mu.Lock()
	r.handles[id] = handle
	r.mu.Unlock()
	return nil
}

// Unregister removes the live handle for id. Unknown ids are ignored.
func (r *Registry) Unregister(id SectionID) {
	r.mu.Lock()
	delete(r.handles, id)
	r.mu.Unlock()
}

func (r *Registry) handle(id SectionID) SectionHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handles[id]
}

// Registered returns the mounted ids in display order.
func (r *Registry) Registered() []SectionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]SectionID, 0, len(r.handles))
	for _, id := range AllSections {
		if _, ok := r.handles[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Statuses maps exactly the registered ids to each handle's current status.
func (r *Registry) Statuses() map[SectionID]Status {
	r.mu.RLock()
	handles := make(map[SectionID]SectionHandle, len(r.handles))
	for id, h := range r.handles {
		handles[id] = h
	}
	r.mu.RUnlock()

	out := make(map[SectionID]Status, len(handles))
	for id, h := range handles {
		out[id] = h.Status()
	}
	return out
}

// SaveAll flushes every registered handle concurrently and waits for all of
// them to settle. A failing handle does not stop the others.
func (r *Registry) SaveAll(ctx context.Context) ([]Outcome, error) {
	ids := r.Registered()
	if len(ids) == 0 {
		return nil, ErrNothingToSave
	}
	handles := make([]SectionHandle, len(ids))
	for i, id := range ids {
		handles[i] = r.handle(id)
	}

	outcomes := make([]Outcome, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		h := handles[i]
		g.Go(func() error {
			var err error
			if h == nil {
				err = fmt.Errorf("flush %s: %w", id, ErrNotMounted)
			} else {
				err = h.FlushSave(ctx)
			}
			outcomes[i] = Outcome{Section: id, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes, nil
}
