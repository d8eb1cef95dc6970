package report

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"reportdesk/api/internal/metrics"
)

// DefaultAutosaveDelay is used when a schedule call passes a non-positive delay.
const DefaultAutosaveDelay = 800 * time.Millisecond

// Scheduler debounces section edits and serializes flushes per section.
type Scheduler struct {
	editor *Editor
	delay  time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	timers   map[SectionID]*time.Timer
	gen      map[SectionID]uint64
	inflight map[SectionID]chan struct{}
	stopped  bool
}

func newScheduler(editor *Editor, delay time.Duration) *Scheduler {
	if delay <= 0 {
		delay = DefaultAutosaveDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		editor:   editor,
		delay:    delay,
		ctx:      ctx,
		cancel:   cancel,
		timers:   make(map[SectionID]*time.Timer),
		gen:      make(map[SectionID]uint64),
		inflight: make(map[SectionID]chan struct{}),
	}
}

// Schedule stages payload for id and restarts its debounce timer. Only the
// last payload staged before the timer fires is flushed.
func (s *Scheduler) Schedule(id SectionID, payload json.RawMessage, delay time.Duration) error {
	if err := s.editor.writable("schedule"); err != nil {
		return err
	}
	if err := s.editor.stage(id, payload); err != nil {
		return err
	}
	if delay <= 0 {
		delay = s.delay
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrEditorClosed
	}
	if t, ok := s.timers[id]; ok {
		t.Stop()
	}
	s.gen[id]++
	gen := s.gen[id]
	s.timers[id] = time.AfterFunc(delay, func() { s.fire(id, gen) })
	return nil
}

// FlushNow cancels any pending timer for id, flushes the section and persists
// the aggregate.
func (s *Scheduler) FlushNow(ctx context.Context, id SectionID) error {
	if !id.Valid() {
		return ErrUnknownSection
	}
	return s.flush(ctx, id, true)
}

// Cancel stops the pending timer for id, if any.
func (s *Scheduler) Cancel(id SectionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	s.gen[id]++
}

// Pending reports whether id has an armed debounce timer.
func (s *Scheduler) Pending(id SectionID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[id]
	return ok
}

func (s *Scheduler) stop() {
	s.mu.Lock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
		s.gen[id]++
	}
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
}

func (s *Scheduler) fire(id SectionID, gen uint64) {
	s.mu.Lock()
	if s.stopped || s.gen[id] != gen {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	s.mu.Unlock()

	if err := s.flush(s.ctx, id, true); err != nil {
		s.editor.notify(id, err)
	}
}

func (s *Scheduler) acquire(ctx context.Context, id SectionID) (func(), error) {
	s.mu.Lock()
	slot, ok := s.inflight[id]
	if !ok {
		slot = make(chan struct{}, 1)
		s.inflight[id] = slot
	}
	s.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// flush runs one section flush while holding the section's slot. persist
// writes the aggregate afterwards; save-all passes false and persists once.
func (s *Scheduler) flush(ctx context.Context, id SectionID, persist bool) error {
	if err := s.editor.writable("flush"); err != nil {
		return err
	}
	s.Cancel(id)

	release, err := s.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	if err := s.editor.writable("flush"); err != nil {
		return err
	}

	start := time.Now()
	err = s.editor.flushSection(ctx, id)
	if err == nil && persist {
		if perr := s.editor.persist(ctx); perr != nil {
			s.editor.failSection(id, perr)
			err = &SaveFailedError{Section: id, Err: perr}
		}
	}
	metrics.ObserveFlush(string(id), err, time.Since(start))
	return err
}
