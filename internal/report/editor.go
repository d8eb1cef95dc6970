package report

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"reportdesk/api/internal/metrics"
)

type options struct {
	log         zerolog.Logger
	now         func() time.Time
	declared    []SectionID
	hooks       []SnapshotHook
	onError     func(SectionID, error)
	delay       time.Duration
	hookTimeout time.Duration
}

type Option func(*options)

func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithDeclaredSections narrows the sections that count toward completion.
func WithDeclaredSections(ids ...SectionID) Option {
	return func(o *options) { o.declared = ids }
}

func WithSnapshotHooks(hooks ...SnapshotHook) Option {
	return func(o *options) { o.hooks = append(o.hooks, hooks...) }
}

// WithErrorHandler receives failures of timer-fired flushes.
func WithErrorHandler(fn func(SectionID, error)) Option {
	return func(o *options) { o.onError = fn }
}

func WithAutosaveDelay(d time.Duration) Option {
	return func(o *options) { o.delay = d }
}

func WithHookTimeout(d time.Duration) Option {
	return func(o *options) { o.hookTimeout = d }
}

// Editor is the controller for one open report. It owns the in-memory
// aggregate and is the only writer of the stored document.
type Editor struct {
	id      string
	store   Store
	log     zerolog.Logger
	now     func() time.Time
	onError func(SectionID, error)
	tracker Tracker

	registry  *Registry
	scheduler *Scheduler
	guard     *Guard
	snapshots *SnapshotManager

	persistMu sync.Mutex

	mu       sync.Mutex
	doc      Document
	sections map[SectionID]*Section
	frozen   *Snapshot
	closing  bool
	torn     bool
}

// Open loads documentID from store, creating an empty open document when it
// does not exist yet. A closed document opens read-only over its latest snapshot.
func Open(ctx context.Context, store Store, documentID string, opts ...Option) (*Editor, error) {
	if documentID == "" {
		return nil, fmt.Errorf("open report: empty document id")
	}
	o := options{log: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	stored, err := store.Get(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load report %s: %w", documentID, err)
	}
	doc := NewDocument(documentID)
	if stored != nil {
		doc = stored.Clone()
		doc.ID = documentID
		if doc.Sections == nil {
			doc.Sections = make(map[SectionID]json.RawMessage)
		}
		if doc.SectionStatus == nil {
			doc.SectionStatus = make(map[SectionID]Status)
		}
		if doc.Status == "" {
			doc.Status = DocumentOpen
		}
	}

	e := &Editor{
		id:       documentID,
		store:    store,
		log:      o.log.With().Str("document", documentID).Logger(),
		now:      o.now,
		onError:  o.onError,
		tracker:  NewTracker(o.declared...),
		registry: NewRegistry(),
		doc:      doc,
		sections: make(map[SectionID]*Section),
	}
	e.scheduler = newScheduler(e, o.delay)
	e.guard = newGuard(e)
	e.snapshots = newSnapshotManager(e, o.hooks, o.hookTimeout, e.log)

	if doc.Closed() {
		snap, err := store.GetSnapshot(ctx, documentID, doc.SnapshotVersion)
		if err != nil {
			return nil, fmt.Errorf("load snapshot %s v%d: %w", documentID, doc.SnapshotVersion, err)
		}
		e.frozen = snap
	}
	return e, nil
}

func (e *Editor) ID() string {
	return e.id
}

func (e *Editor) Registry() *Registry {
	return e.registry
}

func (e *Editor) Scheduler() *Scheduler {
	return e.scheduler
}

func (e *Editor) Guard() *Guard {
	return e.guard
}

func (e *Editor) Snapshots() *SnapshotManager {
	return e.snapshots
}

func (e *Editor) Tracker() Tracker {
	return e.tracker
}

// Mount creates (or revives) the built-in handle for id and registers it.
// A remounted section keeps its staged payload and status; a non-nil save
// replaces the previous save action.
func (e *Editor) Mount(id SectionID, save SaveFunc) (*Section, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("mount %q: %w", id, ErrUnknownSection)
	}
	e.mu.Lock()
	if e.torn {
		e.mu.Unlock()
		return nil, ErrEditorClosed
	}
	sec, ok := e.sections[id]
	if !ok {
		sec = &Section{
			id:      id,
			editor:  e,
			payload: clonePayload(e.doc.Sections[id]),
			status:  e.doc.statusOf(id),
		}
		e.sections[id] = sec
	}
	e.mu.Unlock()

	if save != nil {
		sec.setSave(save)
	}
	if err := e.registry.Register(id, sec); err != nil {
		return nil, err
	}
	return sec, nil
}

// Register installs a custom handle for id.
func (e *Editor) Register(id SectionID, handle SectionHandle) error {
	if err := e.alive(); err != nil {
		return err
	}
	return e.registry.Register(id, handle)
}

// Unregister cancels the pending autosave of id and removes its live handle.
// The aggregate keeps the section's last payload and status.
func (e *Editor) Unregister(id SectionID) {
	e.scheduler.Cancel(id)
	h := e.registry.handle(id)
	e.registry.Unregister(id)
	if h != nil {
		if _, managed := h.(*Section); !managed {
			e.recordStatus(id, h.Status())
		}
	}
}

// Section returns the built-in handle for id, if it was ever mounted.
func (e *Editor) Section(id SectionID) (*Section, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sec, ok := e.sections[id]
	return sec, ok
}

func (e *Editor) Schedule(id SectionID, payload json.RawMessage, delay time.Duration) error {
	return e.scheduler.Schedule(id, payload, delay)
}

func (e *Editor) FlushNow(ctx context.Context, id SectionID) error {
	return e.scheduler.FlushNow(ctx, id)
}

// SaveAll flushes every registered section and persists the aggregate once,
// only when all of them succeed.
func (e *Editor) SaveAll(ctx context.Context) ([]Outcome, error) {
	if err := e.writable("save all"); err != nil {
		return nil, err
	}
	return e.saveAll(ctx)
}

func (e *Editor) CloseAndSnapshot(ctx context.Context) (Snapshot, error) {
	return e.snapshots.CloseAndSnapshot(ctx)
}

func (e *Editor) SwitchTo(ctx context.Context, target SectionID, resolve Resolver) (bool, error) {
	return e.guard.SwitchTo(ctx, target, resolve)
}

func (e *Editor) BeforeExit() error {
	return e.guard.BeforeExit()
}

// Statuses returns the status of every declared section: live handles first,
// then mounted-then-unmounted sections, then the stored document.
func (e *Editor) Statuses() map[SectionID]Status {
	out := make(map[SectionID]Status)
	e.mu.Lock()
	for _, id := range e.tracker.Declared() {
		out[id] = e.doc.statusOf(id)
	}
	for id := range e.doc.SectionStatus {
		out[id] = e.doc.statusOf(id)
	}
	sections := make([]*Section, 0, len(e.sections))
	for _, sec := range e.sections {
		sections = append(sections, sec)
	}
	e.mu.Unlock()

	for _, sec := range sections {
		out[sec.id] = sec.Status()
	}
	for id, status := range e.registry.Statuses() {
		out[id] = status
	}
	return out
}

func (e *Editor) Summary() Summary {
	return e.tracker.Summarize(e.Statuses())
}

// DirtySections lists sections with unsaved edits in display order.
func (e *Editor) DirtySections() []SectionID {
	var dirty []SectionID
	for _, id := range AllSections {
		if e.isDirty(id) {
			dirty = append(dirty, id)
		}
	}
	return dirty
}

// Sections returns the section payloads: the frozen snapshot when closed,
// otherwise the last committed aggregate.
func (e *Editor) Sections() map[SectionID]json.RawMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.frozen != nil {
		return cloneSections(e.frozen.Sections)
	}
	return cloneSections(e.doc.Sections)
}

// Document returns a copy of the in-memory aggregate.
func (e *Editor) Document() Document {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc.Clone()
}

func (e *Editor) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc.Closed()
}

// Snapshot returns the frozen snapshot of a closed document.
func (e *Editor) Snapshot() (Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.frozen == nil {
		return Snapshot{}, false
	}
	return e.frozen.Clone(), true
}

// Close tears the editor down: pending timers are dropped and running
// snapshot hooks are awaited. Staged edits that were never flushed are lost.
func (e *Editor) Close() {
	e.scheduler.stop()
	e.snapshots.Wait()
	e.mu.Lock()
	e.torn = true
	e.mu.Unlock()
}

func (e *Editor) alive() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.torn {
		return ErrEditorClosed
	}
	return nil
}

func (e *Editor) writable(op string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.torn {
		return ErrEditorClosed
	}
	if e.doc.Closed() {
		return &ReadOnlyError{DocumentID: e.id, Op: op}
	}
	return nil
}

func (e *Editor) setClosing(v bool) {
	e.mu.Lock()
	e.closing = v
	e.mu.Unlock()
}

func (e *Editor) stage(id SectionID, payload json.RawMessage) error {
	if !id.Valid() {
		return fmt.Errorf("stage %q: %w", id, ErrUnknownSection)
	}
	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		return &ReadOnlyError{DocumentID: e.id, Op: "schedule"}
	}
	sec := e.sections[id]
	e.mu.Unlock()
	if sec == nil {
		return fmt.Errorf("stage %s: %w", id, ErrNotMounted)
	}
	sec.stage(payload)
	return nil
}

func (e *Editor) isDirty(id SectionID) bool {
	if reporter, ok := e.registry.handle(id).(DirtyReporter); ok {
		return reporter.Dirty()
	}
	if sec, ok := e.Section(id); ok {
		return sec.Dirty()
	}
	return false
}

func (e *Editor) discard(id SectionID) {
	if sec, ok := e.Section(id); ok {
		sec.markClean()
	}
	e.log.Debug().Str("section", string(id)).Msg("unsaved changes discarded")
}

// flushSection runs the save action of id and commits the result into the
// in-memory aggregate.
func (e *Editor) flushSection(ctx context.Context, id SectionID) error {
	h := e.registry.handle(id)
	if sec, ok := h.(*Section); ok {
		return sec.commit(ctx)
	}
	if h == nil {
		// an unmounted section can still flush its staged edits
		if sec, ok := e.Section(id); ok {
			return sec.commit(ctx)
		}
		return fmt.Errorf("flush %s: %w", id, ErrNotMounted)
	}
	if err := h.FlushSave(ctx); err != nil {
		e.recordStatus(id, StatusError)
		return &SaveFailedError{Section: id, Err: err}
	}
	if provider, ok := h.(PayloadProvider); ok {
		if err := e.commit(id, provider.SectionPayload(), h.Status()); err != nil {
			return &SaveFailedError{Section: id, Err: err}
		}
		return nil
	}
	e.recordStatus(id, h.Status())
	return nil
}

func (e *Editor) saveAll(ctx context.Context) ([]Outcome, error) {
	outcomes, err := e.registry.SaveAll(ctx)
	if err != nil {
		return nil, err
	}
	var failed []Outcome
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			failed = append(failed, outcome)
		}
	}
	if len(failed) > 0 {
		metrics.SaveAllAborted.Inc()
		e.log.Warn().Int("failed", len(failed)).Msg("save all aborted")
		return outcomes, &AggregateSaveAbortedError{Failed: failed}
	}
	if err := e.persist(ctx); err != nil {
		for i := range outcomes {
			e.failSection(outcomes[i].Section, err)
			outcomes[i].Err = &SaveFailedError{Section: outcomes[i].Section, Err: err}
		}
		return outcomes, err
	}
	return outcomes, nil
}

// commit writes a flushed payload and status into the in-memory aggregate.
func (e *Editor) commit(id SectionID, payload json.RawMessage, status Status) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.doc.Closed() {
		return &ReadOnlyError{DocumentID: e.id, Op: "commit"}
	}
	if payload == nil {
		delete(e.doc.Sections, id)
	} else {
		e.doc.Sections[id] = clonePayload(payload)
	}
	e.doc.SectionStatus[id] = status
	return nil
}

func (e *Editor) recordStatus(id SectionID, status Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.doc.Closed() {
		return
	}
	e.doc.SectionStatus[id] = status
}

func (e *Editor) failSection(id SectionID, err error) {
	if sec, ok := e.Section(id); ok {
		sec.fail(err)
		return
	}
	e.recordStatus(id, StatusError)
}

// persist writes the aggregate. Writes are serialized so an older copy never
// lands after a newer one.
func (e *Editor) persist(ctx context.Context) error {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	e.mu.Lock()
	if e.doc.Closed() {
		e.mu.Unlock()
		return &ReadOnlyError{DocumentID: e.id, Op: "persist"}
	}
	doc := e.doc.Clone()
	doc.LastSavedAt = e.now().UTC()
	e.mu.Unlock()

	if err := e.store.Put(ctx, e.id, doc); err != nil {
		return fmt.Errorf("put report %s: %w", e.id, err)
	}

	e.mu.Lock()
	if !e.doc.Closed() {
		e.doc.LastSavedAt = doc.LastSavedAt
	}
	e.mu.Unlock()
	return nil
}

func (e *Editor) freeze(closed Document, snap Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.doc = closed.Clone()
	frozen := snap.Clone()
	e.frozen = &frozen
}

func (e *Editor) notify(id SectionID, err error) {
	e.log.Warn().Err(err).Str("section", string(id)).Msg("autosave failed")
	if e.onError != nil {
		e.onError(id, err)
	}
}
