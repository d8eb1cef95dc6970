package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"reportdesk/api/internal/archive"
	"reportdesk/api/internal/export"
	"reportdesk/api/internal/report"
	"reportdesk/api/internal/search"
)

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Store         report.Store
	Archive       *archive.Service
	Search        *search.Service
	Exporter      *export.Service
	Hooks         []report.SnapshotHook
	AutosaveDelay time.Duration
	HookTimeout   time.Duration
	Logger        zerolog.Logger
}

// Service keeps one editor per open report.
type Service struct {
	store    report.Store
	archive  *archive.Service
	search   *search.Service
	exporter *export.Service
	hooks    []report.SnapshotHook
	delay    time.Duration
	timeout  time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	editors map[string]*report.Editor
}

// ReportState is the editor view returned by GET /api/reports/{id}.
type ReportState struct {
	ID              string                             `json:"id"`
	Status          report.DocumentStatus              `json:"status"`
	SnapshotVersion int                                `json:"snapshotVersion,omitempty"`
	LastSavedAt     *time.Time                         `json:"lastSavedAt,omitempty"`
	Sections        map[report.SectionID]report.Status `json:"sections"`
	Summary         report.Summary                     `json:"summary"`
	ReadyToClose    bool                               `json:"readyToClose"`
	Unsaved         []report.SectionID                 `json:"unsaved"`
	Mounted         []report.SectionID                 `json:"mounted"`
	Active          report.SectionID                   `json:"active,omitempty"`
}

// OutcomeView is one section result of a save-all.
type OutcomeView struct {
	Section report.SectionID `json:"section"`
	OK      bool             `json:"ok"`
	Error   string           `json:"error,omitempty"`
}

func NewService(deps Deps) *Service {
	hooks := append([]report.SnapshotHook(nil), deps.Hooks...)
	if deps.Archive != nil {
		hooks = append(hooks, deps.Archive)
	}
	if deps.Search != nil {
		hooks = append(hooks, deps.Search)
	}
	exporter := deps.Exporter
	if exporter == nil {
		exporter = export.NewService(deps.Store, export.WithLogger(deps.Logger))
	}
	return &Service{
		store:    deps.Store,
		archive:  deps.Archive,
		search:   deps.Search,
		exporter: exporter,
		hooks:    hooks,
		delay:    deps.AutosaveDelay,
		timeout:  deps.HookTimeout,
		log:      deps.Logger,
		editors:  make(map[string]*report.Editor),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	if p, ok := s.store.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Open returns the live editor for id, opening it on first use.
func (s *Service) Open(ctx context.Context, id string) (*report.Editor, bool, error) {
	if id == "" {
		return nil, false, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "report id is required", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if editor, ok := s.editors[id]; ok {
		return editor, false, nil
	}

	log := s.log.With().Str("document", id).Logger()
	opts := []report.Option{
		report.WithLogger(log),
		report.WithSnapshotHooks(s.hooks...),
		report.WithErrorHandler(func(section report.SectionID, err error) {
			log.Error().Err(err).Str("section", string(section)).Msg("autosave failed")
		}),
	}
	if s.delay > 0 {
		opts = append(opts, report.WithAutosaveDelay(s.delay))
	}
	if s.timeout > 0 {
		opts = append(opts, report.WithHookTimeout(s.timeout))
	}
	editor, err := report.Open(ctx, s.store, id, opts...)
	if err != nil {
		return nil, false, fmt.Errorf("open report %s: %w", id, err)
	}
	s.editors[id] = editor
	return editor, true, nil
}

func (s *Service) Editor(id string) (*report.Editor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	editor, ok := s.editors[id]
	if !ok {
		return nil, domainError(http.StatusNotFound, "REPORT_NOT_OPEN", "Report is not open", map[string]any{"id": id})
	}
	return editor, nil
}

// CloseEditor tears the editor down. Unsaved sections block unless force.
func (s *Service) CloseEditor(id string, force bool) error {
	editor, err := s.Editor(id)
	if err != nil {
		return err
	}
	if !force {
		if err := editor.BeforeExit(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	delete(s.editors, id)
	s.mu.Unlock()
	editor.Close()
	return nil
}

func (s *Service) Mount(id string, section report.SectionID) error {
	editor, err := s.Editor(id)
	if err != nil {
		return err
	}
	_, err = editor.Mount(section, nil)
	return err
}

func (s *Service) Unmount(id string, section report.SectionID) error {
	editor, err := s.Editor(id)
	if err != nil {
		return err
	}
	if !section.Valid() {
		return fmt.Errorf("%w: %q", report.ErrUnknownSection, section)
	}
	editor.Unregister(section)
	return nil
}

func (s *Service) Schedule(id string, section report.SectionID, payload json.RawMessage, delay time.Duration) error {
	editor, err := s.Editor(id)
	if err != nil {
		return err
	}
	return editor.Schedule(section, payload, delay)
}

func (s *Service) Flush(ctx context.Context, id string, section report.SectionID) error {
	editor, err := s.Editor(id)
	if err != nil {
		return err
	}
	return editor.FlushNow(ctx, section)
}

func (s *Service) State(id string) (ReportState, error) {
	editor, err := s.Editor(id)
	if err != nil {
		return ReportState{}, err
	}
	return stateOf(editor), nil
}

func stateOf(editor *report.Editor) ReportState {
	doc := editor.Document()
	statuses := editor.Statuses()
	state := ReportState{
		ID:              editor.ID(),
		Status:          doc.Status,
		SnapshotVersion: doc.SnapshotVersion,
		Sections:        statuses,
		Summary:         editor.Tracker().Summarize(statuses),
		ReadyToClose:    editor.Tracker().IsReadyToClose(statuses),
		Unsaved:         nonNilIDs(editor.DirtySections()),
		Mounted:         nonNilIDs(editor.Registry().Registered()),
		Active:          editor.Guard().Active(),
	}
	if !doc.LastSavedAt.IsZero() {
		saved := doc.LastSavedAt
		state.LastSavedAt = &saved
	}
	return state
}

func (s *Service) Sections(id string) (map[report.SectionID]json.RawMessage, error) {
	editor, err := s.Editor(id)
	if err != nil {
		return nil, err
	}
	return editor.Sections(), nil
}

// Switch moves the active section. choice answers the unsaved-changes prompt
// when the current section is dirty.
func (s *Service) Switch(ctx context.Context, id string, target report.SectionID, choice *report.Choice) (bool, error) {
	editor, err := s.Editor(id)
	if err != nil {
		return false, err
	}
	var resolve report.Resolver
	if choice != nil {
		answer := *choice
		resolve = func(report.SwitchPrompt) report.Choice { return answer }
	}
	return editor.SwitchTo(ctx, target, resolve)
}

func (s *Service) SaveAll(ctx context.Context, id string) ([]OutcomeView, error) {
	editor, err := s.Editor(id)
	if err != nil {
		return nil, err
	}
	outcomes, err := editor.SaveAll(ctx)
	return outcomeViews(outcomes), err
}

func (s *Service) Approve(ctx context.Context, id string) (report.Snapshot, error) {
	editor, err := s.Editor(id)
	if err != nil {
		return report.Snapshot{}, err
	}
	return editor.CloseAndSnapshot(ctx)
}

func (s *Service) Snapshots(ctx context.Context, id string) ([]report.SnapshotMeta, error) {
	metas, err := s.store.ListSnapshots(ctx, id)
	if err != nil {
		return nil, err
	}
	if metas == nil {
		metas = []report.SnapshotMeta{}
	}
	return metas, nil
}

func (s *Service) Snapshot(ctx context.Context, id string, version int) (*report.Snapshot, error) {
	return s.store.GetSnapshot(ctx, id, version)
}

func (s *Service) Compare(ctx context.Context, id string, from, to int) ([]report.SectionChange, error) {
	before, err := s.store.GetSnapshot(ctx, id, from)
	if err != nil {
		return nil, err
	}
	after, err := s.store.GetSnapshot(ctx, id, to)
	if err != nil {
		return nil, err
	}
	changes := report.Compare(*before, *after)
	if changes == nil {
		changes = []report.SectionChange{}
	}
	return changes, nil
}

func (s *Service) Export(ctx context.Context, req export.Request) (*export.Result, error) {
	return s.exporter.Export(ctx, req)
}

func (s *Service) History(id string, limit int) ([]archive.Entry, error) {
	if s.archive == nil {
		return nil, domainError(http.StatusNotFound, "ARCHIVE_DISABLED", "Snapshot archive is not configured", nil)
	}
	return s.archive.History(id, limit)
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

// Shutdown runs each editor's exit hook, logs what would be lost, makes one
// best-effort save-all and closes the editor.
func (s *Service) Shutdown(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.editors))
	for id := range s.editors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	editors := make([]*report.Editor, 0, len(ids))
	for _, id := range ids {
		editors = append(editors, s.editors[id])
	}
	s.editors = make(map[string]*report.Editor)
	s.mu.Unlock()

	for _, editor := range editors {
		log := s.log.With().Str("document", editor.ID()).Logger()
		exit := editor.Guard().ExitHook()
		var unsaved *report.UnsavedChangesError
		if err := exit(); errors.As(err, &unsaved) {
			log.Warn().Int("unsaved", unsaved.Count()).Interface("sections", unsaved.Sections).Msg("unsaved changes at shutdown, saving")
			if _, err := editor.SaveAll(ctx); err != nil {
				log.Error().Err(err).Msg("shutdown save failed")
			}
		}
		editor.Close()
	}
}

func outcomeViews(outcomes []report.Outcome) []OutcomeView {
	views := make([]OutcomeView, 0, len(outcomes))
	for _, outcome := range outcomes {
		view := OutcomeView{Section: outcome.Section, OK: outcome.OK()}
		if outcome.Err != nil {
			view.Error = outcome.Err.Error()
		}
		views = append(views, view)
	}
	return views
}

func nonNilIDs(ids []report.SectionID) []report.SectionID {
	if ids == nil {
		return []report.SectionID{}
	}
	return ids
}
