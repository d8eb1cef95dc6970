package report

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"

	"reportdesk/api/internal/metrics"
)

// DefaultHookTimeout bounds a single on-snapshot hook run.
const DefaultHookTimeout = 2 * time.Minute

// SnapshotHook receives every snapshot after the document has been closed.
// Hooks run asynchronously and their errors are only logged.
type SnapshotHook interface {
	OnSnapshot(ctx context.Context, snap Snapshot) error
}

// SnapshotHookFunc adapts a function to SnapshotHook.
type SnapshotHookFunc func(ctx context.Context, snap Snapshot) error

func (f SnapshotHookFunc) OnSnapshot(ctx context.Context, snap Snapshot) error {
	return f(ctx, snap)
}

// SnapshotManager closes a document into an immutable versioned snapshot.
type SnapshotManager struct {
	editor  *Editor
	hooks   []SnapshotHook
	timeout time.Duration
	log     zerolog.Logger

	mu sync.Mutex
	wg sync.WaitGroup
}

func newSnapshotManager(editor *Editor, hooks []SnapshotHook, timeout time.Duration, log zerolog.Logger) *SnapshotManager {
	if timeout <= 0 {
		timeout = DefaultHookTimeout
	}
	return &SnapshotManager{editor: editor, hooks: hooks, timeout: timeout, log: log}
}

// CloseAndSnapshot saves every section, checks readiness, writes the next
// snapshot version and flips the document to read-only.
func (m *SnapshotManager) CloseAndSnapshot(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.editor
	if err := e.writable("close"); err != nil {
		return Snapshot{}, err
	}
	e.setClosing(true)
	defer e.setClosing(false)

	if _, err := e.saveAll(ctx); err != nil && !errors.Is(err, ErrNothingToSave) {
		return Snapshot{}, &IncompleteSaveError{Err: err}
	}
	if dirty := e.DirtySections(); len(dirty) > 0 {
		return Snapshot{}, &IncompleteSaveError{Err: &UnsavedChangesError{Sections: dirty}}
	}

	statuses := e.Statuses()
	if !e.tracker.IsReadyToClose(statuses) {
		incomplete, errored := e.tracker.Pending(statuses)
		return Snapshot{}, &NotReadyError{Incomplete: incomplete, Errored: errored}
	}

	doc, err := e.store.Get(ctx, e.id)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load report %s: %w", e.id, err)
	}
	if doc == nil {
		return Snapshot{}, fmt.Errorf("load report %s: %w", e.id, ErrDocumentNotFound)
	}

	metas, err := e.store.ListSnapshots(ctx, e.id)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list snapshots %s: %w", e.id, err)
	}
	version := 1
	for _, meta := range metas {
		if meta.Version >= version {
			version = meta.Version + 1
		}
	}

	now := e.now().UTC()
	snap := Snapshot{
		DocumentID:    e.id,
		Version:       version,
		ClosedAt:      now,
		Sections:      cloneSections(doc.Sections),
		SectionStatus: cloneStatuses(doc.SectionStatus),
	}
	snap.Digest, err = Digest(snap.Sections)
	if err != nil {
		return Snapshot{}, fmt.Errorf("digest snapshot: %w", err)
	}
	if err := e.store.PutSnapshot(ctx, e.id, snap); err != nil {
		return Snapshot{}, fmt.Errorf("put snapshot %s v%d: %w", e.id, version, err)
	}

	closed := doc.Clone()
	closed.Status = DocumentClosed
	closed.SnapshotVersion = version
	closed.LastSavedAt = now
	if err := e.store.Put(ctx, e.id, closed); err != nil {
		return Snapshot{}, fmt.Errorf("close report %s: %w", e.id, err)
	}
	e.freeze(closed, snap)
	metrics.Snapshots.Inc()

	m.log.Info().Str("document", e.id).Int("version", version).Str("digest", snap.Digest).Msg("report closed")
	m.fire(snap)
	return snap.Clone(), nil
}

func (m *SnapshotManager) fire(snap Snapshot) {
	for _, hook := range m.hooks {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
			defer cancel()
			if err := hook.OnSnapshot(ctx, snap.Clone()); err != nil {
				name := hookName(hook)
				metrics.HookFailures.WithLabelValues(name).Inc()
				m.log.Warn().Err(err).
					Str("document", snap.DocumentID).
					Int("version", snap.Version).
					Str("hook", name).
					Msg("snapshot hook failed")
			}
		}()
	}
}

// Wait blocks until every running hook has returned.
func (m *SnapshotManager) Wait() {
	m.wg.Wait()
}

func hookName(hook SnapshotHook) string {
	if named, ok := hook.(interface{ Name() string }); ok {
		return named.Name()
	}
	return fmt.Sprintf("%T", hook)
}

// Digest returns the hex BLAKE2b-256 of the canonical sections JSON.
func Digest(sections map[SectionID]json.RawMessage) (string, error) {
	canonical, err := canonicalSections(sections)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func canonicalSections(sections map[SectionID]json.RawMessage) ([]byte, error) {
	ids := make([]string, 0, len(sections))
	for id := range sections {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)

	normalized := make(map[string]json.RawMessage, len(ids))
	for _, id := range ids {
		payload, err := normalizePayload(sections[SectionID(id)])
		if err != nil {
			return nil, fmt.Errorf("section %s: %w", id, err)
		}
		normalized[id] = payload
	}
	return json.Marshal(normalized)
}

// normalizePayload re-encodes payload so that key order and whitespace do not
// affect equality.
func normalizePayload(payload json.RawMessage) (json.RawMessage, error) {
	if isEmptyPayload(payload) {
		return json.RawMessage("null"), nil
	}
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
