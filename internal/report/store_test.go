package report

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu     sync.Mutex
	docs   map[string]Document
	snaps  map[string]map[int]Snapshot
	puts   int
	putErr error
}

func newMemStore() *memStore {
	return &memStore{
		docs:  make(map[string]Document),
		snaps: make(map[string]map[int]Snapshot),
	}
}

func (m *memStore) Get(_ context.Context, id string) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, nil
	}
	out := doc.Clone()
	return &out, nil
}

func (m *memStore) Put(_ context.Context, id string, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	if existing, ok := m.docs[id]; ok && existing.Closed() {
		return ErrDocumentClosed
	}
	m.puts++
	m.docs[id] = doc.Clone()
	return nil
}

func (m *memStore) PutSnapshot(_ context.Context, id string, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snaps[id] == nil {
		m.snaps[id] = make(map[int]Snapshot)
	}
	if _, ok := m.snaps[id][snap.Version]; ok {
		return ErrSnapshotExists
	}
	m.snaps[id][snap.Version] = snap.Clone()
	return nil
}

func (m *memStore) ListSnapshots(_ context.Context, id string) ([]SnapshotMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var metas []SnapshotMeta
	for _, snap := range m.snaps[id] {
		metas = append(metas, snap.Meta())
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].Version < metas[j].Version })
	return metas, nil
}

func (m *memStore) GetSnapshot(_ context.Context, id string, version int) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[id][version]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	out := snap.Clone()
	return &out, nil
}

func (m *memStore) putCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

func (m *memStore) stored(t *testing.T, id string) Document {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	require.True(t, ok, "document %s not stored", id)
	return doc.Clone()
}

func payloadFor(id SectionID) json.RawMessage {
	return json.RawMessage(`{"text":"` + string(id) + ` findings"}`)
}

// completeSections mounts, edits and flushes each id so it ends completed.
func completeSections(t *testing.T, e *Editor, ids ...SectionID) {
	t.Helper()
	ctx := context.Background()
	for _, id := range ids {
		_, err := e.Mount(id, nil)
		require.NoError(t, err)
		require.NoError(t, e.Schedule(id, payloadFor(id), time.Hour))
		require.NoError(t, e.FlushNow(ctx, id))
	}
}

func openEditor(t *testing.T, store Store, id string, opts ...Option) *Editor {
	t.Helper()
	e, err := Open(context.Background(), store, id, opts...)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

var errBackend = errors.New("backend unavailable")

func TestOpenCreatesEmptyDocument(t *testing.T) {
	store := newMemStore()
	e := openEditor(t, store, "rep_1")

	doc := e.Document()
	require.Equal(t, "rep_1", doc.ID)
	require.Equal(t, DocumentOpen, doc.Status)
	require.Empty(t, doc.Sections)
	require.False(t, e.Closed())
	require.Zero(t, store.putCount())
}

func TestOpenRestoresStoredSections(t *testing.T) {
	store := newMemStore()
	doc := NewDocument("rep_1")
	doc.Sections[SectionClients] = payloadFor(SectionClients)
	store.docs["rep_1"] = doc

	e := openEditor(t, store, "rep_1")
	sec, err := e.Mount(SectionClients, nil)
	require.NoError(t, err)
	require.JSONEq(t, string(payloadFor(SectionClients)), string(sec.Payload()))
	require.Equal(t, StatusCompleted, sec.Status())
	require.False(t, sec.Dirty())
}

func TestOpenRejectsEmptyID(t *testing.T) {
	_, err := Open(context.Background(), newMemStore(), "")
	require.Error(t, err)
}
