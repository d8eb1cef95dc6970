// Package archive keeps the approval history of each report in its own git
// repository: one commit and one tag per snapshot version.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/rs/zerolog"

	"reportdesk/api/internal/report"
)

const snapshotFile = "snapshot.json"

var ErrNotArchived = errors.New("snapshot not archived")

// Entry is one archived approval.
type Entry struct {
	Version   int       `json:"version"`
	Tag       string    `json:"tag"`
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	author  string
	log     zerolog.Logger
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string, log zerolog.Logger) *Service {
	return &Service{
		baseDir: baseDir,
		author:  "Reportdesk",
		log:     log,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *Service) Name() string {
	return "archive"
}

// OnSnapshot archives snap. It is registered as a snapshot hook.
func (s *Service) OnSnapshot(_ context.Context, snap report.Snapshot) error {
	entry, err := s.Record(snap)
	if err != nil {
		return err
	}
	s.log.Info().Str("document", snap.DocumentID).Int("version", entry.Version).Str("commit", entry.Hash).Msg("snapshot archived")
	return nil
}

// Record commits snap and tags the commit v<version>. Recording the same
// version twice returns the existing entry.
func (s *Service) Record(snap report.Snapshot) (Entry, error) {
	lock := s.documentLock(snap.DocumentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(snap.DocumentID)
	if err != nil {
		return Entry{}, err
	}

	tag := tagName(snap.Version)
	if commitObj, err := taggedCommit(repo, tag); err == nil {
		return toEntry(commitObj, tag), nil
	} else if !errors.Is(err, ErrNotArchived) {
		return Entry{}, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return Entry{}, fmt.Errorf("open worktree: %w", err)
	}
	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return Entry{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, snapshotFile), append(payload, '\n'), 0o644); err != nil {
		return Entry{}, fmt.Errorf("write %s: %w", snapshotFile, err)
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return Entry{}, fmt.Errorf("git add snapshot: %w", err)
	}

	message := fmt.Sprintf("Approve report %s v%d\n\ndigest: %s", snap.DocumentID, snap.Version, snap.Digest)
	when := snap.ClosedAt
	if when.IsZero() {
		when = time.Now()
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  s.author,
			Email: fmt.Sprintf("%s@reportdesk.local", sanitizeEmail(s.author)),
			When:  when,
		},
	})
	if err != nil {
		return Entry{}, fmt.Errorf("commit snapshot: %w", err)
	}

	_, err = repo.CreateTag(tag, hash, &git.CreateTagOptions{
		Tagger: &object.Signature{
			Name:  s.author,
			Email: fmt.Sprintf("%s@reportdesk.local", sanitizeEmail(s.author)),
			When:  when,
		},
		Message: fmt.Sprintf("report %s version %d", snap.DocumentID, snap.Version),
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return Entry{}, fmt.Errorf("create tag: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Entry{}, fmt.Errorf("read commit object: %w", err)
	}
	return toEntry(commitObj, tag), nil
}

// History lists archived approvals, newest first.
func (s *Service) History(documentID string, limit int) ([]Entry, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	tags, err := tagsByCommit(repo)
	if err != nil {
		return nil, err
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Entry, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toEntry(commitObj, tags[commitObj.Hash]))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// Load reads the snapshot archived under version.
func (s *Service) Load(documentID string, version int) (report.Snapshot, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return report.Snapshot{}, ErrNotArchived
	}
	if err != nil {
		return report.Snapshot{}, fmt.Errorf("open repo: %w", err)
	}
	commitObj, err := taggedCommit(repo, tagName(version))
	if err != nil {
		return report.Snapshot{}, err
	}
	return readSnapshotFromCommit(commitObj)
}

// Diff compares two archived versions section by section.
func (s *Service) Diff(documentID string, from, to int) ([]report.SectionChange, error) {
	before, err := s.Load(documentID, from)
	if err != nil {
		return nil, fmt.Errorf("load v%d: %w", from, err)
	}
	after, err := s.Load(documentID, to)
	if err != nil {
		return nil, fmt.Errorf("load v%d: %w", to, err)
	}
	return report.Compare(before, after), nil
}

func (s *Service) ensureRepo(documentID string) (*git.Repository, error) {
	path := s.repoPath(documentID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInitWithOptions(path, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
	})
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(documentID string) string {
	return filepath.Join(s.baseDir, documentID)
}

func (s *Service) documentLock(documentID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[documentID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[documentID] = lock
	return lock
}

func tagName(version int) string {
	return "v" + strconv.Itoa(version)
}

func versionFromTag(tag string) int {
	version, err := strconv.Atoi(strings.TrimPrefix(tag, "v"))
	if err != nil {
		return 0
	}
	return version
}

func taggedCommit(repo *git.Repository, tag string) (*object.Commit, error) {
	ref, err := repo.Tag(tag)
	if errors.Is(err, git.ErrTagNotFound) {
		return nil, ErrNotArchived
	}
	if err != nil {
		return nil, fmt.Errorf("resolve tag %s: %w", tag, err)
	}
	return commitForTag(repo, ref)
}

// commitForTag peels annotated tags down to their commit.
func commitForTag(repo *git.Repository, ref *plumbing.Reference) (*object.Commit, error) {
	tagObj, err := repo.TagObject(ref.Hash())
	switch {
	case err == nil:
		commitObj, err := tagObj.Commit()
		if err != nil {
			return nil, fmt.Errorf("peel tag %s: %w", ref.Name().Short(), err)
		}
		return commitObj, nil
	case errors.Is(err, plumbing.ErrObjectNotFound):
		commitObj, err := repo.CommitObject(ref.Hash())
		if err != nil {
			return nil, fmt.Errorf("read tagged commit %s: %w", ref.Name().Short(), err)
		}
		return commitObj, nil
	default:
		return nil, fmt.Errorf("read tag %s: %w", ref.Name().Short(), err)
	}
}

func tagsByCommit(repo *git.Repository) (map[plumbing.Hash]string, error) {
	iter, err := repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer iter.Close()

	out := make(map[plumbing.Hash]string)
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		commitObj, err := commitForTag(repo, ref)
		if err != nil {
			return err
		}
		out[commitObj.Hash] = ref.Name().Short()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func readSnapshotFromCommit(commitObj *object.Commit) (report.Snapshot, error) {
	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return report.Snapshot{}, fmt.Errorf("load %s from commit: %w", snapshotFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return report.Snapshot{}, fmt.Errorf("open snapshot reader: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return report.Snapshot{}, fmt.Errorf("read snapshot bytes: %w", err)
	}
	var snap report.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return report.Snapshot{}, fmt.Errorf("decode archived snapshot: %w", err)
	}
	return snap, nil
}

func toEntry(commitObj *object.Commit, tag string) Entry {
	return Entry{
		Version:   versionFromTag(tag),
		Tag:       tag,
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
