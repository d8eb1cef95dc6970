package store

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"reportdesk/api/internal/report"
)

// BadgerStore is the embedded single-node store. Keys:
//
//	doc/{id}                 document JSON
//	snap/{id}/{version:%010d} snapshot JSON, ordered by version
type BadgerStore struct {
	db *badger.DB
}

// badgerLogger adapts zerolog to badger's Logger interface.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Msgf(format, args...)
}

// OpenBadger opens a persistent store at path, creating the directory.
func OpenBadger(path string, log zerolog.Logger) (*BadgerStore, error) {
	if path == "" {
		return nil, errors.New("badger path is required")
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		return nil, fmt.Errorf("create badger directory %s: %w", path, err)
	}
	opts := badger.DefaultOptions(path).WithLogger(badgerLogger{log: log.With().Str("component", "badger").Logger()})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// OpenBadgerInMemory opens a store without disk persistence.
func OpenBadgerInMemory() (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger database is closed")
	}
	return ctx.Err()
}

func docKey(id string) []byte {
	return []byte("doc/" + id)
}

func snapshotPrefix(id string) []byte {
	return []byte("snap/" + id + "/")
}

func snapshotKey(id string, version int) []byte {
	return []byte(fmt.Sprintf("snap/%s/%010d", id, version))
}

func (s *BadgerStore) Get(ctx context.Context, id string) (*report.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(docKey(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get report %s: %w", id, err)
	}
	return decodeDocument(data)
}

func (s *BadgerStore) Put(ctx context.Context, id string, doc report.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeDocument(id, doc)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(docKey(id))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			existing, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			closed, err := isClosed(existing)
			if err != nil {
				return err
			}
			if closed {
				return report.ErrDocumentClosed
			}
		}
		return txn.Set(docKey(id), data)
	})
	if err != nil {
		return fmt.Errorf("put report %s: %w", id, err)
	}
	return nil
}

func (s *BadgerStore) PutSnapshot(ctx context.Context, id string, snap report.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	key := snapshotKey(id, snap.Version)
	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return report.ErrSnapshotExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("put snapshot %s v%d: %w", id, snap.Version, err)
	}
	return nil
}

func (s *BadgerStore) ListSnapshots(ctx context.Context, id string) ([]report.SnapshotMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	metas := make([]report.SnapshotMeta, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := snapshotPrefix(id)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			snap, err := decodeSnapshot(data)
			if err != nil {
				return err
			}
			metas = append(metas, snap.Meta())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list snapshots %s: %w", id, err)
	}
	return metas, nil
}

func (s *BadgerStore) GetSnapshot(ctx context.Context, id string, version int) (*report.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(id, version))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("get snapshot %s v%d: %w", id, version, report.ErrSnapshotNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s v%d: %w", id, version, err)
	}
	return decodeSnapshot(data)
}
