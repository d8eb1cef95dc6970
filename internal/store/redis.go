package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"reportdesk/api/internal/report"
)

// RedisStore keeps one JSON value per document, one key per snapshot version
// and a sorted set indexing the versions of each document.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "report:",
	}
}

func (s *RedisStore) docKey(id string) string {
	return s.prefix + id
}

func (s *RedisStore) snapshotKey(id string, version int) string {
	return s.prefix + id + ":snapshot:" + strconv.Itoa(version)
}

func (s *RedisStore) versionsKey(id string) string {
	return s.prefix + id + ":snapshots"
}

func (s *RedisStore) Get(ctx context.Context, id string) (*report.Document, error) {
	data, err := s.client.Get(ctx, s.docKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get report %s: %w", id, err)
	}
	return decodeDocument(data)
}

// Put writes the document unless the stored copy is already closed. The
// check and the write run in one WATCH transaction.
func (s *RedisStore) Put(ctx context.Context, id string, doc report.Document) error {
	data, err := encodeDocument(id, doc)
	if err != nil {
		return err
	}
	key := s.docKey(id)

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		existing, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			closed, err := isClosed(existing)
			if err != nil {
				return err
			}
			if closed {
				return report.ErrDocumentClosed
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("put report %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) PutSnapshot(ctx context.Context, id string, snap report.Snapshot) error {
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	created, err := s.client.SetNX(ctx, s.snapshotKey(id, snap.Version), data, 0).Result()
	if err != nil {
		return fmt.Errorf("put snapshot %s v%d: %w", id, snap.Version, err)
	}
	if !created {
		return fmt.Errorf("put snapshot %s v%d: %w", id, snap.Version, report.ErrSnapshotExists)
	}
	if err := s.client.ZAdd(ctx, s.versionsKey(id), redis.Z{
		Score:  float64(snap.Version),
		Member: strconv.Itoa(snap.Version),
	}).Err(); err != nil {
		return fmt.Errorf("index snapshot %s v%d: %w", id, snap.Version, err)
	}
	return nil
}

func (s *RedisStore) ListSnapshots(ctx context.Context, id string) ([]report.SnapshotMeta, error) {
	members, err := s.client.ZRange(ctx, s.versionsKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list snapshots %s: %w", id, err)
	}
	metas := make([]report.SnapshotMeta, 0, len(members))
	for _, member := range members {
		version, err := strconv.Atoi(member)
		if err != nil {
			return nil, fmt.Errorf("parse snapshot version %q: %w", member, err)
		}
		snap, err := s.GetSnapshot(ctx, id, version)
		if err != nil {
			return nil, err
		}
		metas = append(metas, snap.Meta())
	}
	return metas, nil
}

func (s *RedisStore) GetSnapshot(ctx context.Context, id string, version int) (*report.Snapshot, error) {
	data, err := s.client.Get(ctx, s.snapshotKey(id, version)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get snapshot %s v%d: %w", id, version, report.ErrSnapshotNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s v%d: %w", id, version, err)
	}
	return decodeSnapshot(data)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
