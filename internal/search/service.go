package search

import (
	"context"

	"github.com/rs/zerolog"

	"reportdesk/api/internal/report"
)

// Service tries Meilisearch first and falls back to PG FTS. Either side may
// be nil.
type Service struct {
	meili *Meili
	pgfts *PgFTS
	log   zerolog.Logger
}

func NewService(meili *Meili, pgfts *PgFTS, log zerolog.Logger) *Service {
	return &Service{meili: meili, pgfts: pgfts, log: log}
}

func (s *Service) Name() string {
	return "search"
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn().Err(err).Msg("meilisearch error, falling back to pgfts")
	}

	if s.pgfts == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		s.log.Error().Err(err).Msg("pgfts search failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// OnSnapshot indexes a new snapshot. Without a healthy Meilisearch it is a
// no-op: the Postgres fallback reads report_snapshots directly.
func (s *Service) OnSnapshot(_ context.Context, snap report.Snapshot) error {
	if s.meili == nil || !s.meili.Healthy() {
		return nil
	}
	return s.meili.IndexSnapshots([]SnapshotRecord{RecordFromSnapshot(snap)})
}

// ReindexAllFromPG pushes every stored snapshot into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	records, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("reindex load failed")
		return
	}
	if err := s.meili.IndexSnapshots(records); err != nil {
		s.log.Error().Err(err).Int("records", len(records)).Msg("reindex snapshots failed")
		return
	}
	s.log.Info().Int("records", len(records)).Msg("snapshots reindexed")
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
