package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/resilience"
)

// Suggestion limits.
const (
	DefaultSuggestionLimit = 8
	MinSuggestionLimit     = 3
)

// FallbackStore writes tenders to the remote backend and falls back to the
// local one on any remote failure. A nil remote runs local-only.
type FallbackStore struct {
	remote Backend
	local  Backend
	policy *resilience.Policy
	now    func() time.Time
}

// NewFallbackStore composes remote (may be nil) and local. policy governs
// remote calls; nil runs each remote call once.
func NewFallbackStore(remote, local Backend, policy *resilience.Policy) *FallbackStore {
	return &FallbackStore{remote: remote, local: local, policy: policy, now: time.Now}
}

// WithClock replaces the store clock.
func (s *FallbackStore) WithClock(now func() time.Time) *FallbackStore {
	s.now = now
	return s
}

// HasRemote reports whether a remote backend is configured.
func (s *FallbackStore) HasRemote() bool {
	return s.remote != nil
}

// Save normalizes and persists a tender. The result says which backend took
// it. An error means neither backend did.
func (s *FallbackStore) Save(ctx context.Context, p SaveParams) (model.SaveResult, error) {
	projectID := strings.TrimSpace(p.ProjectID)
	if projectID == "" {
		return model.SaveResult{}, model.Invalid("projectId", "project is required to save a tender")
	}
	id := strings.TrimSpace(p.ID)
	if id == "" {
		id = model.NewID()
	}
	now := s.now()
	rec := model.NormalizeRecord(p.Tender, now)
	log := zap.L().With(zap.String("tender_id", id), zap.String("project_id", projectID))

	var remoteErr error
	if s.remote != nil {
		remoteErr = s.policy.Run(ctx, "store.save", func(ctx context.Context) error {
			return s.remote.Upsert(ctx, id, projectID, rec, now)
		})
		if remoteErr == nil {
			log.Debug("store: tender saved remotely")
			return model.SaveResult{ID: id, Stored: model.StorageRemote}, nil
		}
		log.Warn("store: remote save failed, falling back to local cache", zap.Error(remoteErr))
	}

	if err := s.local.Upsert(ctx, id, projectID, rec, now); err != nil {
		if remoteErr != nil {
			return model.SaveResult{}, eris.Wrapf(remoteErr, "store: save tender %s (local fallback: %v)", id, err)
		}
		return model.SaveResult{}, eris.Wrapf(err, "store: save tender %s", id)
	}
	log.Debug("store: tender saved locally")
	return model.SaveResult{ID: id, Stored: model.StorageLocal}, nil
}

// Get reads a tender from the named backend only. Remote failures are
// logged and read as not found.
func (s *FallbackStore) Get(ctx context.Context, id string, storage model.Storage) (*model.TenderDetail, error) {
	switch storage {
	case model.StorageLocal:
		d, err := s.local.Get(ctx, id)
		return d, eris.Wrapf(err, "store: get local tender %s", id)
	case model.StorageRemote:
		if s.remote == nil {
			return nil, nil
		}
		d, err := resilience.RunVal(ctx, s.policy, "store.get", func(ctx context.Context) (*model.TenderDetail, error) {
			return s.remote.Get(ctx, id)
		})
		if err != nil {
			zap.L().Warn("store: remote get failed", zap.String("tender_id", id), zap.Error(err))
			return nil, nil
		}
		return d, nil
	default:
		return nil, model.Invalid("storage", "unknown storage %q", storage)
	}
}

// List merges remote and local summaries, newest first. Remote failures
// are logged and contribute nothing.
func (s *FallbackStore) List(ctx context.Context, filter ListFilter) ([]model.TenderSummary, error) {
	var remote, local []model.TenderSummary
	g, gctx := errgroup.WithContext(ctx)

	if s.remote != nil {
		g.Go(func() error {
			rows, err := resilience.RunVal(gctx, s.policy, "store.list", func(ctx context.Context) ([]model.TenderSummary, error) {
				return s.remote.List(ctx, filter)
			})
			if err != nil {
				zap.L().Warn("store: remote list failed", zap.Error(err))
				return nil
			}
			remote = rows
			return nil
		})
	}
	g.Go(func() error {
		rows, err := s.local.List(gctx, filter)
		if err != nil {
			return eris.Wrap(err, "store: list local tenders")
		}
		local = rows
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]model.TenderSummary, 0, len(remote)+len(local))
	out = append(out, remote...)
	out = append(out, local...)
	slices.SortStableFunc(out, func(a, b model.TenderSummary) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return out, nil
}

// SearchLineSuggestions finds previously saved lines whose name contains
// q.Query across both backends, newest first, one per name/unit/price.
func (s *FallbackStore) SearchLineSuggestions(ctx context.Context, q SuggestionQuery) ([]model.LineSuggestion, error) {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return nil, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultSuggestionLimit
	}
	limit = max(limit, MinSuggestionLimit)

	var (
		mu  sync.Mutex
		all []model.LineSuggestion
	)
	collect := func(rows []model.LineSuggestion) {
		mu.Lock()
		all = append(all, rows...)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	if s.remote != nil {
		remoteQuery := q
		remoteQuery.Limit = limit * 2
		g.Go(func() error {
			rows, err := resilience.RunVal(gctx, s.policy, "store.suggestions", func(ctx context.Context) ([]model.LineSuggestion, error) {
				return s.remote.SearchLines(ctx, remoteQuery)
			})
			if err != nil {
				zap.L().Warn("store: remote line search failed", zap.Error(err))
				return nil
			}
			collect(rows)
			return nil
		})
	}
	g.Go(func() error {
		rows, err := s.local.SearchLines(gctx, q)
		if err != nil {
			return eris.Wrap(err, "store: search local lines")
		}
		collect(rows)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.SortStableFunc(all, func(a, b model.LineSuggestion) int {
		return lastUsed(b).Compare(lastUsed(a))
	})

	seen := make(map[string]struct{}, len(all))
	out := make([]model.LineSuggestion, 0, limit)
	for _, sg := range all {
		key := suggestionKey(sg)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, sg)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func lastUsed(sg model.LineSuggestion) time.Time {
	if sg.LastUsedAt == nil {
		return time.Time{}
	}
	return *sg.LastUsedAt
}

func suggestionKey(sg model.LineSuggestion) string {
	price := "none"
	if sg.UnitPrice != nil {
		price = fmt.Sprintf("%g", *sg.UnitPrice)
	}
	return strings.ToLower(sg.Name) + "|" + strings.ToLower(sg.Unit) + "|" + price
}
