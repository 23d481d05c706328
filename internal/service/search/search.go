package search

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/nkiryanov/partsearch/internal/apiclient"
	"github.com/nkiryanov/partsearch/internal/apperrors"
	"github.com/nkiryanov/partsearch/internal/logger"
	"github.com/nkiryanov/partsearch/internal/models"
	"github.com/nkiryanov/partsearch/internal/service/validate"
)

const (
	PathPartsSearch   = "/search/parts-search/"
	PathCategoryData  = "/search/category-data/"
	PathSearchResults = "/search/search-results/"

	// Detail requests in flight at once while building history
	historyConcurrency = 4
)

// API is the part of the backend client the service needs
type API interface {
	Get(ctx context.Context, path string, out any) error
	Post(ctx context.Context, path string, body any, out any) error
}

type Service struct {
	api    API
	logger logger.Logger
}

func NewService(api API, l logger.Logger) *Service {
	if l == nil {
		l = logger.NewNoOpLogger()
	}
	return &Service{api: api, logger: l}
}

// SearchParts asks the backend to find a part for the vehicle.
// The answer is either a list of categories to choose from or links per category.
func (s *Service) SearchParts(ctx context.Context, q models.PartQuery) (models.PartSearchResult, error) {
	var result models.PartSearchResult

	if err := validate.Struct(q); err != nil {
		return result, err
	}

	err := s.api.Post(ctx, PathPartsSearch, q, &result)
	if err != nil {
		if rl := rateLimited(err); rl != nil {
			s.logger.Warn("Part search throttled", "retry_after", rl.RetryAfter)
			return result, rl
		}
		return result, fmt.Errorf("part search failed: %w", err)
	}

	s.logger.Debug("Part search answered", "flag", result.Flag, "categories", len(result.Categories))
	return result, nil
}

// CategoryData returns links for a category chosen in a search session
func (s *Service) CategoryData(ctx context.Context, sessionID string, category string) (models.CategoryData, error) {
	var data models.CategoryData

	if sessionID == "" {
		return data, apperrors.ErrNoSearchSession
	}

	err := s.api.Post(ctx, PathCategoryData, models.CategoryQuery{SessionID: sessionID, Category: category}, &data)
	if err != nil {
		if rl := rateLimited(err); rl != nil {
			return data, rl
		}
		return data, fmt.Errorf("category data failed: %w", err)
	}
	return data, nil
}

// ResultGroups lists stored searches, most recent first
func (s *Service) ResultGroups(ctx context.Context) ([]models.SearchResultGroup, error) {
	var groups []models.SearchResultGroup

	if err := s.api.Get(ctx, PathSearchResults, &groups); err != nil {
		return nil, fmt.Errorf("failed to list search results: %w", err)
	}

	slices.SortStableFunc(groups, func(a, b models.SearchResultGroup) int {
		if c := b.LatestCreatedAt.Compare(a.LatestCreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.SearchResultID, a.SearchResultID)
	})
	return groups, nil
}

// ResultDetail returns the items of one stored search
func (s *Service) ResultDetail(ctx context.Context, id int64) ([]models.SearchResultItem, error) {
	var items []models.SearchResultItem

	path := PathSearchResults + strconv.FormatInt(id, 10) + "/"
	if err := s.api.Get(ctx, path, &items); err != nil {
		return nil, fmt.Errorf("failed to get search result %d: %w", id, err)
	}
	return items, nil
}

// History returns up to limit recent groups with their items.
// limit <= 0 means all of them.
func (s *Service) History(ctx context.Context, limit int) ([]models.HistoryEntry, error) {
	groups, err := s.ResultGroups(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(groups) > limit {
		groups = groups[:limit]
	}

	entries := make([]models.HistoryEntry, len(groups))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(historyConcurrency)
	for i, group := range groups {
		g.Go(func() error {
			items, err := s.ResultDetail(gctx, group.SearchResultID)
			if err != nil {
				return err
			}
			entries[i] = models.HistoryEntry{Group: group, Items: RankItems(items)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return entries, nil
}

// RankItems orders items cheapest first, title breaks ties. The input is not modified.
func RankItems(items []models.SearchResultItem) []models.SearchResultItem {
	ranked := slices.Clone(items)
	slices.SortStableFunc(ranked, func(a, b models.SearchResultItem) int {
		if c := a.Price.Cmp(b.Price); c != 0 {
			return c
		}
		return cmp.Compare(a.Title, b.Title)
	})
	return ranked
}

func rateLimited(err error) *apperrors.RateLimitError {
	var apiErr *apiclient.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return &apperrors.RateLimitError{RetryAfter: apiErr.RetryAfter}
	}
	return nil
}
