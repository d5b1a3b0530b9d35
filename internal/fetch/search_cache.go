package fetch

import (
	"context"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/imagehunter/internal/cache"
)

// CachingSearcher serves repeated search pages from the cache so jobs with the
// same query do not spend provider quota. Cache failures fall through to next.
type CachingSearcher struct {
	next     Searcher
	cache    cache.Cache
	provider string
	ttl      time.Duration
	logger   *slog.Logger
}

func NewCachingSearcher(next Searcher, c cache.Cache, provider string, ttl time.Duration, logger *slog.Logger) *CachingSearcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachingSearcher{next: next, cache: c, provider: provider, ttl: ttl, logger: logger}
}

func (s *CachingSearcher) Search(ctx context.Context, query string, page, perPage int) ([]string, error) {
	key := cache.SearchPageKey(s.provider, query, page, perPage)

	urls, found, err := cache.GetJSON[[]string](ctx, s.cache, key)
	if err != nil {
		s.logger.Warn("search cache read failed", "key", key, "error", err)
	} else if found {
		return urls, nil
	}

	urls, err = s.next.Search(ctx, query, page, perPage)
	if err != nil {
		return nil, err
	}
	if err := cache.SetJSON(ctx, s.cache, key, urls, s.ttl); err != nil {
		s.logger.Warn("search cache write failed", "key", key, "error", err)
	}
	return urls, nil
}

// HasCredentials reports whether the wrapped searcher can authenticate.
// Searchers that do not say are assumed able to.
func (s *CachingSearcher) HasCredentials() bool {
	if cc, ok := s.next.(CredentialChecker); ok {
		return cc.HasCredentials()
	}
	return true
}

var _ Searcher = (*CachingSearcher)(nil)
