package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// LimiterStore keeps one rate.Limiter per asset so request pacing against
// the market data API is independent across assets.
type LimiterStore struct {
	mu       sync.Mutex
	perAsset map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func NewLimiterStore(limit rate.Limit, burst int) *LimiterStore {
	return &LimiterStore{
		perAsset: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

// Wait blocks until the limiter for the given asset permits a request,
// or the context is cancelled.
func (s *LimiterStore) Wait(ctx context.Context, asset string) error {
	return s.limiter(asset).Wait(ctx)
}

func (s *LimiterStore) limiter(asset string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limiter, ok := s.perAsset[asset]; ok {
		return limiter
	}
	limiter := rate.NewLimiter(s.limit, s.burst)
	s.perAsset[asset] = limiter
	return limiter
}
