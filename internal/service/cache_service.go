package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/instructor-dispatch-api/pkg/errors"
)

const (
	candidatesKeyPrefix     = "assignments:candidates"
	candidatesGenerationKey = "assignments:candidates-generation"
)

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
	Incr(ctx context.Context, key string) (int64, error)
}

// CacheService wraps the cache repository with metrics and an on/off switch.
// Cache failures never fail the caller.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// Get loads a cached entry into dest and reports whether it was a hit.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) bool {
	if !s.Enabled() {
		return false
	}
	start := time.Now()
	err := s.repo.Get(ctx, key, dest)
	s.metrics.RecordCacheOperation(err == nil, time.Since(start))
	if err != nil && !errors.Is(err, appErrors.ErrCacheMiss) {
		s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	}
	return err == nil
}

// Set stores the value using the default TTL when ttl is zero.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if !s.Enabled() {
		return
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	if err := s.repo.Set(ctx, key, value, ttl); err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// CandidatesKey returns the snapshot key for the range under the current
// generation. It reports false when the generation cannot be read, in which
// case the snapshot must be neither read nor written.
func (s *CacheService) CandidatesKey(ctx context.Context, start, end time.Time) (string, bool) {
	if !s.Enabled() {
		return "", false
	}
	var generation int64
	if err := s.repo.Get(ctx, candidatesGenerationKey, &generation); err != nil && !errors.Is(err, appErrors.ErrCacheMiss) {
		s.logger.Warn("cache generation read failed", zap.Error(err))
		return "", false
	}
	return candidatesKey(generation, start, end), true
}

// InvalidateCandidates bumps the snapshot generation and drops every cached
// candidate snapshot. A snapshot built before the bump can only be stored
// under a key that is no longer read.
func (s *CacheService) InvalidateCandidates(ctx context.Context) {
	if !s.Enabled() {
		return
	}
	if _, err := s.repo.Incr(ctx, candidatesGenerationKey); err != nil {
		s.logger.Warn("cache generation bump failed", zap.Error(err))
	}
	pattern := candidatesKeyPrefix + ":*"
	if err := s.repo.DeleteByPattern(ctx, pattern); err != nil {
		s.logger.Warn("cache invalidate failed", zap.String("pattern", pattern), zap.Error(err))
	}
}

func candidatesKey(generation int64, start, end time.Time) string {
	return fmt.Sprintf("%s:%d:%s:%s", candidatesKeyPrefix, generation, start.Format("20060102"), end.Format("20060102"))
}
