package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/nexconsult/malha-fiscal/internal/models"
)

// CacheSink writes job records to the cache under job:<id>
type CacheSink struct {
	cache CacheServiceInterface
}

// NewCacheSink creates a sink backed by cache
func NewCacheSink(cache CacheServiceInterface) *CacheSink {
	return &CacheSink{cache: cache}
}

// Push stores the record as JSON
func (c *CacheSink) Push(ctx context.Context, record models.JobRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode job record: %w", err)
	}
	return c.cache.Set(ctx, JobCacheKey(record.ID), string(data))
}

// JobCacheKey is the cache key of a job record
func JobCacheKey(id string) string {
	return "job:" + id
}

// JSONLinesSink writes one JSON document per job record to w
type JSONLinesSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLinesSink creates a sink writing to w
func NewJSONLinesSink(w io.Writer) *JSONLinesSink {
	return &JSONLinesSink{enc: json.NewEncoder(w)}
}

// Push appends the record as a single line
func (s *JSONLinesSink) Push(ctx context.Context, record models.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(record); err != nil {
		return fmt.Errorf("failed to write job record: %w", err)
	}
	return nil
}
