package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/mirkobrombin/go-spin/v1/harness"
)

// MemoryStore keeps recent reports in a ristretto cache. Old reports may be
// evicted once the cache is full.
type MemoryStore struct {
	c   *ristretto.Cache
	ttl time.Duration
}

// NewMemory returns a MemoryStore holding roughly maxReports reports.
func NewMemory(maxReports int64, ttl time.Duration) (*MemoryStore, error) {
	if maxReports <= 0 {
		maxReports = 1024
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxReports * 10,
		MaxCost:     maxReports,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &MemoryStore{c: c, ttl: ttl}, nil
}

// Save implements Store.Save. The report is copied and visible to Load as
// soon as Save returns.
func (s *MemoryStore) Save(ctx context.Context, rep *harness.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rep == nil || rep.ID == "" {
		return errors.New("report: missing id")
	}
	if !s.c.SetWithTTL(rep.ID, clone(rep), 1, s.ttl) {
		return fmt.Errorf("report: %s rejected by cache", rep.ID)
	}
	s.c.Wait()
	return nil
}

// Load implements Store.Load.
func (s *MemoryStore) Load(ctx context.Context, id string) (*harness.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := s.c.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return clone(v.(*harness.Report)), nil
}

// clone copies rep deeply enough that neither side can mutate the cached
// report through a shared slice.
func clone(rep *harness.Report) *harness.Report {
	cp := *rep
	cp.RoundCounters = append([]int(nil), rep.RoundCounters...)
	cp.Holds = append([]harness.HoldObservation(nil), rep.Holds...)
	return &cp
}

// Close stops the cache's background goroutines.
func (s *MemoryStore) Close() {
	s.c.Close()
}
