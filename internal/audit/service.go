package audit

import (
	"context"
	"fmt"
	"time"
)

// Service coordinates read-side access to the audit trail for security
// review tooling.
type Service struct {
	repo Repository
}

// NewService constructs a Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Query returns a filtered, paginated slice of the trail, newest first.
func (s *Service) Query(ctx context.Context, filters Filters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	// Fetch one extra row to detect a following page.
	entries, err := s.repo.Query(ctx, filters, pageSize+1, offset)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(entries) > pageSize
	if hasNext {
		entries = entries[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Entries: entries, Paging: paging}, nil
}

// Stats aggregates the trail under the same filters.
func (s *Service) Stats(ctx context.Context, filters Filters) (*Stats, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	return s.repo.Aggregate(ctx, filters)
}

// PurgeOlderThan removes entries beyond the retention window. Called by the
// scheduled retention sweep, never by the auth core.
func (s *Service) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	if s.repo == nil {
		return 0, fmt.Errorf("audit: repository not configured")
	}
	return s.repo.DeleteOlderThan(ctx, time.Now().UTC().Add(-retention))
}
