package services

import (
	"context"

	"civicfix-be/models"
	"civicfix-be/store"
)

// ListQuery holds the optional list predicates. Empty values and "all" match
// everything.
type ListQuery struct {
	Category string `form:"category"`
	Status   string `form:"status"`
}

func (q ListQuery) filter() (store.IssueFilter, error) {
	var f store.IssueFilter
	if q.Category != "" && q.Category != "all" {
		c := models.IssueCategory(q.Category)
		if !c.Valid() {
			return f, newError(ErrValidation, "category must be one of: road, garbage, flood, light", nil)
		}
		f.Category = &c
	}
	if q.Status != "" && q.Status != "all" {
		s := models.IssueStatus(q.Status)
		if !s.Valid() {
			return f, newError(ErrValidation, "status must be one of: pending, verified, in_progress, fixed", nil)
		}
		f.Status = &s
	}
	return f, nil
}

// QueryService answers filtered issue lists, newest created first.
type QueryService struct {
	store store.Store
	views *Views
}

func NewQueryService(st store.Store, views *Views) *QueryService {
	return &QueryService{store: st, views: views}
}

// List returns every issue matching all set predicates of q.
func (s *QueryService) List(ctx context.Context, q ListQuery) ([]IssueSummary, error) {
	f, err := q.filter()
	if err != nil {
		return nil, err
	}
	return s.list(ctx, f)
}

// ListMine is List restricted to issues reported by actor.
func (s *QueryService) ListMine(ctx context.Context, q ListQuery, actor *models.Actor) ([]IssueSummary, error) {
	if actor == nil {
		return nil, newError(ErrUnauthenticated, "Not authenticated", nil)
	}
	f, err := q.filter()
	if err != nil {
		return nil, err
	}
	f.UserID = &actor.ID
	return s.list(ctx, f)
}

func (s *QueryService) list(ctx context.Context, f store.IssueFilter) ([]IssueSummary, error) {
	issues, err := s.store.ListIssues(ctx, f)
	if err != nil {
		return nil, fromStore(err, "Issue not found")
	}
	return s.views.Summaries(ctx, issues)
}
