// Package memory implements store.Store in process memory.
//
// Transactions are optimistic: reads see committed state, writes are
// buffered and applied under the store lock at commit after re-checking the
// issue version.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"civicfix-be/models"
	"civicfix-be/store"
)

// Verify Store implements store.Store at compile time
var _ store.Store = (*Store)(nil)

type Store struct {
	mu          sync.RWMutex
	issues      map[primitive.ObjectID]models.Issue
	transitions map[primitive.ObjectID][]models.StatusTransition
	users       map[primitive.ObjectID]models.User

	// BeforeCommit, if set, runs at commit time while the store is locked.
	// A non-nil error aborts the commit as a conflict.
	BeforeCommit func() error
}

func New() *Store {
	return &Store{
		issues:      make(map[primitive.ObjectID]models.Issue),
		transitions: make(map[primitive.ObjectID][]models.StatusTransition),
		users:       make(map[primitive.ObjectID]models.User),
	}
}

func (s *Store) InsertIssue(ctx context.Context, issue *models.Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if issue.ID.IsZero() {
		issue.ID = primitive.NewObjectID()
	}
	if _, ok := s.issues[issue.ID]; ok {
		return store.WrapErr("insert issue", store.ErrDuplicate)
	}
	s.issues[issue.ID] = cloneIssue(*issue)
	return nil
}

func (s *Store) GetIssue(ctx context.Context, id primitive.ObjectID) (*models.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getIssueLocked(id)
}

func (s *Store) getIssueLocked(id primitive.ObjectID) (*models.Issue, error) {
	issue, ok := s.issues[id]
	if !ok {
		return nil, store.WrapErr("get issue "+id.Hex(), store.ErrNotFound)
	}
	out := cloneIssue(issue)
	return &out, nil
}

func (s *Store) ListIssues(ctx context.Context, filter store.IssueFilter) ([]models.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	issues := make([]models.Issue, 0, len(s.issues))
	for _, issue := range s.issues {
		if filter.Matches(&issue) {
			issues = append(issues, cloneIssue(issue))
		}
	}
	sort.Slice(issues, func(i, j int) bool {
		if !issues[i].CreatedAt.Equal(issues[j].CreatedAt) {
			return issues[i].CreatedAt.After(issues[j].CreatedAt)
		}
		return issues[i].ID.Hex() > issues[j].ID.Hex()
	})
	return issues, nil
}

func (s *Store) UpdateIssueFields(ctx context.Context, id primitive.ObjectID, fields store.IssueFields, at time.Time) (*models.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	issue, ok := s.issues[id]
	if !ok {
		return nil, store.WrapErr("update issue "+id.Hex(), store.ErrNotFound)
	}
	if fields.Title != nil {
		issue.Title = *fields.Title
	}
	if fields.Description != nil {
		issue.Description = *fields.Description
	}
	if fields.Category != nil {
		issue.Category = *fields.Category
	}
	if fields.Address != nil {
		issue.Address = *fields.Address
	}
	if fields.Latitude != nil && fields.Longitude != nil {
		issue.Latitude = *fields.Latitude
		issue.Longitude = *fields.Longitude
	}
	issue.UpdatedAt = at
	s.issues[id] = issue

	out := cloneIssue(issue)
	return &out, nil
}

func (s *Store) DeleteIssue(ctx context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.issues[id]; !ok {
		return store.WrapErr("delete issue "+id.Hex(), store.ErrNotFound)
	}
	delete(s.issues, id)
	delete(s.transitions, id)
	return nil
}

func (s *Store) ListTransitions(ctx context.Context, issueID primitive.ObjectID) ([]models.StatusTransition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.transitions[issueID]
	out := make([]models.StatusTransition, len(records))
	copy(out, records)
	return out, nil
}

func (s *Store) InsertUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, user.Email) {
			return store.WrapErr("insert user", store.ErrDuplicate)
		}
	}
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	s.users[user.ID] = *user
	return nil
}

func (s *Store) GetUser(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, store.WrapErr("get user "+id.Hex(), store.ErrNotFound)
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, store.WrapErr("get user by email", store.ErrNotFound)
}

func (s *Store) GetUsers(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[primitive.ObjectID]models.User, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

// RunInTransaction executes fn against a buffering transaction and applies
// its writes atomically when fn returns nil.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	tx := &memTx{parent: s}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.BeforeCommit != nil {
		if err := s.BeforeCommit(); err != nil {
			return fmt.Errorf("commit: %v: %w", err, store.ErrConflict)
		}
	}

	// Validate every change before applying any of them.
	for _, change := range tx.changes {
		issue, ok := s.issues[change.IssueID]
		if !ok {
			return store.WrapErr("commit", store.ErrConflict)
		}
		if issue.Status != change.From || issue.Version != change.Version {
			return store.WrapErr("commit", store.ErrConflict)
		}
	}
	for _, record := range tx.records {
		if _, ok := s.issues[record.IssueID]; !ok {
			return store.WrapErr("commit", store.ErrConflict)
		}
	}

	for _, change := range tx.changes {
		issue := s.issues[change.IssueID]
		at := change.At
		issue.Status = change.To
		issue.Version = change.Version + 1
		issue.StatusChangedAt = &at
		issue.UpdatedAt = at
		s.issues[change.IssueID] = issue
	}
	for _, record := range tx.records {
		s.transitions[record.IssueID] = append(s.transitions[record.IssueID], record)
	}
	return nil
}

type memTx struct {
	parent  *Store
	changes []store.StatusChange
	records []models.StatusTransition
}

func (t *memTx) GetIssue(ctx context.Context, id primitive.ObjectID) (*models.Issue, error) {
	return t.parent.GetIssue(ctx, id)
}

func (t *memTx) ListTransitions(ctx context.Context, issueID primitive.ObjectID) ([]models.StatusTransition, error) {
	return t.parent.ListTransitions(ctx, issueID)
}

func (t *memTx) SetStatus(ctx context.Context, change store.StatusChange) error {
	t.changes = append(t.changes, change)
	return nil
}

func (t *memTx) AppendTransition(ctx context.Context, record *models.StatusTransition) error {
	if record.ID.IsZero() {
		record.ID = primitive.NewObjectID()
	}
	t.records = append(t.records, *record)
	return nil
}

func cloneIssue(issue models.Issue) models.Issue {
	if issue.PhotoKey != nil {
		key := *issue.PhotoKey
		issue.PhotoKey = &key
	}
	if issue.StatusChangedAt != nil {
		at := *issue.StatusChangedAt
		issue.StatusChangedAt = &at
	}
	return issue
}
