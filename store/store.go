// Package store defines the persistence contracts for issues, their audit
// trail and users.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"civicfix-be/models"
)

// Sentinel errors for common storage conditions
var (
	// ErrNotFound indicates the requested record does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a commit lost against a concurrent writer or the
	// backend aborted it; nothing was written
	ErrConflict = errors.New("conflict")

	// ErrDuplicate indicates a unique key violation
	ErrDuplicate = errors.New("duplicate key")
)

// WrapErr adds operation context while keeping the sentinel matchable.
func WrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IssueFilter selects issues. Nil fields match everything.
type IssueFilter struct {
	Category *models.IssueCategory
	Status   *models.IssueStatus
	UserID   *primitive.ObjectID
}

// Matches reports whether issue satisfies every set predicate.
func (f IssueFilter) Matches(issue *models.Issue) bool {
	if f.Category != nil && issue.Category != *f.Category {
		return false
	}
	if f.Status != nil && issue.Status != *f.Status {
		return false
	}
	if f.UserID != nil && issue.UserID != *f.UserID {
		return false
	}
	return true
}

// IssueFields holds the non-status fields a reporter may change. Nil fields
// are left as they are. Latitude and Longitude are set together or not at all.
type IssueFields struct {
	Title       *string
	Description *string
	Category    *models.IssueCategory
	Address     *string
	Latitude    *float64
	Longitude   *float64
}

// StatusChange is a compare-and-set of an issue's status. It applies only if
// the stored issue still has status From at version Version.
type StatusChange struct {
	IssueID primitive.ObjectID
	From    models.IssueStatus
	To      models.IssueStatus
	Version int64
	At      time.Time
}

// IssueStore owns issue records. Status is never written here.
type IssueStore interface {
	InsertIssue(ctx context.Context, issue *models.Issue) error
	GetIssue(ctx context.Context, id primitive.ObjectID) (*models.Issue, error)
	// ListIssues returns matching issues, newest created first.
	ListIssues(ctx context.Context, filter IssueFilter) ([]models.Issue, error)
	UpdateIssueFields(ctx context.Context, id primitive.ObjectID, fields IssueFields, at time.Time) (*models.Issue, error)
	// DeleteIssue removes the issue together with its transitions.
	DeleteIssue(ctx context.Context, id primitive.ObjectID) error
}

// TransitionStore is the read side of the audit log.
type TransitionStore interface {
	// ListTransitions returns the issue's records in ascending order.
	ListTransitions(ctx context.Context, issueID primitive.ObjectID) ([]models.StatusTransition, error)
}

type UserStore interface {
	InsertUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	// GetUsers returns the users that exist among ids, keyed by id.
	GetUsers(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.User, error)
}

// Tx is the write surface of a transition commit. Writes become visible
// only if the transaction function returns nil and the commit succeeds.
type Tx interface {
	GetIssue(ctx context.Context, id primitive.ObjectID) (*models.Issue, error)
	// ListTransitions returns the issue's records as of the transaction's
	// reads, in ascending order.
	ListTransitions(ctx context.Context, issueID primitive.ObjectID) ([]models.StatusTransition, error)
	// SetStatus applies change. If the issue moved on, either SetStatus or
	// the commit fails with ErrConflict.
	SetStatus(ctx context.Context, change StatusChange) error
	AppendTransition(ctx context.Context, record *models.StatusTransition) error
}

// Store is the full persistence surface.
type Store interface {
	IssueStore
	TransitionStore
	UserStore

	// RunInTransaction runs fn and commits its writes atomically. If fn
	// returns an error nothing is written and the error is returned as is.
	// A failed commit returns an error wrapping ErrConflict.
	RunInTransaction(ctx context.Context, fn func(tx Tx) error) error
}
