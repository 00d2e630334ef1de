package services

import (
	"context"
	"errors"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"civicfix-be/authz"
	"civicfix-be/lock"
	"civicfix-be/models"
	"civicfix-be/store"
)

var tracer = otel.Tracer("civicfix-be/services")

// record marks span as failed when err is set and returns err.
func record(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// TransitionEngine is the only writer of issue status. Each change is
// committed together with its audit record or not at all.
type TransitionEngine struct {
	store store.Store
	locks lock.Locker
	views *Views
	gate  authz.Gate
	now   func() time.Time
}

func NewTransitionEngine(st store.Store, locks lock.Locker, views *Views) *TransitionEngine {
	return &TransitionEngine{store: st, locks: locks, views: views, now: time.Now}
}

// RequestTransition moves an issue to status to on behalf of actor. It
// returns the issue with its full history and the record just appended.
//
// Errors: ErrForbidden before anything is read, ErrValidation for an unknown
// status, ErrNotFound, ErrIdempotentTransition when to is the current status
// and ErrConflict when the commit could not complete. Nothing is retried.
func (e *TransitionEngine) RequestTransition(ctx context.Context, issueID primitive.ObjectID, to models.IssueStatus, actor *models.Actor) (*IssueDetail, *models.StatusTransition, error) {
	ctx, span := tracer.Start(ctx, "TransitionEngine.RequestTransition", trace.WithAttributes(
		attribute.String("issue.id", issueID.Hex()),
		attribute.String("issue.status.to", string(to)),
	))
	defer span.End()

	if !e.gate.Can(actor, authz.Transition, nil) {
		return nil, nil, record(span, newError(ErrForbidden, "Only admins can change an issue's status", nil))
	}
	if !to.Valid() {
		return nil, nil, record(span, newError(ErrValidation, "status must be one of: pending, verified, in_progress, fixed", nil))
	}

	release, err := lockIssue(ctx, e.locks, issueID)
	if err != nil {
		return nil, nil, record(span, err)
	}
	defer release()

	var (
		committed models.Issue
		history   []models.StatusTransition
		appended  models.StatusTransition
	)
	err = e.store.RunInTransaction(ctx, func(tx store.Tx) error {
		issue, err := tx.GetIssue(ctx, issueID)
		if err != nil {
			return err
		}
		if issue.Status == to {
			return newError(ErrIdempotentTransition, "Status is already "+string(to), nil)
		}
		records, err := tx.ListTransitions(ctx, issueID)
		if err != nil {
			return err
		}

		at := e.nextTimestamp(issue)
		if err := tx.SetStatus(ctx, store.StatusChange{
			IssueID: issueID,
			From:    issue.Status,
			To:      to,
			Version: issue.Version,
			At:      at,
		}); err != nil {
			return err
		}

		appended = models.StatusTransition{
			ID:        primitive.NewObjectID(),
			IssueID:   issueID,
			Seq:       issue.Version + 1,
			OldStatus: issue.Status,
			NewStatus: to,
			UpdatedBy: actor.ID,
			CreatedAt: at,
		}
		span.SetAttributes(attribute.String("issue.status.from", string(issue.Status)))
		if err := tx.AppendTransition(ctx, &appended); err != nil {
			return err
		}

		committed = *issue
		committed.Status = to
		committed.Version = appended.Seq
		committed.StatusChangedAt = &at
		committed.UpdatedAt = at
		history = append(records, appended)
		return nil
	})
	if err != nil {
		return nil, nil, record(span, fromStore(err, "Issue not found"))
	}

	// Committed. A failed user lookup only drops the user summaries.
	detail, err := e.views.assemble(ctx, &committed, history)
	if err != nil {
		log.Printf("Error loading users for issue %s: %v", issueID.Hex(), err)
		detail = e.views.detail(&committed, history, nil)
	}
	return detail, &appended, nil
}

// History returns the audit records of an issue in ascending order.
func (e *TransitionEngine) History(ctx context.Context, issueID primitive.ObjectID) ([]TransitionDetail, error) {
	return e.views.History(ctx, issueID)
}

// lockIssue takes the per-issue lock shared by status changes and deletion.
func lockIssue(ctx context.Context, locks lock.Locker, id primitive.ObjectID) (func(), error) {
	release, err := locks.Acquire(ctx, "issue:"+id.Hex())
	switch {
	case err == nil:
		return release, nil
	case errors.Is(err, lock.ErrNotAcquired):
		return nil, newError(ErrConflict, "The issue is being updated, please retry", err)
	}
	return nil, fromStore(err, "Issue not found")
}

// nextTimestamp returns now, or a millisecond after the issue's last status
// change when the clock has not moved past it.
func (e *TransitionEngine) nextTimestamp(issue *models.Issue) time.Time {
	at := timestamp(e.now())
	if issue.StatusChangedAt != nil && !at.After(*issue.StatusChangedAt) {
		at = issue.StatusChangedAt.Add(time.Millisecond)
	}
	return at
}
