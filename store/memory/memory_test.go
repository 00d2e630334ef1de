package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"civicfix-be/models"
	"civicfix-be/store"
)

func seedIssue(t *testing.T, s *Store, category models.IssueCategory, status models.IssueStatus, createdAt time.Time) *models.Issue {
	t.Helper()
	issue := &models.Issue{
		Title:     "Pothole",
		Category:  category,
		Status:    status,
		UserID:    primitive.NewObjectID(),
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	require.NoError(t, s.InsertIssue(context.Background(), issue))
	return issue
}

func TestListIssuesFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	oldRoad := seedIssue(t, s, models.Road, models.Pending, base)
	newRoad := seedIssue(t, s, models.Road, models.Pending, base.Add(time.Hour))
	fixedRoad := seedIssue(t, s, models.Road, models.Fixed, base.Add(2*time.Hour))
	flood := seedIssue(t, s, models.Flood, models.Pending, base.Add(3*time.Hour))

	all, err := s.ListIssues(ctx, store.IssueFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, flood.ID, all[0].ID)
	assert.Equal(t, oldRoad.ID, all[3].ID)

	road, pending := models.Road, models.Pending
	got, err := s.ListIssues(ctx, store.IssueFilter{Category: &road, Status: &pending})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, newRoad.ID, got[0].ID)
	assert.Equal(t, oldRoad.ID, got[1].ID)

	got, err = s.ListIssues(ctx, store.IssueFilter{Category: &road})
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, fixedRoad.ID, got[0].ID)
}

func TestRunInTransactionCommitsAtomically(t *testing.T) {
	ctx := context.Background()
	s := New()
	issue := seedIssue(t, s, models.Road, models.Pending, time.Now())
	at := time.Now().UTC()

	err := s.RunInTransaction(ctx, func(tx store.Tx) error {
		if err := tx.SetStatus(ctx, store.StatusChange{IssueID: issue.ID, From: models.Pending, To: models.Verified, Version: 0, At: at}); err != nil {
			return err
		}
		return tx.AppendTransition(ctx, &models.StatusTransition{IssueID: issue.ID, Seq: 1, OldStatus: models.Pending, NewStatus: models.Verified, CreatedAt: at})
	})
	require.NoError(t, err)

	got, err := s.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Verified, got.Status)
	assert.Equal(t, int64(1), got.Version)
	records, err := s.ListTransitions(ctx, issue.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestRunInTransactionRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	issue := seedIssue(t, s, models.Road, models.Pending, time.Now())
	boom := errors.New("boom")

	err := s.RunInTransaction(ctx, func(tx store.Tx) error {
		_ = tx.SetStatus(ctx, store.StatusChange{IssueID: issue.ID, From: models.Pending, To: models.Fixed, At: time.Now()})
		_ = tx.AppendTransition(ctx, &models.StatusTransition{IssueID: issue.ID, OldStatus: models.Pending, NewStatus: models.Fixed})
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Pending, got.Status)
	records, _ := s.ListTransitions(ctx, issue.ID)
	assert.Empty(t, records)
}

func TestRunInTransactionStaleVersionConflicts(t *testing.T) {
	ctx := context.Background()
	s := New()
	issue := seedIssue(t, s, models.Road, models.Pending, time.Now())

	change := store.StatusChange{IssueID: issue.ID, From: models.Pending, To: models.Verified, Version: 0, At: time.Now()}
	require.NoError(t, s.RunInTransaction(ctx, func(tx store.Tx) error { return tx.SetStatus(ctx, change) }))

	stale := store.StatusChange{IssueID: issue.ID, From: models.Pending, To: models.Fixed, Version: 0, At: time.Now()}
	err := s.RunInTransaction(ctx, func(tx store.Tx) error {
		if err := tx.SetStatus(ctx, stale); err != nil {
			return err
		}
		return tx.AppendTransition(ctx, &models.StatusTransition{IssueID: issue.ID})
	})
	assert.ErrorIs(t, err, store.ErrConflict)

	got, _ := s.GetIssue(ctx, issue.ID)
	assert.Equal(t, models.Verified, got.Status)
	records, _ := s.ListTransitions(ctx, issue.ID)
	assert.Empty(t, records)
}

func TestBeforeCommitFailureIsConflict(t *testing.T) {
	ctx := context.Background()
	s := New()
	issue := seedIssue(t, s, models.Road, models.Pending, time.Now())
	s.BeforeCommit = func() error { return errors.New("write conflict") }

	err := s.RunInTransaction(ctx, func(tx store.Tx) error {
		return tx.SetStatus(ctx, store.StatusChange{IssueID: issue.ID, From: models.Pending, To: models.Verified, At: time.Now()})
	})
	assert.ErrorIs(t, err, store.ErrConflict)
	got, _ := s.GetIssue(ctx, issue.ID)
	assert.Equal(t, models.Pending, got.Status)
}

func TestDeleteIssueCascadesTransitions(t *testing.T) {
	ctx := context.Background()
	s := New()
	issue := seedIssue(t, s, models.Road, models.Pending, time.Now())
	other := seedIssue(t, s, models.Road, models.Pending, time.Now())
	for _, id := range []primitive.ObjectID{issue.ID, other.ID} {
		require.NoError(t, s.RunInTransaction(ctx, func(tx store.Tx) error {
			return tx.AppendTransition(ctx, &models.StatusTransition{IssueID: id})
		}))
	}

	require.NoError(t, s.DeleteIssue(ctx, issue.ID))

	_, err := s.GetIssue(ctx, issue.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	records, _ := s.ListTransitions(ctx, issue.ID)
	assert.Empty(t, records)
	records, _ = s.ListTransitions(ctx, other.ID)
	assert.Len(t, records, 1)

	assert.ErrorIs(t, s.DeleteIssue(ctx, issue.ID), store.ErrNotFound)
}

func TestUsersByEmailAreUnique(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.InsertUser(ctx, &models.User{Name: "Ann", Email: "ann@example.com"}))
	err := s.InsertUser(ctx, &models.User{Name: "Ann 2", Email: "ANN@example.com"})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	u, err := s.GetUserByEmail(ctx, "ann@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Ann", u.Name)

	_, err = s.GetUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
