package services

import (
	"context"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"civicfix-be/blob"
	"civicfix-be/models"
	"civicfix-be/store"
)

// IssueSummary is an issue with its reporter, as listed.
type IssueSummary struct {
	models.Issue
	PhotoURL string              `json:"photoUrl,omitempty"`
	User     *models.UserSummary `json:"user,omitempty"`
}

// IssueDetail is an issue with its reporter and its full history. Updates is
// never nil.
type IssueDetail struct {
	IssueSummary
	Updates []TransitionDetail `json:"updates"`
}

// TransitionDetail is an audit record with the acting user's identity.
type TransitionDetail struct {
	models.StatusTransition
	User *models.UserSummary `json:"user,omitempty"`
}

// Views assembles read models. Related users are fetched explicitly in one
// batch per call.
type Views struct {
	store store.Store
	blobs blob.Store
}

func NewViews(st store.Store, blobs blob.Store) *Views {
	return &Views{store: st, blobs: blobs}
}

// Detail loads an issue, its reporter and its full ordered history.
func (v *Views) Detail(ctx context.Context, id primitive.ObjectID) (*IssueDetail, error) {
	issue, err := v.store.GetIssue(ctx, id)
	if err != nil {
		return nil, fromStore(err, "Issue not found")
	}
	records, err := v.store.ListTransitions(ctx, id)
	if err != nil {
		return nil, fromStore(err, "Issue not found")
	}
	return v.assemble(ctx, issue, records)
}

// assemble attaches users to an issue and records already in hand.
func (v *Views) assemble(ctx context.Context, issue *models.Issue, records []models.StatusTransition) (*IssueDetail, error) {
	ids := []primitive.ObjectID{issue.UserID}
	for _, r := range records {
		ids = append(ids, r.UpdatedBy)
	}
	users, err := v.store.GetUsers(ctx, ids)
	if err != nil {
		return nil, fromStore(err, "User not found")
	}
	return v.detail(issue, records, users), nil
}

func (v *Views) detail(issue *models.Issue, records []models.StatusTransition, users map[primitive.ObjectID]models.User) *IssueDetail {
	return &IssueDetail{
		IssueSummary: v.summary(issue, users),
		Updates:      transitionDetails(records, users),
	}
}

// History loads an issue's audit records in ascending order.
func (v *Views) History(ctx context.Context, id primitive.ObjectID) ([]TransitionDetail, error) {
	if _, err := v.store.GetIssue(ctx, id); err != nil {
		return nil, fromStore(err, "Issue not found")
	}
	records, err := v.store.ListTransitions(ctx, id)
	if err != nil {
		return nil, fromStore(err, "Issue not found")
	}
	ids := make([]primitive.ObjectID, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.UpdatedBy)
	}
	users, err := v.store.GetUsers(ctx, ids)
	if err != nil {
		return nil, fromStore(err, "User not found")
	}
	return transitionDetails(records, users), nil
}

// Summaries attaches reporters to issues, keeping their order.
func (v *Views) Summaries(ctx context.Context, issues []models.Issue) ([]IssueSummary, error) {
	ids := make([]primitive.ObjectID, 0, len(issues))
	for _, issue := range issues {
		ids = append(ids, issue.UserID)
	}
	users, err := v.store.GetUsers(ctx, ids)
	if err != nil {
		return nil, fromStore(err, "User not found")
	}
	out := make([]IssueSummary, 0, len(issues))
	for i := range issues {
		out = append(out, v.summary(&issues[i], users))
	}
	return out, nil
}

func (v *Views) summary(issue *models.Issue, users map[primitive.ObjectID]models.User) IssueSummary {
	s := IssueSummary{Issue: *issue}
	if issue.HasPhoto() {
		s.PhotoURL = v.blobs.URL(*issue.PhotoKey)
	}
	if u, ok := users[issue.UserID]; ok {
		s.User = u.Summary()
	}
	return s
}

func transitionDetails(records []models.StatusTransition, users map[primitive.ObjectID]models.User) []TransitionDetail {
	out := make([]TransitionDetail, 0, len(records))
	for _, r := range records {
		d := TransitionDetail{StatusTransition: r}
		if u, ok := users[r.UpdatedBy]; ok {
			d.User = u.Summary()
		}
		out = append(out, d)
	}
	return out
}
