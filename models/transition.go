package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// StatusTransition is an immutable audit record of one status change.
//
// Seq is the issue version produced by the change. Records of one issue are
// ordered by Seq, which agrees with CreatedAt.
type StatusTransition struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	IssueID   primitive.ObjectID `bson:"issueId" json:"issueId"`
	Seq       int64              `bson:"seq" json:"seq"`
	OldStatus IssueStatus        `bson:"oldStatus" json:"oldStatus"`
	NewStatus IssueStatus        `bson:"newStatus" json:"newStatus"`
	UpdatedBy primitive.ObjectID `bson:"updatedBy" json:"updatedBy"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
}
