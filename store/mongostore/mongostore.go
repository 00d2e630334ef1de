// Package mongostore implements store.Store on MongoDB.
//
// Status changes and their audit records are written in one multi-document
// transaction, so the deployment must be a replica set or sharded cluster.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"civicfix-be/models"
	"civicfix-be/store"
)

const (
	IssuesCollection      = "issues"
	TransitionsCollection = "issue_updates"
	UsersCollection       = "users"
)

// Server error code for a write conflict inside a transaction.
const writeConflictCode = 112

// Verify Store implements store.Store at compile time
var _ store.Store = (*Store)(nil)

type Store struct {
	client      *mongo.Client
	issues      *mongo.Collection
	transitions *mongo.Collection
	users       *mongo.Collection
}

func New(client *mongo.Client, db *mongo.Database) *Store {
	return &Store{
		client:      client,
		issues:      db.Collection(IssuesCollection),
		transitions: db.Collection(TransitionsCollection),
		users:       db.Collection(UsersCollection),
	}
}

// EnsureIndexes creates the indexes the queries rely on. It is idempotent.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if _, err := s.issues.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}},
		{Keys: bson.D{{Key: "category", Value: 1}, {Key: "status", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
	}); err != nil {
		return store.WrapErr("create issue indexes", err)
	}

	if _, err := s.transitions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "issueId", Value: 1}, {Key: "seq", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return store.WrapErr("create transition index", err)
	}

	if _, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return store.WrapErr("create user index", err)
	}
	return nil
}

func (s *Store) InsertIssue(ctx context.Context, issue *models.Issue) error {
	if issue.ID.IsZero() {
		issue.ID = primitive.NewObjectID()
	}
	if _, err := s.issues.InsertOne(ctx, issue); err != nil {
		return wrapMongoErr("insert issue", err)
	}
	return nil
}

func (s *Store) GetIssue(ctx context.Context, id primitive.ObjectID) (*models.Issue, error) {
	return findIssue(ctx, s.issues, id)
}

func findIssue(ctx context.Context, coll *mongo.Collection, id primitive.ObjectID) (*models.Issue, error) {
	var issue models.Issue
	if err := coll.FindOne(ctx, bson.M{"_id": id}).Decode(&issue); err != nil {
		return nil, wrapMongoErr("get issue "+id.Hex(), err)
	}
	return &issue, nil
}

func issueQuery(filter store.IssueFilter) bson.M {
	query := bson.M{}
	if filter.Category != nil {
		query["category"] = *filter.Category
	}
	if filter.Status != nil {
		query["status"] = *filter.Status
	}
	if filter.UserID != nil {
		query["userId"] = *filter.UserID
	}
	return query
}

func (s *Store) ListIssues(ctx context.Context, filter store.IssueFilter) ([]models.Issue, error) {
	findOptions := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})

	cursor, err := s.issues.Find(ctx, issueQuery(filter), findOptions)
	if err != nil {
		return nil, wrapMongoErr("list issues", err)
	}
	defer cursor.Close(ctx)

	issues := []models.Issue{}
	if err := cursor.All(ctx, &issues); err != nil {
		return nil, wrapMongoErr("decode issues", err)
	}
	return issues, nil
}

func (s *Store) UpdateIssueFields(ctx context.Context, id primitive.ObjectID, fields store.IssueFields, at time.Time) (*models.Issue, error) {
	set := bson.M{"updatedAt": at}
	if fields.Title != nil {
		set["title"] = *fields.Title
	}
	if fields.Description != nil {
		set["description"] = *fields.Description
	}
	if fields.Category != nil {
		set["category"] = *fields.Category
	}
	if fields.Address != nil {
		set["address"] = *fields.Address
	}
	if fields.Latitude != nil && fields.Longitude != nil {
		set["latitude"] = *fields.Latitude
		set["longitude"] = *fields.Longitude
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var issue models.Issue
	err := s.issues.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&issue)
	if err != nil {
		return nil, wrapMongoErr("update issue "+id.Hex(), err)
	}
	return &issue, nil
}

// DeleteIssue removes the issue and its transitions in one transaction.
func (s *Store) DeleteIssue(ctx context.Context, id primitive.ObjectID) error {
	return s.withTransaction(ctx, func(sc mongo.SessionContext) error {
		return s.deleteIssue(sc, id)
	})
}

func (s *Store) deleteIssue(ctx context.Context, id primitive.ObjectID) error {
	res, err := s.issues.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return wrapMongoErr("delete issue "+id.Hex(), err)
	}
	if res.DeletedCount == 0 {
		return store.WrapErr("delete issue "+id.Hex(), store.ErrNotFound)
	}
	if _, err := s.transitions.DeleteMany(ctx, bson.M{"issueId": id}); err != nil {
		return wrapMongoErr("delete transitions "+id.Hex(), err)
	}
	return nil
}

func (s *Store) ListTransitions(ctx context.Context, issueID primitive.ObjectID) ([]models.StatusTransition, error) {
	return findTransitions(ctx, s.transitions, issueID)
}

func findTransitions(ctx context.Context, coll *mongo.Collection, issueID primitive.ObjectID) ([]models.StatusTransition, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	cursor, err := coll.Find(ctx, bson.M{"issueId": issueID}, findOptions)
	if err != nil {
		return nil, wrapMongoErr("list transitions", err)
	}
	defer cursor.Close(ctx)

	records := []models.StatusTransition{}
	if err := cursor.All(ctx, &records); err != nil {
		return nil, wrapMongoErr("decode transitions", err)
	}
	return records, nil
}

func (s *Store) InsertUser(ctx context.Context, user *models.User) error {
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	if _, err := s.users.InsertOne(ctx, user); err != nil {
		return wrapMongoErr("insert user", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	var user models.User
	if err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&user); err != nil {
		return nil, wrapMongoErr("get user "+id.Hex(), err)
	}
	return &user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := s.users.FindOne(ctx, bson.M{"email": email}).Decode(&user); err != nil {
		return nil, wrapMongoErr("get user by email", err)
	}
	return &user, nil
}

func (s *Store) GetUsers(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.User, error) {
	out := make(map[primitive.ObjectID]models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cursor, err := s.users.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, wrapMongoErr("get users", err)
	}
	defer cursor.Close(ctx)

	var users []models.User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, wrapMongoErr("decode users", err)
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

// RunInTransaction runs fn inside a snapshot transaction with majority
// writes. The transaction is attempted once; transient failures are
// reported as store.ErrConflict for the caller to retry.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.withTransaction(ctx, func(sc mongo.SessionContext) error {
		return fn(&mongoTx{store: s, ctx: sc})
	})
}

func (s *Store) withTransaction(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return store.WrapErr("start session", err)
	}
	defer sess.EndSession(context.Background())

	txnOptions := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())

	return mongo.WithSession(ctx, sess, func(sc mongo.SessionContext) error {
		if err := sess.StartTransaction(txnOptions); err != nil {
			return store.WrapErr("start transaction", err)
		}
		if err := fn(sc); err != nil {
			_ = sess.AbortTransaction(context.Background())
			return classifyTxErr(err)
		}
		if err := sess.CommitTransaction(sc); err != nil {
			_ = sess.AbortTransaction(context.Background())
			return commitFailed(err)
		}
		return nil
	})
}

// mongoTx runs every operation on the session context of its transaction,
// whatever context the caller passes.
type mongoTx struct {
	store *Store
	ctx   context.Context
}

func (t *mongoTx) GetIssue(ctx context.Context, id primitive.ObjectID) (*models.Issue, error) {
	return findIssue(t.ctx, t.store.issues, id)
}

func (t *mongoTx) ListTransitions(ctx context.Context, issueID primitive.ObjectID) ([]models.StatusTransition, error) {
	return findTransitions(t.ctx, t.store.transitions, issueID)
}

func (t *mongoTx) SetStatus(ctx context.Context, change store.StatusChange) error {
	filter := bson.M{
		"_id":     change.IssueID,
		"status":  change.From,
		"version": change.Version,
	}
	update := bson.M{
		"$set": bson.M{
			"status":          change.To,
			"statusChangedAt": change.At,
			"updatedAt":       change.At,
		},
		"$inc": bson.M{"version": 1},
	}
	res, err := t.store.issues.UpdateOne(t.ctx, filter, update)
	if err != nil {
		return wrapMongoErr("set status "+change.IssueID.Hex(), err)
	}
	if res.MatchedCount == 0 {
		return store.WrapErr("set status "+change.IssueID.Hex(), store.ErrConflict)
	}
	return nil
}

func (t *mongoTx) AppendTransition(ctx context.Context, record *models.StatusTransition) error {
	if record.ID.IsZero() {
		record.ID = primitive.NewObjectID()
	}
	if _, err := t.store.transitions.InsertOne(t.ctx, record); err != nil {
		// A taken seq means another commit already extended this chain.
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("append transition: %v: %w", err, store.ErrConflict)
		}
		return wrapMongoErr("append transition", err)
	}
	return nil
}

// wrapMongoErr maps driver errors onto store sentinels.
func wrapMongoErr(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return store.WrapErr(op, store.ErrNotFound)
	case mongo.IsDuplicateKeyError(err):
		return store.WrapErr(op, store.ErrDuplicate)
	case isTransient(err):
		return fmt.Errorf("%s: %v: %w", op, err, store.ErrConflict)
	}
	return store.WrapErr(op, err)
}

// commitFailed reports a commit that did not complete. The transaction was
// aborted, so nothing it wrote is visible.
func commitFailed(err error) error {
	return fmt.Errorf("commit: %v: %w", err, store.ErrConflict)
}

// classifyTxErr turns transient transaction failures into ErrConflict and
// leaves domain errors untouched.
func classifyTxErr(err error) error {
	if errors.Is(err, store.ErrConflict) || !isTransient(err) {
		return err
	}
	return fmt.Errorf("%v: %w", err, store.ErrConflict)
}

func isTransient(err error) bool {
	var se mongo.ServerError
	if !errors.As(err, &se) {
		return false
	}
	return se.HasErrorLabel("TransientTransactionError") ||
		se.HasErrorLabel("UnknownTransactionCommitResult") ||
		se.HasErrorCode(writeConflictCode)
}
