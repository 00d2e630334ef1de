package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"civicfix-be/authz"
	"civicfix-be/blob"
	"civicfix-be/lock"
	"civicfix-be/models"
	"civicfix-be/store"
)

// MaxPhotoSize is the largest accepted photo upload.
const MaxPhotoSize = 2048 << 10

var photoTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// IssueDraft is the client input for a new issue.
type IssueDraft struct {
	Title       string               `json:"title" form:"title" validate:"required,max=255"`
	Description string               `json:"description" form:"description" validate:"required"`
	Category    models.IssueCategory `json:"category" form:"category" validate:"required,oneof=road garbage flood light"`
	Latitude    *float64             `json:"latitude" form:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude   *float64             `json:"longitude" form:"longitude" validate:"required,gte=-180,lte=180"`
	Address     string               `json:"address" form:"address" validate:"required,max=500"`
}

// Photo is an uploaded image attached to a new issue. ContentType is what the
// client declared; the stored type comes from the content itself.
type Photo struct {
	Reader      io.Reader
	Size        int64
	ContentType string
}

// sniffLen is how much of a photo is read to detect its type.
const sniffLen = 3072

// prepare checks the photo's size and detected type. On success ContentType
// holds the detected type and Reader still yields the whole content.
func (p *Photo) prepare() error {
	if p.Size > MaxPhotoSize {
		return newError(ErrValidation, "photo must be at most 2048 KB", nil)
	}
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(p.Reader, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return newError(ErrValidation, "photo could not be read", err)
	}
	head = head[:n]

	detected := mimetype.Detect(head).String()
	if !photoTypes[detected] {
		return newError(ErrValidation, "photo must be a jpeg, png, gif or webp image", nil)
	}
	p.ContentType = detected
	p.Reader = io.MultiReader(bytes.NewReader(head), p.Reader)
	return nil
}

// IssuePatch holds the fields a reporter may edit. Status is not among
// them; it only changes through the TransitionEngine.
type IssuePatch struct {
	Title       *string               `json:"title"`
	Description *string               `json:"description"`
	Category    *models.IssueCategory `json:"category"`
	Address     *string               `json:"address"`
	Latitude    *float64              `json:"latitude"`
	Longitude   *float64              `json:"longitude"`
}

func (p *IssuePatch) fields() (store.IssueFields, error) {
	var f store.IssueFields
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" || len(title) > 255 {
			return f, newError(ErrValidation, "title must be 1 to 255 characters", nil)
		}
		f.Title = &title
	}
	if p.Description != nil {
		if strings.TrimSpace(*p.Description) == "" {
			return f, newError(ErrValidation, "description is required", nil)
		}
		f.Description = p.Description
	}
	if p.Category != nil {
		if !p.Category.Valid() {
			return f, newError(ErrValidation, "category must be one of: road, garbage, flood, light", nil)
		}
		f.Category = p.Category
	}
	if p.Address != nil {
		address := strings.TrimSpace(*p.Address)
		if address == "" || len(address) > 500 {
			return f, newError(ErrValidation, "address must be 1 to 500 characters", nil)
		}
		f.Address = &address
	}
	if (p.Latitude == nil) != (p.Longitude == nil) {
		return f, newError(ErrValidation, "latitude and longitude must be given together", nil)
	}
	if p.Latitude != nil {
		if *p.Latitude < -90 || *p.Latitude > 90 || *p.Longitude < -180 || *p.Longitude > 180 {
			return f, newError(ErrValidation, "coordinates are out of range", nil)
		}
		lat, lng := models.RoundCoordinate(*p.Latitude), models.RoundCoordinate(*p.Longitude)
		f.Latitude, f.Longitude = &lat, &lng
	}
	return f, nil
}

// IssueService is the issue registry: every issue write except status.
type IssueService struct {
	store store.Store
	blobs blob.Store
	locks lock.Locker
	views *Views
	gate  authz.Gate
	now   func() time.Time
}

func NewIssueService(st store.Store, blobs blob.Store, locks lock.Locker, views *Views) *IssueService {
	return &IssueService{store: st, blobs: blobs, locks: locks, views: views, now: time.Now}
}

// Create stores a new issue owned by owner. Its status is always pending.
func (s *IssueService) Create(ctx context.Context, draft IssueDraft, photo *Photo, owner *models.Actor) (*IssueDetail, error) {
	if !s.gate.Can(owner, authz.Create, nil) {
		return nil, newError(ErrForbidden, "You must be signed in to report an issue", nil)
	}
	draft.Title = strings.TrimSpace(draft.Title)
	draft.Description = strings.TrimSpace(draft.Description)
	draft.Address = strings.TrimSpace(draft.Address)
	if err := validateStruct(draft); err != nil {
		return nil, err
	}
	if photo != nil {
		if err := photo.prepare(); err != nil {
			return nil, err
		}
	}

	now := timestamp(s.now())
	issue := &models.Issue{
		ID:          primitive.NewObjectID(),
		Title:       draft.Title,
		Description: draft.Description,
		Category:    draft.Category,
		Status:      models.Pending,
		Latitude:    models.RoundCoordinate(*draft.Latitude),
		Longitude:   models.RoundCoordinate(*draft.Longitude),
		Address:     draft.Address,
		UserID:      owner.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if photo != nil {
		key, err := s.blobs.Put(ctx, photo.Reader, photo.ContentType)
		if err != nil {
			return nil, err
		}
		issue.PhotoKey = &key
	}

	if err := s.store.InsertIssue(ctx, issue); err != nil {
		if issue.HasPhoto() {
			if derr := s.blobs.Delete(context.Background(), *issue.PhotoKey); derr != nil {
				log.Printf("Error removing orphaned photo %s: %v", *issue.PhotoKey, derr)
			}
		}
		return nil, err
	}
	return s.views.Detail(ctx, issue.ID)
}

// Get returns an issue with its reporter and full history.
func (s *IssueService) Get(ctx context.Context, id primitive.ObjectID, actor *models.Actor) (*IssueDetail, error) {
	if !s.gate.Can(actor, authz.Read, nil) {
		return nil, newError(ErrForbidden, "You cannot view this issue", nil)
	}
	return s.views.Detail(ctx, id)
}

// UpdateFields edits the non-status fields of an issue. Only its reporter
// may do so.
func (s *IssueService) UpdateFields(ctx context.Context, id primitive.ObjectID, patch IssuePatch, requester *models.Actor) (*IssueDetail, error) {
	issue, err := s.store.GetIssue(ctx, id)
	if err != nil {
		return nil, fromStore(err, "Issue not found")
	}
	if !s.gate.Can(requester, authz.UpdateFields, issue) {
		return nil, newError(ErrForbidden, "You are not authorized to update this issue", nil)
	}
	fields, err := patch.fields()
	if err != nil {
		return nil, err
	}
	if _, err := s.store.UpdateIssueFields(ctx, id, fields, timestamp(s.now())); err != nil {
		return nil, fromStore(err, "Issue not found")
	}
	return s.views.Detail(ctx, id)
}

// Delete removes an issue, its history and its photo. The photo goes first
// so a failed removal leaves the issue intact for a retry. The issue is read
// under its lock, so concurrent deletes remove the photo once.
func (s *IssueService) Delete(ctx context.Context, id primitive.ObjectID, requester *models.Actor) error {
	ctx, span := tracer.Start(ctx, "IssueService.Delete", trace.WithAttributes(attribute.String("issue.id", id.Hex())))
	defer span.End()

	release, err := lockIssue(ctx, s.locks, id)
	if err != nil {
		return record(span, err)
	}
	defer release()

	issue, err := s.store.GetIssue(ctx, id)
	if err != nil {
		return record(span, fromStore(err, "Issue not found"))
	}
	if !s.gate.Can(requester, authz.Delete, issue) {
		return record(span, newError(ErrForbidden, "You are not authorized to delete this issue", nil))
	}
	if issue.HasPhoto() {
		if err := s.blobs.Delete(ctx, *issue.PhotoKey); err != nil {
			return record(span, err)
		}
	}
	if err := s.store.DeleteIssue(ctx, id); err != nil {
		return record(span, fromStore(err, "Issue not found"))
	}
	return nil
}

// timestamp normalizes t to the precision the stores keep.
func timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
